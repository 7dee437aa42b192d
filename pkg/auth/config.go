package auth

import "time"

// Config carries the server's own signing secret and the API key encoding
// convention — no external identity provider is involved (§4.6: the
// orchestrator issues and verifies its own session tokens).
type Config struct {
	JWTSecret    []byte
	SessionTTL   time.Duration
	APIKeyPrefix string
}

// DefaultConfig returns a Config with a one-day session lifetime and the
// "ao" API key prefix. JWTSecret must still be supplied by the caller.
func DefaultConfig(jwtSecret []byte) Config {
	return Config{
		JWTSecret:    jwtSecret,
		SessionTTL:   24 * time.Hour,
		APIKeyPrefix: "ao",
	}
}
