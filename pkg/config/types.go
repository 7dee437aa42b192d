package config

import "time"

// Config is the complete environment-derived configuration for the service.
type Config struct {
	Port           string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	APISecretKey   string
	EncryptionKey  string
	AllowedOrigins []string

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	AuthRateLimitWindow  time.Duration
	AuthRateLimitMax     int

	MaxExecutionTime        time.Duration
	MaxConcurrentExecutions int
	MaxConcurrentPerUser    int

	ShutdownGrace time.Duration

	ExecutionRetentionDays int
	LogRetentionDays       int

	// WebhookAllowLocalhost permits registering webhook URLs that resolve
	// to loopback/private ranges — off in production, useful in local/dev
	// compose stacks where the target is another container on the same host.
	WebhookAllowLocalhost bool
}

// minSecretBytes is the minimum length required for JWT/API/encryption secrets (§6).
const minSecretBytes = 32
