package webhook

import "time"

// Config tunes the delivery dispatcher's worker pool and retry policy.
type Config struct {
	Workers           int
	PollInterval      time.Duration
	RequestTimeout    time.Duration
	AutoDisableWindow time.Duration
	AutoDisableCount  int
	AllowLocalhost    bool // non-production environments only, §4.5
}

// DefaultConfig mirrors the delivery procedure's fixed constants (§4.5).
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		PollInterval:      500 * time.Millisecond,
		RequestTimeout:    30 * time.Second,
		AutoDisableWindow: 24 * time.Hour,
		AutoDisableCount:  10,
		AllowLocalhost:    false,
	}
}
