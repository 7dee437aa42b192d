package config

import "time"

const (
	DefaultPort                    = "8080"
	DefaultRateLimitWindow          = 15 * time.Minute
	DefaultRateLimitMaxRequests     = 100
	DefaultAuthRateLimitWindow      = 15 * time.Minute
	DefaultAuthRateLimitMax         = 5
	DefaultMaxExecutionTime         = 60 * time.Second
	DefaultMaxConcurrentExecutions  = 50
	DefaultMaxConcurrentPerUser     = 10
	DefaultShutdownGrace            = 30 * time.Second
	DefaultExecutionRetentionDays   = 30
	DefaultLogRetentionDays         = 7
)
