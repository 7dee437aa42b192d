// Package database provides the PostgreSQL connection pool, embedded
// migrations, and health checks backing pkg/store.
package database

import (
	"fmt"
	"time"
)

// Config holds connection-pool tuning on top of a DSN.
type Config struct {
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns production-reasonable pool settings for dsn.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}
}

// Validate checks the pool settings are internally consistent.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("MaxOpenConns must be at least 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("MaxIdleConns (%d) cannot exceed MaxOpenConns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("MaxIdleConns cannot be negative")
	}
	return nil
}
