package database

import (
	"context"
	"time"
)

// HealthStatus reports database connectivity and pool statistics.
type HealthStatus struct {
	Status          string        `json:"status"`
	ResponseTime    time.Duration `json:"responseTimeMs"`
	OpenConnections int           `json:"openConnections"`
	InUse           int           `json:"inUse"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"waitCount"`
	MaxOpenConns    int           `json:"maxOpenConns"`
}

// Health pings the database and reports pool stats.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	if err := c.PingContext(ctx); err != nil {
		return &HealthStatus{Status: "fail", ResponseTime: time.Since(start)}, err
	}

	stats := c.Stats()
	return &HealthStatus{
		Status:          "pass",
		ResponseTime:    time.Since(start),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		MaxOpenConns:    stats.MaxOpenConnections,
	}, nil
}
