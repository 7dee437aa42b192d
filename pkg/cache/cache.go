// Package cache wraps a Redis client for the two concerns that need a
// shared, cross-instance store: rate-limit counters (pkg/ratelimit) and
// pub/sub fan-in for the event bus (pkg/events).
//
// Grounded on streamspace-dev-streamspace's api/internal/cache/cache.go:
// pooled client construction, JSON get/set, atomic counters, graceful
// degradation when the dependency is unavailable. Adapted from that
// cache's optional-disable flag (spec has no Non-goal excluding caching,
// so Redis here is required, not optional) to connection via a single
// REDIS_URL per spec's ambient configuration style, and extended with
// the fixed-window INCR+EXPIRE pair pkg/ratelimit needs.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config controls pool sizing and timeouts, mirroring the teacher's pool
// knobs (PoolSize, MinIdleConns, dial/read/write timeouts, retry backoff).
type Config struct {
	URL             string
	PoolSize        int
	MinIdleConns    int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultConfig returns production-sane pool settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		PoolSize:        25,
		MinIdleConns:    5,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}
}

// Cache is a thin, JSON-oriented wrapper around *redis.Client.
type Cache struct {
	client *redis.Client
}

// New parses cfg.URL and dials Redis, pinging once to fail fast at boot.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.MaxRetries = cfg.MaxRetries
	opts.MinRetryBackoff = cfg.MinRetryBackoff
	opts.MaxRetryBackoff = cfg.MaxRetryBackoff

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying *redis.Client for pkg/events' pub/sub,
// which needs Subscribe/Publish directly rather than through this
// package's JSON-oriented helpers.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// IncrWithExpire atomically increments key and, only on the increment
// that creates it (value becomes 1), sets its TTL — the standard
// fixed-window counter idiom pkg/ratelimit builds on.
func (c *Cache) IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Get retrieves a JSON value into target. Returns redis.Nil if absent.
func (c *Cache) Get(ctx context.Context, key string, target any) error {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), target)
}

// Set stores value as JSON with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Ping checks connectivity, used by the /health endpoint's dependency breakdown.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
