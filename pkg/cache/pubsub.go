package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Publish fans a pre-serialized event out over Redis pub/sub — the
// cross-process delivery path pkg/events.Publisher broadcasts on.
func (c *Cache) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.client.Publish(ctx, channel, payload).Err()
}

// Subscribe returns a live Redis pub/sub subscription on channel. Callers
// must call Close on the returned *redis.PubSub when done.
func (c *Cache) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.client.Subscribe(ctx, channel)
}
