package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorchestra/orchestra/pkg/cache"
	"github.com/agentorchestra/orchestra/pkg/models"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.New(context.Background(), cache.DefaultConfig("redis://"+mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPublisher_NilCacheStaysInProcess(t *testing.T) {
	bus := NewBus()
	p := NewPublisher(nil, bus)

	sub := bus.Subscribe(ExecutionChannel("exec-1"))
	defer sub.Close()

	require.NoError(t, p.Publish(context.Background(), NewProgress("exec-1", "agent-1", "user-1", 10)))

	select {
	case evt := <-sub.Events:
		assert.Equal(t, models.EventProgress, evt.Type)
		assert.Equal(t, p.InstanceID(), evt.Origin)
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local delivery")
	}
}

func TestPublisherListener_CrossInstanceRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Instance A publishes; instance B (its own bus, different origin)
	// should see the event appear on its local per-execution channel.
	busA := NewBus()
	publisherA := NewPublisher(c, busA)

	busB := NewBus()
	listenerB := NewListener(c, busB, "instance-b")
	require.NoError(t, listenerB.Start(ctx))
	defer listenerB.Stop()

	subB := busB.Subscribe(ExecutionChannel("exec-7"))
	defer subB.Close()

	// The pub/sub subscription attaches asynchronously; retry until the
	// first publish lands rather than sleeping a guessed amount.
	require.Eventually(t, func() bool {
		require.NoError(t, publisherA.Publish(ctx, NewProgress("exec-7", "agent-1", "user-1", 42)))
		select {
		case evt := <-subB.Events:
			assert.Equal(t, models.EventProgress, evt.Type)
			assert.Equal(t, publisherA.InstanceID(), evt.Origin)
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestListener_DropsOwnEcho(t *testing.T) {
	c := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus()
	publisher := NewPublisher(c, bus)
	listener := NewListener(c, bus, publisher.InstanceID())
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop()

	sub := bus.Subscribe(ExecutionChannel("exec-9"))
	defer sub.Close()

	// Let the subscription attach before publishing, so an echo would
	// definitely be received if it weren't filtered.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, publisher.Publish(ctx, NewProgress("exec-9", "agent-1", "user-1", 5)))

	// Exactly one delivery: the direct local fan-out. The broadcast echo
	// must be dropped by the origin filter.
	select {
	case <-sub.Events:
	case <-time.After(time.Second):
		t.Fatal("local delivery never arrived")
	}
	select {
	case evt := <-sub.Events:
		t.Fatalf("own broadcast echo was re-delivered: %+v", evt)
	case <-time.After(500 * time.Millisecond):
	}
}
