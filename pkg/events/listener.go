package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentorchestra/orchestra/pkg/cache"
)

// Listener receives events other instances broadcast over the Redis
// channel and re-fans them out to this process's local Bus, so a
// subscriber here (a WebSocket room, an SSE stream, the webhook
// dispatcher) sees events for executions running anywhere.
//
// Events whose Origin matches this instance's own publisher are dropped:
// the local Bus already delivered them directly, and replaying the echo
// would double every event for local subscribers.
//
// Grounded on the teacher's pkg/events listener shape — a dedicated
// receive loop feeding the process-local fan-out — with the transport
// swapped from a hand-managed Postgres LISTEN connection to go-redis
// pub/sub, whose client already owns reconnection and re-subscription,
// so the teacher's manual backoff/re-LISTEN machinery has nothing left
// to do here.
type Listener struct {
	cache     *cache.Cache
	bus       *Bus
	ownOrigin string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewListener builds a Listener over the process-shared cache client.
// ownOrigin is the paired Publisher's InstanceID.
func NewListener(c *cache.Cache, bus *Bus, ownOrigin string) *Listener {
	return &Listener{cache: c, bus: bus, ownOrigin: ownOrigin}
}

// Start subscribes to the broadcast channel and begins the receive loop.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fmt.Errorf("events: listener already started")
	}
	l.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	pubsub := l.cache.Subscribe(loopCtx, AllEventsChannel)
	go func() {
		defer close(l.done)
		defer func() { _ = pubsub.Close() }()

		messages := pubsub.Channel()
		for {
			select {
			case <-loopCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Warn("events: dropping malformed broadcast payload", "error", err)
					continue
				}
				if event.Origin == l.ownOrigin {
					continue
				}
				fanOut(l.bus, event)
			}
		}
	}()

	slog.Info("events: listener started", "channel", AllEventsChannel)
	return nil
}

// Stop halts the receive loop and closes the subscription.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return
	}
	l.cancel()
	<-l.done
	l.started = false
}
