package events

import (
	"log/slog"
	"sync"
)

// subscriberBufferSize bounds each subscriber's channel. Sized for a
// bursty log-heavy execution without holding arbitrary backlog in memory.
const subscriberBufferSize = 256

// Subscription is a live feed of Events for one channel. Callers must
// drain Events or call Close to release it; the bus never blocks waiting
// for a reader (spec §4.3).
type Subscription struct {
	Events  <-chan Event
	bus     *Bus
	channel string
	id      uint64
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.channel, s.id)
}

type subscriber struct {
	id uint64
	ch chan Event
}

// Bus is an in-process, per-channel fan-out of Events. A channel here is
// a routing key (ExecutionChannel, AgentChannel, UserChannel, or
// GlobalExecutionsChannel) — unrelated to the Go "channel" type, though
// each subscriber is in fact backed by one.
//
// Grounded on the teacher's ConnectionManager room-registry shape
// (pkg/events/manager.go), replacing its synchronous per-connection write
// with a non-blocking send to a bounded per-subscriber channel: a slow or
// stalled subscriber has events dropped for it, but never stalls the
// publisher or other subscribers (spec §4.3).
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]subscriber
	nextID      uint64
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]subscriber)}
}

// Subscribe registers a new feed on channel and returns it.
func (b *Bus) Subscribe(channel string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Event, subscriberBufferSize)
	b.subscribers[channel] = append(b.subscribers[channel], subscriber{id: id, ch: ch})

	return &Subscription{Events: ch, bus: b, channel: channel, id: id}
}

// Publish delivers event to every current subscriber of channel. A
// subscriber whose buffer is full has the event dropped for it and a
// warning logged; Publish itself never blocks.
func (b *Bus) Publish(channel string, event Event) {
	b.mu.Lock()
	subs := append([]subscriber(nil), b.subscribers[channel]...)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			slog.Warn("events: dropping event for slow subscriber", "channel", channel, "type", event.Type, "executionId", event.ExecutionID)
		}
	}
}

func (b *Bus) unsubscribe(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[channel]
	for i, s := range subs {
		if s.id == id {
			close(s.ch)
			b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[channel]) == 0 {
		delete(b.subscribers, channel)
	}
}
