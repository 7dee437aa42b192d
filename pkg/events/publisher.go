package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentorchestra/orchestra/pkg/cache"
	"github.com/agentorchestra/orchestra/pkg/models"
)

// Publisher delivers events to this process's Bus immediately, then
// mirrors them over the shared Redis broadcast channel so every other
// orchestrator instance's Listener can re-fan them out locally (spec §4.3:
// remote subscribers receive via component B's pub/sub). In-process
// delivery never waits on the Redis round trip.
//
// A nil cache gives an in-process-only Publisher — the configuration unit
// tests and single-instance deployments run with, where there is no
// remote instance to reach.
type Publisher struct {
	cache      *cache.Cache
	bus        *Bus
	instanceID string
}

// NewPublisher builds a Publisher over the process-shared cache client
// and the local Bus it also feeds.
func NewPublisher(c *cache.Cache, bus *Bus) *Publisher {
	return &Publisher{cache: c, bus: bus, instanceID: uuid.NewString()}
}

// InstanceID identifies this publisher's process instance; the paired
// Listener uses it to drop this instance's own events when they echo back
// over the broadcast channel.
func (p *Publisher) InstanceID() string {
	return p.instanceID
}

// Publish stamps event with this instance's origin and timestamp, fans it
// out to the local bus, then broadcasts it to remote instances.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Origin = p.instanceID

	fanOut(p.bus, event)

	if p.cache == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.cache.Publish(ctx, AllEventsChannel, payload); err != nil {
		return fmt.Errorf("broadcast event: %w", err)
	}
	return nil
}

// fanOut delivers event to every local bus channel it belongs on —
// per-execution, per-agent, per-user, the global state feed, and the
// catch-all. Shared by Publisher (local events) and Listener (remote
// events) so both paths route identically.
func fanOut(bus *Bus, event Event) {
	bus.Publish(ExecutionChannel(event.ExecutionID), event)
	if event.AgentID != "" {
		bus.Publish(AgentChannel(event.AgentID), event)
	}
	if event.SubmitterID != "" {
		bus.Publish(UserChannel(event.SubmitterID), event)
	}
	if event.Type == models.EventState {
		bus.Publish(GlobalExecutionsChannel, event)
	}
	bus.Publish(AllEventsChannel, event)
}
