package events

import (
	"testing"
	"time"

	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(ExecutionChannel("exec-1"))
	defer sub.Close()

	bus.Publish(ExecutionChannel("exec-1"), NewProgress("exec-1", "agent-1", "user-1", 50))

	select {
	case evt := <-sub.Events:
		assert.Equal(t, models.EventProgress, evt.Type)
		require.NotNil(t, evt.Progress)
		assert.Equal(t, 50, evt.Progress.Percent)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishDropsWhenSubscriberBufferFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(ExecutionChannel("exec-2"))
	defer sub.Close()

	for i := 0; i < subscriberBufferSize+10; i++ {
		bus.Publish(ExecutionChannel("exec-2"), NewProgress("exec-2", "agent-1", "user-1", i))
	}

	assert.Len(t, sub.Events, subscriberBufferSize, "buffer should be full, not blocked or unbounded")
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(ExecutionChannel("exec-3"))
	sub.Close()

	bus.Publish(ExecutionChannel("exec-3"), NewProgress("exec-3", "agent-1", "user-1", 1))

	_, ok := <-sub.Events
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBus_ChannelsAreIsolated(t *testing.T) {
	bus := NewBus()
	subA := bus.Subscribe(ExecutionChannel("exec-a"))
	subB := bus.Subscribe(ExecutionChannel("exec-b"))
	defer subA.Close()
	defer subB.Close()

	bus.Publish(ExecutionChannel("exec-a"), NewProgress("exec-a", "agent-1", "user-1", 1))

	select {
	case <-subA.Events:
	case <-time.After(time.Second):
		t.Fatal("expected event on exec-a subscriber")
	}
	assert.Empty(t, subB.Events)
}
