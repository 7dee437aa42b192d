// Package realtime manages WebSocket clients for the streaming endpoints
// (spec §4.4, §6: GET /executions/{id}/stream and friends). Each process
// owns one ConnectionManager; events reach it through pkg/events.Bus,
// which is itself fed both by in-process publishes and by pkg/events.
// Listener's Redis broadcast fan-in — so a client connected to one
// orchestrator instance sees events published by any instance.
//
// Grounded on the teacher's pkg/events/manager.go ConnectionManager: the
// connection registry, the per-connection read loop dispatching a typed
// ClientMessage, the catchup-on-subscribe sequencing, and the
// write-timeout-guarded send. Generalized from session-only channels to
// three room kinds (spec §4.4): user:{id}, execution:{id}, agent:{id}.
// Simplified relative to the teacher: because pkg/events already owns the
// cross-process broadcast subscription and the local fan-out,
// ConnectionManager only needs to Subscribe/Close against the Bus per
// room, not manage the shared transport itself.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/agentorchestra/orchestra/pkg/events"
)

// ClientMessage is the client-to-server WebSocket protocol (grounded on
// the teacher's events.ClientMessage).
type ClientMessage struct {
	Action  string `json:"action"` // subscribe | unsubscribe | ping
	Channel string `json:"channel,omitempty"`
}

// Authorizer re-checks whether the connection's principal may subscribe to
// channel — called on every subscribe, not just at connect time (spec
// §4.4: a revoked capability must cut off an open stream).
type Authorizer func(channel string) bool

// CatchupProvider supplies the snapshot sent to a client immediately after
// it subscribes to a channel (spec §4.4: current state plus the last N
// logs), so a late subscriber isn't left waiting for the next event.
type CatchupProvider interface {
	Catchup(ctx context.Context, channel string) ([]events.Event, error)
}

// ConnectionManager tracks every live WebSocket connection and its room
// subscriptions for one process.
type ConnectionManager struct {
	bus          *events.Bus
	catchup      CatchupProvider
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*connection
}

// NewConnectionManager builds a ConnectionManager backed by bus.
func NewConnectionManager(bus *events.Bus, catchup CatchupProvider, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		bus:          bus,
		catchup:      catchup,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*connection),
	}
}

// connection is a single WebSocket client. subscriptions is only mutated
// from HandleConnection's read-loop goroutine; forwarder goroutines only
// read from their own captured events.Subscription, never touch the map.
type connection struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex // serializes concurrent sendJSON/sendRaw from forwarders

	subsMu sync.Mutex
	subs   map[string]*events.Subscription
}

// HandleConnection owns a WebSocket connection's lifecycle: it registers
// the connection, runs the client-message read loop, and tears down every
// subscription on exit. Blocks until the connection closes. authorize is
// consulted on every subscribe request.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, authorize Authorizer) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*events.Subscription),
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{"type": "connection.established", "connectionId": c.id})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("realtime: invalid client message", "connectionId", c.id, "error", err)
			continue
		}
		m.handle(ctx, c, &msg, authorize)
	}
}

func (m *ConnectionManager) handle(ctx context.Context, c *connection, msg *ClientMessage, authorize Authorizer) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required"})
			return
		}
		if authorize != nil && !authorize(msg.Channel) {
			m.sendJSON(c, map[string]string{"type": "subscription.error", "channel": msg.Channel, "message": "not authorized"})
			return
		}
		m.subscribe(ctx, c, msg.Channel)

	case "unsubscribe":
		if msg.Channel == "" {
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe attaches c to channel's Bus feed, starts a forwarder goroutine,
// sends subscription.confirmed, then delivers the catchup snapshot — in
// that order, so the client never misses an event published after it
// subscribed but before catchup finished (new events queue in the
// Subscription's buffered channel and are forwarded right after catchup).
func (m *ConnectionManager) subscribe(ctx context.Context, c *connection, channel string) {
	c.subsMu.Lock()
	if _, already := c.subs[channel]; already {
		c.subsMu.Unlock()
		return
	}
	sub := m.bus.Subscribe(channel)
	c.subs[channel] = sub
	c.subsMu.Unlock()

	go m.forward(c, channel, sub)

	m.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": channel})

	if m.catchup == nil {
		return
	}
	snapshot, err := m.catchup.Catchup(ctx, channel)
	if err != nil {
		slog.Warn("realtime: catchup failed", "channel", channel, "error", err)
		return
	}
	for _, evt := range snapshot {
		m.sendEvent(c, evt)
	}
}

func (m *ConnectionManager) unsubscribe(c *connection, channel string) {
	c.subsMu.Lock()
	sub, ok := c.subs[channel]
	delete(c.subs, channel)
	c.subsMu.Unlock()
	if ok {
		sub.Close()
	}
}

func (m *ConnectionManager) forward(c *connection, channel string, sub *events.Subscription) {
	for evt := range sub.Events {
		m.sendEvent(c, evt)
	}
	_ = channel
}

func (m *ConnectionManager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
}

func (m *ConnectionManager) unregister(c *connection) {
	c.subsMu.Lock()
	subs := c.subs
	c.subs = nil
	c.subsMu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}

	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// ActiveConnections reports how many clients this process currently holds
// open — exposed for the health endpoint's dependency breakdown.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) sendEvent(c *connection, evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("realtime: marshal event failed", "error", err)
		return
	}
	m.sendRaw(c, data)
}

func (m *ConnectionManager) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	m.sendRaw(c, data)
}

func (m *ConnectionManager) sendRaw(c *connection, data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("realtime: write failed", "connectionId", c.id, "error", err)
	}
}
