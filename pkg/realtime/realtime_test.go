package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorchestra/orchestra/pkg/events"
)

func setupTestManager(t *testing.T, authorize Authorizer) (*ConnectionManager, *events.Bus, *httptest.Server) {
	t.Helper()
	bus := events.NewBus()
	manager := NewConnectionManager(bus, nil, 5*time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		manager.HandleConnection(r.Context(), conn, authorize)
	}))
	t.Cleanup(server.Close)
	return manager, bus, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestConnectionManager_SubscribeReceivesLiveEvent(t *testing.T) {
	manager, bus, server := setupTestManager(t, func(string) bool { return true })
	conn := connectWS(t, server)

	hello := readJSON(t, conn)
	assert.Equal(t, "connection.established", hello["type"])

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "execution:exec-1"})
	confirmed := readJSON(t, conn)
	assert.Equal(t, "subscription.confirmed", confirmed["type"])

	assertEventually(t, func() bool { return manager.ActiveConnections() == 1 })

	bus.Publish("execution:exec-1", events.NewProgress("exec-1", "agent-1", "user-1", 77))

	msg := readJSON(t, conn)
	assert.Equal(t, "execution.progress", msg["type"])
}

func TestConnectionManager_SubscribeDeniedWhenUnauthorized(t *testing.T) {
	_, _, server := setupTestManager(t, func(string) bool { return false })
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "execution:exec-1"})
	msg := readJSON(t, conn)
	assert.Equal(t, "subscription.error", msg["type"])
}

func TestConnectionManager_UnsubscribeStopsDelivery(t *testing.T) {
	manager, bus, server := setupTestManager(t, func(string) bool { return true })
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "execution:exec-2"})
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "unsubscribe", Channel: "execution:exec-2"})
	time.Sleep(100 * time.Millisecond) // let the server-side read loop process the unsubscribe

	bus.Publish("execution:exec-2", events.NewProgress("exec-2", "agent-1", "user-1", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "no message should arrive after unsubscribe")

	_ = manager
}

func assertEventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
