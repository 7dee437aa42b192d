package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/store"
	testdb "github.com/agentorchestra/orchestra/test/database"
)

func setupDispatcher(t *testing.T, cfg Config) (*Dispatcher, *store.Store, *events.Bus) {
	t.Helper()
	client := testdb.NewTestClient(t)
	s := store.New(client.DB)
	bus := events.NewBus()
	d := New(s, bus, nil, cfg)
	return d, s, bus
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	cfg.AllowLocalhost = true // httptest targets are loopback
	return cfg
}

func createOwnerAndWebhook(t *testing.T, s *store.Store, url string, subscribed ...models.EventType) (*models.User, *models.Webhook) {
	t.Helper()
	user := &models.User{ID: uuid.NewString(), Role: models.RoleUser, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateUser(context.Background(), user))

	wh := &models.Webhook{
		ID:               uuid.NewString(),
		OwnerID:          user.ID,
		URL:              url,
		SubscribedEvents: models.EventTypeList(subscribed),
		Secret:           "test-secret",
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.CreateWebhook(context.Background(), wh))
	return user, wh
}

func TestDispatcher_DeliversOnSuccessWithSignedHeaders(t *testing.T) {
	var gotSignature, gotEvent, gotDelivery, gotTimestamp, gotUA string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotDelivery = r.Header.Get("X-Webhook-Delivery")
		gotTimestamp = r.Header.Get("X-Webhook-Timestamp")
		gotUA = r.Header.Get("User-Agent")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, s, bus := setupDispatcher(t, testConfig())
	_, wh := createOwnerAndWebhook(t, s, srv.URL, models.EventCompleted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	evt := events.NewCompleted("exec-1", "agent-1", wh.OwnerID, []byte(`{"x":1}`), 100, nil, nil)
	bus.Publish(events.AllEventsChannel, evt)

	require.Eventually(t, func() bool {
		return gotSignature != ""
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, string(models.EventCompleted), gotEvent)
	require.NotEmpty(t, gotDelivery)
	require.NotEmpty(t, gotTimestamp)
	require.Equal(t, userAgent, gotUA)

	var envelope deliveryEnvelope
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	require.Equal(t, models.EventCompleted, envelope.Type)
	require.Equal(t, payloadSource, envelope.Source)
	require.NotEmpty(t, envelope.ID)
	require.False(t, envelope.Timestamp.IsZero())
	require.JSONEq(t, mustMarshal(t, evt), mustMarshal(t, envelope.Data))

	expectedSig := Sign(wh.Secret, mustParseInt64(t, gotTimestamp), gotBody)
	require.Equal(t, expectedSig, gotSignature)
}

func TestDispatcher_NoDeliveryForUnsubscribedEventType(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, s, bus := setupDispatcher(t, testConfig())
	_, _ = createOwnerAndWebhook(t, s, srv.URL, models.EventFailed) // subscribed to a different type

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	bus.Publish(events.AllEventsChannel, events.NewCompleted("exec-1", "agent-1", "owner-x", []byte(`{}`), 1, nil, nil))

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), calls.Load())
}

func TestDispatcher_RetriesOnNon2xxResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, s, bus := setupDispatcher(t, testConfig())
	_, wh := createOwnerAndWebhook(t, s, srv.URL, models.EventCompleted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	evt := events.NewCompleted("exec-1", "agent-1", wh.OwnerID, []byte(`{}`), 1, nil, nil)
	bus.Publish(events.AllEventsChannel, evt)

	// One attempt runs immediately; the retry (rescheduled ~2s out per
	// backoff(1), exercised directly by TestBackoffSchedule) is not worth
	// waiting for here.
	require.Eventually(t, func() bool {
		return calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBackoffSchedule(t *testing.T) {
	require.Equal(t, 2*time.Second, backoff(1))
	require.Equal(t, 4*time.Second, backoff(2))
	require.Equal(t, 8*time.Second, backoff(3))
	require.Equal(t, 16*time.Second, backoff(4))
	require.Equal(t, 32*time.Second, backoff(5))
}

func TestDispatcher_AutoDisablesAfterThresholdFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.AutoDisableCount = 1
	cfg.AutoDisableWindow = time.Hour
	d, s, _ := setupDispatcher(t, cfg)

	_, wh := createOwnerAndWebhook(t, s, srv.URL, models.EventCompleted)

	// Seed a delivery already at its final attempt so the first failed POST
	// trips the failed branch immediately, without waiting through 5
	// real-time retries.
	delivery := &models.WebhookDelivery{
		ID: uuid.NewString(), WebhookID: wh.ID, EventID: uuid.NewString(), EventType: models.EventCompleted,
		Payload: []byte(`{}`), State: models.DeliveryPending, AttemptCount: models.MaxDeliveryAttempts - 1,
		ScheduledAt: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateDelivery(context.Background(), delivery))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	require.Eventually(t, func() bool {
		got, err := s.GetWebhook(context.Background(), wh.ID)
		return err == nil && !got.Active
	}, 2*time.Second, 10*time.Millisecond)
}

func mustMarshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func mustParseInt64(t *testing.T, s string) int64 {
	t.Helper()
	var n int64
	_, err := fmt.Sscan(s, &n)
	require.NoError(t, err)
	return n
}
