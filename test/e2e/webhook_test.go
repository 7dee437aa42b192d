package e2e

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/webhook"
)

// Webhook retry: the endpoint fails the first three attempts and accepts
// the fourth. The delivery ends delivered on attempt 4 with the spec's
// exponential gaps, and the accepted request carries a verifiable
// signature.
func TestE2E_WebhookRetry(t *testing.T) {
	if testing.Short() {
		t.Skip("retry schedule waits through real 2s/4s/8s backoff")
	}

	var mu sync.Mutex
	var attemptTimes []time.Time
	var okSig, okTS string
	var okBody []byte
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		attemptTimes = append(attemptTimes, time.Now())
		if len(attemptTimes) < 4 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		okSig = r.Header.Get("X-Webhook-Signature")
		okTS = r.Header.Get("X-Webhook-Timestamp")
		okBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	app := NewTestApp(t, WithPlugins(map[string]framework.Plugin{"fail": FailingPlugin{}}))
	user, bearer := app.CreateUserAndKey()
	agent := app.CreateAgent(user, "fail")

	secret := "s4-shared-secret-0123456789"
	status, whBody := app.DoJSON(http.MethodPost, "/api/webhooks", bearer, map[string]any{
		"url":    localhostURL(t, target.URL),
		"events": []string{string(models.EventFailed)},
		"secret": secret,
	})
	require.Equal(t, http.StatusCreated, status)
	webhookID, _ := whBody["id"].(string)
	require.NotEmpty(t, webhookID)

	status, body := app.SubmitExecution(bearer, agent.ID, "doomed")
	require.Equal(t, http.StatusCreated, status)
	exec := app.WaitForTerminal(executionIDFrom(t, body), 5*time.Second)
	require.Equal(t, models.StateFailed, exec.State)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attemptTimes) == 4
	}, 30*time.Second, 100*time.Millisecond)

	mu.Lock()
	gaps := []time.Duration{
		attemptTimes[1].Sub(attemptTimes[0]),
		attemptTimes[2].Sub(attemptTimes[1]),
		attemptTimes[3].Sub(attemptTimes[2]),
	}
	mu.Unlock()
	for i, want := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		require.InDelta(t, want.Seconds(), gaps[i].Seconds(), 1.2, "gap %d out of schedule", i+1)
	}

	deliveries, err := app.Store.ListDeliveriesByWebhook(context.Background(), webhookID, 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, models.DeliveryDelivered, deliveries[0].State)
	require.Equal(t, 4, deliveries[0].AttemptCount)
	require.NotNil(t, deliveries[0].DeliveredAt)

	ts, err := strconv.ParseInt(okTS, 10, 64)
	require.NoError(t, err)
	require.True(t, webhook.Verify(secret, ts, okBody, okSig))
}

// Webhook auto-disable: once the trailing-window failed-delivery count
// reaches the threshold, the webhook is deactivated and later events for
// it are no longer enqueued.
func TestE2E_WebhookAutoDisable(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer target.Close()

	app := NewTestApp(t, WithPlugins(map[string]framework.Plugin{"fail": FailingPlugin{}}))
	user, bearer := app.CreateUserAndKey()
	agent := app.CreateAgent(user, "fail")

	status, whBody := app.DoJSON(http.MethodPost, "/api/webhooks", bearer, map[string]any{
		"url":    localhostURL(t, target.URL),
		"events": []string{string(models.EventFailed)},
		"secret": "s5-shared-secret-0123456789",
	})
	require.Equal(t, http.StatusCreated, status)
	webhookID, _ := whBody["id"].(string)

	// Nine failures already in the trailing window, plus one delivery one
	// attempt away from its cap: the next failed POST is this webhook's
	// tenth strike.
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 9; i++ {
		failedAt := now.Add(-time.Duration(i) * time.Minute)
		// Created directly in state failed so a dispatcher worker can't
		// claim them out from under the seeding loop.
		d := &models.WebhookDelivery{
			ID: uuid.NewString(), WebhookID: webhookID, EventID: uuid.NewString(),
			EventType: models.EventFailed, Payload: []byte(`{}`),
			State: models.DeliveryFailed, AttemptCount: models.MaxDeliveryAttempts,
			ScheduledAt: failedAt, CreatedAt: failedAt,
		}
		require.NoError(t, app.Store.CreateDelivery(ctx, d))
		code := http.StatusInternalServerError
		msg := "non-2xx response: 500"
		require.NoError(t, app.Store.MarkFailed(ctx, d.ID, &code, &msg))
	}
	tenth := &models.WebhookDelivery{
		ID: uuid.NewString(), WebhookID: webhookID, EventID: uuid.NewString(),
		EventType: models.EventFailed, Payload: []byte(`{}`),
		State: models.DeliveryPending, AttemptCount: models.MaxDeliveryAttempts - 1,
		ScheduledAt: now, CreatedAt: now,
	}
	require.NoError(t, app.Store.CreateDelivery(ctx, tenth))

	require.Eventually(t, func() bool {
		wh, err := app.Store.GetWebhook(ctx, webhookID)
		return err == nil && !wh.Active
	}, 5*time.Second, 50*time.Millisecond)

	countBefore := deliveryCount(t, app, webhookID)

	// New qualifying events no longer fan out to the disabled webhook.
	status, body := app.SubmitExecution(bearer, agent.ID, "after disable")
	require.Equal(t, http.StatusCreated, status)
	exec := app.WaitForTerminal(executionIDFrom(t, body), 5*time.Second)
	require.Equal(t, models.StateFailed, exec.State)

	time.Sleep(500 * time.Millisecond)
	require.Equal(t, countBefore, deliveryCount(t, app, webhookID))
}

func deliveryCount(t *testing.T, app *TestApp, webhookID string) int {
	t.Helper()
	deliveries, err := app.Store.ListDeliveriesByWebhook(context.Background(), webhookID, 1000)
	require.NoError(t, err)
	return len(deliveries)
}
