// Package webhook converts engine lifecycle events into signed HTTP
// deliveries, retrying failed attempts with exponential backoff and
// auto-disabling chronically-failing endpoints (spec §4.5).
//
// Grounded on
// _examples/other_examples/54727820_olegiv-ocms-go__internal-webhook-dispatcher.go.go's
// Dispatcher: a worker pool draining queued deliveries plus ticker-driven
// retry and cleanup workers, and its GenerateSignature HMAC helper.
// Diverges from it in one respect: deliveries already live durably in
// Postgres (webhook_deliveries, claimed with FOR UPDATE SKIP LOCKED via
// pkg/store.ClaimDueDelivery), so there is no separate in-memory queue or
// "queue full, retry later" fallback — every worker polls the same durable
// queue, mirroring pkg/engine's worker/store.ClaimNextExecution shape.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/store"
)

const (
	userAgent     = "AgentOrchestra/1.0"
	payloadSource = "agent-orchestra"
)

// deliveryEnvelope is the outbound POST body (§6): the event id shared by
// every delivery of one event, the event type, the full event as data, and
// a fixed source tag recipients can route on.
type deliveryEnvelope struct {
	ID        string          `json:"id"`
	Type      models.EventType `json:"type"`
	Data      events.Event    `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// Dispatcher owns the enqueue subscription and the delivery worker pool.
type Dispatcher struct {
	store    *store.Store
	bus      *events.Bus
	notifier Sink
	client   *http.Client
	config   Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// New builds a Dispatcher. notifier may be nil, in which case auto-disable
// notifications go through a LogSink.
func New(s *store.Store, bus *events.Bus, notifier Sink, cfg Config) *Dispatcher {
	if notifier == nil {
		notifier = NewLogSink(nil)
	}
	return &Dispatcher{
		store:    s,
		bus:      bus,
		notifier: notifier,
		config:   cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			// The dial guard rejects private/loopback targets at connect
			// time, after DNS — registration-time URL validation alone
			// can't stop a hostname repointing into a denied range.
			Transport: &http.Transport{
				DialContext:         guardedDialer(cfg.AllowLocalhost).DialContext,
				MaxIdleConns:        32,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to the event bus and spins up the delivery worker pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("webhook: dispatcher already started")
	}
	d.started = true
	d.mu.Unlock()

	sub := d.bus.Subscribe(events.AllEventsChannel)
	d.wg.Add(1)
	go d.runEnqueueLoop(ctx, sub)

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.runDeliveryWorker(ctx, i)
	}
	return nil
}

// Stop unsubscribes and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// runEnqueueLoop turns bus events into pending WebhookDelivery rows (§4.5
// trigger). One event can fan out to several webhooks; all deliveries for
// one event share an eventID so DeliveriesForEvent can group them.
func (d *Dispatcher) runEnqueueLoop(ctx context.Context, sub *events.Subscription) {
	defer d.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case evt, ok := <-sub.Events:
			if !ok {
				return
			}
			d.enqueue(ctx, evt)
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, evt events.Event) {
	if evt.SubmitterID == "" {
		return
	}
	webhooks, err := d.store.ActiveWebhooksForEvent(ctx, evt.SubmitterID, evt.Type)
	if err != nil {
		slog.Error("webhook: list active webhooks failed", "error", err, "type", evt.Type)
		return
	}
	if len(webhooks) == 0 {
		return
	}

	eventID := uuid.NewString()
	now := time.Now().UTC()
	payload, err := json.Marshal(deliveryEnvelope{
		ID: eventID, Type: evt.Type, Data: evt, Timestamp: now, Source: payloadSource,
	})
	if err != nil {
		slog.Error("webhook: marshal event payload failed", "error", err, "type", evt.Type)
		return
	}
	for _, wh := range webhooks {
		delivery := &models.WebhookDelivery{
			ID:           uuid.NewString(),
			WebhookID:    wh.ID,
			EventID:      eventID,
			EventType:    evt.Type,
			Payload:      payload,
			State:        models.DeliveryPending,
			AttemptCount: 0,
			ScheduledAt:  now,
			CreatedAt:    now,
		}
		if err := d.store.CreateDelivery(ctx, delivery); err != nil {
			slog.Error("webhook: create delivery failed", "error", err, "webhookId", wh.ID)
		}
	}
}

// runDeliveryWorker repeatedly claims and delivers one due delivery at a
// time, backing off with jitter when the queue is empty.
func (d *Dispatcher) runDeliveryWorker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		delivery, err := d.store.ClaimDueDelivery(ctx)
		if err != nil {
			if !d.sleep(ctx, d.pollInterval()) {
				return
			}
			continue
		}

		d.deliver(ctx, delivery)
	}
}

func (d *Dispatcher) pollInterval() time.Duration {
	jitter := time.Duration(rand.Int64N(int64(d.config.PollInterval) + 1))
	return d.config.PollInterval + jitter
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-d.stopCh:
		return false
	case <-time.After(dur):
		return true
	}
}

// deliver executes one attempt of the delivery procedure (§4.5 step 2/3):
// sign, POST, and branch into delivered, retry, or failed.
func (d *Dispatcher) deliver(ctx context.Context, delivery *models.WebhookDelivery) {
	wh, err := d.store.GetWebhook(ctx, delivery.WebhookID)
	if err != nil {
		errMsg := fmt.Sprintf("load webhook: %v", err)
		_ = d.store.MarkFailed(ctx, delivery.ID, nil, &errMsg)
		return
	}
	if !wh.Active {
		errMsg := "webhook disabled"
		_ = d.store.MarkFailed(ctx, delivery.ID, nil, &errMsg)
		return
	}

	timestamp := time.Now().Unix()
	signature := Sign(wh.Secret, timestamp, delivery.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		d.fail(ctx, delivery, wh, nil, fmt.Sprintf("build request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", string(delivery.EventType))
	req.Header.Set("X-Webhook-Delivery", delivery.ID)
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", timestamp))
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		d.fail(ctx, delivery, wh, nil, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_ = d.store.MarkDelivered(ctx, delivery.ID, resp.StatusCode)
		return
	}

	status := resp.StatusCode
	d.fail(ctx, delivery, wh, &status, fmt.Sprintf("non-2xx response: %d", resp.StatusCode))
}

// fail applies the retry-or-give-up branch (§4.5 retry policy) and, on a
// terminal failure, the auto-disable check.
func (d *Dispatcher) fail(ctx context.Context, delivery *models.WebhookDelivery, wh *models.Webhook, statusCode *int, lastErr string) {
	if delivery.AttemptCount < models.MaxDeliveryAttempts {
		next := time.Now().Add(backoff(delivery.AttemptCount))
		_ = d.store.MarkRetry(ctx, delivery.ID, next, statusCode, &lastErr)
		return
	}

	_ = d.store.MarkFailed(ctx, delivery.ID, statusCode, &lastErr)
	d.checkAutoDisable(ctx, wh)
}

// checkAutoDisable implements §4.5's auto-disable threshold: ≥10 failed
// deliveries for this webhook in the trailing 24h.
func (d *Dispatcher) checkAutoDisable(ctx context.Context, wh *models.Webhook) {
	since := time.Now().Add(-d.config.AutoDisableWindow)
	count, err := d.store.CountFailedDeliveriesSince(ctx, wh.ID, since)
	if err != nil {
		slog.Error("webhook: count failed deliveries failed", "error", err, "webhookId", wh.ID)
		return
	}
	if count < d.config.AutoDisableCount {
		return
	}

	if err := d.store.DisableWebhook(ctx, wh.ID); err != nil {
		slog.Error("webhook: auto-disable failed", "error", err, "webhookId", wh.ID)
		return
	}
	d.notifier.NotifyWebhookAutoDisabled(ctx, wh.ID, wh.OwnerID, wh.URL, count)
}
