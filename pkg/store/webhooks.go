package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentorchestra/orchestra/pkg/models"
)

// CreateWebhook inserts a new webhook.
func (s *Store) CreateWebhook(ctx context.Context, w *models.Webhook) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, owner_id, url, subscribed_events, secret, active, consecutive_failures_window, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		w.ID, w.OwnerID, w.URL, w.SubscribedEvents, w.Secret, w.Active, w.ConsecutiveFailuresWindow, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

// GetWebhook loads a webhook by id.
func (s *Store) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	var w models.Webhook
	err := s.db.GetContext(ctx, &w, `SELECT * FROM webhooks WHERE id = $1`, id)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return &w, nil
}

// ListWebhooksByOwner returns every webhook owned by ownerID, newest first.
func (s *Store) ListWebhooksByOwner(ctx context.Context, ownerID string) ([]models.Webhook, error) {
	var ws []models.Webhook
	if err := s.db.SelectContext(ctx, &ws, `
		SELECT * FROM webhooks WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return ws, nil
}

// UpdateWebhook updates the mutable fields of an existing webhook
// (§6 PUT /webhooks/{id}). Ownership must already be checked by the caller.
func (s *Store) UpdateWebhook(ctx context.Context, w *models.Webhook) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhooks SET url = $1, subscribed_events = $2, active = $3
		WHERE id = $4`,
		w.URL, w.SubscribedEvents, w.Active, w.ID)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWebhook removes a webhook and (via ON DELETE CASCADE) its delivery
// history (§6 DELETE /webhooks/{id}).
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveWebhooksForEvent returns active webhooks owned by ownerID subscribed
// to eventType — the fan-in point the webhook dispatcher enqueues from (§4.5).
func (s *Store) ActiveWebhooksForEvent(ctx context.Context, ownerID string, eventType models.EventType) ([]models.Webhook, error) {
	var all []models.Webhook
	if err := s.db.SelectContext(ctx, &all, `
		SELECT * FROM webhooks WHERE owner_id = $1 AND active = TRUE`, ownerID); err != nil {
		return nil, fmt.Errorf("active webhooks for event: %w", err)
	}
	matched := all[:0]
	for _, w := range all {
		if w.Subscribes(eventType) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

// DisableWebhook sets active=false (auto-disable, §4.5, §8 invariant 6).
func (s *Store) DisableWebhook(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE webhooks SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("disable webhook: %w", err)
	}
	return nil
}

// CountFailedDeliveriesSince counts a webhook's failed deliveries in a
// trailing window — the auto-disable threshold check.
func (s *Store) CountFailedDeliveriesSince(ctx context.Context, webhookID string, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT count(*) FROM webhook_deliveries
		WHERE webhook_id = $1 AND state = 'failed' AND failed_at >= $2`, webhookID, since)
	if err != nil {
		return 0, fmt.Errorf("count failed deliveries: %w", err)
	}
	return n, nil
}

// DeleteWebhookDeliveriesOlderThan removes delivery history past retention
// (log-cleanup job, §4.7).
func (s *Store) DeleteWebhookDeliveriesOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM webhook_deliveries
		WHERE created_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("delete old deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteAPIUsageOlderThan removes analytics rows past retention (log-cleanup job).
func (s *Store) DeleteAPIUsageOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM api_usage WHERE timestamp < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("delete old api usage: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
