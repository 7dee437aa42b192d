package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/jmoiron/sqlx"
)

// CreateDelivery enqueues a new webhook delivery in state=pending, attemptCount=0.
func (s *Store) CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_id, event_type, payload, state, attempt_count, scheduled_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.WebhookID, d.EventID, d.EventType, d.Payload, d.State, d.AttemptCount, d.ScheduledAt, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

// ClaimDueDelivery claims one due delivery (pending or retry, scheduled_at
// <= now) and transitions it to delivering, incrementing attemptCount. The
// FOR UPDATE SKIP LOCKED claim mirrors pkg/store.ClaimNextExecution so
// concurrent dispatcher workers never double-send the same delivery.
func (s *Store) ClaimDueDelivery(ctx context.Context) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `
			SELECT * FROM webhook_deliveries
			WHERE state IN ('pending','retry') AND scheduled_at <= now()
			ORDER BY webhook_id, scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1`)
		if err := row.StructScan(&d); err != nil {
			if noRows(err) {
				return ErrNotFound
			}
			return fmt.Errorf("claim due delivery: %w", err)
		}

		d.AttemptCount++
		_, err := tx.ExecContext(ctx, `
			UPDATE webhook_deliveries SET state = 'delivering', attempt_count = $2
			WHERE id = $1`, d.ID, d.AttemptCount)
		if err != nil {
			return fmt.Errorf("transition to delivering: %w", err)
		}
		d.State = models.DeliveryDelivering
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// MarkDelivered records a successful 2xx delivery.
func (s *Store) MarkDelivered(ctx context.Context, id string, statusCode int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET state = 'delivered', delivered_at = now(), last_status_code = $2
		WHERE id = $1`, id, statusCode)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkRetry reschedules a failed attempt with the computed backoff delay.
func (s *Store) MarkRetry(ctx context.Context, id string, nextAttempt time.Time, statusCode *int, lastErr *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET state = 'retry', scheduled_at = $2, last_status_code = $3, last_error = $4
		WHERE id = $1`, id, nextAttempt, statusCode, lastErr)
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	return nil
}

// MarkFailed transitions a delivery to its terminal failed state after
// attemptCount reaches MaxDeliveryAttempts (§3, §8 invariant 5).
func (s *Store) MarkFailed(ctx context.Context, id string, statusCode *int, lastErr *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET state = 'failed', failed_at = now(), last_status_code = $2, last_error = $3
		WHERE id = $1`, id, statusCode, lastErr)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ListDeliveriesByWebhook returns the most recent deliveries for a webhook,
// newest first, for the GET /webhooks/{id}/stats endpoint.
func (s *Store) ListDeliveriesByWebhook(ctx context.Context, webhookID string, limit int) ([]models.WebhookDelivery, error) {
	var out []models.WebhookDelivery
	if err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM webhook_deliveries WHERE webhook_id = $1 ORDER BY created_at DESC LIMIT $2`,
		webhookID, limit); err != nil {
		return nil, fmt.Errorf("list deliveries by webhook: %w", err)
	}
	return out, nil
}

// DeliveriesForEvent returns every delivery row created for a given event id
// — used by tests asserting S4's exact (retry, retry, retry, delivered) chain.
func (s *Store) DeliveriesForEvent(ctx context.Context, eventID string) ([]models.WebhookDelivery, error) {
	var out []models.WebhookDelivery
	if err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM webhook_deliveries WHERE event_id = $1 ORDER BY created_at`, eventID); err != nil {
		return nil, fmt.Errorf("deliveries for event: %w", err)
	}
	return out, nil
}
