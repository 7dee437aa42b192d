package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentorchestra/orchestra/pkg/models"
)

// CreateAPIKey inserts a new API key row.
func (s *Store) CreateAPIKey(ctx context.Context, k *models.ApiKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, owner_id, hashed_secret, permissions, active, expires_at, usage_count, last_used_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		k.ID, k.OwnerID, k.HashedSecret, k.Permissions, k.Active, k.ExpiresAt, k.UsageCount, k.LastUsedAt, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKey loads an API key by id.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*models.ApiKey, error) {
	var k models.ApiKey
	err := s.db.GetContext(ctx, &k, `SELECT * FROM api_keys WHERE id = $1`, id)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &k, nil
}

// DeactivateAPIKey flips an expired key's active flag off (§8 invariant 8).
func (s *Store) DeactivateAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	return nil
}

// RecordAPIKeyUsage bumps usage_count and last_used_at on a successful auth.
func (s *Store) RecordAPIKeyUsage(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("record api key usage: %w", err)
	}
	return nil
}

// RecordUsage appends one api_usage analytics row for an admitted request (§4.6).
func (s *Store) RecordUsage(ctx context.Context, u *models.ApiUsage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_usage (api_key_id, endpoint, method, status, ip, user_agent, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.ApiKeyID, u.Endpoint, u.Method, u.Status, u.IP, u.UserAgent, u.Timestamp)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}
