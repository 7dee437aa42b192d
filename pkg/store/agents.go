package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/jmoiron/sqlx"
)

// CreateAgent inserts a new agent.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, owner_id, name, framework, configuration, tags, active, metrics, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.OwnerID, a.Name, a.Framework, a.Configuration, a.Tags, a.Active, a.Metrics, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent loads a non-deleted agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	err := s.db.GetContext(ctx, &a,
		`SELECT * FROM agents WHERE id = $1 AND deleted_at IS NULL`, id)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// RecordAgentExecution atomically folds one terminal execution's outcome
// into the agent's rolling metrics (read-modify-write in a short
// transaction, per spec §5's "shared-resource policy").
func (s *Store) RecordAgentExecution(ctx context.Context, agentID string, success bool, durationMs int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var metrics models.AgentMetrics
		if err := tx.GetContext(ctx, &metrics,
			`SELECT metrics FROM agents WHERE id = $1 FOR UPDATE`, agentID); err != nil {
			return fmt.Errorf("lock agent metrics: %w", err)
		}
		metrics.Record(success, durationMs)
		_, err := tx.ExecContext(ctx, `UPDATE agents SET metrics = $2 WHERE id = $1`, agentID, metrics)
		if err != nil {
			return fmt.Errorf("update agent metrics: %w", err)
		}
		return nil
	})
}

// DeleteAgent soft-deletes an agent; cascading executions/logs are removed
// by the retention sweep (§4.7), not synchronously here.
func (s *Store) DeleteAgent(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET deleted_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}
