package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// ErrAgentBusy is returned by CreateExecution when the agent already has a
// non-terminal execution (single-flight, §8 invariant 3).
var ErrAgentBusy = fmt.Errorf("%w: agent busy", ErrConflict)

// CreateExecution inserts a new pending execution. The partial unique index
// on (agent_id) WHERE state IN (pending,running,cancelling) enforces
// single-flight atomically — no read-then-write race is possible.
func (s *Store) CreateExecution(ctx context.Context, e *models.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(id, agent_id, submitter_id, state, priority, input, trigger, environment, timeout_sec, created_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.AgentID, e.SubmitterID, e.State, e.Priority, e.Input, e.Trigger, e.Environment, e.TimeoutSec, e.CreatedAt, e.Metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAgentBusy
		}
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetExecution loads an execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	var e models.Execution
	err := s.db.GetContext(ctx, &e, `SELECT * FROM executions WHERE id = $1`, id)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return &e, nil
}

// ActiveExecutionForAgent returns the in-flight (non-terminal) execution for
// an agent, if any — used to report AgentBusy's conflicting execution id (S2).
func (s *Store) ActiveExecutionForAgent(ctx context.Context, agentID string) (*models.Execution, error) {
	var e models.Execution
	err := s.db.GetContext(ctx, &e, `
		SELECT * FROM executions
		WHERE agent_id = $1 AND state IN ('pending','running','cancelling')
		LIMIT 1`, agentID)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active execution for agent: %w", err)
	}
	return &e, nil
}

// CountNonTerminalForUser returns how many non-terminal executions a user
// currently has, for the MAX_CONCURRENT_PER_USER check (§8 invariant 4).
func (s *Store) CountNonTerminalForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT count(*) FROM executions
		WHERE submitter_id = $1 AND state IN ('pending','running','cancelling')`, userID)
	if err != nil {
		return 0, fmt.Errorf("count non-terminal executions: %w", err)
	}
	return n, nil
}

// CountPendingExecutions reports how many executions are queued — used by
// the engine's health endpoint.
func (s *Store) CountPendingExecutions(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM executions WHERE state = 'pending'`)
	if err != nil {
		return 0, fmt.Errorf("count pending executions: %w", err)
	}
	return n, nil
}

// CountRunningExecutions reports how many executions are currently running.
func (s *Store) CountRunningExecutions(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM executions WHERE state = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("count running executions: %w", err)
	}
	return n, nil
}

// ClaimNextExecution atomically claims the highest-priority pending
// execution using SELECT ... FOR UPDATE SKIP LOCKED, transitioning it to
// running. Returns ErrNotFound if no work is available.
func (s *Store) ClaimNextExecution(ctx context.Context) (*models.Execution, error) {
	var e models.Execution
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `
			SELECT * FROM executions
			WHERE state = 'pending'
			ORDER BY
				CASE priority WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
				created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1`)
		if err := row.StructScan(&e); err != nil {
			if noRows(err) {
				return ErrNotFound
			}
			return fmt.Errorf("claim next execution: %w", err)
		}

		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			UPDATE executions SET state = 'running', started_at = $2
			WHERE id = $1 AND state = 'pending'`, e.ID, now)
		if err != nil {
			return fmt.Errorf("transition to running: %w", err)
		}
		e.State = models.StateRunning
		e.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CompleteExecution persists a terminal transition
// (completed/failed/cancelled/timeout) using an update-with-where-clause so
// a racing cancel and a racing worker completion can't both apply (§5).
func (s *Store) CompleteExecution(ctx context.Context, id string, state models.ExecutionState, output []byte, execErr *string, tokensUsed *int64, costUsd *float64) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			state = $2, output = $3, error = $4, tokens_used = $5, cost_usd = $6,
			completed_at = $7, duration_ms = EXTRACT(EPOCH FROM ($7 - started_at)) * 1000
		WHERE id = $1 AND state NOT IN ('completed','failed','cancelled','timeout')`,
		id, state, output, execErr, tokensUsed, costUsd, now)
	if err != nil {
		return false, fmt.Errorf("complete execution: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelExecution flips a non-terminal execution to cancelling/cancelled.
// Idempotent: returns false if the execution was already terminal
// (§8 invariant 10).
func (s *Store) CancelExecution(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET state = 'cancelled', completed_at = now(),
			duration_ms = EXTRACT(EPOCH FROM (now() - started_at)) * 1000
		WHERE id = $1 AND state IN ('pending','running','cancelling')`, id)
	if err != nil {
		return false, fmt.Errorf("cancel execution: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReapOrphans marks non-terminal executions older than staleAfter as
// failed/orphaned (boot-time orphan reaper, §4.7).
func (s *Store) ReapOrphans(ctx context.Context, staleAfter time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET state = 'failed', error = 'orphaned', completed_at = now()
		WHERE state IN ('pending','running','cancelling')
		AND created_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(staleAfter.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reap orphans: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteTerminalExecutionsOlderThan removes terminal executions (cascading
// logs) past the retention window — the execution-cleanup job (§4.7).
func (s *Store) DeleteTerminalExecutionsOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM executions
		WHERE state IN ('completed','failed','cancelled','timeout')
		AND completed_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("delete old executions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
