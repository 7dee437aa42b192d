package store

import (
	"context"
	"fmt"

	"github.com/agentorchestra/orchestra/pkg/models"
)

// AppendLog inserts one execution log line. arrival_sequence is assigned by
// a per-execution monotonic counter maintained in pkg/engine, not here —
// the store only persists what it's given, preserving total order
// (timestamp, arrivalSequence) (§3 invariant).
func (s *Store) AppendLog(ctx context.Context, l *models.ExecutionLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, level, message, timestamp, arrival_sequence, metadata)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		l.ExecutionID, l.Level, l.Message, l.Timestamp, l.ArrivalSequence, l.Metadata)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLogs returns a page of logs for an execution, oldest first.
func (s *Store) ListLogs(ctx context.Context, executionID string, level string, offset, limit int) ([]models.ExecutionLog, error) {
	query := `SELECT * FROM execution_logs WHERE execution_id = $1`
	args := []any{executionID}
	if level != "" {
		query += ` AND level = $2`
		args = append(args, level)
	}
	query += fmt.Sprintf(` ORDER BY timestamp, arrival_sequence OFFSET %d LIMIT %d`, offset, limit)

	var logs []models.ExecutionLog
	if err := s.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return logs, nil
}

// TailLogs returns the most recent n logs for an execution, oldest first —
// used for the realtime catchup snapshot (§4.4, N=50).
func (s *Store) TailLogs(ctx context.Context, executionID string, n int) ([]models.ExecutionLog, error) {
	var logs []models.ExecutionLog
	err := s.db.SelectContext(ctx, &logs, `
		SELECT * FROM (
			SELECT * FROM execution_logs WHERE execution_id = $1
			ORDER BY timestamp DESC, arrival_sequence DESC LIMIT $2
		) recent ORDER BY timestamp, arrival_sequence`, executionID, n)
	if err != nil {
		return nil, fmt.Errorf("tail logs: %w", err)
	}
	return logs, nil
}
