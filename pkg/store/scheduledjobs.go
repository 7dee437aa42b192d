package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentorchestra/orchestra/pkg/models"
)

// UpsertScheduledJob inserts a scheduled job, or replaces the existing one
// sharing jobKey — re-scheduling with the same key replaces the previous
// schedule (§4.7 scheduleAt/scheduleRecurring).
func (s *Store) UpsertScheduledJob(ctx context.Context, j *models.ScheduledJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, job_key, agent_id, owner_id, cron_spec, run_at, next_run_at, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (job_key) DO UPDATE SET
			agent_id = EXCLUDED.agent_id,
			cron_spec = EXCLUDED.cron_spec,
			run_at = EXCLUDED.run_at,
			next_run_at = EXCLUDED.next_run_at,
			active = TRUE,
			last_run_at = NULL`,
		j.ID, j.JobKey, j.AgentID, j.OwnerID, j.CronSpec, j.RunAt, j.NextRunAt, j.Active, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert scheduled job: %w", err)
	}
	return nil
}

// GetScheduledJob loads a scheduled job by id, used by the API layer to
// report a schedule's current state and by tests to observe dispatch.
func (s *Store) GetScheduledJob(ctx context.Context, id string) (*models.ScheduledJob, error) {
	var j models.ScheduledJob
	err := s.db.GetContext(ctx, &j, `SELECT * FROM scheduled_jobs WHERE id = $1`, id)
	if noRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled job: %w", err)
	}
	return &j, nil
}

// DueScheduledJobs returns active jobs whose next_run_at has passed.
func (s *Store) DueScheduledJobs(ctx context.Context, now time.Time) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT * FROM scheduled_jobs WHERE active = TRUE AND next_run_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("due scheduled jobs: %w", err)
	}
	return jobs, nil
}

// AdvanceScheduledJob records a run and sets the next run time (or
// deactivates a one-shot job when nextRunAt is nil).
func (s *Store) AdvanceScheduledJob(ctx context.Context, id string, ranAt time.Time, nextRunAt *time.Time) error {
	if nextRunAt == nil {
		_, err := s.db.ExecContext(ctx, `
			UPDATE scheduled_jobs SET last_run_at = $2, active = FALSE WHERE id = $1`, id, ranAt)
		if err != nil {
			return fmt.Errorf("advance scheduled job: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET last_run_at = $2, next_run_at = $3 WHERE id = $1`, id, ranAt, *nextRunAt)
	if err != nil {
		return fmt.Errorf("advance scheduled job: %w", err)
	}
	return nil
}
