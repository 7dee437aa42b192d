// Package scheduler runs the boot-declared retention jobs and the
// user-initiated deferred/recurring execution triggers of §4.7.
//
// The retention jobs' schedule tracking is grounded on robfig/cron/v3's
// Schedule.Next, the same library r3e-network-service_layer uses to compute
// cron next-run times; the poll loop shape for user jobs mirrors the
// teacher's pkg/engine worker loop (ticker, select on stop/ctx, log and
// continue on a single iteration's error rather than aborting the loop) —
// itself adapted from pkg/queue/worker.go's Worker.run.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/agentorchestra/orchestra/pkg/engine"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/store"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler owns the two boot-declared retention jobs and the polling loop
// that dispatches due user-scheduled executions into the engine.
type Scheduler struct {
	store  *store.Store
	engine *engine.Engine
	config Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// New builds a Scheduler. engine is used to Submit due user-scheduled
// executions; it is not started or stopped by this package.
func New(s *store.Store, eng *engine.Engine, cfg Config) *Scheduler {
	return &Scheduler{store: s, engine: eng, config: cfg, stopCh: make(chan struct{})}
}

// Start launches the retention-job loop and the user-scheduled-job loop.
// Not safe to call twice.
func (sch *Scheduler) Start(ctx context.Context) error {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.started {
		return fmt.Errorf("scheduler: already started")
	}
	sch.started = true

	execSchedule, err := cronParser.Parse(sch.config.ExecutionCleanupCron)
	if err != nil {
		return fmt.Errorf("parse execution-cleanup cron: %w", err)
	}
	logSchedule, err := cronParser.Parse(sch.config.LogCleanupCron)
	if err != nil {
		return fmt.Errorf("parse log-cleanup cron: %w", err)
	}

	sch.wg.Add(1)
	go func() {
		defer sch.wg.Done()
		sch.runRetentionLoop(ctx, "execution-cleanup", execSchedule, sch.runExecutionCleanup)
	}()

	sch.wg.Add(1)
	go func() {
		defer sch.wg.Done()
		sch.runRetentionLoop(ctx, "log-cleanup", logSchedule, sch.runLogCleanup)
	}()

	sch.wg.Add(1)
	go func() {
		defer sch.wg.Done()
		sch.runUserJobLoop(ctx)
	}()

	return nil
}

// Stop signals every loop to exit and waits for them to finish.
func (sch *Scheduler) Stop() {
	sch.stopOnce.Do(func() { close(sch.stopCh) })
	sch.wg.Wait()
}

// runRetentionLoop wakes whenever schedule's next occurrence arrives and
// runs fn, re-scheduling against the wall clock each time rather than a
// fixed ticker so drift doesn't accumulate across restarts.
func (sch *Scheduler) runRetentionLoop(ctx context.Context, name string, schedule cron.Schedule, fn func(ctx context.Context) (int64, error)) {
	for {
		next := schedule.Next(time.Now().UTC())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-sch.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			n, err := fn(ctx)
			if err != nil {
				slog.Error("retention job failed", "job", name, "error", err)
				continue
			}
			if n > 0 {
				slog.Info("retention job completed", "job", name, "deleted", n)
			}
		}
	}
}

func (sch *Scheduler) runExecutionCleanup(ctx context.Context) (int64, error) {
	return sch.store.DeleteTerminalExecutionsOlderThan(ctx, sch.config.ExecutionRetention)
}

func (sch *Scheduler) runLogCleanup(ctx context.Context) (int64, error) {
	deliveries, err := sch.store.DeleteWebhookDeliveriesOlderThan(ctx, sch.config.LogRetention)
	if err != nil {
		return 0, fmt.Errorf("delete webhook deliveries: %w", err)
	}
	usage, err := sch.store.DeleteAPIUsageOlderThan(ctx, sch.config.LogRetention)
	if err != nil {
		return deliveries, fmt.Errorf("delete api usage: %w", err)
	}
	return deliveries + usage, nil
}

// runUserJobLoop polls scheduled_jobs for due rows and submits each as a
// new execution via the engine, then advances the job to its next
// occurrence (recurring) or deactivates it (one-shot).
func (sch *Scheduler) runUserJobLoop(ctx context.Context) {
	ticker := time.NewTicker(sch.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sch.stopCh:
			return
		case <-ticker.C:
			sch.dispatchDueJobs(ctx)
		}
	}
}

func (sch *Scheduler) dispatchDueJobs(ctx context.Context) {
	now := time.Now().UTC()
	due, err := sch.store.DueScheduledJobs(ctx, now)
	if err != nil {
		slog.Error("list due scheduled jobs", "error", err)
		return
	}
	for _, job := range due {
		if err := sch.dispatchJob(ctx, job, now); err != nil {
			slog.Error("dispatch scheduled job failed", "jobKey", job.JobKey, "error", err)
		}
	}
}

func (sch *Scheduler) dispatchJob(ctx context.Context, job models.ScheduledJob, now time.Time) error {
	_, err := sch.engine.Submit(ctx, engine.SubmitRequest{
		AgentID:     job.AgentID,
		SubmitterID: job.OwnerID,
		Input:       json.RawMessage(`{}`),
		Trigger:     triggerFor(job),
	})
	if err != nil {
		return fmt.Errorf("submit scheduled execution: %w", err)
	}

	if job.CronSpec == nil {
		return sch.store.AdvanceScheduledJob(ctx, job.ID, now, nil)
	}
	schedule, err := cronParser.Parse(*job.CronSpec)
	if err != nil {
		return fmt.Errorf("parse cron spec %q: %w", *job.CronSpec, err)
	}
	next := schedule.Next(now)
	return sch.store.AdvanceScheduledJob(ctx, job.ID, now, &next)
}

func triggerFor(job models.ScheduledJob) models.Trigger {
	if job.CronSpec != nil {
		return models.TriggerRecurring
	}
	return models.TriggerScheduled
}

// ScheduleAt enqueues a one-shot execution of agentID at whenUTC, owned by
// ownerID. The job key "scheduled-{agent}-{ms}" makes cancelling a specific
// deferred run idempotent even if called twice (§4.7).
func (sch *Scheduler) ScheduleAt(ctx context.Context, agentID, ownerID string, whenUTC time.Time) (*models.ScheduledJob, error) {
	job := &models.ScheduledJob{
		ID:        uuid.NewString(),
		JobKey:    fmt.Sprintf("scheduled-%s-%d", agentID, whenUTC.UnixMilli()),
		AgentID:   agentID,
		OwnerID:   ownerID,
		RunAt:     &whenUTC,
		NextRunAt: whenUTC,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := sch.store.UpsertScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ScheduleRecurring enqueues a recurring execution of agentID on cronSpec,
// owned by ownerID. The job key "recurring-{agent}" means re-scheduling
// the same agent with a new cron spec replaces the previous schedule.
func (sch *Scheduler) ScheduleRecurring(ctx context.Context, agentID, ownerID, cronSpec string) (*models.ScheduledJob, error) {
	schedule, err := cronParser.Parse(cronSpec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", cronSpec, err)
	}
	next := schedule.Next(time.Now().UTC())

	job := &models.ScheduledJob{
		ID:        uuid.NewString(),
		JobKey:    fmt.Sprintf("recurring-%s", agentID),
		AgentID:   agentID,
		OwnerID:   ownerID,
		CronSpec:  &cronSpec,
		NextRunAt: next,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := sch.store.UpsertScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}
