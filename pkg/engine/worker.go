package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/store"
)

// worker repeatedly claims and dispatches one execution at a time —
// generalized from the teacher's queue.Worker, whose claim/heartbeat/
// terminal-status shape it follows almost exactly.
type worker struct {
	id     int
	engine *Engine

	mu          sync.Mutex
	busy        bool
	executionID string
}

func (w *worker) health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHealth{ID: w.id, Busy: w.busy, ExecutionID: w.executionID}
}

func (w *worker) setBusy(executionID string) {
	w.mu.Lock()
	w.busy = executionID != ""
	w.executionID = executionID
	w.mu.Unlock()
}

// run is the worker's main loop: claim, dispatch, repeat, backing off with
// jitter whenever there's no work.
func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.engine.stopCh:
			return
		default:
		}

		exec, err := w.engine.store.ClaimNextExecution(ctx)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				// Transient DB error; back off like an empty queue rather
				// than spinning.
				_ = err
			}
			if !w.sleep(ctx, w.pollInterval()) {
				return
			}
			continue
		}

		w.dispatch(ctx, exec)
	}
}

func (w *worker) pollInterval() time.Duration {
	jitter := time.Duration(rand.Int64N(int64(w.engine.config.PollIntervalJitter) + 1))
	return w.engine.config.PollInterval + jitter
}

func (w *worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.engine.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// dispatch runs exec to completion (success, failure, cancellation or
// timeout) and persists the terminal transition. Every step mirrors the
// teacher's Worker.pollAndProcess: publish running, register a cancel
// func, run a heartbeat, execute, synthesize a result on timeout/
// cancellation, persist terminal state, update agent metrics, enqueue
// webhook deliveries.
func (w *worker) dispatch(ctx context.Context, exec *models.Execution) {
	w.setBusy(exec.ID)
	defer w.setBusy("")
	defer w.engine.releaseLogSeq(exec.ID)

	agent, err := w.engine.store.GetAgent(ctx, exec.AgentID)
	if err != nil {
		w.finish(ctx, exec, models.StateFailed, nil, fmt.Sprintf("load agent: %v", err), nil, nil, time.Now().UTC())
		return
	}

	if w.engine.publisher != nil {
		_ = w.engine.publisher.Publish(ctx, events.NewStarted(exec.ID, exec.AgentID, exec.SubmitterID, agent.Framework))
		_ = w.engine.publisher.Publish(ctx, events.NewState(exec.ID, exec.AgentID, exec.SubmitterID, models.StateRunning))
	}

	timeout := time.Duration(exec.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = w.engine.config.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w.engine.registerCancel(exec.ID, cancel)
	defer w.engine.unregisterCancel(exec.ID)

	heartbeatDone := make(chan struct{})
	go w.runHeartbeat(ctx, exec.ID, cancel, heartbeatDone)
	defer close(heartbeatDone)

	logSink := func(level, message string, meta map[string]any) {
		seq := w.engine.nextLogSeq(exec.ID)
		logLevel := models.LogLevel(level)
		if w.engine.masker != nil {
			message = w.engine.masker.Redact(message)
		}
		_ = w.engine.store.AppendLog(ctx, &models.ExecutionLog{
			ExecutionID:     exec.ID,
			Level:           logLevel,
			Message:         message,
			Timestamp:       time.Now().UTC(),
			ArrivalSequence: seq,
			Metadata:        meta,
		})
		if w.engine.publisher != nil {
			_ = w.engine.publisher.Publish(ctx, events.NewLog(exec.ID, exec.AgentID, exec.SubmitterID, logLevel, message, meta, seq))
		}
	}

	progressSink := func(percent int) {
		if percent < 0 {
			percent = 0
		} else if percent > 100 {
			percent = 100
		}
		if w.engine.publisher != nil {
			_ = w.engine.publisher.Publish(ctx, events.NewProgress(exec.ID, exec.AgentID, exec.SubmitterID, percent))
		}
	}

	started := time.Now().UTC()
	result, execErr := w.engine.executor.executeWithSinks(execCtx, exec, agent, framework.LogSink(logSink), framework.ProgressSink(progressSink), exec.Metadata, execCtx.Done())

	switch {
	case execCtx.Err() != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded):
		logSink("error", fmt.Sprintf("execution exceeded its %s deadline", timeout), nil)
		w.finish(ctx, exec, models.StateTimeout, nil, "execution timed out", nil, nil, started)
	case execCtx.Err() != nil && errors.Is(execCtx.Err(), context.Canceled):
		w.finish(ctx, exec, models.StateCancelled, nil, "", nil, nil, started)
	case execErr != nil:
		w.finish(ctx, exec, models.StateFailed, nil, execErr.Error(), nil, nil, started)
	default:
		w.finish(ctx, exec, models.StateCompleted, result.Output, "", result.TokensUsed, result.CostUsd, started)
	}
}

// finish persists the terminal transition, folds the outcome into the
// agent's metrics, and publishes the matching lifecycle event. It never
// re-derives the cause of termination — the caller already decided that.
func (w *worker) finish(ctx context.Context, exec *models.Execution, state models.ExecutionState, output []byte, errMsg string, tokensUsed *int64, costUsd *float64, started time.Time) {
	var execErrPtr *string
	if errMsg != "" {
		execErrPtr = &errMsg
	}

	applied, err := w.engine.store.CompleteExecution(ctx, exec.ID, state, output, execErrPtr, tokensUsed, costUsd)
	if err != nil || !applied {
		// Either a DB error, or a racing cancel/complete already applied a
		// terminal transition first — nothing further to publish (§5).
		return
	}

	durationMs := time.Since(started).Milliseconds()
	success := state == models.StateCompleted
	_ = w.engine.store.RecordAgentExecution(ctx, exec.AgentID, success, durationMs)

	if w.engine.publisher == nil {
		return
	}
	switch state {
	case models.StateCompleted:
		_ = w.engine.publisher.Publish(ctx, events.NewCompleted(exec.ID, exec.AgentID, exec.SubmitterID, output, durationMs, tokensUsed, costUsd))
	case models.StateFailed, models.StateTimeout:
		_ = w.engine.publisher.Publish(ctx, events.NewFailed(exec.ID, exec.AgentID, exec.SubmitterID, errMsg, durationMs))
	case models.StateCancelled:
		_ = w.engine.publisher.Publish(ctx, events.NewCancelled(exec.ID, exec.AgentID, exec.SubmitterID, "worker observed cancellation"))
	}
	_ = w.engine.publisher.Publish(ctx, events.NewState(exec.ID, exec.AgentID, exec.SubmitterID, state))
}

// runHeartbeat periodically re-reads the execution's own DB row. If another
// instance cancelled it (store.CancelExecution flips state directly to
// cancelled without this worker's cancel func ever being invoked),
// invoking cancel here bounds that cross-instance cancellation's latency to
// Config.HeartbeatInterval (§8 invariant 1 decision).
func (w *worker) runHeartbeat(ctx context.Context, executionID string, cancel context.CancelFunc, done <-chan struct{}) {
	ticker := time.NewTicker(w.engine.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			exec, err := w.engine.store.GetExecution(ctx, executionID)
			if err != nil {
				continue
			}
			if exec.State != models.StateRunning {
				cancel()
				return
			}
		}
	}
}
