package engine

import (
	"context"
	"fmt"
)

// Start launches Config.WorkerCount workers and the orphan-detection loop.
// Start is not safe to call twice.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return fmt.Errorf("engine: already started")
	}
	e.started = true

	if _, err := e.store.ReapOrphans(ctx, e.config.OrphanThreshold); err != nil {
		return fmt.Errorf("startup orphan reap: %w", err)
	}

	e.workers = make([]*worker, e.config.WorkerCount)
	for i := 0; i < e.config.WorkerCount; i++ {
		w := &worker{id: i, engine: e}
		e.workers[i] = w
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.run(ctx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runOrphanLoop(ctx)
	}()

	return nil
}

// Stop signals every worker and the orphan loop to exit and waits for
// in-flight executions to finish — no execution is left half-claimed.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// Health reports queue depth, running count and per-worker activity —
// analogous to the teacher's WorkerPool.Health.
func (e *Engine) Health(ctx context.Context) PoolHealth {
	h := PoolHealth{Workers: make([]WorkerHealth, len(e.workers))}

	if pending, err := e.store.CountPendingExecutions(ctx); err == nil {
		h.PendingCount = pending
	}
	if running, err := e.store.CountRunningExecutions(ctx); err == nil {
		h.RunningCount = running
	}
	h.DatabaseOK = e.store.Ping(ctx) == nil

	for i, w := range e.workers {
		h.Workers[i] = w.health()
	}
	return h
}
