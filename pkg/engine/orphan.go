package engine

import (
	"context"
	"log/slog"
	"time"
)

// runOrphanLoop periodically reaps executions whose owning worker died
// without completing them. Unlike the teacher's orphan.go, which issues its
// own SELECT-then-UPDATE under a dedicated lock, the SQL-level work is
// already encapsulated in store.ReapOrphans — this loop only owns the
// schedule.
func (e *Engine) runOrphanLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			n, err := e.store.ReapOrphans(ctx, e.config.OrphanThreshold)
			if err != nil {
				slog.Error("orphan reap failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("reaped orphaned executions", "count", n)
			}
		}
	}
}
