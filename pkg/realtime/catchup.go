package realtime

import (
	"context"
	"strings"

	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/store"
)

// tailLogCount is the number of trailing logs a fresh execution:{id}
// subscriber receives before live events start (spec §4.4, N=50).
const tailLogCount = 50

// StoreCatchup implements CatchupProvider against pkg/store: an
// execution:{id} subscribe gets the execution's current state plus its
// last tailLogCount log lines; other room kinds (user:{id}, agent:{id})
// carry only live transitions and have no catchup snapshot.
type StoreCatchup struct {
	Store *store.Store
}

// Catchup returns the snapshot for channel, or nil if channel's room kind
// has no catchup semantics.
func (c StoreCatchup) Catchup(ctx context.Context, channel string) ([]events.Event, error) {
	executionID, ok := strings.CutPrefix(channel, "execution:")
	if !ok {
		return nil, nil
	}

	exec, err := c.Store.GetExecution(ctx, executionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	snapshot := []events.Event{events.NewState(exec.ID, exec.AgentID, exec.SubmitterID, exec.State)}

	logs, err := c.Store.TailLogs(ctx, executionID, tailLogCount)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		snapshot = append(snapshot, events.NewLog(exec.ID, exec.AgentID, exec.SubmitterID, l.Level, l.Message, l.Metadata, l.ArrivalSequence))
	}
	return snapshot, nil
}
