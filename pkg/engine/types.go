package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/models"
)

// SubmitRequest is the caller-provided shape of a new execution (§4.1).
type SubmitRequest struct {
	AgentID     string
	SubmitterID string
	Input       json.RawMessage
	Priority    models.Priority
	Trigger     models.Trigger
	Environment string
	TimeoutSec  int
	Overrides   map[string]any
}

// ErrValidation wraps a plugin's ValidationResult into an error the API
// layer can translate into a 400.
type ErrValidation struct {
	Errors []string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Errors)
}

// ErrAgentInactive is returned by Submit when the target agent is disabled.
var ErrAgentInactive = fmt.Errorf("agent is inactive")

// ErrConcurrencyLimit is returned by Submit when the submitter already has
// MaxConcurrentPerUser non-terminal executions (§8 invariant 4).
type ErrConcurrencyLimit struct {
	Limit int
}

func (e *ErrConcurrencyLimit) Error() string {
	return fmt.Sprintf("concurrent execution limit reached (max %d)", e.Limit)
}

// WorkerHealth reports one worker's current activity, analogous to the
// teacher's queue.WorkerHealth.
type WorkerHealth struct {
	ID          int    `json:"id"`
	Busy        bool   `json:"busy"`
	ExecutionID string `json:"executionId,omitempty"`
}

// PoolHealth is the engine-wide health snapshot the teacher's
// WorkerPool.Health returns, adapted to pkg/store.
type PoolHealth struct {
	PendingCount int            `json:"pendingCount"`
	RunningCount int            `json:"runningCount"`
	Workers      []WorkerHealth `json:"workers"`
	DatabaseOK   bool           `json:"databaseOk"`
}

// sessionExecutor is the narrow interface the worker dispatches through,
// matching the teacher's SessionExecutor shape (one seam, easy to fake in
// tests).
type sessionExecutor interface {
	executeWithSinks(ctx context.Context, e *models.Execution, agent *models.Agent, logSink framework.LogSink, progressSink framework.ProgressSink, overrides map[string]any, done <-chan struct{}) (runResult, error)
}

// runResult is what one dispatched execution produced before the engine
// persists a terminal state — the engine's analogue of queue.ExecutionResult.
type runResult struct {
	Output     json.RawMessage
	TokensUsed *int64
	CostUsd    *float64
}
