package events

import (
	"time"

	"github.com/agentorchestra/orchestra/pkg/models"
)

// Event is the envelope every payload travels in, both over the
// in-process bus and over the Redis broadcast channel. Type discriminates
// which of the Payload fields is populated — exactly one, matching
// models.EventType.
type Event struct {
	Type        models.EventType `json:"type"`
	ExecutionID string           `json:"executionId"`
	AgentID     string           `json:"agentId"`
	SubmitterID string           `json:"submitterId"`
	Sequence    int64            `json:"sequence"`
	Timestamp   time.Time        `json:"timestamp"`

	// Origin is the publishing instance's id, stamped by Publisher so
	// Listener can drop this instance's own events when they echo back
	// over the broadcast channel.
	Origin string `json:"origin,omitempty"`

	Started   *StartedPayload   `json:"started,omitempty"`
	Log       *LogPayload       `json:"log,omitempty"`
	Progress  *ProgressPayload  `json:"progress,omitempty"`
	State     *StatePayload     `json:"state,omitempty"`
	Completed *CompletedPayload `json:"completed,omitempty"`
	Failed    *FailedPayload    `json:"failed,omitempty"`
	Cancelled *CancelledPayload `json:"cancelled,omitempty"`
}

// StartedPayload accompanies models.EventStarted.
type StartedPayload struct {
	AgentTag string `json:"agentTag"`
}

// LogPayload accompanies models.EventLog.
type LogPayload struct {
	Level      models.LogLevel `json:"level"`
	Message    string          `json:"message"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	ArrivalSeq int64           `json:"arrivalSequence"`
}

// ProgressPayload accompanies models.EventProgress.
type ProgressPayload struct {
	Percent int `json:"percent"`
}

// StatePayload accompanies models.EventState — fired on every state
// transition, including non-terminal ones (pending to running, etc).
type StatePayload struct {
	State models.ExecutionState `json:"state"`
}

// CompletedPayload accompanies models.EventCompleted.
type CompletedPayload struct {
	Output     []byte   `json:"output"`
	DurationMs int64    `json:"durationMs"`
	TokensUsed *int64   `json:"tokensUsed,omitempty"`
	CostUsd    *float64 `json:"costUsd,omitempty"`
}

// FailedPayload accompanies models.EventFailed.
type FailedPayload struct {
	Error      string `json:"error"`
	DurationMs int64  `json:"durationMs"`
}

// CancelledPayload accompanies models.EventCancelled.
type CancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewStarted builds an Event for an execution moving to running.
func NewStarted(executionID, agentID, submitterID, agentTag string) Event {
	return Event{Type: models.EventStarted, ExecutionID: executionID, AgentID: agentID, SubmitterID: submitterID,
		Started: &StartedPayload{AgentTag: agentTag}}
}

// NewLog builds an Event for one emitted log line.
func NewLog(executionID, agentID, submitterID string, level models.LogLevel, message string, meta map[string]any, arrivalSeq int64) Event {
	return Event{Type: models.EventLog, ExecutionID: executionID, AgentID: agentID, SubmitterID: submitterID,
		Log: &LogPayload{Level: level, Message: message, Metadata: meta, ArrivalSeq: arrivalSeq}}
}

// NewProgress builds an Event for a progress update.
func NewProgress(executionID, agentID, submitterID string, percent int) Event {
	return Event{Type: models.EventProgress, ExecutionID: executionID, AgentID: agentID, SubmitterID: submitterID,
		Progress: &ProgressPayload{Percent: percent}}
}

// NewState builds an Event for a bare state transition.
func NewState(executionID, agentID, submitterID string, state models.ExecutionState) Event {
	return Event{Type: models.EventState, ExecutionID: executionID, AgentID: agentID, SubmitterID: submitterID,
		State: &StatePayload{State: state}}
}

// NewCompleted builds an Event for a successful terminal transition.
func NewCompleted(executionID, agentID, submitterID string, output []byte, durationMs int64, tokensUsed *int64, costUsd *float64) Event {
	return Event{Type: models.EventCompleted, ExecutionID: executionID, AgentID: agentID, SubmitterID: submitterID,
		Completed: &CompletedPayload{Output: output, DurationMs: durationMs, TokensUsed: tokensUsed, CostUsd: costUsd}}
}

// NewFailed builds an Event for a failed terminal transition.
func NewFailed(executionID, agentID, submitterID, errMsg string, durationMs int64) Event {
	return Event{Type: models.EventFailed, ExecutionID: executionID, AgentID: agentID, SubmitterID: submitterID,
		Failed: &FailedPayload{Error: errMsg, DurationMs: durationMs}}
}

// NewCancelled builds an Event for a cancelled terminal transition.
func NewCancelled(executionID, agentID, submitterID, reason string) Event {
	return Event{Type: models.EventCancelled, ExecutionID: executionID, AgentID: agentID, SubmitterID: submitterID,
		Cancelled: &CancelledPayload{Reason: reason}}
}
