// Package models holds the persistent entities of the orchestrator:
// users, API keys, agents, executions, execution logs, webhooks, and
// webhook deliveries.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// jsonColumn implements sql.Scanner/driver.Valuer for JSONB columns backed
// by slice/map types, so sqlx can read and write them directly.
func scanJSON(src any, dst any) error {
	if src == nil {
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported scan source %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// Role is the access level of a User.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account that owns agents, executions, API keys and webhooks.
type User struct {
	ID        string    `db:"id" json:"id"`
	Role      Role      `db:"role" json:"role"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Capability is a single permission an ApiKey can carry.
type Capability string

const (
	CapAdminAll         Capability = "admin:all"
	CapExecutionsWrite  Capability = "executions:write"
	CapExecutionsRead   Capability = "executions:read"
	CapAgentsWrite      Capability = "agents:write"
	CapWebhooksWrite    Capability = "webhooks:write"
)

// CapabilitySet is a set of capabilities, persisted as a JSON array.
type CapabilitySet []Capability

// Scan implements sql.Scanner.
func (s *CapabilitySet) Scan(src any) error { return scanJSON(src, s) }

// Value implements driver.Valuer.
func (s CapabilitySet) Value() (driver.Value, error) { return json.Marshal(s) }

// Has reports whether the set grants cap, honoring admin:all.
func (s CapabilitySet) Has(cap Capability) bool {
	for _, c := range s {
		if c == CapAdminAll || c == cap {
			return true
		}
	}
	return false
}

// ApiKey is a hashed credential bound to a User.
type ApiKey struct {
	ID           string        `db:"id" json:"id"`
	OwnerID      string        `db:"owner_id" json:"ownerId"`
	HashedSecret string        `db:"hashed_secret" json:"-"`
	Permissions  CapabilitySet `db:"permissions" json:"permissions"`
	Active       bool          `db:"active" json:"active"`
	ExpiresAt    *time.Time    `db:"expires_at" json:"expiresAt,omitempty"`
	UsageCount   int64         `db:"usage_count" json:"usageCount"`
	LastUsedAt   *time.Time    `db:"last_used_at" json:"lastUsedAt,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"createdAt"`
}

// Expired reports whether the key is past its expiry at t.
func (k *ApiKey) Expired(t time.Time) bool {
	return k.ExpiresAt != nil && t.After(*k.ExpiresAt)
}

// AgentMetrics are the monotonic counters and rolling average tracked per agent.
type AgentMetrics struct {
	TotalExecutions      int64   `json:"totalExecutions"`
	SuccessfulExecutions int64   `json:"successfulExecutions"`
	AvgDurationMs        float64 `json:"avgDurationMs"`
}

// Record folds one completed execution's duration into the rolling average.
func (m *AgentMetrics) Record(success bool, durationMs int64) {
	m.TotalExecutions++
	if success {
		m.SuccessfulExecutions++
	}
	n := float64(m.TotalExecutions)
	m.AvgDurationMs += (float64(durationMs) - m.AvgDurationMs) / n
}

// Scan implements sql.Scanner.
func (m *AgentMetrics) Scan(src any) error { return scanJSON(src, m) }

// Value implements driver.Valuer.
func (m AgentMetrics) Value() (driver.Value, error) { return json.Marshal(m) }

// ConfigBag is an opaque JSON configuration blob, size- and key-restricted
// at the boundary (see pkg/framework.ValidateConfigBag).
type ConfigBag map[string]any

// Scan implements sql.Scanner.
func (c *ConfigBag) Scan(src any) error { return scanJSON(src, c) }

// Value implements driver.Valuer.
func (c ConfigBag) Value() (driver.Value, error) {
	if c == nil {
		return json.Marshal(ConfigBag{})
	}
	return json.Marshal(c)
}

// StringList is a JSON-array-backed []string column (e.g. Agent.Tags).
type StringList []string

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error { return scanJSON(src, l) }

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) { return json.Marshal(l) }

// EventTypeList is a JSON-array-backed []EventType column.
type EventTypeList []EventType

// Scan implements sql.Scanner.
func (l *EventTypeList) Scan(src any) error { return scanJSON(src, l) }

// Value implements driver.Valuer.
func (l EventTypeList) Value() (driver.Value, error) { return json.Marshal(l) }

// Agent is a named configuration bound to a framework plugin.
type Agent struct {
	ID            string       `db:"id" json:"id"`
	OwnerID       string       `db:"owner_id" json:"ownerId"`
	Name          string       `db:"name" json:"name"`
	Framework     string       `db:"framework" json:"framework"`
	Configuration ConfigBag    `db:"configuration" json:"configuration"`
	Tags          StringList   `db:"tags" json:"tags"`
	Active        bool         `db:"active" json:"active"`
	Metrics       AgentMetrics `db:"metrics" json:"metrics"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
	DeletedAt     *time.Time   `db:"deleted_at" json:"-"`
}

// ExecutionState is a node in the execution lifecycle state machine.
type ExecutionState string

const (
	StatePending    ExecutionState = "pending"
	StateRunning    ExecutionState = "running"
	StateCancelling ExecutionState = "cancelling"
	StateCompleted  ExecutionState = "completed"
	StateFailed     ExecutionState = "failed"
	StateCancelled  ExecutionState = "cancelled"
	StateTimeout    ExecutionState = "timeout"
)

// Terminal reports whether s is a terminal state.
func (s ExecutionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimeout:
		return true
	default:
		return false
	}
}

// Priority is the execution's queue priority.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank maps priority to the integer used by the queue's ORDER BY (lower = first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Trigger identifies what caused an execution to be submitted.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerWebhook   Trigger = "webhook"
	TriggerRecurring Trigger = "recurring"
)

// Execution is one run of an agent over an input.
type Execution struct {
	ID          string          `db:"id" json:"id"`
	AgentID     string          `db:"agent_id" json:"agentId"`
	SubmitterID string          `db:"submitter_id" json:"submitterId"`
	State       ExecutionState  `db:"state" json:"state"`
	Priority    Priority        `db:"priority" json:"priority"`
	Input       json.RawMessage `db:"input" json:"input"`
	Output      json.RawMessage `db:"output" json:"output,omitempty"`
	Error       *string         `db:"error" json:"error,omitempty"`
	Trigger     Trigger         `db:"trigger" json:"trigger"`
	Environment string          `db:"environment" json:"environment"`
	TimeoutSec  int             `db:"timeout_sec" json:"timeoutSec"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	StartedAt   *time.Time      `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	DurationMs  *int64          `db:"duration_ms" json:"durationMs,omitempty"`
	TokensUsed  *int64          `db:"tokens_used" json:"tokensUsed,omitempty"`
	CostUsd     *float64        `db:"cost_usd" json:"costUsd,omitempty"`
	Metadata    ConfigBag       `db:"metadata" json:"metadata,omitempty"`
	DeletedAt   *time.Time      `db:"deleted_at" json:"-"`
}

// LogLevel is the severity of an ExecutionLog row.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
	LogFatal LogLevel = "fatal"
)

// ExecutionLog is one append-only log line in an execution's ordered stream.
type ExecutionLog struct {
	ID              string    `db:"id" json:"id"`
	ExecutionID     string    `db:"execution_id" json:"executionId"`
	Level           LogLevel  `db:"level" json:"level"`
	Message         string    `db:"message" json:"message"`
	Timestamp       time.Time `db:"timestamp" json:"timestamp"`
	ArrivalSequence int64     `db:"arrival_sequence" json:"arrivalSequence"`
	Metadata        ConfigBag `db:"metadata" json:"metadata,omitempty"`
}

// EventType enumerates the lifecycle events the bus and webhooks carry.
type EventType string

const (
	EventStarted   EventType = "execution.started"
	EventLog       EventType = "execution.log"
	EventProgress  EventType = "execution.progress"
	EventState     EventType = "execution.state"
	EventCompleted EventType = "execution.completed"
	EventFailed    EventType = "execution.failed"
	EventCancelled EventType = "execution.cancelled"
)

// Webhook is a user-registered HTTP delivery target.
type Webhook struct {
	ID                        string      `db:"id" json:"id"`
	OwnerID                   string      `db:"owner_id" json:"ownerId"`
	URL                       string        `db:"url" json:"url"`
	SubscribedEvents          EventTypeList `db:"subscribed_events" json:"subscribedEvents"`
	Secret                    string      `db:"secret" json:"-"`
	Active                    bool        `db:"active" json:"active"`
	ConsecutiveFailuresWindow int         `db:"consecutive_failures_window" json:"consecutiveFailuresWindow"`
	CreatedAt                 time.Time   `db:"created_at" json:"createdAt"`
}

// Subscribes reports whether the webhook wants events of type t.
func (w *Webhook) Subscribes(t EventType) bool {
	for _, e := range w.SubscribedEvents {
		if e == t {
			return true
		}
	}
	return false
}

// DeliveryState is the lifecycle of one webhook delivery attempt chain.
type DeliveryState string

const (
	DeliveryPending    DeliveryState = "pending"
	DeliveryDelivering DeliveryState = "delivering"
	DeliveryDelivered  DeliveryState = "delivered"
	DeliveryRetry      DeliveryState = "retry"
	DeliveryFailed     DeliveryState = "failed"
)

// MaxDeliveryAttempts is the hard cap on attemptCount before a delivery fails permanently.
const MaxDeliveryAttempts = 5

// WebhookDelivery is one enqueued delivery of a lifecycle event to a webhook.
type WebhookDelivery struct {
	ID             string          `db:"id" json:"id"`
	WebhookID      string          `db:"webhook_id" json:"webhookId"`
	EventID        string          `db:"event_id" json:"eventId"`
	EventType      EventType       `db:"event_type" json:"eventType"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	State          DeliveryState   `db:"state" json:"state"`
	AttemptCount   int             `db:"attempt_count" json:"attemptCount"`
	ScheduledAt    time.Time       `db:"scheduled_at" json:"scheduledAt"`
	DeliveredAt    *time.Time      `db:"delivered_at" json:"deliveredAt,omitempty"`
	FailedAt       *time.Time      `db:"failed_at" json:"failedAt,omitempty"`
	LastStatusCode *int            `db:"last_status_code" json:"lastStatusCode,omitempty"`
	LastError      *string         `db:"last_error" json:"lastError,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
}

// ScheduledJob is a deferred or recurring user-initiated execution trigger.
type ScheduledJob struct {
	ID          string     `db:"id" json:"id"`
	JobKey      string     `db:"job_key" json:"jobKey"`
	AgentID     string     `db:"agent_id" json:"agentId"`
	OwnerID     string     `db:"owner_id" json:"ownerId"`
	CronSpec    *string    `db:"cron_spec" json:"cronSpec,omitempty"`
	RunAt       *time.Time `db:"run_at" json:"runAt,omitempty"`
	NextRunAt   time.Time  `db:"next_run_at" json:"nextRunAt"`
	LastRunAt   *time.Time `db:"last_run_at" json:"lastRunAt,omitempty"`
	Active      bool       `db:"active" json:"active"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// ApiUsage is one admitted-request analytics row.
type ApiUsage struct {
	ID        string    `db:"id" json:"id"`
	ApiKeyID  *string   `db:"api_key_id" json:"apiKeyId,omitempty"`
	Endpoint  string    `db:"endpoint" json:"endpoint"`
	Method    string    `db:"method" json:"method"`
	Status    int       `db:"status" json:"status"`
	IP        string    `db:"ip" json:"ip"`
	UserAgent string    `db:"user_agent" json:"userAgent"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}
