// Package engine is the dispatch core: validates and queues executions,
// runs a worker pool that claims and executes them against framework
// plugins, and exposes cancellation and health.
//
// Grounded on the teacher's pkg/queue (WorkerPool/Worker/orphan detection),
// generalized from its ent-backed, hardcoded-executor session queue to
// pkg/store's SQL claim pattern and pkg/framework's plugin registry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/masking"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/store"
)

// ErrAgentBusyConflict is returned by Submit when the agent already has a
// non-terminal execution; ConflictingExecutionID lets the caller surface it
// (S2: "agent busy" response names the execution already running).
type ErrAgentBusyConflict struct {
	ConflictingExecutionID string
}

func (e *ErrAgentBusyConflict) Error() string {
	return fmt.Sprintf("agent busy: execution %s already in flight", e.ConflictingExecutionID)
}

func (e *ErrAgentBusyConflict) Unwrap() error { return store.ErrAgentBusy }

// Engine is the process-wide submit/cancel/dispatch façade. One Engine per
// orchestrator instance; Start spins up its worker pool.
type Engine struct {
	store     *store.Store
	registry  *framework.Registry
	publisher *events.Publisher
	masker    *masking.Policy
	executor  sessionExecutor
	config    Config

	maxConcurrentPerUser int

	mu          sync.Mutex
	cancelFuncs map[string]context.CancelFunc
	logSeqs     map[string]*atomic.Int64

	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New builds an Engine. maxConcurrentPerUser is the §8 invariant 4 ceiling.
func New(s *store.Store, registry *framework.Registry, publisher *events.Publisher, cfg Config, maxConcurrentPerUser int) *Engine {
	e := &Engine{
		store:                s,
		registry:             registry,
		publisher:            publisher,
		config:               cfg,
		maxConcurrentPerUser: maxConcurrentPerUser,
		cancelFuncs:          make(map[string]context.CancelFunc),
		logSeqs:              make(map[string]*atomic.Int64),
		stopCh:               make(chan struct{}),
	}
	e.executor = newPluginExecutor(registry)
	return e
}

// SetMasker installs the secret-redaction policy applied to every log
// message before it is persisted or published. Optional: a nil policy
// (the default) leaves log messages unredacted, matching the teacher's
// opt-in masking configuration.
func (e *Engine) SetMasker(m *masking.Policy) {
	e.masker = m
}

// Submit validates req against its agent's plugin and persists a pending
// execution (§4.1). Validation happens twice in the system's lifetime —
// here at dispatch time, and again at agent create/update — so a plugin
// change between the two still gets caught before anything runs.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*models.Execution, error) {
	agent, err := e.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if agent.OwnerID != req.SubmitterID {
		return nil, store.ErrNotFound
	}
	if !agent.Active {
		return nil, ErrAgentInactive
	}

	plugin, err := e.registry.Lookup(agent.Framework)
	if err != nil {
		return nil, err
	}

	configuration := framework.Overlay(agent.Configuration, req.Overrides)
	if err := framework.ValidateConfigBag(configuration); err != nil {
		return nil, err
	}
	if result := plugin.Validate(configuration); !result.OK {
		return nil, &ErrValidation{Errors: result.Errors}
	}

	count, err := e.store.CountNonTerminalForUser(ctx, req.SubmitterID)
	if err != nil {
		return nil, err
	}
	if e.maxConcurrentPerUser > 0 && count >= e.maxConcurrentPerUser {
		return nil, &ErrConcurrencyLimit{Limit: e.maxConcurrentPerUser}
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = models.TriggerManual
	}
	environment := req.Environment
	if environment == "" {
		environment = "production"
	}
	timeoutSec := req.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = int(e.config.DefaultTimeout.Seconds())
	}
	if max := int(e.config.MaxTimeout.Seconds()); max > 0 && timeoutSec > max {
		timeoutSec = max
	}

	// Overrides are stashed in Metadata so the worker can rebuild the exact
	// overlaid configuration at dispatch time without re-reading req.
	overrides := models.ConfigBag(req.Overrides)
	if overrides == nil {
		overrides = models.ConfigBag{}
	}

	exec := &models.Execution{
		ID:          uuid.NewString(),
		AgentID:     agent.ID,
		SubmitterID: req.SubmitterID,
		State:       models.StatePending,
		Priority:    priority,
		Input:       req.Input,
		Trigger:     trigger,
		Environment: environment,
		TimeoutSec:  timeoutSec,
		CreatedAt:   time.Now().UTC(),
		Metadata:    overrides,
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		if errors.Is(err, store.ErrAgentBusy) {
			if active, activeErr := e.store.ActiveExecutionForAgent(ctx, agent.ID); activeErr == nil {
				return nil, &ErrAgentBusyConflict{ConflictingExecutionID: active.ID}
			}
			return nil, err
		}
		return nil, err
	}

	if e.publisher != nil {
		_ = e.publisher.Publish(ctx, events.NewState(exec.ID, exec.AgentID, exec.SubmitterID, models.StatePending))
	}
	return exec, nil
}

// Cancel flips the execution's persisted state to cancelled and, if it is
// running on this instance, invokes its cancel func immediately. A
// cross-instance cancel is picked up by that instance's heartbeat loop
// within Config.HeartbeatInterval (bounded-latency cancellation, §8
// invariant 1/10).
func (e *Engine) Cancel(ctx context.Context, executionID string) (bool, error) {
	ok, err := e.store.CancelExecution(ctx, executionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	cancel, found := e.cancelFuncs[executionID]
	e.mu.Unlock()
	if found {
		cancel()
	}

	if e.publisher != nil {
		if exec, getErr := e.store.GetExecution(ctx, executionID); getErr == nil {
			_ = e.publisher.Publish(ctx, events.NewCancelled(exec.ID, exec.AgentID, exec.SubmitterID, "cancelled by request"))
		}
	}
	return true, nil
}

// nextLogSeq returns executionID's next monotonic arrival sequence,
// allocating a fresh counter on first use and releasing it when the
// execution's worker finishes (see worker.go).
func (e *Engine) nextLogSeq(executionID string) int64 {
	e.mu.Lock()
	c, ok := e.logSeqs[executionID]
	if !ok {
		c = &atomic.Int64{}
		e.logSeqs[executionID] = c
	}
	e.mu.Unlock()
	return c.Add(1)
}

func (e *Engine) releaseLogSeq(executionID string) {
	e.mu.Lock()
	delete(e.logSeqs, executionID)
	e.mu.Unlock()
}

func (e *Engine) registerCancel(executionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancelFuncs[executionID] = cancel
	e.mu.Unlock()
}

func (e *Engine) unregisterCancel(executionID string) {
	e.mu.Lock()
	delete(e.cancelFuncs, executionID)
	e.mu.Unlock()
}
