package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/store"
	testdb "github.com/agentorchestra/orchestra/test/database"
)

// blockingPlugin waits until ctx or pctx.Done fires, used to exercise the
// timeout and cancellation paths.
type blockingPlugin struct{}

func (blockingPlugin) Validate(map[string]any) framework.ValidationResult {
	return framework.ValidationResult{OK: true}
}
func (blockingPlugin) Schema() map[string]any { return map[string]any{} }
func (blockingPlugin) Execute(ctx context.Context, pctx framework.Context) (framework.Result, error) {
	select {
	case <-ctx.Done():
		return framework.Result{}, ctx.Err()
	case <-pctx.Done:
		return framework.Result{}, ctx.Err()
	}
}

func setupEngine(t *testing.T, cfg Config, plugins map[string]framework.Plugin) (*Engine, *store.Store, *models.User, *models.Agent) {
	t.Helper()
	client := testdb.NewTestClient(t)
	s := store.New(client.DB)

	registry := framework.NewRegistry()
	for tag, p := range plugins {
		registry.Register(tag, p)
	}
	registry.Freeze()

	bus := events.NewBus()
	publisher := events.NewPublisher(nil, bus)

	e := New(s, registry, publisher, cfg, 0)

	user := &models.User{ID: uuid.NewString(), Role: models.RoleUser, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateUser(context.Background(), user))

	var tag string
	for k := range plugins {
		tag = k
		break
	}
	agent := &models.Agent{
		ID: uuid.NewString(), OwnerID: user.ID, Name: "test-agent", Framework: tag,
		Configuration: models.ConfigBag{}, Tags: models.StringList{}, Active: true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAgent(context.Background(), agent))

	return e, s, user, agent
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WorkerCount = 2
	cfg.PollInterval = 20 * time.Millisecond
	cfg.PollIntervalJitter = 10 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.DefaultTimeout = 2 * time.Second
	return cfg
}

func TestEngine_SubmitAndRunToCompletion(t *testing.T) {
	e, s, user, agent := setupEngine(t, testConfig(), map[string]framework.Plugin{"echo": framework.EchoPlugin{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	exec, err := e.Submit(context.Background(), SubmitRequest{
		AgentID: agent.ID, SubmitterID: user.ID, Input: json.RawMessage(`{"x":1}`),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, getErr := s.GetExecution(context.Background(), exec.ID)
		return getErr == nil && got.State == models.StateCompleted
	}, 2*time.Second, 20*time.Millisecond)

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, got.State)
	require.NotNil(t, got.Output)
}

func TestEngine_SubmitRejectsInactiveAgent(t *testing.T) {
	e, s, user, _ := setupEngine(t, testConfig(), map[string]framework.Plugin{"echo": framework.EchoPlugin{}})

	inactive := &models.Agent{
		ID: uuid.NewString(), OwnerID: user.ID, Name: "inactive-agent", Framework: "echo",
		Configuration: models.ConfigBag{}, Tags: models.StringList{}, Active: false,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAgent(context.Background(), inactive))

	_, err := e.Submit(context.Background(), SubmitRequest{AgentID: inactive.ID, SubmitterID: user.ID, Input: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrAgentInactive)
}

func TestEngine_SubmitRejectsAgentBusy(t *testing.T) {
	e, _, user, agent := setupEngine(t, testConfig(), map[string]framework.Plugin{"block": blockingPlugin{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	first, err := e.Submit(context.Background(), SubmitRequest{AgentID: agent.ID, SubmitterID: user.ID, Input: json.RawMessage(`{}`)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, getErr := e.store.GetExecution(context.Background(), first.ID)
		return getErr == nil && got.State == models.StateRunning
	}, time.Second, 10*time.Millisecond)

	_, err = e.Submit(context.Background(), SubmitRequest{AgentID: agent.ID, SubmitterID: user.ID, Input: json.RawMessage(`{}`)})
	require.Error(t, err)
	var busy *ErrAgentBusyConflict
	require.ErrorAs(t, err, &busy)
	require.Equal(t, first.ID, busy.ConflictingExecutionID)
}

func TestEngine_CancelStopsRunningExecutionPromptly(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 30 * time.Millisecond
	e, s, user, agent := setupEngine(t, cfg, map[string]framework.Plugin{"block": blockingPlugin{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	exec, err := e.Submit(context.Background(), SubmitRequest{AgentID: agent.ID, SubmitterID: user.ID, Input: json.RawMessage(`{}`)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, getErr := s.GetExecution(context.Background(), exec.ID)
		return getErr == nil && got.State == models.StateRunning
	}, time.Second, 10*time.Millisecond)

	ok, err := e.Cancel(context.Background(), exec.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		got, getErr := s.GetExecution(context.Background(), exec.ID)
		return getErr == nil && got.State.Terminal()
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_CancelIsIdempotentOnTerminalExecution(t *testing.T) {
	e, s, user, agent := setupEngine(t, testConfig(), map[string]framework.Plugin{"echo": framework.EchoPlugin{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	exec, err := e.Submit(context.Background(), SubmitRequest{AgentID: agent.ID, SubmitterID: user.ID, Input: json.RawMessage(`{}`)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, getErr := s.GetExecution(context.Background(), exec.ID)
		return getErr == nil && got.State == models.StateCompleted
	}, 2*time.Second, 20*time.Millisecond)

	ok, err := e.Cancel(context.Background(), exec.ID)
	require.NoError(t, err)
	require.False(t, ok)
}
