package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentorchestra/orchestra/pkg/engine"
	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/store"
	testdb "github.com/agentorchestra/orchestra/test/database"
)

func setupScheduler(t *testing.T, cfg Config) (*Scheduler, *store.Store, *engine.Engine, *models.User, *models.Agent) {
	t.Helper()
	client := testdb.NewTestClient(t)
	s := store.New(client.DB)

	registry := framework.NewRegistry()
	registry.Register("echo", framework.EchoPlugin{})
	registry.Freeze()

	bus := events.NewBus()
	publisher := events.NewPublisher(nil, bus)

	engCfg := engine.DefaultConfig()
	engCfg.WorkerCount = 1
	engCfg.PollInterval = 20 * time.Millisecond
	engCfg.PollIntervalJitter = 10 * time.Millisecond
	engCfg.HeartbeatInterval = 50 * time.Millisecond
	eng := engine.New(s, registry, publisher, engCfg, 0)

	user := &models.User{ID: uuid.NewString(), Role: models.RoleUser, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateUser(context.Background(), user))

	agent := &models.Agent{
		ID: uuid.NewString(), OwnerID: user.ID, Name: "test-agent", Framework: "echo",
		Configuration: models.ConfigBag{}, Tags: models.StringList{}, Active: true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAgent(context.Background(), agent))

	sch := New(s, eng, cfg)
	return sch, s, eng, user, agent
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 20 * time.Millisecond
	// far-future boot-declared jobs so they never fire mid-test
	cfg.ExecutionCleanupCron = "0 0 1 1 *"
	cfg.LogCleanupCron = "0 0 1 1 *"
	return cfg
}

func TestScheduler_ScheduleAtDispatchesOnce(t *testing.T) {
	sch, s, eng, user, agent := setupScheduler(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	defer eng.Stop()
	require.NoError(t, sch.Start(ctx))
	defer sch.Stop()

	job, err := sch.ScheduleAt(context.Background(), agent.ID, user.ID, time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := s.GetScheduledJob(context.Background(), job.ID)
		return err == nil && !got.Active
	}, 2*time.Second, 20*time.Millisecond)

	count, err := s.CountNonTerminalForUser(context.Background(), user.ID)
	require.NoError(t, err)
	_ = count // execution may already be terminal by the time we check; dispatch itself is what's under test
}

func TestScheduler_ScheduleRecurringReplacesSameKey(t *testing.T) {
	sch, _, _, user, agent := setupScheduler(t, testConfig())

	first, err := sch.ScheduleRecurring(context.Background(), agent.ID, user.ID, "0 0 * * *")
	require.NoError(t, err)

	second, err := sch.ScheduleRecurring(context.Background(), agent.ID, user.ID, "0 12 * * *")
	require.NoError(t, err)

	require.Equal(t, first.JobKey, second.JobKey)
}

func TestScheduler_RejectsInvalidCronSpec(t *testing.T) {
	sch, _, _, user, agent := setupScheduler(t, testConfig())

	_, err := sch.ScheduleRecurring(context.Background(), agent.ID, user.ID, "not-a-cron-spec")
	require.Error(t, err)
}
