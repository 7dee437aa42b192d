package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/models"
)

// Happy path: submit against an echo agent, watch it run to completion,
// and check output, logs and the agent's metric rollup.
func TestE2E_HappyPath(t *testing.T) {
	app := NewTestApp(t)
	user, bearer := app.CreateUserAndKey()
	agent := app.CreateAgent(user, "echo")

	status, body := app.SubmitExecution(bearer, agent.ID, "hello")
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "queued", body["status"])
	execID := executionIDFrom(t, body)

	exec := app.WaitForTerminal(execID, 5*time.Second)
	require.Equal(t, models.StateCompleted, exec.State)

	var output map[string]any
	require.NoError(t, json.Unmarshal(exec.Output, &output))
	content, _ := output["content"].(string)
	require.Contains(t, content, "hello")

	logs, err := app.Store.ListLogs(context.Background(), execID, string(models.LogInfo), 0, 100)
	require.NoError(t, err)
	require.NotEmpty(t, logs)

	got, err := app.Store.GetAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Metrics.TotalExecutions)
	assert.Equal(t, int64(1), got.Metrics.SuccessfulExecutions)

	// The detail endpoint returns the row plus a log tail in one trip.
	status, detail := app.DoJSON(http.MethodGet, "/api/executions/"+execID, bearer, nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, detail["execution"])
	require.NotEmpty(t, detail["logs"])
}

// Single-flight: a second submission against a busy agent is rejected with
// the in-flight execution's id; once that terminates, a third succeeds.
func TestE2E_SingleFlight(t *testing.T) {
	blocking := &BlockingPlugin{Started: make(chan struct{}, 1)}
	app := NewTestApp(t, WithPlugins(map[string]framework.Plugin{"block": blocking}))
	user, bearer := app.CreateUserAndKey()
	agent := app.CreateAgent(user, "block")

	status, body := app.SubmitExecution(bearer, agent.ID, "first")
	require.Equal(t, http.StatusCreated, status)
	firstID := executionIDFrom(t, body)

	status, conflict := app.SubmitExecution(bearer, agent.ID, "second")
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "AgentBusy", conflict["error"])
	details, _ := conflict["details"].([]any)
	require.Len(t, details, 1)
	require.Equal(t, firstID, details[0])

	select {
	case <-blocking.Started:
	case <-time.After(2 * time.Second):
		t.Fatal("first execution never started")
	}
	status, _ = app.DoJSON(http.MethodDelete, "/api/executions/"+firstID, bearer, nil)
	require.Equal(t, http.StatusOK, status)
	app.WaitForTerminal(firstID, 3*time.Second)

	status, _ = app.SubmitExecution(bearer, agent.ID, "third")
	require.Equal(t, http.StatusCreated, status)
}

// Cancellation: a blocking execution is cancelled over HTTP; the terminal
// state and duration land within the bounded cancel latency.
func TestE2E_Cancellation(t *testing.T) {
	blocking := &BlockingPlugin{Started: make(chan struct{}, 1)}
	app := NewTestApp(t, WithPlugins(map[string]framework.Plugin{"block": blocking}))
	user, bearer := app.CreateUserAndKey()
	agent := app.CreateAgent(user, "block")

	status, body := app.SubmitExecution(bearer, agent.ID, "will be cancelled")
	require.Equal(t, http.StatusCreated, status)
	execID := executionIDFrom(t, body)

	select {
	case <-blocking.Started:
	case <-time.After(2 * time.Second):
		t.Fatal("execution never started")
	}

	status, cancelBody := app.DoJSON(http.MethodDelete, "/api/executions/"+execID, bearer, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, cancelBody["cancelled"])

	exec := app.WaitForState(execID, models.StateCancelled, 2*time.Second)
	require.NotNil(t, exec.DurationMs)
	require.Nil(t, exec.Error)

	// Cancelling an already-terminal execution is a no-op returning false.
	status, cancelBody = app.DoJSON(http.MethodDelete, "/api/executions/"+execID, bearer, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, cancelBody["cancelled"])
}

// Rate limit: with a budget of 5 per window, the sixth request is rejected
// with 429 and a resetAt timestamp.
func TestE2E_RateLimit(t *testing.T) {
	app := NewTestApp(t, WithRateLimit(5, time.Minute))
	user, bearer := app.CreateUserAndKey()

	statuses := make([]int, 0, 6)
	var lastBody map[string]any
	for i := 0; i < 6; i++ {
		agent := app.CreateAgent(user, "echo")
		status, body := app.SubmitExecution(bearer, agent.ID, "ping")
		statuses = append(statuses, status)
		lastBody = body
	}

	require.Equal(t, []int{201, 201, 201, 201, 201, 429}, statuses)
	resetAt, ok := lastBody["resetAt"].(string)
	require.True(t, ok, "429 body missing resetAt: %v", lastBody)
	parsed, err := time.Parse(time.RFC3339, resetAt)
	require.NoError(t, err)
	require.True(t, parsed.After(time.Now().Add(-time.Second)))
}

// Per-user concurrency ceiling: submissions beyond MaxConcurrentPerUser
// are rejected until capacity frees up.
func TestE2E_PerUserConcurrencyCeiling(t *testing.T) {
	blocking := &BlockingPlugin{}
	app := NewTestApp(t,
		WithPlugins(map[string]framework.Plugin{"block": blocking}),
		WithMaxConcurrentPerUser(2),
	)
	user, bearer := app.CreateUserAndKey()

	var ids []string
	for i := 0; i < 2; i++ {
		agent := app.CreateAgent(user, "block")
		status, body := app.SubmitExecution(bearer, agent.ID, "occupy")
		require.Equal(t, http.StatusCreated, status)
		ids = append(ids, executionIDFrom(t, body))
	}

	extra := app.CreateAgent(user, "block")
	status, body := app.SubmitExecution(bearer, extra.ID, "over the limit")
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "ConcurrencyExceeded", body["error"])

	for _, id := range ids {
		_, _ = app.DoJSON(http.MethodDelete, "/api/executions/"+id, bearer, nil)
		app.WaitForTerminal(id, 3*time.Second)
	}

	status, _ = app.SubmitExecution(bearer, extra.ID, "fits now")
	require.Equal(t, http.StatusCreated, status)
}

// Authorization: a foreign user can neither read nor cancel someone
// else's execution, and submissions against foreign agents 404.
func TestE2E_OwnershipIsolation(t *testing.T) {
	app := NewTestApp(t)
	owner, ownerBearer := app.CreateUserAndKey()
	_, strangerBearer := app.CreateUserAndKey()
	agent := app.CreateAgent(owner, "echo")

	status, body := app.SubmitExecution(ownerBearer, agent.ID, "mine")
	require.Equal(t, http.StatusCreated, status)
	execID := executionIDFrom(t, body)
	app.WaitForTerminal(execID, 5*time.Second)

	status, _ = app.SubmitExecution(strangerBearer, agent.ID, "not mine")
	require.Equal(t, http.StatusNotFound, status)

	status, _ = app.DoJSON(http.MethodGet, "/api/executions/"+execID, strangerBearer, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = app.DoJSON(http.MethodDelete, "/api/executions/"+execID, strangerBearer, nil)
	require.Equal(t, http.StatusNotFound, status)
}

// Capability enforcement: a key without executions:write cannot submit but
// can still read.
func TestE2E_CapabilityEnforcement(t *testing.T) {
	app := NewTestApp(t)
	user, readOnly := app.CreateUserAndKey(models.CapExecutionsRead)
	agent := app.CreateAgent(user, "echo")

	status, body := app.SubmitExecution(readOnly, agent.ID, "denied")
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Forbidden", body["error"])

	// A second key for the same user, this time carrying write capability.
	fullBearer, _, err := app.Auth.IssueAPIKey(context.Background(), user.ID,
		models.CapabilitySet{models.CapExecutionsWrite, models.CapExecutionsRead}, nil)
	require.NoError(t, err)

	status, body = app.SubmitExecution(fullBearer, agent.ID, "permitted")
	require.Equal(t, http.StatusCreated, status)
	execID := executionIDFrom(t, body)

	status, _ = app.DoJSON(http.MethodGet, "/api/executions/"+execID, readOnly, nil)
	require.Equal(t, http.StatusOK, status)
}

// Usage analytics: every admitted request leaves an api_usage row bound to
// the API key that made it.
func TestE2E_UsageRowsRecorded(t *testing.T) {
	app := NewTestApp(t)
	user, bearer := app.CreateUserAndKey()
	agent := app.CreateAgent(user, "echo")

	status, _ := app.SubmitExecution(bearer, agent.ID, "tracked")
	require.Equal(t, http.StatusCreated, status)

	keyID := strings.Split(bearer, "_")[1]
	require.Eventually(t, func() bool {
		var n int
		err := app.DBClient.GetContext(context.Background(), &n,
			`SELECT count(*) FROM api_usage WHERE api_key_id = $1`, keyID)
		return err == nil && n >= 1
	}, 2*time.Second, 25*time.Millisecond)
}
