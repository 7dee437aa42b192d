package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentorchestra/orchestra/pkg/models"
)

// waitHealthy blocks until the HTTP server answers /health.
func (app *TestApp) waitHealthy() {
	app.t.Helper()
	require.Eventually(app.t, func() bool {
		resp, err := http.Get(app.BaseURL + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 25*time.Millisecond)
}

// CreateUserAndKey provisions a user plus an API key bearer carrying caps.
func (app *TestApp) CreateUserAndKey(caps ...models.Capability) (*models.User, string) {
	app.t.Helper()
	ctx := context.Background()

	user := &models.User{ID: uuid.NewString(), Role: models.RoleUser, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(app.t, app.Store.CreateUser(ctx, user))

	if len(caps) == 0 {
		caps = []models.Capability{models.CapExecutionsWrite, models.CapExecutionsRead, models.CapWebhooksWrite}
	}
	bearer, _, err := app.Auth.IssueAPIKey(ctx, user.ID, models.CapabilitySet(caps), nil)
	require.NoError(app.t, err)
	return user, bearer
}

// CreateAgent provisions an active agent for owner bound to frameworkTag.
func (app *TestApp) CreateAgent(owner *models.User, frameworkTag string) *models.Agent {
	app.t.Helper()
	agent := &models.Agent{
		ID: uuid.NewString(), OwnerID: owner.ID, Name: "agent-" + uuid.NewString()[:8],
		Framework: frameworkTag, Configuration: models.ConfigBag{}, Tags: models.StringList{},
		Active: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(app.t, app.Store.CreateAgent(context.Background(), agent))
	return agent
}

// DoJSON issues one authenticated JSON request and decodes the response
// body into a generic map (nil for empty bodies).
func (app *TestApp) DoJSON(method, path, bearer string, body any) (int, map[string]any) {
	app.t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(app.t, err)
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, app.BaseURL+path, reqBody)
	require.NoError(app.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(app.t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

// SubmitExecution POSTs /api/executions and returns the response status
// and decoded body.
func (app *TestApp) SubmitExecution(bearer, agentID string, input any) (int, map[string]any) {
	app.t.Helper()
	return app.DoJSON(http.MethodPost, "/api/executions", bearer, map[string]any{
		"agentId": agentID,
		"input":   input,
	})
}

// WaitForState polls until the execution reaches state, failing the test
// after timeout.
func (app *TestApp) WaitForState(executionID string, state models.ExecutionState, timeout time.Duration) *models.Execution {
	app.t.Helper()
	var got *models.Execution
	require.Eventually(app.t, func() bool {
		exec, err := app.Store.GetExecution(context.Background(), executionID)
		if err != nil {
			return false
		}
		got = exec
		return exec.State == state
	}, timeout, 25*time.Millisecond, "execution %s never reached %s (last state: %v)", executionID, state, stateOf(got))
	return got
}

// WaitForTerminal polls until the execution reaches any terminal state.
func (app *TestApp) WaitForTerminal(executionID string, timeout time.Duration) *models.Execution {
	app.t.Helper()
	var got *models.Execution
	require.Eventually(app.t, func() bool {
		exec, err := app.Store.GetExecution(context.Background(), executionID)
		if err != nil {
			return false
		}
		got = exec
		return exec.State.Terminal()
	}, timeout, 25*time.Millisecond, "execution %s never reached a terminal state (last: %v)", executionID, stateOf(got))
	return got
}

func stateOf(e *models.Execution) string {
	if e == nil {
		return "<not found>"
	}
	return string(e.State)
}

// executionIDFrom extracts the executionId field of a submit response.
func executionIDFrom(t *testing.T, body map[string]any) string {
	t.Helper()
	id, ok := body["executionId"].(string)
	require.True(t, ok, "response has no executionId: %v", body)
	return id
}

// localhostURL rewrites an httptest server URL (always 127.0.0.1) to the
// literal "localhost" host the webhook URL-hygiene rule admits in
// non-production configurations.
func localhostURL(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return "http://localhost:" + u.Port()
}
