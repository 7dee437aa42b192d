package api

import "github.com/agentorchestra/orchestra/pkg/models"

// submitExecutionResponse is returned by POST /executions (§6).
type submitExecutionResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
}

// executionDetailResponse is returned by GET /executions/{id}: the row plus
// a tail of recent logs (§4.1 status operation).
type executionDetailResponse struct {
	Execution *models.Execution     `json:"execution"`
	Logs      []models.ExecutionLog `json:"logs"`
}

// logsPageResponse is returned by GET /executions/{id}/logs (§6).
type logsPageResponse struct {
	Logs   []models.ExecutionLog `json:"logs"`
	Offset int                   `json:"offset"`
	Limit  int                   `json:"limit"`
}

// cancelResponse is returned by DELETE /executions/{id} (§6).
type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// webhookResponse is returned by POST/PUT /webhooks/{id} (§6). The secret
// is included only on creation (one-time visibility), never on later reads.
type webhookResponse struct {
	ID                        string   `json:"id"`
	URL                       string   `json:"url"`
	SubscribedEvents          []string `json:"subscribedEvents"`
	Active                    bool     `json:"active"`
	ConsecutiveFailuresWindow int      `json:"consecutiveFailuresWindow"`
	Secret                    string   `json:"secret,omitempty"`
}

func newWebhookResponse(w *models.Webhook, includeSecret bool) webhookResponse {
	events := make([]string, len(w.SubscribedEvents))
	for i, e := range w.SubscribedEvents {
		events[i] = string(e)
	}
	resp := webhookResponse{
		ID:                        w.ID,
		URL:                       w.URL,
		SubscribedEvents:          events,
		Active:                    w.Active,
		ConsecutiveFailuresWindow: w.ConsecutiveFailuresWindow,
	}
	if includeSecret {
		resp.Secret = w.Secret
	}
	return resp
}

// webhookStatsResponse is returned by GET /webhooks/{id}/stats (§6): the
// delivery history for a window plus a rollup count per state.
type webhookStatsResponse struct {
	WebhookID  string                     `json:"webhookId"`
	Active     bool                       `json:"active"`
	Deliveries []models.WebhookDelivery   `json:"deliveries"`
	ByState    map[models.DeliveryState]int `json:"byState"`
}

// healthResponse is returned by GET /health (§6): per-dependency status,
// uptime, and a queue backlog snapshot.
type healthResponse struct {
	Status       string           `json:"status"`
	UptimeSec    float64          `json:"uptimeSec"`
	Dependencies map[string]string `json:"dependencies"`
	Queue        queueBacklog     `json:"queue"`
}

type queueBacklog struct {
	PendingExecutions int `json:"pendingExecutions"`
	RunningExecutions int `json:"runningExecutions"`
}
