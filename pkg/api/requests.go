package api

import "encoding/json"

// submitExecutionRequest is the body of POST /executions (§6).
type submitExecutionRequest struct {
	AgentID       string          `json:"agentId" validate:"required,uuid"`
	Input         json.RawMessage `json:"input" validate:"required"`
	Configuration map[string]any  `json:"configuration,omitempty"`
	Environment   string          `json:"environment,omitempty"`
	Trigger       string          `json:"trigger,omitempty" validate:"omitempty,oneof=manual scheduled webhook recurring"`
	Priority      string          `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
	TimeoutSec    int             `json:"timeoutSec,omitempty" validate:"omitempty,min=1,max=3600"`
}

// registerWebhookRequest is the body of POST /webhooks (§6).
type registerWebhookRequest struct {
	URL    string   `json:"url" validate:"required,http_url"`
	Events []string `json:"events" validate:"required,min=1"`
	Secret string   `json:"secret,omitempty" validate:"omitempty,min=16"`
}

// updateWebhookRequest is the body of PUT /webhooks/{id} (§6). Zero-value
// fields are left unchanged.
type updateWebhookRequest struct {
	URL    *string  `json:"url,omitempty" validate:"omitempty,http_url"`
	Events []string `json:"events,omitempty"`
	Active *bool    `json:"active,omitempty"`
}
