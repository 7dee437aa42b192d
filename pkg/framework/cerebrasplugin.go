package framework

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// CerebrasConfig is the declarative shape CerebrasPlugin.Schema describes
// and Validate enforces (§4.2: "model, temperature, max-tokens").
type CerebrasConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// CerebrasPlugin invokes a Cerebras-compatible chat-completions endpoint.
// A circuit breaker guards the HTTP call so a wedged upstream provider
// can't starve the worker pool (grounded on jordigilh-kubernaut's breaker
// wrapping an external remediation engine).
type CerebrasPlugin struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewCerebrasPlugin constructs a plugin with a breaker that trips after 3
// consecutive failures and resets after 30s, mirroring the teacher pack's
// breaker settings (jordigilh-kubernaut's notification breaker).
func NewCerebrasPlugin(baseURL, apiKey string) *CerebrasPlugin {
	return &CerebrasPlugin{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "cerebras",
			MaxRequests: 2,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Validate checks the configuration decodes into CerebrasConfig with sane ranges.
func (p *CerebrasPlugin) Validate(configuration map[string]any) ValidationResult {
	cfg, err := decodeCerebrasConfig(configuration)
	if err != nil {
		return ValidationResult{OK: false, Errors: []string{err.Error()}}
	}
	var errs []string
	if cfg.Model == "" {
		errs = append(errs, "model is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		errs = append(errs, "temperature must be within [0,2]")
	}
	if cfg.MaxTokens < 1 {
		errs = append(errs, "maxTokens must be at least 1")
	}
	if len(errs) > 0 {
		return ValidationResult{OK: false, Errors: errs}
	}
	return ValidationResult{OK: true}
}

// Schema declares the accepted configuration keys.
func (p *CerebrasPlugin) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"model":       map[string]any{"type": "string"},
			"temperature": map[string]any{"type": "number", "minimum": 0, "maximum": 2},
			"maxTokens":   map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []string{"model"},
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []chatMsg `json:"messages"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMsg `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Execute sends one chat-completions request and returns the response text
// as output. Streaming is intentionally not implemented here: see
// DESIGN.md — this plugin exercises the non-streaming path; a streaming
// variant would deliver deltas through pctx.Log the same way.
func (p *CerebrasPlugin) Execute(ctx context.Context, pctx Context) (Result, error) {
	cfg, err := decodeCerebrasConfig(pctx.Configuration)
	if err != nil {
		return Result{}, fmt.Errorf("invalid cerebras configuration: %w", err)
	}

	var input string
	if err := json.Unmarshal(pctx.Input, &input); err != nil {
		input = string(pctx.Input)
	}

	reqBody, err := json.Marshal(chatCompletionRequest{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Messages:    []chatMsg{{Role: "user", Content: input}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	if pctx.Log != nil {
		pctx.Log("info", fmt.Sprintf("dispatching to cerebras model %s", cfg.Model), nil)
	}

	result, err := p.breaker.Execute(func() (any, error) {
		return p.call(ctx, reqBody)
	})
	if err != nil {
		return Result{}, fmt.Errorf("cerebras call failed: %w", err)
	}

	resp := result.(*chatCompletionResponse)
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("cerebras returned no choices")
	}

	output, err := json.Marshal(map[string]any{"content": resp.Choices[0].Message.Content})
	if err != nil {
		return Result{}, fmt.Errorf("marshal output: %w", err)
	}

	tokens := resp.Usage.TotalTokens
	return Result{Output: output, TokensUsed: &tokens}, nil
}

func (p *CerebrasPlugin) call(ctx context.Context, body []byte) (*chatCompletionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cerebras returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func decodeCerebrasConfig(configuration map[string]any) (CerebrasConfig, error) {
	raw, err := json.Marshal(configuration)
	if err != nil {
		return CerebrasConfig{}, fmt.Errorf("marshal configuration: %w", err)
	}
	var cfg CerebrasConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return CerebrasConfig{}, fmt.Errorf("decode configuration: %w", err)
	}
	return cfg, nil
}
