package framework

import (
	"context"
	"encoding/json"
	"fmt"
)

// EchoPlugin is a deterministic test double: it logs one info line and
// returns the input unchanged as output. Used by S1's happy-path scenario
// and as the default framework for agents created in tests.
type EchoPlugin struct{}

// Validate always succeeds; EchoPlugin has no configuration.
func (EchoPlugin) Validate(map[string]any) ValidationResult {
	return ValidationResult{OK: true}
}

// Schema declares no configuration keys.
func (EchoPlugin) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Execute logs the input and echoes it back as output.
func (EchoPlugin) Execute(ctx context.Context, pctx Context) (Result, error) {
	var input any
	if err := json.Unmarshal(pctx.Input, &input); err != nil {
		input = string(pctx.Input)
	}

	if pctx.Log != nil {
		pctx.Log("info", fmt.Sprintf("echo received input: %v", input), nil)
	}
	if pctx.Progress != nil {
		pctx.Progress(100)
	}

	output, err := json.Marshal(map[string]any{"content": input})
	if err != nil {
		return Result{}, fmt.Errorf("marshal echo output: %w", err)
	}
	return Result{Output: output}, nil
}
