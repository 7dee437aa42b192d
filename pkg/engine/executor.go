package engine

import (
	"context"
	"fmt"

	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/models"
)

// pluginExecutor dispatches a claimed execution to its agent's registered
// framework plugin — the engine's only sessionExecutor implementation,
// standing in for the teacher's concrete LLM-backed SessionExecutor.
type pluginExecutor struct {
	registry *framework.Registry
}

func newPluginExecutor(registry *framework.Registry) *pluginExecutor {
	return &pluginExecutor{registry: registry}
}

// execute resolves e's agent, looks up its plugin, and runs it. logSink and
// progressSink are wired in by the worker per-execution so every log line
// and progress tick reaches pkg/events before execute returns.
func (x *pluginExecutor) executeWithSinks(ctx context.Context, e *models.Execution, agent *models.Agent, logSink framework.LogSink, progressSink framework.ProgressSink, overrides map[string]any, done <-chan struct{}) (runResult, error) {
	plugin, err := x.registry.Lookup(agent.Framework)
	if err != nil {
		return runResult{}, err
	}

	configuration := framework.Overlay(agent.Configuration, overrides)
	if result := plugin.Validate(configuration); !result.OK {
		return runResult{}, &ErrValidation{Errors: result.Errors}
	}

	pctx := framework.Context{
		ExecutionID:   e.ID,
		AgentID:       e.AgentID,
		SubmitterID:   e.SubmitterID,
		Input:         e.Input,
		Configuration: configuration,
		Environment:   e.Environment,
		Log:           logSink,
		Progress:      progressSink,
		Done:          done,
	}

	res, err := plugin.Execute(ctx, pctx)
	if err != nil {
		return runResult{}, fmt.Errorf("plugin execute: %w", err)
	}
	return runResult{Output: res.Output, TokensUsed: res.TokensUsed, CostUsd: res.CostUsd}, nil
}
