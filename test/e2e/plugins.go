package e2e

import (
	"context"
	"errors"

	"github.com/agentorchestra/orchestra/pkg/framework"
)

// BlockingPlugin parks until the execution is cancelled or times out,
// honoring the cancellation token the way a well-behaved plugin should.
type BlockingPlugin struct {
	// Started receives one signal when Execute enters its blocking wait,
	// letting tests synchronize instead of sleeping. Optional.
	Started chan struct{}
}

func (p *BlockingPlugin) Validate(map[string]any) framework.ValidationResult {
	return framework.ValidationResult{OK: true}
}

func (p *BlockingPlugin) Schema() map[string]any { return map[string]any{} }

func (p *BlockingPlugin) Execute(ctx context.Context, pctx framework.Context) (framework.Result, error) {
	if pctx.Log != nil {
		pctx.Log("info", "blocking until cancelled", nil)
	}
	if p.Started != nil {
		select {
		case p.Started <- struct{}{}:
		default:
		}
	}
	select {
	case <-ctx.Done():
		return framework.Result{}, ctx.Err()
	case <-pctx.Done:
		return framework.Result{}, context.Canceled
	}
}

// FailingPlugin always reports a plugin error, driving the execution to
// the failed terminal state.
type FailingPlugin struct{}

func (FailingPlugin) Validate(map[string]any) framework.ValidationResult {
	return framework.ValidationResult{OK: true}
}

func (FailingPlugin) Schema() map[string]any { return map[string]any{} }

func (FailingPlugin) Execute(context.Context, framework.Context) (framework.Result, error) {
	return framework.Result{}, errors.New("upstream provider rejected the request")
}
