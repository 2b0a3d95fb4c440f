// Package builtin holds the stock node-type handlers wired into a fresh
// handler.Registry by Register. Each handler is grounded on the matching
// teacher executor, generalized from a single merged input/output value
// to resolve.Input / per-handle Envelope maps.
package builtin

import (
	"context"
	"fmt"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/resolve"
	"github.com/dipeo/core/pkg/rules"
)

// CodeJob evaluates an expr-lang expression against its resolved input,
// grounded on the teacher's TransformExecutor "expression" case.
type CodeJob struct {
	transforms *rules.Registry
}

// NewCodeJob builds a CodeJob handler sharing transforms' compiled-program
// cache with edge-level expr: transform rules.
func NewCodeJob(transforms *rules.Registry) *CodeJob {
	return &CodeJob{transforms: transforms}
}

func (h *CodeJob) Execute(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	cfg := handler.Config(hctx.Node.Config)
	code, err := cfg.String("code")
	if err != nil {
		return nil, err
	}

	env, _ := in.First(diagram.HandleDefault)
	vars := map[string]any{
		"input":     env.Body(),
		"iteration": hctx.Iteration,
	}

	out, err := h.transforms.Evaluate(code, vars)
	if err != nil {
		return nil, fmt.Errorf("code_job %s: %w", hctx.Node.ID, err)
	}

	return map[diagram.HandleName]envelope.Envelope{
		diagram.HandleDefault: envelope.New(out, envelope.Object, hctx.Node.ID),
	}, nil
}
