package builtin

import (
	"context"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/resolve"
)

// Collect gathers every Envelope bound to its default handle into a single
// OBJECT array, grounded on the teacher's MergeExecutor "all"/"any"
// strategies — here unconditional, since the scheduler's JoinPolicy
// already decides when a COLLECT node becomes ready.
var Collect = handler.Func(func(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	envs := in[diagram.HandleDefault]
	bodies := make([]any, len(envs))
	for i, e := range envs {
		bodies[i] = e.Body()
	}
	out := envelope.New(bodies, envelope.Object, hctx.Node.ID)
	return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: out}, nil
})
