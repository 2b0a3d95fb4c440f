package builtin

import (
	"context"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/resolve"
)

// Start is the handler for NodeTypeStart. It carries the run's initial
// Envelope (injected by the engine onto the node's default input since
// START has no inbound edges) straight through to its single output.
var Start = handler.Func(func(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	env, ok := in.First(diagram.HandleDefault)
	if !ok {
		env = envelope.New(map[string]any{}, envelope.Object, hctx.Node.ID)
	}
	return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: env}, nil
})

// Endpoint is the handler for NodeTypeEndpoint. ENDPOINT declares no
// output handles, so returning a value under HandleDefault here never
// produces a token — diagram.New rejects any edge whose source is an
// ENDPOINT — but it does give state.Tracker a LastOutput for the run's
// final result, which is what Run/State callers actually want back.
var Endpoint = handler.Func(func(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	env, ok := in.First(diagram.HandleDefault)
	if !ok {
		return nil, nil
	}
	return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: env}, nil
})
