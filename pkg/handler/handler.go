// Package handler defines the per-node-type dispatch contract the
// scheduler invokes once a node becomes ready, and the registry that
// resolves a diagram.NodeType to its Handler. Grounded on the teacher's
// Executor/Manager/ExecutorFunc/BaseExecutor, generalized from a single
// merged input/output value to the resolved per-handle Input and a
// per-handle Envelope output map.
package handler

import (
	"context"
	"fmt"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/resolve"
	"github.com/dipeo/core/pkg/state"
)

// Context carries the per-invocation identity and config a Handler needs
// beyond its resolved inputs.
type Context struct {
	ExecutionID string
	Node        *diagram.Node
	Epoch       int
	Iteration   int

	// States is the execution's node-status tracker, read-only from a
	// Handler's point of view. Only a few node-type strategies need it
	// (CONDITION's detect_max_iterations/nodes_executed kinds inspect a
	// sibling node's run count); most handlers never touch it.
	States *state.Tracker
}

// Handler executes one node type. Execute receives the node's own typed
// config and its resolved inputs, and returns one Envelope per output
// handle it chose to activate — CONDITION activates exactly one of
// HandleTrue/HandleFalse; most node types activate only HandleDefault.
type Handler interface {
	Execute(ctx context.Context, hctx Context, input resolve.Input) (map[diagram.HandleName]envelope.Envelope, error)
}

// Func adapts an ordinary function to a Handler.
type Func func(ctx context.Context, hctx Context, input resolve.Input) (map[diagram.HandleName]envelope.Envelope, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, hctx Context, input resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	return f(ctx, hctx, input)
}

// Registry resolves a diagram.NodeType to its Handler.
type Registry struct {
	handlers map[diagram.NodeType]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[diagram.NodeType]Handler)}
}

// Register binds a NodeType to a Handler, replacing any prior binding.
func (r *Registry) Register(nodeType diagram.NodeType, h Handler) {
	r.handlers[nodeType] = h
}

// Get resolves a NodeType to its Handler.
func (r *Registry) Get(nodeType diagram.NodeType) (Handler, error) {
	h, ok := r.handlers[nodeType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for node type %q", nodeType)
	}
	return h, nil
}

// Has reports whether a NodeType has a registered Handler.
func (r *Registry) Has(nodeType diagram.NodeType) bool {
	_, ok := r.handlers[nodeType]
	return ok
}

// List returns every registered NodeType.
func (r *Registry) List() []diagram.NodeType {
	out := make([]diagram.NodeType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Config is a thin accessor wrapper over a node's raw config map, mirroring
// the teacher's BaseExecutor field helpers so built-in handlers keep the
// same defensive-typed-read style.
type Config map[string]any

// String reads a required string field.
func (c Config) String(key string) (string, error) {
	v, ok := c[key]
	if !ok {
		return "", fmt.Errorf("config field not found: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config field %s is not a string", key)
	}
	return s, nil
}

// StringDefault reads an optional string field.
func (c Config) StringDefault(key, def string) string {
	s, err := c.String(key)
	if err != nil {
		return def
	}
	return s
}

// Int reads a required int field, accepting the float64 shape JSON decoding
// produces.
func (c Config) Int(key string) (int, error) {
	v, ok := c[key]
	if !ok {
		return 0, fmt.Errorf("config field not found: %s", key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("config field %s is not a number", key)
	}
}

// IntDefault reads an optional int field.
func (c Config) IntDefault(key string, def int) int {
	n, err := c.Int(key)
	if err != nil {
		return def
	}
	return n
}

// Bool reads a required bool field.
func (c Config) Bool(key string) (bool, error) {
	v, ok := c[key]
	if !ok {
		return false, fmt.Errorf("config field not found: %s", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("config field %s is not a boolean", key)
	}
	return b, nil
}

// BoolDefault reads an optional bool field.
func (c Config) BoolDefault(key string, def bool) bool {
	b, err := c.Bool(key)
	if err != nil {
		return def
	}
	return b
}

// StringSlice reads a required []string field, accepting the []any shape
// JSON decoding produces.
func (c Config) StringSlice(key string) ([]string, error) {
	v, ok := c[key]
	if !ok {
		return nil, fmt.Errorf("config field not found: %s", key)
	}
	switch xs := v.(type) {
	case []string:
		return xs, nil
	case []any:
		out := make([]string, 0, len(xs))
		for _, x := range xs {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("config field %s contains a non-string element", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("config field %s is not a string list", key)
	}
}
