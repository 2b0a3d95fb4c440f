// Package resolve turns the tokens consumed off a node's inbound edges
// into the per-handle Envelope map a Handler actually receives. The
// multi-parent merge strategy is grounded on the teacher's
// PrepareNodeContext/mergeParentOutputs, generalized from a single merged
// map to node-type-aware strategies operating on typed Envelopes.
package resolve

import (
	"encoding/json"
	"fmt"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/rules"
	"github.com/dipeo/core/pkg/token"
)

// Resolver turns consumed tokens into handler input, applying edge
// transform rules and per-node-type input strategies.
type Resolver struct {
	transforms *rules.Registry
	strictMode bool
}

// New builds a Resolver. strictMode, sourced from ExecutionConfig, governs
// whether a missing required input handle is an error (strict) or resolved
// to an empty Envelope (loose).
func New(transforms *rules.Registry, strictMode bool) *Resolver {
	return &Resolver{transforms: transforms, strictMode: strictMode}
}

// Input is the resolved, per-handle view of a node's inbound data, keyed by
// target handle name. A node with two inbound edges into the same handle
// (a fan-in join) collects every Envelope for that handle, in edge
// declaration order.
type Input map[diagram.HandleName][]envelope.Envelope

// First returns the first Envelope bound to a handle, or false if the
// handle has nothing resolved — the common case for single-producer
// handles like PERSON_JOB's default input.
func (in Input) First(handle diagram.HandleName) (envelope.Envelope, bool) {
	vs, ok := in[handle]
	if !ok || len(vs) == 0 {
		return envelope.Envelope{}, false
	}
	return vs[0], true
}

// Resolve runs the six-step pipeline: edge selection, content-type
// coercion, transform application, node-type strategy, defaulting, and
// validation. epoch is the current loop generation the node is being
// dispatched at; it is only consumed when the node declares ExposeIndexAs.
func (r *Resolver) Resolve(d *diagram.ExecutableDiagram, n *diagram.Node, consumed map[diagram.EdgeID]token.Token, epoch int) (Input, error) {
	in := make(Input)

	for _, e := range d.InEdges(n.ID) {
		tok, ok := consumed[e.ID]
		if !ok {
			continue
		}
		handle := e.TargetHandle
		if handle == "" {
			handle = diagram.HandleDefault
		}

		// Step 2: content-type coercion, gated on the target handle's
		// declared InputTypes entry (absent entry = accept as-is).
		env, err := r.coerce(n.ID, handle, tok.Envelope, n.InputTypes[handle])
		if err != nil {
			return nil, err
		}

		// Step 3: transform application.
		if len(e.TransformRules) > 0 {
			env, err = r.transforms.Apply(e.TransformRules, env)
			if err != nil {
				return nil, fmt.Errorf("node %s: edge %s: %w", n.ID, e.ID, err)
			}
		}
		in[handle] = append(in[handle], env)
	}

	// Step 4: node-type strategy.
	if err := r.applyNodeTypeStrategy(n, in); err != nil {
		return nil, err
	}

	// expose_index_as: a loop-body node can ask to see its own loop
	// iteration (the epoch it is running at) as a named input, e.g. so a
	// PERSON_JOB prompt template can reference "{{i}}".
	if n.ExposeIndexAs != "" {
		in[diagram.HandleName(n.ExposeIndexAs)] = append(in[diagram.HandleName(n.ExposeIndexAs)],
			envelope.New(epoch, envelope.Object, n.ID))
	}

	// Step 5: defaulting — nodes with no inbound edges (START) get an
	// empty default input rather than a nil map entry.
	if len(d.InEdges(n.ID)) == 0 {
		if _, ok := in[diagram.HandleDefault]; !ok {
			in[diagram.HandleDefault] = nil
		}
	}

	// Step 6: validation.
	if err := r.validate(n, in); err != nil {
		return nil, err
	}

	return in, nil
}

// coerce bridges an inbound Envelope's content type to a handle's declared
// want type (an envelope.ContentType tag string, or "" when the handle has
// no declared type and anything is accepted). Only the two unambiguous
// directions are attempted: RAW_TEXT -> OBJECT when the text parses as
// strict JSON, and OBJECT -> RAW_TEXT via canonical JSON serialization.
// CONVERSATION_STATE is never coerced either direction. A coercion that
// cannot bridge the two types raises ContentTypeMismatch in strict mode; in
// loose mode the Envelope passes through unchanged so the handler can still
// attempt its own interpretation.
func (r *Resolver) coerce(nodeID diagram.NodeID, handle diagram.HandleName, env envelope.Envelope, want string) (envelope.Envelope, error) {
	if want == "" {
		return env, nil
	}
	wantType := envelope.ContentType(want)
	have := env.ContentType()
	if have == wantType {
		return env, nil
	}
	if have == envelope.ConversationState || wantType == envelope.ConversationState {
		return r.mismatch(env, nodeID, handle, have, wantType)
	}

	switch {
	case have == envelope.RawText && wantType == envelope.Object:
		text, _ := env.AsText()
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			return r.mismatchDetail(env, nodeID, handle, fmt.Sprintf("RAW_TEXT body is not valid JSON: %v", err))
		}
		return envelope.New(parsed, envelope.Object, env.ProducedBy()), nil
	case have == envelope.Object && wantType == envelope.RawText:
		text, err := env.MarshalCanonicalJSON()
		if err != nil {
			return r.mismatchDetail(env, nodeID, handle, err.Error())
		}
		return envelope.New(text, envelope.RawText, env.ProducedBy()), nil
	default:
		return r.mismatch(env, nodeID, handle, have, wantType)
	}
}

func (r *Resolver) mismatch(env envelope.Envelope, nodeID diagram.NodeID, handle diagram.HandleName, have, want envelope.ContentType) (envelope.Envelope, error) {
	return r.mismatchDetail(env, nodeID, handle, fmt.Sprintf("cannot coerce %s to %s", have, want))
}

func (r *Resolver) mismatchDetail(env envelope.Envelope, nodeID diagram.NodeID, handle diagram.HandleName, detail string) (envelope.Envelope, error) {
	if !r.strictMode {
		return env, nil
	}
	return env, &ResolutionError{Kind: ContentTypeMismatch, NodeID: nodeID, Handle: handle, Detail: detail}
}

// applyNodeTypeStrategy applies the per-node-type input shaping the resolve
// pipeline's step 4 describes. PERSON_JOB rejects (strict) or drops (loose)
// anything bound to its conversation handle that isn't genuinely
// CONVERSATION_STATE-typed, since memory replay must never silently
// operate on an unrelated value. CONDITION only ever evaluates its default
// handle; any other bound handle is pruned so a stray edge into a CONDITION
// node can't influence a branch decision it was never wired to affect.
// COLLECT and SUB_DIAGRAM need no shaping beyond the general fan-in-by-handle
// view already built by edge selection, so they fall through unchanged.
func (r *Resolver) applyNodeTypeStrategy(n *diagram.Node, in Input) error {
	switch n.Type {
	case diagram.NodeTypePersonJob:
		envs := in[diagram.HandleConversation]
		if len(envs) == 0 {
			return nil
		}
		kept := envs[:0]
		for _, env := range envs {
			if env.ContentType() == envelope.ConversationState {
				kept = append(kept, env)
				continue
			}
			if r.strictMode {
				return &ResolutionError{
					Kind: TypeMismatch, NodeID: n.ID, Handle: diagram.HandleConversation,
					Detail: fmt.Sprintf("conversation handle requires CONVERSATION_STATE, got %s", env.ContentType()),
				}
			}
		}
		if len(kept) == 0 {
			delete(in, diagram.HandleConversation)
		} else {
			in[diagram.HandleConversation] = kept
		}
		return nil
	case diagram.NodeTypeCondition:
		for handle := range in {
			if handle != diagram.HandleDefault {
				delete(in, handle)
			}
		}
		return nil
	case diagram.NodeTypeCollect, diagram.NodeTypeSubDiagram:
		return nil
	default:
		return nil
	}
}

// validate enforces that every declared input handle has at least one
// bound Envelope when running in strict mode. Loose mode lets handlers
// decide how to treat an absent optional input.
func (r *Resolver) validate(n *diagram.Node, in Input) error {
	if !r.strictMode {
		return nil
	}
	for _, handle := range n.InputHandles {
		if len(in[handle]) == 0 {
			return &ResolutionError{Kind: MissingRequiredInput, NodeID: n.ID, Handle: handle, Detail: "required input handle has no bound value"}
		}
	}
	return nil
}
