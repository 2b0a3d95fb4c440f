// Package diagram defines the read-only executable graph the scheduler
// drives: nodes, typed handles, edges, and the join/concurrency policies
// attached to each node. ExecutableDiagram is owned by the scheduler and
// never mutated once execution starts.
package diagram

import (
	"fmt"

	validator "github.com/go-playground/validator/v10"
)

// NodeID, EdgeID, HandleName are opaque string identifiers, unique within
// a diagram.
type NodeID string
type EdgeID string
type HandleName string

// NodeType tags a node's handler dispatch target.
type NodeType string

const (
	NodeTypeStart               NodeType = "START"
	NodeTypeEndpoint            NodeType = "ENDPOINT"
	NodeTypePersonJob           NodeType = "PERSON_JOB"
	NodeTypeCondition           NodeType = "CONDITION"
	NodeTypeCodeJob             NodeType = "CODE_JOB"
	NodeTypeAPIJob              NodeType = "API_JOB"
	NodeTypeIntegratedAPI       NodeType = "INTEGRATED_API"
	NodeTypeDB                  NodeType = "DB"
	NodeTypeSubDiagram          NodeType = "SUB_DIAGRAM"
	NodeTypeTemplateJob         NodeType = "TEMPLATE_JOB"
	NodeTypeJSONSchemaValidator NodeType = "JSON_SCHEMA_VALIDATOR"
	NodeTypeTypeScriptAST       NodeType = "TYPESCRIPT_AST"
	NodeTypeIRBuilder           NodeType = "IR_BUILDER"
	NodeTypeCollect             NodeType = "COLLECT"
)

// HandleDirection tags a handle as an input or output port.
type HandleDirection string

const (
	HandleInput  HandleDirection = "input"
	HandleOutput HandleDirection = "output"
)

// HandleID names a directed port on a node.
type HandleID struct {
	Name      HandleName
	Direction HandleDirection
}

// Condition branch handle names, shared by CONDITION handlers and the
// scheduler's back-edge/branch bookkeeping.
const (
	HandleTrue  HandleName = "true"
	HandleFalse HandleName = "false"
	// HandleDefault is the implicit single output handle used by node
	// types that declare no explicit output handle set.
	HandleDefault HandleName = "default"
	// HandleConversation is PERSON_JOB's secondary output carrying its
	// CONVERSATION_STATE envelope, alongside the default content output.
	HandleConversation HandleName = "conversation"
)

// JoinPolicyKind is the readiness predicate evaluated over a node's inbound
// edges.
type JoinPolicyKind string

const (
	JoinAll  JoinPolicyKind = "all"
	JoinAny  JoinPolicyKind = "any"
	JoinKOfN JoinPolicyKind = "k_of_n"
)

// JoinPolicy is a per-node readiness predicate.
type JoinPolicy struct {
	Kind JoinPolicyKind
	K    int // only meaningful when Kind == JoinKOfN
}

// DefaultJoinPolicy returns the all-inputs-required default.
func DefaultJoinPolicy() JoinPolicy { return JoinPolicy{Kind: JoinAll} }

// ConcurrencyPolicyKind limits simultaneous executions of one node.
type ConcurrencyPolicyKind string

const (
	ConcurrencySingleton ConcurrencyPolicyKind = "singleton"
	ConcurrencyPerToken  ConcurrencyPolicyKind = "per_token"
	ConcurrencyBounded   ConcurrencyPolicyKind = "bounded"
)

// ConcurrencyPolicy is a per-node execution budget.
type ConcurrencyPolicy struct {
	Kind  ConcurrencyPolicyKind
	Bound int // only meaningful when Kind == ConcurrencyBounded
}

// DefaultConcurrencyPolicy returns the singleton default.
func DefaultConcurrencyPolicy() ConcurrencyPolicy {
	return ConcurrencyPolicy{Kind: ConcurrencySingleton}
}

// Node is a work unit with a type tag, typed config, and declared handles.
type Node struct {
	ID            NodeID   `validate:"required"`
	Name          string   `validate:"required"`
	Type          NodeType `validate:"required"`
	Config        map[string]any
	InputHandles  []HandleName
	OutputHandles []HandleName

	MaxIteration      int
	TimeoutSeconds    int
	ConcurrencyPolicy ConcurrencyPolicy
	JoinPolicy        JoinPolicy
	ExposeIndexAs     string
	HandlesErrors     bool

	// InputTypes declares the expected content type per input handle, using
	// the same tag strings as envelope.ContentType ("RAW_TEXT", "OBJECT",
	// "BINARY", "CONVERSATION_STATE"). A handle absent from this map accepts
	// whatever content type arrives unchanged. Declared as plain strings
	// rather than envelope.ContentType to avoid an import cycle (pkg/envelope
	// already keeps its own NodeID string alias for the same reason).
	InputTypes map[HandleName]string

	// level is the node's topological level within the diagram's
	// non-back-edge subgraph, computed once by classifyBackEdges.
	level int
}

// Level returns the node's compile-time-computed topological level.
func (n *Node) Level() int { return n.level }

// HasInputHandle reports whether a handle name is declared as an input.
func (n *Node) HasInputHandle(name HandleName) bool {
	for _, h := range n.InputHandles {
		if h == name {
			return true
		}
	}
	return false
}

// HasOutputHandle reports whether a handle name is declared as an output.
func (n *Node) HasOutputHandle(name HandleName) bool {
	for _, h := range n.OutputHandles {
		if h == name {
			return true
		}
	}
	return false
}

// Edge is a directed connection between an output handle of one node and
// an input handle of another.
type Edge struct {
	ID             EdgeID `validate:"required"`
	SourceNode     NodeID `validate:"required"`
	SourceHandle   HandleName
	TargetNode     NodeID `validate:"required"`
	TargetHandle   HandleName
	TransformRules []string // names of built-in transforms, merged at resolve time

	// isBackEdge is computed once by classifyBackEdges: true when the
	// target's topological level is <= the source's.
	isBackEdge bool
}

// IsBackEdge reports whether this edge closes a loop.
func (e *Edge) IsBackEdge() bool { return e.isBackEdge }

// ExecutableDiagram is the read-only graph the scheduler drives.
type ExecutableDiagram struct {
	Nodes map[NodeID]*Node
	Edges []*Edge

	outEdges map[NodeID][]*Edge
	inEdges  map[NodeID][]*Edge
}

// New builds an ExecutableDiagram from nodes and edges, validates its
// structural invariants, and classifies back-edges. Returns
// *StructuralError on any violation.
func New(nodes []*Node, edges []*Edge) (*ExecutableDiagram, error) {
	d := &ExecutableDiagram{
		Nodes: make(map[NodeID]*Node, len(nodes)),
		Edges: edges,
	}
	for _, n := range nodes {
		if n.JoinPolicy.Kind == "" {
			n.JoinPolicy = DefaultJoinPolicy()
		}
		if n.ConcurrencyPolicy.Kind == "" {
			n.ConcurrencyPolicy = DefaultConcurrencyPolicy()
		}
		d.Nodes[n.ID] = n
	}

	if err := d.validateStructure(); err != nil {
		return nil, err
	}

	d.buildAdjacency()
	if err := classifyBackEdges(d); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *ExecutableDiagram) buildAdjacency() {
	d.outEdges = make(map[NodeID][]*Edge, len(d.Nodes))
	d.inEdges = make(map[NodeID][]*Edge, len(d.Nodes))
	for _, e := range d.Edges {
		d.outEdges[e.SourceNode] = append(d.outEdges[e.SourceNode], e)
		d.inEdges[e.TargetNode] = append(d.inEdges[e.TargetNode], e)
	}
}

// OutEdges returns the outgoing edges of a node, in declaration order.
func (d *ExecutableDiagram) OutEdges(id NodeID) []*Edge { return d.outEdges[id] }

// InEdges returns the incoming edges of a node, in declaration order.
func (d *ExecutableDiagram) InEdges(id NodeID) []*Edge { return d.inEdges[id] }

var structValidator = validator.New()

// validateStructure is the compile-time authority described in the
// connection rules: every edge endpoint references a handle declared by
// its node, START has no inbound edges, ENDPOINT has no outbound edges,
// and no edge targets START.
func (d *ExecutableDiagram) validateStructure() error {
	for _, n := range d.Nodes {
		if err := structValidator.Struct(n); err != nil {
			return &StructuralError{Reason: fmt.Sprintf("node %s: %v", n.ID, err)}
		}
	}

	for _, e := range d.Edges {
		if err := structValidator.Struct(e); err != nil {
			return &StructuralError{Reason: fmt.Sprintf("edge %s: %v", e.ID, err)}
		}

		src, ok := d.Nodes[e.SourceNode]
		if !ok {
			return &StructuralError{Reason: fmt.Sprintf("edge %s references unknown source node %s", e.ID, e.SourceNode)}
		}
		tgt, ok := d.Nodes[e.TargetNode]
		if !ok {
			return &StructuralError{Reason: fmt.Sprintf("edge %s references unknown target node %s", e.ID, e.TargetNode)}
		}

		if tgt.Type == NodeTypeStart {
			return &StructuralError{Reason: fmt.Sprintf("edge %s targets START node %s", e.ID, tgt.ID)}
		}
		if src.Type == NodeTypeEndpoint {
			return &StructuralError{Reason: fmt.Sprintf("edge %s originates from ENDPOINT node %s", e.ID, src.ID)}
		}

		if e.SourceHandle != "" && !src.HasOutputHandle(e.SourceHandle) {
			return &StructuralError{Reason: fmt.Sprintf("edge %s: source %s has no output handle %q", e.ID, src.ID, e.SourceHandle)}
		}
		if e.TargetHandle != "" && !tgt.HasInputHandle(e.TargetHandle) {
			return &StructuralError{Reason: fmt.Sprintf("edge %s: target %s has no input handle %q", e.ID, tgt.ID, e.TargetHandle)}
		}
	}

	for _, n := range d.Nodes {
		if n.Type == NodeTypeStart && len(d.inEdges[n.ID]) > 0 {
			return &StructuralError{Reason: fmt.Sprintf("START node %s has inbound edges", n.ID)}
		}
	}

	return nil
}

// StructuralError is the DiagramStructural error kind: invalid edges,
// missing handles, or cycles without back-edge classification. Raised
// before execution starts.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string { return "diagram structural error: " + e.Reason }
