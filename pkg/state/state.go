// Package state tracks the UI-facing status and last output of each node,
// independent of the scheduler's readiness decisions. Grounded on the
// teacher's ExecutionState maps, but deliberately split off from the
// token/readiness layer: a node can be RUNNING while tokens for its next
// epoch are already queued, and status here is purely observational.
package state

import (
	"sync"
	"time"

	"github.com/dipeo/core/pkg/diagram"
)

// Status is the lifecycle state of one node execution.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusSkipped        Status = "skipped"
	StatusMaxIterReached Status = "maxiter_reached"
)

// IsTerminal reports whether a status will not transition further within
// its current execution count.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped || s == StatusMaxIterReached
}

// NodeState is the observable snapshot of one node's latest run.
type NodeState struct {
	Status         Status
	ExecutionCount int
	LastOutput     any
	LastError      error
	StartedAt      time.Time
	EndedAt        time.Time
}

// Tracker is a thread-safe store of per-node NodeState, read by UI
// observers and the /state query surface. It never gates scheduling.
type Tracker struct {
	mu    sync.RWMutex
	nodes map[diagram.NodeID]*NodeState
}

// NewTracker builds an empty Tracker seeded with StatusPending for every
// node in the diagram.
func NewTracker(d *diagram.ExecutableDiagram) *Tracker {
	t := &Tracker{nodes: make(map[diagram.NodeID]*NodeState, len(d.Nodes))}
	for id := range d.Nodes {
		t.nodes[id] = &NodeState{Status: StatusPending}
	}
	return t
}

// Get returns a copy of a node's current state.
func (t *Tracker) Get(id diagram.NodeID) NodeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ns, ok := t.nodes[id]
	if !ok {
		return NodeState{Status: StatusPending}
	}
	return *ns
}

// All returns a copy of every tracked node's state, keyed by node ID.
func (t *Tracker) All() map[diagram.NodeID]NodeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[diagram.NodeID]NodeState, len(t.nodes))
	for id, ns := range t.nodes {
		out[id] = *ns
	}
	return out
}

// Start records the beginning of a new execution of a node, incrementing
// its execution count. Monotonicity is the caller's responsibility: Start
// must not be called again for the same node until a terminal transition
// (Complete/Fail/Skip) has been recorded, which the single-threaded
// scheduler enforces by construction (ConcurrencyPolicy gates re-entry).
func (t *Tracker) Start(id diagram.NodeID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ns := t.nodeLocked(id)
	ns.Status = StatusRunning
	ns.ExecutionCount++
	ns.StartedAt = at
	ns.EndedAt = time.Time{}
	ns.LastError = nil
}

// Complete records a successful run and its output.
func (t *Tracker) Complete(id diagram.NodeID, output any, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ns := t.nodeLocked(id)
	ns.Status = StatusCompleted
	ns.LastOutput = output
	ns.EndedAt = at
}

// Fail records a failed run and its error.
func (t *Tracker) Fail(id diagram.NodeID, err error, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ns := t.nodeLocked(id)
	ns.Status = StatusFailed
	ns.LastError = err
	ns.EndedAt = at
}

// Skip records a node that was never dispatched because its upstream
// CONDITION branch was not taken.
func (t *Tracker) Skip(id diagram.NodeID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ns := t.nodeLocked(id)
	ns.Status = StatusSkipped
	ns.EndedAt = at
}

// MaxIterReached records that a node hit its declared MaxIteration cap and
// will not be dispatched again; its inbound tokens are left unconsumed.
func (t *Tracker) MaxIterReached(id diagram.NodeID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ns := t.nodeLocked(id)
	ns.Status = StatusMaxIterReached
	ns.EndedAt = at
}

func (t *Tracker) nodeLocked(id diagram.NodeID) *NodeState {
	ns, ok := t.nodes[id]
	if !ok {
		ns = &NodeState{}
		t.nodes[id] = ns
	}
	return ns
}
