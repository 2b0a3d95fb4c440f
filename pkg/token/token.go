// Package token tracks what data is available on each edge, per execution
// epoch. Readiness is a function of tokens present on a node's inbound
// edges, never of a node's own execution status — TokenManager owns that
// state, grounded on the RWMutex-guarded map style of the teacher's
// ExecutionState, generalized from per-node maps to per-edge, per-epoch
// queues.
package token

import (
	"sync"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
)

// Token is one unit of data in flight on an edge within a given epoch.
type Token struct {
	Edge     diagram.EdgeID
	Epoch    int
	Seq      int64
	Envelope envelope.Envelope
}

// Touched names one edge a token was just enqueued on, and the
// (target node, epoch) pair the scheduler should now re-check for
// readiness.
type Touched struct {
	Edge       diagram.EdgeID
	TargetNode diagram.NodeID
	Epoch      int
}

type edgeEpochKey struct {
	edge  diagram.EdgeID
	epoch int
}

// Manager holds the FIFO token queues keyed by (edge, epoch), the current
// epoch per loop scope, and the branch decisions recorded by CONDITION
// nodes. All methods are safe for concurrent use by scheduler workers.
type Manager struct {
	mu sync.RWMutex

	queues map[edgeEpochKey][]Token
	seq    int64

	// branchDecisions records which output handle a CONDITION node chose,
	// per epoch, so the scheduler can tell a suppressed branch from one
	// that simply hasn't produced a token yet.
	branchDecisions map[diagram.NodeID]map[int]diagram.HandleName
}

// New builds an empty token manager.
func New() *Manager {
	return &Manager{
		queues:          make(map[edgeEpochKey][]Token),
		branchDecisions: make(map[diagram.NodeID]map[int]diagram.HandleName),
	}
}

// EmitOutputs enqueues one token per edge outgoing from producedBy's
// handle, stamping each with the given epoch. Edges whose SourceHandle
// does not match the produced handle are skipped (CONDITION fan-out).
//
// A back edge always advances the epoch of the token it carries: it is,
// by definition, the edge that starts the next iteration of its loop, so
// its target must see epoch+1 rather than the epoch the producer ran at.
// Every other outgoing edge keeps the producer's own epoch, since it sits
// on the same forward pass through the diagram.
func (m *Manager) EmitOutputs(d *diagram.ExecutableDiagram, producedBy diagram.NodeID, handle diagram.HandleName, epoch int, env envelope.Envelope) []Touched {
	return m.emit(d, producedBy, handle, epoch, env, nil)
}

// EmitToHandlingConsumers behaves like EmitOutputs but enqueues a token only
// onto edges whose target node declares HandlesErrors, used to deliver an
// error envelope solely to downstream nodes that opted into consuming it.
// Every other matching edge is skipped as if it did not exist: its target
// sees no token and readiness never fires for it.
func (m *Manager) EmitToHandlingConsumers(d *diagram.ExecutableDiagram, producedBy diagram.NodeID, handle diagram.HandleName, epoch int, env envelope.Envelope) []Touched {
	return m.emit(d, producedBy, handle, epoch, env, func(n *diagram.Node) bool { return n.HandlesErrors })
}

func (m *Manager) emit(d *diagram.ExecutableDiagram, producedBy diagram.NodeID, handle diagram.HandleName, epoch int, env envelope.Envelope, accept func(*diagram.Node) bool) []Touched {
	m.mu.Lock()
	defer m.mu.Unlock()

	var touched []Touched
	for _, e := range d.OutEdges(producedBy) {
		sourceHandle := e.SourceHandle
		if sourceHandle == "" {
			sourceHandle = diagram.HandleDefault
		}
		if sourceHandle != handle {
			continue
		}
		if accept != nil {
			target := d.Nodes[e.TargetNode]
			if target == nil || !accept(target) {
				continue
			}
		}
		targetEpoch := epoch
		if e.IsBackEdge() {
			targetEpoch = epoch + 1
		}
		m.seq++
		key := edgeEpochKey{edge: e.ID, epoch: targetEpoch}
		m.queues[key] = append(m.queues[key], Token{
			Edge:     e.ID,
			Epoch:    targetEpoch,
			Seq:      m.seq,
			Envelope: env,
		})
		touched = append(touched, Touched{Edge: e.ID, TargetNode: e.TargetNode, Epoch: targetEpoch})
	}
	return touched
}

// HasNewInputs reports whether at least one inbound edge of node has an
// unconsumed token at the given epoch.
func (m *Manager) HasNewInputs(d *diagram.ExecutableDiagram, nodeID diagram.NodeID, epoch int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range d.InEdges(nodeID) {
		if len(m.queues[edgeEpochKey{edge: e.ID, epoch: epoch}]) > 0 {
			return true
		}
	}
	return false
}

// Ready evaluates a node's join policy against the tokens currently queued
// on its inbound edges at the given epoch.
func (m *Manager) Ready(d *diagram.ExecutableDiagram, n *diagram.Node, epoch int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	in := d.InEdges(n.ID)
	if len(in) == 0 {
		return n.Type == diagram.NodeTypeStart
	}

	ready := 0
	for _, e := range in {
		if len(m.queues[edgeEpochKey{edge: e.ID, epoch: epoch}]) > 0 {
			ready++
		}
	}

	switch n.JoinPolicy.Kind {
	case diagram.JoinAny:
		return ready > 0
	case diagram.JoinKOfN:
		return ready >= n.JoinPolicy.K
	default: // JoinAll
		return ready == len(in)
	}
}

// ConsumeInbound dequeues and returns the oldest token on every inbound
// edge of node that has one queued at the given epoch, in edge order.
// Edges with nothing queued are simply absent from the result — callers
// resolving PERSON_JOB/COLLECT inputs treat a missing edge as "no new
// value this round" and fall back to the node's prior resolved input.
func (m *Manager) ConsumeInbound(d *diagram.ExecutableDiagram, nodeID diagram.NodeID, epoch int) map[diagram.EdgeID]Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[diagram.EdgeID]Token)
	for _, e := range d.InEdges(nodeID) {
		key := edgeEpochKey{edge: e.ID, epoch: epoch}
		q := m.queues[key]
		if len(q) == 0 {
			continue
		}
		out[e.ID] = q[0]
		if len(q) == 1 {
			delete(m.queues, key)
		} else {
			m.queues[key] = q[1:]
		}
	}
	return out
}

// RecordBranchDecision stores which output handle a CONDITION node chose
// for a given epoch, so the scheduler can distinguish "branch not taken"
// from "branch not yet evaluated".
func (m *Manager) RecordBranchDecision(nodeID diagram.NodeID, epoch int, handle diagram.HandleName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.branchDecisions[nodeID] == nil {
		m.branchDecisions[nodeID] = make(map[int]diagram.HandleName)
	}
	m.branchDecisions[nodeID][epoch] = handle
}

// BranchDecision returns the handle a CONDITION node chose for an epoch,
// if it has evaluated yet.
func (m *Manager) BranchDecision(nodeID diagram.NodeID, epoch int) (diagram.HandleName, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handle, ok := m.branchDecisions[nodeID][epoch]
	return handle, ok
}
