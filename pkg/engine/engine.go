// Package engine drives a compiled diagram to completion. Readiness comes
// entirely from pkg/token; the scheduler never inspects pkg/state, which
// exists purely for observation. The concurrency style — a global
// semaphore bounding total in-flight handlers, a WaitGroup tracking the
// whole run, cooperative ctx.Done() checks before and during dispatch —
// is grounded on the teacher's DAGExecutor.executeWave, generalized from
// wave-synchronous batches to free-running token-triggered dispatch.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/resolve"
	"github.com/dipeo/core/pkg/rules"
	"github.com/dipeo/core/pkg/state"
	"github.com/dipeo/core/pkg/token"
)

// EventType tags the lifecycle events an Observer receives.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionCancelled EventType = "execution_cancelled"
	EventNodeStarted        EventType = "node_started"
	EventNodeCompleted      EventType = "node_completed"
	EventNodeFailed         EventType = "node_failed"
	EventNodeSkipped        EventType = "node_skipped"
	EventNodeMaxIterReached EventType = "node_maxiter_reached"
	EventLoopIteration      EventType = "loop_iteration"
)

// Event is one lifecycle notification, delivered to every registered
// Observer in the order the scheduler produces it.
type Event struct {
	Type        EventType
	ExecutionID string
	NodeID      diagram.NodeID
	NodeType    diagram.NodeType
	Epoch       int
	Error       error
	DurationMs  int64
	Message     string
	Timestamp   time.Time
}

// Observer receives execution lifecycle events. Implementations must not
// block the scheduler for long; internal/application/observer's EventBus fans out to
// slow sinks (database, websocket) on its own goroutines.
type Observer interface {
	Notify(ctx context.Context, event Event)
}

// task is one unit of dispatchable scheduler work: run node at epoch.
type task struct {
	node  diagram.NodeID
	epoch int
}

// Engine drives one diagram execution from START to every reachable
// ENDPOINT. It is not safe to reuse across runs; call New per execution.
type Engine struct {
	diagram     *diagram.ExecutableDiagram
	tokens      *token.Manager
	states      *state.Tracker
	handlers    *handler.Registry
	resolver    *resolve.Resolver
	transforms  *rules.Registry
	cfg         Config
	observers   []Observer
	executionID string

	globalSem chan struct{}
	nodeSem   map[diagram.NodeID]chan struct{}

	mu         sync.Mutex
	dispatched map[diagram.NodeID]map[int]bool
	initial    map[diagram.NodeID]envelope.Envelope

	wg       sync.WaitGroup
	errOnce  sync.Once
	firstErr error
}

// New builds an Engine ready to run d. transforms is shared with the
// InputResolver so edge TransformRules and handler-level condition
// evaluation reuse the same compiled-expression cache.
func New(d *diagram.ExecutableDiagram, handlers *handler.Registry, transforms *rules.Registry, cfg Config, observers ...Observer) *Engine {
	e := &Engine{
		diagram:    d,
		tokens:     token.New(),
		states:     state.NewTracker(d),
		handlers:   handlers,
		resolver:   resolve.New(transforms, cfg.StrictMode),
		transforms: transforms,
		cfg:        cfg,
		observers:  observers,
		globalSem:  make(chan struct{}, maxInt(cfg.DefaultConcurrency, 1)),
		nodeSem:    make(map[diagram.NodeID]chan struct{}, len(d.Nodes)),
		dispatched: make(map[diagram.NodeID]map[int]bool),
		initial:    make(map[diagram.NodeID]envelope.Envelope),
	}
	for id, n := range d.Nodes {
		e.nodeSem[id] = make(chan struct{}, nodeConcurrencyBound(n))
	}
	return e
}

func nodeConcurrencyBound(n *diagram.Node) int {
	switch n.ConcurrencyPolicy.Kind {
	case diagram.ConcurrencyBounded:
		return maxInt(n.ConcurrencyPolicy.Bound, 1)
	case diagram.ConcurrencyPerToken:
		return 1 << 16 // effectively unbounded at the node level; globalSem is the real cap
	default: // singleton
		return 1
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// State returns the Tracker observers and UI-facing queries read from.
// It is safe to call concurrently with Run.
func (e *Engine) State() *state.Tracker { return e.states }

// Run seeds every START node with input and drives the diagram until no
// task remains ready, then returns. It blocks until the run finishes,
// fails, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, executionID string, input envelope.Envelope) error {
	e.executionID = executionID
	e.notify(ctx, Event{Type: EventExecutionStarted, ExecutionID: executionID, Timestamp: now()})

	var starts []diagram.NodeID
	for id, n := range e.diagram.Nodes {
		if n.Type == diagram.NodeTypeStart {
			starts = append(starts, id)
			e.initial[id] = input
		}
	}
	if len(starts) == 0 {
		return fmt.Errorf("diagram has no START node")
	}

	for _, id := range starts {
		e.dispatch(ctx, task{node: id, epoch: 0})
	}

	e.wg.Wait()

	if e.firstErr != nil {
		e.notify(ctx, Event{Type: EventExecutionFailed, ExecutionID: executionID, Error: e.firstErr, Timestamp: now()})
		return e.firstErr
	}
	if ctx.Err() != nil {
		e.notify(ctx, Event{Type: EventExecutionCancelled, ExecutionID: executionID, Timestamp: now()})
		return &CancelledError{Cause: ctx.Err()}
	}
	e.notify(ctx, Event{Type: EventExecutionCompleted, ExecutionID: executionID, Timestamp: now()})
	return nil
}

// dispatch marks (node,epoch) as owned by one goroutine and spawns it.
// Singleton/bounded nodes dispatch at most once per epoch; per_token
// nodes have no epoch-level gate; each call that finds work dispatches.
func (e *Engine) dispatch(ctx context.Context, t task) {
	n := e.diagram.Nodes[t.node]

	if n.ConcurrencyPolicy.Kind != diagram.ConcurrencyPerToken {
		e.mu.Lock()
		if e.dispatched[t.node] == nil {
			e.dispatched[t.node] = make(map[int]bool)
		}
		if e.dispatched[t.node][t.epoch] {
			e.mu.Unlock()
			return
		}
		e.dispatched[t.node][t.epoch] = true
		e.mu.Unlock()
	}

	e.wg.Add(1)
	go e.runTask(ctx, t)
}

// runTask acquires concurrency permits, resolves input, invokes the
// node's Handler with retry and timeout, and fans its outputs back into
// the token manager, recursively triggering downstream dispatch.
func (e *Engine) runTask(ctx context.Context, t task) {
	defer e.wg.Done()

	n := e.diagram.Nodes[t.node]

	select {
	case <-ctx.Done():
		e.states.Skip(t.node, now())
		e.notify(ctx, Event{Type: EventNodeSkipped, ExecutionID: e.executionID, NodeID: t.node, NodeType: n.Type, Epoch: t.epoch, Timestamp: now(), Message: "execution cancelled"})
		return
	default:
	}

	if n.MaxIteration > 0 && e.states.Get(t.node).ExecutionCount >= n.MaxIteration {
		e.states.MaxIterReached(t.node, now())
		e.notify(ctx, Event{Type: EventNodeMaxIterReached, ExecutionID: e.executionID, NodeID: t.node, NodeType: n.Type, Epoch: t.epoch, Timestamp: now(), Message: fmt.Sprintf("max_iteration %d reached", n.MaxIteration)})
		return
	}

	select {
	case e.globalSem <- struct{}{}:
	case <-ctx.Done():
		e.recordFailure(&CancelledError{Cause: ctx.Err()})
		return
	}
	defer func() { <-e.globalSem }()

	nodeSem := e.nodeSem[t.node]
	select {
	case nodeSem <- struct{}{}:
	case <-ctx.Done():
		e.recordFailure(&CancelledError{Cause: ctx.Err()})
		return
	}
	defer func() { <-nodeSem }()

	consumed := e.tokens.ConsumeInbound(e.diagram, t.node, t.epoch)
	in, err := e.resolver.Resolve(e.diagram, n, consumed, t.epoch)
	if err != nil {
		e.fail(ctx, t, err)
		return
	}
	if len(e.diagram.InEdges(t.node)) == 0 {
		if seed, ok := e.initial[t.node]; ok {
			handleIn := in
			if handleIn == nil {
				handleIn = resolve.Input{}
			}
			handleIn[diagram.HandleDefault] = []envelope.Envelope{seed}
			in = handleIn
		}
	}

	h, err := e.handlers.Get(n.Type)
	if err != nil {
		e.fail(ctx, t, err)
		return
	}

	startedAt := now()
	e.states.Start(t.node, startedAt)
	e.notify(ctx, Event{Type: EventNodeStarted, ExecutionID: e.executionID, NodeID: t.node, NodeType: n.Type, Epoch: t.epoch, Timestamp: startedAt})

	nodeCtx, cancel := e.withNodeTimeout(ctx, n)
	defer cancel()

	hctx := handler.Context{ExecutionID: e.executionID, Node: n, Epoch: t.epoch, Iteration: t.epoch, States: e.states}

	policy := e.cfg.RetryPolicy
	if policy == nil {
		policy = NoRetryPolicy()
	}

	var out map[diagram.HandleName]envelope.Envelope
	runErr := policy.Execute(nodeCtx, func() error {
		var callErr error
		out, callErr = e.invokeHandler(nodeCtx, h, hctx, in)
		return callErr
	})

	endedAt := now()
	duration := endedAt.Sub(startedAt).Milliseconds()

	if runErr != nil {
		e.states.Fail(t.node, runErr, endedAt)
		e.notify(ctx, Event{Type: EventNodeFailed, ExecutionID: e.executionID, NodeID: t.node, NodeType: n.Type, Epoch: t.epoch, Error: runErr, DurationMs: duration, Timestamp: endedAt})
		if nodeCtx.Err() != nil && ctx.Err() == nil {
			e.fail(ctx, t, &TimeoutError{NodeID: t.node, Timeout: e.nodeTimeout(n)})
		} else {
			e.fail(ctx, t, &NodeError{NodeID: t.node, Cause: runErr})
		}
		return
	}

	e.states.Complete(t.node, out, endedAt)
	e.notify(ctx, Event{Type: EventNodeCompleted, ExecutionID: e.executionID, NodeID: t.node, NodeType: n.Type, Epoch: t.epoch, DurationMs: duration, Timestamp: endedAt})

	if n.Type == diagram.NodeTypeCondition {
		for handleName := range out {
			e.tokens.RecordBranchDecision(t.node, t.epoch, handleName)
		}
	}

	for handleName, env := range out {
		touched := e.tokens.EmitOutputs(e.diagram, t.node, handleName, t.epoch, env)
		for _, tc := range touched {
			if e.tokens.Ready(e.diagram, e.diagram.Nodes[tc.TargetNode], tc.Epoch) {
				if tc.Epoch != t.epoch {
					e.notify(ctx, Event{Type: EventLoopIteration, ExecutionID: e.executionID, NodeID: tc.TargetNode, Epoch: tc.Epoch, Timestamp: now()})
				}
				e.dispatch(ctx, task{node: tc.TargetNode, epoch: tc.Epoch})
			}
		}
	}
}

// invokeHandler recovers a handler panic into a PanicError so one faulty
// node cannot crash the whole run.
func (e *Engine) invokeHandler(ctx context.Context, h handler.Handler, hctx handler.Context, in resolve.Input) (out map[diagram.HandleName]envelope.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{NodeID: hctx.Node.ID, Recovered: r}
		}
	}()
	return h.Execute(ctx, hctx, in)
}

func (e *Engine) withNodeTimeout(ctx context.Context, n *diagram.Node) (context.Context, context.CancelFunc) {
	d := e.nodeTimeout(n)
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (e *Engine) nodeTimeout(n *diagram.Node) time.Duration {
	if n.TimeoutSeconds > 0 {
		return time.Duration(n.TimeoutSeconds) * time.Second
	}
	return e.cfg.DefaultNodeTimeout
}

// fail turns a node's failure into an error-tagged Envelope on its default
// handle. Whether a given downstream node actually sees a token is decided
// by that consumer's own HandlesErrors flag, not the failing node's: a
// consumer that opts in receives the error and can react on its own
// handler logic, one that doesn't is suppressed entirely. If no downstream
// edge accepts the error, it is unhandled anywhere in the diagram and the
// run is recorded as fatally failed.
func (e *Engine) fail(ctx context.Context, t task, err error) {
	errEnv := envelope.NewError(err.Error(), t.node, nil)
	touched := e.tokens.EmitToHandlingConsumers(e.diagram, t.node, diagram.HandleDefault, t.epoch, errEnv)
	if len(touched) == 0 {
		e.recordFailure(err)
		return
	}
	for _, tc := range touched {
		if e.tokens.Ready(e.diagram, e.diagram.Nodes[tc.TargetNode], tc.Epoch) {
			e.dispatch(ctx, task{node: tc.TargetNode, epoch: tc.Epoch})
		}
	}
}

func (e *Engine) recordFailure(err error) {
	e.errOnce.Do(func() { e.firstErr = err })
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	for _, o := range e.observers {
		func() {
			defer func() { recover() }()
			o.Notify(ctx, ev)
		}()
	}
}

// now is a seam so a future revision can stamp deterministic timestamps in
// tests without reaching for a wall clock.
func now() time.Time { return time.Now() }
