package engine

import (
	"fmt"
	"time"

	"github.com/dipeo/core/pkg/diagram"
)

// The scheduler raises exactly one of five error kinds. DiagramStructural
// is raised by pkg/diagram.New before Run is ever called; the remaining
// four are raised during Run.

// CancelledError wraps context cancellation observed between scheduler
// ticks or inside a handler's own ctx.Done() check.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string { return fmt.Sprintf("execution cancelled: %v", e.Cause) }
func (e *CancelledError) Unwrap() error { return e.Cause }

// TimeoutError is raised when a node's handler does not return before its
// TimeoutSeconds (or the engine default) elapses.
type TimeoutError struct {
	NodeID  diagram.NodeID
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out after %s", e.NodeID, e.Timeout)
}

// NodeError wraps a handler's own returned error, after retries are
// exhausted.
type NodeError struct {
	NodeID diagram.NodeID
	Cause  error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Cause) }
func (e *NodeError) Unwrap() error { return e.Cause }

// PanicError is raised when a handler's Execute panics; the scheduler
// recovers it so one bad handler cannot take down the whole run.
type PanicError struct {
	NodeID    diagram.NodeID
	Recovered any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Recovered)
}
