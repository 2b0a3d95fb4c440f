package observer

import (
	"context"

	"github.com/dipeo/core/pkg/engine"
)

var _ engine.Observer = (*EventBus)(nil)

// EventBus adapts pkg/engine's lean lifecycle Event into the richer,
// filterable Event this package's sinks understand, then fans it out via
// an ObserverManager. Passing an EventBus to engine.New wires every
// registered sink (logger, database, websocket, http callback) into the
// scheduler without any of them importing pkg/engine directly.
type EventBus struct {
	mgr *ObserverManager
}

// NewEventBus builds an EventBus with no sinks registered.
func NewEventBus(opts ...ManagerOption) *EventBus {
	return &EventBus{mgr: NewObserverManager(opts...)}
}

// Register adds a sink. Returns an error if its name collides with an
// already-registered sink.
func (b *EventBus) Register(o Observer) error { return b.mgr.Register(o) }

// Unregister removes a sink by name.
func (b *EventBus) Unregister(name string) error { return b.mgr.Unregister(name) }

// Count returns the number of registered sinks.
func (b *EventBus) Count() int { return b.mgr.Count() }

// Notify implements engine.Observer.
func (b *EventBus) Notify(ctx context.Context, ev engine.Event) {
	b.mgr.Notify(ctx, toEvent(ev))
}

func toEvent(ev engine.Event) Event {
	out := Event{
		Type:        EventType(ev.Type),
		ExecutionID: ev.ExecutionID,
		Timestamp:   ev.Timestamp,
		Status:      statusForType(ev.Type),
	}

	if ev.NodeID != "" {
		id := string(ev.NodeID)
		out.NodeID = &id
		out.NodeName = &id
	}
	if ev.NodeType != "" {
		nt := string(ev.NodeType)
		out.NodeType = &nt
	}
	if ev.Type == engine.EventNodeStarted || ev.Type == engine.EventNodeCompleted ||
		ev.Type == engine.EventNodeFailed || ev.Type == engine.EventLoopIteration {
		epoch := ev.Epoch
		out.Epoch = &epoch
	}
	if ev.DurationMs != 0 {
		d := ev.DurationMs
		out.DurationMs = &d
	}
	if ev.Message != "" {
		m := ev.Message
		out.Message = &m
	}
	if ev.Error != nil {
		out.Error = ev.Error
		out.Status = "failed"
	}
	return out
}

func statusForType(t engine.EventType) string {
	switch t {
	case engine.EventExecutionStarted, engine.EventNodeStarted:
		return "running"
	case engine.EventExecutionCompleted, engine.EventNodeCompleted:
		return "completed"
	case engine.EventExecutionFailed, engine.EventNodeFailed:
		return "failed"
	case engine.EventExecutionCancelled:
		return "cancelled"
	case engine.EventNodeSkipped:
		return "skipped"
	default:
		return ""
	}
}
