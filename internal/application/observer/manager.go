package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/dipeo/core/internal/infrastructure/logger"
)

// ObserverManager fans lifecycle events out to every registered Observer.
// Each observer gets its own bounded queue (size bufferSize) drained by a
// dedicated goroutine; a full queue drops its oldest pending event rather
// than blocking the scheduler or losing the newest one, per the buffered
// (never silently dropped outright) lifecycle-event contract.
type ObserverManager struct {
	observers  []Observer
	queues     map[string]chan queuedEvent
	logger     *logger.Logger
	mu         sync.RWMutex
	bufferSize int
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// ManagerOption configures ObserverManager
type ManagerOption func(*ObserverManager)

// WithLogger sets the logger for the manager
func WithLogger(l *logger.Logger) ManagerOption {
	return func(m *ObserverManager) {
		m.logger = l
	}
}

// WithBufferSize sets the async notification buffer size
func WithBufferSize(size int) ManagerOption {
	return func(m *ObserverManager) {
		m.bufferSize = size
	}
}

// NewObserverManager creates a new observer manager
func NewObserverManager(opts ...ManagerOption) *ObserverManager {
	mgr := &ObserverManager{
		observers:  make([]Observer, 0),
		queues:     make(map[string]chan queuedEvent),
		bufferSize: 100, // Default buffer size
	}

	for _, opt := range opts {
		opt(mgr)
	}

	return mgr
}

// Register adds an observer to the manager and starts its drain loop.
func (m *ObserverManager) Register(observer Observer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, obs := range m.observers {
		if obs.Name() == observer.Name() {
			return fmt.Errorf("observer with name %q already registered", observer.Name())
		}
	}

	m.observers = append(m.observers, observer)
	q := make(chan queuedEvent, m.bufferSize)
	m.queues[observer.Name()] = q
	go m.drain(observer, q)
	return nil
}

// Unregister removes an observer by name and stops its drain loop.
func (m *ObserverManager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, obs := range m.observers {
		if obs.Name() == name {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			if q, ok := m.queues[name]; ok {
				close(q)
				delete(m.queues, name)
			}
			return nil
		}
	}

	return fmt.Errorf("observer %q not found", name)
}

// Notify enqueues event for every registered observer. A queue at
// capacity drops its oldest pending event to make room for the new one
// rather than blocking the caller — the scheduler must never stall on a
// slow sink.
func (m *ObserverManager) Notify(ctx context.Context, event Event) {
	m.mu.RLock()
	queues := make([]chan queuedEvent, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.RUnlock()

	qe := queuedEvent{ctx: ctx, event: event}
	for _, q := range queues {
		select {
		case q <- qe:
		default:
			select {
			case <-q:
			default:
			}
			select {
			case q <- qe:
			default:
			}
		}
	}
}

// drain runs for the lifetime of one registered observer, delivering
// queued events in order until its queue is closed by Unregister.
func (m *ObserverManager) drain(obs Observer, q chan queuedEvent) {
	for qe := range q {
		m.notifyObserver(qe.ctx, obs, qe.event)
	}
}

// notifyObserver notifies a single observer with error recovery
func (m *ObserverManager) notifyObserver(ctx context.Context, obs Observer, event Event) {
	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			if m.logger != nil {
				m.logger.ErrorContext(ctx, "Observer panic recovered",
					"observer", obs.Name(),
					"event_type", string(event.Type),
					"panic", r,
				)
			}
		}
	}()

	// Check filter
	filter := obs.Filter()
	if filter != nil && !filter.ShouldNotify(event) {
		return // Event filtered out
	}

	// Call observer
	if err := obs.OnEvent(ctx, event); err != nil {
		if m.logger != nil {
			m.logger.ErrorContext(ctx, "Observer notification failed",
				"observer", obs.Name(),
				"event_type", string(event.Type),
				"error", err,
			)
		}
	}
}

// Count returns the number of registered observers
func (m *ObserverManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observers)
}
