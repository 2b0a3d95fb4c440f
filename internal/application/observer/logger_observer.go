package observer

import (
	"context"
	"fmt"

	"github.com/dipeo/core/internal/infrastructure/logger"
)

// LoggerObserver mirrors execution events to the structured logger.
type LoggerObserver struct {
	name   string
	logger *logger.Logger
	filter EventFilter
}

type LoggerObserverOption func(*LoggerObserver)

func WithLoggerInstance(l *logger.Logger) LoggerObserverOption {
	return func(o *LoggerObserver) { o.logger = l }
}

func WithLoggerFilter(filter EventFilter) LoggerObserverOption {
	return func(o *LoggerObserver) { o.filter = filter }
}

func NewLoggerObserver(opts ...LoggerObserverOption) *LoggerObserver {
	obs := &LoggerObserver{name: "logger"}
	for _, opt := range opts {
		opt(obs)
	}
	return obs
}

func (o *LoggerObserver) Name() string        { return o.name }
func (o *LoggerObserver) Filter() EventFilter { return o.filter }

func (o *LoggerObserver) OnEvent(ctx context.Context, event Event) error {
	if o.logger == nil {
		return nil
	}

	fields := []any{
		"event_type", string(event.Type),
		"execution_id", event.ExecutionID,
		"status", event.Status,
	}
	if event.NodeID != nil {
		fields = append(fields, "node_id", *event.NodeID, "node_type", *event.NodeType)
	}
	if event.Epoch != nil {
		fields = append(fields, "epoch", *event.Epoch)
	}
	if event.DurationMs != nil {
		fields = append(fields, "duration_ms", *event.DurationMs)
	}

	msg := fmt.Sprintf("execution event: %s", event.Type)
	if event.Error != nil {
		fields = append(fields, "error", event.Error.Error())
		o.logger.ErrorContext(ctx, msg, fields...)
	} else {
		o.logger.InfoContext(ctx, msg, fields...)
	}
	return nil
}
