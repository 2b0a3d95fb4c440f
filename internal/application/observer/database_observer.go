package observer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dipeo/core/internal/domain/repository"
	"github.com/dipeo/core/internal/infrastructure/storage/models"
)

// DatabaseObserver persists every event to the event log via EventRepository.
type DatabaseObserver struct {
	name string
	repo repository.EventRepository
}

func NewDatabaseObserver(repo repository.EventRepository) *DatabaseObserver {
	return &DatabaseObserver{name: "database", repo: repo}
}

func (o *DatabaseObserver) Name() string        { return o.name }
func (o *DatabaseObserver) Filter() EventFilter { return nil }

func (o *DatabaseObserver) OnEvent(ctx context.Context, event Event) error {
	return o.repo.Append(ctx, o.toModel(event))
}

func (o *DatabaseObserver) toModel(event Event) *models.EventModel {
	executionID, _ := uuid.Parse(event.ExecutionID)

	payload := models.JSONBMap{
		"status":    event.Status,
		"timestamp": event.Timestamp.Format(time.RFC3339),
	}
	if event.NodeID != nil {
		payload["node_id"] = *event.NodeID
	}
	if event.NodeName != nil {
		payload["node_name"] = *event.NodeName
	}
	if event.NodeType != nil {
		payload["node_type"] = *event.NodeType
	}
	if event.Epoch != nil {
		payload["epoch"] = *event.Epoch
	}
	if event.DurationMs != nil {
		payload["duration_ms"] = *event.DurationMs
	}
	if event.Error != nil {
		payload["error"] = event.Error.Error()
	}
	if event.Message != nil {
		payload["message"] = *event.Message
	}

	return &models.EventModel{
		ExecutionID: executionID,
		EventType:   string(event.Type),
		Payload:     payload,
	}
}
