// Package postgres implements the repository interfaces in
// internal/domain/repository against a Postgres database via bun,
// grounded on the teacher's internal/infrastructure/storage package.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/dipeo/core/internal/domain/repository"
	"github.com/dipeo/core/internal/infrastructure/storage/models"
)

var _ repository.EventRepository = (*EventRepository)(nil)

// EventRepository persists the execution event log to Postgres.
type EventRepository struct {
	db bun.IDB
}

func NewEventRepository(db bun.IDB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, event *models.EventModel) error {
	_, err := r.db.NewInsert().Model(event).Exec(ctx)
	return err
}

func (r *EventRepository) AppendBatch(ctx context.Context, events []*models.EventModel) error {
	if len(events) == 0 {
		return nil
	}
	_, err := r.db.NewInsert().Model(&events).Exec(ctx)
	return err
}

func (r *EventRepository) FindByExecutionID(ctx context.Context, executionID uuid.UUID) ([]*models.EventModel, error) {
	var events []*models.EventModel
	err := r.db.NewSelect().
		Model(&events).
		Where("execution_id = ?", executionID).
		OrderExpr("sequence ASC").
		Scan(ctx)
	return events, err
}

func (r *EventRepository) FindByExecutionIDSince(ctx context.Context, executionID uuid.UUID, sinceSequence int64) ([]*models.EventModel, error) {
	var events []*models.EventModel
	err := r.db.NewSelect().
		Model(&events).
		Where("execution_id = ? AND sequence > ?", executionID, sinceSequence).
		OrderExpr("sequence ASC").
		Scan(ctx)
	return events, err
}

func (r *EventRepository) FindByType(ctx context.Context, eventType string, limit, offset int) ([]*models.EventModel, error) {
	var events []*models.EventModel
	err := r.db.NewSelect().
		Model(&events).
		Where("event_type = ?", eventType).
		OrderExpr("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	return events, err
}

func (r *EventRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*models.EventModel, error) {
	var events []*models.EventModel
	err := r.db.NewSelect().
		Model(&events).
		Where("created_at BETWEEN ? AND ?", from, to).
		OrderExpr("created_at ASC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	return events, err
}

func (r *EventRepository) FindLatestByExecutionID(ctx context.Context, executionID uuid.UUID) (*models.EventModel, error) {
	event := new(models.EventModel)
	err := r.db.NewSelect().
		Model(event).
		Where("execution_id = ?", executionID).
		OrderExpr("sequence DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return event, err
}

func (r *EventRepository) Count(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*models.EventModel)(nil)).Count(ctx)
}

func (r *EventRepository) CountByExecutionID(ctx context.Context, executionID uuid.UUID) (int, error) {
	return r.db.NewSelect().
		Model((*models.EventModel)(nil)).
		Where("execution_id = ?", executionID).
		Count(ctx)
}

func (r *EventRepository) CountByType(ctx context.Context, eventType string) (int, error) {
	return r.db.NewSelect().
		Model((*models.EventModel)(nil)).
		Where("event_type = ?", eventType).
		Count(ctx)
}

// Stream polls for new events since fromSequence every 250ms until
// ctx is cancelled. The teacher's equivalent uses Postgres LISTEN/NOTIFY;
// DiPeO keeps the simpler polling loop since its event log has no
// dedicated notification channel wired up yet.
func (r *EventRepository) Stream(ctx context.Context, executionID uuid.UUID, fromSequence int64) (<-chan *models.EventModel, <-chan error) {
	out := make(chan *models.EventModel)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		cursor := fromSequence
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				events, err := r.FindByExecutionIDSince(ctx, executionID, cursor)
				if err != nil {
					errc <- err
					return
				}
				for _, e := range events {
					select {
					case out <- e:
						cursor = e.Sequence
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, errc
}
