package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EventModel is one immutable row in the execution event log.
type EventModel struct {
	bun.BaseModel `bun:"table:events,alias:ev"`

	ID          uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	ExecutionID uuid.UUID `bun:"execution_id,notnull,type:uuid" json:"execution_id"`
	EventType   string    `bun:"event_type,notnull" json:"event_type"`
	Sequence    int64     `bun:"sequence,notnull,autoincrement" json:"sequence"`
	Payload     JSONBMap  `bun:"payload,type:jsonb,notnull,default:'{}'" json:"payload"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

func (EventModel) TableName() string { return "events" }

func (e *EventModel) BeforeInsert(ctx any) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Payload == nil {
		e.Payload = make(JSONBMap)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return nil
}
