package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LedgerEvent describes a committed ledger command for observers such as metrics.
type LedgerEvent struct {
	ID       uuid.UUID
	Name     string
	Entity   string
	EntityID int64
	ActorID  int64
	Amount   string
	At       time.Time
}

// EventPublisher receives ledger events after the writing transaction commits.
type EventPublisher interface {
	Publish(ctx context.Context, evt LedgerEvent)
}

// NewLedgerEvent stamps an event with a fresh id and the current time.
func NewLedgerEvent(name, entity string, entityID, actorID int64) LedgerEvent {
	return LedgerEvent{ID: uuid.New(), Name: name, Entity: entity, EntityID: entityID, ActorID: actorID, At: time.Now()}
}
