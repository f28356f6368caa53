package observability

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// EventLog publishes committed ledger events to the log and the event counter.
type EventLog struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewEventLog constructs an EventLog. Either dependency may be nil.
func NewEventLog(logger *slog.Logger, metrics *Metrics) *EventLog {
	return &EventLog{logger: logger, metrics: metrics}
}

// Publish implements shared.EventPublisher.
func (e *EventLog) Publish(ctx context.Context, evt shared.LedgerEvent) {
	e.metrics.CountEvent(evt.Name)
	if e.logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("event_id", evt.ID.String()),
		slog.String("entity", evt.Entity),
		slog.Int64("entity_id", evt.EntityID),
		slog.Int64("actor_id", evt.ActorID),
	}
	if evt.Amount != "" {
		attrs = append(attrs, slog.String("amount", evt.Amount))
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, evt.Name, attrs...)
}

var _ shared.EventPublisher = (*EventLog)(nil)
