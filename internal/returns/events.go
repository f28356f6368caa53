package returns

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Event names published by returns commands.
const (
	EventReturnCreated       = "returns.created"
	EventRefundRecorded      = "returns.refund_recorded"
	EventReplacementReceived = "returns.replacement_received"
	EventCreditApplied       = "returns.credit_applied"
)

func (s *Service) publish(ctx context.Context, name string, entityID, actorID int64, amount decimal.Decimal) {
	if s.events == nil {
		return
	}
	entity := "purchase_return"
	if name == EventCreditApplied {
		entity = "supplier_credit"
	}
	evt := shared.NewLedgerEvent(name, entity, entityID, actorID)
	if !amount.IsZero() {
		evt.Amount = amount.StringFixed(2)
	}
	s.events.Publish(ctx, evt)
}
