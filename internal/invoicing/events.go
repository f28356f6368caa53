package invoicing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Event names published by billing commands.
const (
	EventInvoiceCreated   = "invoicing.created"
	EventInvoiceUpdated   = "invoicing.updated"
	EventInvoiceCancelled = "invoicing.cancelled"
	EventInvoiceDeleted   = "invoicing.deleted"
	EventPaymentRecorded  = "invoicing.payment_recorded"
	EventRefundRecorded   = "invoicing.refund_recorded"
)

func (s *Service) publish(ctx context.Context, name string, invoiceID, actorID int64, amount decimal.Decimal) {
	if s.events == nil {
		return
	}
	evt := shared.NewLedgerEvent(name, "invoice", invoiceID, actorID)
	if !amount.IsZero() {
		evt.Amount = amount.StringFixed(2)
	}
	s.events.Publish(ctx, evt)
}
