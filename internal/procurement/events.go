package procurement

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Event names published by purchasing commands.
const (
	EventPurchaseOrderCreated   = "procurement.po_created"
	EventPurchaseOrderUpdated   = "procurement.po_updated"
	EventPurchaseOrderCancelled = "procurement.po_cancelled"
	EventStockReceived          = "procurement.stock_received"
	EventSupplierPaid           = "procurement.supplier_paid"
)

func (s *Service) publish(ctx context.Context, name string, poID, actorID int64, amount decimal.Decimal) {
	if s.events == nil {
		return
	}
	evt := shared.NewLedgerEvent(name, "purchase_order", poID, actorID)
	if !amount.IsZero() {
		evt.Amount = amount.StringFixed(2)
	}
	s.events.Publish(ctx, evt)
}
