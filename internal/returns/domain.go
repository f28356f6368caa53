package returns

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/procurement"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Status of a purchase return.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusPartiallyProcessed Status = "PARTIALLY_PROCESSED"
	StatusFullyProcessed     Status = "FULLY_PROCESSED"

	// Legacy labels still present on old rows. They are read but never written.
	StatusRefunded Status = "REFUNDED"
	StatusReplaced Status = "REPLACED"
)

// Open reports whether the return still waits for a refund or replacement.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusPartiallyProcessed
}

// PurchaseReturn sends part of a batch back to the supplier.
type PurchaseReturn struct {
	ID              int64     `json:"id"`
	PurchaseOrderID int64     `json:"purchase_order_id,omitempty"`
	StockItemID     int64     `json:"stock_item_id"`
	Quantity        int       `json:"quantity"`
	Reason          string    `json:"reason"`
	ReturnDate      time.Time `json:"return_date"`
	Status          Status    `json:"status"`
}

// ReplacementItem is goods the supplier sent back against a return. Receiving it
// creates a new REPLACEMENT batch.
type ReplacementItem struct {
	ID                 int64      `json:"id"`
	ReturnID           int64      `json:"purchase_return_id"`
	Quantity           int        `json:"quantity"`
	BatchNumber        string     `json:"batch_number"`
	ExpiryDate         *time.Time `json:"expiry_date,omitempty"`
	Notes              string     `json:"notes"`
	CreatedStockItemID int64      `json:"created_stock_item_id"`
	ReceivedAt         time.Time  `json:"received_at"`
}

// SupplierRefund is money the supplier returned for a return.
type SupplierRefund struct {
	ID              int64           `json:"id"`
	PurchaseOrderID int64           `json:"purchase_order_id,omitempty"`
	ReturnID        int64           `json:"purchase_return_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	RefundDate      time.Time       `json:"refund_date"`
	Notes           string          `json:"notes"`
}

// SupplierCredit is a credit note created from a refund and spent on later orders.
type SupplierCredit struct {
	ID             int64           `json:"id"`
	SupplierID     int64           `json:"supplier_id"`
	SourceRefundID int64           `json:"source_refund_id"`
	InitialAmount  decimal.Decimal `json:"initial_amount"`
	Balance        decimal.Decimal `json:"balance"`
	IsFullyUsed    bool            `json:"is_fully_used"`
	Notes          string          `json:"notes"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Spend deducts amount from the balance and flags the note once nothing is left.
func (c SupplierCredit) Spend(amount decimal.Decimal) SupplierCredit {
	c.Balance = shared.RoundMoney(c.Balance.Sub(amount))
	c.IsFullyUsed = !c.Balance.IsPositive()
	return c
}

// Position is the money and quantity resolution of a return.
type Position struct {
	TotalValue            decimal.Decimal `json:"total_value"`
	QuantityReplaced      int             `json:"quantity_replaced"`
	AmountRefunded        decimal.Decimal `json:"amount_refunded"`
	ValueOfItemsReplaced  decimal.Decimal `json:"value_of_items_replaced"`
	ValuePendingAction    decimal.Decimal `json:"value_pending_action"`
	QuantityPendingAction int             `json:"quantity_pending_action"`
}

// ComputePosition folds the replacements and refunds of a return valued at costPrice per unit.
// The pending quantity is derived from the pending value, so a partial refund can hold back
// one more unit than a plain count would.
func ComputePosition(quantity int, costPrice decimal.Decimal, replacements []ReplacementItem, refunds []SupplierRefund) Position {
	replaced := 0
	for _, r := range replacements {
		replaced += r.Quantity
	}
	amounts := make([]decimal.Decimal, 0, len(refunds))
	for _, r := range refunds {
		amounts = append(amounts, r.Amount)
	}
	pos := Position{
		TotalValue:           shared.LineTotal(quantity, costPrice),
		QuantityReplaced:     replaced,
		AmountRefunded:       shared.SumMoney(amounts...),
		ValueOfItemsReplaced: shared.LineTotal(replaced, costPrice),
	}
	pos.ValuePendingAction = shared.MaxZero(shared.RoundMoney(pos.TotalValue.Sub(pos.ValueOfItemsReplaced).Sub(pos.AmountRefunded)))
	if costPrice.IsPositive() {
		pos.QuantityPendingAction = int(pos.ValuePendingAction.Div(costPrice).Floor().IntPart())
	} else if quantity > replaced {
		pos.QuantityPendingAction = quantity - replaced
	}
	return pos
}

// DeriveStatus maps a position onto the return lifecycle.
func DeriveStatus(pos Position, replacements, refunds int) Status {
	switch {
	case pos.ValuePendingAction.LessThan(shared.Cent):
		return StatusFullyProcessed
	case replacements > 0 || refunds > 0:
		return StatusPartiallyProcessed
	default:
		return StatusPending
	}
}

// Detail is the read model of a return.
type Detail struct {
	PurchaseReturn
	VariantName  string            `json:"variant_name"`
	BatchNumber  string            `json:"batch_number"`
	SupplierID   int64             `json:"supplier_id,omitempty"`
	CostPrice    decimal.Decimal   `json:"cost_price"`
	Replacements []ReplacementItem `json:"replacements"`
	Refunds      []SupplierRefund  `json:"refunds"`
	Position     Position          `json:"position"`
}

// ListFilter narrows return listings.
type ListFilter struct {
	Status          Status
	PurchaseOrderID int64
	Limit           int
	Offset          int
}

// HistoryEntry is one event in the after-sales history of an order.
type HistoryEntry struct {
	Kind     string           `json:"kind"`
	Date     time.Time        `json:"date"`
	ReturnID int64            `json:"purchase_return_id"`
	Quantity int              `json:"quantity,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Notes    string           `json:"notes,omitempty"`
}

// History entry kinds.
const (
	HistoryReturn      = "RETURN"
	HistoryReplacement = "REPLACEMENT"
	HistoryRefund      = "REFUND"
)

// ItemRollup is the returned and replaced picture of one order line.
type ItemRollup struct {
	POItemID          int64  `json:"po_item_id"`
	VariantName       string `json:"variant_name"`
	QuantityOrdered   int    `json:"quantity_ordered"`
	QuantityReceived  int    `json:"quantity_received"`
	QuantityReturned  int    `json:"quantity_returned"`
	QuantityReplaced  int    `json:"quantity_replaced"`
	QuantityAvailable int    `json:"quantity_available"`
}

// OrderHistory combines an order with everything that happened after receipt.
type OrderHistory struct {
	Order   procurement.Detail `json:"purchase_order"`
	Returns []Detail           `json:"returns"`
	Events  []HistoryEntry     `json:"history"`
	Items   []ItemRollup       `json:"items"`
}

// CreditApplied is the outcome of spending a credit note on an order.
type CreditApplied struct {
	Credit      SupplierCredit                `json:"credit"`
	Application procurement.CreditApplication `json:"application"`
	Order       procurement.Ledger            `json:"purchase_order_totals"`
}
