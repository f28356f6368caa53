package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// POStatus is the purchase order lifecycle state.
type POStatus string

const (
	POStatusPending           POStatus = "PENDING"
	POStatusPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POStatusCompleted         POStatus = "COMPLETED"
	POStatusCancelled         POStatus = "CANCELLED"
)

// PurchaseOrder header.
type PurchaseOrder struct {
	ID           int64     `json:"id"`
	SupplierID   int64     `json:"supplier_id"`
	SupplierName string    `json:"supplier_name"`
	OrderDate    time.Time `json:"order_date"`
	Status       POStatus  `json:"status"`
	Notes        string    `json:"notes"`
	CreatedBy    int64     `json:"created_by,omitempty"`
}

// PurchaseOrderItem is one ordered variant.
type PurchaseOrderItem struct {
	ID               int64               `json:"id"`
	PurchaseOrderID  int64               `json:"purchase_order_id"`
	VariantID        int64               `json:"variant_id"`
	VariantName      string              `json:"variant_name"`
	Quantity         int                 `json:"quantity"`
	UnitCost         decimal.NullDecimal `json:"unit_cost"`
	QuantityReceived int                 `json:"quantity_received"`
}

// QuantityRemaining is ordered minus received.
func (i PurchaseOrderItem) QuantityRemaining() int {
	return i.Quantity - i.QuantityReceived
}

// IsFullyReceived reports whether everything ordered has arrived.
func (i PurchaseOrderItem) IsFullyReceived() bool {
	return i.QuantityReceived >= i.Quantity
}

// SupplierPayment is money paid against a purchase order.
type SupplierPayment struct {
	ID              int64           `json:"id"`
	PurchaseOrderID int64           `json:"purchase_order_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     time.Time       `json:"payment_date"`
	Method          string          `json:"method"`
	Reference       string          `json:"reference"`
	Notes           string          `json:"notes"`
	RecordedBy      int64           `json:"recorded_by,omitempty"`
}

// CreditApplication is part of a supplier credit note spent on a purchase order.
type CreditApplication struct {
	ID              int64           `json:"id"`
	CreditID        int64           `json:"credit_id"`
	PurchaseOrderID int64           `json:"purchase_order_id"`
	Amount          decimal.Decimal `json:"amount_applied"`
	DateApplied     time.Time       `json:"date_applied"`
}

// Ledger is the money position of a purchase order, computed fresh from its child rows.
type Ledger struct {
	GrandTotal     decimal.Decimal `json:"grand_total"`
	TotalDiscount  decimal.Decimal `json:"total_discount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	AmountCredited decimal.Decimal `json:"amount_credited"`
	BalanceDue     decimal.Decimal `json:"balance_due"`
}

// ComputeLedger folds received batches, payments and credit applications into a Ledger.
// Only batches received directly against the order count towards the grand total.
func ComputeLedger(batches []inventory.StockItem, payments []SupplierPayment, credits []CreditApplication) Ledger {
	discounts := make([]decimal.Decimal, 0, len(batches))
	for _, batch := range batches {
		discounts = append(discounts, shared.PercentOf(batch.BaseCostPrice.Mul(shared.Qty(batch.Quantity)), batch.DiscountPercentage))
	}
	paid := make([]decimal.Decimal, 0, len(payments))
	for _, p := range payments {
		paid = append(paid, p.Amount)
	}
	applied := make([]decimal.Decimal, 0, len(credits))
	for _, c := range credits {
		applied = append(applied, c.Amount)
	}
	ledger := Ledger{
		GrandTotal:     inventory.SumCost(batches),
		TotalDiscount:  shared.SumMoney(discounts...),
		AmountPaid:     shared.SumMoney(paid...),
		AmountCredited: shared.SumMoney(applied...),
	}
	ledger.BalanceDue = shared.RoundMoney(ledger.GrandTotal.Sub(ledger.AmountPaid).Sub(ledger.AmountCredited))
	return ledger
}

// DeriveStatus computes the receiving status from item counters. CANCELLED is sticky.
func DeriveStatus(current POStatus, items []PurchaseOrderItem) POStatus {
	if current == POStatusCancelled {
		return current
	}
	ordered, received := 0, 0
	for _, item := range items {
		ordered += item.Quantity
		received += item.QuantityReceived
	}
	switch {
	case len(items) == 0 || received == 0:
		return POStatusPending
	case received < ordered:
		return POStatusPartiallyReceived
	default:
		return POStatusCompleted
	}
}

// ItemView is an order line with its receiving figures.
type ItemView struct {
	PurchaseOrderItem
	QuantityRemaining int  `json:"quantity_remaining"`
	IsFullyReceived   bool `json:"is_fully_received"`
}

// Detail is the full read model of a purchase order.
type Detail struct {
	PurchaseOrder
	Items             []ItemView          `json:"items"`
	Payments          []SupplierPayment   `json:"payments"`
	CreditsApplied    []CreditApplication `json:"credits_applied"`
	Ledger            Ledger              `json:"totals"`
	HasPendingReturns bool                `json:"has_pending_returns"`
}

// ListFilter narrows purchase order listings.
type ListFilter struct {
	Status     POStatus
	SupplierID int64
	Limit      int
	Offset     int
}

// PaymentFilter narrows the supplier payment register.
type PaymentFilter struct {
	SupplierID      int64
	PurchaseOrderID int64
	Limit           int
	Offset          int
}

// PaymentRow is a register row: a payment with the supplier of its order.
type PaymentRow struct {
	SupplierPayment
	SupplierID   int64  `json:"supplier_id"`
	SupplierName string `json:"supplier_name"`
}

// Summary is a list row of a purchase order.
type Summary struct {
	PurchaseOrder
	ItemCount int `json:"item_count"`
}

// SupplierOutstanding is the sum of balance due over a supplier's orders.
type SupplierOutstanding struct {
	SupplierID int64           `json:"supplier_id"`
	Orders     int             `json:"orders"`
	Balance    decimal.Decimal `json:"outstanding_balance"`
}
