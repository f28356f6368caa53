package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Source records how a batch entered stock.
type Source string

const (
	// SourcePurchaseOrder is a batch received against a purchase order line.
	SourcePurchaseOrder Source = "PURCHASE_ORDER"
	// SourceReplacement is a batch sent by a supplier to replace returned goods.
	SourceReplacement Source = "REPLACEMENT"
	// SourceManual is stock added outside purchasing.
	SourceManual Source = "MANUAL_ADDITION"
)

// StockItem is one received batch of a variant. Quantity never changes after creation;
// depletion is tracked through transactions and returns.
type StockItem struct {
	ID                     int64           `json:"id"`
	VariantID              int64           `json:"variant_id"`
	VariantName            string          `json:"variant_name"`
	VariantPrice           decimal.Decimal `json:"-"`
	RequiresExpiryTracking bool            `json:"-"`
	SupplierID             int64           `json:"supplier_id,omitempty"`
	PurchaseOrderItemID    int64           `json:"purchase_order_item_id,omitempty"`
	PurchaseOrderID        int64           `json:"purchase_order_id,omitempty"`
	BatchNumber            string          `json:"batch_number"`
	ExpiryDate             *time.Time      `json:"expiry_date,omitempty"`
	Quantity               int             `json:"quantity"`
	MRP                    decimal.Decimal `json:"mrp"`
	BaseCostPrice          decimal.Decimal `json:"base_cost_price"`
	DiscountPercentage     decimal.Decimal `json:"discount_percentage"`
	GSTPercentage          decimal.Decimal `json:"gst_percentage"`
	CostPrice              decimal.Decimal `json:"cost_price"`
	DateReceived           time.Time       `json:"date_received"`
	Source                 Source          `json:"source"`
	QuantitySold           int             `json:"quantity_sold"`
	QuantityReturned       int             `json:"quantity_returned"`
}

// QuantityAvailable is quantity minus sold minus returned.
func (s StockItem) QuantityAvailable() int {
	return s.Quantity - s.QuantitySold - s.QuantityReturned
}

// DiscountAmount is round2(base × qty × discount% / 100).
func (s StockItem) DiscountAmount() decimal.Decimal {
	return shared.RoundMoney(shared.PercentOf(s.BaseCostPrice.Mul(shared.Qty(s.Quantity)), s.DiscountPercentage))
}

// TotalCost is round2(qty × cost price).
func (s StockItem) TotalCost() decimal.Decimal {
	return shared.LineTotal(s.Quantity, s.CostPrice)
}

// StockItemView is the API shape of a batch with its derived figures.
type StockItemView struct {
	StockItem
	QuantityAvailable int             `json:"quantity_available"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	TotalCost         decimal.Decimal `json:"total_cost"`
}

// View attaches derived quantities and money to the batch.
func (s StockItem) View() StockItemView {
	return StockItemView{
		StockItem:         s,
		QuantityAvailable: s.QuantityAvailable(),
		DiscountAmount:    s.DiscountAmount(),
		TotalCost:         s.TotalCost(),
	}
}

// Transaction is the consumption of a batch by one invoice line.
type Transaction struct {
	ID              int64     `json:"id"`
	StockItemID     int64     `json:"stock_item_id"`
	InvoiceItemID   int64     `json:"invoice_item_id"`
	Quantity        int       `json:"quantity"`
	TransactionDate time.Time `json:"transaction_date"`
}

// VariantTerms carries what stock operations need to know about a variant.
type VariantTerms struct {
	ID                     int64
	Name                   string
	Price                  decimal.Decimal
	RequiresExpiryTracking bool
	IsActive               bool
}

// AdjustmentType is the direction of a manual correction.
type AdjustmentType string

const (
	AdjustmentAddition    AdjustmentType = "ADDITION"
	AdjustmentSubtraction AdjustmentType = "SUBTRACTION"
)

// AdjustmentReason explains a manual correction.
type AdjustmentReason string

const (
	ReasonDamaged      AdjustmentReason = "DAMAGED"
	ReasonExpired      AdjustmentReason = "EXPIRED"
	ReasonStockTake    AdjustmentReason = "STOCK_TAKE"
	ReasonInitialStock AdjustmentReason = "INITIAL_STOCK"
	ReasonOther        AdjustmentReason = "OTHER"
)

func (r AdjustmentReason) valid() bool {
	switch r {
	case ReasonDamaged, ReasonExpired, ReasonStockTake, ReasonInitialStock, ReasonOther:
		return true
	}
	return false
}

// Adjustment is a journal entry for a manual stock correction. It does not alter batch quantities.
type Adjustment struct {
	ID             int64            `json:"id"`
	VariantID      int64            `json:"variant_id"`
	Type           AdjustmentType   `json:"adjustment_type"`
	Quantity       int              `json:"quantity"`
	Reason         AdjustmentReason `json:"reason"`
	Notes          string           `json:"notes"`
	AdjustmentDate time.Time        `json:"adjustment_date"`
	AdjustedBy     int64            `json:"adjusted_by,omitempty"`
}

// ListFilter narrows stock item listings.
type ListFilter struct {
	VariantID int64
	Query     string
	InStock   bool
	Limit     int
	Offset    int
}

// AdjustmentFilter narrows adjustment listings.
type AdjustmentFilter struct {
	VariantID int64
	Limit     int
	Offset    int
}
