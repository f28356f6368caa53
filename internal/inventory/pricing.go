package inventory

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// CostInput is the pricing part of a batch being received.
// Discount may be given as a percentage or as an amount for the whole line, not both.
type CostInput struct {
	Quantity       int
	MRP            *decimal.Decimal
	BaseCost       decimal.Decimal
	DiscountPct    decimal.Decimal
	DiscountAmount decimal.Decimal
	GSTPct         decimal.Decimal
}

// Costing is the resolved pricing of a batch.
type Costing struct {
	MRP         decimal.Decimal
	BaseCost    decimal.Decimal
	DiscountPct decimal.Decimal
	GSTPct      decimal.Decimal
	CostPrice   decimal.Decimal
}

// PriceBatch normalises the discount, computes the final unit cost and checks both
// base and final cost against the MRP. MRP defaults to defaultMRP when not supplied.
func PriceBatch(in CostInput, defaultMRP decimal.Decimal) (Costing, error) {
	if in.BaseCost.IsNegative() {
		return Costing{}, shared.Invalid("base_cost_price", "Base cost cannot be negative.")
	}
	if in.DiscountPct.IsNegative() || in.DiscountAmount.IsNegative() || in.GSTPct.IsNegative() {
		return Costing{}, shared.Invalid("discount_percentage", "Discount and GST cannot be negative.")
	}
	if in.DiscountPct.GreaterThan(decimal.NewFromInt(100)) {
		return Costing{}, shared.Invalid("discount_percentage", "Discount cannot exceed 100%%.")
	}
	pct, err := NormaliseDiscount(in.Quantity, in.BaseCost, in.DiscountPct, in.DiscountAmount)
	if err != nil {
		return Costing{}, err
	}
	mrp := defaultMRP
	if in.MRP != nil {
		mrp = *in.MRP
	}
	final := FinalCost(in.BaseCost, pct, in.GSTPct)
	if in.BaseCost.GreaterThan(mrp) {
		return Costing{}, shared.Invalid("base_cost_price", "Base cost %s cannot be greater than MRP %s.", shared.FormatMoney(in.BaseCost), shared.FormatMoney(mrp))
	}
	if final.GreaterThan(mrp) {
		return Costing{}, shared.Invalid("gst_percentage", "Final cost after GST %s cannot be greater than MRP %s.", shared.FormatMoney(final), shared.FormatMoney(mrp))
	}
	return Costing{MRP: mrp, BaseCost: in.BaseCost, DiscountPct: pct, GSTPct: in.GSTPct, CostPrice: final}, nil
}

// NormaliseDiscount converts a line discount amount into a unit percentage rounded to 2 places.
// It stays 0 when the base cost is 0.
func NormaliseDiscount(qty int, base, pct, amount decimal.Decimal) (decimal.Decimal, error) {
	if pct.IsPositive() && amount.IsPositive() {
		return decimal.Zero, shared.Invalid("discount_amount", "Enter the discount as a percentage or as an amount, not both.")
	}
	if !amount.IsPositive() {
		return pct, nil
	}
	if !base.IsPositive() || qty <= 0 {
		return decimal.Zero, nil
	}
	if amount.GreaterThan(base.Mul(shared.Qty(qty))) {
		return decimal.Zero, shared.Invalid("discount_amount", "Discount amount cannot exceed the line's base cost.")
	}
	perUnit := amount.Div(shared.Qty(qty))
	return shared.RoundMoney(perUnit.Div(base).Mul(decimal.NewFromInt(100))), nil
}

// FinalCost is round2(base × (1 − discount/100) × (1 + gst/100)).
func FinalCost(base, discountPct, gstPct decimal.Decimal) decimal.Decimal {
	afterDiscount := shared.ApplyPercent(base, discountPct.Neg())
	return shared.RoundMoney(shared.ApplyPercent(afterDiscount, gstPct))
}

// CheckBatchNumber trims the batch number and rejects blanks.
func CheckBatchNumber(batch string) (string, error) {
	batch = strings.TrimSpace(batch)
	if batch == "" {
		return "", shared.Invalid("batch_number", "Batch number is required.")
	}
	return batch, nil
}

// CheckExpiry requires an expiry date for tracked products and rejects dates before today.
func CheckExpiry(expiry *time.Time, requiresTracking bool, now time.Time) error {
	if expiry == nil {
		if requiresTracking {
			return shared.Invalid("expiry_date", "Expiry date is required for this product.")
		}
		return nil
	}
	if expiry.Before(startOfDay(now)) {
		return shared.Invalid("expiry_date", "Expiry date cannot be in the past.")
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
