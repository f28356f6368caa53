package inventory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPriceBatchPlainCost(t *testing.T) {
	costing, err := PriceBatch(CostInput{Quantity: 100, BaseCost: dec("10.00")}, dec("15.00"))
	require.NoError(t, err)
	require.True(t, costing.CostPrice.Equal(dec("10.00")))
	require.True(t, costing.MRP.Equal(dec("15.00")))
}

func TestPriceBatchNormalisesDiscountAmount(t *testing.T) {
	mrp := dec("120")
	costing, err := PriceBatch(CostInput{Quantity: 10, MRP: &mrp, BaseCost: dec("100"), DiscountAmount: dec("50"), GSTPct: dec("12")}, decimal.Zero)
	require.NoError(t, err)
	require.True(t, costing.DiscountPct.Equal(dec("5")), costing.DiscountPct.String())
	require.True(t, costing.CostPrice.Equal(dec("106.40")), costing.CostPrice.String())
}

func TestPriceBatchRoundsHalfAwayFromZero(t *testing.T) {
	costing, err := PriceBatch(CostInput{Quantity: 1, BaseCost: dec("33.33"), DiscountPct: dec("10"), GSTPct: dec("5")}, dec("50"))
	require.NoError(t, err)
	require.Equal(t, "31.50", costing.CostPrice.StringFixed(2))
}

func TestPriceBatchRejections(t *testing.T) {
	var verr *shared.ValidationError

	_, err := PriceBatch(CostInput{Quantity: 1, BaseCost: dec("10"), DiscountPct: dec("5"), DiscountAmount: dec("1")}, dec("20"))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "discount_amount", verr.Field)

	_, err = PriceBatch(CostInput{Quantity: 2, BaseCost: dec("10"), DiscountAmount: dec("21")}, dec("20"))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "discount_amount", verr.Field)

	_, err = PriceBatch(CostInput{Quantity: 1, BaseCost: dec("25")}, dec("20"))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "base_cost_price", verr.Field)

	_, err = PriceBatch(CostInput{Quantity: 1, BaseCost: dec("100"), GSTPct: dec("12")}, dec("110"))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "gst_percentage", verr.Field)
}

func TestDiscountStaysZeroForFreeBatches(t *testing.T) {
	pct, err := NormaliseDiscount(5, decimal.Zero, decimal.Zero, dec("3"))
	require.NoError(t, err)
	require.True(t, pct.IsZero())
}

func TestCheckExpiry(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	require.NoError(t, CheckExpiry(nil, false, now))
	require.NoError(t, CheckExpiry(&today, true, now))
	require.Error(t, CheckExpiry(nil, true, now))
	require.Error(t, CheckExpiry(&yesterday, true, now))
}

func TestCheckBatchNumber(t *testing.T) {
	batch, err := CheckBatchNumber("  B-12 ")
	require.NoError(t, err)
	require.Equal(t, "B-12", batch)

	_, err = CheckBatchNumber("   ")
	require.Error(t, err)
}

func TestStockItemDerivedFigures(t *testing.T) {
	item := StockItem{Quantity: 100, QuantitySold: 20, QuantityReturned: 5, BaseCostPrice: dec("10.00"), DiscountPercentage: dec("7.5"), CostPrice: dec("9.255")}
	require.Equal(t, 75, item.QuantityAvailable())
	require.Equal(t, "75.00", item.DiscountAmount().StringFixed(2))
	require.Equal(t, "925.50", item.TotalCost().StringFixed(2))
	view := item.View()
	require.Equal(t, 75, view.QuantityAvailable)
}
