package returns_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/clinic-ledger/internal/procurement"
	"github.com/odyssey-erp/clinic-ledger/internal/procurement/procurementtest"
	"github.com/odyssey-erp/clinic-ledger/internal/returns"
	"github.com/odyssey-erp/clinic-ledger/internal/returns/returnstest"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

var (
	testNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	expiry  = time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	stock    *inventorytest.Store
	orders   *procurementtest.Store
	store    *returnstest.Store
	purchase *procurement.Service
	svc      *returns.Service
	variant  inventory.VariantTerms
	supplier int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stock := inventorytest.NewStore()
	orders := procurementtest.NewStore(stock)
	store := returnstest.NewStore(orders)
	clock := func() time.Time { return testNow }
	return &fixture{
		stock:    stock,
		orders:   orders,
		store:    store,
		purchase: procurement.NewService(orders, nil, nil, nil, procurement.ServiceConfig{Now: clock}),
		svc:      returns.NewService(store, nil, nil, returns.ServiceConfig{Now: clock}),
		variant:  stock.AddVariant("Composite A2 - 3M", dec("60.00"), true),
		supplier: orders.AddSupplier("Dental Depot"),
	}
}

// received creates an order for qty units and receives all of them at cost, returning
// the order and the batch.
func (f *fixture) received(t *testing.T, supplier int64, qty int, cost string) (procurement.Detail, inventory.StockItem) {
	t.Helper()
	ctx := context.Background()
	po, err := f.purchase.CreatePurchaseOrder(ctx, procurement.POInput{
		SupplierID: supplier,
		Items:      []procurement.POItemInput{{VariantID: f.variant.ID, Quantity: qty}},
	})
	require.NoError(t, err)
	when := expiry
	po, err = f.purchase.ReceiveStock(ctx, po.ID, procurement.ReceiveInput{Lines: []procurement.ReceiveLine{{
		POItemID:    po.Items[0].ID,
		Quantity:    qty,
		Cost:        inventory.CostInput{BaseCost: dec(cost)},
		BatchNumber: "LOT-1",
		ExpiryDate:  &when,
	}}})
	require.NoError(t, err)
	batches, err := f.stock.ListStockItemsForPO(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	return po, batches[0]
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func money(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(2))
}

func TestReturnRefundCreditApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po1, batch := f.received(t, f.supplier, 100, "10.00")

	ret, err := f.svc.CreateReturn(ctx, returns.ReturnInput{ActorID: 3, StockItemID: batch.ID, Quantity: 20, Reason: "damaged packaging"})
	require.NoError(t, err)
	require.Equal(t, returns.StatusPending, ret.Status)
	require.Equal(t, po1.ID, ret.PurchaseOrderID)
	requireMoney(t, "200.00", ret.Position.TotalValue)
	require.Equal(t, 20, ret.Position.QuantityPendingAction)

	detail, err := f.purchase.GetPurchaseOrder(ctx, po1.ID)
	require.NoError(t, err)
	require.True(t, detail.HasPendingReturns)
	item, err := f.stock.GetStockItem(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, 80, item.QuantityAvailable())

	ret, err = f.svc.AddSupplierRefund(ctx, ret.ID, returns.RefundInput{ActorID: 3, Amount: money("200.00")})
	require.NoError(t, err)
	require.Equal(t, returns.StatusFullyProcessed, ret.Status)
	requireMoney(t, "200.00", ret.Position.AmountRefunded)
	requireMoney(t, "0.00", ret.Position.ValuePendingAction)

	detail, err = f.purchase.GetPurchaseOrder(ctx, po1.ID)
	require.NoError(t, err)
	require.False(t, detail.HasPendingReturns)

	po2, _ := f.received(t, f.supplier, 50, "10.00")
	requireMoney(t, "500.00", po2.Ledger.GrandTotal)

	credits, err := f.svc.AvailableCredits(ctx, po2.ID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	credit := credits[0]
	requireMoney(t, "200.00", credit.Balance)
	require.Equal(t, f.supplier, credit.SupplierID)
	require.Equal(t, "Credit from refund for return #"+strconv.FormatInt(ret.ID, 10), credit.Notes)

	applied, err := f.svc.ApplyCredit(ctx, credit.ID, po2.ID, returns.ApplyCreditInput{ActorID: 3, Amount: dec("150.00")})
	require.NoError(t, err)
	requireMoney(t, "50.00", applied.Credit.Balance)
	require.False(t, applied.Credit.IsFullyUsed)
	requireMoney(t, "150.00", applied.Order.AmountCredited)
	requireMoney(t, "350.00", applied.Order.BalanceDue)

	applied, err = f.svc.ApplyCredit(ctx, credit.ID, po2.ID, returns.ApplyCreditInput{Amount: dec("50.00")})
	require.NoError(t, err)
	require.True(t, applied.Credit.IsFullyUsed)
	requireMoney(t, "0.00", applied.Credit.Balance)
	requireMoney(t, "300.00", applied.Order.BalanceDue)

	// balance = initial − Σ applications
	stored := f.store.Credits[credit.ID]
	spent := decimal.Zero
	for _, app := range f.orders.Credits {
		if app.CreditID == credit.ID {
			spent = spent.Add(app.Amount)
		}
	}
	require.True(t, stored.Balance.Equal(stored.InitialAmount.Sub(spent)))

	credits, err = f.svc.AvailableCredits(ctx, po2.ID)
	require.NoError(t, err)
	require.Empty(t, credits)
}

func TestRefundDefaultsToPendingValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, batch := f.received(t, f.supplier, 10, "12.34")

	ret, err := f.svc.CreateReturn(ctx, returns.ReturnInput{StockItemID: batch.ID, Quantity: 3})
	require.NoError(t, err)

	ret, err = f.svc.AddSupplierRefund(ctx, ret.ID, returns.RefundInput{})
	require.NoError(t, err)
	require.Equal(t, returns.StatusFullyProcessed, ret.Status)
	require.Len(t, ret.Refunds, 1)
	requireMoney(t, "37.02", ret.Refunds[0].Amount)
	require.Equal(t, "Refund for 3 x Composite A2 - 3M", ret.Refunds[0].Notes)

	_, err = f.svc.AddSupplierRefund(ctx, ret.ID, returns.RefundInput{Amount: money("1.00")})
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestRefundValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, batch := f.received(t, f.supplier, 10, "10.00")
	ret, err := f.svc.CreateReturn(ctx, returns.ReturnInput{StockItemID: batch.ID, Quantity: 2})
	require.NoError(t, err)

	var verr *shared.ValidationError
	_, err = f.svc.AddSupplierRefund(ctx, ret.ID, returns.RefundInput{Amount: money("20.01")})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "amount", verr.Field)

	_, err = f.svc.AddSupplierRefund(ctx, ret.ID, returns.RefundInput{Amount: money("0")})
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.AddSupplierRefund(ctx, ret.ID, returns.RefundInput{Amount: money("5"), PurchaseOrderID: po.ID + 1000})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "purchase_order_id", verr.Field)

	require.Empty(t, f.store.Refunds)
	require.Empty(t, f.store.Credits)
}

func TestPartialRefundAndReplacementConserveValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, batch := f.received(t, f.supplier, 10, "33.33")

	ret, err := f.svc.CreateReturn(ctx, returns.ReturnInput{StockItemID: batch.ID, Quantity: 3})
	require.NoError(t, err)
	requireMoney(t, "99.99", ret.Position.TotalValue)
	previous := ret.Position.ValuePendingAction

	ret, err = f.svc.AddSupplierRefund(ctx, ret.ID, returns.RefundInput{Amount: money("50.00")})
	require.NoError(t, err)
	require.Equal(t, returns.StatusPartiallyProcessed, ret.Status)
	requireMoney(t, "49.99", ret.Position.ValuePendingAction)
	require.Equal(t, 1, ret.Position.QuantityPendingAction)
	require.True(t, ret.Position.ValuePendingAction.LessThanOrEqual(previous))
	previous = ret.Position.ValuePendingAction

	_, err = f.svc.ReceiveReplacement(ctx, ret.ID, returns.ReplacementInput{Quantity: 2, BatchNumber: "R-1", ExpiryDate: &expiry})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "quantity", verr.Field)

	ret, err = f.svc.ReceiveReplacement(ctx, ret.ID, returns.ReplacementInput{Quantity: 1, BatchNumber: " R-1 ", ExpiryDate: &expiry})
	require.NoError(t, err)
	require.Equal(t, returns.StatusPartiallyProcessed, ret.Status)
	requireMoney(t, "16.66", ret.Position.ValuePendingAction)
	require.Equal(t, 0, ret.Position.QuantityPendingAction)
	require.True(t, ret.Position.ValuePendingAction.LessThanOrEqual(previous))

	replaced := ret.Position.ValueOfItemsReplaced.Add(ret.Position.AmountRefunded)
	require.True(t, replaced.LessThanOrEqual(ret.Position.TotalValue))

	_, err = f.svc.ReceiveReplacement(ctx, ret.ID, returns.ReplacementInput{Quantity: 1, BatchNumber: "R-2", ExpiryDate: &expiry})
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)

	ret, err = f.svc.AddSupplierRefund(ctx, ret.ID, returns.RefundInput{Amount: money("16.66")})
	require.NoError(t, err)
	require.Equal(t, returns.StatusFullyProcessed, ret.Status)
}

func TestReplacementClonesBatchPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, batch := f.received(t, f.supplier, 10, "10.00")
	ret, err := f.svc.CreateReturn(ctx, returns.ReturnInput{StockItemID: batch.ID, Quantity: 4})
	require.NoError(t, err)

	_, err = f.svc.ReceiveReplacement(ctx, ret.ID, returns.ReplacementInput{Quantity: 4, BatchNumber: "R-9"})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "expiry_date", verr.Field)

	ret, err = f.svc.ReceiveReplacement(ctx, ret.ID, returns.ReplacementInput{Quantity: 4, BatchNumber: "R-9", ExpiryDate: &expiry})
	require.NoError(t, err)
	require.Equal(t, returns.StatusFullyProcessed, ret.Status)
	require.Len(t, ret.Replacements, 1)

	created, err := f.stock.GetStockItem(ctx, ret.Replacements[0].CreatedStockItemID)
	require.NoError(t, err)
	require.Equal(t, inventory.SourceReplacement, created.Source)
	require.Equal(t, batch.SupplierID, created.SupplierID)
	require.Equal(t, int64(0), created.PurchaseOrderItemID)
	require.Equal(t, 4, created.QuantityAvailable())
	require.True(t, created.CostPrice.Equal(batch.CostPrice))
	require.True(t, created.MRP.Equal(batch.MRP))
}

func TestCreateReturnCannotExceedAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, batch := f.received(t, f.supplier, 5, "10.00")

	_, err := f.svc.CreateReturn(ctx, returns.ReturnInput{StockItemID: batch.ID, Quantity: 3})
	require.NoError(t, err)
	_, err = f.svc.CreateReturn(ctx, returns.ReturnInput{StockItemID: batch.ID, Quantity: 3})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "quantity", verr.Field)

	_, err = f.svc.CreateReturn(ctx, returns.ReturnInput{StockItemID: batch.ID, Quantity: 0})
	require.ErrorAs(t, err, &verr)

	item, err := f.stock.GetStockItem(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, 2, item.QuantityAvailable())
	require.GreaterOrEqual(t, item.Quantity, item.QuantitySold+item.QuantityReturned)
}

func TestApplyCreditRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, batch := f.received(t, f.supplier, 20, "10.00")
	ret, err := f.svc.CreateReturn(ctx, returns.ReturnInput{StockItemID: batch.ID, Quantity: 20})
	require.NoError(t, err)
	_, err = f.svc.AddSupplierRefund(ctx, ret.ID, returns.RefundInput{})
	require.NoError(t, err)
	require.Len(t, f.store.Credits, 1)
	var creditID int64
	for id := range f.store.Credits {
		creditID = id
	}

	small, _ := f.received(t, f.supplier, 5, "10.00")
	otherSupplier := f.orders.AddSupplier("Smile Supplies")
	foreign, _ := f.received(t, otherSupplier, 5, "10.00")

	var conflict *shared.ConflictError
	_, err = f.svc.ApplyCredit(ctx, creditID, foreign.ID, returns.ApplyCreditInput{Amount: dec("10")})
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "Credit note not found or does not belong to this supplier", conflict.Message)

	_, err = f.svc.ApplyCredit(ctx, 99999, small.ID, returns.ApplyCreditInput{Amount: dec("10")})
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "Credit note not found or does not belong to this supplier", conflict.Message)

	_, err = f.svc.ApplyCredit(ctx, creditID, small.ID, returns.ApplyCreditInput{Amount: dec("250")})
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "Cannot apply 250.00. Only 200.00 is available on this credit note.", conflict.Message)

	_, err = f.svc.ApplyCredit(ctx, creditID, small.ID, returns.ApplyCreditInput{Amount: dec("60")})
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "Only 50.00 is due on this PO.", conflict.Message)

	var verr *shared.ValidationError
	_, err = f.svc.ApplyCredit(ctx, creditID, small.ID, returns.ApplyCreditInput{Amount: dec("0")})
	require.ErrorAs(t, err, &verr)

	require.Empty(t, f.orders.Credits)
	requireMoney(t, "200.00", f.store.Credits[creditID].Balance)
}

func TestRelatedReturnsFollowReplacementChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, batchA := f.received(t, f.supplier, 20, "10.00")

	r1, err := f.svc.CreateReturn(ctx, returns.ReturnInput{StockItemID: batchA.ID, Quantity: 10})
	require.NoError(t, err)
	r1, err = f.svc.ReceiveReplacement(ctx, r1.ID, returns.ReplacementInput{Quantity: 10, BatchNumber: "LOT-B", ExpiryDate: &expiry})
	require.NoError(t, err)
	batchB := r1.Replacements[0].CreatedStockItemID

	r2, err := f.svc.CreateReturn(ctx, returns.ReturnInput{StockItemID: batchB, Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, int64(0), r2.PurchaseOrderID)

	related, err := f.svc.RelatedReturns(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, related, 2)
	require.Equal(t, r1.ID, related[0].ID)
	require.Equal(t, r2.ID, related[1].ID)

	history, err := f.svc.PurchaseOrderHistory(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, history.Returns, 2)
	kinds := make([]string, 0, len(history.Events))
	for _, evt := range history.Events {
		kinds = append(kinds, evt.Kind)
	}
	require.Equal(t, []string{returns.HistoryReturn, returns.HistoryReplacement, returns.HistoryReturn}, kinds)
	require.Len(t, history.Items, 1)
	require.Equal(t, returns.ItemRollup{
		POItemID:          po.Items[0].ID,
		VariantName:       f.variant.Name,
		QuantityOrdered:   20,
		QuantityReceived:  20,
		QuantityReturned:  10,
		QuantityReplaced:  10,
		QuantityAvailable: 10,
	}, history.Items[0])
}

func TestComputePositionWithoutCost(t *testing.T) {
	pos := returns.ComputePosition(5, decimal.Zero, []returns.ReplacementItem{{Quantity: 2}}, nil)
	require.Equal(t, 3, pos.QuantityPendingAction)
	require.Equal(t, returns.StatusFullyProcessed, returns.DeriveStatus(pos, 1, 0))

	pos = returns.ComputePosition(5, decimal.Zero, []returns.ReplacementItem{{Quantity: 7}}, nil)
	require.Equal(t, 0, pos.QuantityPendingAction)
}
