package invoicing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/clinic-ledger/internal/invoicing"
	"github.com/odyssey-erp/clinic-ledger/internal/invoicing/invoicingtest"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	stock   *inventorytest.Store
	store   *invoicingtest.Store
	svc     *invoicing.Service
	clock   time.Time
	batch   int64
	scaling invoicing.ServiceTerms
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stock := inventorytest.NewStore()
	store := invoicingtest.NewStore(stock)
	f := &fixture{stock: stock, store: store, clock: testNow}
	f.svc = invoicing.NewService(store, nil, nil, invoicing.ServiceConfig{Now: func() time.Time { return f.clock }})
	variant := stock.AddVariant("Amoxicillin 500mg - Cipla", dec("12.50"), false)
	id, err := stock.InsertStockItem(context.Background(), inventory.StockItem{
		VariantID:    variant.ID,
		BatchNumber:  "AMX-01",
		Quantity:     100,
		CostPrice:    dec("8.00"),
		DateReceived: testNow,
		Source:       inventory.SourceManual,
	})
	require.NoError(t, err)
	f.batch = id
	f.scaling = store.AddService("Scaling", dec("800.00"))
	return f
}

func (f *fixture) available(t *testing.T) int {
	t.Helper()
	item, err := f.stock.GetStockItem(context.Background(), f.batch)
	require.NoError(t, err)
	return item.QuantityAvailable()
}

func (f *fixture) serviceInvoice(t *testing.T) invoicing.Detail {
	t.Helper()
	detail, err := f.svc.CreateInvoice(context.Background(), invoicing.InvoiceInput{
		PatientID: 11,
		Discount:  dec("50"),
		Items:     []invoicing.ItemInput{{ServiceID: f.scaling.ID, Quantity: 1, Discount: dec("50")}},
	})
	require.NoError(t, err)
	return detail
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestInvoiceConsumesAndReleasesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	detail, err := f.svc.CreateInvoice(ctx, invoicing.InvoiceInput{
		PatientID: 11,
		Items:     []invoicing.ItemInput{{StockItemID: f.batch, Quantity: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, 80, f.available(t))
	require.Len(t, detail.Items, 1)
	line := detail.Items[0]
	require.Equal(t, "12.50", line.UnitPrice.StringFixed(2))
	require.Equal(t, "Amoxicillin 500mg - Cipla", line.DisplayDescription)
	require.Equal(t, "250.00", detail.TotalAmount.StringFixed(2))
	require.Equal(t, invoicing.StatusPending, detail.Status)

	_, err = f.svc.AddInvoiceItem(ctx, detail.ID, 7, invoicing.ItemInput{StockItemID: f.batch, Quantity: 81})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "quantity", verr.Field)
	require.Equal(t, 80, f.available(t))

	// A line may grow into what it already holds plus what is left.
	detail, err = f.svc.UpdateInvoiceItem(ctx, detail.ID, line.ID, 7, invoicing.ItemInput{StockItemID: f.batch, Quantity: 100})
	require.NoError(t, err)
	require.Equal(t, 0, f.available(t))
	require.Equal(t, "1250.00", detail.TotalAmount.StringFixed(2))

	detail, err = f.svc.DeleteInvoiceItem(ctx, detail.ID, line.ID, 7)
	require.NoError(t, err)
	require.Empty(t, detail.Items)
	require.Equal(t, 100, f.available(t))
	require.Empty(t, f.stock.Transactions)
	require.Equal(t, "0.00", detail.TotalAmount.StringFixed(2))
}

func TestInvoiceNumbersRestartEachDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	create := func() string {
		detail, err := f.svc.CreateInvoice(ctx, invoicing.InvoiceInput{PatientID: 3})
		require.NoError(t, err)
		return detail.Number
	}

	require.Equal(t, "INV-260310-0001", create())
	require.Equal(t, "INV-260310-0002", create())
	f.clock = testNow.Add(24 * time.Hour)
	require.Equal(t, "INV-260311-0001", create())
}

func TestNextNumberRejectsForeignPrefix(t *testing.T) {
	_, err := invoicing.NextNumber("INV-260310-", "INV-260309-0004")
	require.Error(t, err)

	next, err := invoicing.NextNumber("INV-260310-", "INV-260310-0041")
	require.NoError(t, err)
	require.Equal(t, "INV-260310-0042", next)
}

func TestPaymentsDriveBalanceAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.serviceInvoice(t)
	require.Equal(t, "800.00", detail.Totals.TotalAmount.StringFixed(2))
	require.Equal(t, "100.00", detail.Totals.TotalDiscount.StringFixed(2))
	require.Equal(t, "700.00", detail.Totals.NetAmount.StringFixed(2))
	require.Equal(t, "750.00", detail.Items[0].NetPrice.StringFixed(2))
	require.Equal(t, invoicing.StatusPending, detail.Status)

	detail, err := f.svc.AddPayment(ctx, detail.ID, invoicing.PaymentInput{Amount: dec("300")})
	require.NoError(t, err)
	require.Equal(t, invoicing.StatusPartial, detail.Status)
	require.Equal(t, "400.00", detail.Totals.BalanceDue.StringFixed(2))
	require.Equal(t, invoicing.MethodCash, detail.Payments[0].Method)

	_, err = f.svc.AddPayment(ctx, detail.ID, invoicing.PaymentInput{Amount: dec("400.01")})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "Payment of 400.01 exceeds the outstanding balance of 400.00", verr.Message)

	_, err = f.svc.AddPayment(ctx, detail.ID, invoicing.PaymentInput{Amount: dec("0.001")})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "amount", verr.Field)

	_, err = f.svc.AddPayment(ctx, detail.ID, invoicing.PaymentInput{Amount: dec("10"), Method: "BARTER"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "payment_method", verr.Field)

	detail, err = f.svc.AddPayment(ctx, detail.ID, invoicing.PaymentInput{Amount: dec("400"), Method: invoicing.MethodUPI})
	require.NoError(t, err)
	require.Equal(t, invoicing.StatusPaid, detail.Status)
	require.True(t, detail.Totals.BalanceDue.IsZero())
}

func TestRefundOnlyForOverpaidInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.serviceInvoice(t)
	detail, err := f.svc.AddPayment(ctx, detail.ID, invoicing.PaymentInput{Amount: dec("700")})
	require.NoError(t, err)

	_, err = f.svc.RecordRefund(ctx, detail.ID, invoicing.RefundInput{Amount: dec("10")})
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "A refund can only be recorded for an overpaid invoice.", conflict.Message)

	// A larger line discount after payment leaves the invoice overpaid by 100.
	detail, err = f.svc.UpdateInvoiceItem(ctx, detail.ID, detail.Items[0].ID, 7, invoicing.ItemInput{ServiceID: f.scaling.ID, Quantity: 1, Discount: dec("150")})
	require.NoError(t, err)
	require.Equal(t, "-100.00", detail.Totals.BalanceDue.StringFixed(2))
	require.Equal(t, invoicing.StatusPaid, detail.Status)

	_, err = f.svc.RecordRefund(ctx, detail.ID, invoicing.RefundInput{Amount: dec("100.01")})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "Refund of 100.01 exceeds the maximum refundable amount of 100.00", verr.Message)

	detail, err = f.svc.RecordRefund(ctx, detail.ID, invoicing.RefundInput{Amount: dec("100"), Reason: "discount applied late"})
	require.NoError(t, err)
	require.True(t, detail.Totals.BalanceDue.IsZero())
	require.Equal(t, "100.00", detail.Totals.TotalRefunded.StringFixed(2))
	require.Equal(t, invoicing.MethodBank, detail.Refunds[0].Method)
	require.Equal(t, invoicing.StatusPaid, detail.Status)
}

func TestAppointmentIsBilledOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.CreateInvoice(ctx, invoicing.InvoiceInput{PatientID: 4, AppointmentID: 55})
	require.NoError(t, err)

	_, err = f.svc.CreateInvoice(ctx, invoicing.InvoiceInput{PatientID: 4, AppointmentID: 55})
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Contains(t, conflict.Message, first.Number)

	// Re-saving the invoice that owns the appointment is fine.
	_, err = f.svc.UpdateInvoice(ctx, first.ID, invoicing.InvoiceInput{PatientID: 4, AppointmentID: 55, Notes: "follow-up"})
	require.NoError(t, err)
}

func TestUpdateInvoiceReconcilesLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail, err := f.svc.CreateInvoice(ctx, invoicing.InvoiceInput{
		PatientID: 9,
		Items: []invoicing.ItemInput{
			{StockItemID: f.batch, Quantity: 10},
			{ServiceID: f.scaling.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 90, f.available(t))

	price := dec("100")
	detail, err = f.svc.UpdateInvoice(ctx, detail.ID, invoicing.InvoiceInput{
		PatientID: 9,
		Items: []invoicing.ItemInput{
			{ID: detail.Items[0].ID, StockItemID: f.batch, Quantity: 5},
			{Description: "Consultation", Quantity: 1, UnitPrice: &price},
		},
	})
	require.NoError(t, err)
	require.Len(t, detail.Items, 2)
	require.Equal(t, 95, f.available(t))
	require.Len(t, f.stock.Transactions, 1)
	require.Equal(t, "Consultation", detail.Items[1].DisplayDescription)
	require.Equal(t, "162.50", detail.TotalAmount.StringFixed(2))

	_, err = f.svc.UpdateInvoice(ctx, detail.ID, invoicing.InvoiceInput{
		PatientID: 9,
		Items:     []invoicing.ItemInput{{ID: 9999, Quantity: 1}},
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSwitchingLineBatchMovesConsumption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	variant := f.stock.AddVariant("Ibuprofen 400mg - Abbott", dec("4.00"), false)
	other, err := f.stock.InsertStockItem(ctx, inventory.StockItem{
		VariantID:    variant.ID,
		BatchNumber:  "IBU-02",
		Quantity:     10,
		CostPrice:    dec("2.00"),
		DateReceived: testNow,
		Source:       inventory.SourceManual,
	})
	require.NoError(t, err)

	detail, err := f.svc.CreateInvoice(ctx, invoicing.InvoiceInput{
		PatientID: 4,
		Items:     []invoicing.ItemInput{{StockItemID: f.batch, Quantity: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, 80, f.available(t))

	_, err = f.svc.UpdateInvoiceItem(ctx, detail.ID, detail.Items[0].ID, 7, invoicing.ItemInput{StockItemID: other, Quantity: 11})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 80, f.available(t))

	detail, err = f.svc.UpdateInvoiceItem(ctx, detail.ID, detail.Items[0].ID, 7, invoicing.ItemInput{StockItemID: other, Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, 100, f.available(t))
	batch, err := f.stock.GetStockItem(ctx, other)
	require.NoError(t, err)
	require.Equal(t, 6, batch.QuantityAvailable())

	require.Len(t, f.stock.Transactions, 1)
	txn := f.stock.Transactions[detail.Items[0].ID]
	require.Equal(t, other, txn.StockItemID)
	require.Equal(t, 4, txn.Quantity)
	require.Equal(t, "Ibuprofen 400mg - Abbott", detail.Items[0].DisplayDescription)
	require.Equal(t, "16.00", detail.TotalAmount.StringFixed(2))
}

func TestInactiveServiceCannotBeBilled(t *testing.T) {
	f := newFixture(t)
	terms := f.scaling
	terms.IsActive = false
	f.store.Services[terms.ID] = terms

	_, err := f.svc.CreateInvoice(context.Background(), invoicing.InvoiceInput{
		PatientID: 2,
		Items:     []invoicing.ItemInput{{ServiceID: terms.ID, Quantity: 1}},
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "service_id", verr.Field)
}

func TestCancelledInvoiceIsFrozenUntilDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail, err := f.svc.CreateInvoice(ctx, invoicing.InvoiceInput{
		PatientID: 5,
		Items:     []invoicing.ItemInput{{StockItemID: f.batch, Quantity: 30}},
	})
	require.NoError(t, err)

	detail, err = f.svc.CancelInvoice(ctx, detail.ID, 7)
	require.NoError(t, err)
	require.Equal(t, invoicing.StatusCancelled, detail.Status)
	require.Equal(t, 70, f.available(t))

	var conflict *shared.ConflictError
	_, err = f.svc.AddPayment(ctx, detail.ID, invoicing.PaymentInput{Amount: dec("10")})
	require.ErrorAs(t, err, &conflict)
	_, err = f.svc.AddInvoiceItem(ctx, detail.ID, 7, invoicing.ItemInput{Description: "Extra", Quantity: 1})
	require.ErrorAs(t, err, &conflict)
	_, err = f.svc.CancelInvoice(ctx, detail.ID, 7)
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, f.svc.DeleteInvoice(ctx, detail.ID, 7))
	require.Equal(t, 100, f.available(t))
	_, err = f.svc.GetInvoice(ctx, detail.ID)
	require.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestListInvoicesFiltersByPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, patient := range []int64{1, 2, 1} {
		_, err := f.svc.CreateInvoice(ctx, invoicing.InvoiceInput{PatientID: patient})
		require.NoError(t, err)
	}
	rows, page, err := f.svc.ListInvoices(ctx, invoicing.ListFilter{PatientID: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 2, page.Total)
	require.Greater(t, rows[0].ID, rows[1].ID)
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name    string
		current invoicing.Status
		paid    string
		balance string
		want    invoicing.Status
	}{
		{"unpaid", invoicing.StatusDraft, "0", "120", invoicing.StatusPending},
		{"part paid", invoicing.StatusPending, "20", "100", invoicing.StatusPartial},
		{"settled", invoicing.StatusPartial, "120", "0", invoicing.StatusPaid},
		{"overpaid", invoicing.StatusPaid, "150", "-30", invoicing.StatusPaid},
		{"empty", invoicing.StatusDraft, "0", "0", invoicing.StatusPaid},
		{"cancelled", invoicing.StatusCancelled, "0", "120", invoicing.StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := invoicing.DeriveStatus(tc.current, invoicing.Totals{AmountPaid: dec(tc.paid), BalanceDue: dec(tc.balance)})
			require.Equal(t, tc.want, got)
		})
	}
}
