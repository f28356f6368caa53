package invoicing

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Now func() time.Time
}

// Service orchestrates patient billing.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	events shared.EventPublisher
	now    func() time.Time
}

// NewService constructs the billing service.
func NewService(repo RepositoryPort, audit AuditPort, events shared.EventPublisher, cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, audit: audit, events: events, now: now}
}

// ItemInput is one invoice line. ID is set when an existing line is edited.
type ItemInput struct {
	ID          int64
	ServiceID   int64
	StockItemID int64
	Description string
	Quantity    int
	UnitPrice   *decimal.Decimal
	Discount    decimal.Decimal
}

// InvoiceInput creates an invoice or replaces its header and lines.
type InvoiceInput struct {
	ActorID       int64
	PatientID     int64
	DoctorID      int64
	AppointmentID int64
	InvoiceDate   time.Time
	DueDate       *time.Time
	Discount      decimal.Decimal
	Notes         string
	Items         []ItemInput
}

// PaymentInput records money received from the patient.
type PaymentInput struct {
	ActorID   int64
	Amount    decimal.Decimal
	Method    PaymentMethod
	Reference string
	Notes     string
	Date      time.Time
}

// RefundInput returns an overpayment to the patient.
type RefundInput struct {
	ActorID int64
	Amount  decimal.Decimal
	Method  PaymentMethod
	Reason  string
	Date    time.Time
}

// CreateInvoice numbers a new invoice, saves its lines and consumes stock for batch lines.
func (s *Service) CreateInvoice(ctx context.Context, input InvoiceInput) (Detail, error) {
	if err := validateHeader(input); err != nil {
		return Detail{}, err
	}
	for _, item := range input.Items {
		if err := validateItem(item); err != nil {
			return Detail{}, err
		}
	}
	created := s.now()
	if input.InvoiceDate.IsZero() {
		input.InvoiceDate = created
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkAppointment(ctx, tx, input.AppointmentID, 0); err != nil {
			return err
		}
		prefix := NumberPrefix(created)
		last, err := tx.LockLastInvoiceNumber(ctx, prefix)
		if err != nil {
			return err
		}
		number, err := NextNumber(prefix, last)
		if err != nil {
			return err
		}
		id, err := tx.InsertInvoice(ctx, Invoice{
			Number:        number,
			PatientID:     input.PatientID,
			DoctorID:      input.DoctorID,
			AppointmentID: input.AppointmentID,
			InvoiceDate:   input.InvoiceDate,
			DueDate:       input.DueDate,
			Status:        StatusDraft,
			TotalAmount:   decimal.Zero,
			Discount:      shared.RoundMoney(input.Discount),
			Notes:         strings.TrimSpace(input.Notes),
		})
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			if _, err := saveItem(ctx, tx, id, item, nil); err != nil {
				return err
			}
		}
		if _, err := Recompute(ctx, tx, id); err != nil {
			return err
		}
		detail, err = LoadDetail(ctx, tx, id)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, input.ActorID, "INVOICE_CREATE", detail.ID, map[string]any{"number": detail.Number, "total": detail.TotalAmount.StringFixed(2)})
	s.publish(ctx, EventInvoiceCreated, detail.ID, input.ActorID, detail.Totals.NetAmount)
	return detail, nil
}

// UpdateInvoice replaces the header and reconciles lines: lines with an id are edited,
// lines without one are added and lines left out are removed.
func (s *Service) UpdateInvoice(ctx context.Context, id int64, input InvoiceInput) (Detail, error) {
	if err := validateHeader(input); err != nil {
		return Detail{}, err
	}
	for _, item := range input.Items {
		if err := validateItem(item); err != nil {
			return Detail{}, err
		}
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := lockEditable(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkAppointment(ctx, tx, input.AppointmentID, id); err != nil {
			return err
		}
		existing, err := tx.ListItems(ctx, id)
		if err != nil {
			return err
		}
		byID := make(map[int64]Item, len(existing))
		for _, item := range existing {
			byID[item.ID] = item
		}
		keep := make(map[int64]bool, len(input.Items))
		for _, in := range input.Items {
			if in.ID == 0 {
				continue
			}
			if _, ok := byID[in.ID]; !ok {
				return shared.Invalid("items", "Item #%d does not belong to invoice %s.", in.ID, inv.Number)
			}
			keep[in.ID] = true
		}
		for _, item := range existing {
			if !keep[item.ID] {
				if err := removeItem(ctx, tx, item.ID); err != nil {
					return err
				}
			}
		}
		inv.PatientID = input.PatientID
		inv.DoctorID = input.DoctorID
		inv.AppointmentID = input.AppointmentID
		inv.DueDate = input.DueDate
		inv.Discount = shared.RoundMoney(input.Discount)
		inv.Notes = strings.TrimSpace(input.Notes)
		if !input.InvoiceDate.IsZero() {
			inv.InvoiceDate = input.InvoiceDate
		}
		if err := tx.UpdateInvoiceHeader(ctx, inv); err != nil {
			return err
		}
		for _, in := range input.Items {
			var current *Item
			if in.ID != 0 {
				item := byID[in.ID]
				current = &item
			}
			if _, err := saveItem(ctx, tx, id, in, current); err != nil {
				return err
			}
		}
		if _, err := Recompute(ctx, tx, id); err != nil {
			return err
		}
		detail, err = LoadDetail(ctx, tx, id)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, input.ActorID, "INVOICE_UPDATE", id, map[string]any{"items": len(detail.Items), "total": detail.TotalAmount.StringFixed(2)})
	s.publish(ctx, EventInvoiceUpdated, id, input.ActorID, detail.Totals.NetAmount)
	return detail, nil
}

// AddInvoiceItem appends one line.
func (s *Service) AddInvoiceItem(ctx context.Context, invoiceID, actorID int64, input ItemInput) (Detail, error) {
	input.ID = 0
	return s.changeItem(ctx, invoiceID, actorID, "INVOICE_ITEM_ADD", func(ctx context.Context, tx TxRepository) error {
		if err := validateItem(input); err != nil {
			return err
		}
		_, err := saveItem(ctx, tx, invoiceID, input, nil)
		return err
	})
}

// UpdateInvoiceItem edits one line, moving its stock consumption with it.
func (s *Service) UpdateInvoiceItem(ctx context.Context, invoiceID, itemID, actorID int64, input ItemInput) (Detail, error) {
	input.ID = itemID
	return s.changeItem(ctx, invoiceID, actorID, "INVOICE_ITEM_UPDATE", func(ctx context.Context, tx TxRepository) error {
		if err := validateItem(input); err != nil {
			return err
		}
		current, err := findItem(ctx, tx, invoiceID, itemID)
		if err != nil {
			return err
		}
		_, err = saveItem(ctx, tx, invoiceID, input, &current)
		return err
	})
}

// DeleteInvoiceItem removes one line and releases its stock.
func (s *Service) DeleteInvoiceItem(ctx context.Context, invoiceID, itemID, actorID int64) (Detail, error) {
	return s.changeItem(ctx, invoiceID, actorID, "INVOICE_ITEM_DELETE", func(ctx context.Context, tx TxRepository) error {
		if _, err := findItem(ctx, tx, invoiceID, itemID); err != nil {
			return err
		}
		return removeItem(ctx, tx, itemID)
	})
}

func (s *Service) changeItem(ctx context.Context, invoiceID, actorID int64, action string, fn func(context.Context, TxRepository) error) (Detail, error) {
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := lockEditable(ctx, tx, invoiceID); err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if _, err := Recompute(ctx, tx, invoiceID); err != nil {
			return err
		}
		var err error
		detail, err = LoadDetail(ctx, tx, invoiceID)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, actorID, action, invoiceID, map[string]any{"total": detail.TotalAmount.StringFixed(2)})
	s.publish(ctx, EventInvoiceUpdated, invoiceID, actorID, detail.Totals.NetAmount)
	return detail, nil
}

// AddPayment records a patient payment of at most the balance due.
func (s *Service) AddPayment(ctx context.Context, invoiceID int64, input PaymentInput) (Detail, error) {
	amount := shared.RoundMoney(input.Amount)
	if amount.LessThan(shared.Cent) {
		return Detail{}, shared.Invalid("amount", "Payment amount must be at least 0.01.")
	}
	method := input.Method
	if method == "" {
		method = MethodCash
	}
	if !method.Valid() {
		return Detail{}, shared.Invalid("payment_method", "Unknown payment method %q.", method)
	}
	payment := Payment{
		InvoiceID:   invoiceID,
		Amount:      amount,
		Method:      method,
		PaymentDate: input.Date,
		Reference:   strings.TrimSpace(input.Reference),
		Notes:       strings.TrimSpace(input.Notes),
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = s.now()
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return shared.Conflict("Invoice %s is cancelled and cannot take payments.", inv.Number)
		}
		totals, err := LoadTotals(ctx, tx, inv)
		if err != nil {
			return err
		}
		if amount.GreaterThan(totals.BalanceDue) {
			return shared.Invalid("amount", "Payment of %s exceeds the outstanding balance of %s", shared.FormatMoney(amount), shared.FormatMoney(totals.BalanceDue))
		}
		if _, err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		if _, err := Recompute(ctx, tx, invoiceID); err != nil {
			return err
		}
		detail, err = LoadDetail(ctx, tx, invoiceID)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, input.ActorID, "INVOICE_PAYMENT", invoiceID, map[string]any{"amount": amount.StringFixed(2), "method": method, "status": detail.Status})
	s.publish(ctx, EventPaymentRecorded, invoiceID, input.ActorID, amount)
	return detail, nil
}

// RecordRefund pays back part or all of an overpayment.
func (s *Service) RecordRefund(ctx context.Context, invoiceID int64, input RefundInput) (Detail, error) {
	amount := shared.RoundMoney(input.Amount)
	if amount.LessThan(shared.Cent) {
		return Detail{}, shared.Invalid("amount", "Refund amount must be at least 0.01.")
	}
	method := input.Method
	if method == "" {
		method = MethodBank
	}
	if !method.Valid() {
		return Detail{}, shared.Invalid("refund_method", "Unknown refund method %q.", method)
	}
	refund := Refund{
		InvoiceID:  invoiceID,
		Amount:     amount,
		Method:     method,
		RefundDate: input.Date,
		Reason:     strings.TrimSpace(input.Reason),
	}
	if refund.RefundDate.IsZero() {
		refund.RefundDate = s.now()
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		totals, err := LoadTotals(ctx, tx, inv)
		if err != nil {
			return err
		}
		if !totals.BalanceDue.IsNegative() {
			return shared.Conflict("A refund can only be recorded for an overpaid invoice.")
		}
		refundable := totals.BalanceDue.Neg()
		if amount.GreaterThan(refundable) {
			return shared.Invalid("amount", "Refund of %s exceeds the maximum refundable amount of %s", shared.FormatMoney(amount), shared.FormatMoney(refundable))
		}
		if _, err := tx.InsertRefund(ctx, refund); err != nil {
			return err
		}
		if _, err := Recompute(ctx, tx, invoiceID); err != nil {
			return err
		}
		detail, err = LoadDetail(ctx, tx, invoiceID)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, input.ActorID, "INVOICE_REFUND", invoiceID, map[string]any{"amount": amount.StringFixed(2), "method": method})
	s.publish(ctx, EventRefundRecorded, invoiceID, input.ActorID, amount)
	return detail, nil
}

// CancelInvoice freezes the invoice as CANCELLED. Consumed stock stays consumed.
func (s *Service) CancelInvoice(ctx context.Context, invoiceID, actorID int64) (Detail, error) {
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := lockEditable(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if err := tx.UpdateInvoiceTotals(ctx, invoiceID, inv.TotalAmount, StatusCancelled); err != nil {
			return err
		}
		detail, err = LoadDetail(ctx, tx, invoiceID)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, actorID, "INVOICE_CANCEL", invoiceID, map[string]any{"number": detail.Number})
	s.publish(ctx, EventInvoiceCancelled, invoiceID, actorID, decimal.Zero)
	return detail, nil
}

// DeleteInvoice removes the invoice with its lines, payments, refunds and stock consumption.
func (s *Service) DeleteInvoice(ctx context.Context, invoiceID, actorID int64) error {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		number = inv.Number
		items, err := tx.ListItems(ctx, invoiceID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := removeItem(ctx, tx, item.ID); err != nil {
				return err
			}
		}
		return tx.DeleteInvoice(ctx, invoiceID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "INVOICE_DELETE", invoiceID, map[string]any{"number": number})
	s.publish(ctx, EventInvoiceDeleted, invoiceID, actorID, decimal.Zero)
	return nil
}

// GetInvoice returns header, lines and the money position.
func (s *Service) GetInvoice(ctx context.Context, invoiceID int64) (Detail, error) {
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		detail, err = LoadDetail(ctx, tx, invoiceID)
		return err
	})
	return detail, err
}

// ListInvoices pages invoice headers, newest first.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, shared.Pagination, error) {
	filter.Limit, filter.Offset = shared.ClampPage(filter.Limit, filter.Offset)
	var (
		rows  []Invoice
		total int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rows, total, err = tx.ListInvoices(ctx, filter)
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if rows == nil {
		rows = []Invoice{}
	}
	return rows, shared.NewPagination(filter.Limit, filter.Offset, total), nil
}

// LoadTotals folds the current lines, payments and refunds of inv.
func LoadTotals(ctx context.Context, tx TxRepository, inv Invoice) (Totals, error) {
	items, err := tx.ListItems(ctx, inv.ID)
	if err != nil {
		return Totals{}, err
	}
	payments, err := tx.ListPayments(ctx, inv.ID)
	if err != nil {
		return Totals{}, err
	}
	refunds, err := tx.ListRefunds(ctx, inv.ID)
	if err != nil {
		return Totals{}, err
	}
	return ComputeTotals(inv.Discount, items, payments, refunds), nil
}

// Recompute re-derives totals and status and persists the cached total.
func Recompute(ctx context.Context, tx TxRepository, invoiceID int64) (Totals, error) {
	inv, err := tx.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Totals{}, err
	}
	totals, err := LoadTotals(ctx, tx, inv)
	if err != nil {
		return Totals{}, err
	}
	status := DeriveStatus(inv.Status, totals)
	if status == inv.Status && totals.TotalAmount.Equal(inv.TotalAmount) {
		return totals, nil
	}
	return totals, tx.UpdateInvoiceTotals(ctx, invoiceID, totals.TotalAmount, status)
}

// LoadDetail assembles the read model of an invoice inside tx.
func LoadDetail(ctx context.Context, tx TxRepository, invoiceID int64) (Detail, error) {
	inv, err := tx.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Detail{}, err
	}
	items, err := tx.ListItems(ctx, invoiceID)
	if err != nil {
		return Detail{}, err
	}
	payments, err := tx.ListPayments(ctx, invoiceID)
	if err != nil {
		return Detail{}, err
	}
	refunds, err := tx.ListRefunds(ctx, invoiceID)
	if err != nil {
		return Detail{}, err
	}
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, ItemView{Item: item, DisplayDescription: item.DisplayDescription(), NetPrice: item.NetPrice()})
	}
	if payments == nil {
		payments = []Payment{}
	}
	if refunds == nil {
		refunds = []Refund{}
	}
	return Detail{
		Invoice:  inv,
		Items:    views,
		Payments: payments,
		Refunds:  refunds,
		Totals:   ComputeTotals(inv.Discount, items, payments, refunds),
	}, nil
}

// saveItem inserts or updates one line and keeps its stock transaction in step.
// current is the stored line when editing.
func saveItem(ctx context.Context, tx TxRepository, invoiceID int64, in ItemInput, current *Item) (Item, error) {
	item := Item{
		InvoiceID:   invoiceID,
		ServiceID:   in.ServiceID,
		StockItemID: in.StockItemID,
		Description: strings.TrimSpace(in.Description),
		Quantity:    in.Quantity,
		Discount:    shared.RoundMoney(in.Discount),
	}
	price := decimal.Zero
	var priced bool
	if in.UnitPrice != nil {
		price, priced = *in.UnitPrice, true
	}
	if in.StockItemID != 0 {
		stock, err := tx.Stock().LockStockItem(ctx, in.StockItemID)
		if err != nil {
			return Item{}, err
		}
		held := 0
		if current != nil && current.StockItemID == in.StockItemID {
			txn, ok, err := tx.Stock().GetTransaction(ctx, current.ID)
			if err != nil {
				return Item{}, err
			}
			if ok {
				held = txn.Quantity
			}
		}
		if limit := inventory.Consumable(stock, held); in.Quantity > limit {
			return Item{}, shared.Invalid("quantity", "Only %d of %s available in batch %s.", limit, stock.VariantName, stock.BatchNumber)
		}
		if !priced {
			price, priced = stock.VariantPrice, true
		}
	}
	if in.ServiceID != 0 {
		terms, err := tx.ServiceTerms(ctx, in.ServiceID)
		if err != nil {
			return Item{}, err
		}
		if !terms.IsActive && (current == nil || current.ServiceID != in.ServiceID) {
			return Item{}, shared.Invalid("service_id", "Service %s is inactive and cannot be billed.", terms.Name)
		}
		if !priced {
			price = terms.Price
		}
	}
	item.UnitPrice = shared.RoundMoney(price)
	if current != nil {
		item.ID = current.ID
		if current.StockItemID != 0 && current.StockItemID != in.StockItemID {
			if err := tx.Stock().DeleteTransaction(ctx, current.ID); err != nil {
				return Item{}, err
			}
		}
		if err := tx.UpdateItem(ctx, item); err != nil {
			return Item{}, err
		}
	} else {
		id, err := tx.InsertItem(ctx, item)
		if err != nil {
			return Item{}, err
		}
		item.ID = id
	}
	if item.StockItemID != 0 {
		err := tx.Stock().UpsertTransaction(ctx, inventory.Transaction{StockItemID: item.StockItemID, InvoiceItemID: item.ID, Quantity: item.Quantity})
		if err != nil {
			return Item{}, err
		}
	}
	return item, nil
}

func removeItem(ctx context.Context, tx TxRepository, itemID int64) error {
	if err := tx.Stock().DeleteTransaction(ctx, itemID); err != nil {
		return err
	}
	return tx.DeleteItem(ctx, itemID)
}

func findItem(ctx context.Context, tx TxRepository, invoiceID, itemID int64) (Item, error) {
	items, err := tx.ListItems(ctx, invoiceID)
	if err != nil {
		return Item{}, err
	}
	for _, item := range items {
		if item.ID == itemID {
			return item, nil
		}
	}
	return Item{}, shared.NotFound("invoice item", itemID)
}

func lockEditable(ctx context.Context, tx TxRepository, invoiceID int64) (Invoice, error) {
	inv, err := tx.LockInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status == StatusCancelled {
		return Invoice{}, shared.Conflict("Invoice %s is cancelled and can no longer be changed.", inv.Number)
	}
	return inv, nil
}

func checkAppointment(ctx context.Context, tx TxRepository, appointmentID, invoiceID int64) error {
	if appointmentID == 0 {
		return nil
	}
	existing, ok, err := tx.FindByAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if ok && existing.ID != invoiceID {
		return shared.Conflict("Appointment #%d is already billed on invoice %s.", appointmentID, existing.Number)
	}
	return nil
}

func validateHeader(input InvoiceInput) error {
	if input.PatientID == 0 {
		return shared.Invalid("patient_id", "Patient is required.")
	}
	if input.Discount.IsNegative() {
		return shared.Invalid("discount", "Discount cannot be negative.")
	}
	return nil
}

func validateItem(in ItemInput) error {
	if in.Quantity < 1 {
		return shared.Invalid("quantity", "Quantity must be at least 1.")
	}
	if in.Discount.IsNegative() {
		return shared.Invalid("discount", "Line discount cannot be negative.")
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return shared.Invalid("unit_price", "Unit price cannot be negative.")
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, invoiceID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEntry(actorID, action, "invoice", invoiceID, meta))
}
