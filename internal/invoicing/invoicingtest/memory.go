// Package invoicingtest provides an in-memory billing store for service tests.
package invoicingtest

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/clinic-ledger/internal/invoicing"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Store keeps invoices in maps and consumes stock from the wrapped inventory store.
type Store struct {
	Inventory *inventorytest.Store
	Services  map[int64]invoicing.ServiceTerms
	Invoices  map[int64]invoicing.Invoice
	Items     map[int64]invoicing.Item
	Payments  []invoicing.Payment
	Refunds   []invoicing.Refund
}

// NewStore returns an empty Store over stock.
func NewStore(stock *inventorytest.Store) *Store {
	return &Store{
		Inventory: stock,
		Services:  make(map[int64]invoicing.ServiceTerms),
		Invoices:  make(map[int64]invoicing.Invoice),
		Items:     make(map[int64]invoicing.Item),
	}
}

// AddService registers an active billable service.
func (s *Store) AddService(name string, price decimal.Decimal) invoicing.ServiceTerms {
	terms := invoicing.ServiceTerms{ID: s.Inventory.NextID(), Name: name, Price: price, IsActive: true}
	s.Services[terms.ID] = terms
	return terms
}

// WithTx runs fn directly against the store.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, invoicing.TxRepository) error) error {
	return fn(ctx, s)
}

func (s *Store) Stock() inventory.TxRepository {
	return s.Inventory
}

func (s *Store) LockLastInvoiceNumber(ctx context.Context, prefix string) (string, error) {
	last := ""
	for _, inv := range s.Invoices {
		if strings.HasPrefix(inv.Number, prefix) && inv.Number > last {
			last = inv.Number
		}
	}
	return last, nil
}

func (s *Store) FindByAppointment(ctx context.Context, appointmentID int64) (invoicing.Invoice, bool, error) {
	for _, inv := range s.Invoices {
		if inv.AppointmentID == appointmentID {
			return inv, true, nil
		}
	}
	return invoicing.Invoice{}, false, nil
}

func (s *Store) InsertInvoice(ctx context.Context, inv invoicing.Invoice) (int64, error) {
	for _, other := range s.Invoices {
		if other.Number == inv.Number {
			return 0, shared.Conflict("invoice number %s already exists", inv.Number)
		}
	}
	inv.ID = s.Inventory.NextID()
	inv.CreatedAt = inv.InvoiceDate
	s.Invoices[inv.ID] = inv
	return inv.ID, nil
}

func (s *Store) UpdateInvoiceHeader(ctx context.Context, inv invoicing.Invoice) error {
	stored, ok := s.Invoices[inv.ID]
	if !ok {
		return shared.NotFound("invoice", inv.ID)
	}
	inv.Number = stored.Number
	inv.Status = stored.Status
	inv.TotalAmount = stored.TotalAmount
	inv.CreatedAt = stored.CreatedAt
	s.Invoices[inv.ID] = inv
	return nil
}

func (s *Store) UpdateInvoiceTotals(ctx context.Context, id int64, total decimal.Decimal, status invoicing.Status) error {
	inv, ok := s.Invoices[id]
	if !ok {
		return shared.NotFound("invoice", id)
	}
	inv.TotalAmount = total
	inv.Status = status
	s.Invoices[id] = inv
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, id int64) (invoicing.Invoice, error) {
	inv, ok := s.Invoices[id]
	if !ok {
		return invoicing.Invoice{}, shared.NotFound("invoice", id)
	}
	return inv, nil
}

func (s *Store) LockInvoice(ctx context.Context, id int64) (invoicing.Invoice, error) {
	return s.GetInvoice(ctx, id)
}

func (s *Store) DeleteInvoice(ctx context.Context, id int64) error {
	delete(s.Invoices, id)
	for itemID, item := range s.Items {
		if item.InvoiceID == id {
			delete(s.Items, itemID)
		}
	}
	s.Payments = keep(s.Payments, func(p invoicing.Payment) bool { return p.InvoiceID != id })
	s.Refunds = keep(s.Refunds, func(r invoicing.Refund) bool { return r.InvoiceID != id })
	return nil
}

func (s *Store) ListInvoices(ctx context.Context, filter invoicing.ListFilter) ([]invoicing.Invoice, int, error) {
	var out []invoicing.Invoice
	for _, inv := range s.Invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.PatientID != 0 && inv.PatientID != filter.PatientID {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else {
		out = nil
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (s *Store) ListItems(ctx context.Context, invoiceID int64) ([]invoicing.Item, error) {
	var out []invoicing.Item
	for _, item := range s.Items {
		if item.InvoiceID != invoiceID {
			continue
		}
		if item.ServiceID != 0 {
			item.ServiceName = s.Services[item.ServiceID].Name
		}
		if item.StockItemID != 0 {
			if stock, err := s.Inventory.GetStockItem(ctx, item.StockItemID); err == nil {
				item.VariantName = stock.VariantName
			}
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) InsertItem(ctx context.Context, item invoicing.Item) (int64, error) {
	item.ID = s.Inventory.NextID()
	s.Items[item.ID] = item
	return item.ID, nil
}

func (s *Store) UpdateItem(ctx context.Context, item invoicing.Item) error {
	if _, ok := s.Items[item.ID]; !ok {
		return shared.NotFound("invoice item", item.ID)
	}
	s.Items[item.ID] = item
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	delete(s.Items, id)
	return nil
}

func (s *Store) InsertPayment(ctx context.Context, payment invoicing.Payment) (int64, error) {
	payment.ID = s.Inventory.NextID()
	s.Payments = append(s.Payments, payment)
	return payment.ID, nil
}

func (s *Store) ListPayments(ctx context.Context, invoiceID int64) ([]invoicing.Payment, error) {
	return keep(s.Payments, func(p invoicing.Payment) bool { return p.InvoiceID == invoiceID }), nil
}

func (s *Store) InsertRefund(ctx context.Context, refund invoicing.Refund) (int64, error) {
	refund.ID = s.Inventory.NextID()
	s.Refunds = append(s.Refunds, refund)
	return refund.ID, nil
}

func (s *Store) ListRefunds(ctx context.Context, invoiceID int64) ([]invoicing.Refund, error) {
	return keep(s.Refunds, func(r invoicing.Refund) bool { return r.InvoiceID == invoiceID }), nil
}

func (s *Store) ServiceTerms(ctx context.Context, serviceID int64) (invoicing.ServiceTerms, error) {
	terms, ok := s.Services[serviceID]
	if !ok {
		return invoicing.ServiceTerms{}, shared.NotFound("service", serviceID)
	}
	return terms, nil
}

func keep[T any](rows []T, fn func(T) bool) []T {
	var out []T
	for _, row := range rows {
		if fn(row) {
			out = append(out, row)
		}
	}
	return out
}
