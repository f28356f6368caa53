// Package procurementtest provides an in-memory purchasing store for service tests.
package procurementtest

import (
	"context"
	"sort"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/clinic-ledger/internal/procurement"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Store keeps orders, lines, payments and credit applications in maps on top of an
// inventorytest.Store. PendingReturns is set by the returns fakes.
type Store struct {
	Inventory      *inventorytest.Store
	Suppliers      map[int64]string
	Orders         map[int64]procurement.PurchaseOrder
	Items          map[int64]procurement.PurchaseOrderItem
	Payments       []procurement.SupplierPayment
	Credits        []procurement.CreditApplication
	PendingReturns map[int64]bool
}

// NewStore returns an empty Store sharing ids with stock.
func NewStore(stock *inventorytest.Store) *Store {
	if stock == nil {
		stock = inventorytest.NewStore()
	}
	return &Store{
		Inventory:      stock,
		Suppliers:      make(map[int64]string),
		Orders:         make(map[int64]procurement.PurchaseOrder),
		Items:          make(map[int64]procurement.PurchaseOrderItem),
		PendingReturns: make(map[int64]bool),
	}
}

// AddSupplier registers a supplier and returns its id.
func (s *Store) AddSupplier(name string) int64 {
	id := s.Inventory.NextID()
	s.Suppliers[id] = name
	return id
}

// WithTx runs fn directly against the store.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return fn(ctx, s)
}

func (s *Store) ListPOs(ctx context.Context, filter procurement.ListFilter) ([]procurement.Summary, int, error) {
	var out []procurement.Summary
	for _, po := range s.Orders {
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		if filter.SupplierID != 0 && po.SupplierID != filter.SupplierID {
			continue
		}
		count := 0
		for _, item := range s.Items {
			if item.PurchaseOrderID == po.ID {
				count++
			}
		}
		out = append(out, procurement.Summary{PurchaseOrder: po, ItemCount: count})
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

func (s *Store) Stock() inventory.TxRepository {
	return s.Inventory
}

func (s *Store) SupplierExists(ctx context.Context, id int64) (bool, error) {
	_, ok := s.Suppliers[id]
	return ok, nil
}

func (s *Store) CreatePO(ctx context.Context, po procurement.PurchaseOrder) (int64, error) {
	po.ID = s.Inventory.NextID()
	po.SupplierName = s.Suppliers[po.SupplierID]
	s.Orders[po.ID] = po
	return po.ID, nil
}

func (s *Store) UpdatePOHeader(ctx context.Context, po procurement.PurchaseOrder) error {
	current, ok := s.Orders[po.ID]
	if !ok {
		return shared.NotFound("purchase order", po.ID)
	}
	current.SupplierID = po.SupplierID
	current.SupplierName = s.Suppliers[po.SupplierID]
	current.OrderDate = po.OrderDate
	current.Notes = po.Notes
	s.Orders[po.ID] = current
	return nil
}

func (s *Store) UpdatePOStatus(ctx context.Context, id int64, status procurement.POStatus) error {
	po, ok := s.Orders[id]
	if !ok {
		return shared.NotFound("purchase order", id)
	}
	po.Status = status
	s.Orders[id] = po
	return nil
}

func (s *Store) GetPO(ctx context.Context, id int64) (procurement.PurchaseOrder, error) {
	po, ok := s.Orders[id]
	if !ok {
		return procurement.PurchaseOrder{}, shared.NotFound("purchase order", id)
	}
	return po, nil
}

func (s *Store) LockPO(ctx context.Context, id int64) (procurement.PurchaseOrder, error) {
	return s.GetPO(ctx, id)
}

func (s *Store) ListPOItems(ctx context.Context, poID int64) ([]procurement.PurchaseOrderItem, error) {
	var out []procurement.PurchaseOrderItem
	for _, item := range s.Items {
		if item.PurchaseOrderID == poID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) InsertPOItem(ctx context.Context, item procurement.PurchaseOrderItem) (int64, error) {
	item.ID = s.Inventory.NextID()
	if terms, ok := s.Inventory.Variants[item.VariantID]; ok {
		item.VariantName = terms.Name
	}
	s.Items[item.ID] = item
	s.Inventory.POItems[item.ID] = item.PurchaseOrderID
	return item.ID, nil
}

func (s *Store) DeletePOItems(ctx context.Context, poID int64) error {
	for id, item := range s.Items {
		if item.PurchaseOrderID == poID {
			delete(s.Items, id)
			delete(s.Inventory.POItems, id)
		}
	}
	return nil
}

func (s *Store) IncrementReceived(ctx context.Context, itemID int64, qty int) error {
	item, ok := s.Items[itemID]
	if !ok {
		return shared.NotFound("purchase order item", itemID)
	}
	item.QuantityReceived += qty
	s.Items[itemID] = item
	return nil
}

func (s *Store) InsertPayment(ctx context.Context, payment procurement.SupplierPayment) (int64, error) {
	payment.ID = s.Inventory.NextID()
	s.Payments = append(s.Payments, payment)
	return payment.ID, nil
}

func (s *Store) ListPayments(ctx context.Context, poID int64) ([]procurement.SupplierPayment, error) {
	var out []procurement.SupplierPayment
	for _, p := range s.Payments {
		if p.PurchaseOrderID == poID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ListSupplierPayments(ctx context.Context, filter procurement.PaymentFilter) ([]procurement.PaymentRow, int, error) {
	var out []procurement.PaymentRow
	for _, p := range s.Payments {
		po, ok := s.Orders[p.PurchaseOrderID]
		if !ok {
			continue
		}
		if filter.SupplierID != 0 && po.SupplierID != filter.SupplierID {
			continue
		}
		if filter.PurchaseOrderID != 0 && p.PurchaseOrderID != filter.PurchaseOrderID {
			continue
		}
		out = append(out, procurement.PaymentRow{SupplierPayment: p, SupplierID: po.SupplierID, SupplierName: s.Suppliers[po.SupplierID]})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.After(out[j].PaymentDate)
		}
		return out[i].ID > out[j].ID
	})
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

func (s *Store) InsertCreditApplication(ctx context.Context, app procurement.CreditApplication) (int64, error) {
	app.ID = s.Inventory.NextID()
	s.Credits = append(s.Credits, app)
	return app.ID, nil
}

func (s *Store) ListCreditApplications(ctx context.Context, poID int64) ([]procurement.CreditApplication, error) {
	var out []procurement.CreditApplication
	for _, app := range s.Credits {
		if app.PurchaseOrderID == poID {
			out = append(out, app)
		}
	}
	return out, nil
}

func (s *Store) HasPendingReturns(ctx context.Context, poID int64) (bool, error) {
	return s.PendingReturns[poID], nil
}

func (s *Store) ListSupplierPOIDs(ctx context.Context, supplierID int64) ([]int64, error) {
	var ids []int64
	for _, po := range s.Orders {
		if po.SupplierID == supplierID {
			ids = append(ids, po.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
