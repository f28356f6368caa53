// Package returnstest provides an in-memory returns store for service tests.
package returnstest

import (
	"context"
	"sort"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/procurement"
	"github.com/odyssey-erp/clinic-ledger/internal/procurement/procurementtest"
	"github.com/odyssey-erp/clinic-ledger/internal/returns"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Store keeps returns, replacements, refunds and credit notes in maps on top of a
// procurementtest.Store. Inserting a return feeds the returned quantity into the stock fake.
type Store struct {
	Orders       *procurementtest.Store
	Returns      map[int64]returns.PurchaseReturn
	Replacements []returns.ReplacementItem
	Refunds      []returns.SupplierRefund
	Credits      map[int64]returns.SupplierCredit
}

// NewStore returns an empty Store sharing ids with orders.
func NewStore(orders *procurementtest.Store) *Store {
	if orders == nil {
		orders = procurementtest.NewStore(nil)
	}
	return &Store{
		Orders:  orders,
		Returns: make(map[int64]returns.PurchaseReturn),
		Credits: make(map[int64]returns.SupplierCredit),
	}
}

// WithTx runs fn directly against the store.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, returns.TxRepository) error) error {
	return fn(ctx, s)
}

func (s *Store) Stock() inventory.TxRepository {
	return s.Orders.Inventory
}

func (s *Store) Purchasing() procurement.TxRepository {
	return s.Orders
}

func (s *Store) syncPending(poID int64) {
	if poID == 0 {
		return
	}
	pending := false
	for _, ret := range s.Returns {
		if ret.PurchaseOrderID == poID && ret.Status.Open() {
			pending = true
		}
	}
	s.Orders.PendingReturns[poID] = pending
}

func (s *Store) InsertReturn(ctx context.Context, ret returns.PurchaseReturn) (int64, error) {
	ret.ID = s.Orders.Inventory.NextID()
	s.Returns[ret.ID] = ret
	s.Orders.Inventory.AddReturned(ret.StockItemID, ret.Quantity)
	s.syncPending(ret.PurchaseOrderID)
	return ret.ID, nil
}

func (s *Store) GetReturn(ctx context.Context, id int64) (returns.PurchaseReturn, error) {
	ret, ok := s.Returns[id]
	if !ok {
		return returns.PurchaseReturn{}, shared.NotFound("purchase return", id)
	}
	return ret, nil
}

func (s *Store) LockReturn(ctx context.Context, id int64) (returns.PurchaseReturn, error) {
	return s.GetReturn(ctx, id)
}

func (s *Store) UpdateReturnStatus(ctx context.Context, id int64, status returns.Status) error {
	ret, ok := s.Returns[id]
	if !ok {
		return shared.NotFound("purchase return", id)
	}
	ret.Status = status
	s.Returns[id] = ret
	s.syncPending(ret.PurchaseOrderID)
	return nil
}

func (s *Store) sorted(keep func(returns.PurchaseReturn) bool) []returns.PurchaseReturn {
	var out []returns.PurchaseReturn
	for _, ret := range s.Returns {
		if keep(ret) {
			out = append(out, ret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListReturns(ctx context.Context, filter returns.ListFilter) ([]returns.PurchaseReturn, int, error) {
	out := s.sorted(func(ret returns.PurchaseReturn) bool {
		if filter.Status != "" && ret.Status != filter.Status {
			return false
		}
		return filter.PurchaseOrderID == 0 || ret.PurchaseOrderID == filter.PurchaseOrderID
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

func (s *Store) ListReturnsForPO(ctx context.Context, poID int64) ([]returns.PurchaseReturn, error) {
	return s.sorted(func(ret returns.PurchaseReturn) bool { return ret.PurchaseOrderID == poID }), nil
}

func (s *Store) ListReturnsForStockItem(ctx context.Context, stockItemID int64) ([]returns.PurchaseReturn, error) {
	return s.sorted(func(ret returns.PurchaseReturn) bool { return ret.StockItemID == stockItemID }), nil
}

func (s *Store) InsertReplacement(ctx context.Context, item returns.ReplacementItem) (int64, error) {
	item.ID = s.Orders.Inventory.NextID()
	s.Replacements = append(s.Replacements, item)
	return item.ID, nil
}

func (s *Store) ListReplacements(ctx context.Context, returnID int64) ([]returns.ReplacementItem, error) {
	var out []returns.ReplacementItem
	for _, item := range s.Replacements {
		if item.ReturnID == returnID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Store) InsertRefund(ctx context.Context, refund returns.SupplierRefund) (int64, error) {
	refund.ID = s.Orders.Inventory.NextID()
	s.Refunds = append(s.Refunds, refund)
	return refund.ID, nil
}

func (s *Store) ListRefunds(ctx context.Context, returnID int64) ([]returns.SupplierRefund, error) {
	var out []returns.SupplierRefund
	for _, refund := range s.Refunds {
		if refund.ReturnID == returnID {
			out = append(out, refund)
		}
	}
	return out, nil
}

func (s *Store) InsertCredit(ctx context.Context, credit returns.SupplierCredit) (int64, error) {
	credit.ID = s.Orders.Inventory.NextID()
	s.Credits[credit.ID] = credit
	return credit.ID, nil
}

func (s *Store) LockCredit(ctx context.Context, id int64) (returns.SupplierCredit, error) {
	credit, ok := s.Credits[id]
	if !ok {
		return returns.SupplierCredit{}, shared.NotFound("supplier credit", id)
	}
	return credit, nil
}

func (s *Store) UpdateCredit(ctx context.Context, credit returns.SupplierCredit) error {
	if _, ok := s.Credits[credit.ID]; !ok {
		return shared.NotFound("supplier credit", credit.ID)
	}
	s.Credits[credit.ID] = credit
	return nil
}

func (s *Store) ListAvailableCredits(ctx context.Context, supplierID int64) ([]returns.SupplierCredit, error) {
	var out []returns.SupplierCredit
	for _, credit := range s.Credits {
		if credit.SupplierID == supplierID && !credit.IsFullyUsed {
			out = append(out, credit)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
