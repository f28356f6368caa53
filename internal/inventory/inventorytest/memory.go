// Package inventorytest provides an in-memory stock ledger for service tests.
package inventorytest

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Store keeps batches, consumption and adjustments in maps. Returned quantities are
// fed in by the returns fakes through AddReturned.
type Store struct {
	Variants     map[int64]inventory.VariantTerms
	Items        map[int64]inventory.StockItem
	Transactions map[int64]inventory.Transaction
	Adjustments  []inventory.Adjustment
	Returned     map[int64]int
	// POItems maps purchase order item ids to their order for ListStockItemsForPO.
	POItems map[int64]int64
	nextID  int64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		Variants:     make(map[int64]inventory.VariantTerms),
		Items:        make(map[int64]inventory.StockItem),
		Transactions: make(map[int64]inventory.Transaction),
		Returned:     make(map[int64]int),
		POItems:      make(map[int64]int64),
	}
}

// AddVariant registers a variant and returns its terms.
func (s *Store) AddVariant(name string, price decimal.Decimal, tracksExpiry bool) inventory.VariantTerms {
	terms := inventory.VariantTerms{ID: s.NextID(), Name: name, Price: price, RequiresExpiryTracking: tracksExpiry, IsActive: true}
	s.Variants[terms.ID] = terms
	return terms
}

// NextID hands out ids shared by every fake built on the store.
func (s *Store) NextID() int64 {
	s.nextID++
	return s.nextID
}

// AddReturned records units returned from a batch.
func (s *Store) AddReturned(stockItemID int64, qty int) {
	s.Returned[stockItemID] += qty
}

func (s *Store) hydrate(item inventory.StockItem) inventory.StockItem {
	sold := 0
	for _, txn := range s.Transactions {
		if txn.StockItemID == item.ID {
			sold += txn.Quantity
		}
	}
	item.QuantitySold = sold
	item.QuantityReturned = s.Returned[item.ID]
	if item.PurchaseOrderItemID != 0 {
		item.PurchaseOrderID = s.POItems[item.PurchaseOrderItemID]
	}
	if terms, ok := s.Variants[item.VariantID]; ok {
		item.VariantName = terms.Name
		item.VariantPrice = terms.Price
		item.RequiresExpiryTracking = terms.RequiresExpiryTracking
	}
	return item
}

// WithTx runs fn directly against the store.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return fn(ctx, s)
}

func (s *Store) VariantTerms(ctx context.Context, variantID int64) (inventory.VariantTerms, error) {
	terms, ok := s.Variants[variantID]
	if !ok {
		return inventory.VariantTerms{}, shared.NotFound("variant", variantID)
	}
	return terms, nil
}

func (s *Store) InsertStockItem(ctx context.Context, item inventory.StockItem) (int64, error) {
	item.ID = s.NextID()
	if item.DateReceived.IsZero() {
		item.DateReceived = time.Now()
	}
	s.Items[item.ID] = item
	return item.ID, nil
}

func (s *Store) GetStockItem(ctx context.Context, id int64) (inventory.StockItem, error) {
	item, ok := s.Items[id]
	if !ok {
		return inventory.StockItem{}, shared.NotFound("stock item", id)
	}
	return s.hydrate(item), nil
}

func (s *Store) LockStockItem(ctx context.Context, id int64) (inventory.StockItem, error) {
	return s.GetStockItem(ctx, id)
}

func (s *Store) ListStockItemsForPO(ctx context.Context, poID int64) ([]inventory.StockItem, error) {
	var out []inventory.StockItem
	for _, item := range s.Items {
		if item.PurchaseOrderItemID != 0 && s.POItems[item.PurchaseOrderItemID] == poID {
			out = append(out, s.hydrate(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetTransaction(ctx context.Context, invoiceItemID int64) (inventory.Transaction, bool, error) {
	txn, ok := s.Transactions[invoiceItemID]
	return txn, ok, nil
}

func (s *Store) UpsertTransaction(ctx context.Context, txn inventory.Transaction) error {
	if existing, ok := s.Transactions[txn.InvoiceItemID]; ok {
		txn.ID = existing.ID
	} else {
		txn.ID = s.NextID()
	}
	txn.TransactionDate = time.Now()
	s.Transactions[txn.InvoiceItemID] = txn
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, invoiceItemID int64) error {
	delete(s.Transactions, invoiceItemID)
	return nil
}

func (s *Store) InsertAdjustment(ctx context.Context, adj inventory.Adjustment) (int64, error) {
	adj.ID = s.NextID()
	s.Adjustments = append(s.Adjustments, adj)
	return adj.ID, nil
}

func (s *Store) ListStockItems(ctx context.Context, filter inventory.ListFilter) ([]inventory.StockItem, int, error) {
	var out []inventory.StockItem
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	for _, item := range s.Items {
		item = s.hydrate(item)
		if filter.VariantID != 0 && item.VariantID != filter.VariantID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(item.BatchNumber+" "+item.VariantName), q) {
			continue
		}
		if filter.InStock && item.QuantityAvailable() <= 0 {
			continue
		}
		out = append(out, item)
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

func (s *Store) ListAdjustments(ctx context.Context, filter inventory.AdjustmentFilter) ([]inventory.Adjustment, error) {
	var out []inventory.Adjustment
	for i := len(s.Adjustments) - 1; i >= 0; i-- {
		adj := s.Adjustments[i]
		if filter.VariantID != 0 && adj.VariantID != filter.VariantID {
			continue
		}
		out = append(out, adj)
	}
	return out, nil
}
