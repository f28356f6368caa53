package inventory

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockItem(ctx context.Context, id int64) (StockItem, error)
	ListStockItems(ctx context.Context, filter ListFilter) ([]StockItem, int, error)
	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Now func() time.Time
}

// Service coordinates stock ledger operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, audit: audit, now: now}
}

// ManualStockInput adds a batch outside purchasing.
type ManualStockInput struct {
	ActorID     int64
	VariantID   int64
	SupplierID  int64
	Quantity    int
	BatchNumber string
	ExpiryDate  *time.Time
	Cost        CostInput
	Notes       string
}

// AdjustmentInput records a manual stock correction.
type AdjustmentInput struct {
	ActorID   int64
	VariantID int64
	Type      AdjustmentType
	Quantity  int
	Reason    AdjustmentReason
	Notes     string
	Date      time.Time
}

// GetStockItem returns one batch with derived quantities.
func (s *Service) GetStockItem(ctx context.Context, id int64) (StockItem, error) {
	return s.repo.GetStockItem(ctx, id)
}

// ListStockItems pages batches.
func (s *Service) ListStockItems(ctx context.Context, filter ListFilter) ([]StockItem, shared.Pagination, error) {
	filter.Limit, filter.Offset = shared.ClampPage(filter.Limit, filter.Offset)
	items, total, err := s.repo.ListStockItems(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Limit, filter.Offset, total), nil
}

// AddManualStock creates a MANUAL_ADDITION batch, validated like a purchase receipt.
func (s *Service) AddManualStock(ctx context.Context, input ManualStockInput) (StockItem, error) {
	if input.Quantity <= 0 {
		return StockItem{}, shared.Invalid("quantity", "Quantity must be at least 1.")
	}
	batch, err := CheckBatchNumber(input.BatchNumber)
	if err != nil {
		return StockItem{}, err
	}
	now := s.now()
	var created StockItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		terms, err := tx.VariantTerms(ctx, input.VariantID)
		if err != nil {
			return err
		}
		if err := CheckExpiry(input.ExpiryDate, terms.RequiresExpiryTracking, now); err != nil {
			return err
		}
		cost := input.Cost
		cost.Quantity = input.Quantity
		costing, err := PriceBatch(cost, terms.Price)
		if err != nil {
			return err
		}
		item := StockItem{
			VariantID:          input.VariantID,
			VariantName:        terms.Name,
			SupplierID:         input.SupplierID,
			BatchNumber:        batch,
			ExpiryDate:         input.ExpiryDate,
			Quantity:           input.Quantity,
			MRP:                costing.MRP,
			BaseCostPrice:      costing.BaseCost,
			DiscountPercentage: costing.DiscountPct,
			GSTPercentage:      costing.GSTPct,
			CostPrice:          costing.CostPrice,
			DateReceived:       now,
			Source:             SourceManual,
		}
		id, err := tx.InsertStockItem(ctx, item)
		if err != nil {
			return err
		}
		if _, err := tx.InsertAdjustment(ctx, Adjustment{
			VariantID:      input.VariantID,
			Type:           AdjustmentAddition,
			Quantity:       input.Quantity,
			Reason:         ReasonInitialStock,
			Notes:          strings.TrimSpace("Batch " + batch + " " + input.Notes),
			AdjustmentDate: now,
			AdjustedBy:     input.ActorID,
		}); err != nil {
			return err
		}
		created, err = tx.GetStockItem(ctx, id)
		return err
	})
	if err != nil {
		return StockItem{}, err
	}
	s.recordAudit(ctx, input.ActorID, "STOCK_MANUAL_ADD", "stock_item", created.ID, map[string]any{
		"variant_id": input.VariantID,
		"quantity":   input.Quantity,
		"cost_price": created.CostPrice.String(),
	})
	return created, nil
}

// RecordAdjustment journals a manual correction.
func (s *Service) RecordAdjustment(ctx context.Context, input AdjustmentInput) (Adjustment, error) {
	if input.Type != AdjustmentAddition && input.Type != AdjustmentSubtraction {
		return Adjustment{}, shared.Invalid("adjustment_type", "Adjustment type must be ADDITION or SUBTRACTION.")
	}
	if input.Quantity <= 0 {
		return Adjustment{}, shared.Invalid("quantity", "Quantity must be at least 1.")
	}
	if !input.Reason.valid() {
		return Adjustment{}, shared.Invalid("reason", "Unknown adjustment reason %q.", input.Reason)
	}
	adj := Adjustment{
		VariantID:      input.VariantID,
		Type:           input.Type,
		Quantity:       input.Quantity,
		Reason:         input.Reason,
		Notes:          strings.TrimSpace(input.Notes),
		AdjustmentDate: input.Date,
		AdjustedBy:     input.ActorID,
	}
	if adj.AdjustmentDate.IsZero() {
		adj.AdjustmentDate = s.now()
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.VariantTerms(ctx, input.VariantID); err != nil {
			return err
		}
		id, err := tx.InsertAdjustment(ctx, adj)
		if err != nil {
			return err
		}
		adj.ID = id
		return nil
	})
	if err != nil {
		return Adjustment{}, err
	}
	s.recordAudit(ctx, input.ActorID, "STOCK_ADJUST", "stock_adjustment", adj.ID, map[string]any{
		"variant_id": adj.VariantID,
		"type":       adj.Type,
		"quantity":   adj.Quantity,
		"reason":     adj.Reason,
	})
	return adj, nil
}

// ListAdjustments pages the adjustment journal.
func (s *Service) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	filter.Limit, filter.Offset = shared.ClampPage(filter.Limit, filter.Offset)
	return s.repo.ListAdjustments(ctx, filter)
}

// Consumable is how many units an invoice line may take from item when it already holds current of them.
func Consumable(item StockItem, current int) int {
	return item.QuantityAvailable() + current
}

// SumCost totals round2(qty × cost) over batches and rounds the sum.
func SumCost(items []StockItem) decimal.Decimal {
	costs := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		costs = append(costs, item.TotalCost())
	}
	return shared.SumMoney(costs...)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEntry(actorID, action, entity, id, meta))
}
