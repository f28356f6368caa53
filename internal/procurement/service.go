package procurement

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPOs(ctx context.Context, filter ListFilter) ([]Summary, int, error)
	ListSupplierPayments(ctx context.Context, filter PaymentFilter) ([]PaymentRow, int, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims request keys so retried submissions are not applied twice.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Now func() time.Time
}

// Service orchestrates purchasing flows.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	events      shared.EventPublisher
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, events shared.EventPublisher, cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, events: events, now: now}
}

// POItemInput is one ordered line.
type POItemInput struct {
	VariantID int64
	Quantity  int
	UnitCost  *decimal.Decimal
}

// POInput creates or replaces a purchase order.
type POInput struct {
	ActorID    int64
	SupplierID int64
	OrderDate  time.Time
	Notes      string
	Items      []POItemInput
}

// ReceiveLine is the receipt of one order line as a new batch.
type ReceiveLine struct {
	POItemID     int64
	Quantity     int
	Cost         inventory.CostInput
	BatchNumber  string
	ExpiryDate   *time.Time
	DateReceived *time.Time
}

// ReceiveInput submits stock arriving against a purchase order.
type ReceiveInput struct {
	ActorID        int64
	IdempotencyKey string
	Lines          []ReceiveLine
}

// PaymentInput records money paid to the supplier for an order.
type PaymentInput struct {
	ActorID   int64
	Amount    decimal.Decimal
	Method    string
	Reference string
	Notes     string
	Date      time.Time
}

// CreatePurchaseOrder persists a PENDING order with its lines.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input POInput) (Detail, error) {
	if err := validatePOInput(input); err != nil {
		return Detail{}, err
	}
	if input.OrderDate.IsZero() {
		input.OrderDate = s.now()
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkSupplier(ctx, tx, input.SupplierID); err != nil {
			return err
		}
		id, err := tx.CreatePO(ctx, PurchaseOrder{
			SupplierID: input.SupplierID,
			OrderDate:  input.OrderDate,
			Status:     POStatusPending,
			Notes:      strings.TrimSpace(input.Notes),
			CreatedBy:  input.ActorID,
		})
		if err != nil {
			return err
		}
		if err := insertItems(ctx, tx, id, input.Items); err != nil {
			return err
		}
		detail, err = LoadDetail(ctx, tx, id)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_CREATE", detail.ID, map[string]any{"supplier_id": detail.SupplierID, "items": len(detail.Items)})
	s.publish(ctx, EventPurchaseOrderCreated, detail.ID, input.ActorID, decimal.Zero)
	return detail, nil
}

// UpdatePurchaseOrder replaces header and lines of a PENDING order.
func (s *Service) UpdatePurchaseOrder(ctx context.Context, poID int64, input POInput) (Detail, error) {
	if err := validatePOInput(input); err != nil {
		return Detail{}, err
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusPending {
			return shared.Conflict("Purchase order #%d is %s and can no longer be edited.", poID, po.Status)
		}
		if err := checkSupplier(ctx, tx, input.SupplierID); err != nil {
			return err
		}
		po.SupplierID = input.SupplierID
		po.Notes = strings.TrimSpace(input.Notes)
		if !input.OrderDate.IsZero() {
			po.OrderDate = input.OrderDate
		}
		if err := tx.UpdatePOHeader(ctx, po); err != nil {
			return err
		}
		if err := tx.DeletePOItems(ctx, poID); err != nil {
			return err
		}
		if err := insertItems(ctx, tx, poID, input.Items); err != nil {
			return err
		}
		detail, err = LoadDetail(ctx, tx, poID)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_UPDATE", poID, map[string]any{"items": len(detail.Items)})
	s.publish(ctx, EventPurchaseOrderUpdated, poID, input.ActorID, decimal.Zero)
	return detail, nil
}

// CancelPurchaseOrder moves a PENDING order to CANCELLED.
func (s *Service) CancelPurchaseOrder(ctx context.Context, poID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusPending {
			return shared.Conflict("Only pending purchase orders can be cancelled; #%d is %s.", poID, po.Status)
		}
		return tx.UpdatePOStatus(ctx, poID, POStatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "PO_CANCEL", poID, nil)
	s.publish(ctx, EventPurchaseOrderCancelled, poID, actorID, decimal.Zero)
	return nil
}

type pendingBatch struct {
	item  PurchaseOrderItem
	qty   int
	batch inventory.StockItem
}

// ReceiveStock creates one batch per submitted line and advances the order status.
// Every line is validated before anything is written.
func (s *Service) ReceiveStock(ctx context.Context, poID int64, input ReceiveInput) (Detail, error) {
	key := strings.TrimSpace(input.IdempotencyKey)
	claimed := false
	if key != "" && s.idempotency != nil {
		if _, err := uuid.Parse(key); err != nil {
			return Detail{}, shared.Invalid("idempotency_key", "Idempotency key must be a UUID.")
		}
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.receive"); err != nil {
			return Detail{}, err
		}
		claimed = true
	}
	now := s.now()
	var (
		detail   Detail
		received int
		value    decimal.Decimal
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		received, value = 0, decimal.Zero
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status == POStatusCancelled {
			return shared.Conflict("Purchase order #%d is cancelled and cannot receive stock.", poID)
		}
		items, err := tx.ListPOItems(ctx, poID)
		if err != nil {
			return err
		}
		byID := make(map[int64]PurchaseOrderItem, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}
		taken := make(map[int64]int)
		var batches []pendingBatch
		for _, line := range input.Lines {
			if line.Quantity <= 0 {
				continue
			}
			item, ok := byID[line.POItemID]
			if !ok {
				return shared.Invalid("po_item_id", "Item #%d does not belong to purchase order #%d.", line.POItemID, poID)
			}
			remaining := item.QuantityRemaining() - taken[item.ID]
			if line.Quantity > remaining {
				return shared.Invalid("quantity", "Cannot receive %d of %s; only %d remaining.", line.Quantity, item.VariantName, remaining)
			}
			batch, err := s.prepareBatch(ctx, tx, po, item, line, now)
			if err != nil {
				return err
			}
			taken[item.ID] += line.Quantity
			batches = append(batches, pendingBatch{item: item, qty: line.Quantity, batch: batch})
		}
		if len(batches) == 0 {
			return shared.Invalid("items", "Enter a quantity for at least one item.")
		}
		for _, pending := range batches {
			if _, err := tx.Stock().InsertStockItem(ctx, pending.batch); err != nil {
				return err
			}
			if err := tx.IncrementReceived(ctx, pending.item.ID, pending.qty); err != nil {
				return err
			}
			received += pending.qty
			value = value.Add(pending.batch.TotalCost())
		}
		if _, err := RefreshStatus(ctx, tx, poID); err != nil {
			return err
		}
		detail, err = LoadDetail(ctx, tx, poID)
		return err
	})
	if err != nil {
		if claimed {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Detail{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_RECEIVE", poID, map[string]any{"units": received, "value": value.StringFixed(2), "status": detail.Status})
	s.publish(ctx, EventStockReceived, poID, input.ActorID, value)
	return detail, nil
}

func (s *Service) prepareBatch(ctx context.Context, tx TxRepository, po PurchaseOrder, item PurchaseOrderItem, line ReceiveLine, now time.Time) (inventory.StockItem, error) {
	batch, err := inventory.CheckBatchNumber(line.BatchNumber)
	if err != nil {
		return inventory.StockItem{}, err
	}
	terms, err := tx.Stock().VariantTerms(ctx, item.VariantID)
	if err != nil {
		return inventory.StockItem{}, err
	}
	if err := inventory.CheckExpiry(line.ExpiryDate, terms.RequiresExpiryTracking, now); err != nil {
		return inventory.StockItem{}, err
	}
	receivedAt := now
	if line.DateReceived != nil {
		receivedAt = *line.DateReceived
		if receivedAt.After(now) {
			return inventory.StockItem{}, shared.Invalid("date_received", "Date received cannot be in the future.")
		}
		if dayOf(receivedAt).Before(dayOf(po.OrderDate)) {
			return inventory.StockItem{}, shared.Invalid("date_received", "Date received cannot be before the order date.")
		}
	}
	cost := line.Cost
	cost.Quantity = line.Quantity
	costing, err := inventory.PriceBatch(cost, terms.Price)
	if err != nil {
		return inventory.StockItem{}, err
	}
	return inventory.StockItem{
		VariantID:           item.VariantID,
		VariantName:         terms.Name,
		SupplierID:          po.SupplierID,
		PurchaseOrderItemID: item.ID,
		PurchaseOrderID:     po.ID,
		BatchNumber:         batch,
		ExpiryDate:          line.ExpiryDate,
		Quantity:            line.Quantity,
		MRP:                 costing.MRP,
		BaseCostPrice:       costing.BaseCost,
		DiscountPercentage:  costing.DiscountPct,
		GSTPercentage:       costing.GSTPct,
		CostPrice:           costing.CostPrice,
		DateReceived:        receivedAt,
		Source:              inventory.SourcePurchaseOrder,
	}, nil
}

// RecordSupplierPayment pays part or all of an order's balance.
func (s *Service) RecordSupplierPayment(ctx context.Context, poID int64, input PaymentInput) (SupplierPayment, error) {
	if !input.Amount.IsPositive() {
		return SupplierPayment{}, shared.Invalid("amount", "Payment amount must be greater than zero.")
	}
	payment := SupplierPayment{
		PurchaseOrderID: poID,
		Amount:          shared.RoundMoney(input.Amount),
		PaymentDate:     input.Date,
		Method:          strings.TrimSpace(input.Method),
		Reference:       strings.TrimSpace(input.Reference),
		Notes:           strings.TrimSpace(input.Notes),
		RecordedBy:      input.ActorID,
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = s.now()
	}
	if payment.Method == "" {
		payment.Method = "BANK"
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status == POStatusCancelled {
			return shared.Conflict("Purchase order #%d is cancelled.", poID)
		}
		ledger, err := LoadLedger(ctx, tx, poID)
		if err != nil {
			return err
		}
		if payment.Amount.GreaterThan(ledger.BalanceDue) {
			return shared.Invalid("amount", "Payment of %s exceeds the outstanding balance of %s", shared.FormatMoney(payment.Amount), shared.FormatMoney(ledger.BalanceDue))
		}
		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id
		_, err = RefreshStatus(ctx, tx, poID)
		return err
	})
	if err != nil {
		return SupplierPayment{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_PAYMENT", poID, map[string]any{"amount": payment.Amount.StringFixed(2), "method": payment.Method})
	s.publish(ctx, EventSupplierPaid, poID, input.ActorID, payment.Amount)
	return payment, nil
}

// GetPurchaseOrder returns the order with items, money position and return flag.
func (s *Service) GetPurchaseOrder(ctx context.Context, poID int64) (Detail, error) {
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		detail, err = LoadDetail(ctx, tx, poID)
		return err
	})
	return detail, err
}

// ListPurchaseOrders pages order headers.
func (s *Service) ListPurchaseOrders(ctx context.Context, filter ListFilter) ([]Summary, shared.Pagination, error) {
	filter.Limit, filter.Offset = shared.ClampPage(filter.Limit, filter.Offset)
	rows, total, err := s.repo.ListPOs(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(filter.Limit, filter.Offset, total), nil
}

// ListSupplierPayments pages recorded supplier payments, latest payment date first.
func (s *Service) ListSupplierPayments(ctx context.Context, filter PaymentFilter) ([]PaymentRow, shared.Pagination, error) {
	filter.Limit, filter.Offset = shared.ClampPage(filter.Limit, filter.Offset)
	rows, total, err := s.repo.ListSupplierPayments(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(filter.Limit, filter.Offset, total), nil
}

// SupplierOutstanding sums balance due over every order of the supplier. Overpaid orders
// reduce the total.
func (s *Service) SupplierOutstanding(ctx context.Context, supplierID int64) (SupplierOutstanding, error) {
	out := SupplierOutstanding{SupplierID: supplierID, Balance: decimal.Zero}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkSupplier(ctx, tx, supplierID); err != nil {
			return err
		}
		ids, err := tx.ListSupplierPOIDs(ctx, supplierID)
		if err != nil {
			return err
		}
		balances := make([]decimal.Decimal, 0, len(ids))
		for _, id := range ids {
			ledger, err := LoadLedger(ctx, tx, id)
			if err != nil {
				return err
			}
			balances = append(balances, ledger.BalanceDue)
		}
		out.Orders = len(ids)
		out.Balance = shared.SumMoney(balances...)
		return nil
	})
	return out, err
}

// LoadLedger folds the order's batches, payments and credit applications.
func LoadLedger(ctx context.Context, tx TxRepository, poID int64) (Ledger, error) {
	batches, err := tx.Stock().ListStockItemsForPO(ctx, poID)
	if err != nil {
		return Ledger{}, err
	}
	payments, err := tx.ListPayments(ctx, poID)
	if err != nil {
		return Ledger{}, err
	}
	credits, err := tx.ListCreditApplications(ctx, poID)
	if err != nil {
		return Ledger{}, err
	}
	return ComputeLedger(batches, payments, credits), nil
}

// RefreshStatus re-derives the receiving status and persists it when it changed.
func RefreshStatus(ctx context.Context, tx TxRepository, poID int64) (POStatus, error) {
	po, err := tx.GetPO(ctx, poID)
	if err != nil {
		return "", err
	}
	items, err := tx.ListPOItems(ctx, poID)
	if err != nil {
		return "", err
	}
	status := DeriveStatus(po.Status, items)
	if status == po.Status {
		return status, nil
	}
	return status, tx.UpdatePOStatus(ctx, poID, status)
}

// LoadDetail assembles the read model of an order inside tx.
func LoadDetail(ctx context.Context, tx TxRepository, poID int64) (Detail, error) {
	po, err := tx.GetPO(ctx, poID)
	if err != nil {
		return Detail{}, err
	}
	items, err := tx.ListPOItems(ctx, poID)
	if err != nil {
		return Detail{}, err
	}
	payments, err := tx.ListPayments(ctx, poID)
	if err != nil {
		return Detail{}, err
	}
	credits, err := tx.ListCreditApplications(ctx, poID)
	if err != nil {
		return Detail{}, err
	}
	batches, err := tx.Stock().ListStockItemsForPO(ctx, poID)
	if err != nil {
		return Detail{}, err
	}
	pending, err := tx.HasPendingReturns(ctx, poID)
	if err != nil {
		return Detail{}, err
	}
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, ItemView{PurchaseOrderItem: item, QuantityRemaining: item.QuantityRemaining(), IsFullyReceived: item.IsFullyReceived()})
	}
	return Detail{
		PurchaseOrder:     po,
		Items:             views,
		Payments:          nonNil(payments),
		CreditsApplied:    nonNil(credits),
		Ledger:            ComputeLedger(batches, payments, credits),
		HasPendingReturns: pending,
	}, nil
}

func validatePOInput(input POInput) error {
	if input.SupplierID == 0 {
		return shared.Invalid("supplier_id", "Supplier is required.")
	}
	if len(input.Items) == 0 {
		return shared.Invalid("items", "Add at least one item to the purchase order.")
	}
	for _, item := range input.Items {
		if item.VariantID == 0 {
			return shared.Invalid("variant_id", "Every item needs a product variant.")
		}
		if item.Quantity <= 0 {
			return shared.Invalid("quantity", "Ordered quantity must be at least 1.")
		}
		if item.UnitCost != nil && item.UnitCost.IsNegative() {
			return shared.Invalid("unit_cost", "Unit cost cannot be negative.")
		}
	}
	return nil
}

func checkSupplier(ctx context.Context, tx TxRepository, supplierID int64) error {
	ok, err := tx.SupplierExists(ctx, supplierID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NotFound("supplier", supplierID)
	}
	return nil
}

func insertItems(ctx context.Context, tx TxRepository, poID int64, items []POItemInput) error {
	for _, in := range items {
		if _, err := tx.Stock().VariantTerms(ctx, in.VariantID); err != nil {
			return err
		}
		item := PurchaseOrderItem{PurchaseOrderID: poID, VariantID: in.VariantID, Quantity: in.Quantity}
		if in.UnitCost != nil {
			item.UnitCost = decimal.NullDecimal{Decimal: shared.RoundMoney(*in.UnitCost), Valid: true}
		}
		if _, err := tx.InsertPOItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, poID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEntry(actorID, action, "purchase_order", poID, meta))
}
