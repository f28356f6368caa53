package returns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/procurement"
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

// Service handles returns to suppliers and what they send back.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	events shared.EventPublisher
	now    func() time.Time
}

// NewService constructs the returns service.
func NewService(repo RepositoryPort, audit AuditPort, events shared.EventPublisher, cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, audit: audit, events: events, now: now}
}

// ReturnInput sends units of a batch back to the supplier.
type ReturnInput struct {
	ActorID     int64
	StockItemID int64
	Quantity    int
	Reason      string
	Date        time.Time
}

// RefundInput records money received for a return. A nil Amount refunds everything pending.
type RefundInput struct {
	ActorID         int64
	Amount          *decimal.Decimal
	PurchaseOrderID int64
	Notes           string
	Date            time.Time
}

// ReplacementInput receives goods sent in place of returned units.
type ReplacementInput struct {
	ActorID     int64
	Quantity    int
	BatchNumber string
	ExpiryDate  *time.Time
	Notes       string
}

// ApplyCreditInput spends part of a credit note on an order.
type ApplyCreditInput struct {
	ActorID int64
	Amount  decimal.Decimal
	Date    time.Time
}

// CreateReturn records a PENDING return for part of a batch.
func (s *Service) CreateReturn(ctx context.Context, input ReturnInput) (Detail, error) {
	if input.Quantity < 1 {
		return Detail{}, shared.Invalid("quantity", "Return quantity must be at least 1.")
	}
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.Stock().LockStockItem(ctx, input.StockItemID)
		if err != nil {
			return err
		}
		if available := batch.QuantityAvailable(); input.Quantity > available {
			return shared.Invalid("quantity", "Cannot return %d units; only %d available in batch %s.", input.Quantity, available, batch.BatchNumber)
		}
		id, err := tx.InsertReturn(ctx, PurchaseReturn{
			PurchaseOrderID: batch.PurchaseOrderID,
			StockItemID:     batch.ID,
			Quantity:        input.Quantity,
			Reason:          strings.TrimSpace(input.Reason),
			ReturnDate:      input.Date,
			Status:          StatusPending,
		})
		if err != nil {
			return err
		}
		detail, err = LoadDetail(ctx, tx, id)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, input.ActorID, "RETURN_CREATE", "purchase_return", detail.ID, map[string]any{"stock_item_id": detail.StockItemID, "quantity": detail.Quantity})
	s.publish(ctx, EventReturnCreated, detail.ID, input.ActorID, detail.Position.TotalValue)
	return detail, nil
}

// AddSupplierRefund records a refund against a return and issues the matching credit note.
func (s *Service) AddSupplierRefund(ctx context.Context, returnID int64, input RefundInput) (Detail, error) {
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	var (
		detail Detail
		refund SupplierRefund
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ret, err := tx.LockReturn(ctx, returnID)
		if err != nil {
			return err
		}
		current, err := loadDetail(ctx, tx, ret)
		if err != nil {
			return err
		}
		pending := current.Position.ValuePendingAction
		if !pending.IsPositive() {
			return shared.Conflict("Return #%d has no value left to refund.", returnID)
		}
		amount := pending
		if input.Amount != nil {
			amount = shared.RoundMoney(*input.Amount)
		}
		if !amount.IsPositive() {
			return shared.Invalid("amount", "Refund amount must be greater than zero.")
		}
		if amount.GreaterThan(pending) {
			return shared.Invalid("amount", "Refund of %s exceeds the value pending on this return of %s.", shared.FormatMoney(amount), shared.FormatMoney(pending))
		}
		if input.PurchaseOrderID != 0 && input.PurchaseOrderID != ret.PurchaseOrderID {
			return shared.Invalid("purchase_order_id", "Return #%d does not belong to purchase order #%d.", returnID, input.PurchaseOrderID)
		}
		supplierID := current.SupplierID
		if ret.PurchaseOrderID != 0 {
			po, err := tx.Purchasing().LockPO(ctx, ret.PurchaseOrderID)
			if err != nil {
				return err
			}
			supplierID = po.SupplierID
		}
		notes := strings.TrimSpace(input.Notes)
		if notes == "" {
			notes = fmt.Sprintf("Refund for %d x %s", current.Position.QuantityPendingAction, current.VariantName)
		}
		refund = SupplierRefund{
			PurchaseOrderID: ret.PurchaseOrderID,
			ReturnID:        ret.ID,
			Amount:          amount,
			RefundDate:      input.Date,
			Notes:           notes,
		}
		if refund.ID, err = tx.InsertRefund(ctx, refund); err != nil {
			return err
		}
		if _, err := RefreshStatus(ctx, tx, ret.ID); err != nil {
			return err
		}
		if ret.PurchaseOrderID != 0 {
			if _, err := procurement.RefreshStatus(ctx, tx.Purchasing(), ret.PurchaseOrderID); err != nil {
				return err
			}
		}
		if supplierID != 0 {
			if _, err := tx.InsertCredit(ctx, SupplierCredit{
				SupplierID:     supplierID,
				SourceRefundID: refund.ID,
				InitialAmount:  amount,
				Balance:        amount,
				Notes:          fmt.Sprintf("Credit from refund for return #%d", ret.ID),
				CreatedAt:      input.Date,
			}); err != nil {
				return err
			}
		}
		detail, err = LoadDetail(ctx, tx, ret.ID)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, input.ActorID, "RETURN_REFUND", "purchase_return", returnID, map[string]any{"refund_id": refund.ID, "amount": refund.Amount.StringFixed(2), "status": detail.Status})
	s.publish(ctx, EventRefundRecorded, returnID, input.ActorID, refund.Amount)
	return detail, nil
}

// ReceiveReplacement books replacement goods as a new batch priced like the returned one.
func (s *Service) ReceiveReplacement(ctx context.Context, returnID int64, input ReplacementInput) (Detail, error) {
	if input.Quantity < 1 {
		return Detail{}, shared.Invalid("quantity", "Replacement quantity must be at least 1.")
	}
	batchNumber, err := inventory.CheckBatchNumber(input.BatchNumber)
	if err != nil {
		return Detail{}, err
	}
	now := s.now()
	var (
		detail  Detail
		stockID int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ret, err := tx.LockReturn(ctx, returnID)
		if err != nil {
			return err
		}
		current, err := loadDetail(ctx, tx, ret)
		if err != nil {
			return err
		}
		pending := current.Position.QuantityPendingAction
		if pending <= 0 {
			return shared.Conflict("Return #%d has no units left to replace.", returnID)
		}
		if input.Quantity > pending {
			return shared.Invalid("quantity", "Cannot receive %d replacement units; only %d pending.", input.Quantity, pending)
		}
		returned, err := tx.Stock().GetStockItem(ctx, ret.StockItemID)
		if err != nil {
			return err
		}
		if err := inventory.CheckExpiry(input.ExpiryDate, returned.RequiresExpiryTracking, now); err != nil {
			return err
		}
		stockID, err = tx.Stock().InsertStockItem(ctx, inventory.StockItem{
			VariantID:          returned.VariantID,
			VariantName:        returned.VariantName,
			SupplierID:         returned.SupplierID,
			BatchNumber:        batchNumber,
			ExpiryDate:         input.ExpiryDate,
			Quantity:           input.Quantity,
			MRP:                returned.MRP,
			BaseCostPrice:      returned.BaseCostPrice,
			DiscountPercentage: returned.DiscountPercentage,
			GSTPercentage:      returned.GSTPercentage,
			CostPrice:          returned.CostPrice,
			DateReceived:       now,
			Source:             inventory.SourceReplacement,
		})
		if err != nil {
			return err
		}
		if _, err := tx.InsertReplacement(ctx, ReplacementItem{
			ReturnID:           ret.ID,
			Quantity:           input.Quantity,
			BatchNumber:        batchNumber,
			ExpiryDate:         input.ExpiryDate,
			Notes:              strings.TrimSpace(input.Notes),
			CreatedStockItemID: stockID,
			ReceivedAt:         now,
		}); err != nil {
			return err
		}
		if _, err := RefreshStatus(ctx, tx, ret.ID); err != nil {
			return err
		}
		detail, err = LoadDetail(ctx, tx, ret.ID)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, input.ActorID, "RETURN_REPLACEMENT", "purchase_return", returnID, map[string]any{"stock_item_id": stockID, "quantity": input.Quantity, "status": detail.Status})
	s.publish(ctx, EventReplacementReceived, returnID, input.ActorID, decimal.Zero)
	return detail, nil
}

const creditMismatch = "Credit note not found or does not belong to this supplier"

// ApplyCredit spends part of a supplier credit note on one of that supplier's orders.
func (s *Service) ApplyCredit(ctx context.Context, creditID, poID int64, input ApplyCreditInput) (CreditApplied, error) {
	amount := shared.RoundMoney(input.Amount)
	if !amount.IsPositive() {
		return CreditApplied{}, shared.Invalid("amount", "Amount to apply must be greater than zero.")
	}
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	var out CreditApplied
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.Purchasing().LockPO(ctx, poID)
		if err != nil {
			return err
		}
		credit, err := tx.LockCredit(ctx, creditID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.Conflict(creditMismatch)
			}
			return err
		}
		if credit.SupplierID != po.SupplierID {
			return shared.Conflict(creditMismatch)
		}
		if amount.GreaterThan(credit.Balance) {
			return shared.Conflict("Cannot apply %s. Only %s is available on this credit note.", shared.FormatMoney(amount), shared.FormatMoney(credit.Balance))
		}
		ledger, err := procurement.LoadLedger(ctx, tx.Purchasing(), poID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(ledger.BalanceDue) {
			return shared.Conflict("Only %s is due on this PO.", shared.FormatMoney(ledger.BalanceDue))
		}
		app := procurement.CreditApplication{CreditID: credit.ID, PurchaseOrderID: poID, Amount: amount, DateApplied: input.Date}
		if app.ID, err = tx.Purchasing().InsertCreditApplication(ctx, app); err != nil {
			return err
		}
		credit = credit.Spend(amount)
		if err := tx.UpdateCredit(ctx, credit); err != nil {
			return err
		}
		if _, err := procurement.RefreshStatus(ctx, tx.Purchasing(), poID); err != nil {
			return err
		}
		ledger, err = procurement.LoadLedger(ctx, tx.Purchasing(), poID)
		if err != nil {
			return err
		}
		out = CreditApplied{Credit: credit, Application: app, Order: ledger}
		return nil
	})
	if err != nil {
		return CreditApplied{}, err
	}
	s.recordAudit(ctx, input.ActorID, "CREDIT_APPLY", "supplier_credit", creditID, map[string]any{"purchase_order_id": poID, "amount": amount.StringFixed(2)})
	s.publish(ctx, EventCreditApplied, creditID, input.ActorID, amount)
	return out, nil
}

// AvailableCredits lists unused credit notes of the order's supplier.
func (s *Service) AvailableCredits(ctx context.Context, poID int64) ([]SupplierCredit, error) {
	var credits []SupplierCredit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.Purchasing().GetPO(ctx, poID)
		if err != nil {
			return err
		}
		credits, err = tx.ListAvailableCredits(ctx, po.SupplierID)
		return err
	})
	if credits == nil {
		credits = []SupplierCredit{}
	}
	return credits, err
}

// GetReturn returns a return with its replacements, refunds and position.
func (s *Service) GetReturn(ctx context.Context, id int64) (Detail, error) {
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		detail, err = LoadDetail(ctx, tx, id)
		return err
	})
	return detail, err
}

// ListReturns pages returns newest first.
func (s *Service) ListReturns(ctx context.Context, filter ListFilter) ([]Detail, shared.Pagination, error) {
	filter.Limit, filter.Offset = shared.ClampPage(filter.Limit, filter.Offset)
	var (
		details []Detail
		total   int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, count, err := tx.ListReturns(ctx, filter)
		if err != nil {
			return err
		}
		total = count
		details = make([]Detail, 0, len(rows))
		for _, ret := range rows {
			detail, err := loadDetail(ctx, tx, ret)
			if err != nil {
				return err
			}
			details = append(details, detail)
		}
		return nil
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return details, shared.NewPagination(filter.Limit, filter.Offset, total), nil
}

// RelatedReturns finds every return that traces back to the order, including returns of
// replacement batches, in discovery order.
func (s *Service) RelatedReturns(ctx context.Context, poID int64) ([]Detail, error) {
	var details []Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Purchasing().GetPO(ctx, poID); err != nil {
			return err
		}
		var err error
		details, err = relatedReturns(ctx, tx, poID)
		return err
	})
	return details, err
}

// PurchaseOrderHistory reports an order's totals with all returns, replacements and refunds.
func (s *Service) PurchaseOrderHistory(ctx context.Context, poID int64) (OrderHistory, error) {
	var history OrderHistory
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := procurement.LoadDetail(ctx, tx.Purchasing(), poID)
		if err != nil {
			return err
		}
		related, err := relatedReturns(ctx, tx, poID)
		if err != nil {
			return err
		}
		batches, err := tx.Stock().ListStockItemsForPO(ctx, poID)
		if err != nil {
			return err
		}
		history = OrderHistory{
			Order:   order,
			Returns: related,
			Events:  historyEntries(related),
			Items:   rollup(order.Items, batches, related),
		}
		return nil
	})
	return history, err
}

// relatedReturns walks return → replacement → created batch → return breadth first.
// The visited set guarantees termination on any chain shape.
func relatedReturns(ctx context.Context, tx TxRepository, poID int64) ([]Detail, error) {
	queue, err := tx.ListReturnsForPO(ctx, poID)
	if err != nil {
		return nil, err
	}
	visited := make(map[int64]bool)
	out := []Detail{}
	for len(queue) > 0 {
		ret := queue[0]
		queue = queue[1:]
		if visited[ret.ID] {
			continue
		}
		visited[ret.ID] = true
		detail, err := loadDetail(ctx, tx, ret)
		if err != nil {
			return nil, err
		}
		out = append(out, detail)
		for _, replacement := range detail.Replacements {
			if replacement.CreatedStockItemID == 0 {
				continue
			}
			next, err := tx.ListReturnsForStockItem(ctx, replacement.CreatedStockItemID)
			if err != nil {
				return nil, err
			}
			for _, candidate := range next {
				if !visited[candidate.ID] {
					queue = append(queue, candidate)
				}
			}
		}
	}
	return out, nil
}

func historyEntries(related []Detail) []HistoryEntry {
	var events []HistoryEntry
	for _, ret := range related {
		events = append(events, HistoryEntry{Kind: HistoryReturn, Date: ret.ReturnDate, ReturnID: ret.ID, Quantity: ret.Quantity, Notes: ret.Reason})
		for _, r := range ret.Replacements {
			events = append(events, HistoryEntry{Kind: HistoryReplacement, Date: r.ReceivedAt, ReturnID: ret.ID, Quantity: r.Quantity, Notes: r.Notes})
		}
		for _, r := range ret.Refunds {
			amount := r.Amount
			events = append(events, HistoryEntry{Kind: HistoryRefund, Date: r.RefundDate, ReturnID: ret.ID, Amount: &amount, Notes: r.Notes})
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	if events == nil {
		events = []HistoryEntry{}
	}
	return events
}

// rollup counts direct returns against the order line of their batch.
func rollup(items []procurement.ItemView, batches []inventory.StockItem, related []Detail) []ItemRollup {
	lineOf := make(map[int64]int64, len(batches))
	available := make(map[int64]int)
	for _, batch := range batches {
		lineOf[batch.ID] = batch.PurchaseOrderItemID
		available[batch.PurchaseOrderItemID] += batch.QuantityAvailable()
	}
	returned := make(map[int64]int)
	replaced := make(map[int64]int)
	for _, ret := range related {
		line, ok := lineOf[ret.StockItemID]
		if !ok {
			continue
		}
		returned[line] += ret.Quantity
		replaced[line] += ret.Position.QuantityReplaced
	}
	out := make([]ItemRollup, 0, len(items))
	for _, item := range items {
		out = append(out, ItemRollup{
			POItemID:          item.ID,
			VariantName:       item.VariantName,
			QuantityOrdered:   item.Quantity,
			QuantityReceived:  item.QuantityReceived,
			QuantityReturned:  returned[item.ID],
			QuantityReplaced:  replaced[item.ID],
			QuantityAvailable: available[item.ID],
		})
	}
	return out
}

// RefreshStatus re-derives the return status from its children and persists a change.
func RefreshStatus(ctx context.Context, tx TxRepository, returnID int64) (Status, error) {
	detail, err := LoadDetail(ctx, tx, returnID)
	if err != nil {
		return "", err
	}
	status := DeriveStatus(detail.Position, len(detail.Replacements), len(detail.Refunds))
	if status == detail.Status {
		return status, nil
	}
	return status, tx.UpdateReturnStatus(ctx, returnID, status)
}

// LoadDetail assembles the read model of a return inside tx.
func LoadDetail(ctx context.Context, tx TxRepository, id int64) (Detail, error) {
	ret, err := tx.GetReturn(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return loadDetail(ctx, tx, ret)
}

func loadDetail(ctx context.Context, tx TxRepository, ret PurchaseReturn) (Detail, error) {
	batch, err := tx.Stock().GetStockItem(ctx, ret.StockItemID)
	if err != nil {
		return Detail{}, err
	}
	replacements, err := tx.ListReplacements(ctx, ret.ID)
	if err != nil {
		return Detail{}, err
	}
	refunds, err := tx.ListRefunds(ctx, ret.ID)
	if err != nil {
		return Detail{}, err
	}
	if replacements == nil {
		replacements = []ReplacementItem{}
	}
	if refunds == nil {
		refunds = []SupplierRefund{}
	}
	return Detail{
		PurchaseReturn: ret,
		VariantName:    batch.VariantName,
		BatchNumber:    batch.BatchNumber,
		SupplierID:     batch.SupplierID,
		CostPrice:      batch.CostPrice,
		Replacements:   replacements,
		Refunds:        refunds,
		Position:       ComputePosition(ret.Quantity, batch.CostPrice, replacements, refunds),
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEntry(actorID, action, entity, id, meta))
}
