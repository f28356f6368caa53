package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/clinic-ledger/internal/platform/db"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// TxRepository exposes the stock ledger inside a transaction. Purchasing, returns and
// invoicing reach it through their own transactional repositories.
type TxRepository interface {
	VariantTerms(ctx context.Context, variantID int64) (VariantTerms, error)
	InsertStockItem(ctx context.Context, item StockItem) (int64, error)
	GetStockItem(ctx context.Context, id int64) (StockItem, error)
	LockStockItem(ctx context.Context, id int64) (StockItem, error)
	ListStockItemsForPO(ctx context.Context, poID int64) ([]StockItem, error)
	GetTransaction(ctx context.Context, invoiceItemID int64) (Transaction, bool, error)
	UpsertTransaction(ctx context.Context, txn Transaction) error
	DeleteTransaction(ctx context.Context, invoiceItemID int64) error
	InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error)
}

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	q db.Querier
}

// NewTxRepository binds the stock ledger statements to q, usually an open pgx.Tx.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepo{q: q}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const (
	soldExpr      = `COALESCE((SELECT SUM(t.quantity) FROM stock_item_transactions t WHERE t.stock_item_id = si.id), 0)`
	returnedExpr  = `COALESCE((SELECT SUM(pr.quantity) FROM purchase_returns pr WHERE pr.stock_item_id = si.id), 0)`
	availableExpr = `(si.quantity - ` + soldExpr + ` - ` + returnedExpr + `)`
)

// stockItemSelect reads a batch with its variant label and derived sold/returned quantities.
const stockItemSelect = `SELECT si.id, si.product_variant_id,
    concat_ws(' - ', p.name, NULLIF(v.brand, ''), NULLIF(v.description, '')),
    v.price, p.requires_expiry_tracking,
    COALESCE(si.supplier_id, 0), COALESCE(si.purchase_order_item_id, 0), COALESCE(poi.purchase_order_id, 0),
    si.batch_number, si.expiry_date, si.quantity, si.mrp, si.base_cost_price,
    si.discount_percentage, si.gst_percentage, si.cost_price, si.date_received, si.source,
    ` + soldExpr + `, ` + returnedExpr + `
FROM stock_items si
JOIN product_variants v ON v.id = si.product_variant_id
JOIN products p ON p.id = v.product_id
LEFT JOIN purchase_order_items poi ON poi.id = si.purchase_order_item_id`

func scanStockItem(row pgx.Row) (StockItem, error) {
	var item StockItem
	err := row.Scan(&item.ID, &item.VariantID, &item.VariantName, &item.VariantPrice, &item.RequiresExpiryTracking,
		&item.SupplierID, &item.PurchaseOrderItemID, &item.PurchaseOrderID,
		&item.BatchNumber, &item.ExpiryDate, &item.Quantity, &item.MRP, &item.BaseCostPrice,
		&item.DiscountPercentage, &item.GSTPercentage, &item.CostPrice, &item.DateReceived, &item.Source,
		&item.QuantitySold, &item.QuantityReturned)
	return item, err
}

func collectStockItems(rows pgx.Rows) ([]StockItem, error) {
	defer rows.Close()
	var items []StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetStockItem loads a batch outside any transaction.
func (r *Repository) GetStockItem(ctx context.Context, id int64) (StockItem, error) {
	return NewTxRepository(r.pool).GetStockItem(ctx, id)
}

// ListStockItems lists batches newest first.
func (r *Repository) ListStockItems(ctx context.Context, filter ListFilter) ([]StockItem, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.VariantID != 0 {
		args = append(args, filter.VariantID)
		conds = append(conds, fmt.Sprintf("si.product_variant_id = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		conds = append(conds, fmt.Sprintf("(lower(si.batch_number) LIKE $%[1]d OR lower(p.name) LIKE $%[1]d OR lower(v.brand) LIKE $%[1]d)", len(args)))
	}
	if filter.InStock {
		conds = append(conds, availableExpr+" > 0")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_items si
JOIN product_variants v ON v.id = si.product_variant_id
JOIN products p ON p.id = v.product_id`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, stockItemSelect+where+fmt.Sprintf(` ORDER BY si.date_received DESC, si.id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectStockItems(rows)
	return items, total, err
}

// ListAdjustments lists adjustment journal entries newest first.
func (r *Repository) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(product_variant_id, 0), adjustment_type, quantity, reason, notes, adjustment_date, COALESCE(adjusted_by, 0)
FROM stock_adjustments
WHERE $1::bigint = 0 OR product_variant_id = $1
ORDER BY adjustment_date DESC, id DESC
LIMIT $2 OFFSET $3`, filter.VariantID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Adjustment
	for rows.Next() {
		var adj Adjustment
		if err := rows.Scan(&adj.ID, &adj.VariantID, &adj.Type, &adj.Quantity, &adj.Reason, &adj.Notes, &adj.AdjustmentDate, &adj.AdjustedBy); err != nil {
			return nil, err
		}
		out = append(out, adj)
	}
	return out, rows.Err()
}

func (r *txRepo) VariantTerms(ctx context.Context, variantID int64) (VariantTerms, error) {
	var terms VariantTerms
	err := r.q.QueryRow(ctx, `SELECT v.id, concat_ws(' - ', p.name, NULLIF(v.brand, ''), NULLIF(v.description, '')),
    v.price, p.requires_expiry_tracking, v.is_active
FROM product_variants v JOIN products p ON p.id = v.product_id
WHERE v.id = $1`, variantID).Scan(&terms.ID, &terms.Name, &terms.Price, &terms.RequiresExpiryTracking, &terms.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return VariantTerms{}, shared.NotFound("variant", variantID)
	}
	return terms, err
}

func (r *txRepo) InsertStockItem(ctx context.Context, item StockItem) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO stock_items (product_variant_id, supplier_id, purchase_order_item_id, batch_number, expiry_date,
    quantity, mrp, base_cost_price, discount_percentage, gst_percentage, cost_price, date_received, source)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		item.VariantID, db.NullInt(item.SupplierID), db.NullInt(item.PurchaseOrderItemID), item.BatchNumber, item.ExpiryDate,
		item.Quantity, item.MRP, item.BaseCostPrice, item.DiscountPercentage, item.GSTPercentage, item.CostPrice,
		item.DateReceived, item.Source).Scan(&id)
	if err != nil {
		return 0, shared.TranslatePgError(err, "stock item")
	}
	return id, nil
}

func (r *txRepo) GetStockItem(ctx context.Context, id int64) (StockItem, error) {
	item, err := scanStockItem(r.q.QueryRow(ctx, stockItemSelect+` WHERE si.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockItem{}, shared.NotFound("stock item", id)
	}
	return item, err
}

// LockStockItem claims the batch before its sold and returned totals are read.
func (r *txRepo) LockStockItem(ctx context.Context, id int64) (StockItem, error) {
	found, err := db.LockRow(ctx, r.q, "stock_items", id)
	if err != nil {
		return StockItem{}, err
	}
	if !found {
		return StockItem{}, shared.NotFound("stock item", id)
	}
	return r.GetStockItem(ctx, id)
}

func (r *txRepo) ListStockItemsForPO(ctx context.Context, poID int64) ([]StockItem, error) {
	rows, err := r.q.Query(ctx, stockItemSelect+` WHERE poi.purchase_order_id = $1 ORDER BY si.id`, poID)
	if err != nil {
		return nil, err
	}
	return collectStockItems(rows)
}

func (r *txRepo) GetTransaction(ctx context.Context, invoiceItemID int64) (Transaction, bool, error) {
	var txn Transaction
	err := r.q.QueryRow(ctx, `SELECT id, stock_item_id, invoice_item_id, quantity, transaction_date
FROM stock_item_transactions WHERE invoice_item_id = $1`, invoiceItemID).
		Scan(&txn.ID, &txn.StockItemID, &txn.InvoiceItemID, &txn.Quantity, &txn.TransactionDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return txn, true, nil
}

func (r *txRepo) UpsertTransaction(ctx context.Context, txn Transaction) error {
	_, err := r.q.Exec(ctx, `INSERT INTO stock_item_transactions (stock_item_id, invoice_item_id, quantity, transaction_date)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (invoice_item_id) DO UPDATE SET stock_item_id = EXCLUDED.stock_item_id, quantity = EXCLUDED.quantity`,
		txn.StockItemID, txn.InvoiceItemID, txn.Quantity)
	return err
}

func (r *txRepo) DeleteTransaction(ctx context.Context, invoiceItemID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM stock_item_transactions WHERE invoice_item_id = $1`, invoiceItemID)
	return err
}

func (r *txRepo) InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO stock_adjustments (product_variant_id, adjustment_type, quantity, reason, notes, adjustment_date, adjusted_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		adj.VariantID, adj.Type, adj.Quantity, adj.Reason, adj.Notes, adj.AdjustmentDate, db.NullInt(adj.AdjustedBy)).Scan(&id)
	if err != nil {
		return 0, shared.TranslatePgError(err, "stock adjustment")
	}
	return id, nil
}
