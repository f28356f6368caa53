package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/platform/db"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Mutating commands lock the order
// header first, which serialises all writers of one order.
type TxRepository interface {
	SupplierExists(ctx context.Context, id int64) (bool, error)
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	UpdatePOHeader(ctx context.Context, po PurchaseOrder) error
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOItems(ctx context.Context, poID int64) ([]PurchaseOrderItem, error)
	InsertPOItem(ctx context.Context, item PurchaseOrderItem) (int64, error)
	DeletePOItems(ctx context.Context, poID int64) error
	IncrementReceived(ctx context.Context, itemID int64, qty int) error
	InsertPayment(ctx context.Context, payment SupplierPayment) (int64, error)
	ListPayments(ctx context.Context, poID int64) ([]SupplierPayment, error)
	InsertCreditApplication(ctx context.Context, app CreditApplication) (int64, error)
	ListCreditApplications(ctx context.Context, poID int64) ([]CreditApplication, error)
	HasPendingReturns(ctx context.Context, poID int64) (bool, error)
	ListSupplierPOIDs(ctx context.Context, supplierID int64) ([]int64, error)
	Stock() inventory.TxRepository
}

type txRepo struct {
	q     db.Querier
	stock inventory.TxRepository
}

// NewTxRepository binds purchasing statements to q, usually an open pgx.Tx.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepo{q: q, stock: inventory.NewTxRepository(q)}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// ListPOs lists order headers newest first.
func (r *Repository) ListPOs(ctx context.Context, filter ListFilter) ([]Summary, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("po.status = $%d", len(args)))
	}
	if filter.SupplierID != 0 {
		args = append(args, filter.SupplierID)
		conds = append(conds, fmt.Sprintf("po.supplier_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders po`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, `SELECT po.id, po.supplier_id, s.name, po.order_date, po.status, po.notes, COALESCE(po.created_by, 0),
    (SELECT COUNT(*) FROM purchase_order_items i WHERE i.purchase_order_id = po.id)
FROM purchase_orders po JOIN suppliers s ON s.id = po.supplier_id`+where+
		fmt.Sprintf(` ORDER BY po.order_date DESC, po.id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.SupplierID, &s.SupplierName, &s.OrderDate, &s.Status, &s.Notes, &s.CreatedBy, &s.ItemCount); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// ListSupplierPayments lists payments across orders, latest payment date first.
func (r *Repository) ListSupplierPayments(ctx context.Context, filter PaymentFilter) ([]PaymentRow, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.SupplierID != 0 {
		args = append(args, filter.SupplierID)
		conds = append(conds, fmt.Sprintf("po.supplier_id = $%d", len(args)))
	}
	if filter.PurchaseOrderID != 0 {
		args = append(args, filter.PurchaseOrderID)
		conds = append(conds, fmt.Sprintf("sp.purchase_order_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	const from = ` FROM supplier_payments sp
JOIN purchase_orders po ON po.id = sp.purchase_order_id
JOIN suppliers s ON s.id = po.supplier_id`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, `SELECT sp.id, sp.purchase_order_id, sp.amount, sp.payment_date, sp.method, sp.reference, sp.notes,
    COALESCE(sp.recorded_by, 0), po.supplier_id, s.name`+from+where+
		fmt.Sprintf(` ORDER BY sp.payment_date DESC, sp.id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PaymentRow
	for rows.Next() {
		var p PaymentRow
		if err := rows.Scan(&p.ID, &p.PurchaseOrderID, &p.Amount, &p.PaymentDate, &p.Method, &p.Reference, &p.Notes,
			&p.RecordedBy, &p.SupplierID, &p.SupplierName); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *txRepo) Stock() inventory.TxRepository {
	return r.stock
}

func (r *txRepo) SupplierExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO purchase_orders (supplier_id, order_date, status, notes, created_by)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, po.SupplierID, po.OrderDate, po.Status, po.Notes, db.NullInt(po.CreatedBy)).Scan(&id)
	if err != nil {
		return 0, shared.TranslatePgError(err, "purchase order")
	}
	return id, nil
}

func (r *txRepo) UpdatePOHeader(ctx context.Context, po PurchaseOrder) error {
	_, err := r.q.Exec(ctx, `UPDATE purchase_orders SET supplier_id = $2, order_date = $3, notes = $4 WHERE id = $1`,
		po.ID, po.SupplierID, po.OrderDate, po.Notes)
	return shared.TranslatePgError(err, "purchase order")
}

func (r *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	_, err := r.q.Exec(ctx, `UPDATE purchase_orders SET status = $2 WHERE id = $1`, id, status)
	return err
}

const poSelect = `SELECT po.id, po.supplier_id, s.name, po.order_date, po.status, po.notes, COALESCE(po.created_by, 0)
FROM purchase_orders po JOIN suppliers s ON s.id = po.supplier_id WHERE po.id = $1`

func (r *txRepo) scanPO(ctx context.Context, sql string, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := r.q.QueryRow(ctx, sql, id).Scan(&po.ID, &po.SupplierID, &po.SupplierName, &po.OrderDate, &po.Status, &po.Notes, &po.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, shared.NotFound("purchase order", id)
	}
	return po, err
}

func (r *txRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return r.scanPO(ctx, poSelect, id)
}

func (r *txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	found, err := db.LockRow(ctx, r.q, "purchase_orders", id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !found {
		return PurchaseOrder{}, shared.NotFound("purchase order", id)
	}
	return r.scanPO(ctx, poSelect, id)
}

func (r *txRepo) ListPOItems(ctx context.Context, poID int64) ([]PurchaseOrderItem, error) {
	rows, err := r.q.Query(ctx, `SELECT i.id, i.purchase_order_id, i.product_variant_id,
    concat_ws(' - ', p.name, NULLIF(v.brand, ''), NULLIF(v.description, '')),
    i.quantity, i.cost_price, i.quantity_received
FROM purchase_order_items i
JOIN product_variants v ON v.id = i.product_variant_id
JOIN products p ON p.id = v.product_id
WHERE i.purchase_order_id = $1
ORDER BY i.id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PurchaseOrderItem
	for rows.Next() {
		var item PurchaseOrderItem
		if err := rows.Scan(&item.ID, &item.PurchaseOrderID, &item.VariantID, &item.VariantName, &item.Quantity, &item.UnitCost, &item.QuantityReceived); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepo) InsertPOItem(ctx context.Context, item PurchaseOrderItem) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO purchase_order_items (purchase_order_id, product_variant_id, quantity, cost_price, quantity_received)
VALUES ($1, $2, $3, $4, 0) RETURNING id`, item.PurchaseOrderID, item.VariantID, item.Quantity, item.UnitCost).Scan(&id)
	if err != nil {
		return 0, shared.TranslatePgError(err, "purchase order item")
	}
	return id, nil
}

func (r *txRepo) DeletePOItems(ctx context.Context, poID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM purchase_order_items WHERE purchase_order_id = $1`, poID)
	return shared.TranslatePgError(err, "purchase order item")
}

func (r *txRepo) IncrementReceived(ctx context.Context, itemID int64, qty int) error {
	tag, err := r.q.Exec(ctx, `UPDATE purchase_order_items SET quantity_received = quantity_received + $2 WHERE id = $1`, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("purchase order item", itemID)
	}
	return nil
}

func (r *txRepo) InsertPayment(ctx context.Context, p SupplierPayment) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO supplier_payments (purchase_order_id, amount, payment_date, method, reference, notes, recorded_by)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.PurchaseOrderID, p.Amount, p.PaymentDate, p.Method, p.Reference, p.Notes, db.NullInt(p.RecordedBy)).Scan(&id)
	return id, err
}

func (r *txRepo) ListPayments(ctx context.Context, poID int64) ([]SupplierPayment, error) {
	rows, err := r.q.Query(ctx, `SELECT id, purchase_order_id, amount, payment_date, method, reference, notes, COALESCE(recorded_by, 0)
FROM supplier_payments WHERE purchase_order_id = $1 ORDER BY payment_date, id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SupplierPayment
	for rows.Next() {
		var p SupplierPayment
		if err := rows.Scan(&p.ID, &p.PurchaseOrderID, &p.Amount, &p.PaymentDate, &p.Method, &p.Reference, &p.Notes, &p.RecordedBy); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertCreditApplication(ctx context.Context, app CreditApplication) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO credit_applications (credit_id, applied_to_po_id, amount_applied, date_applied)
VALUES ($1, $2, $3, $4) RETURNING id`, app.CreditID, app.PurchaseOrderID, app.Amount, app.DateApplied).Scan(&id)
	return id, err
}

func (r *txRepo) ListCreditApplications(ctx context.Context, poID int64) ([]CreditApplication, error) {
	rows, err := r.q.Query(ctx, `SELECT id, credit_id, applied_to_po_id, amount_applied, date_applied
FROM credit_applications WHERE applied_to_po_id = $1 ORDER BY date_applied, id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CreditApplication
	for rows.Next() {
		var app CreditApplication
		if err := rows.Scan(&app.ID, &app.CreditID, &app.PurchaseOrderID, &app.Amount, &app.DateApplied); err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

func (r *txRepo) HasPendingReturns(ctx context.Context, poID int64) (bool, error) {
	var pending bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_returns
WHERE purchase_order_id = $1 AND status IN ('PENDING', 'PARTIALLY_PROCESSED'))`, poID).Scan(&pending)
	return pending, err
}

func (r *txRepo) ListSupplierPOIDs(ctx context.Context, supplierID int64) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM purchase_orders WHERE supplier_id = $1 ORDER BY id`, supplierID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
