package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/platform/db"
	"github.com/odyssey-erp/clinic-ledger/internal/procurement"
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

// TxRepository exposes the statements of one returns command. Commands lock the return
// (or credit note) header and read its children without locks.
type TxRepository interface {
	InsertReturn(ctx context.Context, ret PurchaseReturn) (int64, error)
	GetReturn(ctx context.Context, id int64) (PurchaseReturn, error)
	LockReturn(ctx context.Context, id int64) (PurchaseReturn, error)
	UpdateReturnStatus(ctx context.Context, id int64, status Status) error
	ListReturns(ctx context.Context, filter ListFilter) ([]PurchaseReturn, int, error)
	ListReturnsForPO(ctx context.Context, poID int64) ([]PurchaseReturn, error)
	ListReturnsForStockItem(ctx context.Context, stockItemID int64) ([]PurchaseReturn, error)
	InsertReplacement(ctx context.Context, item ReplacementItem) (int64, error)
	ListReplacements(ctx context.Context, returnID int64) ([]ReplacementItem, error)
	InsertRefund(ctx context.Context, refund SupplierRefund) (int64, error)
	ListRefunds(ctx context.Context, returnID int64) ([]SupplierRefund, error)
	InsertCredit(ctx context.Context, credit SupplierCredit) (int64, error)
	LockCredit(ctx context.Context, id int64) (SupplierCredit, error)
	UpdateCredit(ctx context.Context, credit SupplierCredit) error
	ListAvailableCredits(ctx context.Context, supplierID int64) ([]SupplierCredit, error)
	Stock() inventory.TxRepository
	Purchasing() procurement.TxRepository
}

type txRepo struct {
	q          db.Querier
	purchasing procurement.TxRepository
}

// NewTxRepository binds return statements to q.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepo{q: q, purchasing: procurement.NewTxRepository(q)}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

func (r *txRepo) Stock() inventory.TxRepository {
	return r.purchasing.Stock()
}

func (r *txRepo) Purchasing() procurement.TxRepository {
	return r.purchasing
}

const returnColumns = `id, COALESCE(purchase_order_id, 0), stock_item_id, quantity, reason, return_date, status`

func scanReturn(row pgx.Row) (PurchaseReturn, error) {
	var ret PurchaseReturn
	err := row.Scan(&ret.ID, &ret.PurchaseOrderID, &ret.StockItemID, &ret.Quantity, &ret.Reason, &ret.ReturnDate, &ret.Status)
	return ret, err
}

func collectReturns(rows pgx.Rows, err error) ([]PurchaseReturn, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseReturn
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertReturn(ctx context.Context, ret PurchaseReturn) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO purchase_returns (purchase_order_id, stock_item_id, quantity, reason, return_date, status)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		db.NullInt(ret.PurchaseOrderID), ret.StockItemID, ret.Quantity, ret.Reason, ret.ReturnDate, ret.Status).Scan(&id)
	return id, shared.TranslatePgError(err, "purchase return")
}

func (r *txRepo) getReturn(ctx context.Context, id int64, lock bool) (PurchaseReturn, error) {
	if lock {
		found, err := db.LockRow(ctx, r.q, "purchase_returns", id)
		if err != nil {
			return PurchaseReturn{}, err
		}
		if !found {
			return PurchaseReturn{}, shared.NotFound("purchase return", id)
		}
	}
	ret, err := scanReturn(r.q.QueryRow(ctx, `SELECT `+returnColumns+` FROM purchase_returns WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseReturn{}, shared.NotFound("purchase return", id)
	}
	return ret, err
}

func (r *txRepo) GetReturn(ctx context.Context, id int64) (PurchaseReturn, error) {
	return r.getReturn(ctx, id, false)
}

func (r *txRepo) LockReturn(ctx context.Context, id int64) (PurchaseReturn, error) {
	return r.getReturn(ctx, id, true)
}

func (r *txRepo) UpdateReturnStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.q.Exec(ctx, `UPDATE purchase_returns SET status = $2 WHERE id = $1`, id, status)
	return err
}

func (r *txRepo) ListReturns(ctx context.Context, filter ListFilter) ([]PurchaseReturn, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.PurchaseOrderID != 0 {
		args = append(args, filter.PurchaseOrderID)
		conds = append(conds, fmt.Sprintf("purchase_order_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_returns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.q.Query(ctx, `SELECT `+returnColumns+` FROM purchase_returns`+where+
		fmt.Sprintf(` ORDER BY return_date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	out, err := collectReturns(rows, err)
	return out, total, err
}

func (r *txRepo) ListReturnsForPO(ctx context.Context, poID int64) ([]PurchaseReturn, error) {
	return collectReturns(r.q.Query(ctx, `SELECT `+returnColumns+` FROM purchase_returns WHERE purchase_order_id = $1 ORDER BY id`, poID))
}

func (r *txRepo) ListReturnsForStockItem(ctx context.Context, stockItemID int64) ([]PurchaseReturn, error) {
	return collectReturns(r.q.Query(ctx, `SELECT `+returnColumns+` FROM purchase_returns WHERE stock_item_id = $1 ORDER BY id`, stockItemID))
}

func (r *txRepo) InsertReplacement(ctx context.Context, item ReplacementItem) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO replacement_items (purchase_return_id, quantity, batch_number, expiry_date, notes, created_stock_item_id, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		item.ReturnID, item.Quantity, item.BatchNumber, item.ExpiryDate, item.Notes, db.NullInt(item.CreatedStockItemID), item.ReceivedAt).Scan(&id)
	return id, err
}

func (r *txRepo) ListReplacements(ctx context.Context, returnID int64) ([]ReplacementItem, error) {
	rows, err := r.q.Query(ctx, `SELECT id, purchase_return_id, quantity, batch_number, expiry_date, notes, COALESCE(created_stock_item_id, 0), received_at
FROM replacement_items WHERE purchase_return_id = $1 ORDER BY id`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReplacementItem
	for rows.Next() {
		var item ReplacementItem
		if err := rows.Scan(&item.ID, &item.ReturnID, &item.Quantity, &item.BatchNumber, &item.ExpiryDate, &item.Notes, &item.CreatedStockItemID, &item.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertRefund(ctx context.Context, refund SupplierRefund) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO supplier_refunds (purchase_order_id, purchase_return_id, amount, refund_date, notes)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		db.NullInt(refund.PurchaseOrderID), db.NullInt(refund.ReturnID), refund.Amount, refund.RefundDate, refund.Notes).Scan(&id)
	return id, err
}

func (r *txRepo) ListRefunds(ctx context.Context, returnID int64) ([]SupplierRefund, error) {
	rows, err := r.q.Query(ctx, `SELECT id, COALESCE(purchase_order_id, 0), COALESCE(purchase_return_id, 0), amount, refund_date, notes
FROM supplier_refunds WHERE purchase_return_id = $1 ORDER BY refund_date, id`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SupplierRefund
	for rows.Next() {
		var refund SupplierRefund
		if err := rows.Scan(&refund.ID, &refund.PurchaseOrderID, &refund.ReturnID, &refund.Amount, &refund.RefundDate, &refund.Notes); err != nil {
			return nil, err
		}
		out = append(out, refund)
	}
	return out, rows.Err()
}

const creditColumns = `id, supplier_id, source_refund_id, initial_amount, balance, is_fully_used, notes, created_at`

func scanCredit(row pgx.Row) (SupplierCredit, error) {
	var c SupplierCredit
	err := row.Scan(&c.ID, &c.SupplierID, &c.SourceRefundID, &c.InitialAmount, &c.Balance, &c.IsFullyUsed, &c.Notes, &c.CreatedAt)
	return c, err
}

func (r *txRepo) InsertCredit(ctx context.Context, credit SupplierCredit) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO supplier_credits (supplier_id, source_refund_id, initial_amount, balance, is_fully_used, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		credit.SupplierID, credit.SourceRefundID, credit.InitialAmount, credit.Balance, credit.IsFullyUsed, credit.Notes, credit.CreatedAt).Scan(&id)
	return id, shared.TranslatePgError(err, "supplier credit")
}

func (r *txRepo) LockCredit(ctx context.Context, id int64) (SupplierCredit, error) {
	credit, err := scanCredit(r.q.QueryRow(ctx, `SELECT `+creditColumns+` FROM supplier_credits WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierCredit{}, shared.NotFound("supplier credit", id)
	}
	return credit, err
}

func (r *txRepo) UpdateCredit(ctx context.Context, credit SupplierCredit) error {
	_, err := r.q.Exec(ctx, `UPDATE supplier_credits SET balance = $2, is_fully_used = $3 WHERE id = $1`, credit.ID, credit.Balance, credit.IsFullyUsed)
	return err
}

func (r *txRepo) ListAvailableCredits(ctx context.Context, supplierID int64) ([]SupplierCredit, error) {
	rows, err := r.q.Query(ctx, `SELECT `+creditColumns+` FROM supplier_credits
WHERE supplier_id = $1 AND NOT is_fully_used ORDER BY created_at, id`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SupplierCredit
	for rows.Next() {
		credit, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, credit)
	}
	return out, rows.Err()
}
