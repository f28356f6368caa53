package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

// TxRepository exposes the statements of one billing command. The invoice header is
// locked before any line, payment or stock projection is touched.
type TxRepository interface {
	LockLastInvoiceNumber(ctx context.Context, prefix string) (string, error)
	FindByAppointment(ctx context.Context, appointmentID int64) (Invoice, bool, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateInvoiceHeader(ctx context.Context, inv Invoice) error
	UpdateInvoiceTotals(ctx context.Context, id int64, total decimal.Decimal, status Status) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	DeleteInvoice(ctx context.Context, id int64) error
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error)
	ListItems(ctx context.Context, invoiceID int64) ([]Item, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, id int64) error
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	InsertRefund(ctx context.Context, refund Refund) (int64, error)
	ListRefunds(ctx context.Context, invoiceID int64) ([]Refund, error)
	ServiceTerms(ctx context.Context, serviceID int64) (ServiceTerms, error)
	Stock() inventory.TxRepository
}

type txRepo struct {
	q     db.Querier
	stock inventory.TxRepository
}

// NewTxRepository binds billing statements to q.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepo{q: q, stock: inventory.NewTxRepository(q)}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

func (r *txRepo) Stock() inventory.TxRepository {
	return r.stock
}

// LockLastInvoiceNumber serialises numbering for one day through its invoice_sequences row.
// A concurrent creator that committed first makes the upsert fail with 40001 and
// db.WithTx reruns the transaction against a snapshot holding the new number.
func (r *txRepo) LockLastInvoiceNumber(ctx context.Context, prefix string) (string, error) {
	if _, err := r.q.Exec(ctx, `INSERT INTO invoice_sequences (prefix) VALUES ($1)
ON CONFLICT (prefix) DO UPDATE SET touched_at = NOW()`, prefix); err != nil {
		return "", err
	}
	var last string
	err := r.q.QueryRow(ctx, `SELECT invoice_number FROM invoices
WHERE invoice_number LIKE $1 || '%'
ORDER BY invoice_number DESC
LIMIT 1`, prefix).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return last, err
}

const invoiceColumns = `id, invoice_number, patient_id, COALESCE(doctor_id, 0), COALESCE(appointment_id, 0),
    invoice_date, due_date, status, total_amount, discount, notes, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.PatientID, &inv.DoctorID, &inv.AppointmentID,
		&inv.InvoiceDate, &inv.DueDate, &inv.Status, &inv.TotalAmount, &inv.Discount, &inv.Notes, &inv.CreatedAt)
	return inv, err
}

func (r *txRepo) FindByAppointment(ctx context.Context, appointmentID int64) (Invoice, bool, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE appointment_id = $1`, appointmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, false, nil
	}
	if err != nil {
		return Invoice{}, false, err
	}
	return inv, true, nil
}

func (r *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO invoices (invoice_number, patient_id, doctor_id, appointment_id, invoice_date, due_date, status, total_amount, discount, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		inv.Number, inv.PatientID, db.NullInt(inv.DoctorID), db.NullInt(inv.AppointmentID), inv.InvoiceDate, inv.DueDate,
		inv.Status, inv.TotalAmount, inv.Discount, inv.Notes).Scan(&id)
	if err != nil {
		return 0, shared.TranslatePgError(err, "invoice")
	}
	return id, nil
}

func (r *txRepo) UpdateInvoiceHeader(ctx context.Context, inv Invoice) error {
	_, err := r.q.Exec(ctx, `UPDATE invoices SET patient_id = $2, doctor_id = $3, appointment_id = $4, invoice_date = $5,
    due_date = $6, discount = $7, notes = $8 WHERE id = $1`,
		inv.ID, inv.PatientID, db.NullInt(inv.DoctorID), db.NullInt(inv.AppointmentID), inv.InvoiceDate, inv.DueDate, inv.Discount, inv.Notes)
	return shared.TranslatePgError(err, "invoice")
}

func (r *txRepo) UpdateInvoiceTotals(ctx context.Context, id int64, total decimal.Decimal, status Status) error {
	_, err := r.q.Exec(ctx, `UPDATE invoices SET total_amount = $2, status = $3 WHERE id = $1`, id, total, status)
	return err
}

func (r *txRepo) getInvoice(ctx context.Context, id int64, lock bool) (Invoice, error) {
	if lock {
		found, err := db.LockRow(ctx, r.q, "invoices", id)
		if err != nil {
			return Invoice{}, err
		}
		if !found {
			return Invoice{}, shared.NotFound("invoice", id)
		}
	}
	inv, err := scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, shared.NotFound("invoice", id)
	}
	return inv, err
}

func (r *txRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return r.getInvoice(ctx, id, false)
}

func (r *txRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return r.getInvoice(ctx, id, true)
}

func (r *txRepo) DeleteInvoice(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	return shared.TranslatePgError(err, "invoice")
}

func (r *txRepo) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.PatientID != 0 {
		args = append(args, filter.PatientID)
		conds = append(conds, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.q.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices`+where+
		fmt.Sprintf(` ORDER BY invoice_date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func (r *txRepo) ListItems(ctx context.Context, invoiceID int64) ([]Item, error) {
	rows, err := r.q.Query(ctx, `SELECT ii.id, ii.invoice_id, COALESCE(ii.service_id, 0), COALESCE(ii.stock_item_id, 0),
    ii.description, ii.quantity, COALESCE(ii.unit_price, 0), ii.discount,
    COALESCE(s.name, ''),
    COALESCE(concat_ws(' - ', p.name, NULLIF(v.brand, ''), NULLIF(v.description, '')), '')
FROM invoice_items ii
LEFT JOIN services s ON s.id = ii.service_id
LEFT JOIN stock_items si ON si.id = ii.stock_item_id
LEFT JOIN product_variants v ON v.id = si.product_variant_id
LEFT JOIN products p ON p.id = v.product_id
WHERE ii.invoice_id = $1
ORDER BY ii.id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.ServiceID, &item.StockItemID, &item.Description, &item.Quantity,
			&item.UnitPrice, &item.Discount, &item.ServiceName, &item.VariantName); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO invoice_items (invoice_id, service_id, stock_item_id, description, quantity, unit_price, discount)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		item.InvoiceID, db.NullInt(item.ServiceID), db.NullInt(item.StockItemID), item.Description, item.Quantity, item.UnitPrice, item.Discount).Scan(&id)
	if err != nil {
		return 0, shared.TranslatePgError(err, "invoice item")
	}
	return id, nil
}

func (r *txRepo) UpdateItem(ctx context.Context, item Item) error {
	_, err := r.q.Exec(ctx, `UPDATE invoice_items SET service_id = $2, stock_item_id = $3, description = $4, quantity = $5,
    unit_price = $6, discount = $7 WHERE id = $1`,
		item.ID, db.NullInt(item.ServiceID), db.NullInt(item.StockItemID), item.Description, item.Quantity, item.UnitPrice, item.Discount)
	return shared.TranslatePgError(err, "invoice item")
}

func (r *txRepo) DeleteItem(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM invoice_items WHERE id = $1`, id)
	return err
}

func (r *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO invoice_payments (invoice_id, amount, payment_date, method, reference, notes)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, p.InvoiceID, p.Amount, p.PaymentDate, p.Method, p.Reference, p.Notes).Scan(&id)
	return id, err
}

func (r *txRepo) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.q.Query(ctx, `SELECT id, invoice_id, amount, method, payment_date, reference, notes
FROM invoice_payments WHERE invoice_id = $1 ORDER BY payment_date, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.PaymentDate, &p.Reference, &p.Notes); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertRefund(ctx context.Context, refund Refund) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO invoice_refunds (invoice_id, amount, refund_date, method, reason)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, refund.InvoiceID, refund.Amount, refund.RefundDate, refund.Method, refund.Reason).Scan(&id)
	return id, err
}

func (r *txRepo) ListRefunds(ctx context.Context, invoiceID int64) ([]Refund, error) {
	rows, err := r.q.Query(ctx, `SELECT id, invoice_id, amount, method, refund_date, reason
FROM invoice_refunds WHERE invoice_id = $1 ORDER BY refund_date, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Refund
	for rows.Next() {
		var refund Refund
		if err := rows.Scan(&refund.ID, &refund.InvoiceID, &refund.Amount, &refund.Method, &refund.RefundDate, &refund.Reason); err != nil {
			return nil, err
		}
		out = append(out, refund)
	}
	return out, rows.Err()
}

func (r *txRepo) ServiceTerms(ctx context.Context, serviceID int64) (ServiceTerms, error) {
	var terms ServiceTerms
	err := r.q.QueryRow(ctx, `SELECT id, name, price, is_active FROM services WHERE id = $1`, serviceID).
		Scan(&terms.ID, &terms.Name, &terms.Price, &terms.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return ServiceTerms{}, shared.NotFound("service", serviceID)
	}
	return terms, err
}
