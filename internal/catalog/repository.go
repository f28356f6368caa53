package catalog

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

// Repository persists catalog reference data.
type Repository interface {
	CreateSupplier(ctx context.Context, supplier Supplier) (int64, error)
	UpdateSupplier(ctx context.Context, supplier Supplier) error
	DeleteSupplier(ctx context.Context, id int64) error
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, int, error)
	FindSupplierClashes(ctx context.Context, supplier Supplier) ([]Supplier, error)

	CreateProduct(ctx context.Context, product Product) (int64, error)
	UpdateProduct(ctx context.Context, product Product) error
	// DeleteProduct removes the product together with its variants.
	DeleteProduct(ctx context.Context, id int64) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ListFilter) ([]ProductSummary, int, error)

	CreateVariant(ctx context.Context, variant Variant) (int64, error)
	UpdateVariant(ctx context.Context, variant Variant) error
	DeleteVariant(ctx context.Context, id int64) error
	GetVariant(ctx context.Context, id int64) (Variant, error)

	CreateService(ctx context.Context, service BillableService) (int64, error)
	UpdateService(ctx context.Context, service BillableService) error
	DeleteService(ctx context.Context, id int64) error
	GetService(ctx context.Context, id int64) (BillableService, error)
	ListServices(ctx context.Context, activeOnly bool) ([]BillableService, error)

	// StockLevels returns levels for the given variants, or for every variant when ids is empty.
	StockLevels(ctx context.Context, ids []int64) ([]StockLevel, error)
}

// PGRepository implements Repository with pgx.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a pgx backed catalog repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func nullableText(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func (r *PGRepository) CreateSupplier(ctx context.Context, s Supplier) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO suppliers (name, name_key, category, phone, email, email_key, address)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		s.Name, foldKey(s.Name), s.Category, s.Phone, nullableText(s.Email), nullableText(foldKey(s.Email)), s.Address).Scan(&id)
	if err != nil {
		return 0, shared.TranslatePgError(err, "supplier")
	}
	return id, nil
}

func (r *PGRepository) UpdateSupplier(ctx context.Context, s Supplier) error {
	tag, err := r.pool.Exec(ctx, `UPDATE suppliers SET name=$2, name_key=$3, category=$4, phone=$5, email=$6, email_key=$7, address=$8
WHERE id=$1`, s.ID, s.Name, foldKey(s.Name), s.Category, s.Phone, nullableText(s.Email), nullableText(foldKey(s.Email)), s.Address)
	if err != nil {
		return shared.TranslatePgError(err, "supplier")
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("supplier", s.ID)
	}
	return nil
}

func (r *PGRepository) DeleteSupplier(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM suppliers WHERE id=$1`, id)
	if err != nil {
		return shared.TranslatePgError(err, "supplier")
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("supplier", id)
	}
	return nil
}

const supplierColumns = `id, name, category, phone, COALESCE(email,''), address`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Name, &s.Category, &s.Phone, &s.Email, &s.Address)
	return s, err
}

func (r *PGRepository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	s, err := scanSupplier(r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, shared.NotFound("supplier", id)
	}
	return s, err
}

func (r *PGRepository) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, int, error) {
	where := ""
	args := []any{}
	if q := strings.TrimSpace(filter.Search); q != "" {
		args = append(args, "%"+foldKey(q)+"%")
		where = " WHERE name_key LIKE $1 OR phone LIKE $1 OR email_key LIKE $1"
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM suppliers%s ORDER BY name LIMIT $%d OFFSET $%d`, supplierColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *PGRepository) FindSupplierClashes(ctx context.Context, s Supplier) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers
WHERE id <> $1 AND (name_key = $2 OR ($3 <> '' AND phone = $3) OR ($4 <> '' AND email_key = $4))
ORDER BY id`, s.ID, foldKey(s.Name), s.Phone, foldKey(s.Email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Supplier
	for rows.Next() {
		found, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, found)
	}
	return out, rows.Err()
}

func (r *PGRepository) CreateProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO products (name, category, description, requires_expiry_tracking, is_stockable)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, p.Name, p.Category, p.Description, p.RequiresExpiryTracking, p.IsStockable).Scan(&id)
	return id, err
}

func (r *PGRepository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, name, category, description, requires_expiry_tracking, is_stockable
FROM products WHERE id=$1`, id).Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.RequiresExpiryTracking, &p.IsStockable)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.NotFound("product", id)
	}
	return p, err
}

func (r *PGRepository) UpdateProduct(ctx context.Context, p Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET name=$2, category=$3, description=$4, requires_expiry_tracking=$5, is_stockable=$6
WHERE id=$1`, p.ID, p.Name, p.Category, p.Description, p.RequiresExpiryTracking, p.IsStockable)
	if err != nil {
		return shared.TranslatePgError(err, "product")
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("product", p.ID)
	}
	return nil
}

func (r *PGRepository) DeleteProduct(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM product_variants WHERE product_id=$1`, id); err != nil {
			return shared.TranslatePgError(err, "product")
		}
		tag, err := tx.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
		if err != nil {
			return shared.TranslatePgError(err, "product")
		}
		if tag.RowsAffected() == 0 {
			return shared.NotFound("product", id)
		}
		return nil
	})
}

func (r *PGRepository) ListProducts(ctx context.Context, filter ListFilter) ([]ProductSummary, int, error) {
	where := ""
	args := []any{}
	if q := strings.TrimSpace(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		where = " WHERE p.name ILIKE $1 OR p.category ILIKE $1"
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products p`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	sql := fmt.Sprintf(`SELECT p.id, p.name, p.category, p.description, p.requires_expiry_tracking, p.is_stockable,
    (SELECT COUNT(*) FROM product_variants v WHERE v.product_id = p.id)
FROM products p%s ORDER BY p.name, p.id LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []ProductSummary
	for rows.Next() {
		var p ProductSummary
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.RequiresExpiryTracking, &p.IsStockable, &p.VariantCount); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *PGRepository) CreateVariant(ctx context.Context, v Variant) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO product_variants (product_id, brand, sku, description, price, low_stock_threshold, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		v.ProductID, v.Brand, nullableText(v.SKU), v.Description, v.Price, v.LowStockThreshold, v.IsActive).Scan(&id)
	if err != nil {
		return 0, shared.TranslatePgError(err, "variant")
	}
	return id, nil
}

func (r *PGRepository) UpdateVariant(ctx context.Context, v Variant) error {
	tag, err := r.pool.Exec(ctx, `UPDATE product_variants SET brand=$2, sku=$3, description=$4, price=$5, low_stock_threshold=$6, is_active=$7
WHERE id=$1`, v.ID, v.Brand, nullableText(v.SKU), v.Description, v.Price, v.LowStockThreshold, v.IsActive)
	if err != nil {
		return shared.TranslatePgError(err, "variant")
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("variant", v.ID)
	}
	return nil
}

func (r *PGRepository) DeleteVariant(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM product_variants WHERE id=$1`, id)
	if err != nil {
		return shared.TranslatePgError(err, "variant")
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("variant", id)
	}
	return nil
}

func (r *PGRepository) GetVariant(ctx context.Context, id int64) (Variant, error) {
	var v Variant
	err := r.pool.QueryRow(ctx, `SELECT v.id, v.product_id, p.name, v.brand, COALESCE(v.sku,''), v.description, v.price, v.low_stock_threshold, v.is_active
FROM product_variants v JOIN products p ON p.id = v.product_id WHERE v.id=$1`, id).
		Scan(&v.ID, &v.ProductID, &v.ProductName, &v.Brand, &v.SKU, &v.Description, &v.Price, &v.LowStockThreshold, &v.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, shared.NotFound("variant", id)
	}
	return v, err
}

func (r *PGRepository) CreateService(ctx context.Context, s BillableService) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO services (name, description, price, is_active) VALUES ($1,$2,$3,$4) RETURNING id`,
		s.Name, s.Description, s.Price, s.IsActive).Scan(&id)
	if err != nil {
		return 0, shared.TranslatePgError(err, "service")
	}
	return id, nil
}

func (r *PGRepository) UpdateService(ctx context.Context, s BillableService) error {
	tag, err := r.pool.Exec(ctx, `UPDATE services SET name=$2, description=$3, price=$4, is_active=$5 WHERE id=$1`,
		s.ID, s.Name, s.Description, s.Price, s.IsActive)
	if err != nil {
		return shared.TranslatePgError(err, "service")
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("service", s.ID)
	}
	return nil
}

func (r *PGRepository) DeleteService(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM services WHERE id=$1`, id)
	if err != nil {
		return shared.TranslatePgError(err, "service")
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("service", id)
	}
	return nil
}

func (r *PGRepository) GetService(ctx context.Context, id int64) (BillableService, error) {
	var s BillableService
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, price, is_active FROM services WHERE id=$1`, id).
		Scan(&s.ID, &s.Name, &s.Description, &s.Price, &s.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return BillableService{}, shared.NotFound("service", id)
	}
	return s, err
}

func (r *PGRepository) ListServices(ctx context.Context, activeOnly bool) ([]BillableService, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, price, is_active FROM services
WHERE NOT $1 OR is_active ORDER BY name`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BillableService
	for rows.Next() {
		var s BillableService
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Price, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// availableBySQL sums quantity_available over every batch of variant v.
const availableBySQL = `COALESCE((SELECT SUM(si.quantity
    - COALESCE((SELECT SUM(t.quantity) FROM stock_item_transactions t WHERE t.stock_item_id = si.id), 0)
    - COALESCE((SELECT SUM(pr.quantity) FROM purchase_returns pr WHERE pr.stock_item_id = si.id), 0))
  FROM stock_items si WHERE si.product_variant_id = v.id), 0)`

func (r *PGRepository) StockLevels(ctx context.Context, ids []int64) ([]StockLevel, error) {
	if ids == nil {
		ids = []int64{}
	}
	rows, err := r.pool.Query(ctx, `SELECT v.id, p.name, v.brand, v.description, `+availableBySQL+`::int, v.low_stock_threshold, v.is_active
FROM product_variants v JOIN products p ON p.id = v.product_id
WHERE cardinality($1::bigint[]) = 0 OR v.id = ANY($1)
ORDER BY v.id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockLevel
	for rows.Next() {
		var (
			id                   int64
			product, brand, desc string
			qty, threshold       int
			active               bool
		)
		if err := rows.Scan(&id, &product, &brand, &desc, &qty, &threshold, &active); err != nil {
			return nil, err
		}
		out = append(out, newStockLevel(id, VariantName(product, brand, desc), qty, threshold, active))
	}
	return out, rows.Err()
}
