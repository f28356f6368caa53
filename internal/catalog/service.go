package catalog

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// AuditPort records catalog changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages suppliers, products, variants and billable services.
type Service struct {
	repo  Repository
	audit AuditPort
}

// NewService constructs the catalog service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// ListSuppliers pages suppliers matching the filter.
func (s *Service) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, shared.Pagination, error) {
	filter.Limit, filter.Offset = shared.ClampPage(filter.Limit, filter.Offset)
	items, total, err := s.repo.ListSuppliers(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Limit, filter.Offset, total), nil
}

// GetSupplier loads one supplier.
func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

// CreateSupplier validates uniqueness of name, phone and email before inserting.
func (s *Service) CreateSupplier(ctx context.Context, actorID int64, supplier Supplier) (Supplier, error) {
	supplier.ID = 0
	supplier = normaliseSupplier(supplier)
	if err := s.validateSupplier(ctx, supplier); err != nil {
		return Supplier{}, err
	}
	id, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return Supplier{}, err
	}
	supplier.ID = id
	s.recordAudit(ctx, actorID, "SUPPLIER_CREATE", "supplier", id, map[string]any{"name": supplier.Name})
	return supplier, nil
}

// UpdateSupplier replaces the supplier's fields.
func (s *Service) UpdateSupplier(ctx context.Context, actorID int64, supplier Supplier) (Supplier, error) {
	if _, err := s.repo.GetSupplier(ctx, supplier.ID); err != nil {
		return Supplier{}, err
	}
	supplier = normaliseSupplier(supplier)
	if err := s.validateSupplier(ctx, supplier); err != nil {
		return Supplier{}, err
	}
	if err := s.repo.UpdateSupplier(ctx, supplier); err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, actorID, "SUPPLIER_UPDATE", "supplier", supplier.ID, map[string]any{"name": supplier.Name})
	return supplier, nil
}

// DeleteSupplier removes a supplier that nothing references.
func (s *Service) DeleteSupplier(ctx context.Context, actorID, id int64) error {
	if err := s.repo.DeleteSupplier(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "SUPPLIER_DELETE", "supplier", id, nil)
	return nil
}

func normaliseSupplier(supplier Supplier) Supplier {
	supplier.Name = strings.TrimSpace(supplier.Name)
	supplier.Phone = strings.TrimSpace(supplier.Phone)
	supplier.Email = strings.TrimSpace(supplier.Email)
	supplier.Address = strings.TrimSpace(supplier.Address)
	if supplier.Category == "" {
		supplier.Category = SupplierLocalShop
	}
	return supplier
}

func (s *Service) validateSupplier(ctx context.Context, supplier Supplier) error {
	if supplier.Name == "" {
		return shared.Invalid("name", "Supplier name is required.")
	}
	if !supplier.Category.Valid() {
		return shared.Invalid("category", "Unknown supplier category %q.", supplier.Category)
	}
	clashes, err := s.repo.FindSupplierClashes(ctx, supplier)
	if err != nil {
		return err
	}
	for _, other := range clashes {
		switch {
		case foldKey(other.Name) == foldKey(supplier.Name):
			return shared.Invalid("name", "A supplier named %s already exists.", other.Name)
		case supplier.Phone != "" && other.Phone == supplier.Phone:
			return shared.Invalid("phone", "This phone number is already in use by supplier: %s.", other.Name)
		case supplier.Email != "" && foldKey(other.Email) == foldKey(supplier.Email):
			return shared.Invalid("email", "This email address is already in use by supplier: %s.", other.Name)
		}
	}
	return nil
}

// CreateProduct inserts a product.
func (s *Service) CreateProduct(ctx context.Context, actorID int64, product Product) (Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return Product{}, shared.Invalid("name", "Product name is required.")
	}
	id, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return Product{}, err
	}
	product.ID = id
	s.recordAudit(ctx, actorID, "PRODUCT_CREATE", "product", id, map[string]any{"name": product.Name})
	return product, nil
}

// UpdateProduct replaces a product's fields. Variant names follow the new product name.
func (s *Service) UpdateProduct(ctx context.Context, actorID int64, product Product) (Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return Product{}, shared.Invalid("name", "Product name is required.")
	}
	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, actorID, "PRODUCT_UPDATE", "product", product.ID, map[string]any{"name": product.Name})
	return product, nil
}

// DeleteProduct removes a product and all its variants. Variants with batches or order
// lines block the delete.
func (s *Service) DeleteProduct(ctx context.Context, actorID, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "PRODUCT_DELETE", "product", id, nil)
	return nil
}

// ListProducts pages products by name.
func (s *Service) ListProducts(ctx context.Context, filter ListFilter) ([]ProductSummary, shared.Pagination, error) {
	filter.Limit, filter.Offset = shared.ClampPage(filter.Limit, filter.Offset)
	items, total, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Limit, filter.Offset, total), nil
}

// GetProduct loads one product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// CreateVariant adds a stockable variant under an existing product.
func (s *Service) CreateVariant(ctx context.Context, actorID int64, variant Variant) (Variant, error) {
	product, err := s.repo.GetProduct(ctx, variant.ProductID)
	if err != nil {
		return Variant{}, err
	}
	if err := validateVariant(variant); err != nil {
		return Variant{}, err
	}
	id, err := s.repo.CreateVariant(ctx, variant)
	if err != nil {
		return Variant{}, err
	}
	variant.ID = id
	variant.ProductName = product.Name
	s.recordAudit(ctx, actorID, "VARIANT_CREATE", "variant", id, map[string]any{"name": variant.Name()})
	return variant, nil
}

// UpdateVariant replaces price, threshold and labels of a variant.
func (s *Service) UpdateVariant(ctx context.Context, actorID int64, variant Variant) (Variant, error) {
	current, err := s.repo.GetVariant(ctx, variant.ID)
	if err != nil {
		return Variant{}, err
	}
	if err := validateVariant(variant); err != nil {
		return Variant{}, err
	}
	variant.ProductID = current.ProductID
	variant.ProductName = current.ProductName
	if err := s.repo.UpdateVariant(ctx, variant); err != nil {
		return Variant{}, err
	}
	s.recordAudit(ctx, actorID, "VARIANT_UPDATE", "variant", variant.ID, map[string]any{"price": variant.Price.String()})
	return variant, nil
}

// DeleteVariant removes a variant with no batches or order lines.
func (s *Service) DeleteVariant(ctx context.Context, actorID, id int64) error {
	if err := s.repo.DeleteVariant(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "VARIANT_DELETE", "variant", id, nil)
	return nil
}

// GetVariant loads one variant with its product name.
func (s *Service) GetVariant(ctx context.Context, id int64) (Variant, error) {
	return s.repo.GetVariant(ctx, id)
}

func validateVariant(variant Variant) error {
	if variant.Price.IsNegative() {
		return shared.Invalid("price", "Price cannot be negative.")
	}
	if variant.LowStockThreshold < 0 {
		return shared.Invalid("low_stock_threshold", "Low stock threshold cannot be negative.")
	}
	return nil
}

// CreateService adds a billable service.
func (s *Service) CreateService(ctx context.Context, actorID int64, service BillableService) (BillableService, error) {
	if err := validateService(&service); err != nil {
		return BillableService{}, err
	}
	id, err := s.repo.CreateService(ctx, service)
	if err != nil {
		return BillableService{}, err
	}
	service.ID = id
	s.recordAudit(ctx, actorID, "SERVICE_CREATE", "service", id, map[string]any{"name": service.Name})
	return service, nil
}

// UpdateService replaces a billable service.
func (s *Service) UpdateService(ctx context.Context, actorID int64, service BillableService) (BillableService, error) {
	if err := validateService(&service); err != nil {
		return BillableService{}, err
	}
	if err := s.repo.UpdateService(ctx, service); err != nil {
		return BillableService{}, err
	}
	s.recordAudit(ctx, actorID, "SERVICE_UPDATE", "service", service.ID, map[string]any{"price": service.Price.String()})
	return service, nil
}

// DeleteService removes a service no invoice line references.
func (s *Service) DeleteService(ctx context.Context, actorID, id int64) error {
	if err := s.repo.DeleteService(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "SERVICE_DELETE", "service", id, nil)
	return nil
}

// GetService loads one billable service.
func (s *Service) GetService(ctx context.Context, id int64) (BillableService, error) {
	return s.repo.GetService(ctx, id)
}

// ListServices returns services, optionally only active ones.
func (s *Service) ListServices(ctx context.Context, activeOnly bool) ([]BillableService, error) {
	return s.repo.ListServices(ctx, activeOnly)
}

func validateService(service *BillableService) error {
	service.Name = strings.TrimSpace(service.Name)
	if service.Name == "" {
		return shared.Invalid("name", "Service name is required.")
	}
	if service.Price.LessThan(decimal.Zero) {
		return shared.Invalid("price", "Price cannot be negative.")
	}
	return nil
}

// StockLevel reports the available quantity of a variant and whether it is low.
func (s *Service) StockLevel(ctx context.Context, variantID int64) (StockLevel, error) {
	levels, err := s.repo.StockLevels(ctx, []int64{variantID})
	if err != nil {
		return StockLevel{}, err
	}
	if len(levels) == 0 {
		return StockLevel{}, shared.NotFound("variant", variantID)
	}
	return levels[0], nil
}

// LowStockReport lists active variants at or below their threshold, largest shortfall first.
func (s *Service) LowStockReport(ctx context.Context) ([]StockLevel, error) {
	levels, err := s.repo.StockLevels(ctx, nil)
	if err != nil {
		return nil, err
	}
	return lowStockOnly(levels), nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditEntry(actorID, action, entity, id, meta))
}
