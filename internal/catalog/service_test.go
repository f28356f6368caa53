package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

type memoryCatalogRepo struct {
	suppliers map[int64]Supplier
	products  map[int64]Product
	variants  map[int64]Variant
	services  map[int64]BillableService
	stock     map[int64]int
	billed    map[int64]bool
	nextID    int64
}

func newMemoryCatalogRepo() *memoryCatalogRepo {
	return &memoryCatalogRepo{
		suppliers: make(map[int64]Supplier),
		products:  make(map[int64]Product),
		variants:  make(map[int64]Variant),
		services:  make(map[int64]BillableService),
		stock:     make(map[int64]int),
		billed:    make(map[int64]bool),
	}
}

func (r *memoryCatalogRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryCatalogRepo) CreateSupplier(ctx context.Context, s Supplier) (int64, error) {
	s.ID = r.id()
	r.suppliers[s.ID] = s
	return s.ID, nil
}

func (r *memoryCatalogRepo) UpdateSupplier(ctx context.Context, s Supplier) error {
	if _, ok := r.suppliers[s.ID]; !ok {
		return shared.NotFound("supplier", s.ID)
	}
	r.suppliers[s.ID] = s
	return nil
}

func (r *memoryCatalogRepo) DeleteSupplier(ctx context.Context, id int64) error {
	if _, ok := r.suppliers[id]; !ok {
		return shared.NotFound("supplier", id)
	}
	delete(r.suppliers, id)
	return nil
}

func (r *memoryCatalogRepo) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	s, ok := r.suppliers[id]
	if !ok {
		return Supplier{}, shared.NotFound("supplier", id)
	}
	return s, nil
}

func (r *memoryCatalogRepo) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, int, error) {
	var out []Supplier
	for _, s := range r.suppliers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (r *memoryCatalogRepo) FindSupplierClashes(ctx context.Context, s Supplier) ([]Supplier, error) {
	var out []Supplier
	for _, other := range r.suppliers {
		if other.ID == s.ID {
			continue
		}
		if foldKey(other.Name) == foldKey(s.Name) ||
			(s.Phone != "" && other.Phone == s.Phone) ||
			(s.Email != "" && foldKey(other.Email) == foldKey(s.Email)) {
			out = append(out, other)
		}
	}
	return out, nil
}

func (r *memoryCatalogRepo) CreateProduct(ctx context.Context, p Product) (int64, error) {
	p.ID = r.id()
	r.products[p.ID] = p
	return p.ID, nil
}

func (r *memoryCatalogRepo) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok {
		return Product{}, shared.NotFound("product", id)
	}
	return p, nil
}

func (r *memoryCatalogRepo) UpdateProduct(ctx context.Context, p Product) error {
	if _, ok := r.products[p.ID]; !ok {
		return shared.NotFound("product", p.ID)
	}
	r.products[p.ID] = p
	for id, v := range r.variants {
		if v.ProductID == p.ID {
			v.ProductName = p.Name
			r.variants[id] = v
		}
	}
	return nil
}

func (r *memoryCatalogRepo) DeleteProduct(ctx context.Context, id int64) error {
	if _, ok := r.products[id]; !ok {
		return shared.NotFound("product", id)
	}
	for vid, v := range r.variants {
		if v.ProductID == id && r.stock[vid] > 0 {
			return &shared.IntegrityError{Entity: "product"}
		}
	}
	for vid, v := range r.variants {
		if v.ProductID == id {
			delete(r.variants, vid)
		}
	}
	delete(r.products, id)
	return nil
}

func (r *memoryCatalogRepo) ListProducts(ctx context.Context, filter ListFilter) ([]ProductSummary, int, error) {
	var out []ProductSummary
	for _, p := range r.products {
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		row := ProductSummary{Product: p}
		for _, v := range r.variants {
			if v.ProductID == p.ID {
				row.VariantCount++
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
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

func (r *memoryCatalogRepo) CreateVariant(ctx context.Context, v Variant) (int64, error) {
	v.ID = r.id()
	v.ProductName = r.products[v.ProductID].Name
	r.variants[v.ID] = v
	return v.ID, nil
}

func (r *memoryCatalogRepo) UpdateVariant(ctx context.Context, v Variant) error {
	r.variants[v.ID] = v
	return nil
}

func (r *memoryCatalogRepo) DeleteVariant(ctx context.Context, id int64) error {
	if r.stock[id] > 0 {
		return &shared.IntegrityError{Entity: "variant"}
	}
	delete(r.variants, id)
	return nil
}

func (r *memoryCatalogRepo) GetVariant(ctx context.Context, id int64) (Variant, error) {
	v, ok := r.variants[id]
	if !ok {
		return Variant{}, shared.NotFound("variant", id)
	}
	return v, nil
}

func (r *memoryCatalogRepo) CreateService(ctx context.Context, s BillableService) (int64, error) {
	s.ID = r.id()
	r.services[s.ID] = s
	return s.ID, nil
}

func (r *memoryCatalogRepo) UpdateService(ctx context.Context, s BillableService) error {
	if _, ok := r.services[s.ID]; !ok {
		return shared.NotFound("service", s.ID)
	}
	r.services[s.ID] = s
	return nil
}

func (r *memoryCatalogRepo) DeleteService(ctx context.Context, id int64) error {
	if _, ok := r.services[id]; !ok {
		return shared.NotFound("service", id)
	}
	if r.billed[id] {
		return &shared.IntegrityError{Entity: "service"}
	}
	delete(r.services, id)
	return nil
}

func (r *memoryCatalogRepo) GetService(ctx context.Context, id int64) (BillableService, error) {
	s, ok := r.services[id]
	if !ok {
		return BillableService{}, shared.NotFound("service", id)
	}
	return s, nil
}

func (r *memoryCatalogRepo) ListServices(ctx context.Context, activeOnly bool) ([]BillableService, error) {
	var out []BillableService
	for _, s := range r.services {
		if activeOnly && !s.IsActive {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *memoryCatalogRepo) StockLevels(ctx context.Context, ids []int64) ([]StockLevel, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []StockLevel
	for id, v := range r.variants {
		if len(ids) > 0 && !want[id] {
			continue
		}
		out = append(out, newStockLevel(id, v.Name(), r.stock[id], v.LowStockThreshold, v.IsActive))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestCreateSupplierRejectsDuplicates(t *testing.T) {
	repo := newMemoryCatalogRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, audit)
	ctx := context.Background()

	first, err := svc.CreateSupplier(ctx, 7, Supplier{Name: "  Apex Dental ", Phone: "555-0100", Email: "sales@apex.test"})
	require.NoError(t, err)
	require.Equal(t, "Apex Dental", first.Name)
	require.Equal(t, SupplierLocalShop, first.Category)
	require.Len(t, audit.logs, 1)
	require.Equal(t, int64(7), audit.logs[0].ActorID)

	_, err = svc.CreateSupplier(ctx, 7, Supplier{Name: "APEX DENTAL"})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "name", verr.Field)

	_, err = svc.CreateSupplier(ctx, 7, Supplier{Name: "Other", Phone: "555-0100"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "This phone number is already in use by supplier: Apex Dental.", verr.Message)

	_, err = svc.CreateSupplier(ctx, 7, Supplier{Name: "Third", Email: "SALES@apex.test"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "email", verr.Field)

	_, err = svc.CreateSupplier(ctx, 7, Supplier{Name: "Fourth", Category: "GROCER"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "category", verr.Field)
}

func TestUpdateSupplierKeepsOwnValues(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	created, err := svc.CreateSupplier(ctx, 1, Supplier{Name: "Apex", Phone: "1", Email: "a@apex.test", Category: SupplierPharmaceutical})
	require.NoError(t, err)

	created.Address = "Main street"
	updated, err := svc.UpdateSupplier(ctx, 1, created)
	require.NoError(t, err)
	require.Equal(t, "Main street", updated.Address)

	_, err = svc.UpdateSupplier(ctx, 1, Supplier{ID: 99, Name: "Ghost"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestVariantNameJoinsNonEmptyParts(t *testing.T) {
	require.Equal(t, "Gloves - Acme - Large", VariantName("Gloves", "Acme", "Large"))
	require.Equal(t, "Gloves - Large", VariantName("Gloves", "", "Large"))
	require.Equal(t, "Gloves", VariantName("Gloves", " ", ""))
}

func TestCreateVariantRequiresProduct(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.CreateVariant(ctx, 1, Variant{ProductID: 42, Price: decimal.NewFromInt(5)})
	require.ErrorIs(t, err, shared.ErrNotFound)

	product, err := svc.CreateProduct(ctx, 1, Product{Name: "Composite", RequiresExpiryTracking: true, IsStockable: true})
	require.NoError(t, err)

	_, err = svc.CreateVariant(ctx, 1, Variant{ProductID: product.ID, Price: decimal.NewFromInt(-1)})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	variant, err := svc.CreateVariant(ctx, 1, Variant{ProductID: product.ID, Brand: "3M", Price: decimal.RequireFromString("12.50"), LowStockThreshold: 10, IsActive: true})
	require.NoError(t, err)
	require.Equal(t, "Composite - 3M", variant.Name())
}

func TestDeleteVariantSurfacesIntegrityError(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	product, err := svc.CreateProduct(ctx, 1, Product{Name: "Floss"})
	require.NoError(t, err)
	variant, err := svc.CreateVariant(ctx, 1, Variant{ProductID: product.ID, IsActive: true})
	require.NoError(t, err)
	repo.stock[variant.ID] = 3

	err = svc.DeleteVariant(ctx, 1, variant.ID)
	var ierr *shared.IntegrityError
	require.True(t, errors.As(err, &ierr))
	require.Equal(t, "Cannot delete variant, it is referenced elsewhere.", shared.UserSafeMessage(err))
}

func TestStockLevelAndLowStockReport(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	product, err := svc.CreateProduct(ctx, 1, Product{Name: "Gauze"})
	require.NoError(t, err)

	mk := func(brand string, threshold, stock int, active bool) Variant {
		v, err := svc.CreateVariant(ctx, 1, Variant{ProductID: product.ID, Brand: brand, LowStockThreshold: threshold, IsActive: active})
		require.NoError(t, err)
		repo.stock[v.ID] = stock
		return v
	}
	atThreshold := mk("A", 10, 10, true)
	mk("B", 10, 11, true)
	deepShort := mk("C", 20, 2, true)
	mk("D", 10, 0, false)

	level, err := svc.StockLevel(ctx, atThreshold.ID)
	require.NoError(t, err)
	require.True(t, level.IsLow)
	require.Equal(t, 10, level.StockQuantity)

	_, err = svc.StockLevel(ctx, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)

	report, err := svc.LowStockReport(ctx)
	require.NoError(t, err)
	require.Len(t, report, 2)
	require.Equal(t, deepShort.ID, report[0].VariantID)
	require.Equal(t, 18, report[0].Shortfall())
	require.Equal(t, atThreshold.ID, report[1].VariantID)
}

func TestServicesValidation(t *testing.T) {
	svc := NewService(newMemoryCatalogRepo(), nil)
	ctx := context.Background()

	_, err := svc.CreateService(ctx, 1, BillableService{Name: " "})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	cleaning, err := svc.CreateService(ctx, 1, BillableService{Name: "Cleaning", Price: decimal.NewFromInt(40), IsActive: true})
	require.NoError(t, err)
	_, err = svc.CreateService(ctx, 1, BillableService{Name: "Legacy", Price: decimal.NewFromInt(10)})
	require.NoError(t, err)

	active, err := svc.ListServices(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, cleaning.ID, active[0].ID)
}

func TestProductListUpdateAndDelete(t *testing.T) {
	repo := newMemoryCatalogRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, audit)
	ctx := context.Background()

	gauze, err := svc.CreateProduct(ctx, 1, Product{Name: "Gauze"})
	require.NoError(t, err)
	_, err = svc.CreateProduct(ctx, 1, Product{Name: "Anesthetic"})
	require.NoError(t, err)
	variant, err := svc.CreateVariant(ctx, 1, Variant{ProductID: gauze.ID, Brand: "Hu-Friedy", IsActive: true})
	require.NoError(t, err)

	rows, page, err := svc.ListProducts(ctx, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Equal(t, "Anesthetic", rows[0].Name)
	require.Equal(t, 1, rows[1].VariantCount)

	rows, _, err = svc.ListProducts(ctx, ListFilter{Search: "gau"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = svc.UpdateProduct(ctx, 1, Product{ID: gauze.ID, Name: "  "})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	_, err = svc.UpdateProduct(ctx, 1, Product{ID: 999, Name: "Ghost"})
	require.ErrorIs(t, err, shared.ErrNotFound)

	updated, err := svc.UpdateProduct(ctx, 1, Product{ID: gauze.ID, Name: " Sterile Gauze "})
	require.NoError(t, err)
	require.Equal(t, "Sterile Gauze", updated.Name)
	got, err := svc.GetVariant(ctx, variant.ID)
	require.NoError(t, err)
	require.Equal(t, "Sterile Gauze - Hu-Friedy", got.Name())

	repo.stock[variant.ID] = 4
	err = svc.DeleteProduct(ctx, 1, gauze.ID)
	require.Equal(t, "Cannot delete product, it is referenced elsewhere.", shared.UserSafeMessage(err))

	repo.stock[variant.ID] = 0
	require.NoError(t, svc.DeleteProduct(ctx, 1, gauze.ID))
	_, err = svc.GetVariant(ctx, variant.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, "PRODUCT_DELETE", audit.logs[len(audit.logs)-1].Action)
}

func TestDeleteServiceReferencedByInvoiceLine(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	cleaning, err := svc.CreateService(ctx, 1, BillableService{Name: "Cleaning", Price: decimal.NewFromInt(40), IsActive: true})
	require.NoError(t, err)
	repo.billed[cleaning.ID] = true

	err = svc.DeleteService(ctx, 1, cleaning.ID)
	var ierr *shared.IntegrityError
	require.ErrorAs(t, err, &ierr)

	repo.billed[cleaning.ID] = false
	require.NoError(t, svc.DeleteService(ctx, 1, cleaning.ID))
	_, err = svc.GetService(ctx, cleaning.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.ErrorIs(t, svc.DeleteService(ctx, 1, cleaning.ID), shared.ErrNotFound)
}
