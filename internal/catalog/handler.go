package catalog

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/clinic-ledger/internal/rbac"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Handler exposes catalog endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds the catalog handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCatalogView, shared.PermCatalogEdit))
		r.Get("/suppliers", h.listSuppliers)
		r.Get("/suppliers/{id}", h.getSupplier)
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)
		r.Get("/variants/{id}", h.getVariant)
		r.Get("/variants/{id}/stock", h.stockLevel)
		r.Get("/low-stock", h.lowStock)
		r.Get("/services", h.listServices)
		r.Get("/services/{id}", h.getService)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermCatalogEdit))
		r.Post("/suppliers", h.createSupplier)
		r.Put("/suppliers/{id}", h.updateSupplier)
		r.Delete("/suppliers/{id}", h.deleteSupplier)
		r.Post("/products", h.createProduct)
		r.Put("/products/{id}", h.updateProduct)
		r.Delete("/products/{id}", h.deleteProduct)
		r.Post("/variants", h.createVariant)
		r.Put("/variants/{id}", h.updateVariant)
		r.Delete("/variants/{id}", h.deleteVariant)
		r.Post("/services", h.createService)
		r.Put("/services/{id}", h.updateService)
		r.Delete("/services/{id}", h.deleteService)
	})
}

type supplierRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Category string `json:"category" validate:"omitempty,oneof=LOCAL_SHOP LOCAL_DISTRIBUTOR E_COMMERCE PHARMACEUTICAL"`
	Phone    string `json:"phone" validate:"max=20"`
	Email    string `json:"email" validate:"omitempty,email"`
	Address  string `json:"address"`
}

func (req supplierRequest) supplier(id int64) Supplier {
	return Supplier{ID: id, Name: req.Name, Category: SupplierCategory(req.Category), Phone: req.Phone, Email: req.Email, Address: req.Address}
}

type productRequest struct {
	Name                   string `json:"name" validate:"required,max=255"`
	Category               string `json:"category"`
	Description            string `json:"description"`
	RequiresExpiryTracking *bool  `json:"requires_expiry_tracking"`
	IsStockable            *bool  `json:"is_stockable"`
}

func (req productRequest) product(id int64) Product {
	return Product{
		ID:                     id,
		Name:                   req.Name,
		Category:               req.Category,
		Description:            req.Description,
		RequiresExpiryTracking: boolOr(req.RequiresExpiryTracking, true),
		IsStockable:            boolOr(req.IsStockable, true),
	}
}

type variantRequest struct {
	ProductID         int64           `json:"product_id"`
	Brand             string          `json:"brand" validate:"max=100"`
	SKU               string          `json:"sku" validate:"max=100"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	LowStockThreshold *int            `json:"low_stock_threshold" validate:"omitempty,gte=0"`
	IsActive          *bool           `json:"is_active"`
}

func (req variantRequest) variant(id int64) Variant {
	v := Variant{
		ID:                id,
		ProductID:         req.ProductID,
		Brand:             req.Brand,
		SKU:               req.SKU,
		Description:       req.Description,
		Price:             req.Price,
		LowStockThreshold: DefaultLowStockThreshold,
		IsActive:          boolOr(req.IsActive, true),
	}
	if req.LowStockThreshold != nil {
		v.LowStockThreshold = *req.LowStockThreshold
	}
	return v
}

type serviceRequest struct {
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	IsActive    *bool           `json:"is_active"`
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Search: r.URL.Query().Get("q"),
		Limit:  httpx.QueryInt(r, "limit", 0),
		Offset: httpx.QueryInt(r, "offset", 0),
	}
	items, page, err := h.service.ListSuppliers(r.Context(), filter)
	if err != nil {
		h.fail(w, "list suppliers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": page})
}

func (h *Handler) getSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	supplier, err := h.service.GetSupplier(r.Context(), id)
	if err != nil {
		h.fail(w, "get supplier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, supplier)
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	var req supplierRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	supplier, err := h.service.CreateSupplier(r.Context(), shared.ActorID(r.Context()), req.supplier(0))
	if err != nil {
		h.fail(w, "create supplier", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, supplier)
}

func (h *Handler) updateSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req supplierRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	supplier, err := h.service.UpdateSupplier(r.Context(), shared.ActorID(r.Context()), req.supplier(id))
	if err != nil {
		h.fail(w, "update supplier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, supplier)
}

func (h *Handler) deleteSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteSupplier(r.Context(), shared.ActorID(r.Context()), id); err != nil {
		h.fail(w, "delete supplier", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	items, page, err := h.service.ListProducts(r.Context(), ListFilter{
		Search: r.URL.Query().Get("q"),
		Limit:  httpx.QueryInt(r, "limit", 0),
		Offset: httpx.QueryInt(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, "list products", err)
		return
	}
	if items == nil {
		items = []ProductSummary{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": page})
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req productRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), shared.ActorID(r.Context()), req.product(id))
	if err != nil {
		h.fail(w, "update product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteProduct(r.Context(), shared.ActorID(r.Context()), id); err != nil {
		h.fail(w, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), shared.ActorID(r.Context()), req.product(0))
	if err != nil {
		h.fail(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) getVariant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	variant, err := h.service.GetVariant(r.Context(), id)
	if err != nil {
		h.fail(w, "get variant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"variant": variant, "name": variant.Name()})
}

func (h *Handler) createVariant(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	variant, err := h.service.CreateVariant(r.Context(), shared.ActorID(r.Context()), req.variant(0))
	if err != nil {
		h.fail(w, "create variant", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, variant)
}

func (h *Handler) updateVariant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req variantRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	variant, err := h.service.UpdateVariant(r.Context(), shared.ActorID(r.Context()), req.variant(id))
	if err != nil {
		h.fail(w, "update variant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, variant)
}

func (h *Handler) deleteVariant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteVariant(r.Context(), shared.ActorID(r.Context()), id); err != nil {
		h.fail(w, "delete variant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stockLevel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	level, err := h.service.StockLevel(r.Context(), id)
	if err != nil {
		h.fail(w, "stock level", err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	res, err, _ := coalesce(r.Context(), "low-stock", func(ctx context.Context) (interface{}, error) {
		return h.service.LowStockReport(ctx)
	})
	if err != nil {
		h.fail(w, "low stock report", err)
		return
	}
	levels, _ := res.([]StockLevel)
	httpx.JSON(w, http.StatusOK, map[string]any{"items": levels})
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.service.ListServices(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.fail(w, "list services", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": services})
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	service, err := h.service.GetService(r.Context(), id)
	if err != nil {
		h.fail(w, "get service", err)
		return
	}
	httpx.JSON(w, http.StatusOK, service)
}

func (h *Handler) createService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	service, err := h.service.CreateService(r.Context(), shared.ActorID(r.Context()), BillableService{
		Name: req.Name, Description: req.Description, Price: req.Price, IsActive: boolOr(req.IsActive, true),
	})
	if err != nil {
		h.fail(w, "create service", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, service)
}

func (h *Handler) updateService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req serviceRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	service, err := h.service.UpdateService(r.Context(), shared.ActorID(r.Context()), BillableService{
		ID: id, Name: req.Name, Description: req.Description, Price: req.Price, IsActive: boolOr(req.IsActive, true),
	})
	if err != nil {
		h.fail(w, "update service", err)
		return
	}
	httpx.JSON(w, http.StatusOK, service)
}

func (h *Handler) deleteService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteService(r.Context(), shared.ActorID(r.Context()), id); err != nil {
		h.fail(w, "delete service", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn("catalog "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
