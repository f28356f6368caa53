package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/clinic-ledger/internal/rbac"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInventoryView, shared.PermInventoryEdit))
		r.Get("/stock-items", h.listStockItems)
		r.Get("/stock-items/{id}", h.getStockItem)
		r.Get("/adjustments", h.listAdjustments)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInventoryEdit))
		r.Post("/manual-stock", h.addManualStock)
		r.Post("/adjustments", h.recordAdjustment)
	})
}

type manualStockRequest struct {
	VariantID          int64            `json:"variant_id" validate:"required,gt=0"`
	SupplierID         int64            `json:"supplier_id" validate:"gte=0"`
	Quantity           int              `json:"quantity" validate:"required,gt=0"`
	BatchNumber        string           `json:"batch_number" validate:"required,max=100"`
	ExpiryDate         *shared.Date     `json:"expiry_date"`
	MRP                *decimal.Decimal `json:"mrp"`
	BaseCostPrice      decimal.Decimal  `json:"base_cost_price"`
	DiscountPercentage decimal.Decimal  `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal  `json:"discount_amount"`
	GSTPercentage      decimal.Decimal  `json:"gst_percentage"`
	Notes              string           `json:"notes"`
}

type adjustmentRequest struct {
	VariantID int64        `json:"variant_id" validate:"required,gt=0"`
	Type      string       `json:"adjustment_type" validate:"required,oneof=ADDITION SUBTRACTION"`
	Quantity  int          `json:"quantity" validate:"required,gt=0"`
	Reason    string       `json:"reason" validate:"required,oneof=DAMAGED EXPIRED STOCK_TAKE INITIAL_STOCK OTHER"`
	Notes     string       `json:"notes"`
	Date      *shared.Date `json:"adjustment_date"`
}

func (h *Handler) listStockItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, page, err := h.service.ListStockItems(r.Context(), ListFilter{
		VariantID: httpx.QueryInt64(r, "variant_id"),
		Query:     q.Get("q"),
		InStock:   q.Get("in_stock") == "true",
		Limit:     httpx.QueryInt(r, "limit", 0),
		Offset:    httpx.QueryInt(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, "list stock items", err)
		return
	}
	views := make([]StockItemView, 0, len(items))
	for _, item := range items {
		views = append(views, item.View())
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": views, "pagination": page})
}

func (h *Handler) getStockItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.GetStockItem(r.Context(), id)
	if err != nil {
		h.fail(w, "get stock item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item.View())
}

func (h *Handler) addManualStock(w http.ResponseWriter, r *http.Request) {
	var req manualStockRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.AddManualStock(r.Context(), ManualStockInput{
		ActorID:     shared.ActorID(r.Context()),
		VariantID:   req.VariantID,
		SupplierID:  req.SupplierID,
		Quantity:    req.Quantity,
		BatchNumber: req.BatchNumber,
		ExpiryDate:  req.ExpiryDate.TimePtr(),
		Cost: CostInput{
			MRP:            req.MRP,
			BaseCost:       req.BaseCostPrice,
			DiscountPct:    req.DiscountPercentage,
			DiscountAmount: req.DiscountAmount,
			GSTPct:         req.GSTPercentage,
		},
		Notes: req.Notes,
	})
	if err != nil {
		h.fail(w, "add manual stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item.View())
}

func (h *Handler) recordAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := AdjustmentInput{
		ActorID:   shared.ActorID(r.Context()),
		VariantID: req.VariantID,
		Type:      AdjustmentType(req.Type),
		Quantity:  req.Quantity,
		Reason:    AdjustmentReason(req.Reason),
		Notes:     req.Notes,
	}
	input.Date = req.Date.Or(time.Time{})
	adj, err := h.service.RecordAdjustment(r.Context(), input)
	if err != nil {
		h.fail(w, "record adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	adjustments, err := h.service.ListAdjustments(r.Context(), AdjustmentFilter{
		VariantID: httpx.QueryInt64(r, "variant_id"),
		Limit:     httpx.QueryInt(r, "limit", 0),
		Offset:    httpx.QueryInt(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, "list adjustments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": adjustments})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn("inventory "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
