package procurement

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/clinic-ledger/internal/rbac"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Handler wires purchasing HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProcurementView, shared.PermProcurementEdit))
		r.Get("/pos", h.listPOs)
		r.Get("/pos/{id}", h.getPO)
		r.Get("/suppliers/{id}/outstanding", h.supplierOutstanding)
		r.Get("/payments", h.listPayments)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementEdit))
		r.Post("/pos", h.createPO)
		r.Put("/pos/{id}", h.updatePO)
		r.Post("/pos/{id}/cancel", h.cancelPO)
		r.Post("/pos/{id}/receive", h.receive)
		r.Post("/pos/{id}/payments", h.recordPayment)
	})
}

type poItemRequest struct {
	VariantID int64            `json:"variant_id" validate:"required,gt=0"`
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	UnitCost  *decimal.Decimal `json:"unit_cost"`
}

type poRequest struct {
	SupplierID int64           `json:"supplier_id" validate:"required,gt=0"`
	OrderDate  *shared.Date    `json:"order_date"`
	Notes      string          `json:"notes"`
	Items      []poItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (req poRequest) input(actorID int64) POInput {
	items := make([]POItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, POItemInput{VariantID: item.VariantID, Quantity: item.Quantity, UnitCost: item.UnitCost})
	}
	in := POInput{ActorID: actorID, SupplierID: req.SupplierID, Notes: req.Notes, Items: items}
	if req.OrderDate != nil {
		in.OrderDate = req.OrderDate.Time
	}
	return in
}

type receiveLineRequest struct {
	POItemID           int64            `json:"po_item_id" validate:"required,gt=0"`
	Quantity           int              `json:"quantity" validate:"gte=0"`
	MRP                *decimal.Decimal `json:"mrp"`
	BaseCostPrice      decimal.Decimal  `json:"base_cost_price"`
	DiscountPercentage decimal.Decimal  `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal  `json:"discount_amount"`
	GSTPercentage      decimal.Decimal  `json:"gst_percentage"`
	BatchNumber        string           `json:"batch_number" validate:"max=100"`
	ExpiryDate         *shared.Date     `json:"expiry_date"`
	DateReceived       *shared.Date     `json:"date_received"`
}

type receiveRequest struct {
	IdempotencyKey string               `json:"idempotency_key" validate:"omitempty,uuid"`
	Lines          []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"max=30"`
	Reference string          `json:"reference" validate:"max=100"`
	Notes     string          `json:"notes"`
	Date      *shared.Date    `json:"payment_date"`
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	rows, page, err := h.service.ListPurchaseOrders(r.Context(), ListFilter{
		Status:     POStatus(r.URL.Query().Get("status")),
		SupplierID: httpx.QueryInt64(r, "supplier_id"),
		Limit:      httpx.QueryInt(r, "limit", 0),
		Offset:     httpx.QueryInt(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, "list purchase orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": nonNil(rows), "pagination": page})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	rows, page, err := h.service.ListSupplierPayments(r.Context(), PaymentFilter{
		SupplierID:      httpx.QueryInt64(r, "supplier_id"),
		PurchaseOrderID: httpx.QueryInt64(r, "po_id"),
		Limit:           httpx.QueryInt(r, "limit", 0),
		Offset:          httpx.QueryInt(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, "list supplier payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": nonNil(rows), "pagination": page})
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var req poRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.CreatePurchaseOrder(r.Context(), req.input(shared.ActorID(r.Context())))
	if err != nil {
		h.fail(w, "create purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) updatePO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req poRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.UpdatePurchaseOrder(r.Context(), id, req.input(shared.ActorID(r.Context())))
	if err != nil {
		h.fail(w, "update purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) cancelPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.CancelPurchaseOrder(r.Context(), id, shared.ActorID(r.Context())); err != nil {
		h.fail(w, "cancel purchase order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := ReceiveInput{ActorID: shared.ActorID(r.Context()), IdempotencyKey: req.IdempotencyKey}
	if header := r.Header.Get("Idempotency-Key"); header != "" {
		input.IdempotencyKey = header
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiveLine{
			POItemID: line.POItemID,
			Quantity: line.Quantity,
			Cost: inventory.CostInput{
				MRP:            line.MRP,
				BaseCost:       line.BaseCostPrice,
				DiscountPct:    line.DiscountPercentage,
				DiscountAmount: line.DiscountAmount,
				GSTPct:         line.GSTPercentage,
			},
			BatchNumber:  line.BatchNumber,
			ExpiryDate:   line.ExpiryDate.TimePtr(),
			DateReceived: line.DateReceived.TimePtr(),
		})
	}
	detail, err := h.service.ReceiveStock(r.Context(), id, input)
	if err != nil {
		h.fail(w, "receive stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PaymentInput{
		ActorID:   shared.ActorID(r.Context()),
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		Notes:     req.Notes,
	}
	if req.Date != nil {
		input.Date = req.Date.Time
	}
	payment, err := h.service.RecordSupplierPayment(r.Context(), id, input)
	if err != nil {
		h.fail(w, "record supplier payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) supplierOutstanding(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.SupplierOutstanding(r.Context(), id)
	if err != nil {
		h.fail(w, "supplier outstanding", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn("procurement "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
