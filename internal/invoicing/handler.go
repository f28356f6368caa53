package invoicing

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

// Handler wires billing HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers /invoices routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermBillingView, shared.PermBillingEdit))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBillingEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/payments", h.addPayment)
		r.Post("/{id}/refunds", h.recordRefund)
		r.Post("/{id}/items", h.addItem)
		r.Put("/{id}/items/{itemID}", h.updateItem)
		r.Delete("/{id}/items/{itemID}", h.deleteItem)
	})
}

type itemRequest struct {
	ID          int64            `json:"id" validate:"gte=0"`
	ServiceID   int64            `json:"service_id" validate:"gte=0"`
	StockItemID int64            `json:"stock_item_id" validate:"gte=0"`
	Description string           `json:"description" validate:"max=255"`
	Quantity    int              `json:"quantity" validate:"required,gte=1"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal  `json:"discount"`
}

func (req itemRequest) input() ItemInput {
	return ItemInput{
		ID:          req.ID,
		ServiceID:   req.ServiceID,
		StockItemID: req.StockItemID,
		Description: req.Description,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		Discount:    req.Discount,
	}
}

type invoiceRequest struct {
	PatientID     int64           `json:"patient_id" validate:"required,gt=0"`
	DoctorID      int64           `json:"doctor_id" validate:"gte=0"`
	AppointmentID int64           `json:"appointment_id" validate:"gte=0"`
	InvoiceDate   *shared.Date    `json:"invoice_date"`
	DueDate       *shared.Date    `json:"due_date"`
	Discount      decimal.Decimal `json:"discount"`
	Notes         string          `json:"notes"`
	Items         []itemRequest   `json:"items" validate:"dive"`
}

func (req invoiceRequest) input(actorID int64) InvoiceInput {
	in := InvoiceInput{
		ActorID:       actorID,
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		AppointmentID: req.AppointmentID,
		DueDate:       req.DueDate.TimePtr(),
		Discount:      req.Discount,
		Notes:         req.Notes,
	}
	if req.InvoiceDate != nil {
		in.InvoiceDate = req.InvoiceDate.Time
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, item.input())
	}
	return in
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"payment_method"`
	Reference string          `json:"reference" validate:"max=100"`
	Notes     string          `json:"notes"`
	Date      *shared.Date    `json:"payment_date"`
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method PaymentMethod   `json:"refund_method"`
	Reason string          `json:"reason" validate:"max=500"`
	Date   *shared.Date    `json:"refund_date"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rows, page, err := h.service.ListInvoices(r.Context(), ListFilter{
		Status:    Status(r.URL.Query().Get("status")),
		PatientID: httpx.QueryInt64(r, "patient_id"),
		Limit:     httpx.QueryInt(r, "limit", 0),
		Offset:    httpx.QueryInt(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rows, "pagination": page})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.CreateInvoice(r.Context(), req.input(shared.ActorID(r.Context())))
	if err != nil {
		h.fail(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req invoiceRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.UpdateInvoice(r.Context(), id, req.input(shared.ActorID(r.Context())))
	if err != nil {
		h.fail(w, "update invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteInvoice(r.Context(), id, shared.ActorID(r.Context())); err != nil {
		h.fail(w, "delete invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.CancelInvoice(r.Context(), id, shared.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "cancel invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
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
	detail, err := h.service.AddPayment(r.Context(), id, PaymentInput{
		ActorID:   shared.ActorID(r.Context()),
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		Notes:     req.Notes,
		Date:      req.Date.Or(time.Time{}),
	})
	if err != nil {
		h.fail(w, "add payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) recordRefund(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req refundRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.RecordRefund(r.Context(), id, RefundInput{
		ActorID: shared.ActorID(r.Context()),
		Amount:  req.Amount,
		Method:  req.Method,
		Reason:  req.Reason,
		Date:    req.Date.Or(time.Time{}),
	})
	if err != nil {
		h.fail(w, "record refund", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.AddInvoiceItem(r.Context(), id, shared.ActorID(r.Context()), req.input())
	if err != nil {
		h.fail(w, "add invoice item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.UpdateInvoiceItem(r.Context(), id, itemID, shared.ActorID(r.Context()), req.input())
	if err != nil {
		h.fail(w, "update invoice item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.DeleteInvoiceItem(r.Context(), id, itemID, shared.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "delete invoice item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn("invoicing "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
