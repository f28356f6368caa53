package returns

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/clinic-ledger/internal/rbac"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Handler wires returns and credit endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers /returns routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProcurementView, shared.PermReturnsEdit))
		r.Get("/", h.listReturns)
		r.Get("/{id}", h.getReturn)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermReturnsEdit))
		r.Post("/", h.createReturn)
		r.Post("/{id}/refunds", h.addRefund)
		r.Post("/{id}/replacements", h.receiveReplacement)
	})
}

// MountPurchaseOrderRoutes registers the order-scoped history and credit routes under /procurement.
func (h *Handler) MountPurchaseOrderRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProcurementView, shared.PermProcurementEdit))
		r.Get("/pos/{id}/history", h.history)
		r.Get("/pos/{id}/returns", h.relatedReturns)
		r.Get("/pos/{id}/credits", h.availableCredits)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementEdit))
		r.Post("/pos/{id}/credits", h.applyCredit)
	})
}

type returnRequest struct {
	StockItemID int64        `json:"stock_item_id" validate:"required,gt=0"`
	Quantity    int          `json:"quantity" validate:"required,gt=0"`
	Reason      string       `json:"reason" validate:"max=500"`
	ReturnDate  *shared.Date `json:"return_date"`
}

type refundRequest struct {
	Amount          *decimal.Decimal `json:"amount"`
	PurchaseOrderID int64            `json:"purchase_order_id" validate:"gte=0"`
	Notes           string           `json:"notes"`
	RefundDate      *shared.Date     `json:"refund_date"`
}

type replacementRequest struct {
	Quantity    int          `json:"quantity" validate:"required,gt=0"`
	BatchNumber string       `json:"batch_number" validate:"required,max=100"`
	ExpiryDate  *shared.Date `json:"expiry_date"`
	Notes       string       `json:"notes"`
}

type applyCreditRequest struct {
	CreditID int64           `json:"credit_id" validate:"required,gt=0"`
	Amount   decimal.Decimal `json:"amount"`
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	rows, page, err := h.service.ListReturns(r.Context(), ListFilter{
		Status:          Status(r.URL.Query().Get("status")),
		PurchaseOrderID: httpx.QueryInt64(r, "purchase_order_id"),
		Limit:           httpx.QueryInt(r, "limit", 0),
		Offset:          httpx.QueryInt(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, "list returns", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rows, "pagination": page})
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetReturn(r.Context(), id)
	if err != nil {
		h.fail(w, "get return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := ReturnInput{
		ActorID:     shared.ActorID(r.Context()),
		StockItemID: req.StockItemID,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
	}
	if req.ReturnDate != nil {
		input.Date = req.ReturnDate.Time
	}
	detail, err := h.service.CreateReturn(r.Context(), input)
	if err != nil {
		h.fail(w, "create return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) addRefund(w http.ResponseWriter, r *http.Request) {
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
	input := RefundInput{
		ActorID:         shared.ActorID(r.Context()),
		Amount:          req.Amount,
		PurchaseOrderID: req.PurchaseOrderID,
		Notes:           req.Notes,
	}
	if req.RefundDate != nil {
		input.Date = req.RefundDate.Time
	}
	detail, err := h.service.AddSupplierRefund(r.Context(), id, input)
	if err != nil {
		h.fail(w, "add supplier refund", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) receiveReplacement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req replacementRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.ReceiveReplacement(r.Context(), id, ReplacementInput{
		ActorID:     shared.ActorID(r.Context()),
		Quantity:    req.Quantity,
		BatchNumber: req.BatchNumber,
		ExpiryDate:  req.ExpiryDate.TimePtr(),
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(w, "receive replacement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	history, err := h.service.PurchaseOrderHistory(r.Context(), id)
	if err != nil {
		h.fail(w, "purchase order history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}

func (h *Handler) relatedReturns(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	related, err := h.service.RelatedReturns(r.Context(), id)
	if err != nil {
		h.fail(w, "related returns", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": related})
}

func (h *Handler) availableCredits(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	credits, err := h.service.AvailableCredits(r.Context(), id)
	if err != nil {
		h.fail(w, "available credits", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": credits})
}

func (h *Handler) applyCredit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req applyCreditRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	applied, err := h.service.ApplyCredit(r.Context(), req.CreditID, id, ApplyCreditInput{
		ActorID: shared.ActorID(r.Context()),
		Amount:  req.Amount,
	})
	if err != nil {
		h.fail(w, "apply credit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, applied)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn("returns "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
