package purchasing

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/gerai-pos/gerai/internal/platform/httpx"
	"github.com/gerai-pos/gerai/internal/shared"
)

// Handler wires HTTP endpoints for the purchasing module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the purchasing handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchases", h.handleCreate)
	r.Get("/purchases", h.handleList)
	r.Get("/purchases/{purchaseID}", h.handleGet)
	r.Post("/purchases/{purchaseID}/order", h.handleMarkOrdered)
	r.Post("/purchases/{purchaseID}/cancel", h.handleCancel)
	r.Post("/purchases/{purchaseID}/receive", h.handleReceive)
	r.Post("/purchases/{purchaseID}/payments", h.handlePayment)
}

type createLineRequest struct {
	VariantID  int64  `json:"variantId" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost   string `json:"unitCost"`
	ExpiryDate string `json:"expiryDate"`
}

type createRequest struct {
	StoreID       int64               `json:"storeId" validate:"required"`
	SupplierID    int64               `json:"supplierId"`
	PaymentStatus string              `json:"paymentStatus"`
	Note          string              `json:"note"`
	Lines         []createLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		StoreID:       req.StoreID,
		SupplierID:    req.SupplierID,
		PaymentStatus: PaymentStatus(req.PaymentStatus),
		Note:          req.Note,
	}
	for _, line := range req.Lines {
		cost := decimal.Zero
		if line.UnitCost != "" {
			var err error
			cost, err = decimal.NewFromString(line.UnitCost)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unitCost must be a decimal string")
				return
			}
		}
		li := LineInput{VariantID: line.VariantID, Quantity: line.Quantity, UnitCost: cost}
		if line.ExpiryDate != "" {
			expiry, err := time.Parse("2006-01-02", line.ExpiryDate)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiryDate must be YYYY-MM-DD")
				return
			}
			li.ExpiryDate = &expiry
		}
		input.Lines = append(input.Lines, li)
	}
	purchase, err := h.service.Create(r.Context(), scope, input)
	if err != nil {
		h.logger.Warn("purchase creation failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, purchase)
}

func (h *Handler) handleMarkOrdered(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.MarkOrdered)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Cancel)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, shared.Scope, int64) (Purchase, error)) {
	scope, purchaseID, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	purchase, err := fn(r.Context(), scope, purchaseID)
	if err != nil {
		h.logger.Warn("purchase transition failed", "error", err, "purchase", purchaseID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

type receiveRequest struct {
	QuantityOverride map[string]int64 `json:"quantityOverride"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	scope, purchaseID, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
			return
		}
	}
	input := ReceiveInput{PurchaseID: purchaseID}
	if len(req.QuantityOverride) > 0 {
		input.QuantityOverride = make(map[int64]int64, len(req.QuantityOverride))
		for rawID, qty := range req.QuantityOverride {
			lineID, err := strconv.ParseInt(rawID, 10, 64)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantityOverride keys must be line ids")
				return
			}
			input.QuantityOverride[lineID] = qty
		}
	}
	purchase, err := h.service.Receive(r.Context(), scope, input)
	if err != nil {
		h.logger.Warn("purchase receiving failed", "error", err, "purchase", purchaseID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

type purchasePaymentRequest struct {
	Amount string `json:"amount" validate:"required"`
	Method string `json:"method"`
	Note   string `json:"note"`
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	scope, purchaseID, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	var req purchasePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal string")
		return
	}
	purchase, err := h.service.RecordPayment(r.Context(), scope, PaymentInput{
		PurchaseID: purchaseID,
		Amount:     amount,
		Method:     req.Method,
		Note:       req.Note,
	})
	if err != nil {
		h.logger.Warn("purchase payment failed", "error", err, "purchase", purchaseID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope, purchaseID, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	purchase, lines, err := h.service.GetPurchase(r.Context(), scope, purchaseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase": purchase, "lines": lines})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	purchases, err := h.service.ListPurchases(r.Context(), scope, ListFilter{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  limit,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchases)
}

func (h *Handler) scopeAndID(w http.ResponseWriter, r *http.Request) (shared.Scope, int64, bool) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return shared.Scope{}, 0, false
	}
	purchaseID, err := strconv.ParseInt(chi.URLParam(r, "purchaseID"), 10, 64)
	if err != nil || purchaseID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase id")
		return shared.Scope{}, 0, false
	}
	return scope, purchaseID, true
}
