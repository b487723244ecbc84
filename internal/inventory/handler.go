package inventory

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/gerai-pos/gerai/internal/platform/httpx"
	"github.com/gerai-pos/gerai/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	cache    *redis.Client
}

// NewHandler constructs the inventory handler. cache may be nil; the
// low-stock listing then skips its read-through cache.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, cache *redis.Client) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, cache: cache}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/inventory/adjustments", h.handleAdjust)
	r.Post("/inventory/transfers", h.handleTransfer)
	r.Post("/inventory/reservations", h.handleReserve)
	r.Delete("/inventory/reservations", h.handleRelease)
	r.Post("/inventory/batches", h.handleRegisterBatch)
	r.Post("/inventory/consumptions", h.handleConsume)
	r.Get("/inventory/levels", h.handleGetLevel)
	r.Get("/inventory/movements", h.handleListMovements)
	r.Get("/inventory/batches", h.handleListBatches)
	r.Get("/inventory/low-stock", h.handleLowStock)
}

type adjustRequest struct {
	VariantID      int64  `json:"variantId" validate:"required"`
	StoreID        int64  `json:"storeId" validate:"required"`
	Quantity       int64  `json:"quantity" validate:"required"`
	Type           string `json:"type" validate:"required"`
	ReferenceKind  string `json:"referenceKind"`
	ReferenceID    int64  `json:"referenceId"`
	UnitCost       string `json:"unitCost"`
	Note           string `json:"note"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cost, err := parseCost(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	level, movement, err := h.service.Adjust(r.Context(), scope, AdjustInput{
		VariantID:      req.VariantID,
		StoreID:        req.StoreID,
		Quantity:       req.Quantity,
		Type:           MovementType(req.Type),
		Reference:      shared.Reference{Kind: shared.ReferenceKind(req.ReferenceKind), ID: req.ReferenceID},
		UnitCost:       cost,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.Warn("stock adjust failed", "error", err, "variant", req.VariantID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"level": level, "movement": movement})
}

type transferRequest struct {
	VariantID   int64  `json:"variantId" validate:"required"`
	SrcStoreID  int64  `json:"srcStoreId" validate:"required"`
	DstStoreID  int64  `json:"dstStoreId" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	ReferenceID int64  `json:"referenceId"`
	UnitCost    string `json:"unitCost"`
	Note        string `json:"note"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cost, err := parseCost(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ref := shared.Reference{}
	if req.ReferenceID != 0 {
		ref = shared.Reference{Kind: shared.ReferenceTransfer, ID: req.ReferenceID}
	}
	out, in, err := h.service.TransferStock(r.Context(), scope, TransferInput{
		VariantID:  req.VariantID,
		SrcStoreID: req.SrcStoreID,
		DstStoreID: req.DstStoreID,
		Quantity:   req.Quantity,
		UnitCost:   cost,
		Reference:  ref,
		Note:       req.Note,
	})
	if err != nil {
		h.logger.Warn("stock transfer failed", "error", err, "variant", req.VariantID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"out": out, "in": in})
}

type reserveRequest struct {
	VariantID int64 `json:"variantId" validate:"required"`
	StoreID   int64 `json:"storeId" validate:"required"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	h.mutateReservation(w, r, h.service.Reserve)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	h.mutateReservation(w, r, h.service.Release)
}

func (h *Handler) mutateReservation(w http.ResponseWriter, r *http.Request, fn func(context.Context, shared.Scope, ReserveInput) (StockLevel, error)) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	level, err := fn(r.Context(), scope, ReserveInput{VariantID: req.VariantID, StoreID: req.StoreID, Quantity: req.Quantity})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

type registerBatchRequest struct {
	VariantID  int64  `json:"variantId" validate:"required"`
	StoreID    int64  `json:"storeId" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	SupplierID *int64 `json:"supplierId"`
	UnitCost   string `json:"unitCost"`
	ExpiryDate string `json:"expiryDate"`
}

func (h *Handler) handleRegisterBatch(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	var req registerBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cost, err := parseCost(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := BatchInput{
		VariantID:  req.VariantID,
		StoreID:    req.StoreID,
		Quantity:   req.Quantity,
		SupplierID: req.SupplierID,
		UnitCost:   cost,
	}
	if req.ExpiryDate != "" {
		expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiryDate must be YYYY-MM-DD")
			return
		}
		input.ExpiryDate = &expiry
	}
	batch, movement, err := h.service.RegisterBatch(r.Context(), scope, input)
	if err != nil {
		h.logger.Warn("batch registration failed", "error", err, "variant", req.VariantID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"batch": batch, "movement": movement})
}

type consumeRequest struct {
	BatchID     int64  `json:"batchId" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	Kind        string `json:"kind" validate:"required,oneof=sold damaged returned"`
	ReferenceID int64  `json:"referenceId"`
	Note        string `json:"note"`
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ref := shared.Reference{}
	if req.ReferenceID != 0 {
		kind := shared.ReferenceSale
		if ConsumeKind(req.Kind) == ConsumeReturned {
			kind = shared.ReferenceReturn
		}
		ref = shared.Reference{Kind: kind, ID: req.ReferenceID}
	}
	batch, movement, err := h.service.Consume(r.Context(), scope, ConsumeInput{
		BatchID:   req.BatchID,
		Quantity:  req.Quantity,
		Kind:      ConsumeKind(req.Kind),
		Reference: ref,
		Note:      req.Note,
	})
	if err != nil {
		h.logger.Warn("batch consumption failed", "error", err, "batch", req.BatchID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batch": batch, "movement": movement})
}

func (h *Handler) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	variantID := queryInt64(r, "variantId")
	storeID := queryInt64(r, "storeId")
	if variantID == 0 || storeID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "variantId and storeId are required")
		return
	}
	level, err := h.service.GetStockLevel(r.Context(), scope, variantID, storeID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	movements, err := h.service.ListMovements(r.Context(), scope, MovementFilter{
		VariantID: queryInt64(r, "variantId"),
		StoreID:   queryInt64(r, "storeId"),
		Limit:     int(queryInt64(r, "limit")),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	batches, err := h.service.ListBatches(r.Context(), scope, queryInt64(r, "variantId"), queryInt64(r, "storeId"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

const lowStockCacheTTL = 30 * time.Second

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return
	}
	storeID := queryInt64(r, "storeId")

	cacheKey := "lowstock:" + strconv.FormatInt(scope.OrgID, 10) + ":" + strconv.FormatInt(storeID, 10)
	if h.cache != nil {
		if cached, err := h.cache.Get(r.Context(), cacheKey).Result(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(cached))
			return
		}
	}

	levels, err := h.service.ListBelowReorder(r.Context(), scope, storeID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.cache != nil {
		if payload, err := json.Marshal(levels); err == nil {
			if err := h.cache.Set(r.Context(), cacheKey, payload, lowStockCacheTTL).Err(); err != nil {
				h.logger.Debug("low stock cache write failed", "error", err)
			}
		}
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func parseCost(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}
