package ledger

import (
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

// Handler wires HTTP endpoints for the ledger module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/ledger/customers/{partyID}/sales", h.handleCreditSale)
	r.Post("/ledger/customers/{partyID}/payments", h.handleCustomerPayment)
	r.Post("/ledger/suppliers/{partyID}/payments", h.handleSupplierPayment)
	r.Post("/ledger/suppliers/{partyID}/returns", h.handleSupplierReturn)
	r.Get("/ledger/{kind}/{partyID}/entries", h.handleListEntries)
	r.Get("/ledger/{kind}/{partyID}/balance", h.handleBalance)
}

type creditSaleRequest struct {
	Amount  string `json:"amount" validate:"required"`
	SaleID  int64  `json:"saleId" validate:"required"`
	DueDate string `json:"dueDate"`
	Note    string `json:"note"`
}

func (h *Handler) handleCreditSale(w http.ResponseWriter, r *http.Request) {
	scope, partyID, ok := h.scopeAndParty(w, r)
	if !ok {
		return
	}
	var req creditSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal string")
		return
	}
	input := CreditSaleInput{CustomerID: partyID, Amount: amount, SaleID: req.SaleID, Note: req.Note}
	if req.DueDate != "" {
		due, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "dueDate must be YYYY-MM-DD")
			return
		}
		input.DueDate = &due
	}
	entry, err := h.service.RecordCreditSale(r.Context(), scope, input)
	if err != nil {
		h.logger.Warn("credit sale posting failed", "error", err, "customer", partyID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type paymentRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Method      string `json:"method"`
	ReferenceID int64  `json:"referenceId"`
	Note        string `json:"note"`
}

func (h *Handler) handleCustomerPayment(w http.ResponseWriter, r *http.Request) {
	h.handlePayment(w, r, PartyCustomer)
}

func (h *Handler) handleSupplierPayment(w http.ResponseWriter, r *http.Request) {
	h.handlePayment(w, r, PartySupplier)
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request, kind PartyKind) {
	scope, partyID, ok := h.scopeAndParty(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal string")
		return
	}
	input := PaymentInput{PartyID: partyID, Amount: amount, Method: req.Method, Note: req.Note}
	if req.ReferenceID != 0 {
		input.Reference = shared.Reference{Kind: shared.ReferenceSale, ID: req.ReferenceID}
		if kind == PartySupplier {
			input.Reference.Kind = shared.ReferencePurchase
		}
	}
	var entry Entry
	if kind == PartyCustomer {
		entry, err = h.service.RecordCustomerPayment(r.Context(), scope, input)
	} else {
		entry, err = h.service.RecordSupplierPayment(r.Context(), scope, input)
	}
	if err != nil {
		h.logger.Warn("payment posting failed", "error", err, "kind", kind, "party", partyID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type returnRequest struct {
	Amount      string `json:"amount" validate:"required"`
	ReferenceID int64  `json:"referenceId"`
	Note        string `json:"note"`
}

func (h *Handler) handleSupplierReturn(w http.ResponseWriter, r *http.Request) {
	scope, partyID, ok := h.scopeAndParty(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal string")
		return
	}
	input := ReturnInput{SupplierID: partyID, Amount: amount, Note: req.Note}
	if req.ReferenceID != 0 {
		input.Reference = shared.Reference{Kind: shared.ReferenceReturn, ID: req.ReferenceID}
	}
	entry, err := h.service.RecordSupplierReturn(r.Context(), scope, input)
	if err != nil {
		h.logger.Warn("supplier return posting failed", "error", err, "supplier", partyID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	scope, partyID, ok := h.scopeAndParty(w, r)
	if !ok {
		return
	}
	kind, ok := parseKind(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.ListEntries(r.Context(), scope, EntryFilter{PartyKind: kind, PartyID: partyID, Limit: limit})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	scope, partyID, ok := h.scopeAndParty(w, r)
	if !ok {
		return
	}
	kind, ok := parseKind(w, r)
	if !ok {
		return
	}
	balance, err := h.service.CurrentBalance(r.Context(), scope, kind, partyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (h *Handler) scopeAndParty(w http.ResponseWriter, r *http.Request) (shared.Scope, int64, bool) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "organization headers required")
		return shared.Scope{}, 0, false
	}
	partyID, err := strconv.ParseInt(chi.URLParam(r, "partyID"), 10, 64)
	if err != nil || partyID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid party id")
		return shared.Scope{}, 0, false
	}
	return scope, partyID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func parseKind(w http.ResponseWriter, r *http.Request) (PartyKind, bool) {
	switch chi.URLParam(r, "kind") {
	case "customers":
		return PartyCustomer, true
	case "suppliers":
		return PartySupplier, true
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "kind must be customers or suppliers")
		return "", false
	}
}
