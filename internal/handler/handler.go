package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"token-wallet/internal/domain"
	"token-wallet/internal/service"
)

type Handler struct {
	svc       *service.WalletService
	auth      *Authenticator
	validator *validator.Validate
}

func NewHandler(svc *service.WalletService, auth *Authenticator) *Handler {
	return &Handler{
		svc:       svc,
		auth:      auth,
		validator: validator.New(),
	}
}

// Responses
type ErrorResponse struct {
	Code       int               `json:"code"`
	Message    string            `json:"message"`
	ReasonCode domain.ReasonCode `json:"reason_code,omitempty"`
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, ErrorResponse{Code: code, Message: msg})
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidPackage), errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrContentNotFound),
		errors.Is(err, domain.ErrOrphanNotFound), errors.Is(err, domain.ErrPurchaseNotFound),
		errors.Is(err, domain.ErrPaymentMethodNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateRequest), errors.Is(err, domain.ErrOrphanStateChanged):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError hides internal details behind the reason code.
func respondServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	respondJSON(w, code, ErrorResponse{Code: code, Message: msg, ReasonCode: domain.ReasonFor(err)})
}

func respondOutcome(w http.ResponseWriter, out *domain.Outcome, err error) {
	if err != nil {
		respondJSON(w, statusFor(err), out)
		return
	}
	switch out.Status {
	case domain.OutcomeDeclined:
		respondJSON(w, http.StatusPaymentRequired, out)
	default:
		respondJSON(w, http.StatusOK, out)
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// Request Models
// TopUpReq charges the default payment method when PaymentMethodID is empty.
type TopUpReq struct {
	Package         string `json:"package" validate:"required,oneof=small medium large"`
	PaymentMethodID string `json:"payment_method_id" validate:"omitempty,uuid"`
}

type PaymentMethodReq struct {
	PaymentToken string `json:"payment_token" validate:"required,max=128"`
	CardLastFour string `json:"card_last_four" validate:"required,len=4,numeric"`
	CardBrand    string `json:"card_brand" validate:"required,max=32"`
	IsDefault    bool   `json:"is_default"`
}

type CreateStoryReq struct {
	Title     string        `json:"title" validate:"required,max=255"`
	Price     domain.Amount `json:"price" validate:"gte=0"`
	IsPremium bool          `json:"is_premium"`
}

type SettleReq struct {
	Charged *bool `json:"charged" validate:"required"`
}

type AccountResponse struct {
	Account *domain.Account `json:"account"`
	Wallet  *domain.Balance `json:"wallet"`
	Token   string          `json:"token"`
}

// Handlers

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// CreateAccount registers a reader account. Admin accounts come from the admin CLI.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	account, balance, err := h.svc.OpenAccount(r.Context(), domain.RoleReader)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	token, err := h.auth.IssueToken(account.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	respondJSON(w, http.StatusCreated, AccountResponse{Account: account, Wallet: balance, Token: token})
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetBalance(r.Context(), AccountFrom(r.Context()).ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// ListPackages returns the token packages with the caller's saved payment methods.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	methods, err := h.svc.ListPaymentMethods(r.Context(), AccountFrom(r.Context()).ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"packages":        h.svc.Packages(),
		"payment_methods": methods,
	})
}

func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.svc.ListPaymentMethods(r.Context(), AccountFrom(r.Context()).ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"payment_methods": methods})
}

func (h *Handler) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req PaymentMethodReq
	if !h.decode(w, r, &req) {
		return
	}
	method, err := h.svc.AddPaymentMethod(r.Context(), service.AddPaymentMethodRequest{
		AccountID:    AccountFrom(r.Context()).ID,
		PaymentToken: req.PaymentToken,
		CardLastFour: req.CardLastFour,
		CardBrand:    req.CardBrand,
		MakeDefault:  req.IsDefault,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, method)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.ListTransactions(r.Context(), AccountFrom(r.Context()).ID,
		queryInt(r, "page", 1), queryInt(r, "limit", 10))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpReq
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.svc.TopUp(r.Context(), service.TopUpRequest{
		AccountID:        AccountFrom(r.Context()).ID,
		Package:          req.Package,
		PaymentMethodRef: req.PaymentMethodID,
		IdempotencyKey:   r.Header.Get("Idempotency-Key"),
	})
	respondOutcome(w, out, err)
}

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.svc.ListPurchases(r.Context(), AccountFrom(r.Context()).ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"purchases": purchases})
}

func (h *Handler) PurchaseStory(w http.ResponseWriter, r *http.Request) {
	storyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	out, err := h.svc.PurchaseContent(r.Context(), AccountFrom(r.Context()).ID, storyID)
	respondOutcome(w, out, err)
}

func (h *Handler) StoryAccess(w http.ResponseWriter, r *http.Request) {
	storyID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	allowed, err := h.svc.HasAccess(r.Context(), AccountFrom(r.Context()).ID, storyID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"has_access": allowed})
}

// Admin

func (h *Handler) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req CreateStoryReq
	if !h.decode(w, r, &req) {
		return
	}
	story, err := h.svc.CreateContent(r.Context(), req.Title, req.Price, req.IsPremium)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, story)
}

func (h *Handler) ListOrphanedCharges(w http.ResponseWriter, r *http.Request) {
	state := domain.OrphanState(r.URL.Query().Get("state"))
	if state == "" {
		state = domain.OrphanPending
	}
	orphans, err := h.svc.ListOrphanedCharges(r.Context(), state, queryInt(r, "limit", 100))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"orphaned_charges": orphans})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ReconcileOrphanedCharges(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) SettleOrphanedCharge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req SettleReq
	if !h.decode(w, r, &req) {
		return
	}
	orphan, err := h.svc.SettleIndeterminate(r.Context(), id, *req.Charged)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orphan)
}

func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.svc.VerifyAccount(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
