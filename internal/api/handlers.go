/**
 * @description
 * This file contains the HTTP handlers for the banking-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * Amounts cross this boundary as decimal strings with at most two fractional
 * digits and are converted to minor units before reaching the service layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - github.com/shopspring/decimal: Lossless amount parsing at the JSON boundary.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pesabank/banking-service/internal/app"
	"github.com/pesabank/banking-service/internal/domain"
	"github.com/pesabank/banking-service/internal/store"
	"github.com/shopspring/decimal"
)

const defaultTransactionListLimit = 50

// BankHandlers holds the application service that handlers will use.
type BankHandlers struct {
	service *app.Service
	limiter RateLimiter
	limits  RateLimitConfig
}

// NewBankHandlers creates a new instance of BankHandlers. The limiter may be
// nil, which disables rate limiting.
func NewBankHandlers(service *app.Service, limiter RateLimiter, limits RateLimitConfig) *BankHandlers {
	return &BankHandlers{service: service, limiter: limiter, limits: limits}
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type depositInitiationResponse struct {
	Success           bool   `json:"success"`
	TransactionID     string `json:"transaction_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	Message           string `json:"message"`
}

type withdrawalInitiationResponse struct {
	Success        bool            `json:"success"`
	TransactionID  string          `json:"transaction_id"`
	ConversationID string          `json:"conversation_id"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	Message        string          `json:"message"`
}

type transactionResponse struct {
	ID                string           `json:"id"`
	Kind              string           `json:"kind"`
	Status            string           `json:"status"`
	Amount            decimal.Decimal  `json:"amount"`
	BalanceAfter      *decimal.Decimal `json:"balance_after,omitempty"`
	ExternalReference *string          `json:"external_reference,omitempty"`
	Receipt           *string          `json:"receipt,omitempty"`
	FailureReason     *string          `json:"failure_reason,omitempty"`
	Channel           string           `json:"channel"`
	Description       string           `json:"description"`
	CreatedAt         string           `json:"created_at"`
}

func buildTransactionResponse(tx *domain.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                tx.ID.String(),
		Kind:              tx.Kind,
		Status:            tx.Status,
		Amount:            domain.CentsToAmount(tx.Amount),
		ExternalReference: tx.ExternalReference,
		Receipt:           tx.Receipt,
		FailureReason:     tx.FailureReason,
		Channel:           tx.Channel,
		Description:       tx.Description,
		CreatedAt:         tx.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if tx.BalanceAfter != nil {
		after := domain.CentsToAmount(*tx.BalanceAfter)
		resp.BalanceAfter = &after
	}
	return resp
}

// enforceRateLimit counts one attempt for the endpoint and rejects the request
// with 429 once the user exceeds the configured window limit. Limiter errors
// fail open: a Redis outage must not take payments down with it.
func (h *BankHandlers) enforceRateLimit(w http.ResponseWriter, r *http.Request, scope string, userID uuid.UUID) bool {
	if h.limiter == nil || h.limits.Limit <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), scope, userID.String(), h.limits.Limit, h.limits.Window)
	if err != nil {
		log.Printf("level=warn component=api endpoint=%s msg=\"rate limiter unavailable\" user_id=%s err=%v", scope, userID, err)
		return true
	}
	if count > h.limits.Limit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down and try again shortly.")
		return false
	}
	return true
}

// RegisterProfileHandler creates the bank profile after identity-provider
// signup. It is not behind auth: the frontend calls it with the new user's id
// before the first authenticated request.
func (h *BankHandlers) RegisterProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	profile, err := h.service.RegisterProfile(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateProfile) {
			h.writeError(w, http.StatusConflict, "Profile already exists")
			return
		}
		log.Printf("level=error component=api endpoint=register outcome=failed user_id=%s err=%v", req.UserID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not create profile")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user_id": profile.ID.String(),
		"balance": domain.CentsToAmount(profile.Balance),
	})
}

// ProfileHandler returns the authenticated user's profile.
func (h *BankHandlers) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		if app.IsNotFound(err) {
			h.writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		log.Printf("level=error component=api endpoint=profile outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve profile")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   profile.ID.String(),
		"email":     profile.Email,
		"full_name": profile.FullName,
		"balance":   domain.CentsToAmount(profile.Balance),
	})
}

// BalanceHandler returns the authenticated user's current balance.
func (h *BankHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		if app.IsNotFound(err) {
			h.writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		log.Printf("level=error component=api endpoint=balance outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve balance")
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{Balance: domain.CentsToAmount(balance)})
}

// TransactionListHandler returns the user's ledger history, newest first.
func (h *BankHandlers) TransactionListHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	limit := defaultTransactionListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=transactions outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve transactions")
		return
	}

	responses := make([]transactionResponse, 0, len(transactions))
	for i := range transactions {
		responses = append(responses, buildTransactionResponse(&transactions[i]))
	}
	h.writeJSON(w, http.StatusOK, responses)
}

// TransactionDetailHandler returns a single ledger entry owned by the user.
func (h *BankHandlers) TransactionDetailHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), userID, transactionID)
	if err != nil {
		if app.IsNotFound(err) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api endpoint=transaction_detail outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve transaction")
		return
	}

	h.writeJSON(w, http.StatusOK, buildTransactionResponse(tx))
}

// DepositInitiationHandler pushes a payment prompt to the user's phone.
func (h *BankHandlers) DepositInitiationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	if !h.enforceRateLimit(w, r, "deposit", userID) {
		return
	}

	var req domain.DepositInitiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amountCents, err := domain.AmountToCents(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("level=info component=api endpoint=deposit_initiate outcome=accepted user_id=%s amount=%d", userID, amountCents)

	result, err := h.service.InitiateDeposit(r.Context(), userID, req.Phone, amountCents)
	if err != nil {
		h.writeInitiationError(w, "deposit_initiate", userID, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, depositInitiationResponse{
		Success:           true,
		TransactionID:     result.TransactionID.String(),
		CheckoutRequestID: result.CheckoutRequestID,
		Message:           result.Message,
	})
}

// WithdrawalInitiationHandler sends a payout to the user's phone.
func (h *BankHandlers) WithdrawalInitiationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	if !h.enforceRateLimit(w, r, "withdraw", userID) {
		return
	}

	var req domain.WithdrawalInitiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amountCents, err := domain.AmountToCents(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("level=info component=api endpoint=withdraw_initiate outcome=accepted user_id=%s amount=%d", userID, amountCents)

	result, err := h.service.InitiateWithdrawal(r.Context(), userID, req.Phone, amountCents)
	if err != nil {
		h.writeInitiationError(w, "withdraw_initiate", userID, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, withdrawalInitiationResponse{
		Success:        true,
		TransactionID:  result.TransactionID.String(),
		ConversationID: result.ConversationID,
		NewBalance:     domain.CentsToAmount(result.NewBalance),
		Message:        result.Message,
	})
}

// DirectDepositHandler settles a deposit synchronously without the gateway.
func (h *BankHandlers) DirectDepositHandler(w http.ResponseWriter, r *http.Request) {
	h.handleDirectMovement(w, r, "direct_deposit", h.service.DirectDeposit)
}

// DirectWithdrawHandler settles a withdrawal synchronously without the gateway.
func (h *BankHandlers) DirectWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	h.handleDirectMovement(w, r, "direct_withdraw", h.service.DirectWithdraw)
}

func (h *BankHandlers) handleDirectMovement(
	w http.ResponseWriter,
	r *http.Request,
	endpoint string,
	move func(ctx context.Context, userID uuid.UUID, amountCents int64, description string) (*domain.Transaction, error),
) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req domain.DirectMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amountCents, err := domain.AmountToCents(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := move(r.Context(), userID, amountCents, req.Description)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			h.writeError(w, http.StatusBadRequest, "Insufficient funds")
			return
		}
		if errors.Is(err, app.ErrInvalidAmount) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if app.IsNotFound(err) {
			h.writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		log.Printf("level=error component=api endpoint=%s outcome=failed user_id=%s err=%v", endpoint, userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusCreated, buildTransactionResponse(tx))
}

// GatewayStatusHandler proxies the provider's transaction status query.
func (h *BankHandlers) GatewayStatusHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetAuthUserID(r.Context()); !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	transactionID := chi.URLParam(r, "transactionID")
	if transactionID == "" {
		h.writeError(w, http.StatusBadRequest, "Transaction ID is required")
		return
	}

	result := h.service.GetGatewayTransactionStatus(r.Context(), transactionID)
	if !result.Success {
		h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"message": result.Message,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"result_code": result.ResultCode,
		"result_desc": result.ResultDescription,
	})
}

// writeInitiationError maps service errors from the two initiation flows onto
// HTTP statuses.
func (h *BankHandlers) writeInitiationError(w http.ResponseWriter, endpoint string, userID uuid.UUID, err error) {
	var gatewayErr *app.GatewayError
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, "Insufficient funds")
	case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrInvalidPhone):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case app.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, "Profile not found")
	case errors.As(err, &gatewayErr):
		h.writeError(w, http.StatusBadGateway, gatewayErr.Message)
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed user_id=%s err=%v", endpoint, userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *BankHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BankHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
