package services

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/jarsfinance/backend/internal/middleware"
	"github.com/jarsfinance/backend/internal/models"
)

// WalletService is the HTTP surface over the live wallet: balance,
// history, summary and the deposit lifecycle.
type WalletService struct {
	db        *sql.DB
	ledger    *LedgerService
	paystack  *PaystackService
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, ledger *LedgerService, paystack *PaystackService) *WalletService {
	return &WalletService{
		db:        db,
		ledger:    ledger,
		paystack:  paystack,
		validator: NewValidationHelper(),
	}
}

// GetBalance returns the cached wallet balance
// @Summary Get wallet balance
// @Tags wallet
// @Produce json
// @Success 200 {object} models.WalletInfo
// @Failure 404 {object} ErrorResponse
// @Router /wallet/balance [get]
func (s *WalletService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	info, err := s.ledger.GetWalletInfo(r.Context(), userID.ID)
	if err != nil {
		SendErrorResponse(w, "Failed to load wallet", http.StatusInternalServerError, nil)
		return
	}
	if info == nil {
		SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetSummary returns aggregated wallet totals
// @Summary Get wallet summary
// @Tags wallet
// @Produce json
// @Success 200 {object} models.WalletSummary
// @Router /wallet/summary [get]
func (s *WalletService) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	summary, err := s.ledger.GetWalletSummary(r.Context(), userID.ID)
	if err != nil {
		SendErrorResponse(w, "Failed to load summary", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetHistory returns a page of ledger entries, newest first
// @Summary Get wallet transaction history
// @Tags wallet
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} models.HistoryPage
// @Router /wallet/history [get]
func (s *WalletService) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	page, err := s.ledger.GetTransactionHistory(r.Context(), userID.ID, limit, offset)
	if err != nil {
		SendErrorResponse(w, "Failed to load history", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// InitializeDeposit opens a pending deposit and returns the checkout URL
// @Summary Initialize a gateway deposit
// @Tags wallet
// @Accept json
// @Produce json
// @Param deposit body models.DepositRequest true "Deposit data"
// @Success 200 {object} models.DepositInitResponse
// @Failure 400 {object} ErrorResponse
// @Router /wallet/deposit/initialize [post]
func (s *WalletService) InitializeDeposit(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req models.DepositRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	resp, err := s.paystack.InitializeTransaction(r.Context(), user.ID, user.Email, req.Amount, req.CallbackURL, "")
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		case errors.Is(err, ErrDuplicateReference):
			SendErrorResponse(w, "Duplicate deposit reference", http.StatusConflict, nil)
		case errors.Is(err, ErrGatewayUnavailable):
			SendErrorResponse(w, "Payment service unavailable", http.StatusServiceUnavailable, nil)
		default:
			SendErrorResponse(w, "Deposit initialization failed", http.StatusBadRequest, nil)
		}
		return
	}

	// A scannable checkout link for POS-style and cross-device flows.
	if png, qErr := qrcode.Encode(resp.AuthorizationURL, qrcode.Medium, 256); qErr == nil {
		resp.CheckoutQR = base64.StdEncoding.EncodeToString(png)
	}

	writeJSON(w, http.StatusOK, resp)
}

// VerifyDeposit polls the gateway and settles the referenced transaction
// @Summary Verify a deposit by reference
// @Tags wallet
// @Produce json
// @Param reference path string true "Transaction reference"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /wallet/deposit/verify/{reference} [get]
func (s *WalletService) VerifyDeposit(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserFromContext(r.Context()); !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	reference := chi.URLParam(r, "reference")

	data, err := s.paystack.VerifyTransaction(r.Context(), reference)
	if err != nil {
		if errors.Is(err, ErrGatewayUnavailable) {
			SendErrorResponse(w, "Payment service unavailable", http.StatusServiceUnavailable, nil)
			return
		}
		SendErrorResponse(w, "Verification failed", http.StatusBadRequest, nil)
		return
	}

	if data.Status == "success" {
		_, credited, err := s.ledger.ProcessSuccessfulDeposit(r.Context(), reference, strconv.FormatInt(data.ID, 10))
		if err != nil {
			s.respondResolveError(w, reference, err)
			return
		}
		depositsTotal.WithLabelValues("success").Inc()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "success",
			"message":   "Deposit verified and credited",
			"amount":    credited.String(),
			"reference": reference,
		})
		return
	}

	reason := data.GatewayResponse
	if reason == "" {
		reason = "Payment not successful"
	}
	if _, err := s.ledger.ProcessFailedDeposit(r.Context(), reference, reason); err != nil {
		s.respondResolveError(w, reference, err)
		return
	}
	depositsTotal.WithLabelValues("failed").Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "failed",
		"message":   "Deposit was not successful",
		"reference": reference,
	})
}

func (s *WalletService) respondResolveError(w http.ResponseWriter, reference string, err error) {
	zap.L().Error("[DEPOSIT] Resolve failed", zap.String("reference", reference), zap.Error(err))
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrAccountNotFound):
		SendErrorResponse(w, "Wallet not provisioned yet", http.StatusNotFound, nil)
	case errors.Is(err, ErrInvalidTransactionState):
		SendErrorResponse(w, "Transaction already resolved", http.StatusConflict, nil)
	default:
		SendErrorResponse(w, "Deposit processing failed", http.StatusInternalServerError, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
