package services

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jarsfinance/backend/internal/config"
	"github.com/jarsfinance/backend/internal/middleware"
	"github.com/jarsfinance/backend/internal/models"
)

// VirtualWalletService is the HTTP surface over the paper-trading demo
// wallet: status, issuance and the reset cycle.
type VirtualWalletService struct {
	ledger    *LedgerService
	cfg       *config.LedgerConfig
	validator *ValidationHelper
}

func NewVirtualWalletService(ledger *LedgerService, cfg *config.LedgerConfig) *VirtualWalletService {
	if cfg == nil {
		cfg = config.LoadLedgerConfig()
	}
	return &VirtualWalletService{ledger: ledger, cfg: cfg, validator: NewValidationHelper()}
}

// GetStatus reports demo balance and reset eligibility
// @Summary Get virtual wallet status
// @Tags virtual-wallet
// @Produce json
// @Success 200 {object} models.ResetEligibility
// @Router /wallet/virtual/status [get]
func (s *VirtualWalletService) GetStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	eligibility, err := s.ledger.CheckResetEligibility(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to load virtual wallet status", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}

// FreeReset restores the demo balance if the cooldown has elapsed
// @Summary Request a free virtual balance reset
// @Tags virtual-wallet
// @Produce json
// @Success 200 {object} models.VirtualResetResponse
// @Failure 400 {object} ErrorResponse
// @Router /wallet/virtual/reset/free [post]
func (s *VirtualWalletService) FreeReset(w http.ResponseWriter, r *http.Request) {
	s.reset(w, r, false)
}

// PaidReset restores the demo balance regardless of cooldown
// @Summary Request a paid virtual balance reset
// @Tags virtual-wallet
// @Produce json
// @Success 200 {object} models.VirtualResetResponse
// @Router /wallet/virtual/reset/paid [post]
func (s *VirtualWalletService) PaidReset(w http.ResponseWriter, r *http.Request) {
	s.reset(w, r, true)
}

func (s *VirtualWalletService) reset(w http.ResponseWriter, r *http.Request, isPaid bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	resetType := "free"
	if isPaid {
		resetType = "paid"
	}
	zap.L().Info("[VIRTUAL RESET] Reset requested",
		zap.String("user_id", user.ID.String()),
		zap.String("reset_type", resetType))

	txn, err := s.ledger.ResetVirtualBalance(r.Context(), user.ID, isPaid)
	if err != nil {
		var notAvailable *ResetNotAvailableError
		switch {
		case errors.As(err, &notAvailable):
			SendErrorResponse(w, notAvailable.Error(), http.StatusBadRequest, nil)
		case errors.Is(err, ErrAccountNotFound):
			SendErrorResponse(w, "Demo wallet not found", http.StatusNotFound, nil)
		case errors.Is(err, ErrUserNotFound):
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		default:
			SendErrorResponse(w, "Reset failed", http.StatusInternalServerError, nil)
		}
		return
	}

	writeJSON(w, http.StatusOK, models.VirtualResetResponse{
		Message:              "Virtual balance reset successfully",
		NewBalance:           s.cfg.VirtualSeedAmount,
		ResetType:            resetType,
		TransactionReference: txn.ReferenceID,
	})
}

// IssueVirtual seeds the demo wallet, used on signup and by admin tooling
// @Summary Issue virtual balance to the demo wallet
// @Tags virtual-wallet
// @Accept json
// @Produce json
// @Success 200 {object} models.LedgerTransaction
// @Router /wallet/virtual/issue [post]
func (s *VirtualWalletService) IssueVirtual(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if r.Body != nil {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
		if err := dec.Decode(&req); err != nil && err != io.EOF {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
	}

	txn, err := s.ledger.IssueVirtualBalance(r.Context(), user.ID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound):
			SendErrorResponse(w, "Demo wallet not found", http.StatusNotFound, nil)
		case errors.Is(err, ErrInvalidAmount):
			SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		default:
			SendErrorResponse(w, "Issuance failed", http.StatusInternalServerError, nil)
		}
		return
	}
	writeJSON(w, http.StatusOK, txn)
}
