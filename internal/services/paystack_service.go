package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jarsfinance/backend/internal/config"
	"github.com/jarsfinance/backend/internal/models"
)

var (
	ErrDepositRejected    = errors.New("gateway rejected the transaction")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

const defaultPaystackBaseURL = "https://api.paystack.co"

// PaystackService talks to the payment gateway and opens the matching
// pending ledger transactions. It owns webhook signature verification;
// everything that reaches the ledger through it is already authenticated.
type PaystackService struct {
	ledger    *LedgerService
	cfg       *config.LedgerConfig
	client    *http.Client
	baseURL   string
	secretKey string
}

func NewPaystackService(ledger *LedgerService, cfg *config.LedgerConfig) *PaystackService {
	baseURL := viper.GetString("paystack.base_url")
	if baseURL == "" {
		baseURL = defaultPaystackBaseURL
	}
	return &PaystackService{
		ledger:    ledger,
		cfg:       cfg,
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   baseURL,
		secretKey: viper.GetString("paystack.secret_key"),
	}
}

// InitializeTransaction opens a pending deposit and asks the gateway for
// a checkout URL. The ledger transaction is the audit record of intent;
// it exists before the user ever reaches the payment page.
func (ps *PaystackService) InitializeTransaction(ctx context.Context, userID uuid.UUID, email string, amountNaira decimal.Decimal, callbackURL, description string) (*models.DepositInitResponse, error) {
	amountKobo := amountNaira.Mul(decimal.NewFromInt(100)).IntPart()
	if amountKobo < ps.cfg.MinDepositKobo {
		zap.L().Warn("[PAYSTACK] Deposit below minimum",
			zap.String("user_id", userID.String()),
			zap.String("amount", amountNaira.String()))
		return nil, fmt.Errorf("%w: minimum deposit is ₦%d", ErrInvalidAmount, ps.cfg.MinDepositKobo/100)
	}

	reference := fmt.Sprintf("dep_%s_%s", shortUUID(userID, 8), shortID(12))
	if description == "" {
		description = fmt.Sprintf("Deposit of ₦%s", amountNaira.StringFixed(2))
	}

	if _, err := ps.ledger.CreatePendingDeposit(ctx, userID, amountKobo, reference, description); err != nil {
		return nil, err
	}

	if callbackURL == "" {
		callbackURL = viper.GetString("paystack.callback_url")
	}
	payload := map[string]any{
		"email":        email,
		"amount":       amountKobo,
		"reference":    reference,
		"callback_url": callbackURL,
	}

	data, err := ps.post(ctx, "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}

	zap.L().Info("[PAYSTACK] Transaction initialized",
		zap.String("reference", reference),
		zap.String("user_id", userID.String()),
		zap.String("amount", amountNaira.String()))

	return &models.DepositInitResponse{
		Reference:        reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
	}, nil
}

// VerifyTransaction polls the gateway for the authoritative status of a
// reference. Used by the client-driven verify flow as a fallback when the
// webhook has not landed yet.
func (ps *PaystackService) VerifyTransaction(ctx context.Context, reference string) (*models.PaystackData, error) {
	zap.L().Info("[PAYSTACK] Verifying transaction", zap.String("reference", reference))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ps.baseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+ps.secretKey)

	resp, err := ps.client.Do(req)
	if err != nil {
		zap.L().Error("[PAYSTACK NETWORK ERROR] Verification failed",
			zap.String("reference", reference), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var envelope models.PaystackResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("gateway response decode failed: %w", err)
	}
	if !envelope.Status {
		zap.L().Error("[PAYSTACK VERIFY FAILED]",
			zap.String("reference", reference),
			zap.String("message", envelope.Message))
		return nil, fmt.Errorf("%w: %s", ErrDepositRejected, envelope.Message)
	}

	zap.L().Info("[PAYSTACK VERIFY]",
		zap.String("reference", reference),
		zap.String("status", envelope.Data.Status),
		zap.Int64("amount_kobo", envelope.Data.Amount))
	return &envelope.Data, nil
}

// VerifySignature checks the x-paystack-signature header: HMAC-SHA512 of
// the raw body under the secret key, compared in constant time.
func (ps *PaystackService) VerifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(ps.secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (ps *PaystackService) post(ctx context.Context, path string, payload any) (*models.PaystackData, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ps.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+ps.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ps.client.Do(req)
	if err != nil {
		zap.L().Error("[PAYSTACK NETWORK ERROR] Request failed",
			zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var envelope models.PaystackResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("gateway response decode failed: %w", err)
	}
	if !envelope.Status {
		zap.L().Error("[PAYSTACK ERROR] Gateway returned failure",
			zap.String("path", path),
			zap.String("message", envelope.Message))
		return nil, fmt.Errorf("%w: %s", ErrDepositRejected, envelope.Message)
	}
	return &envelope.Data, nil
}
