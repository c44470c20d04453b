package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarsfinance/backend/internal/middleware"
	"github.com/jarsfinance/backend/internal/models"
)

func newWalletMock(t *testing.T, baseURL string) (*WalletService, sqlmock.Sqlmock, func()) {
	t.Helper()
	viper.Set("paystack.secret_key", "sk_test_123")
	viper.Set("paystack.base_url", baseURL)
	t.Cleanup(func() { viper.Set("paystack.base_url", "") })

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	ledger := NewLedgerService(db, nil)
	paystack := NewPaystackService(ledger, nil)
	return NewWalletService(db, ledger, paystack), mock, func() { db.Close() }
}

func authedRequest(method, target string, body []byte, userID uuid.UUID) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := middleware.WithUser(req.Context(), middleware.AuthUser{ID: userID, Email: "user@example.com"})
	return req.WithContext(ctx)
}

func TestWalletService_GetBalance(t *testing.T) {
	userID := uuid.New()
	walletID := uuid.New()

	t.Run("returns the cached balance", func(t *testing.T) {
		service, mock, closeDB := newWalletMock(t, "")
		defer closeDB()

		mock.ExpectQuery("FROM accounts WHERE owner_id = \\$1 AND type = \\$2 AND is_active = true").
			WithArgs(userID, "user_live_wallet").
			WillReturnRows(accountRow(walletID, &userID, models.AccountUserLiveWallet, "NGN", "50000", false))

		rec := httptest.NewRecorder()
		service.GetBalance(rec, authedRequest(http.MethodGet, "/api/v1/wallet/balance", nil, userID))

		assert.Equal(t, http.StatusOK, rec.Code)
		var info models.WalletInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, "50000", info.Balance.String())
		assert.Equal(t, "NGN", info.Currency)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("404 when no wallet is provisioned", func(t *testing.T) {
		service, mock, closeDB := newWalletMock(t, "")
		defer closeDB()

		mock.ExpectQuery("FROM accounts WHERE owner_id = \\$1 AND type = \\$2 AND is_active = true").
			WithArgs(userID, "user_live_wallet").
			WillReturnError(sql.ErrNoRows)

		rec := httptest.NewRecorder()
		service.GetBalance(rec, authedRequest(http.MethodGet, "/api/v1/wallet/balance", nil, userID))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("401 without an authenticated caller", func(t *testing.T) {
		service, _, closeDB := newWalletMock(t, "")
		defer closeDB()

		rec := httptest.NewRecorder()
		service.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/v1/wallet/balance", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestWalletService_InitializeDeposit(t *testing.T) {
	userID := uuid.New()

	t.Run("returns checkout URL with QR attached", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data": map[string]any{
					"authorization_url": "https://checkout.paystack.com/abc123",
					"access_code":       "abc123",
				},
			})
		}))
		defer server.Close()

		service, mock, closeDB := newWalletMock(t, server.URL)
		defer closeDB()

		mock.ExpectQuery("SELECT status FROM ledger_transactions WHERE reference_id").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := []byte(`{"amount":"500"}`)
		rec := httptest.NewRecorder()
		service.InitializeDeposit(rec, authedRequest(http.MethodPost, "/api/v1/wallet/deposit/initialize", body, userID))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp models.DepositInitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "https://checkout.paystack.com/abc123", resp.AuthorizationURL)
		assert.NotEmpty(t, resp.CheckoutQR)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		service, _, closeDB := newWalletMock(t, "")
		defer closeDB()

		body := []byte(`{"amount":"500","admin":true}`)
		rec := httptest.NewRecorder()
		service.InitializeDeposit(rec, authedRequest(http.MethodPost, "/api/v1/wallet/deposit/initialize", body, userID))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects a missing amount", func(t *testing.T) {
		service, _, closeDB := newWalletMock(t, "")
		defer closeDB()

		body := []byte(`{"callback_url":"https://app.example.com/done"}`)
		rec := httptest.NewRecorder()
		service.InitializeDeposit(rec, authedRequest(http.MethodPost, "/api/v1/wallet/deposit/initialize", body, userID))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("below-minimum amount maps to 400", func(t *testing.T) {
		service, _, closeDB := newWalletMock(t, "")
		defer closeDB()

		body := []byte(`{"amount":"50"}`)
		rec := httptest.NewRecorder()
		service.InitializeDeposit(rec, authedRequest(http.MethodPost, "/api/v1/wallet/deposit/initialize", body, userID))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWalletService_VerifyDeposit(t *testing.T) {
	userID := uuid.New()
	txnID := uuid.New()
	metadata := `{"user_id":"` + userID.String() + `"}`

	verifyRequest := func(reference string) *http.Request {
		req := authedRequest(http.MethodGet, "/api/v1/wallet/deposit/verify/"+reference, nil, userID)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("reference", reference)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	t.Run("already settled reference verifies cleanly", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data": map[string]any{
					"id":        987654,
					"reference": "dep_1",
					"status":    "success",
					"amount":    5000000,
				},
			})
		}))
		defer server.Close()

		service, mock, closeDB := newWalletMock(t, server.URL)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM ledger_transactions WHERE reference_id = \\$1 FOR UPDATE").
			WithArgs("dep_1").
			WillReturnRows(txnRow(txnID, "dep_1", models.TxDeposit, models.StatusSuccess, "50000", metadata))
		mock.ExpectRollback()

		rec := httptest.NewRecorder()
		service.VerifyDeposit(rec, verifyRequest("dep_1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"success"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed charge marks the transaction failed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data": map[string]any{
					"reference":        "dep_1",
					"status":           "failed",
					"gateway_response": "Declined",
				},
			})
		}))
		defer server.Close()

		service, mock, closeDB := newWalletMock(t, server.URL)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM ledger_transactions WHERE reference_id = \\$1 FOR UPDATE").
			WithArgs("dep_1").
			WillReturnRows(txnRow(txnID, "dep_1", models.TxDeposit, models.StatusPending, "50000", metadata))
		mock.ExpectExec("UPDATE ledger_transactions SET status").
			WithArgs("failed", "Paystack deposit | Failed: Declined", sqlmock.AnyArg(), txnID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		rec := httptest.NewRecorder()
		service.VerifyDeposit(rec, verifyRequest("dep_1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"failed"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gateway outage maps to 503", func(t *testing.T) {
		service, _, closeDB := newWalletMock(t, "http://127.0.0.1:0")
		defer closeDB()

		rec := httptest.NewRecorder()
		service.VerifyDeposit(rec, verifyRequest("dep_1"))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
