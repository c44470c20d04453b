package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signatureFor(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newPaystackMock(t *testing.T, baseURL string) (*PaystackService, sqlmock.Sqlmock, func()) {
	t.Helper()
	viper.Set("paystack.secret_key", "sk_test_123")
	viper.Set("paystack.base_url", baseURL)
	t.Cleanup(func() { viper.Set("paystack.base_url", "") })

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	ledger := NewLedgerService(db, nil)
	return NewPaystackService(ledger, nil), mock, func() { db.Close() }
}

func TestPaystackService_InitializeTransaction(t *testing.T) {
	userID := uuid.New()

	t.Run("opens a pending deposit and returns the checkout URL", func(t *testing.T) {
		var gotAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			assert.Equal(t, "/transaction/initialize", r.URL.Path)

			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "user@example.com", payload["email"])
			assert.Equal(t, float64(50000), payload["amount"])

			json.NewEncoder(w).Encode(map[string]any{
				"status":  true,
				"message": "Authorization URL created",
				"data": map[string]any{
					"authorization_url": "https://checkout.paystack.com/abc123",
					"access_code":       "abc123",
					"reference":         payload["reference"],
				},
			})
		}))
		defer server.Close()

		service, mock, closeDB := newPaystackMock(t, server.URL)
		defer closeDB()

		mock.ExpectQuery("SELECT status FROM ledger_transactions WHERE reference_id").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		resp, err := service.InitializeTransaction(context.Background(), userID, "user@example.com",
			decimal.NewFromInt(500), "", "")
		require.NoError(t, err)
		assert.Equal(t, "Bearer sk_test_123", gotAuth)
		assert.Equal(t, "https://checkout.paystack.com/abc123", resp.AuthorizationURL)
		assert.Equal(t, "abc123", resp.AccessCode)
		assert.Contains(t, resp.Reference, "dep_")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects deposits below the minimum", func(t *testing.T) {
		service, mock, closeDB := newPaystackMock(t, "http://127.0.0.1:0")
		defer closeDB()

		_, err := service.InitializeTransaction(context.Background(), userID, "user@example.com",
			decimal.NewFromInt(50), "", "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gateway refusal surfaces after the pending transaction exists", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"status":  false,
				"message": "Invalid key",
			})
		}))
		defer server.Close()

		service, mock, closeDB := newPaystackMock(t, server.URL)
		defer closeDB()

		mock.ExpectQuery("SELECT status FROM ledger_transactions WHERE reference_id").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := service.InitializeTransaction(context.Background(), userID, "user@example.com",
			decimal.NewFromInt(500), "", "")
		assert.ErrorIs(t, err, ErrDepositRejected)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaystackService_VerifyTransaction(t *testing.T) {
	t.Run("returns the authoritative charge data", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/transaction/verify/dep_1", r.URL.Path)
			assert.Equal(t, http.MethodGet, r.Method)
			json.NewEncoder(w).Encode(map[string]any{
				"status":  true,
				"message": "Verification successful",
				"data": map[string]any{
					"id":        987654,
					"reference": "dep_1",
					"status":    "success",
					"amount":    5000000,
				},
			})
		}))
		defer server.Close()

		service, _, closeDB := newPaystackMock(t, server.URL)
		defer closeDB()

		data, err := service.VerifyTransaction(context.Background(), "dep_1")
		require.NoError(t, err)
		assert.Equal(t, "success", data.Status)
		assert.Equal(t, int64(5000000), data.Amount)
	})

	t.Run("gateway failure envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"status":  false,
				"message": "Transaction reference not found",
			})
		}))
		defer server.Close()

		service, _, closeDB := newPaystackMock(t, server.URL)
		defer closeDB()

		_, err := service.VerifyTransaction(context.Background(), "dep_missing")
		assert.ErrorIs(t, err, ErrDepositRejected)
	})

	t.Run("unreachable gateway", func(t *testing.T) {
		service, _, closeDB := newPaystackMock(t, "http://127.0.0.1:0")
		defer closeDB()

		_, err := service.VerifyTransaction(context.Background(), "dep_1")
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	})
}

func TestPaystackService_VerifySignature(t *testing.T) {
	service, _, closeDB := newPaystackMock(t, "")
	defer closeDB()

	body := []byte(`{"event":"charge.success"}`)
	valid := signatureFor(body, "sk_test_123")

	assert.True(t, service.VerifySignature(body, valid))
	assert.False(t, service.VerifySignature(body, "tampered"))
	assert.False(t, service.VerifySignature(body, ""))
	assert.False(t, service.VerifySignature([]byte(`{"event":"charge.failed"}`), valid))
}
