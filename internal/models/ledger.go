package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType distinguishes user wallets from platform system accounts.
type AccountType string

const (
	AccountUserLiveWallet       AccountType = "user_live_wallet"
	AccountUserDemoWallet       AccountType = "user_demo_wallet"
	AccountSystemFeeWallet      AccountType = "system_fee_wallet"
	AccountSystemBankSettlement AccountType = "system_bank_settlement"
	AccountSystemBankBalance    AccountType = "system_bank_balance" // virtual currency treasury
)

type TransactionType string

const (
	TxDeposit          TransactionType = "deposit"
	TxWithdrawal       TransactionType = "withdrawal"
	TxTradeProfit      TransactionType = "trade_profit"
	TxPerformanceFee   TransactionType = "performance_fee"
	TxSubscriptionFee  TransactionType = "subscription_fee"
	TxVirtualIssuance  TransactionType = "virtual_issuance"
	TxVirtualReset     TransactionType = "virtual_reset"
	TxVirtualResetFree TransactionType = "virtual_reset_free"
)

type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusSuccess  TransactionStatus = "success"
	StatusFailed   TransactionStatus = "failed"
	StatusReversed TransactionStatus = "reversed"
)

type EntryDirection string

const (
	DirectionDebit  EntryDirection = "debit"
	DirectionCredit EntryDirection = "credit"
)

// Account is a balance-holding row in the ledger. OwnerID is nil for
// system accounts, which are looked up by type alone.
type Account struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OwnerID   *uuid.UUID      `json:"owner_id,omitempty" db:"owner_id"`
	Type      AccountType     `json:"type" db:"type"`
	Name      string          `json:"name,omitempty" db:"name"`
	Currency  string          `json:"currency" db:"currency"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	IsActive  bool            `json:"is_active" db:"is_active"`
	IsSystem  bool            `json:"is_system" db:"is_system"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// LedgerTransaction is one business event. ReferenceID is caller-supplied,
// globally unique, and serves as the idempotency key for webhook delivery.
type LedgerTransaction struct {
	ID                uuid.UUID         `json:"id" db:"id"`
	ReferenceID       string            `json:"reference_id" db:"reference_id"`
	Type              TransactionType   `json:"type" db:"type"`
	Status            TransactionStatus `json:"status" db:"status"`
	Amount            decimal.Decimal   `json:"amount" db:"amount"`
	Currency          string            `json:"currency" db:"currency"`
	Description       string            `json:"description,omitempty" db:"description"`
	ExternalReference string            `json:"external_reference,omitempty" db:"external_reference"`
	Metadata          string            `json:"metadata,omitempty" db:"tx_metadata"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// OwnerID extracts the owning user carried in the transaction metadata.
// The owner lives there rather than in a foreign key because a pending
// deposit can be opened before the user's wallet exists.
func (t *LedgerTransaction) OwnerID() (uuid.UUID, error) {
	var meta struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal([]byte(t.Metadata), &meta); err != nil {
		return uuid.Nil, fmt.Errorf("transaction %s has malformed metadata: %w", t.ReferenceID, err)
	}
	return uuid.Parse(meta.UserID)
}

// LedgerEntry is one leg of a double-entry posting. Exactly one debit and
// one credit of equal amount exist per resolved transaction, each carrying
// a snapshot of the account balance immediately after the posting.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	TransactionID uuid.UUID       `json:"transaction_id" db:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id" db:"account_id"`
	Direction     EntryDirection  `json:"direction" db:"direction"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// WalletInfo is the serving-path balance read.
type WalletInfo struct {
	AccountID uuid.UUID       `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	IsActive  bool            `json:"is_active"`
}

// WalletSummary aggregates the entry set for dashboards.
type WalletSummary struct {
	Balance             decimal.Decimal `json:"balance"`
	Currency            string          `json:"currency"`
	TotalDeposits       decimal.Decimal `json:"total_deposits"`
	TotalFeesPaid       decimal.Decimal `json:"total_fees_paid"`
	PendingTransactions int             `json:"pending_transactions"`
}

// HistoryPage is a most-recent-first slice of an account's entries.
type HistoryPage struct {
	Entries []LedgerEntry `json:"entries"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// ResetEligibility reports whether the demo balance can be reset for free.
type ResetEligibility struct {
	CurrentBalance     decimal.Decimal `json:"current_balance"`
	IsBlown            bool            `json:"is_blown"`
	FreeResetAvailable bool            `json:"free_reset_available"`
	FreeResetDate      *time.Time      `json:"free_reset_date,omitempty"`
	DaysSinceLastReset *int            `json:"days_since_last_reset,omitempty"`
	PaidResetCostUSD   decimal.Decimal `json:"paid_reset_cost_usd"`
}

// DepositRequest is the payload for initializing a gateway deposit.
type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	CallbackURL string          `json:"callback_url,omitempty" validate:"omitempty,url"`
}

// DepositInitResponse carries the gateway checkout handle back to the client.
type DepositInitResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	CheckoutQR       string `json:"checkout_qr,omitempty"` // base64 PNG of the authorization URL
}

// VirtualResetResponse reports the outcome of a demo balance reset.
type VirtualResetResponse struct {
	Message              string          `json:"message"`
	NewBalance           decimal.Decimal `json:"new_balance"`
	ResetType            string          `json:"reset_type"`
	TransactionReference string          `json:"transaction_reference"`
}
