package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jarsfinance/backend/internal/config"
	"github.com/jarsfinance/backend/internal/models"
)

var (
	ErrDuplicateReference      = errors.New("transaction reference already exists")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrAccountNotFound         = errors.New("account not found")
	ErrSystemAccountNotFound   = errors.New("system account not found")
	ErrInvalidTransactionState = errors.New("transaction is in an invalid state")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrUserNotFound            = errors.New("user not found")
	ErrInvalidAmount           = errors.New("invalid amount")
)

// ResetNotAvailableError reports a demo reset request inside the cooldown
// window, carrying the next eligible date for the client.
type ResetNotAvailableError struct {
	NextReset time.Time
}

func (e *ResetNotAvailableError) Error() string {
	return fmt.Sprintf("free reset not available, next free reset: %s", e.NextReset.Format(time.RFC3339))
}

// postingRoute maps a transaction type to the account roles of its two
// legs. Destination receives the credit, counterparty takes the debit.
// Adding a transaction type is a table change, not new control flow.
type postingRoute struct {
	Destination  models.AccountType
	Counterparty models.AccountType
}

var postingRoutes = map[models.TransactionType]postingRoute{
	models.TxDeposit:          {models.AccountUserLiveWallet, models.AccountSystemBankSettlement},
	models.TxVirtualIssuance:  {models.AccountUserDemoWallet, models.AccountSystemBankBalance},
	models.TxVirtualReset:     {models.AccountUserDemoWallet, models.AccountSystemBankBalance},
	models.TxVirtualResetFree: {models.AccountUserDemoWallet, models.AccountSystemBankBalance},
	// Fee flows run the other way: the system fee wallet is credited and
	// the user's live wallet is debited.
	models.TxPerformanceFee: {models.AccountSystemFeeWallet, models.AccountUserLiveWallet},
}

// txMetadata travels inside ledger_transactions.tx_metadata. The owning
// user lives here rather than in a foreign key because a pending deposit
// can be opened before the user's wallet is provisioned.
type txMetadata struct {
	UserID     string `json:"user_id"`
	AmountKobo int64  `json:"amount_kobo,omitempty"`
}

// LedgerService is the only component allowed to create transactions and
// entries and to mutate account balances. Every mutating operation runs
// inside a single database transaction.
type LedgerService struct {
	db  *sql.DB
	cfg *config.LedgerConfig
}

func NewLedgerService(db *sql.DB, cfg *config.LedgerConfig) *LedgerService {
	if cfg == nil {
		cfg = config.LoadLedgerConfig()
	}
	return &LedgerService{db: db, cfg: cfg}
}

// CreatePendingDeposit opens a PENDING deposit transaction for a caller
// supplied reference. Amounts arrive in kobo and are stored in naira.
// References are globally unique forever: a reference that was ever used,
// whatever its status, can never be opened again.
func (s *LedgerService) CreatePendingDeposit(ctx context.Context, userID uuid.UUID, amountKobo int64, reference, description string) (*models.LedgerTransaction, error) {
	amount := decimal.NewFromInt(amountKobo).Div(decimal.NewFromInt(100))
	zap.L().Info("[DEPOSIT INIT] Creating pending deposit",
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))

	var existingStatus string
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM ledger_transactions WHERE reference_id = $1", reference,
	).Scan(&existingStatus)
	if err == nil {
		zap.L().Error("[DUPLICATE BLOCKED] Deposit reference already exists",
			zap.String("reference", reference),
			zap.String("existing_status", existingStatus))
		return nil, ErrDuplicateReference
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}

	if description == "" {
		description = "Paystack deposit"
	}
	meta, err := json.Marshal(txMetadata{UserID: userID.String(), AmountKobo: amountKobo})
	if err != nil {
		return nil, fmt.Errorf("metadata encode failed: %w", err)
	}

	txn := &models.LedgerTransaction{
		ID:          uuid.New(),
		ReferenceID: reference,
		Type:        models.TxDeposit,
		Status:      models.StatusPending,
		Amount:      amount,
		Currency:    "NGN",
		Description: description,
		Metadata:    string(meta),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO ledger_transactions (id, reference_id, type, status, amount, currency, description, tx_metadata, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		txn.ID, txn.ReferenceID, string(txn.Type), string(txn.Status), txn.Amount.String(),
		txn.Currency, txn.Description, txn.Metadata, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		// The unique constraint on reference_id is the real idempotency
		// boundary; the read above only gives a friendlier fast path.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("deposit insert failed: %w", err)
	}

	zap.L().Info("[DEPOSIT PENDING] Transaction created",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("reference", reference))
	return txn, nil
}

// ProcessSuccessfulDeposit resolves a pending transaction to SUCCESS and
// posts the balanced entry pair. Re-delivery of an already successful
// reference is a no-op returning a zero credited amount, checked under a
// row lock on the transaction so concurrent deliveries serialize.
func (s *LedgerService) ProcessSuccessfulDeposit(ctx context.Context, reference, externalReference string) (*models.LedgerTransaction, decimal.Decimal, error) {
	zap.L().Info("[DEPOSIT PROCESSING] Resolving deposit",
		zap.String("reference", reference),
		zap.String("external_reference", externalReference))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	txn, err := s.lockTransactionByReference(tx, reference)
	if err != nil {
		return nil, decimal.Zero, err
	}

	if txn.Status == models.StatusSuccess {
		zap.L().Warn("[DUPLICATE WEBHOOK] Transaction already processed, ignoring",
			zap.String("reference", reference))
		return txn, decimal.Zero, nil
	}
	if txn.Status != models.StatusPending {
		zap.L().Error("[INVALID STATE] Cannot resolve transaction",
			zap.String("reference", reference),
			zap.String("status", string(txn.Status)))
		return nil, decimal.Zero, fmt.Errorf("%w: %s is %s", ErrInvalidTransactionState, reference, txn.Status)
	}

	ownerID, err := txn.OwnerID()
	if err != nil {
		return nil, decimal.Zero, err
	}

	destination, counterparty, err := s.lockRouteAccounts(tx, txn.Type, ownerID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	if err := s.postDouble(tx, txn.ID, destination, counterparty, txn.Amount); err != nil {
		return nil, decimal.Zero, err
	}

	if _, err := tx.Exec(
		"UPDATE ledger_transactions SET status = $1, external_reference = $2, updated_at = $3 WHERE id = $4",
		string(models.StatusSuccess), externalReference, time.Now(), txn.ID,
	); err != nil {
		return nil, decimal.Zero, fmt.Errorf("status update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, decimal.Zero, fmt.Errorf("tx commit failed: %w", err)
	}

	txn.Status = models.StatusSuccess
	txn.ExternalReference = externalReference

	zap.L().Info("[DEPOSIT SUCCESS] Amount credited",
		zap.String("reference", reference),
		zap.String("amount", txn.Amount.String()),
		zap.String("destination_balance", destination.Balance.String()),
		zap.String("counterparty_balance", counterparty.Balance.String()))
	return txn, txn.Amount, nil
}

// ProcessFailedDeposit marks a pending transaction FAILED and records the
// reason. A transaction already in a terminal state is returned unchanged:
// a success must never be downgraded by a late failure callback.
func (s *LedgerService) ProcessFailedDeposit(ctx context.Context, reference, reason string) (*models.LedgerTransaction, error) {
	zap.L().Warn("[DEPOSIT FAILED] Processing failed deposit",
		zap.String("reference", reference),
		zap.String("reason", reason))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	txn, err := s.lockTransactionByReference(tx, reference)
	if err != nil {
		return nil, err
	}

	if txn.Status != models.StatusPending {
		zap.L().Warn("[DEPOSIT] Transaction already resolved, cannot mark failed",
			zap.String("reference", reference),
			zap.String("status", string(txn.Status)))
		return txn, nil
	}

	txn.Description = fmt.Sprintf("%s | Failed: %s", txn.Description, reason)
	txn.Status = models.StatusFailed

	if _, err := tx.Exec(
		"UPDATE ledger_transactions SET status = $1, description = $2, updated_at = $3 WHERE id = $4",
		string(models.StatusFailed), txn.Description, time.Now(), txn.ID,
	); err != nil {
		return nil, fmt.Errorf("status update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	zap.L().Warn("[DEPOSIT MARKED FAILED]",
		zap.String("reference", reference),
		zap.String("amount", txn.Amount.String()))
	return txn, nil
}

// ChargePerformanceFee debits a user's live wallet and credits the
// platform fee wallet in one balanced transaction.
func (s *LedgerService) ChargePerformanceFee(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, tradeReference, description string) (*models.LedgerTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	reference := fmt.Sprintf("fee_%s_%s", tradeReference, shortID(8))
	if description == "" {
		description = fmt.Sprintf("Performance fee for trade %s", tradeReference)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	userWallet, err := s.lockUserAccount(tx, userID, models.AccountUserLiveWallet)
	if err != nil {
		return nil, err
	}
	if userWallet.Balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: %s < %s", ErrInsufficientFunds, userWallet.Balance, amount)
	}

	feeWallet, err := s.lockSystemAccount(tx, models.AccountSystemFeeWallet)
	if err != nil {
		return nil, err
	}

	txn, err := s.insertTransaction(tx, reference, models.TxPerformanceFee, models.StatusSuccess, amount, "NGN", description, "")
	if err != nil {
		return nil, err
	}

	if err := s.postDouble(tx, txn.ID, feeWallet, userWallet, amount); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	zap.L().Info("[FEE] Performance fee charged",
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))
	return txn, nil
}

// IssueVirtualBalance seeds a user's demo wallet with paper-trading funds
// drawn from the virtual currency treasury.
func (s *LedgerService) IssueVirtualBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.LedgerTransaction, error) {
	if amount.IsZero() {
		amount = s.cfg.VirtualSeedAmount
	}
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	reference := fmt.Sprintf("virtual_issue_%s_%s", shortUUID(userID, 8), shortID(8))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	wallet, err := s.lockUserAccount(tx, userID, models.AccountUserDemoWallet)
	if err != nil {
		return nil, err
	}
	treasury, err := s.lockSystemAccount(tx, models.AccountSystemBankBalance)
	if err != nil {
		return nil, err
	}

	txn, err := s.insertTransaction(tx, reference, models.TxVirtualIssuance, models.StatusSuccess, amount, "USD", "Initial virtual balance issuance", "")
	if err != nil {
		return nil, err
	}

	if err := s.postDouble(tx, txn.ID, wallet, treasury, amount); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	zap.L().Info("[VIRTUAL ISSUANCE] Virtual balance issued",
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.String()),
		zap.String("new_balance", wallet.Balance.String()))
	return txn, nil
}

// FundDemoWallet tops up a demo wallet outside the reset cycle, posted
// against the treasury like any other virtual movement.
func (s *LedgerService) FundDemoWallet(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.LedgerTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	reference := fmt.Sprintf("demo_fund_%s", shortID(12))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	wallet, err := s.lockUserAccount(tx, userID, models.AccountUserDemoWallet)
	if err != nil {
		return nil, err
	}
	treasury, err := s.lockSystemAccount(tx, models.AccountSystemBankBalance)
	if err != nil {
		return nil, err
	}

	txn, err := s.insertTransaction(tx, reference, models.TxDeposit, models.StatusSuccess, amount, "USD", "Wallet funding for demo account", "")
	if err != nil {
		return nil, err
	}

	if err := s.postDouble(tx, txn.ID, wallet, treasury, amount); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	zap.L().Info("[DEMO FUNDING] Demo wallet funded",
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.String()),
		zap.String("new_balance", wallet.Balance.String()))
	return txn, nil
}

// CheckResetEligibility reports the demo wallet state and whether the free
// reset cooldown has elapsed.
func (s *LedgerService) CheckResetEligibility(ctx context.Context, userID uuid.UUID) (*models.ResetEligibility, error) {
	var lastReset sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT virtual_balance_reset_at FROM users WHERE id = $1", userID,
	).Scan(&lastReset)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	balance := decimal.Zero
	var balanceStr string
	err = s.db.QueryRowContext(ctx,
		"SELECT balance FROM accounts WHERE owner_id = $1 AND type = $2",
		userID, string(models.AccountUserDemoWallet),
	).Scan(&balanceStr)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("demo wallet lookup failed: %w", err)
	}
	if err == nil {
		balance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("balance parse failed: %w", err)
		}
	}

	elig := &models.ResetEligibility{
		CurrentBalance:     balance,
		IsBlown:            !balance.IsPositive(),
		FreeResetAvailable: true,
		PaidResetCostUSD:   s.cfg.PaidResetCostUSD,
	}

	if lastReset.Valid {
		since := time.Since(lastReset.Time)
		days := int(since.Hours() / 24)
		elig.DaysSinceLastReset = &days
		elig.FreeResetAvailable = since >= s.cfg.ResetCooldown
		if !elig.FreeResetAvailable {
			next := lastReset.Time.Add(s.cfg.ResetCooldown)
			elig.FreeResetDate = &next
		}
	}
	return elig, nil
}

// ResetVirtualBalance restores the demo wallet to the seed amount. The
// adjustment is signed: an inflated balance is shrunk back to baseline
// through the same balanced posting, just with the legs reversed. Both
// directions sit behind the same cooldown gate.
func (s *LedgerService) ResetVirtualBalance(ctx context.Context, userID uuid.UUID, isPaid bool) (*models.LedgerTransaction, error) {
	eligibility, err := s.CheckResetEligibility(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !isPaid && !eligibility.FreeResetAvailable {
		next := time.Now()
		if eligibility.FreeResetDate != nil {
			next = *eligibility.FreeResetDate
		}
		return nil, &ResetNotAvailableError{NextReset: next}
	}

	txType := models.TxVirtualResetFree
	resetType := "free"
	if isPaid {
		txType = models.TxVirtualReset
		resetType = "paid"
	}
	reference := fmt.Sprintf("virtual_reset_%s_%s", shortUUID(userID, 8), shortID(8))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	wallet, err := s.lockUserAccount(tx, userID, models.AccountUserDemoWallet)
	if err != nil {
		return nil, err
	}
	treasury, err := s.lockSystemAccount(tx, models.AccountSystemBankBalance)
	if err != nil {
		return nil, err
	}

	adjustment := s.cfg.VirtualSeedAmount.Sub(wallet.Balance)

	txn, err := s.insertTransaction(tx, reference, txType, models.StatusSuccess,
		adjustment.Abs(), "USD", fmt.Sprintf("Virtual balance reset (%s)", resetType), "")
	if err != nil {
		return nil, err
	}

	switch {
	case adjustment.IsPositive():
		err = s.postDouble(tx, txn.ID, wallet, treasury, adjustment)
	case adjustment.IsNegative():
		err = s.postDouble(tx, txn.ID, treasury, wallet, adjustment.Abs())
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(
		"UPDATE users SET virtual_balance_reset_at = $1, virtual_balance_blown_at = NULL WHERE id = $2",
		time.Now(), userID,
	); err != nil {
		return nil, fmt.Errorf("reset timestamp update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	zap.L().Info("[VIRTUAL RESET] Demo balance reset",
		zap.String("user_id", userID.String()),
		zap.String("reset_type", resetType),
		zap.String("adjustment", adjustment.String()))
	return txn, nil
}

// GetUserWallet returns the user's active wallet of the given type, or
// nil when none is provisioned yet.
func (s *LedgerService) GetUserWallet(ctx context.Context, userID uuid.UUID, acctType models.AccountType) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, type, currency, balance, is_active, is_system FROM accounts WHERE owner_id = $1 AND type = $2 AND is_active = true",
		userID, string(acctType),
	)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wallet lookup failed: %w", err)
	}
	return account, nil
}

// GetWalletInfo is the serving-path balance read: a direct read of the
// cached balance, never a fold over entries.
func (s *LedgerService) GetWalletInfo(ctx context.Context, userID uuid.UUID) (*models.WalletInfo, error) {
	wallet, err := s.GetUserWallet(ctx, userID, models.AccountUserLiveWallet)
	if err != nil || wallet == nil {
		return nil, err
	}
	return &models.WalletInfo{
		AccountID: wallet.ID,
		Balance:   wallet.Balance,
		Currency:  wallet.Currency,
		IsActive:  wallet.IsActive,
	}, nil
}

// GetWalletSummary aggregates entry totals by direction plus the count of
// transactions still pending for the owner.
func (s *LedgerService) GetWalletSummary(ctx context.Context, userID uuid.UUID) (*models.WalletSummary, error) {
	wallet, err := s.GetUserWallet(ctx, userID, models.AccountUserLiveWallet)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return &models.WalletSummary{
			Balance:       decimal.Zero,
			Currency:      "NGN",
			TotalDeposits: decimal.Zero,
			TotalFeesPaid: decimal.Zero,
		}, nil
	}

	summary := &models.WalletSummary{Balance: wallet.Balance, Currency: wallet.Currency}

	var creditStr, debitStr string
	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE 0 END), 0), COALESCE(SUM(CASE WHEN direction = 'debit' THEN amount ELSE 0 END), 0) FROM ledger_entries WHERE account_id = $1",
		wallet.ID,
	).Scan(&creditStr, &debitStr)
	if err != nil {
		return nil, fmt.Errorf("summary aggregate failed: %w", err)
	}
	if summary.TotalDeposits, err = decimal.NewFromString(creditStr); err != nil {
		return nil, fmt.Errorf("credit sum parse failed: %w", err)
	}
	if summary.TotalFeesPaid, err = decimal.NewFromString(debitStr); err != nil {
		return nil, fmt.Errorf("debit sum parse failed: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(id) FROM ledger_transactions WHERE status = 'pending' AND tx_metadata LIKE $1",
		"%"+userID.String()+"%",
	).Scan(&summary.PendingTransactions)
	if err != nil {
		return nil, fmt.Errorf("pending count failed: %w", err)
	}
	return summary, nil
}

// GetTransactionHistory pages through an account's entries, newest first.
func (s *LedgerService) GetTransactionHistory(ctx context.Context, userID uuid.UUID, limit, offset int) (*models.HistoryPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	wallet, err := s.GetUserWallet(ctx, userID, models.AccountUserLiveWallet)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return &models.HistoryPage{Entries: []models.LedgerEntry{}, Limit: limit, Offset: offset}, nil
	}

	page := &models.HistoryPage{Entries: []models.LedgerEntry{}, Limit: limit, Offset: offset}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(id) FROM ledger_entries WHERE account_id = $1", wallet.ID,
	).Scan(&page.Total)
	if err != nil {
		return nil, fmt.Errorf("history count failed: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, transaction_id, account_id, direction, amount, balance_after, created_at FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		wallet.ID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry models.LedgerEntry
		var amountStr, balanceStr string
		var direction string
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.AccountID, &direction, &amountStr, &balanceStr, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("history scan failed: %w", err)
		}
		entry.Direction = models.EntryDirection(direction)
		if entry.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("entry amount parse failed: %w", err)
		}
		if entry.BalanceAfter, err = decimal.NewFromString(balanceStr); err != nil {
			return nil, fmt.Errorf("entry balance parse failed: %w", err)
		}
		page.Entries = append(page.Entries, entry)
	}
	return page, rows.Err()
}

// GetTransactionByReference fetches a transaction without locking it.
func (s *LedgerService) GetTransactionByReference(ctx context.Context, reference string) (*models.LedgerTransaction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, reference_id, type, status, amount, currency, description, external_reference, tx_metadata, created_at, updated_at FROM ledger_transactions WHERE reference_id = $1",
		reference,
	)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction lookup failed: %w", err)
	}
	return txn, nil
}

// CalculateBalance recomputes an account balance by folding its entries,
// credits positive and debits negative. This is a consistency check, not
// a serving path: the cached accounts.balance must always equal it.
func (s *LedgerService) CalculateBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var balanceStr string
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0) FROM ledger_entries WHERE account_id = $1",
		accountID,
	).Scan(&balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance fold failed: %w", err)
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance parse failed: %w", err)
	}
	return balance, nil
}

// --- internals -----------------------------------------------------------

// lockTransactionByReference takes the row lock that serializes all
// resolve calls for one reference.
func (s *LedgerService) lockTransactionByReference(tx *sql.Tx, reference string) (*models.LedgerTransaction, error) {
	row := tx.QueryRow(
		"SELECT id, reference_id, type, status, amount, currency, description, external_reference, tx_metadata, created_at, updated_at FROM ledger_transactions WHERE reference_id = $1 FOR UPDATE",
		reference,
	)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		zap.L().Error("[DEPOSIT FAILED] Transaction not found", zap.String("reference", reference))
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("transaction lock failed: %w", err)
	}
	return txn, nil
}

// lockRouteAccounts resolves and locks the two legs for a transaction
// type. The user leg is always locked before the system leg so concurrent
// postings acquire locks in a consistent order.
func (s *LedgerService) lockRouteAccounts(tx *sql.Tx, txType models.TransactionType, ownerID uuid.UUID) (destination, counterparty *models.Account, err error) {
	route, ok := postingRoutes[txType]
	if !ok {
		return nil, nil, fmt.Errorf("no posting route for transaction type %q", txType)
	}

	destination, err = s.lockUserAccount(tx, ownerID, route.Destination)
	if err != nil {
		return nil, nil, err
	}
	counterparty, err = s.lockSystemAccount(tx, route.Counterparty)
	if err != nil {
		return nil, nil, err
	}
	return destination, counterparty, nil
}

func (s *LedgerService) lockUserAccount(tx *sql.Tx, ownerID uuid.UUID, acctType models.AccountType) (*models.Account, error) {
	row := tx.QueryRow(
		"SELECT id, owner_id, type, currency, balance, is_active, is_system FROM accounts WHERE owner_id = $1 AND type = $2 AND is_active = true FOR UPDATE",
		ownerID, string(acctType),
	)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		zap.L().Warn("[LEDGER] No active account for user",
			zap.String("owner_id", ownerID.String()),
			zap.String("type", string(acctType)))
		return nil, fmt.Errorf("%w: %s wallet for user %s", ErrAccountNotFound, acctType, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("account lock failed: %w", err)
	}
	return account, nil
}

func (s *LedgerService) lockSystemAccount(tx *sql.Tx, acctType models.AccountType) (*models.Account, error) {
	row := tx.QueryRow(
		"SELECT id, owner_id, type, currency, balance, is_active, is_system FROM accounts WHERE is_system = true AND type = $1 FOR UPDATE",
		string(acctType),
	)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		zap.L().Error("[CRITICAL] System account not found, postings will fail until it is seeded",
			zap.String("type", string(acctType)))
		return nil, fmt.Errorf("%w: %s", ErrSystemAccountNotFound, acctType)
	}
	if err != nil {
		return nil, fmt.Errorf("system account lock failed: %w", err)
	}
	return account, nil
}

func (s *LedgerService) insertTransaction(tx *sql.Tx, reference string, txType models.TransactionType, status models.TransactionStatus, amount decimal.Decimal, currency, description, metadata string) (*models.LedgerTransaction, error) {
	txn := &models.LedgerTransaction{
		ID:          uuid.New(),
		ReferenceID: reference,
		Type:        txType,
		Status:      status,
		Amount:      amount,
		Currency:    currency,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	_, err := tx.Exec(
		"INSERT INTO ledger_transactions (id, reference_id, type, status, amount, currency, description, tx_metadata, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		txn.ID, txn.ReferenceID, string(txn.Type), string(txn.Status), txn.Amount.String(),
		txn.Currency, txn.Description, txn.Metadata, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}
	return txn, nil
}

// postDouble appends the matched credit/debit entry pair and moves both
// cached balances in the same database transaction as the entries they
// summarize. The in-memory accounts are updated to the posted balances.
func (s *LedgerService) postDouble(tx *sql.Tx, txnID uuid.UUID, credit, debit *models.Account, amount decimal.Decimal) error {
	creditAfter := credit.Balance.Add(amount)
	debitAfter := debit.Balance.Sub(amount)

	if err := s.appendEntry(tx, txnID, credit.ID, models.DirectionCredit, amount, creditAfter); err != nil {
		return err
	}
	if err := s.appendEntry(tx, txnID, debit.ID, models.DirectionDebit, amount, debitAfter); err != nil {
		return err
	}
	if err := s.setBalance(tx, credit.ID, creditAfter); err != nil {
		return err
	}
	if err := s.setBalance(tx, debit.ID, debitAfter); err != nil {
		return err
	}

	credit.Balance = creditAfter
	debit.Balance = debitAfter
	return nil
}

func (s *LedgerService) appendEntry(tx *sql.Tx, txnID, accountID uuid.UUID, direction models.EntryDirection, amount, balanceAfter decimal.Decimal) error {
	_, err := tx.Exec(
		"INSERT INTO ledger_entries (id, transaction_id, account_id, direction, amount, balance_after, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		uuid.New(), txnID, accountID, string(direction), amount.String(), balanceAfter.String(), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("ledger entry insert failed: %w", err)
	}
	return nil
}

func (s *LedgerService) setBalance(tx *sql.Tx, accountID uuid.UUID, balance decimal.Decimal) error {
	result, err := tx.Exec(
		"UPDATE accounts SET balance = $1 WHERE id = $2",
		balance.String(), accountID,
	)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("balance update touched no rows for account %s", accountID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	var ownerID sql.NullString
	var acctType, balanceStr string
	if err := row.Scan(&account.ID, &ownerID, &acctType, &account.Currency, &balanceStr, &account.IsActive, &account.IsSystem); err != nil {
		return nil, err
	}
	account.Type = models.AccountType(acctType)
	if ownerID.Valid {
		id, err := uuid.Parse(ownerID.String)
		if err != nil {
			return nil, fmt.Errorf("owner id parse failed: %w", err)
		}
		account.OwnerID = &id
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("balance parse failed: %w", err)
	}
	account.Balance = balance
	return &account, nil
}

func scanTransaction(row rowScanner) (*models.LedgerTransaction, error) {
	var txn models.LedgerTransaction
	var txType, status, amountStr string
	var description, externalRef, metadata sql.NullString
	if err := row.Scan(&txn.ID, &txn.ReferenceID, &txType, &status, &amountStr, &txn.Currency, &description, &externalRef, &metadata, &txn.CreatedAt, &txn.UpdatedAt); err != nil {
		return nil, err
	}
	txn.Type = models.TransactionType(txType)
	txn.Status = models.TransactionStatus(status)
	txn.Description = description.String
	txn.ExternalReference = externalRef.String
	txn.Metadata = metadata.String
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("amount parse failed: %w", err)
	}
	txn.Amount = amount
	return &txn, nil
}

func shortID(n int) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if n > len(id) {
		n = len(id)
	}
	return id[:n]
}

func shortUUID(id uuid.UUID, n int) string {
	s := strings.ReplaceAll(id.String(), "-", "")
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
