package main

import (
	"database/sql"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jarsfinance/backend/internal/database"
	"github.com/jarsfinance/backend/internal/models"
)

// systemAccounts are the platform-owned counterparty accounts every posting
// route resolves against. Seeding is idempotent: an existing active account
// of the same type is left untouched.
var systemAccounts = []struct {
	Type     models.AccountType
	Name     string
	Currency string
}{
	{models.AccountSystemBankBalance, "Virtual Currency Treasury", "USD"},
	{models.AccountSystemFeeWallet, "Platform Fee Wallet", "USD"},
	{models.AccountSystemBankSettlement, "Paystack Settlement Account", "NGN"},
}

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	db, err := database.InitDB()
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		logger.Fatal("Failed to create schema", zap.Error(err))
	}
	logger.Info("[SEED] Schema ready")

	for _, acct := range systemAccounts {
		if err := seedSystemAccount(db, acct.Type, acct.Name, acct.Currency); err != nil {
			logger.Fatal("Failed to seed system account",
				zap.String("type", string(acct.Type)), zap.Error(err))
		}
	}

	logger.Info("[SEED] System accounts ready")
}

func seedSystemAccount(db *sql.DB, acctType models.AccountType, name, currency string) error {
	var existing string
	err := db.QueryRow(
		`SELECT id FROM accounts WHERE type = $1 AND is_system = true AND is_active = true`,
		acctType,
	).Scan(&existing)
	if err == nil {
		zap.L().Info("[SEED] System account exists",
			zap.String("type", string(acctType)), zap.String("id", existing))
		return nil
	}
	if err != sql.ErrNoRows {
		return err
	}

	id := uuid.New()
	_, err = db.Exec(
		`INSERT INTO accounts (id, owner_id, type, name, currency, balance, is_active, is_system)
		 VALUES ($1, NULL, $2, $3, $4, 0, true, true)`,
		id, acctType, name, currency,
	)
	if err != nil {
		return err
	}

	zap.L().Info("[SEED] Created system account",
		zap.String("type", string(acctType)),
		zap.String("name", name),
		zap.String("id", id.String()))
	return nil
}
