package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerConfig carries the tunables of the ledger engine. Everything has a
// sane default so tests and local runs need no environment at all.
type LedgerConfig struct {
	VirtualSeedAmount decimal.Decimal // demo balance issued on signup and restored on reset
	ResetCooldown     time.Duration   // wait between free demo resets
	PaidResetCostUSD  decimal.Decimal
	MinDepositKobo    int64
	WebhookMaxRetries int
	WebhookRetryDelay time.Duration
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		VirtualSeedAmount: getEnvAsDecimal("LEDGER_VIRTUAL_SEED_AMOUNT", decimal.NewFromInt(10000)),
		ResetCooldown:     getEnvAsDuration("LEDGER_RESET_COOLDOWN", 30*24*time.Hour),
		PaidResetCostUSD:  getEnvAsDecimal("LEDGER_PAID_RESET_COST_USD", decimal.RequireFromString("5.00")),
		MinDepositKobo:    getEnvAsInt64("LEDGER_MIN_DEPOSIT_KOBO", 10000), // ₦100
		WebhookMaxRetries: getEnvAsInt("WEBHOOK_MAX_RETRIES", 5),
		WebhookRetryDelay: getEnvAsDuration("WEBHOOK_RETRY_DELAY", 30*time.Second),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}
