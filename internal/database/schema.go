package database

import "database/sql"

// schema is the minimum table set the ledger engine needs. The uniqueness
// of ledger_transactions.reference_id is a storage-level constraint: it is
// the idempotency boundary and must hold even if application checks race.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email VARCHAR(255) UNIQUE NOT NULL,
	virtual_balance_reset_at TIMESTAMPTZ,
	virtual_balance_blown_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY,
	owner_id UUID REFERENCES users(id) ON DELETE CASCADE,
	type VARCHAR(50) NOT NULL,
	name VARCHAR(100),
	currency VARCHAR(3) NOT NULL DEFAULT 'NGN',
	balance DECIMAL(20,8) NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT true,
	is_system BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_accounts_owner_id ON accounts(owner_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_accounts_owner_type_active
	ON accounts(owner_id, type) WHERE is_active AND owner_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_accounts_system_type_active
	ON accounts(type) WHERE is_active AND is_system;

CREATE TABLE IF NOT EXISTS ledger_transactions (
	id UUID PRIMARY KEY,
	reference_id VARCHAR(255) UNIQUE NOT NULL,
	type VARCHAR(50) NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'pending',
	amount DECIMAL(20,8) NOT NULL,
	currency VARCHAR(3) NOT NULL DEFAULT 'NGN',
	description VARCHAR(255),
	external_reference VARCHAR(255),
	tx_metadata VARCHAR(1000),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ledger_transactions_type ON ledger_transactions(type);
CREATE INDEX IF NOT EXISTS idx_ledger_transactions_external_reference ON ledger_transactions(external_reference);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id UUID PRIMARY KEY,
	transaction_id UUID NOT NULL REFERENCES ledger_transactions(id),
	account_id UUID NOT NULL REFERENCES accounts(id),
	direction VARCHAR(10) NOT NULL,
	amount DECIMAL(20,8) NOT NULL,
	balance_after DECIMAL(20,8),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_id ON ledger_entries(account_id, created_at DESC);
`

// InitSchema creates the ledger tables if they do not exist yet.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
