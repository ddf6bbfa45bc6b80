package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the tables and indexes used by the repositories if
// they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			reference TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			email TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			currency TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending', 'successful', 'failed', 'cancelled')),
			type TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			gateway_data JSONB,
			authorization_url TEXT NOT NULL DEFAULT '',
			access_code TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			settled_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_user ON payments (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_pending ON payments (created_at) WHERE status = 'pending'`,

		`CREATE TABLE IF NOT EXISTS targets (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK (kind IN ('group', 'goal', 'wallet')),
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			target_amount BIGINT NOT NULL DEFAULT 0,
			duration_months INTEGER NOT NULL DEFAULT 0,
			current_amount BIGINT NOT NULL DEFAULT 0 CHECK (current_amount >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_owner_name ON targets (kind, owner_id, name)`,

		`CREATE TABLE IF NOT EXISTS contributions (
			id TEXT PRIMARY KEY,
			target_id TEXT NOT NULL REFERENCES targets (id),
			user_id TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			description TEXT NOT NULL DEFAULT '',
			payment_ref TEXT NOT NULL UNIQUE,
			paid_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_target ON contributions (target_id, paid_at)`,

		`CREATE TABLE IF NOT EXISTS transaction_logs (
			transaction_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			amount BIGINT NOT NULL,
			fee BIGINT NOT NULL,
			net_amount BIGINT NOT NULL,
			user_id TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL DEFAULT '',
			payment_ref TEXT NOT NULL UNIQUE,
			initiated_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			CHECK (net_amount = amount - fee)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transaction_logs_user ON transaction_logs (user_id, processed_at DESC)`,

		`CREATE TABLE IF NOT EXISTS crediting_tasks (
			id TEXT PRIMARY KEY,
			payment_ref TEXT NOT NULL,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (payment_ref, step)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crediting_tasks_pending ON crediting_tasks (created_at) WHERE status = 'pending'`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
