// internal/store/postgres/schema.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	constraintDepositReference = "credit_transactions_deposit_reference_key"
	constraintActivePlacement  = "placements_one_active_per_maid"
	constraintFeePlacement     = "fee_transactions_placement_id_key"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS agency_credits (
		agency_id          TEXT PRIMARY KEY,
		currency           CHAR(3)        NOT NULL,
		total_credits      NUMERIC(14, 2) NOT NULL DEFAULT 0,
		available_credits  NUMERIC(14, 2) NOT NULL DEFAULT 0 CHECK (available_credits >= 0),
		reserved_credits   NUMERIC(14, 2) NOT NULL DEFAULT 0 CHECK (reserved_credits >= 0),
		auto_apply_credits BOOLEAN        NOT NULL DEFAULT TRUE,
		version            BIGINT         NOT NULL,
		updated_at         TIMESTAMPTZ    NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		seq             BIGSERIAL PRIMARY KEY,
		id              UUID           NOT NULL UNIQUE,
		agency_id       TEXT           NOT NULL REFERENCES agency_credits (agency_id),
		kind            TEXT           NOT NULL,
		amount          NUMERIC(14, 2) NOT NULL,
		currency        CHAR(3)        NOT NULL,
		reference       TEXT,
		placement_id    TEXT,
		note            TEXT           NOT NULL DEFAULT '',
		available_after NUMERIC(14, 2) NOT NULL,
		reserved_after  NUMERIC(14, 2) NOT NULL,
		total_after     NUMERIC(14, 2) NOT NULL,
		created_at      TIMESTAMPTZ    NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintDepositReference + `
		ON credit_transactions (reference) WHERE kind = 'deposit'`,
	`CREATE INDEX IF NOT EXISTS credit_transactions_agency_seq
		ON credit_transactions (agency_id, seq)`,
	`CREATE TABLE IF NOT EXISTS placements (
		id               UUID PRIMARY KEY,
		agency_id        TEXT           NOT NULL,
		maid_id          TEXT           NOT NULL,
		sponsor_id       TEXT           NOT NULL,
		job_id           TEXT           NOT NULL DEFAULT '',
		sponsor_country  TEXT           NOT NULL DEFAULT '',
		status           TEXT           NOT NULL,
		substatus        TEXT           NOT NULL DEFAULT '',
		fee_amount       NUMERIC(14, 2) NOT NULL,
		currency         CHAR(3)        NOT NULL,
		trial_started_at TIMESTAMPTZ,
		version          BIGINT         NOT NULL,
		created_at       TIMESTAMPTZ    NOT NULL,
		updated_at       TIMESTAMPTZ    NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintActivePlacement + `
		ON placements (maid_id) WHERE status NOT IN ('placement_failed', 'visa_approved', 'maid_returned')`,
	`CREATE INDEX IF NOT EXISTS placements_open_trials
		ON placements (trial_started_at) WHERE status = 'trial_started'`,
	`CREATE TABLE IF NOT EXISTS fee_transactions (
		id                UUID PRIMARY KEY,
		placement_id      UUID           NOT NULL,
		agency_id         TEXT           NOT NULL,
		fee_amount        NUMERIC(14, 2) NOT NULL,
		amount_charged    NUMERIC(14, 2) NOT NULL,
		currency          CHAR(3)        NOT NULL,
		fee_status        TEXT           NOT NULL,
		visa_status       TEXT           NOT NULL,
		deducted_at       TIMESTAMPTZ    NOT NULL,
		escrow_until      TIMESTAMPTZ    NOT NULL,
		released_at       TIMESTAMPTZ,
		credited_at       TIMESTAMPTZ,
		refunded_at       TIMESTAMPTZ,
		review_flagged_at TIMESTAMPTZ,
		notes             TEXT           NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ    NOT NULL,
		updated_at        TIMESTAMPTZ    NOT NULL,
		CONSTRAINT ` + constraintFeePlacement + ` UNIQUE (placement_id)
	)`,
	`CREATE INDEX IF NOT EXISTS fee_transactions_open_escrow
		ON fee_transactions (escrow_until) WHERE fee_status = 'escrow'`,
	`CREATE TABLE IF NOT EXISTS agencies (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL DEFAULT '',
		notification_email TEXT NOT NULL DEFAULT '',
		notification_phone TEXT NOT NULL DEFAULT ''
	)`,
}

// Migrate creates the tables and indexes the stores rely on. Every statement
// is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
