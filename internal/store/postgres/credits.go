// internal/store/postgres/credits.go
package postgres

import (
	"context"
	"database/sql"
	"errors"

	"placement-broker/internal/common/database"
	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/models"
)

// CreditStore keeps agency balances and their append-only ledger in Postgres.
type CreditStore struct {
	db *sql.DB
}

func NewCreditStore(db *sql.DB) *CreditStore {
	return &CreditStore{db: db}
}

const creditColumns = `agency_id, currency, total_credits, available_credits, reserved_credits,
	auto_apply_credits, version, updated_at`

const entryColumns = `id, agency_id, kind, amount, currency, COALESCE(reference, ''),
	COALESCE(placement_id, ''), note, available_after, reserved_after, total_after, created_at`

func scanCredits(row interface{ Scan(...interface{}) error }) (*models.AgencyCredits, error) {
	var c models.AgencyCredits
	err := row.Scan(&c.AgencyID, &c.Currency, &c.TotalCredits, &c.AvailableCredits, &c.ReservedCredits,
		&c.AutoApplyCredits, &c.Version, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanEntry(row interface{ Scan(...interface{}) error }) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.AgencyID, &e.Kind, &e.Amount, &e.Currency, &e.Reference,
		&e.PlacementID, &e.Note, &e.AvailableAfter, &e.ReservedAfter, &e.TotalAfter, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *CreditStore) GetCredits(ctx context.Context, agencyID string) (*models.AgencyCredits, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+creditColumns+` FROM agency_credits WHERE agency_id = $1`, agencyID)
	c, err := scanCredits(row)
	if err != nil {
		return nil, storeError("get credits", err)
	}
	return c, nil
}

// SaveCredits writes the balance with a version check and appends entry in
// the same transaction.
func (s *CreditStore) SaveCredits(ctx context.Context, c *models.AgencyCredits, expectedVersion int64, entry *models.LedgerEntry) error {
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var (
			res sql.Result
			err error
		)
		if expectedVersion == 0 {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO agency_credits (`+creditColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (agency_id) DO NOTHING`,
				c.AgencyID, c.Currency, c.TotalCredits, c.AvailableCredits, c.ReservedCredits,
				c.AutoApplyCredits, c.Version, c.UpdatedAt)
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE agency_credits
				SET currency = $2, total_credits = $3, available_credits = $4, reserved_credits = $5,
					auto_apply_credits = $6, version = $7, updated_at = $8
				WHERE agency_id = $1 AND version = $9`,
				c.AgencyID, c.Currency, c.TotalCredits, c.AvailableCredits, c.ReservedCredits,
				c.AutoApplyCredits, c.Version, c.UpdatedAt, expectedVersion)
		}
		if err != nil {
			return storeError("save credits", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return storeError("save credits", err)
		} else if n == 0 {
			return apperrors.ErrConcurrencyConflict
		}

		if entry == nil {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO credit_transactions (id, agency_id, kind, amount, currency, reference, placement_id,
				note, available_after, reserved_after, total_after, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $12)`,
			entry.ID, entry.AgencyID, entry.Kind, entry.Amount, entry.Currency, entry.Reference,
			entry.PlacementID, entry.Note, entry.AvailableAfter, entry.ReservedAfter, entry.TotalAfter,
			entry.CreatedAt)
		if constraint, ok := uniqueViolation(err); ok && constraint == constraintDepositReference {
			return apperrors.ErrDuplicateReference
		}
		if err != nil {
			return storeError("append ledger entry", err)
		}
		return nil
	})
	if err != nil {
		return classifyTxError("save credits", err)
	}
	return nil
}

// FindDeposit looks up the deposit recorded under an external payment reference.
func (s *CreditStore) FindDeposit(ctx context.Context, reference string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM credit_transactions WHERE kind = 'deposit' AND reference = $1`, reference)
	e, err := scanEntry(row)
	if err != nil {
		return nil, storeError("find deposit", err)
	}
	return e, nil
}

// FindEntry looks up a ledger entry by id.
func (s *CreditStore) FindEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM credit_transactions WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, storeError("find entry", err)
	}
	return e, nil
}

// ListEntries returns the newest limit entries of an agency, oldest first.
func (s *CreditStore) ListEntries(ctx context.Context, agencyID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM (
			SELECT * FROM credit_transactions WHERE agency_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC`, agencyID, limit)
	if err != nil {
		return nil, storeError("list ledger entries", err)
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeError("scan ledger entry", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list ledger entries", err)
	}
	return entries, nil
}

// ListReserved returns every agency holding reserved credits.
func (s *CreditStore) ListReserved(ctx context.Context) ([]models.AgencyCredits, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+creditColumns+` FROM agency_credits WHERE reserved_credits > 0 ORDER BY agency_id`)
	if err != nil {
		return nil, storeError("list reserved credits", err)
	}
	defer rows.Close()

	out := make([]models.AgencyCredits, 0)
	for rows.Next() {
		c, err := scanCredits(rows)
		if err != nil {
			return nil, storeError("scan credits", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list reserved credits", err)
	}
	return out, nil
}

// classifyTxError passes store contract errors through and wraps failures of
// the transaction itself (begin, commit).
func classifyTxError(op string, err error) error {
	var storeErr *apperrors.ExternalStoreError
	if errors.Is(err, apperrors.ErrConcurrencyConflict) || errors.Is(err, apperrors.ErrDuplicateReference) ||
		errors.As(err, &storeErr) {
		return err
	}
	return storeError(op+" transaction", err)
}
