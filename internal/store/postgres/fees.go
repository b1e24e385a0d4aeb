// internal/store/postgres/fees.go
package postgres

import (
	"context"
	"database/sql"
	"time"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/models"

	"github.com/shopspring/decimal"
)

type FeeStore struct {
	db *sql.DB
}

func NewFeeStore(db *sql.DB) *FeeStore {
	return &FeeStore{db: db}
}

const feeColumns = `id, placement_id, agency_id, fee_amount, amount_charged, currency, fee_status, visa_status,
	deducted_at, escrow_until, released_at, credited_at, refunded_at, review_flagged_at, notes,
	created_at, updated_at`

func scanFee(row interface{ Scan(...interface{}) error }) (*models.FeeTransaction, error) {
	var (
		f                                      models.FeeTransaction
		released, credited, refunded, reviewed sql.NullTime
	)
	err := row.Scan(&f.ID, &f.PlacementID, &f.AgencyID, &f.FeeAmount, &f.AmountCharged, &f.Currency,
		&f.FeeStatus, &f.VisaStatus, &f.DeductedAt, &f.EscrowUntil, &released, &credited, &refunded,
		&reviewed, &f.Notes, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.ReleasedAt = nullTime(released)
	f.CreditedAt = nullTime(credited)
	f.RefundedAt = nullTime(refunded)
	f.ReviewFlaggedAt = nullTime(reviewed)
	return &f, nil
}

func (s *FeeStore) CreateFee(ctx context.Context, f *models.FeeTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fee_transactions (`+feeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		f.ID, f.PlacementID, f.AgencyID, f.FeeAmount, f.AmountCharged, f.Currency, f.FeeStatus, f.VisaStatus,
		f.DeductedAt, f.EscrowUntil, toNullTime(f.ReleasedAt), toNullTime(f.CreditedAt),
		toNullTime(f.RefundedAt), toNullTime(f.ReviewFlaggedAt), f.Notes, f.CreatedAt, f.UpdatedAt)
	if _, ok := uniqueViolation(err); ok {
		return apperrors.ErrConcurrencyConflict
	}
	return storeError("create fee transaction", err)
}

func (s *FeeStore) GetFeeByPlacement(ctx context.Context, placementID string) (*models.FeeTransaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feeColumns+` FROM fee_transactions WHERE placement_id = $1`, placementID)
	f, err := scanFee(row)
	if err != nil {
		return nil, storeError("get fee transaction", err)
	}
	return f, nil
}

// UpdateFee writes f only while the stored status equals expectedStatus.
func (s *FeeStore) UpdateFee(ctx context.Context, f *models.FeeTransaction, expectedStatus models.FeeStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fee_transactions
		SET fee_status = $2, visa_status = $3, released_at = $4, credited_at = $5, refunded_at = $6,
			review_flagged_at = $7, notes = $8, updated_at = $9
		WHERE placement_id = $1 AND fee_status = $10`,
		f.PlacementID, f.FeeStatus, f.VisaStatus, toNullTime(f.ReleasedAt), toNullTime(f.CreditedAt),
		toNullTime(f.RefundedAt), toNullTime(f.ReviewFlaggedAt), f.Notes, f.UpdatedAt, expectedStatus)
	if err != nil {
		return storeError("update fee transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("update fee transaction", err)
	}
	if n == 0 {
		return apperrors.ErrConcurrencyConflict
	}
	return nil
}

// ListExpiredFees returns escrow rows past their horizon that nobody flagged yet.
func (s *FeeStore) ListExpiredFees(ctx context.Context, now time.Time, limit int) ([]models.FeeTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+feeColumns+` FROM fee_transactions
		WHERE fee_status = 'escrow' AND escrow_until < $1 AND review_flagged_at IS NULL
		ORDER BY escrow_until
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, storeError("list expired fees", err)
	}
	defer rows.Close()

	out := make([]models.FeeTransaction, 0)
	for rows.Next() {
		f, err := scanFee(rows)
		if err != nil {
			return nil, storeError("scan fee transaction", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list expired fees", err)
	}
	return out, nil
}

// EscrowedTotals sums amount_charged of open escrow rows per agency.
func (s *FeeStore) EscrowedTotals(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agency_id, SUM(amount_charged) FROM fee_transactions
		WHERE fee_status = 'escrow'
		GROUP BY agency_id`)
	if err != nil {
		return nil, storeError("sum escrow", err)
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			agencyID string
			total    decimal.Decimal
		)
		if err := rows.Scan(&agencyID, &total); err != nil {
			return nil, storeError("scan escrow total", err)
		}
		totals[agencyID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("sum escrow", err)
	}
	return totals, nil
}
