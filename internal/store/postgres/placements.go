// internal/store/postgres/placements.go
package postgres

import (
	"context"
	"database/sql"
	"time"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/models"
)

type PlacementStore struct {
	db *sql.DB
}

func NewPlacementStore(db *sql.DB) *PlacementStore {
	return &PlacementStore{db: db}
}

const placementColumns = `id, agency_id, maid_id, sponsor_id, job_id, sponsor_country, status, substatus,
	fee_amount, currency, trial_started_at, version, created_at, updated_at`

func scanPlacement(row interface{ Scan(...interface{}) error }) (*models.Placement, error) {
	var (
		p            models.Placement
		trialStarted sql.NullTime
	)
	err := row.Scan(&p.ID, &p.AgencyID, &p.MaidID, &p.SponsorID, &p.JobID, &p.SponsorCountry, &p.Status,
		&p.Substatus, &p.FeeAmount, &p.Currency, &trialStarted, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.TrialStartedAt = nullTime(trialStarted)
	return &p, nil
}

// CreatePlacement inserts a placement. The partial unique index on maid_id
// rejects a second active placement for the same maid.
func (s *PlacementStore) CreatePlacement(ctx context.Context, p *models.Placement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO placements (`+placementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.AgencyID, p.MaidID, p.SponsorID, p.JobID, p.SponsorCountry, p.Status, p.Substatus,
		p.FeeAmount, p.Currency, toNullTime(p.TrialStartedAt), p.Version, p.CreatedAt, p.UpdatedAt)
	if constraint, ok := uniqueViolation(err); ok {
		if constraint == constraintActivePlacement {
			return &apperrors.CandidateUnavailableError{MaidID: p.MaidID, Status: "active placement exists"}
		}
		return apperrors.ErrConcurrencyConflict
	}
	return storeError("create placement", err)
}

func (s *PlacementStore) GetPlacement(ctx context.Context, id string) (*models.Placement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+placementColumns+` FROM placements WHERE id = $1`, id)
	p, err := scanPlacement(row)
	if err != nil {
		return nil, storeError("get placement", err)
	}
	return p, nil
}

// UpdatePlacement writes p only while the stored version equals expectedVersion.
func (s *PlacementStore) UpdatePlacement(ctx context.Context, p *models.Placement, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE placements
		SET status = $2, substatus = $3, trial_started_at = $4, version = $5, updated_at = $6
		WHERE id = $1 AND version = $7`,
		p.ID, p.Status, p.Substatus, toNullTime(p.TrialStartedAt), p.Version, p.UpdatedAt, expectedVersion)
	if constraint, ok := uniqueViolation(err); ok && constraint == constraintActivePlacement {
		return &apperrors.CandidateUnavailableError{MaidID: p.MaidID, Status: "active placement exists"}
	}
	if err != nil {
		return storeError("update placement", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("update placement", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM placements WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return storeError("update placement", err)
		}
		if !exists {
			return apperrors.ErrNotFound
		}
		return apperrors.ErrConcurrencyConflict
	}
	return nil
}

// ListStaleTrials returns trial_started placements whose trial began before cutoff.
func (s *PlacementStore) ListStaleTrials(ctx context.Context, cutoff time.Time, limit int) ([]models.Placement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+placementColumns+` FROM placements
		WHERE status = 'trial_started' AND trial_started_at < $1
		ORDER BY trial_started_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, storeError("list stale trials", err)
	}
	defer rows.Close()

	out := make([]models.Placement, 0)
	for rows.Next() {
		p, err := scanPlacement(rows)
		if err != nil {
			return nil, storeError("scan placement", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list stale trials", err)
	}
	return out, nil
}
