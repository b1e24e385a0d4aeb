// internal/escrow/tracker.go
package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/metrics"
	"placement-broker/internal/common/retry"
	"placement-broker/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store persists fee transactions. UpdateFee writes only while the stored
// status still equals expectedStatus, else apperrors.ErrConcurrencyConflict.
type Store interface {
	CreateFee(ctx context.Context, fee *models.FeeTransaction) error
	GetFeeByPlacement(ctx context.Context, placementID string) (*models.FeeTransaction, error)
	UpdateFee(ctx context.Context, fee *models.FeeTransaction, expectedStatus models.FeeStatus) error
	ListExpiredFees(ctx context.Context, now time.Time, limit int) ([]models.FeeTransaction, error)
	EscrowedTotals(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Ledger moves escrowed fees out of an agency's reserved credits.
// Implemented by *ledger.Ledger.
type Ledger interface {
	ReleaseAsRevenue(ctx context.Context, agencyID string, amount decimal.Decimal, placementID, note string) (*models.AgencyCredits, error)
	ReturnOnFailure(ctx context.Context, agencyID string, amount decimal.Decimal, placementID, note string) (*models.AgencyCredits, error)
	ReturnAsCredit(ctx context.Context, agencyID string, amount decimal.Decimal, placementID, note string) (*models.AgencyCredits, error)
}

// Tracker owns the escrow lifecycle of placement fees and is the only
// caller of the ledger for money leaving escrow.
type Tracker struct {
	store         Store
	ledger        Ledger
	logger        logger.Logger
	holdingPeriod time.Duration
	retryPolicy   retry.Policy
	now           func() time.Time
}

type Options struct {
	Store         Store
	Ledger        Ledger
	Logger        logger.Logger
	HoldingPeriod time.Duration
	RetryPolicy   retry.Policy
	Clock         func() time.Time
}

func NewTracker(opts Options) *Tracker {
	t := &Tracker{
		store:         opts.Store,
		ledger:        opts.Ledger,
		logger:        opts.Logger,
		holdingPeriod: opts.HoldingPeriod,
		retryPolicy:   opts.RetryPolicy,
		now:           opts.Clock,
	}
	if t.logger == nil {
		t.logger = logger.NewNoOpLogger()
	}
	t.logger = t.logger.WithFields(map[string]interface{}{"component": "fee-escrow"})
	if t.holdingPeriod <= 0 {
		t.holdingPeriod = 90 * 24 * time.Hour
	}
	if t.retryPolicy.MaxAttempts == 0 {
		t.retryPolicy = retry.Policy{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	}
	t.retryPolicy.Retryable = func(err error) bool {
		var storeErr *apperrors.ExternalStoreError
		return errors.As(err, &storeErr) && storeErr.Transient
	}
	if t.now == nil {
		t.now = func() time.Time { return time.Now().UTC() }
	}
	return t
}

// Open records the fee reserved for a placement as held in escrow.
func (t *Tracker) Open(ctx context.Context, placementID, agencyID string, amount decimal.Decimal, currency string) (*models.FeeTransaction, error) {
	if strings.TrimSpace(placementID) == "" {
		return nil, apperrors.NewValidationError("placementId", "must not be empty")
	}
	if !amount.IsPositive() {
		return nil, apperrors.NewValidationError("amount", "must be greater than zero")
	}

	now := t.now()
	fee := &models.FeeTransaction{
		ID:            uuid.NewString(),
		PlacementID:   placementID,
		AgencyID:      agencyID,
		FeeAmount:     amount,
		AmountCharged: amount,
		Currency:      currency,
		FeeStatus:     models.FeeEscrow,
		VisaStatus:    models.VisaPending,
		DeductedAt:    now,
		EscrowUntil:   now.Add(t.holdingPeriod),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := retry.WithBackoff(ctx, t.retryPolicy, t.logger, "create fee transaction", func(ctx context.Context) error {
		return t.store.CreateFee(ctx, fee)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("fee held in escrow", map[string]interface{}{
		"placementId": placementID,
		"agencyId":    agencyID,
		"amount":      amount,
		"escrowUntil": fee.EscrowUntil.Format(time.RFC3339),
	})
	return fee, nil
}

// Resolve moves an escrow entry to its final outcome. An entry that already
// left escrow yields AlreadyResolvedError carrying its status.
func (t *Tracker) Resolve(ctx context.Context, placementID string, outcome models.FeeStatus, note string) (*models.FeeTransaction, error) {
	if !outcome.IsResolution() {
		return nil, apperrors.NewValidationError("outcome", fmt.Sprintf("%q is not a resolution", outcome))
	}

	fee, err := t.Get(ctx, placementID)
	if err != nil {
		return nil, err
	}
	if fee.FeeStatus != models.FeeEscrow {
		return fee, &apperrors.AlreadyResolvedError{PlacementID: placementID, Status: string(fee.FeeStatus)}
	}

	now := t.now()
	next := *fee
	next.FeeStatus = outcome
	next.UpdatedAt = now
	next.Notes = appendNote(fee.Notes, note)
	switch outcome {
	case models.FeeReleased:
		next.ReleasedAt = &now
		next.VisaStatus = models.VisaApproved
	case models.FeeCredited:
		next.CreditedAt = &now
	case models.FeeRefunded:
		next.RefundedAt = &now
		next.VisaStatus = models.VisaNotApplicable
	}

	if err := t.update(ctx, &next, models.FeeEscrow); err != nil {
		if errors.Is(err, apperrors.ErrConcurrencyConflict) {
			// someone else resolved it between our read and write
			current, getErr := t.Get(ctx, placementID)
			if getErr != nil {
				return nil, getErr
			}
			return current, &apperrors.AlreadyResolvedError{PlacementID: placementID, Status: string(current.FeeStatus)}
		}
		return nil, err
	}

	t.logger.Info("escrow resolved", map[string]interface{}{
		"placementId": placementID,
		"outcome":     outcome,
		"amount":      next.AmountCharged,
	})
	return &next, nil
}

// Settle resolves the escrow entry of a placement and moves its amount out
// of the agency's reserved credits to match: released becomes revenue,
// refunded and credited go back to available. When the ledger step fails
// the entry is reopened and the ledger error returned. Settling again with
// the outcome already recorded returns the entry without touching the ledger.
func (t *Tracker) Settle(ctx context.Context, placementID string, outcome models.FeeStatus, note string) (*models.FeeTransaction, error) {
	var step func(ctx context.Context, agencyID string, amount decimal.Decimal, placementID, note string) (*models.AgencyCredits, error)
	switch outcome {
	case models.FeeReleased:
		step = t.ledger.ReleaseAsRevenue
	case models.FeeRefunded:
		step = t.ledger.ReturnOnFailure
	case models.FeeCredited:
		step = t.ledger.ReturnAsCredit
	default:
		return nil, apperrors.NewValidationError("outcome", fmt.Sprintf("%q is not a resolution", outcome))
	}

	fee, err := t.Resolve(ctx, placementID, outcome, note)
	if err != nil {
		var already *apperrors.AlreadyResolvedError
		if errors.As(err, &already) && fee != nil && fee.FeeStatus == outcome {
			t.logger.Warn("escrow already settled with the same outcome", map[string]interface{}{
				"placementId": placementID,
				"outcome":     outcome,
			})
			return fee, nil
		}
		return fee, err
	}

	if _, err := step(ctx, fee.AgencyID, fee.AmountCharged, placementID, note); err != nil {
		t.logger.Error("ledger step failed, reopening escrow", map[string]interface{}{
			"placementId": placementID,
			"outcome":     outcome,
			"error":       err.Error(),
		})
		metrics.PlacementCompensations.WithLabelValues("escrow").Inc()
		if reopenErr := t.Reopen(ctx, placementID, outcome, "Reopened: "+err.Error()); reopenErr != nil {
			t.logger.Error("failed to reopen escrow", map[string]interface{}{
				"placementId": placementID,
				"error":       reopenErr.Error(),
			})
		}
		return nil, err
	}
	return fee, nil
}

// Reopen undoes a resolution whose paired ledger step failed.
func (t *Tracker) Reopen(ctx context.Context, placementID string, from models.FeeStatus, note string) error {
	fee, err := t.Get(ctx, placementID)
	if err != nil {
		return err
	}
	if fee.FeeStatus != from {
		return fmt.Errorf("reopen fee for placement %s: status is %s, expected %s: %w",
			placementID, fee.FeeStatus, from, apperrors.ErrConcurrencyConflict)
	}

	next := *fee
	next.FeeStatus = models.FeeEscrow
	next.VisaStatus = models.VisaPending
	next.ReleasedAt, next.CreditedAt, next.RefundedAt = nil, nil, nil
	next.UpdatedAt = t.now()
	next.Notes = appendNote(fee.Notes, note)

	if err := t.update(ctx, &next, from); err != nil {
		return err
	}
	t.logger.Warn("escrow reopened", map[string]interface{}{
		"placementId": placementID,
		"from":        from,
	})
	return nil
}

// FlagForReview marks an expired entry so the sweep does not pick it up again.
func (t *Tracker) FlagForReview(ctx context.Context, placementID, note string) (*models.FeeTransaction, error) {
	fee, err := t.Get(ctx, placementID)
	if err != nil {
		return nil, err
	}
	if fee.FeeStatus != models.FeeEscrow {
		return fee, &apperrors.AlreadyResolvedError{PlacementID: placementID, Status: string(fee.FeeStatus)}
	}

	now := t.now()
	next := *fee
	next.ReviewFlaggedAt = &now
	next.UpdatedAt = now
	next.Notes = appendNote(fee.Notes, note)
	if err := t.update(ctx, &next, models.FeeEscrow); err != nil {
		return nil, err
	}
	return &next, nil
}

func (t *Tracker) Get(ctx context.Context, placementID string) (*models.FeeTransaction, error) {
	var fee *models.FeeTransaction
	err := retry.WithBackoff(ctx, t.retryPolicy, t.logger, "get fee transaction", func(ctx context.Context) error {
		var err error
		fee, err = t.store.GetFeeByPlacement(ctx, placementID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fee, nil
}

// Expired lists escrow entries past their horizon that nobody flagged yet.
func (t *Tracker) Expired(ctx context.Context, limit int) ([]models.FeeTransaction, error) {
	return t.store.ListExpiredFees(ctx, t.now(), limit)
}

// EscrowedTotals sums the amounts currently held in escrow per agency.
func (t *Tracker) EscrowedTotals(ctx context.Context) (map[string]decimal.Decimal, error) {
	return t.store.EscrowedTotals(ctx)
}

func (t *Tracker) update(ctx context.Context, fee *models.FeeTransaction, expected models.FeeStatus) error {
	return retry.WithBackoff(ctx, t.retryPolicy, t.logger, "update fee transaction", func(ctx context.Context) error {
		return t.store.UpdateFee(ctx, fee, expected)
	})
}

func appendNote(existing, note string) string {
	switch {
	case note == "":
		return existing
	case existing == "":
		return note
	default:
		return existing + "\n" + note
	}
}
