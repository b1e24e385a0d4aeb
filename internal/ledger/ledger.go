// internal/ledger/ledger.go
package ledger

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
	"placement-broker/internal/common/validation"
	"placement-broker/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store persists agency credit records. SaveCredits is a compare-and-swap:
// it writes credits and appends entry only if the stored version still equals
// expectedVersion (0 means "no record yet"), otherwise it returns
// apperrors.ErrConcurrencyConflict. A deposit entry whose Reference was already
// recorded yields apperrors.ErrDuplicateReference and nothing is written.
// FindEntry reports apperrors.ErrNotFound for an entry id never written.
type Store interface {
	GetCredits(ctx context.Context, agencyID string) (*models.AgencyCredits, error)
	SaveCredits(ctx context.Context, credits *models.AgencyCredits, expectedVersion int64, entry *models.LedgerEntry) error
	FindDeposit(ctx context.Context, reference string) (*models.LedgerEntry, error)
	FindEntry(ctx context.Context, id string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, agencyID string, limit int) ([]models.LedgerEntry, error)
}

// AuditSink receives a copy of every committed entry. Implementations must not block.
type AuditSink interface {
	Record(ctx context.Context, entry models.LedgerEntry)
}

type Options struct {
	Store              Store
	Audit              AuditSink
	Logger             logger.Logger
	MaxConflictRetries int
	HistoryLimit       int
	// TransientRetry governs retries of store calls that failed transiently.
	TransientRetry retry.Policy
	Clock          func() time.Time
}

// Ledger is the only writer of agency balances. Each operation reads the
// record, applies one mutation and writes it back with a version check,
// retrying on conflict up to MaxConflictRetries times.
type Ledger struct {
	store          Store
	audit          AuditSink
	logger         logger.Logger
	maxRetries     int
	historyLimit   int
	transientRetry retry.Policy
	now            func() time.Time
}

func New(opts Options) *Ledger {
	l := &Ledger{
		store:          opts.Store,
		audit:          opts.Audit,
		logger:         opts.Logger,
		maxRetries:     opts.MaxConflictRetries,
		historyLimit:   opts.HistoryLimit,
		transientRetry: opts.TransientRetry,
		now:            opts.Clock,
	}
	if l.logger == nil {
		l.logger = logger.NewNoOpLogger()
	}
	l.logger = l.logger.WithFields(map[string]interface{}{"component": "credit-ledger"})
	if l.maxRetries <= 0 {
		l.maxRetries = 5
	}
	if l.historyLimit <= 0 {
		l.historyLimit = 100
	}
	if l.transientRetry.MaxAttempts == 0 {
		l.transientRetry = retry.Policy{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	}
	l.transientRetry.Retryable = isTransientStoreError
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	return l
}

func isTransientStoreError(err error) bool {
	var storeErr *apperrors.ExternalStoreError
	return errors.As(err, &storeErr) && storeErr.Transient
}

// Reserve moves amount from available to reserved. The first reservation or
// deposit fixes the agency's currency.
func (l *Ledger) Reserve(ctx context.Context, agencyID string, amount decimal.Decimal, currency, placementID, note string) (*models.AgencyCredits, error) {
	if err := validateRequest(agencyID, amount); err != nil {
		return nil, err
	}
	if err := validateCurrency(currency); err != nil {
		return nil, err
	}

	return l.mutate(ctx, "reserve", agencyID, func(c *models.AgencyCredits) (*models.LedgerEntry, error) {
		if err := bindCurrency(c, currency); err != nil {
			return nil, err
		}
		if c.AvailableCredits.LessThan(amount) {
			return nil, &apperrors.InsufficientBalanceError{
				AgencyID:  agencyID,
				Required:  amount.StringFixed(2),
				Available: c.AvailableCredits.StringFixed(2),
				Currency:  c.Currency,
			}
		}
		c.AvailableCredits = c.AvailableCredits.Sub(amount)
		c.ReservedCredits = c.ReservedCredits.Add(amount)
		return &models.LedgerEntry{
			Kind:        models.EntryReserve,
			Amount:      amount,
			PlacementID: placementID,
			Note:        noteOr(note, "Fee reserved for placement %s", placementID),
		}, nil
	})
}

// ReleaseAsRevenue recognizes a reserved fee as platform revenue.
func (l *Ledger) ReleaseAsRevenue(ctx context.Context, agencyID string, amount decimal.Decimal, placementID, note string) (*models.AgencyCredits, error) {
	if err := validateRequest(agencyID, amount); err != nil {
		return nil, err
	}

	return l.mutate(ctx, "release_revenue", agencyID, func(c *models.AgencyCredits) (*models.LedgerEntry, error) {
		if err := requireReserved(c, amount); err != nil {
			return nil, err
		}
		c.ReservedCredits = c.ReservedCredits.Sub(amount)
		c.TotalCredits = c.TotalCredits.Sub(amount)
		return &models.LedgerEntry{
			Kind:        models.EntryReleaseRevenue,
			Amount:      amount,
			PlacementID: placementID,
			Note:        noteOr(note, "Fee released as revenue for placement %s", placementID),
		}, nil
	})
}

// ReturnOnFailure returns a reserved fee to the available balance after a
// placement failed before hire.
func (l *Ledger) ReturnOnFailure(ctx context.Context, agencyID string, amount decimal.Decimal, placementID, note string) (*models.AgencyCredits, error) {
	return l.returnReserved(ctx, "return_on_failure", models.EntryReturnOnFailure, agencyID, amount, placementID,
		noteOr(note, "Fee returned after failed placement %s", placementID))
}

// ReturnAsCredit returns a reserved fee to the available balance after a
// hired candidate was returned.
func (l *Ledger) ReturnAsCredit(ctx context.Context, agencyID string, amount decimal.Decimal, placementID, note string) (*models.AgencyCredits, error) {
	return l.returnReserved(ctx, "return_as_credit", models.EntryReturnAsCredit, agencyID, amount, placementID,
		noteOr(note, "Fee credited back after candidate return on placement %s", placementID))
}

func (l *Ledger) returnReserved(ctx context.Context, op string, kind models.LedgerEntryKind, agencyID string, amount decimal.Decimal, placementID, note string) (*models.AgencyCredits, error) {
	if err := validateRequest(agencyID, amount); err != nil {
		return nil, err
	}

	return l.mutate(ctx, op, agencyID, func(c *models.AgencyCredits) (*models.LedgerEntry, error) {
		if err := requireReserved(c, amount); err != nil {
			return nil, err
		}
		c.ReservedCredits = c.ReservedCredits.Sub(amount)
		c.AvailableCredits = c.AvailableCredits.Add(amount)
		return &models.LedgerEntry{
			Kind:        kind,
			Amount:      amount,
			PlacementID: placementID,
			Note:        note,
		}, nil
	})
}

// Deposit credits a confirmed external payment. Replaying a reference already
// applied to the same agency returns the current record without changing it.
func (l *Ledger) Deposit(ctx context.Context, agencyID string, amount decimal.Decimal, currency, reference, note string) (*models.AgencyCredits, error) {
	if err := validateRequest(agencyID, amount); err != nil {
		return nil, err
	}
	if err := validateCurrency(currency); err != nil {
		return nil, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperrors.NewValidationError("reference", "external payment reference is required")
	}

	if credits, replayed, err := l.replayedDeposit(ctx, agencyID, reference); err != nil || replayed {
		return credits, err
	}

	credits, err := l.mutate(ctx, "deposit", agencyID, func(c *models.AgencyCredits) (*models.LedgerEntry, error) {
		if err := bindCurrency(c, currency); err != nil {
			return nil, err
		}
		c.AvailableCredits = c.AvailableCredits.Add(amount)
		c.TotalCredits = c.TotalCredits.Add(amount)
		return &models.LedgerEntry{
			Kind:      models.EntryDeposit,
			Amount:    amount,
			Reference: reference,
			Note:      noteOr(note, "Deposit %s", reference),
		}, nil
	})
	if errors.Is(err, apperrors.ErrDuplicateReference) {
		// lost the race to a concurrent delivery of the same callback
		credits, _, err = l.replayedDeposit(ctx, agencyID, reference)
		return credits, err
	}
	return credits, err
}

func (l *Ledger) replayedDeposit(ctx context.Context, agencyID, reference string) (*models.AgencyCredits, bool, error) {
	var entry *models.LedgerEntry
	err := retry.WithBackoff(ctx, l.transientRetry, l.logger, "find deposit", func(ctx context.Context) error {
		var err error
		entry, err = l.store.FindDeposit(ctx, reference)
		return err
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if entry.AgencyID != agencyID {
		return nil, true, apperrors.NewValidationError("reference",
			fmt.Sprintf("reference %s already applied to another agency", reference))
	}

	l.logger.Info("duplicate deposit ignored", map[string]interface{}{
		"agencyId":  agencyID,
		"reference": reference,
	})
	metrics.LedgerOperations.WithLabelValues("deposit", "duplicate").Inc()

	credits, err := l.Credits(ctx, agencyID)
	return credits, true, err
}

// Credits returns the balance record without its history. Agencies that never
// deposited read as a zero record.
func (l *Ledger) Credits(ctx context.Context, agencyID string) (*models.AgencyCredits, error) {
	if strings.TrimSpace(agencyID) == "" {
		return nil, apperrors.NewValidationError("agencyId", "must not be empty")
	}
	return l.load(ctx, agencyID)
}

// GetAgencyCredits returns the balance record with its most recent ledger entries.
func (l *Ledger) GetAgencyCredits(ctx context.Context, agencyID string) (*models.AgencyCredits, error) {
	credits, err := l.Credits(ctx, agencyID)
	if err != nil {
		return nil, err
	}

	var entries []models.LedgerEntry
	err = retry.WithBackoff(ctx, l.transientRetry, l.logger, "list ledger entries", func(ctx context.Context) error {
		var err error
		entries, err = l.store.ListEntries(ctx, agencyID, l.historyLimit)
		return err
	})
	if err != nil {
		return nil, err
	}
	credits.TransactionLog = entries
	return credits, nil
}

func (l *Ledger) load(ctx context.Context, agencyID string) (*models.AgencyCredits, error) {
	var credits *models.AgencyCredits
	err := retry.WithBackoff(ctx, l.transientRetry, l.logger, "load credits", func(ctx context.Context) error {
		var err error
		credits, err = l.store.GetCredits(ctx, agencyID)
		return err
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.NewAgencyCredits(agencyID), nil
	}
	if err != nil {
		return nil, err
	}
	return credits, nil
}

// mutate runs one optimistic read-modify-write cycle per attempt.
func (l *Ledger) mutate(ctx context.Context, op, agencyID string, apply func(*models.AgencyCredits) (*models.LedgerEntry, error)) (*models.AgencyCredits, error) {
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		current, err := l.load(ctx, agencyID)
		if err != nil {
			metrics.LedgerOperations.WithLabelValues(op, "error").Inc()
			return nil, err
		}

		next := current.Clone()
		entry, err := apply(next)
		if err != nil {
			metrics.LedgerOperations.WithLabelValues(op, "rejected").Inc()
			return nil, err
		}

		now := l.now()
		next.Version = current.Version + 1
		next.UpdatedAt = now
		next.TransactionLog = nil

		entry.ID = uuid.NewString()
		entry.AgencyID = agencyID
		entry.Currency = next.Currency
		entry.AvailableAfter = next.AvailableCredits
		entry.ReservedAfter = next.ReservedCredits
		entry.TotalAfter = next.TotalCredits
		entry.CreatedAt = now

		// A transient failure may hide a committed write. The entry id
		// then tells a lost acknowledgement apart from a real conflict.
		unacknowledged := false
		err = retry.WithBackoff(ctx, l.transientRetry, l.logger, "save credits", func(ctx context.Context) error {
			err := l.store.SaveCredits(ctx, next, current.Version, entry)
			if isTransientStoreError(err) {
				unacknowledged = true
			}
			return err
		})
		if err != nil && unacknowledged {
			committed, findErr := l.entryCommitted(ctx, entry.ID)
			if findErr != nil {
				metrics.LedgerOperations.WithLabelValues(op, "error").Inc()
				return nil, findErr
			}
			if committed {
				l.logger.Warn("credit write committed without acknowledgement", map[string]interface{}{
					"agencyId": agencyID,
					"op":       op,
					"entryId":  entry.ID,
				})
				return l.recorded(ctx, op, next, entry), nil
			}
		}
		if errors.Is(err, apperrors.ErrConcurrencyConflict) {
			metrics.LedgerConflicts.WithLabelValues(op).Inc()
			l.logger.Debug("credit record changed concurrently, retrying", map[string]interface{}{
				"agencyId": agencyID,
				"op":       op,
				"attempt":  attempt + 1,
			})
			continue
		}
		if err != nil {
			metrics.LedgerOperations.WithLabelValues(op, "error").Inc()
			return nil, err
		}
		return l.recorded(ctx, op, next, entry), nil
	}

	metrics.LedgerOperations.WithLabelValues(op, "conflict").Inc()
	return nil, fmt.Errorf("%w: %s on agency %s gave up after %d attempts",
		apperrors.ErrConcurrencyConflict, op, agencyID, l.maxRetries+1)
}

func (l *Ledger) recorded(ctx context.Context, op string, next *models.AgencyCredits, entry *models.LedgerEntry) *models.AgencyCredits {
	metrics.LedgerOperations.WithLabelValues(op, "ok").Inc()
	l.logger.Info("ledger entry recorded", map[string]interface{}{
		"agencyId":    next.AgencyID,
		"kind":        entry.Kind,
		"amount":      entry.Amount,
		"placementId": entry.PlacementID,
		"available":   next.AvailableCredits,
		"reserved":    next.ReservedCredits,
		"total":       next.TotalCredits,
	})
	if l.audit != nil {
		l.audit.Record(ctx, *entry)
	}
	return next
}

func (l *Ledger) entryCommitted(ctx context.Context, entryID string) (bool, error) {
	err := retry.WithBackoff(ctx, l.transientRetry, l.logger, "find ledger entry", func(ctx context.Context) error {
		_, err := l.store.FindEntry(ctx, entryID)
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperrors.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func validateRequest(agencyID string, amount decimal.Decimal) error {
	if strings.TrimSpace(agencyID) == "" {
		return apperrors.NewValidationError("agencyId", "must not be empty")
	}
	if !amount.IsPositive() {
		return apperrors.NewValidationError("amount", "must be greater than zero")
	}
	return validation.Amount("amount", amount)
}

func validateCurrency(currency string) error {
	if len(currency) != 3 || strings.ToUpper(currency) != currency {
		return apperrors.NewValidationError("currency", "must be an upper-case ISO 4217 code")
	}
	return nil
}

func bindCurrency(c *models.AgencyCredits, currency string) error {
	if c.Currency == "" {
		c.Currency = currency
		return nil
	}
	if c.Currency != currency {
		return apperrors.NewValidationError("currency",
			fmt.Sprintf("agency %s holds credits in %s, not %s", c.AgencyID, c.Currency, currency))
	}
	return nil
}

func requireReserved(c *models.AgencyCredits, amount decimal.Decimal) error {
	if c.ReservedCredits.LessThan(amount) {
		return apperrors.NewValidationError("amount",
			fmt.Sprintf("%s exceeds reserved credits %s of agency %s",
				amount.StringFixed(2), c.ReservedCredits.StringFixed(2), c.AgencyID))
	}
	return nil
}

func noteOr(note, format string, args ...interface{}) string {
	if note != "" {
		return note
	}
	return fmt.Sprintf(format, args...)
}
