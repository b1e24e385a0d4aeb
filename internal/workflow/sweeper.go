// internal/workflow/sweeper.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"placement-broker/internal/common/config"
	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/metrics"
	"placement-broker/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// ReservedLister lists agencies currently holding reserved credits.
type ReservedLister interface {
	ListReserved(ctx context.Context) ([]models.AgencyCredits, error)
}

type SweeperOptions struct {
	Service       *Service
	Credits       ReservedLister
	Logger        logger.Logger
	TrialDuration time.Duration
	ExpiryPolicy  string
	BatchSize     int
	Schedules     config.SweepsConfig
	// RunTimeout bounds a single sweep run.
	RunTimeout time.Duration
	Clock      func() time.Time
}

// Sweeper runs the periodic maintenance jobs: closing trials nobody reported
// on, acting on escrow past its horizon and reconciling reserved credits
// against open escrow.
type Sweeper struct {
	svc           *Service
	credits       ReservedLister
	logger        logger.Logger
	trialDuration time.Duration
	policy        string
	batchSize     int
	schedules     config.SweepsConfig
	runTimeout    time.Duration
	now           func() time.Time

	cron     *cron.Cron
	stopOnce sync.Once
}

func NewSweeper(opts SweeperOptions) *Sweeper {
	s := &Sweeper{
		svc:           opts.Service,
		credits:       opts.Credits,
		logger:        opts.Logger,
		trialDuration: opts.TrialDuration,
		policy:        opts.ExpiryPolicy,
		batchSize:     opts.BatchSize,
		schedules:     opts.Schedules,
		runTimeout:    opts.RunTimeout,
		now:           opts.Clock,
	}
	if s.logger == nil {
		s.logger = logger.NewNoOpLogger()
	}
	s.logger = s.logger.WithFields(map[string]interface{}{"component": "placement-sweeper"})
	if s.trialDuration <= 0 {
		s.trialDuration = 72 * time.Hour
	}
	if s.policy == "" {
		s.policy = config.ExpiryPolicyFlag
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.runTimeout <= 0 {
		s.runTimeout = 5 * time.Minute
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}

	cl := cronLogger{log: s.logger}
	s.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	return s
}

// Start registers every sweep with a non-empty schedule and starts the cron
// scheduler. Runs stop when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	jobs := []struct {
		name     string
		schedule string
		run      func(ctx context.Context) error
	}{
		{"trial-timeout", s.schedules.TrialTimeout, func(ctx context.Context) error {
			_, err := s.SweepTrialTimeouts(ctx)
			return err
		}},
		{"escrow-expiry", s.schedules.EscrowExpiry, func(ctx context.Context) error {
			_, err := s.SweepExpiredEscrow(ctx)
			return err
		}},
		{"reconcile", s.schedules.Reconcile, func(ctx context.Context) error {
			_, err := s.Reconcile(ctx)
			return err
		}},
	}

	registered := 0
	for _, job := range jobs {
		if job.schedule == "" {
			s.logger.Info("sweep disabled", map[string]interface{}{"sweep": job.name})
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.schedule, func() {
			runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
			defer cancel()
			if err := job.run(runCtx); err != nil {
				s.logger.Error("sweep failed", map[string]interface{}{
					"sweep": job.name,
					"error": err.Error(),
				})
			}
		}); err != nil {
			return fmt.Errorf("invalid cron expression for sweep %q: %w", job.name, err)
		}
		registered++
	}

	s.cron.Start()
	s.logger.Info("sweeper started", map[string]interface{}{"sweeps": registered})

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for running sweeps to finish. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.logger.Info("sweeper stopped", nil)
	})
}

// SweepTrialTimeouts ends trials older than the trial duration with no
// outcome reported. It returns how many placements it moved.
func (s *Sweeper) SweepTrialTimeouts(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.trialDuration)
	stale, err := s.svc.placements.ListStaleTrials(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			return moved, ctx.Err()
		}
		_, err := s.svc.apply(ctx, p.ID, EventEndTrial, models.SubstatusNoOutcomeReported, "")
		if err != nil {
			var invalid *apperrors.InvalidStateTransitionError
			if errors.As(err, &invalid) {
				// moved on since we listed it
				continue
			}
			s.logger.Error("failed to close stale trial", map[string]interface{}{
				"placementId": p.ID,
				"error":       err.Error(),
			})
			continue
		}
		metrics.TrialTimeouts.Inc()
		moved++
	}

	if moved > 0 {
		s.logger.Info("stale trials closed", map[string]interface{}{"count": moved})
	}
	return moved, nil
}

// SweepExpiredEscrow applies the configured expiry policy to escrow entries
// past their horizon. Release only applies to confirmed placements; anything
// else is flagged for review.
func (s *Sweeper) SweepExpiredEscrow(ctx context.Context) (int, error) {
	expired, err := s.svc.escrow.Expired(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, fee := range expired {
		if ctx.Err() != nil {
			return handled, ctx.Err()
		}
		action, err := s.expire(ctx, fee)
		if err != nil {
			s.logger.Error("failed to handle expired escrow", map[string]interface{}{
				"placementId": fee.PlacementID,
				"policy":      s.policy,
				"error":       err.Error(),
			})
			continue
		}
		metrics.EscrowSweepActions.WithLabelValues(action).Inc()
		handled++
	}
	return handled, nil
}

func (s *Sweeper) expire(ctx context.Context, fee models.FeeTransaction) (string, error) {
	note := fmt.Sprintf("Escrow expired on %s", fee.EscrowUntil.Format(time.RFC3339))

	switch s.policy {
	case config.ExpiryPolicyRefund:
		_, err := s.svc.apply(ctx, fee.PlacementID, EventForceFail, models.SubstatusEscrowExpired, note)
		if err == nil {
			return config.ExpiryPolicyRefund, nil
		}
		var invalid *apperrors.InvalidStateTransitionError
		if !errors.As(err, &invalid) {
			return "", err
		}
	case config.ExpiryPolicyRelease:
		p, err := s.svc.GetPlacement(ctx, fee.PlacementID)
		if err != nil {
			return "", err
		}
		if p.Status == models.StatusPlacementConfirmed {
			if _, err := s.svc.apply(ctx, fee.PlacementID, EventApproveVisa, models.SubstatusEscrowExpired, note); err != nil {
				return "", err
			}
			return config.ExpiryPolicyRelease, nil
		}
	}

	if _, err := s.svc.escrow.FlagForReview(ctx, fee.PlacementID, note+", flagged for review"); err != nil {
		return "", err
	}
	s.logger.Warn("expired escrow flagged for review", map[string]interface{}{
		"placementId": fee.PlacementID,
		"agencyId":    fee.AgencyID,
		"amount":      fee.AmountCharged,
	})
	return config.ExpiryPolicyFlag, nil
}

// Mismatch is an agency whose reserved credits differ from its open escrow.
type Mismatch struct {
	AgencyID string          `json:"agencyId"`
	Reserved decimal.Decimal `json:"reserved"`
	Escrowed decimal.Decimal `json:"escrowed"`
}

// Reconcile compares reserved credits with the escrowed total per agency.
// It only reports; nothing is corrected automatically.
func (s *Sweeper) Reconcile(ctx context.Context) ([]Mismatch, error) {
	reserved, err := s.credits.ListReserved(ctx)
	if err != nil {
		return nil, err
	}
	escrowed, err := s.svc.escrow.EscrowedTotals(ctx)
	if err != nil {
		return nil, err
	}

	byAgency := make(map[string]decimal.Decimal, len(reserved))
	for _, c := range reserved {
		byAgency[c.AgencyID] = c.ReservedCredits
	}
	for agencyID := range escrowed {
		if _, ok := byAgency[agencyID]; !ok {
			byAgency[agencyID] = decimal.Zero
		}
	}

	var mismatches []Mismatch
	for agencyID, r := range byAgency {
		e := escrowed[agencyID]
		if r.Equal(e) {
			continue
		}
		mismatches = append(mismatches, Mismatch{AgencyID: agencyID, Reserved: r, Escrowed: e})
	}
	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].AgencyID < mismatches[j].AgencyID })

	for _, m := range mismatches {
		metrics.ReconcileMismatches.Inc()
		s.logger.Error("reserved credits do not match escrow", map[string]interface{}{
			"agencyId": m.AgencyID,
			"reserved": m.Reserved,
			"escrowed": m.Escrowed,
		})
	}
	s.logger.Info("reconciliation finished", map[string]interface{}{
		"agencies":   len(byAgency),
		"mismatches": len(mismatches),
	})
	return mismatches, nil
}

// cronLogger routes cron's own logging through the service logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, keyValues(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.WithError(err).Error("cron: "+msg, keyValues(keysAndValues))
}

func keyValues(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
