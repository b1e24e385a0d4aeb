// internal/workflow/service.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"placement-broker/internal/balancegate"
	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/metrics"
	"placement-broker/internal/common/observability"
	"placement-broker/internal/common/retry"
	"placement-broker/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PlacementStore persists placements. UpdatePlacement writes only while the
// stored version equals expectedVersion, else apperrors.ErrConcurrencyConflict.
type PlacementStore interface {
	CreatePlacement(ctx context.Context, p *models.Placement) error
	GetPlacement(ctx context.Context, id string) (*models.Placement, error)
	UpdatePlacement(ctx context.Context, p *models.Placement, expectedVersion int64) error
	ListStaleTrials(ctx context.Context, cutoff time.Time, limit int) ([]models.Placement, error)
}

// Ledger reserves fees when a placement starts. Money leaving escrow goes
// through Escrow.Settle instead.
type Ledger interface {
	Reserve(ctx context.Context, agencyID string, amount decimal.Decimal, currency, placementID, note string) (*models.AgencyCredits, error)
	ReturnOnFailure(ctx context.Context, agencyID string, amount decimal.Decimal, placementID, note string) (*models.AgencyCredits, error)
}

type Escrow interface {
	Open(ctx context.Context, placementID, agencyID string, amount decimal.Decimal, currency string) (*models.FeeTransaction, error)
	Settle(ctx context.Context, placementID string, outcome models.FeeStatus, note string) (*models.FeeTransaction, error)
	Get(ctx context.Context, placementID string) (*models.FeeTransaction, error)
	Expired(ctx context.Context, limit int) ([]models.FeeTransaction, error)
	FlagForReview(ctx context.Context, placementID, note string) (*models.FeeTransaction, error)
	EscrowedTotals(ctx context.Context) (map[string]decimal.Decimal, error)
}

type Availability interface {
	Get(ctx context.Context, maidID string) (*models.MaidAvailability, error)
	SetStatus(ctx context.Context, maidID string, status models.MaidStatus) error
	Claim(ctx context.Context, maidID, placementID string) error
	Release(ctx context.Context, maidID, placementID string) (bool, error)
}

// BalanceGate prices a placement and checks the agency can afford it.
type BalanceGate interface {
	CheckBalance(ctx context.Context, agencyID, sponsorCountry string) (*balancegate.BalanceCheck, error)
	CheckDefault(ctx context.Context, agencyID string) (*balancegate.BalanceCheck, error)
	DefaultFee() balancegate.Fee
}

// Notifier delivers agency notifications. It must not block the caller and
// never reports failure back.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

type Options struct {
	Placements    PlacementStore
	Ledger        Ledger
	Escrow        Escrow
	Availability  Availability
	Balance       BalanceGate
	Notifier      Notifier
	Logger        logger.Logger
	Observability *observability.Observability
	// LowBalanceThreshold triggers a low balance warning after a placement.
	// Zero falls back to the default fee.
	LowBalanceThreshold decimal.Decimal
	StepRetry           retry.Policy
	Clock               func() time.Time
}

// Service is the single entry point for placement lifecycle changes. It
// sequences availability, escrow and ledger effects and compensates
// completed steps in reverse when a later one fails.
type Service struct {
	placements   PlacementStore
	ledger       Ledger
	escrow       Escrow
	availability Availability
	balance      BalanceGate
	notifier     Notifier
	logger       logger.Logger
	obs          *observability.Observability
	tracer       trace.Tracer
	threshold    decimal.Decimal
	stepRetry    retry.Policy
	now          func() time.Time
}

func NewService(opts Options) *Service {
	s := &Service{
		placements:   opts.Placements,
		ledger:       opts.Ledger,
		escrow:       opts.Escrow,
		availability: opts.Availability,
		balance:      opts.Balance,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		obs:          opts.Observability,
		tracer:       opts.Observability.Tracer(),
		threshold:    opts.LowBalanceThreshold,
		stepRetry:    opts.StepRetry,
		now:          opts.Clock,
	}
	if s.logger == nil {
		s.logger = logger.NewNoOpLogger()
	}
	s.logger = s.logger.WithFields(map[string]interface{}{"component": "placement-workflow"})
	if s.notifier == nil {
		s.notifier = discardNotifier{}
	}
	if s.stepRetry.MaxAttempts == 0 {
		s.stepRetry = retry.Policy{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
	}
	s.stepRetry.Retryable = apperrors.IsTransient
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, models.Notification) {}

// CreatePlacementRequest starts a placement for one maid with one sponsor.
type CreatePlacementRequest struct {
	AgencyID       string `json:"agencyId"`
	MaidID         string `json:"maidId"`
	SponsorID      string `json:"sponsorId"`
	JobID          string `json:"jobId,omitempty"`
	SponsorCountry string `json:"sponsorCountry"`
}

func (r CreatePlacementRequest) validate() error {
	required := []struct{ field, value string }{
		{"agencyId", r.AgencyID},
		{"maidId", r.MaidID},
		{"sponsorId", r.SponsorID},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return apperrors.NewValidationError(f.field, "must not be empty")
		}
	}
	return nil
}

// CreatePlacement gates on balance, claims the maid, reserves the fee,
// records the placement and opens escrow for it.
func (s *Service) CreatePlacement(ctx context.Context, req CreatePlacementRequest) (placement *models.Placement, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.CreatePlacement", trace.WithAttributes(
		attribute.String("agency.id", req.AgencyID),
		attribute.String("maid.id", req.MaidID),
		attribute.String("sponsor.country", req.SponsorCountry),
	))
	startTime := time.Now()
	defer func() { s.finishSpan(ctx, span, "create_placement", startTime, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"agencyId": req.AgencyID,
		"maidId":   req.MaidID,
	})

	check, err := s.balance.CheckBalance(ctx, req.AgencyID, req.SponsorCountry)
	var unknown *apperrors.UnknownCountryError
	if errors.As(err, &unknown) {
		log.Warn("no fee rule for sponsor country, charging default fee", map[string]interface{}{
			"sponsorCountry": req.SponsorCountry,
		})
		check, err = s.balance.CheckDefault(ctx, req.AgencyID)
	}
	if err != nil {
		return nil, err
	}
	if !check.Sufficient {
		s.notifier.Notify(ctx, models.Notification{
			Type:      models.NotifyInsufficientBalance,
			AgencyID:  req.AgencyID,
			Amount:    check.Required,
			Available: check.Available,
			Currency:  check.Currency,
			Message: fmt.Sprintf("Insufficient balance: %s %s is required to contact a sponsor, %s %s is available.",
				check.Required.StringFixed(2), check.Currency, check.Available.StringFixed(2), check.Currency),
		})
		return nil, &apperrors.InsufficientBalanceError{
			AgencyID:  req.AgencyID,
			Required:  check.Required.StringFixed(2),
			Available: check.Available.StringFixed(2),
			Currency:  check.Currency,
		}
	}

	placementID := uuid.NewString()
	span.SetAttributes(attribute.String("placement.id", placementID))
	log = log.WithFields(map[string]interface{}{"placementId": placementID})

	if err := s.withStepRetry(ctx, "claim maid", func(ctx context.Context) error {
		return s.availability.Claim(ctx, req.MaidID, placementID)
	}); err != nil {
		return nil, err
	}

	credits, err := s.ledger.Reserve(ctx, req.AgencyID, check.Required, check.Currency, placementID, "")
	if err != nil {
		s.releaseClaim(ctx, req.MaidID, placementID)
		return nil, err
	}

	now := s.now()
	placement = &models.Placement{
		ID:             placementID,
		AgencyID:       req.AgencyID,
		MaidID:         req.MaidID,
		SponsorID:      req.SponsorID,
		JobID:          req.JobID,
		SponsorCountry: strings.ToUpper(strings.TrimSpace(req.SponsorCountry)),
		Status:         models.StatusContactInitiated,
		FeeAmount:      check.Required,
		Currency:       check.Currency,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.withStepRetry(ctx, "insert placement", func(ctx context.Context) error {
		return s.placements.CreatePlacement(ctx, placement)
	}); err != nil {
		log.Error("failed to record placement, returning reserved fee", map[string]interface{}{"error": err.Error()})
		s.compensateReserve(ctx, placement, "Placement could not be recorded")
		s.releaseClaim(ctx, req.MaidID, placementID)
		return nil, err
	}

	if _, err := s.escrow.Open(ctx, placementID, req.AgencyID, check.Required, check.Currency); err != nil {
		log.Error("failed to open escrow, failing placement", map[string]interface{}{"error": err.Error()})
		s.compensateReserve(ctx, placement, "Escrow could not be opened")
		s.markEscrowOpenFailed(ctx, placement)
		s.releaseClaim(ctx, req.MaidID, placementID)
		return nil, err
	}

	metrics.PlacementTransitions.WithLabelValues("none", string(models.StatusContactInitiated)).Inc()
	log.Info("placement created", map[string]interface{}{
		"fee":       check.Required,
		"currency":  check.Currency,
		"available": credits.AvailableCredits,
	})

	s.notifyAfterReserve(ctx, req.AgencyID, credits)
	return placement, nil
}

func (s *Service) notifyAfterReserve(ctx context.Context, agencyID string, credits *models.AgencyCredits) {
	defaultFee := s.balance.DefaultFee().Amount
	threshold := s.threshold
	if threshold.IsZero() {
		threshold = defaultFee
	}

	available := credits.AvailableCredits
	switch {
	case available.LessThan(defaultFee):
		s.notifier.Notify(ctx, models.Notification{
			Type:      models.NotifyDepositRequired,
			AgencyID:  agencyID,
			Amount:    defaultFee.Sub(available),
			Available: available,
			Currency:  credits.Currency,
			Message: fmt.Sprintf("Deposit required: %s %s remaining, the next placement needs %s %s.",
				available.StringFixed(2), credits.Currency, defaultFee.StringFixed(2), credits.Currency),
		})
	case available.LessThan(threshold):
		s.notifier.Notify(ctx, models.Notification{
			Type:      models.NotifyLowBalanceWarning,
			AgencyID:  agencyID,
			Amount:    available,
			Available: available,
			Currency:  credits.Currency,
			Message:   fmt.Sprintf("Low balance: %s %s remaining.", available.StringFixed(2), credits.Currency),
		})
	}
}

func (s *Service) compensateReserve(ctx context.Context, p *models.Placement, reason string) {
	metrics.PlacementCompensations.WithLabelValues("ledger").Inc()
	note := fmt.Sprintf("%s, fee returned for placement %s", reason, p.ID)
	if _, err := s.ledger.ReturnOnFailure(ctx, p.AgencyID, p.FeeAmount, p.ID, note); err != nil {
		s.logger.Error("failed to return reserved fee", map[string]interface{}{
			"placementId": p.ID,
			"agencyId":    p.AgencyID,
			"amount":      p.FeeAmount,
			"error":       err.Error(),
		})
	}
}

func (s *Service) markEscrowOpenFailed(ctx context.Context, p *models.Placement) {
	metrics.PlacementCompensations.WithLabelValues("placement").Inc()
	failed := *p
	failed.Status = models.StatusPlacementFailed
	failed.Substatus = models.SubstatusEscrowOpenFailed
	failed.Version = p.Version + 1
	failed.UpdatedAt = s.now()
	err := s.withStepRetry(ctx, "fail placement", func(ctx context.Context) error {
		return s.placements.UpdatePlacement(ctx, &failed, p.Version)
	})
	if err != nil {
		s.logger.Error("failed to mark placement failed", map[string]interface{}{
			"placementId": p.ID,
			"error":       err.Error(),
		})
		return
	}
	*p = failed
}

func (s *Service) releaseClaim(ctx context.Context, maidID, placementID string) {
	err := s.withStepRetry(ctx, "release maid claim", func(ctx context.Context) error {
		_, err := s.availability.Release(ctx, maidID, placementID)
		return err
	})
	if err != nil {
		s.logger.Error("failed to release maid claim", map[string]interface{}{
			"maidId":      maidID,
			"placementId": placementID,
			"error":       err.Error(),
		})
	}
}

// TransitionPlacement applies one lifecycle event.
func (s *Service) TransitionPlacement(ctx context.Context, placementID string, event Event) (*models.Placement, error) {
	return s.apply(ctx, placementID, event, "", "")
}

// ResolveVisaApproval recognizes the escrowed fee as revenue. Repeated calls
// after success return the placement unchanged.
func (s *Service) ResolveVisaApproval(ctx context.Context, placementID string) (*models.Placement, error) {
	return s.apply(ctx, placementID, EventApproveVisa, "", fmt.Sprintf("Visa approved for placement %s", placementID))
}

// ResolveCandidateReturn returns the fee to the agency as credit after the
// maid went back post-hire.
func (s *Service) ResolveCandidateReturn(ctx context.Context, placementID, reason string) (*models.Placement, error) {
	return s.apply(ctx, placementID, EventReturnCandidate, "", noteWithReason("Candidate returned", placementID, reason))
}

// ForceFail fails any non-terminal placement and refunds its fee.
func (s *Service) ForceFail(ctx context.Context, placementID, reason string) (*models.Placement, error) {
	return s.apply(ctx, placementID, EventForceFail, "", noteWithReason("Placement force failed", placementID, reason))
}

func (s *Service) GetPlacement(ctx context.Context, placementID string) (*models.Placement, error) {
	if strings.TrimSpace(placementID) == "" {
		return nil, apperrors.NewValidationError("placementId", "must not be empty")
	}
	var p *models.Placement
	err := s.withStepRetry(ctx, "get placement", func(ctx context.Context) error {
		var err error
		p, err = s.placements.GetPlacement(ctx, placementID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func noteWithReason(prefix, placementID, reason string) string {
	if strings.TrimSpace(reason) == "" {
		return fmt.Sprintf("%s for placement %s", prefix, placementID)
	}
	return fmt.Sprintf("%s for placement %s: %s", prefix, placementID, reason)
}

func (s *Service) apply(ctx context.Context, placementID string, event Event, substatus, note string) (result *models.Placement, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.Transition", trace.WithAttributes(
		attribute.String("placement.id", placementID),
		attribute.String("placement.event", string(event)),
	))
	startTime := time.Now()
	defer func() { s.finishSpan(ctx, span, "transition_"+string(event), startTime, err) }()

	if !event.Valid() {
		return nil, apperrors.NewValidationError("event", fmt.Sprintf("unknown event %q", event))
	}

	current, err := s.GetPlacement(ctx, placementID)
	if err != nil {
		return nil, err
	}

	decision, err := Decide(placementID, current.Status, event)
	if err != nil {
		return nil, err
	}
	if decision.NoOp {
		s.logger.Info("duplicate event on terminal placement", map[string]interface{}{
			"placementId": placementID,
			"status":      current.Status,
			"event":       event,
		})
		if err := s.finishSettlement(ctx, current, note); err != nil {
			return nil, err
		}
		return current, nil
	}

	now := s.now()
	next := *current
	next.Status = decision.To
	next.Substatus = substatus
	next.Version = current.Version + 1
	next.UpdatedAt = now
	if decision.To == models.StatusTrialStarted {
		next.TrialStartedAt = &now
	}

	if err := s.placements.UpdatePlacement(ctx, &next, current.Version); err != nil {
		if !errors.Is(err, apperrors.ErrConcurrencyConflict) {
			return nil, err
		}
		return s.resolveStaleWrite(ctx, placementID, event, note)
	}

	if err := s.runEffects(ctx, current, &next, note); err != nil {
		s.revertPlacement(ctx, current, &next)
		return nil, err
	}

	metrics.PlacementTransitions.WithLabelValues(string(current.Status), string(next.Status)).Inc()
	s.logger.Info("placement transitioned", map[string]interface{}{
		"placementId": placementID,
		"from":        current.Status,
		"to":          next.Status,
		"event":       event,
	})
	return &next, nil
}

// resolveStaleWrite handles a lost version race: a duplicate of the event that
// won is a no-op, anything else was decided against a stale status.
func (s *Service) resolveStaleWrite(ctx context.Context, placementID string, event Event, note string) (*models.Placement, error) {
	latest, err := s.GetPlacement(ctx, placementID)
	if err != nil {
		return nil, err
	}
	if decision, err := Decide(placementID, latest.Status, event); err == nil && decision.NoOp {
		if err := s.finishSettlement(ctx, latest, note); err != nil {
			return nil, err
		}
		return latest, nil
	}
	return nil, &apperrors.InvalidStateTransitionError{
		PlacementID: placementID,
		From:        string(latest.Status),
		Event:       string(event),
	}
}

// finishSettlement settles a terminal placement whose fee is still in
// escrow. That happens when the status write committed but its reply was
// lost, or when a failed settlement could not revert the status.
func (s *Service) finishSettlement(ctx context.Context, p *models.Placement, note string) error {
	st, ok := settlementFor(p.Status)
	if !ok {
		return nil
	}
	fee, err := s.escrow.Get(ctx, p.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		// escrow never opened for this placement
		return nil
	}
	if err != nil {
		return err
	}
	if fee.FeeStatus != models.FeeEscrow {
		return nil
	}

	s.logger.Warn("terminal placement still holds its fee in escrow, settling", map[string]interface{}{
		"placementId": p.ID,
		"status":      p.Status,
	})
	return s.settle(ctx, p, st, note)
}

// settlement describes how a terminal status closes the placement.
type settlement struct {
	outcome    models.FeeStatus
	maidStatus models.MaidStatus
}

func settlementFor(status models.PlacementStatus) (settlement, bool) {
	switch status {
	case models.StatusPlacementFailed:
		return settlement{outcome: models.FeeRefunded, maidStatus: models.MaidAvailable}, true
	case models.StatusVisaApproved:
		return settlement{outcome: models.FeeReleased}, true
	case models.StatusMaidReturned:
		return settlement{outcome: models.FeeCredited, maidStatus: models.MaidAvailable}, true
	}
	return settlement{}, false
}

func (s *Service) runEffects(ctx context.Context, prior, next *models.Placement, note string) error {
	switch next.Status {
	case models.StatusTrialStarted:
		_, err := s.setMaidStatus(ctx, next.MaidID, models.MaidInTrial)
		return err
	case models.StatusPlacementConfirmed:
		_, err := s.setMaidStatus(ctx, next.MaidID, models.MaidHired)
		return err
	}

	st, ok := settlementFor(next.Status)
	if !ok {
		return nil
	}
	return s.settle(ctx, next, st, note)
}

// settle frees the maid, then settles escrow, which pairs the escrow
// resolution with its ledger movement. The maid status is restored when
// settlement fails.
func (s *Service) settle(ctx context.Context, p *models.Placement, st settlement, note string) error {
	log := s.logger.WithFields(map[string]interface{}{
		"placementId": p.ID,
		"agencyId":    p.AgencyID,
		"outcome":     st.outcome,
	})

	restoreMaid := func() {}
	if st.maidStatus != "" {
		previous, err := s.setMaidStatus(ctx, p.MaidID, st.maidStatus)
		if err != nil {
			return err
		}
		restoreMaid = func() {
			metrics.PlacementCompensations.WithLabelValues("availability").Inc()
			if _, err := s.setMaidStatus(ctx, p.MaidID, previous); err != nil {
				log.Error("failed to restore maid status", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	if _, err := s.escrow.Settle(ctx, p.ID, st.outcome, note); err != nil {
		log.Error("escrow settlement failed", map[string]interface{}{"error": err.Error()})
		restoreMaid()
		return err
	}

	s.releaseClaim(ctx, p.MaidID, p.ID)
	return nil
}

// setMaidStatus returns the status it replaced.
func (s *Service) setMaidStatus(ctx context.Context, maidID string, status models.MaidStatus) (models.MaidStatus, error) {
	var previous models.MaidStatus
	err := s.withStepRetry(ctx, "set maid status", func(ctx context.Context) error {
		state, err := s.availability.Get(ctx, maidID)
		if err != nil {
			return err
		}
		previous = state.Status
		return s.availability.SetStatus(ctx, maidID, status)
	})
	return previous, err
}

func (s *Service) revertPlacement(ctx context.Context, prior, applied *models.Placement) {
	metrics.PlacementCompensations.WithLabelValues("placement").Inc()
	restored := *prior
	restored.Version = applied.Version + 1
	restored.UpdatedAt = s.now()
	err := s.withStepRetry(ctx, "revert placement", func(ctx context.Context) error {
		return s.placements.UpdatePlacement(ctx, &restored, applied.Version)
	})
	if err != nil {
		s.logger.Error("failed to revert placement status", map[string]interface{}{
			"placementId": prior.ID,
			"from":        applied.Status,
			"to":          prior.Status,
			"error":       err.Error(),
		})
	}
}

func (s *Service) withStepRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.WithBackoff(ctx, s.stepRetry, s.logger, op, fn)
}

func (s *Service) finishSpan(ctx context.Context, span trace.Span, operation string, startTime time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.obs.RecordOperation(ctx, operation, status, time.Since(startTime))
	span.End()
}
