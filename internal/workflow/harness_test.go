package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"placement-broker/internal/availability"
	"placement-broker/internal/balancegate"
	"placement-broker/internal/common/config"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/retry"
	"placement-broker/internal/escrow"
	"placement-broker/internal/ledger"
	"placement-broker/internal/models"
	"placement-broker/internal/store/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) types() []models.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotificationType, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Type)
	}
	return out
}

// settlementLedger sits between the escrow tracker and the ledger so tests
// can fail the revenue step.
type settlementLedger struct {
	*ledger.Ledger
	releaseErr error
}

func (s *settlementLedger) ReleaseAsRevenue(ctx context.Context, agencyID string, amount decimal.Decimal, placementID, note string) (*models.AgencyCredits, error) {
	if s.releaseErr != nil {
		return nil, s.releaseErr
	}
	return s.Ledger.ReleaseAsRevenue(ctx, agencyID, amount, placementID, note)
}

type harness struct {
	svc      *Service
	stores   *memory.Stores
	ledger   *ledger.Ledger
	settle   *settlementLedger
	escrow   *escrow.Tracker
	gate     *availability.Gate
	notifier *recordingNotifier
	clock    *fakeClock
}

type harnessOption func(*Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.NewTestLogger(t)
	clock := &fakeClock{now: epoch}
	stores := memory.NewStores()
	fastRetry := retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	l := ledger.New(ledger.Options{Store: stores.Credits, Logger: log, TransientRetry: fastRetry, Clock: clock.Now})
	settle := &settlementLedger{Ledger: l}
	tracker := escrow.NewTracker(escrow.Options{
		Store:         stores.Fees,
		Ledger:        settle,
		Logger:        log,
		HoldingPeriod: 90 * 24 * time.Hour,
		RetryPolicy:   fastRetry,
		Clock:         clock.Now,
	})
	gate := availability.NewGate(rdb, "maid", log)
	balance, err := balancegate.NewFromConfig(l, config.FeesConfig{
		Default: config.FeeRule{Amount: "500", Currency: "AED"},
		Countries: map[string]config.FeeRule{
			"AE": {Amount: "500", Currency: "AED"},
			"SA": {Amount: "750", Currency: "AED"},
		},
	}, log)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	options := Options{
		Placements:   stores.Placements,
		Ledger:       l,
		Escrow:       tracker,
		Availability: gate,
		Balance:      balance,
		Notifier:     notifier,
		Logger:       log,
		StepRetry:    fastRetry,
		Clock:        clock.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &harness{
		svc:      NewService(options),
		stores:   stores,
		ledger:   l,
		settle:   settle,
		escrow:   tracker,
		gate:     gate,
		notifier: notifier,
		clock:    clock,
	}
}

func (h *harness) deposit(t *testing.T, agencyID string, amount int64) {
	t.Helper()
	_, err := h.ledger.Deposit(context.Background(), agencyID, decimal.NewFromInt(amount), "AED", "pay-"+uuid.NewString(), "")
	require.NoError(t, err)
}

func (h *harness) create(t *testing.T, agencyID, maidID string) *models.Placement {
	t.Helper()
	p, err := h.svc.CreatePlacement(context.Background(), CreatePlacementRequest{
		AgencyID:       agencyID,
		MaidID:         maidID,
		SponsorID:      "sponsor-1",
		JobID:          "job-1",
		SponsorCountry: "AE",
	})
	require.NoError(t, err)
	return p
}

// drive applies events in order and fails the test on the first error.
func (h *harness) drive(t *testing.T, placementID string, events ...Event) *models.Placement {
	t.Helper()
	var (
		p   *models.Placement
		err error
	)
	for _, event := range events {
		p, err = h.svc.TransitionPlacement(context.Background(), placementID, event)
		require.NoError(t, err, "event %s", event)
	}
	return p
}

func (h *harness) credits(t *testing.T, agencyID string) *models.AgencyCredits {
	t.Helper()
	c, err := h.ledger.GetAgencyCredits(context.Background(), agencyID)
	require.NoError(t, err)
	return c
}

func (h *harness) countEntries(t *testing.T, agencyID string, kind models.LedgerEntryKind) int {
	t.Helper()
	n := 0
	for _, entry := range h.credits(t, agencyID).TransactionLog {
		if entry.Kind == kind {
			n++
		}
	}
	return n
}

func requireBalances(t *testing.T, c *models.AgencyCredits, available, reserved, total int64) {
	t.Helper()
	require.True(t, c.AvailableCredits.Equal(decimal.NewFromInt(available)), "available: got %s want %d", c.AvailableCredits, available)
	require.True(t, c.ReservedCredits.Equal(decimal.NewFromInt(reserved)), "reserved: got %s want %d", c.ReservedCredits, reserved)
	require.True(t, c.TotalCredits.Equal(decimal.NewFromInt(total)), "total: got %s want %d", c.TotalCredits, total)
}

var toConfirmed = []Event{
	EventScheduleInterview,
	EventCompleteInterview,
	EventStartTrial,
	EventEndTrial,
	EventConfirm,
}
