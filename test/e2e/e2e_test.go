// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placement-broker/internal/api"
	"placement-broker/internal/availability"
	"placement-broker/internal/balancegate"
	"placement-broker/internal/common/camunda"
	"placement-broker/internal/common/config"
	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/retry"
	"placement-broker/internal/escrow"
	"placement-broker/internal/ledger"
	"placement-broker/internal/models"
	"placement-broker/internal/store/memory"
	"placement-broker/internal/workflow"
	"placement-broker/pkg/registry"

	checkagencybalance "placement-broker/internal/workers/credits/check-agency-balance"
	depositfunds "placement-broker/internal/workers/credits/deposit-funds"
	createplacement "placement-broker/internal/workers/placement/create-placement"
	resolvecandidatereturn "placement-broker/internal/workers/placement/resolve-candidate-return"
	resolvevisaapproval "placement-broker/internal/workers/placement/resolve-visa-approval"
	transitionplacement "placement-broker/internal/workers/placement/transition-placement"
)

// ==========================
// Environment
// ==========================

// TestEnvironment wires the broker the way cmd/placement-manager does, with
// in-memory record stores and an embedded Redis.
type TestEnvironment struct {
	Stores   *memory.Stores
	Ledger   *ledger.Ledger
	Escrow   *escrow.Tracker
	Maids    *availability.Gate
	Balance  *balancegate.Gate
	Service  *workflow.Service
	Sweeper  *workflow.Sweeper
	Notifier *recordingNotifier
	Clock    *clock
	API      *httptest.Server

	CheckBalance    *checkagencybalance.Handler
	Deposit         *depositfunds.Handler
	Create          *createplacement.Handler
	Transition      *transitionplacement.Handler
	ApproveVisa     *resolvevisaapproval.Handler
	ReturnCandidate *resolvecandidatereturn.Handler
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
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

func (n *recordingNotifier) count(kind models.NotificationType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, msg := range n.sent {
		if msg.Type == kind {
			total++
		}
	}
	return total
}

func setupEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.NewTestLogger(t)
	clk := &clock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	fast := retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	stores := memory.NewStores()

	l := ledger.New(ledger.Options{Store: stores.Credits, Logger: log, TransientRetry: fast, Clock: clk.Now})
	tracker := escrow.NewTracker(escrow.Options{
		Store:         stores.Fees,
		Ledger:        l,
		Logger:        log,
		HoldingPeriod: 90 * 24 * time.Hour,
		RetryPolicy:   fast,
		Clock:         clk.Now,
	})
	maids := availability.NewGate(rdb, "maid", log)
	balance, err := balancegate.NewFromConfig(l, config.FeesConfig{
		Default: config.FeeRule{Amount: "500", Currency: "AED"},
		Countries: map[string]config.FeeRule{
			"AE": {Amount: "500", Currency: "AED"},
			"SA": {Amount: "750", Currency: "AED"},
			"QA": {Amount: "600", Currency: "AED"},
		},
	}, log)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	svc := workflow.NewService(workflow.Options{
		Placements:   stores.Placements,
		Ledger:       l,
		Escrow:       tracker,
		Availability: maids,
		Balance:      balance,
		Notifier:     notifier,
		Logger:       log,
		StepRetry:    fast,
		Clock:        clk.Now,
	})
	sweeper := workflow.NewSweeper(workflow.SweeperOptions{
		Service:       svc,
		Credits:       stores.Credits,
		Logger:        log,
		TrialDuration: 72 * time.Hour,
		ExpiryPolicy:  config.ExpiryPolicyRefund,
		Clock:         clk.Now,
	})

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(l, balance, nil, log), log))
	t.Cleanup(srv.Close)

	return &TestEnvironment{
		Stores:   stores,
		Ledger:   l,
		Escrow:   tracker,
		Maids:    maids,
		Balance:  balance,
		Service:  svc,
		Sweeper:  sweeper,
		Notifier: notifier,
		Clock:    clk,
		API:      srv,

		CheckBalance:    checkagencybalance.NewHandler(&checkagencybalance.Config{Timeout: jobTimeout}, balance, log),
		Deposit:         depositfunds.NewHandler(&depositfunds.Config{Timeout: jobTimeout}, l, log),
		Create:          createplacement.NewHandler(&createplacement.Config{Timeout: jobTimeout}, svc, log),
		Transition:      transitionplacement.NewHandler(&transitionplacement.Config{Timeout: jobTimeout}, svc, log),
		ApproveVisa:     resolvevisaapproval.NewHandler(&resolvevisaapproval.Config{Timeout: jobTimeout}, svc, log),
		ReturnCandidate: resolvecandidatereturn.NewHandler(&resolvecandidatereturn.Config{Timeout: jobTimeout}, svc, log),
	}
}

func (env *TestEnvironment) deposit(t *testing.T, agencyID, amount, reference string) {
	t.Helper()
	_, err := env.Deposit.Execute(context.Background(), &depositfunds.Input{
		AgencyID:         agencyID,
		Amount:           amount,
		Currency:         "AED",
		PaymentReference: reference,
	})
	require.NoError(t, err)
}

func (env *TestEnvironment) advance(t *testing.T, placementID string, events ...workflow.Event) *transitionplacement.Output {
	t.Helper()
	var out *transitionplacement.Output
	for _, event := range events {
		var err error
		out, err = env.Transition.Execute(context.Background(), &transitionplacement.Input{
			PlacementID: placementID,
			Event:       string(event),
		})
		require.NoError(t, err, "event %s", event)
	}
	return out
}

func (env *TestEnvironment) balances(t *testing.T, agencyID string) (available, reserved, total string) {
	t.Helper()
	c, err := env.Ledger.GetAgencyCredits(context.Background(), agencyID)
	require.NoError(t, err)
	return c.AvailableCredits.StringFixed(2), c.ReservedCredits.StringFixed(2), c.TotalCredits.StringFixed(2)
}

func (env *TestEnvironment) maidStatus(t *testing.T, maidID string) models.MaidStatus {
	t.Helper()
	state, err := env.Maids.Get(context.Background(), maidID)
	require.NoError(t, err)
	return state.Status
}

const jobTimeout = 30 * time.Second

var toConfirmed = []workflow.Event{
	workflow.EventScheduleInterview,
	workflow.EventCompleteInterview,
	workflow.EventStartTrial,
	workflow.EventEndTrial,
	workflow.EventConfirm,
}

// ==========================
// Placement journeys
// ==========================

func TestPlacementJourney_VisaApproved(t *testing.T) {
	env := setupEnvironment(t)
	ctx := context.Background()

	env.deposit(t, "agency-1", "1200.00", "pay-1")

	check, err := env.CheckBalance.Execute(ctx, &checkagencybalance.Input{AgencyID: "agency-1", SponsorCountry: "AE"})
	require.NoError(t, err)
	require.True(t, check.Sufficient)

	created, err := env.Create.Execute(ctx, &createplacement.Input{
		AgencyID:       "agency-1",
		MaidID:         "maid-1",
		SponsorID:      "sponsor-1",
		JobID:          "job-1",
		SponsorCountry: "AE",
	})
	require.NoError(t, err)
	assert.Equal(t, "contact_initiated", created.PlacementStatus)
	assert.Equal(t, "500.00", created.FeeAmount)

	available, reserved, total := env.balances(t, "agency-1")
	assert.Equal(t, []string{"700.00", "500.00", "1200.00"}, []string{available, reserved, total})

	out := env.advance(t, created.PlacementID, toConfirmed...)
	assert.Equal(t, "placement_confirmed", out.PlacementStatus)
	assert.Equal(t, models.MaidHired, env.maidStatus(t, "maid-1"))

	approved, err := env.ApproveVisa.Execute(ctx, &resolvevisaapproval.Input{PlacementID: created.PlacementID})
	require.NoError(t, err)
	assert.True(t, approved.FeeReleased)

	available, reserved, total = env.balances(t, "agency-1")
	assert.Equal(t, []string{"700.00", "0.00", "700.00"}, []string{available, reserved, total})

	fee, err := env.Escrow.Get(ctx, created.PlacementID)
	require.NoError(t, err)
	assert.Equal(t, models.FeeReleased, fee.FeeStatus)

	// redelivered job
	approved, err = env.ApproveVisa.Execute(ctx, &resolvevisaapproval.Input{PlacementID: created.PlacementID})
	require.NoError(t, err)
	assert.True(t, approved.FeeReleased)
	_, _, total = env.balances(t, "agency-1")
	assert.Equal(t, "700.00", total)
}

func TestPlacementJourney_CandidateReturnedAndReused(t *testing.T) {
	env := setupEnvironment(t)
	ctx := context.Background()

	env.deposit(t, "agency-1", "500.00", "pay-1")

	first, err := env.Create.Execute(ctx, &createplacement.Input{
		AgencyID: "agency-1", MaidID: "maid-1", SponsorID: "sponsor-1", JobID: "job-1", SponsorCountry: "AE",
	})
	require.NoError(t, err)
	env.advance(t, first.PlacementID, toConfirmed...)

	returned, err := env.ReturnCandidate.Execute(ctx, &resolvecandidatereturn.Input{
		PlacementID: first.PlacementID,
		Reason:      "sponsor relocated",
	})
	require.NoError(t, err)
	assert.True(t, returned.FeeCredited)
	assert.Equal(t, models.MaidAvailable, env.maidStatus(t, "maid-1"))

	available, reserved, _ := env.balances(t, "agency-1")
	assert.Equal(t, "500.00", available)
	assert.Equal(t, "0.00", reserved)

	// the credit pays for the next placement of the same maid
	second, err := env.Create.Execute(ctx, &createplacement.Input{
		AgencyID: "agency-1", MaidID: "maid-1", SponsorID: "sponsor-2", JobID: "job-2", SponsorCountry: "AE",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.PlacementID, second.PlacementID)
}

func TestPlacementJourney_TrialFailedRefunds(t *testing.T) {
	env := setupEnvironment(t)
	ctx := context.Background()

	env.deposit(t, "agency-1", "800.00", "pay-1")
	created, err := env.Create.Execute(ctx, &createplacement.Input{
		AgencyID: "agency-1", MaidID: "maid-1", SponsorID: "sponsor-1", JobID: "job-1", SponsorCountry: "QA",
	})
	require.NoError(t, err)
	assert.Equal(t, "600.00", created.FeeAmount)

	out := env.advance(t, created.PlacementID,
		workflow.EventScheduleInterview,
		workflow.EventCompleteInterview,
		workflow.EventStartTrial,
		workflow.EventEndTrial,
		workflow.EventFail,
	)
	assert.Equal(t, "placement_failed", out.PlacementStatus)
	assert.Equal(t, models.MaidAvailable, env.maidStatus(t, "maid-1"))

	available, reserved, total := env.balances(t, "agency-1")
	assert.Equal(t, []string{"800.00", "0.00", "800.00"}, []string{available, reserved, total})
}

func TestPlacementJourney_InsufficientBalance(t *testing.T) {
	env := setupEnvironment(t)
	ctx := context.Background()

	env.deposit(t, "agency-1", "600.00", "pay-1")

	check, err := env.CheckBalance.Execute(ctx, &checkagencybalance.Input{AgencyID: "agency-1", SponsorCountry: "SA"})
	require.NoError(t, err)
	assert.False(t, check.Sufficient)
	assert.Equal(t, "750.00", check.RequiredAmount)

	_, err = env.Create.Execute(ctx, &createplacement.Input{
		AgencyID: "agency-1", MaidID: "maid-1", SponsorID: "sponsor-1", JobID: "job-1", SponsorCountry: "SA",
	})
	var insufficient *apperrors.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)

	bpmn := apperrors.ConvertToBPMNError(apperrors.Normalize(err))
	assert.Equal(t, "INSUFFICIENT_BALANCE", bpmn.Code)
	assert.Equal(t, 0, bpmn.Retries)

	// nothing was claimed or reserved
	assert.Equal(t, models.MaidAvailable, env.maidStatus(t, "maid-1"))
	_, reserved, _ := env.balances(t, "agency-1")
	assert.Equal(t, "0.00", reserved)
	assert.Equal(t, 1, env.Notifier.count(models.NotifyInsufficientBalance))
}

func TestPlacementJourney_MaidClaimedOnce(t *testing.T) {
	env := setupEnvironment(t)
	ctx := context.Background()

	env.deposit(t, "agency-1", "2000.00", "pay-1")
	env.deposit(t, "agency-2", "2000.00", "pay-2")

	const contenders = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agency := fmt.Sprintf("agency-%d", i%2+1)
			_, err := env.Create.Execute(ctx, &createplacement.Input{
				AgencyID: agency, MaidID: "maid-9", SponsorID: fmt.Sprintf("sponsor-%d", i), JobID: "job-1", SponsorCountry: "AE",
			})
			mu.Lock()
			defer mu.Unlock()
			var unavailable *apperrors.CandidateUnavailableError
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorAs(t, err, &unavailable):
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, contenders-1, rejected)

	reserved := decimal.Zero
	for _, agency := range []string{"agency-1", "agency-2"} {
		c, err := env.Ledger.GetAgencyCredits(ctx, agency)
		require.NoError(t, err)
		reserved = reserved.Add(c.ReservedCredits)
	}
	assert.True(t, reserved.Equal(decimal.NewFromInt(500)), "reserved %s", reserved)
}

// ==========================
// Sweeps
// ==========================

func TestSweeps_TrialTimeoutAndReconcile(t *testing.T) {
	env := setupEnvironment(t)
	ctx := context.Background()

	env.deposit(t, "agency-1", "1000.00", "pay-1")
	created, err := env.Create.Execute(ctx, &createplacement.Input{
		AgencyID: "agency-1", MaidID: "maid-1", SponsorID: "sponsor-1", JobID: "job-1", SponsorCountry: "AE",
	})
	require.NoError(t, err)
	env.advance(t, created.PlacementID,
		workflow.EventScheduleInterview,
		workflow.EventCompleteInterview,
		workflow.EventStartTrial,
	)

	mismatches, err := env.Sweeper.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	env.Clock.Advance(73 * time.Hour)
	moved, err := env.Sweeper.SweepTrialTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	p, err := env.Service.GetPlacement(ctx, created.PlacementID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTrialCompleted, p.Status)
}

func TestSweeps_ExpiredEscrowRefunded(t *testing.T) {
	env := setupEnvironment(t)
	ctx := context.Background()

	env.deposit(t, "agency-1", "500.00", "pay-1")
	created, err := env.Create.Execute(ctx, &createplacement.Input{
		AgencyID: "agency-1", MaidID: "maid-1", SponsorID: "sponsor-1", JobID: "job-1", SponsorCountry: "AE",
	})
	require.NoError(t, err)

	env.Clock.Advance(91 * 24 * time.Hour)
	acted, err := env.Sweeper.SweepExpiredEscrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acted)

	p, err := env.Service.GetPlacement(ctx, created.PlacementID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlacementFailed, p.Status)

	available, reserved, _ := env.balances(t, "agency-1")
	assert.Equal(t, "500.00", available)
	assert.Equal(t, "0.00", reserved)
}

// ==========================
// HTTP surface
// ==========================

func TestAPI_PaymentConfirmationFeedsWorkers(t *testing.T) {
	env := setupEnvironment(t)
	ctx := context.Background()

	body := `{"agencyId":"agency-7","amount":"750.00","currency":"AED","paymentReference":"psp-42"}`
	for i := 0; i < 2; i++ {
		resp, err := http.Post(env.API.URL+"/v1/payments/confirmations", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	check, err := env.CheckBalance.Execute(ctx, &checkagencybalance.Input{AgencyID: "agency-7", SponsorCountry: "SA"})
	require.NoError(t, err)
	assert.True(t, check.Sufficient)
	assert.Equal(t, "750.00", check.AvailableAmount)

	resp, err := http.Get(env.API.URL + "/v1/agencies/agency-7/credits")
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded struct {
		Data struct {
			TotalCredits   string               `json:"totalCredits"`
			TransactionLog []models.LedgerEntry `json:"transactionLog"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "750.00", decoded.Data.TotalCredits)
	assert.Len(t, decoded.Data.TransactionLog, 1)
}

// ==========================
// Live broker
// ==========================

// TestLiveZeebeWorkers opens real job workers against a running gateway. It
// runs only when ZEEBE_ADDRESS is set.
func TestLiveZeebeWorkers(t *testing.T) {
	address := os.Getenv("ZEEBE_ADDRESS")
	if address == "" || testing.Short() {
		t.Skip("ZEEBE_ADDRESS not set")
	}
	env := setupEnvironment(t)
	log := logger.NewTestLogger(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := camunda.Connect(ctx, camunda.ConfigFrom(config.CamundaConfig{Enabled: true, BrokerAddress: address}), log)
	require.NoError(t, err)
	defer client.Close()

	handlers := map[string]camunda.JobHandler{
		checkagencybalance.TaskType:     env.CheckBalance.Handle,
		depositfunds.TaskType:           env.Deposit.Handle,
		createplacement.TaskType:        env.Create.Handle,
		transitionplacement.TaskType:    env.Transition.Handle,
		resolvevisaapproval.TaskType:    env.ApproveVisa.Handle,
		resolvecandidatereturn.TaskType: env.ReturnCandidate.Handle,
	}
	for _, taskType := range registry.Placement().TaskTypes() {
		handler, ok := handlers[taskType]
		require.True(t, ok, "no handler for %s", taskType)
		w := camunda.NewWorker(client.GetClient(), taskType, config.WorkerConfig{Enabled: true, MaxJobsActive: 1, Timeout: 30000}, handler, log)
		defer w.Stop()
	}

	require.NoError(t, client.HealthCheck(ctx))
}
