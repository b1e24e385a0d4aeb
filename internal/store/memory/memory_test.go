package memory

import (
	"context"
	"testing"
	"time"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditStore_SaveCredits_VersionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewCreditStore()

	c := models.NewAgencyCredits("agency-1")
	c.Version = 1
	require.NoError(t, s.SaveCredits(ctx, c, 0, &models.LedgerEntry{AgencyID: "agency-1", Kind: models.EntryReserve}))

	// stale writer still believes no record exists
	assert.ErrorIs(t, s.SaveCredits(ctx, c, 0, nil), apperrors.ErrConcurrencyConflict)

	c.Version = 2
	require.NoError(t, s.SaveCredits(ctx, c, 1, nil))
	got, err := s.GetCredits(ctx, "agency-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestCreditStore_DuplicateReference(t *testing.T) {
	ctx := context.Background()
	s := NewCreditStore()

	c := models.NewAgencyCredits("agency-1")
	c.Version = 1
	entry := &models.LedgerEntry{AgencyID: "agency-1", Kind: models.EntryDeposit, Reference: "pay-1"}
	require.NoError(t, s.SaveCredits(ctx, c, 0, entry))

	c.Version = 2
	assert.ErrorIs(t, s.SaveCredits(ctx, c, 1, entry), apperrors.ErrDuplicateReference)

	found, err := s.FindDeposit(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "agency-1", found.AgencyID)

	_, err = s.FindDeposit(ctx, "pay-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreditStore_ListEntries_KeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := NewCreditStore()
	c := models.NewAgencyCredits("agency-1")
	for i := 1; i <= 3; i++ {
		c.Version = int64(i)
		require.NoError(t, s.SaveCredits(ctx, c, int64(i-1), &models.LedgerEntry{
			ID: string(rune('a' + i - 1)), AgencyID: "agency-1",
		}))
	}

	entries, err := s.ListEntries(ctx, "agency-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, "c", entries[1].ID)
}

func TestPlacementStore_OneActivePlacementPerMaid(t *testing.T) {
	ctx := context.Background()
	s := NewPlacementStore()

	first := &models.Placement{ID: "p-1", MaidID: "maid-1", Status: models.StatusContactInitiated, Version: 1}
	require.NoError(t, s.CreatePlacement(ctx, first))

	err := s.CreatePlacement(ctx, &models.Placement{ID: "p-2", MaidID: "maid-1", Status: models.StatusContactInitiated})
	var unavailable *apperrors.CandidateUnavailableError
	assert.ErrorAs(t, err, &unavailable)

	failed := *first
	failed.Status = models.StatusPlacementFailed
	failed.Version = 2
	require.NoError(t, s.UpdatePlacement(ctx, &failed, 1))

	require.NoError(t, s.CreatePlacement(ctx, &models.Placement{ID: "p-3", MaidID: "maid-1", Status: models.StatusContactInitiated}))
}

func TestPlacementStore_UpdateRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewPlacementStore()
	p := &models.Placement{ID: "p-1", MaidID: "maid-1", Status: models.StatusContactInitiated, Version: 1}
	require.NoError(t, s.CreatePlacement(ctx, p))

	next := *p
	next.Version = 2
	require.NoError(t, s.UpdatePlacement(ctx, &next, 1))
	assert.ErrorIs(t, s.UpdatePlacement(ctx, &next, 1), apperrors.ErrConcurrencyConflict)
}

func TestPlacementStore_ListStaleTrials(t *testing.T) {
	ctx := context.Background()
	s := NewPlacementStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-80 * time.Hour)
	recent := now.Add(-2 * time.Hour)

	require.NoError(t, s.CreatePlacement(ctx, &models.Placement{ID: "old", MaidID: "m1", Status: models.StatusTrialStarted, TrialStartedAt: &old}))
	require.NoError(t, s.CreatePlacement(ctx, &models.Placement{ID: "recent", MaidID: "m2", Status: models.StatusTrialStarted, TrialStartedAt: &recent}))

	stale, err := s.ListStaleTrials(ctx, now.Add(-72*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestFeeStore_StatusGuardAndTotals(t *testing.T) {
	ctx := context.Background()
	s := NewFeeStore()
	fee := &models.FeeTransaction{
		ID: "f-1", PlacementID: "p-1", AgencyID: "agency-1",
		AmountCharged: decimal.NewFromInt(500), FeeStatus: models.FeeEscrow,
	}
	require.NoError(t, s.CreateFee(ctx, fee))
	assert.ErrorIs(t, s.CreateFee(ctx, &models.FeeTransaction{ID: "f-2", PlacementID: "p-1"}), apperrors.ErrConcurrencyConflict)

	totals, err := s.EscrowedTotals(ctx)
	require.NoError(t, err)
	assert.True(t, totals["agency-1"].Equal(decimal.NewFromInt(500)))

	released := *fee
	released.FeeStatus = models.FeeReleased
	require.NoError(t, s.UpdateFee(ctx, &released, models.FeeEscrow))
	assert.ErrorIs(t, s.UpdateFee(ctx, &released, models.FeeEscrow), apperrors.ErrConcurrencyConflict)

	totals, err = s.EscrowedTotals(ctx)
	require.NoError(t, err)
	assert.NotContains(t, totals, "agency-1")
}
