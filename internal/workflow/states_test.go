package workflow

import (
	"testing"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide_LegalTransitions(t *testing.T) {
	tests := []struct {
		from  models.PlacementStatus
		event Event
		to    models.PlacementStatus
	}{
		{models.StatusContactInitiated, EventScheduleInterview, models.StatusInterviewScheduled},
		{models.StatusInterviewScheduled, EventCompleteInterview, models.StatusInterviewCompleted},
		{models.StatusInterviewCompleted, EventStartTrial, models.StatusTrialStarted},
		{models.StatusTrialStarted, EventEndTrial, models.StatusTrialCompleted},
		{models.StatusTrialCompleted, EventConfirm, models.StatusPlacementConfirmed},
		{models.StatusTrialCompleted, EventFail, models.StatusPlacementFailed},
		{models.StatusPlacementConfirmed, EventApproveVisa, models.StatusVisaApproved},
		{models.StatusPlacementConfirmed, EventReturnCandidate, models.StatusMaidReturned},
		{models.StatusContactInitiated, EventForceFail, models.StatusPlacementFailed},
		{models.StatusPlacementConfirmed, EventForceFail, models.StatusPlacementFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			decision, err := Decide("p-1", tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.to, decision.To)
			assert.False(t, decision.NoOp)
		})
	}
}

func TestDecide_ForceFailFromEveryOpenStatus(t *testing.T) {
	for _, status := range models.AllPlacementStatuses {
		decision, err := Decide("p-1", status, EventForceFail)
		require.NoError(t, err, status)
		assert.Equal(t, models.StatusPlacementFailed, decision.To)
		assert.Equal(t, status == models.StatusPlacementFailed, decision.NoOp, status)
	}
}

func TestDecide_TerminalStates(t *testing.T) {
	decision, err := Decide("p-1", models.StatusVisaApproved, EventApproveVisa)
	require.NoError(t, err)
	assert.True(t, decision.NoOp)

	_, err = Decide("p-1", models.StatusVisaApproved, EventReturnCandidate)
	var invalid *apperrors.InvalidStateTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "visa_approved", invalid.From)
	assert.Equal(t, "return_candidate", invalid.Event)
}

func TestDecide_RejectsUnknownValues(t *testing.T) {
	_, err := Decide("p-1", models.PlacementStatus("archived"), EventScheduleInterview)
	assert.Error(t, err)

	_, err = Decide("p-1", models.StatusContactInitiated, Event("skip_ahead"))
	assert.Error(t, err)
	assert.False(t, Event("skip_ahead").Valid())
}
