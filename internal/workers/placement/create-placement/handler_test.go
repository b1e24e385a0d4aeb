// internal/workers/placement/create-placement/handler_test.go
package createplacement

import (
	"context"
	"testing"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/models"
	"placement-broker/internal/workflow"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockPlacementCreator struct {
	CreatePlacementFunc func(ctx context.Context, req workflow.CreatePlacementRequest) (*models.Placement, error)
	calls               []workflow.CreatePlacementRequest
}

func (m *MockPlacementCreator) CreatePlacement(ctx context.Context, req workflow.CreatePlacementRequest) (*models.Placement, error) {
	m.calls = append(m.calls, req)
	return m.CreatePlacementFunc(ctx, req)
}

func createdPlacement(_ context.Context, req workflow.CreatePlacementRequest) (*models.Placement, error) {
	return &models.Placement{
		ID:        "p-1",
		AgencyID:  req.AgencyID,
		MaidID:    req.MaidID,
		SponsorID: req.SponsorID,
		Status:    models.StatusContactInitiated,
		FeeAmount: decimal.NewFromInt(500),
		Currency:  "AED",
	}, nil
}

func newTestHandler(t *testing.T, creator PlacementCreator) *Handler {
	return NewHandler(LoadConfig(), creator, logger.NewTestLogger(t))
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Handle_Success(t *testing.T) {
	creator := &MockPlacementCreator{CreatePlacementFunc: createdPlacement}
	h := newTestHandler(t, creator)

	output, err := h.handle(context.Background(),
		`{"agencyId":"agency-1","maidId":"maid-1","sponsorId":"sponsor-1","jobId":"job-1","sponsorCountry":"AE"}`)
	require.NoError(t, err)

	assert.Equal(t, "p-1", output.PlacementID)
	assert.Equal(t, "contact_initiated", output.PlacementStatus)
	assert.Equal(t, "500.00", output.FeeAmount)
	assert.Equal(t, "AED", output.Currency)

	require.Len(t, creator.calls, 1)
	assert.Equal(t, "AE", creator.calls[0].SponsorCountry)
	assert.Equal(t, "job-1", creator.calls[0].JobID)
}

func TestHandler_Handle_InvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		variables string
		wantField string
	}{
		{"missing maid", `{"agencyId":"agency-1","sponsorId":"sponsor-1"}`, "maidId"},
		{"empty agency", `{"agencyId":"","maidId":"maid-1","sponsorId":"sponsor-1"}`, "agencyId"},
		{"wrong type", `{"agencyId":"agency-1","maidId":7,"sponsorId":"sponsor-1"}`, "maidId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creator := &MockPlacementCreator{CreatePlacementFunc: createdPlacement}
			h := newTestHandler(t, creator)

			_, err := h.handle(context.Background(), tt.variables)
			var validationErr *apperrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.wantField, validationErr.Field)
			assert.Empty(t, creator.calls)
		})
	}
}

// ==========================
// Error Mapping Tests
// ==========================

func TestHandler_Execute_DomainErrorsBecomeBPMNErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		retries  int
	}{
		{
			name:     "insufficient balance",
			err:      &apperrors.InsufficientBalanceError{AgencyID: "agency-1", Required: "500.00", Available: "120.00", Currency: "AED"},
			wantCode: "INSUFFICIENT_BALANCE",
		},
		{
			name:     "maid already placed",
			err:      &apperrors.CandidateUnavailableError{MaidID: "maid-1", Status: "hired"},
			wantCode: "CANDIDATE_UNAVAILABLE",
		},
		{
			name:     "store outage is retried",
			err:      apperrors.NewExternalStoreError("reserve", assert.AnError, true),
			wantCode: "EXTERNAL_STORE_ERROR",
			retries:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creator := &MockPlacementCreator{
				CreatePlacementFunc: func(context.Context, workflow.CreatePlacementRequest) (*models.Placement, error) {
					return nil, tt.err
				},
			}
			h := newTestHandler(t, creator)

			_, err := h.Execute(context.Background(), &Input{AgencyID: "agency-1", MaidID: "maid-1", SponsorID: "sponsor-1"})
			require.Error(t, err)

			bpmnErr := apperrors.ConvertToBPMNError(apperrors.Normalize(err))
			assert.Equal(t, tt.wantCode, bpmnErr.Code)
			assert.Equal(t, tt.retries, bpmnErr.Retries)
		})
	}
}
