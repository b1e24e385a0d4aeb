package balancegate

import (
	"context"
	"errors"
	"testing"

	"placement-broker/internal/common/config"
	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/ledger"
	"placement-broker/internal/models"
	"placement-broker/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCreditReader struct {
	mock.Mock
}

func (m *mockCreditReader) Credits(ctx context.Context, agencyID string) (*models.AgencyCredits, error) {
	args := m.Called(ctx, agencyID)
	if c := args.Get(0); c != nil {
		return c.(*models.AgencyCredits), args.Error(1)
	}
	return nil, args.Error(1)
}

func feesConfig() config.FeesConfig {
	return config.FeesConfig{
		Default: config.FeeRule{Amount: "500", Currency: "AED"},
		Countries: map[string]config.FeeRule{
			"AE": {Amount: "500", Currency: "AED"},
			"SA": {Amount: "750", Currency: "AED"},
		},
	}
}

func newLedgerGate(t *testing.T) (*Gate, *ledger.Ledger) {
	l := ledger.New(ledger.Options{Store: memory.NewCreditStore(), Logger: logger.NewTestLogger(t)})
	gate, err := NewFromConfig(l, feesConfig(), logger.NewTestLogger(t))
	require.NoError(t, err)
	return gate, l
}

func TestCheckBalance(t *testing.T) {
	tests := []struct {
		name           string
		deposit        int64
		country        string
		wantSufficient bool
		wantRequired   int64
	}{
		{"no record reads as zero", 0, "AE", false, 500},
		{"exact fee is enough", 500, "AE", true, 500},
		{"below fee", 499, "AE", false, 500},
		{"country lookup is case-insensitive", 600, " sa ", false, 750},
		{"higher market fee", 750, "SA", true, 750},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, l := newLedgerGate(t)
			ctx := context.Background()
			if tt.deposit > 0 {
				_, err := l.Deposit(ctx, "agency-1", decimal.NewFromInt(tt.deposit), "AED", "pay-1", "")
				require.NoError(t, err)
			}

			result, err := gate.CheckBalance(ctx, "agency-1", tt.country)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSufficient, result.Sufficient)
			assert.True(t, result.Required.Equal(decimal.NewFromInt(tt.wantRequired)))
			assert.True(t, result.Available.Equal(decimal.NewFromInt(tt.deposit)))
			assert.Equal(t, "AED", result.Currency)
		})
	}
}

func TestCheckBalance_DoesNotMutate(t *testing.T) {
	gate, l := newLedgerGate(t)
	ctx := context.Background()
	_, err := l.Deposit(ctx, "agency-1", decimal.NewFromInt(500), "AED", "pay-1", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := gate.CheckBalance(ctx, "agency-1", "AE")
		require.NoError(t, err)
	}

	credits, err := l.GetAgencyCredits(ctx, "agency-1")
	require.NoError(t, err)
	assert.True(t, credits.AvailableCredits.Equal(decimal.NewFromInt(500)))
	assert.Len(t, credits.TransactionLog, 1)
}

func TestCheckBalance_UnknownCountry(t *testing.T) {
	gate, _ := newLedgerGate(t)

	_, err := gate.CheckBalance(context.Background(), "agency-1", "ZZ")
	var unknown *apperrors.UnknownCountryError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ZZ", unknown.Country)

	result, err := gate.CheckDefault(context.Background(), "agency-1")
	require.NoError(t, err)
	assert.True(t, result.Required.Equal(gate.DefaultFee().Amount))
}

func TestCheckBalance_CurrencyMismatch(t *testing.T) {
	reader := new(mockCreditReader)
	credits := models.NewAgencyCredits("agency-1")
	credits.Currency = "USD"
	credits.AvailableCredits = decimal.NewFromInt(1000)
	reader.On("Credits", mock.Anything, "agency-1").Return(credits, nil)

	gate, err := NewFromConfig(reader, feesConfig(), logger.NewTestLogger(t))
	require.NoError(t, err)

	_, err = gate.CheckBalance(context.Background(), "agency-1", "AE")
	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "currency", validation.Field)
	reader.AssertExpectations(t)
}

func TestCheckBalance_StoreError(t *testing.T) {
	reader := new(mockCreditReader)
	storeErr := apperrors.NewExternalStoreError("load credits", errors.New("connection reset"), true)
	reader.On("Credits", mock.Anything, "agency-1").Return(nil, storeErr)

	gate := New(reader, Fee{Amount: decimal.NewFromInt(500), Currency: "AED"}, nil, nil)

	_, err := gate.CheckDefault(context.Background(), "agency-1")
	assert.ErrorIs(t, err, storeErr)
}

func TestCheckBalance_RequiresAgency(t *testing.T) {
	gate, _ := newLedgerGate(t)
	_, err := gate.CheckBalance(context.Background(), " ", "AE")
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestNewFromConfig_RejectsBadAmount(t *testing.T) {
	cfg := feesConfig()
	cfg.Countries["QA"] = config.FeeRule{Amount: "five hundred", Currency: "QAR"}

	_, err := NewFromConfig(new(mockCreditReader), cfg, nil)
	assert.Error(t, err)
}

func TestNewFromConfig_RejectsSubCentAmount(t *testing.T) {
	cfg := feesConfig()
	cfg.Countries["QA"] = config.FeeRule{Amount: "500.005", Currency: "QAR"}

	_, err := NewFromConfig(new(mockCreditReader), cfg, nil)
	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "amount", validation.Field)
}
