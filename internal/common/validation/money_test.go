package validation

import (
	"testing"

	apperrors "placement-broker/internal/common/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"whole", "500", false},
		{"two places", "500.25", false},
		{"trailing zeros", "500.2500", false},
		{"largest", "999999999999.99", false},
		{"three places", "100.005", true},
		{"thirteen digits", "1000000000000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Amount("amount", decimal.RequireFromString(tt.amount))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var validation *apperrors.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, "amount", validation.Field)
		})
	}
}
