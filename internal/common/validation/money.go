// internal/common/validation/money.go
package validation

import (
	apperrors "placement-broker/internal/common/errors"

	"github.com/shopspring/decimal"
)

// Money columns are NUMERIC(14, 2).
const (
	moneyScale         = 2
	moneyIntegerDigits = 12
)

var moneyCeiling = decimal.New(1, moneyIntegerDigits)

// Amount rejects values the money columns would round or overflow, so the
// figure a caller sees is the figure that is stored.
func Amount(field string, amount decimal.Decimal) error {
	if amount.Exponent() < -moneyScale && !amount.Equal(amount.Round(moneyScale)) {
		return apperrors.NewValidationError(field, "must have at most 2 decimal places")
	}
	if amount.Abs().GreaterThanOrEqual(moneyCeiling) {
		return apperrors.NewValidationError(field, "must have at most 12 integer digits")
	}
	return nil
}
