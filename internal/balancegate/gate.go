// internal/balancegate/gate.go
package balancegate

import (
	"context"
	"fmt"
	"strings"

	"placement-broker/internal/common/config"
	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/validation"
	"placement-broker/internal/models"

	"github.com/shopspring/decimal"
)

// CreditReader is the read side of the credit ledger. A missing record must
// come back as zero credits rather than an error.
type CreditReader interface {
	Credits(ctx context.Context, agencyID string) (*models.AgencyCredits, error)
}

// Fee is the placement fee charged for one sponsor market.
type Fee struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// BalanceCheck is the outcome of a pre-contact balance check.
type BalanceCheck struct {
	Sufficient bool            `json:"sufficient"`
	Required   decimal.Decimal `json:"required"`
	Currency   string          `json:"currency"`
	Available  decimal.Decimal `json:"available"`
}

// Gate answers whether an agency can afford contacting a sponsor in a given
// country. It never writes.
type Gate struct {
	credits   CreditReader
	fallback  Fee
	countries map[string]Fee
	logger    logger.Logger
}

func New(credits CreditReader, fallback Fee, countries map[string]Fee, log logger.Logger) *Gate {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	table := make(map[string]Fee, len(countries))
	for code, fee := range countries {
		table[normalizeCountry(code)] = fee
	}
	return &Gate{
		credits:   credits,
		fallback:  fallback,
		countries: table,
		logger:    log.WithFields(map[string]interface{}{"component": "balance-gate"}),
	}
}

// NewFromConfig builds the fee table from the validated fees section.
func NewFromConfig(credits CreditReader, cfg config.FeesConfig, log logger.Logger) (*Gate, error) {
	fallback, err := parseRule(cfg.Default)
	if err != nil {
		return nil, fmt.Errorf("default fee: %w", err)
	}
	countries := make(map[string]Fee, len(cfg.Countries))
	for code, rule := range cfg.Countries {
		fee, err := parseRule(rule)
		if err != nil {
			return nil, fmt.Errorf("fee for %s: %w", code, err)
		}
		countries[code] = fee
	}
	return New(credits, fallback, countries, log), nil
}

func parseRule(rule config.FeeRule) (Fee, error) {
	amount, err := decimal.NewFromString(rule.Amount)
	if err != nil {
		return Fee{}, err
	}
	if err := validation.Amount("amount", amount); err != nil {
		return Fee{}, err
	}
	return Fee{Amount: amount, Currency: rule.Currency}, nil
}

// RequiredFee looks up the fee for a sponsor country.
func (g *Gate) RequiredFee(country string) (Fee, error) {
	fee, ok := g.countries[normalizeCountry(country)]
	if !ok {
		return Fee{}, &apperrors.UnknownCountryError{Country: country}
	}
	return fee, nil
}

// DefaultFee is the fee used when a country has no rule of its own.
func (g *Gate) DefaultFee() Fee {
	return g.fallback
}

// CheckBalance compares the agency's available credits with the fee for
// sponsorCountry. An insufficient balance is reported in the result.
func (g *Gate) CheckBalance(ctx context.Context, agencyID, sponsorCountry string) (*BalanceCheck, error) {
	if strings.TrimSpace(agencyID) == "" {
		return nil, apperrors.NewValidationError("agencyId", "must not be empty")
	}
	fee, err := g.RequiredFee(sponsorCountry)
	if err != nil {
		return nil, err
	}
	return g.check(ctx, agencyID, fee)
}

// CheckDefault is CheckBalance against the default fee.
func (g *Gate) CheckDefault(ctx context.Context, agencyID string) (*BalanceCheck, error) {
	if strings.TrimSpace(agencyID) == "" {
		return nil, apperrors.NewValidationError("agencyId", "must not be empty")
	}
	return g.check(ctx, agencyID, g.fallback)
}

func (g *Gate) check(ctx context.Context, agencyID string, fee Fee) (*BalanceCheck, error) {
	credits, err := g.credits.Credits(ctx, agencyID)
	if err != nil {
		return nil, err
	}
	if credits.Currency != "" && credits.Currency != fee.Currency {
		return nil, apperrors.NewValidationError("currency",
			fmt.Sprintf("agency credits are held in %s, fee is charged in %s", credits.Currency, fee.Currency))
	}

	result := &BalanceCheck{
		Sufficient: credits.AvailableCredits.GreaterThanOrEqual(fee.Amount),
		Required:   fee.Amount,
		Currency:   fee.Currency,
		Available:  credits.AvailableCredits,
	}
	g.logger.Debug("balance checked", map[string]interface{}{
		"agencyId":   agencyID,
		"required":   fee.Amount,
		"available":  credits.AvailableCredits,
		"sufficient": result.Sufficient,
	})
	return result, nil
}

func normalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
