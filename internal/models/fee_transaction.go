// internal/models/fee_transaction.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FeeStatus string

const (
	FeePending  FeeStatus = "pending"
	FeeEscrow   FeeStatus = "escrow"
	FeeReleased FeeStatus = "released"
	FeeCredited FeeStatus = "credited"
	FeeRefunded FeeStatus = "refunded"
)

func (s FeeStatus) String() string { return string(s) }

// IsResolution reports whether s is one of the three mutually exclusive outcomes.
func (s FeeStatus) IsResolution() bool {
	return s == FeeReleased || s == FeeCredited || s == FeeRefunded
}

type VisaStatus string

const (
	VisaPending       VisaStatus = "pending"
	VisaApproved      VisaStatus = "approved"
	VisaNotApplicable VisaStatus = "not_applicable"
)

// FeeTransaction is the escrow record of the fee reserved for one placement.
type FeeTransaction struct {
	ID              string          `json:"id"`
	PlacementID     string          `json:"placementId"`
	AgencyID        string          `json:"agencyId"`
	FeeAmount       decimal.Decimal `json:"feeAmount"`
	AmountCharged   decimal.Decimal `json:"amountCharged"`
	Currency        string          `json:"currency"`
	FeeStatus       FeeStatus       `json:"feeStatus"`
	VisaStatus      VisaStatus      `json:"visaStatus"`
	DeductedAt      time.Time       `json:"deductedAt"`
	EscrowUntil     time.Time       `json:"escrowUntil"`
	ReleasedAt      *time.Time      `json:"releasedAt,omitempty"`
	CreditedAt      *time.Time      `json:"creditedAt,omitempty"`
	RefundedAt      *time.Time      `json:"refundedAt,omitempty"`
	ReviewFlaggedAt *time.Time      `json:"reviewFlaggedAt,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}
