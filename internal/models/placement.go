// internal/models/placement.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlacementStatus is a stage of the placement lifecycle.
type PlacementStatus string

const (
	StatusContactInitiated   PlacementStatus = "contact_initiated"
	StatusInterviewScheduled PlacementStatus = "interview_scheduled"
	StatusInterviewCompleted PlacementStatus = "interview_completed"
	StatusTrialStarted       PlacementStatus = "trial_started"
	StatusTrialCompleted     PlacementStatus = "trial_completed"
	StatusPlacementConfirmed PlacementStatus = "placement_confirmed"
	StatusPlacementFailed    PlacementStatus = "placement_failed"
	StatusVisaApproved       PlacementStatus = "visa_approved"
	StatusMaidReturned       PlacementStatus = "maid_returned"
)

// AllPlacementStatuses lists every status in lifecycle order.
var AllPlacementStatuses = []PlacementStatus{
	StatusContactInitiated,
	StatusInterviewScheduled,
	StatusInterviewCompleted,
	StatusTrialStarted,
	StatusTrialCompleted,
	StatusPlacementConfirmed,
	StatusPlacementFailed,
	StatusVisaApproved,
	StatusMaidReturned,
}

func (s PlacementStatus) String() string { return string(s) }

func (s PlacementStatus) Valid() bool {
	switch s {
	case StatusContactInitiated, StatusInterviewScheduled, StatusInterviewCompleted,
		StatusTrialStarted, StatusTrialCompleted, StatusPlacementConfirmed,
		StatusPlacementFailed, StatusVisaApproved, StatusMaidReturned:
		return true
	}
	return false
}

// IsTerminal reports whether no further events change the placement.
func (s PlacementStatus) IsTerminal() bool {
	switch s {
	case StatusPlacementFailed, StatusVisaApproved, StatusMaidReturned:
		return true
	}
	return false
}

// Substatus values recorded alongside the main status.
const (
	SubstatusNoOutcomeReported = "no_outcome_reported"
	SubstatusEscrowOpenFailed  = "escrow_open_failed"
	SubstatusEscrowExpired     = "escrow_expired"
)

// Placement is one agency's attempt to place a maid with a sponsor.
// Records are never deleted; terminal placements are kept for audit.
type Placement struct {
	ID             string          `json:"id"`
	AgencyID       string          `json:"agencyId"`
	MaidID         string          `json:"maidId"`
	SponsorID      string          `json:"sponsorId"`
	JobID          string          `json:"jobId,omitempty"`
	SponsorCountry string          `json:"sponsorCountry"`
	Status         PlacementStatus `json:"status"`
	Substatus      string          `json:"substatus,omitempty"`
	FeeAmount      decimal.Decimal `json:"feeAmount"`
	Currency       string          `json:"currency"`
	TrialStartedAt *time.Time      `json:"trialStartedAt,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
