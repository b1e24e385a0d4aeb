// internal/models/credits.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntryKind names the ledger operation that produced an entry.
type LedgerEntryKind string

const (
	EntryDeposit         LedgerEntryKind = "deposit"
	EntryReserve         LedgerEntryKind = "reserve"
	EntryReleaseRevenue  LedgerEntryKind = "release_revenue"
	EntryReturnOnFailure LedgerEntryKind = "return_on_failure"
	EntryReturnAsCredit  LedgerEntryKind = "return_as_credit"
)

func (k LedgerEntryKind) String() string { return string(k) }

// LedgerEntry is an append-only record of one balance mutation.
type LedgerEntry struct {
	ID             string          `json:"id"`
	AgencyID       string          `json:"agencyId"`
	Kind           LedgerEntryKind `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Reference      string          `json:"reference,omitempty"`
	PlacementID    string          `json:"placementId,omitempty"`
	Note           string          `json:"note"`
	AvailableAfter decimal.Decimal `json:"availableAfter"`
	ReservedAfter  decimal.Decimal `json:"reservedAfter"`
	TotalAfter     decimal.Decimal `json:"totalAfter"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// AgencyCredits is the authoritative balance record of one agency.
// Total = Available + Reserved at all times.
type AgencyCredits struct {
	AgencyID         string          `json:"agencyId"`
	Currency         string          `json:"currency"`
	TotalCredits     decimal.Decimal `json:"totalCredits"`
	AvailableCredits decimal.Decimal `json:"availableCredits"`
	ReservedCredits  decimal.Decimal `json:"reservedCredits"`
	AutoApplyCredits bool            `json:"autoApplyCredits"`
	Version          int64           `json:"version"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	TransactionLog   []LedgerEntry   `json:"transactionLog,omitempty"`
}

// NewAgencyCredits returns the zero record created lazily on first use.
func NewAgencyCredits(agencyID string) *AgencyCredits {
	return &AgencyCredits{
		AgencyID:         agencyID,
		TotalCredits:     decimal.Zero,
		AvailableCredits: decimal.Zero,
		ReservedCredits:  decimal.Zero,
		AutoApplyCredits: true,
	}
}

// Clone returns a copy that shares no slices with c.
func (c *AgencyCredits) Clone() *AgencyCredits {
	out := *c
	if c.TransactionLog != nil {
		out.TransactionLog = append([]LedgerEntry(nil), c.TransactionLog...)
	}
	return &out
}
