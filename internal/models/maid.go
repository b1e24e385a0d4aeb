// internal/models/maid.go
package models

// MaidStatus is the availability flag of a candidate.
type MaidStatus string

const (
	MaidAvailable MaidStatus = "available"
	MaidInTrial   MaidStatus = "in_trial"
	MaidHired     MaidStatus = "hired"
)

func (s MaidStatus) String() string { return string(s) }

func (s MaidStatus) Valid() bool {
	return s == MaidAvailable || s == MaidInTrial || s == MaidHired
}

// MaidAvailability is the gate's view of one candidate. PlacementID names the
// placement currently holding the candidate, if any.
type MaidAvailability struct {
	MaidID      string     `json:"maidId"`
	Status      MaidStatus `json:"status"`
	PlacementID string     `json:"placementId,omitempty"`
}
