// internal/models/notification.go
package models

import "github.com/shopspring/decimal"

type NotificationType string

const (
	NotifyInsufficientBalance NotificationType = "insufficient_balance"
	NotifyDepositRequired     NotificationType = "deposit_required"
	NotifyLowBalanceWarning   NotificationType = "low_balance_warning"
)

// Notification is an outbound message to an agency. Delivery is best effort.
type Notification struct {
	Type      NotificationType `json:"type"`
	AgencyID  string           `json:"agencyId"`
	Amount    decimal.Decimal  `json:"amount"`
	Available decimal.Decimal  `json:"available"`
	Currency  string           `json:"currency"`
	Message   string           `json:"message"`
}

// AgencyContact is where an agency wants its notifications delivered.
type AgencyContact struct {
	AgencyID string `json:"agencyId"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}
