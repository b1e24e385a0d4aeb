// internal/notify/templates.go
package notify

import (
	"fmt"
	"strings"

	"placement-broker/internal/models"
)

var subjects = map[models.NotificationType]string{
	models.NotifyInsufficientBalance: "Action needed: insufficient credits to contact a sponsor",
	models.NotifyDepositRequired:     "Deposit required for your next placement",
	models.NotifyLowBalanceWarning:   "Your credit balance is running low",
}

func subject(t models.NotificationType) string {
	if s, ok := subjects[t]; ok {
		return s
	}
	return "Placement credits update"
}

// urgent notifications also go out by SMS.
func urgent(t models.NotificationType) bool {
	return t == models.NotifyInsufficientBalance || t == models.NotifyDepositRequired
}

func renderBody(contact *models.AgencyContact, msg models.Notification) string {
	var b strings.Builder
	name := contact.Name
	if name == "" {
		name = msg.AgencyID
	}
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	b.WriteString(msg.Message)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Available credits: %s %s\n", msg.Available.StringFixed(2), msg.Currency)
	if msg.Type != models.NotifyLowBalanceWarning {
		fmt.Fprintf(&b, "Amount needed: %s %s\n", msg.Amount.StringFixed(2), msg.Currency)
	}
	return b.String()
}
