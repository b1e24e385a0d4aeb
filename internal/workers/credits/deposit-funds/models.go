// internal/workers/credits/deposit-funds/models.go
package depositfunds

type Input struct {
	AgencyID         string `json:"agencyId"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	PaymentReference string `json:"paymentReference"`
	Note             string `json:"note,omitempty"`
}

type Output struct {
	AvailableCredits string `json:"availableCredits"`
	TotalCredits     string `json:"totalCredits"`
	Currency         string `json:"currency"`
}

// Amounts travel as decimal strings so the process engine never rounds money.
const inputSchema = `{
	"type": "object",
	"required": ["agencyId", "amount", "currency", "paymentReference"],
	"properties": {
		"agencyId":         {"type": "string", "minLength": 1},
		"amount":           {"type": "string", "pattern": "^[0-9]+(\\.[0-9]{1,2})?$"},
		"currency":         {"type": "string", "pattern": "^[A-Z]{3}$"},
		"paymentReference": {"type": "string", "minLength": 1},
		"note":             {"type": "string"}
	}
}`
