// internal/workers/credits/check-agency-balance/models.go
package checkagencybalance

type Input struct {
	AgencyID       string `json:"agencyId"`
	SponsorCountry string `json:"sponsorCountry"`
}

type Output struct {
	Sufficient      bool   `json:"sufficient"`
	RequiredAmount  string `json:"requiredAmount"`
	AvailableAmount string `json:"availableAmount"`
	Currency        string `json:"currency"`
}

const inputSchema = `{
	"type": "object",
	"required": ["agencyId"],
	"properties": {
		"agencyId":       {"type": "string", "minLength": 1},
		"sponsorCountry": {"type": "string"}
	}
}`
