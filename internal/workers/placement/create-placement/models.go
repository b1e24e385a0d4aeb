// internal/workers/placement/create-placement/models.go
package createplacement

type Input struct {
	AgencyID       string `json:"agencyId"`
	MaidID         string `json:"maidId"`
	SponsorID      string `json:"sponsorId"`
	JobID          string `json:"jobId"`
	SponsorCountry string `json:"sponsorCountry"`
}

type Output struct {
	PlacementID     string `json:"placementId"`
	PlacementStatus string `json:"placementStatus"`
	FeeAmount       string `json:"feeAmount"`
	Currency        string `json:"currency"`
}

const inputSchema = `{
	"type": "object",
	"required": ["agencyId", "maidId", "sponsorId"],
	"properties": {
		"agencyId":       {"type": "string", "minLength": 1},
		"maidId":         {"type": "string", "minLength": 1},
		"sponsorId":      {"type": "string", "minLength": 1},
		"jobId":          {"type": "string"},
		"sponsorCountry": {"type": "string"}
	}
}`
