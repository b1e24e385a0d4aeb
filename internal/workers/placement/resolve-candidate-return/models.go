// internal/workers/placement/resolve-candidate-return/models.go
package resolvecandidatereturn

type Input struct {
	PlacementID string `json:"placementId"`
	Reason      string `json:"reason"`
}

type Output struct {
	PlacementID     string `json:"placementId"`
	PlacementStatus string `json:"placementStatus"`
	FeeCredited     bool   `json:"feeCredited"`
}

const inputSchema = `{
	"type": "object",
	"required": ["placementId"],
	"properties": {
		"placementId": {"type": "string", "minLength": 1},
		"reason":      {"type": "string", "maxLength": 500}
	}
}`
