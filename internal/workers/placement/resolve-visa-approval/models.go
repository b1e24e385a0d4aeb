// internal/workers/placement/resolve-visa-approval/models.go
package resolvevisaapproval

type Input struct {
	PlacementID string `json:"placementId"`
}

type Output struct {
	PlacementID     string `json:"placementId"`
	PlacementStatus string `json:"placementStatus"`
	FeeReleased     bool   `json:"feeReleased"`
}

const inputSchema = `{
	"type": "object",
	"required": ["placementId"],
	"properties": {
		"placementId": {"type": "string", "minLength": 1}
	}
}`
