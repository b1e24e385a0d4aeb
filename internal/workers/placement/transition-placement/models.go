// internal/workers/placement/transition-placement/models.go
package transitionplacement

type Input struct {
	PlacementID string `json:"placementId"`
	Event       string `json:"event"`
	Reason      string `json:"reason,omitempty"`
}

type Output struct {
	PlacementID     string `json:"placementId"`
	PlacementStatus string `json:"placementStatus"`
	Substatus       string `json:"substatus,omitempty"`
	Version         int64  `json:"version"`
}

const inputSchema = `{
	"type": "object",
	"required": ["placementId", "event"],
	"properties": {
		"placementId": {"type": "string", "minLength": 1},
		"event": {
			"type": "string",
			"enum": ["schedule_interview", "complete_interview", "start_trial", "end_trial",
				"confirm", "fail", "approve_visa", "return_candidate", "force_fail"]
		},
		"reason": {"type": "string"}
	}
}`
