// pkg/registry/catalog.go
package registry

const CatalogVersion = "1.0.0"

// Placement returns the service tasks of the placement process.
func Placement() *Registry {
	r, err := New(CatalogVersion,
		Activity{
			TaskType:    "check-agency-balance",
			DisplayName: "Check Agency Balance",
			Description: "Compares available credits with the fee for the sponsor country",
			Category:    "credits",
			ErrorCodes:  []string{"VALIDATION_FAILED", "EXTERNAL_STORE_ERROR"},
			Retries:     3,
		},
		Activity{
			TaskType:    "deposit-funds",
			DisplayName: "Deposit Funds",
			Description: "Credits a confirmed payment once per payment reference",
			Category:    "credits",
			ErrorCodes:  []string{"VALIDATION_FAILED", "EXTERNAL_STORE_ERROR"},
			Retries:     3,
		},
		Activity{
			TaskType:    "create-placement",
			DisplayName: "Create Placement",
			Description: "Claims the candidate, reserves the fee and opens escrow",
			Category:    "placement",
			ErrorCodes: []string{
				"VALIDATION_FAILED", "INSUFFICIENT_BALANCE", "CANDIDATE_UNAVAILABLE", "EXTERNAL_STORE_ERROR",
			},
			Retries: 3,
		},
		Activity{
			TaskType:    "transition-placement",
			DisplayName: "Transition Placement",
			Description: "Applies a lifecycle event to a placement",
			Category:    "placement",
			ErrorCodes:  []string{"INVALID_STATE_TRANSITION", "PLACEMENT_NOT_FOUND", "CONCURRENCY_CONFLICT"},
			Retries:     2,
		},
		Activity{
			TaskType:    "resolve-visa-approval",
			DisplayName: "Resolve Visa Approval",
			Description: "Releases the escrowed fee as revenue once the visa is approved",
			Category:    "placement",
			ErrorCodes:  []string{"INVALID_STATE_TRANSITION", "ALREADY_RESOLVED", "PLACEMENT_NOT_FOUND"},
			Retries:     2,
		},
		Activity{
			TaskType:    "resolve-candidate-return",
			DisplayName: "Resolve Candidate Return",
			Description: "Returns the escrowed fee to the agency as credit",
			Category:    "placement",
			ErrorCodes:  []string{"INVALID_STATE_TRANSITION", "ALREADY_RESOLVED", "PLACEMENT_NOT_FOUND"},
			Retries:     2,
		},
	)
	if err != nil {
		panic(err)
	}
	return r
}
