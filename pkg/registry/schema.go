// pkg/registry/schema.go
package registry

// ActivityRegistry is the on-disk form of the catalog.
type ActivityRegistry struct {
	Version    string     `json:"version"`
	Activities []Activity `json:"activities"`
}

// Activity describes one BPMN service task the broker implements.
type Activity struct {
	TaskType    string   `json:"taskType"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	ErrorCodes  []string `json:"errorCodes"`
	Retries     int      `json:"retries"`
}
