// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Registry indexes activities by task type, keeping declaration order.
type Registry struct {
	version    string
	activities map[string]Activity
	order      []string
}

func New(version string, activities ...Activity) (*Registry, error) {
	r := &Registry{version: version, activities: make(map[string]Activity, len(activities))}
	for _, a := range activities {
		if strings.TrimSpace(a.TaskType) == "" {
			return nil, fmt.Errorf("activity %q has no task type", a.DisplayName)
		}
		if _, dup := r.activities[a.TaskType]; dup {
			return nil, fmt.Errorf("duplicate task type %q", a.TaskType)
		}
		r.activities[a.TaskType] = a
		r.order = append(r.order, a.TaskType)
	}
	return r, nil
}

func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return New(reg.Version, reg.Activities...)
}

func (r *Registry) Version() string { return r.version }

func (r *Registry) Lookup(taskType string) (Activity, bool) {
	a, ok := r.activities[taskType]
	return a, ok
}

// TaskTypes returns every registered task type in declaration order.
func (r *Registry) TaskTypes() []string {
	return append([]string(nil), r.order...)
}

// Export returns the serialisable form of the registry.
func (r *Registry) Export() ActivityRegistry {
	out := ActivityRegistry{Version: r.version}
	for _, t := range r.order {
		out.Activities = append(out.Activities, r.activities[t])
	}
	return out
}
