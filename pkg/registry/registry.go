// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const DefaultPath = "configs/activity-registry.json"

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse activity registry %s: %w", path, err)
	}
	return &reg, nil
}

// Find returns the activity bound to taskType.
func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// Unregistered returns the task types that have no registry entry.
func (r *ActivityRegistry) Unregistered(taskTypes []string) []string {
	var missing []string
	for _, t := range taskTypes {
		if _, ok := r.Find(t); !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// Unimplemented returns registered activities that no running worker serves.
func (r *ActivityRegistry) Unimplemented(taskTypes []string) []string {
	served := make(map[string]bool, len(taskTypes))
	for _, t := range taskTypes {
		served[t] = true
	}
	var missing []string
	for _, a := range r.Activities {
		if !served[a.TaskType] {
			missing = append(missing, a.TaskType)
		}
	}
	return missing
}

// TimeoutFor parses the registered timeout of taskType.
func (r *ActivityRegistry) TimeoutFor(taskType string) (time.Duration, error) {
	a, ok := r.Find(taskType)
	if !ok {
		return 0, fmt.Errorf("activity %q is not registered", taskType)
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0, fmt.Errorf("activity %q has invalid timeout %q: %w", taskType, a.Timeout, err)
	}
	return d, nil
}
