package registry

// ActivityRegistry describes the service tasks BPMN models may reference.
type ActivityRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Activities  []Activity `json:"activities"`
}

// Variables lists the process variables a task reads.
type Variables struct {
	Required []string `json:"required"`
	Optional []string `json:"optional,omitempty"`
}

// Outputs lists the process variables a task writes on completion.
type Outputs struct {
	Fields []string `json:"fields"`
}

type Activity struct {
	ID                   string    `json:"id"`
	DisplayName          string    `json:"displayName"`
	Description          string    `json:"description"`
	Category             string    `json:"category"`
	Version              string    `json:"version"`
	TaskType             string    `json:"taskType"`
	ImplementationStatus string    `json:"implementationStatus"`
	InputSchema          Variables `json:"inputSchema"`
	OutputSchema         Outputs   `json:"outputSchema"`
	ErrorCodes           []string  `json:"errorCodes"`
	Timeout              string    `json:"timeout"`
	Retries              int       `json:"retries"`
	Workflows            []string  `json:"workflows"`
	Tags                 []string  `json:"tags"`
}

// Produces reports whether the activity writes the named variable.
func (a *Activity) Produces(variable string) bool {
	for _, f := range a.OutputSchema.Fields {
		if f == variable {
			return true
		}
	}
	return false
}
