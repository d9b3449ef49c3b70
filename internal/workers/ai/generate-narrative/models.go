package generatenarrative

import (
	"churn-calc/internal/calculator"
	"churn-calc/internal/common/validation"
	"churn-calc/internal/narrative"
)

// Input reads churnInputs as written by calculate-churn-impact.
type Input struct {
	CompanyName string                      `json:"companyName,omitempty"`
	ChurnInputs calculator.CalculatorInputs `json:"churnInputs"`
}

type Output struct {
	Narrative         *narrative.Analysis `json:"narrative"`
	NarrativeSource   narrative.Source    `json:"narrativeSource"`
	NarrativeProvider string              `json:"narrativeProvider"`
}

var inputSchema = validation.MustCompile(TaskType, `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["churnInputs"],
	"properties": {
		"companyName": {"type": "string"},
		"churnInputs": {
			"type": "object",
			"required": ["averageOrderValue", "numberOfCustomers", "purchaseFrequency", "churnRate"],
			"properties": {
				"averageOrderValue": {"type": "number"},
				"numberOfCustomers": {"type": "number"},
				"purchaseFrequency": {"type": "number"},
				"churnRate": {"type": "number", "minimum": 0, "maximum": 100}
			}
		}
	}
}`)
