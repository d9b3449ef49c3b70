package calculatechurnimpact

import (
	"churn-calc/internal/calculator"
	"churn-calc/internal/common/validation"
)

// Input mirrors the business metrics step. Unset frequency and churn take
// the form defaults.
type Input struct {
	AverageOrderValue       float64  `json:"averageOrderValue"`
	NumberOfCustomers       float64  `json:"numberOfCustomers"`
	PurchaseFrequency       *float64 `json:"purchaseFrequency,omitempty"`
	ChurnRate               *float64 `json:"churnRate,omitempty"`
	CustomerAcquisitionCost *float64 `json:"customerAcquisitionCost,omitempty"`
	GrossMargin             *float64 `json:"grossMargin,omitempty"`
}

func (in *Input) CalculatorInputs() calculator.CalculatorInputs {
	out := calculator.CalculatorInputs{
		AverageOrderValue:       in.AverageOrderValue,
		NumberOfCustomers:       in.NumberOfCustomers,
		PurchaseFrequency:       calculator.DefaultPurchaseFrequency,
		ChurnRate:               calculator.DefaultChurnRate,
		CustomerAcquisitionCost: in.CustomerAcquisitionCost,
		GrossMargin:             in.GrossMargin,
	}
	if in.PurchaseFrequency != nil {
		out.PurchaseFrequency = *in.PurchaseFrequency
	}
	if in.ChurnRate != nil {
		out.ChurnRate = *in.ChurnRate
	}
	return out
}

// Output is merged into the process variables.
type Output struct {
	ChurnInputs       calculator.CalculatorInputs  `json:"churnInputs"`
	ChurnResults      calculator.CalculatorResults `json:"churnResults"`
	StoreProfile      calculator.StoreProfile      `json:"storeProfile"`
	AnnualRevenueLost float64                      `json:"annualRevenueLost"`
	ChurnSeverity     string                       `json:"churnSeverity"`
	HighValueLead     bool                         `json:"highValueLead"`
}

var inputSchema = validation.MustCompile(TaskType, `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["averageOrderValue", "numberOfCustomers"],
	"properties": {
		"averageOrderValue": {"type": "number", "exclusiveMinimum": 0},
		"numberOfCustomers": {"type": "number", "exclusiveMinimum": 0},
		"purchaseFrequency": {"type": "number", "exclusiveMinimum": 0},
		"churnRate": {"type": "number", "minimum": 0, "maximum": 100},
		"customerAcquisitionCost": {"type": "number", "minimum": 0},
		"grossMargin": {"type": "number", "minimum": 0, "maximum": 100}
	}
}`)
