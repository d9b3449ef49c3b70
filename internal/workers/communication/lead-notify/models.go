package leadnotify

import (
	"strconv"
	"time"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/validation"
	"churn-calc/internal/lead"
	"churn-calc/internal/narrative"
	"churn-calc/internal/session"
)

type Input struct {
	SessionID     string                      `json:"sessionId,omitempty"`
	CalculationID string                      `json:"calculationId,omitempty"`
	Contact       session.Contact             `json:"contact"`
	ChurnInputs   calculator.CalculatorInputs `json:"churnInputs"`
	Narrative     *narrative.Analysis         `json:"narrative,omitempty"`
}

func (in *Input) withProcessDefaults(processInstanceKey int64) {
	key := strconv.FormatInt(processInstanceKey, 10)
	if in.SessionID == "" {
		in.SessionID = "process-" + key
	}
	if in.CalculationID == "" {
		in.CalculationID = key
	}
}

func (in *Input) toLead(now time.Time) (*lead.Lead, error) {
	inputs := in.ChurnInputs
	results := calculator.Calculate(inputs)
	profile := calculator.CategorizeStore(inputs, results)
	contact := in.Contact
	return lead.FromSession(&session.State{
		ID:            in.SessionID,
		CalculationID: in.CalculationID,
		Contact:       &contact,
		Inputs:        &inputs,
		Results:       &results,
		Profile:       &profile,
	}, now)
}

type Output struct {
	LeadEmailed    bool   `json:"leadEmailed"`
	SalesAlerted   bool   `json:"salesAlerted"`
	EmailMessageID string `json:"emailMessageId,omitempty"`
	AlertMessageID string `json:"alertMessageId,omitempty"`
}

var inputSchema = validation.MustCompile(TaskType, `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["contact", "churnInputs"],
	"properties": {
		"contact": {
			"type": "object",
			"required": ["firstName", "lastName", "email"],
			"properties": {
				"email": {"type": "string", "format": "email"}
			}
		},
		"churnInputs": {
			"type": "object",
			"required": ["averageOrderValue", "numberOfCustomers", "purchaseFrequency", "churnRate"]
		},
		"narrative": {"type": ["object", "null"]}
	}
}`)
