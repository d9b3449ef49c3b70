package leadsync

import (
	"strconv"
	"time"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/validation"
	"churn-calc/internal/lead"
	"churn-calc/internal/session"
)

type Input struct {
	SessionID     string                      `json:"sessionId,omitempty"`
	CalculationID string                      `json:"calculationId,omitempty"`
	Contact       session.Contact             `json:"contact"`
	ChurnInputs   calculator.CalculatorInputs `json:"churnInputs"`
}

// withProcessDefaults ties a lead without a form session to its process
// instance so job retries deliver the same lead ID.
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
	LeadID      string `json:"leadId"`
	LeadSynced  bool   `json:"leadSynced"`
	LeadSink    string `json:"leadSink"`
	ExternalID  string `json:"leadExternalId,omitempty"`
	LeadCreated bool   `json:"leadCreated"`
}

var inputSchema = validation.MustCompile(TaskType, `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["contact", "churnInputs"],
	"properties": {
		"sessionId": {"type": "string"},
		"calculationId": {"type": "string"},
		"contact": {
			"type": "object",
			"required": ["firstName", "lastName", "email"],
			"properties": {
				"firstName": {"type": "string", "minLength": 1},
				"lastName": {"type": "string", "minLength": 1},
				"email": {"type": "string", "format": "email"}
			}
		},
		"churnInputs": {
			"type": "object",
			"required": ["averageOrderValue", "numberOfCustomers", "purchaseFrequency", "churnRate"]
		}
	}
}`)
