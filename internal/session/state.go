// Package session holds the multi-step form state between requests.
// State changes only through Reduce; stores persist the result.
package session

import (
	"time"

	"churn-calc/internal/calculator"
	"churn-calc/internal/narrative"

	"github.com/google/uuid"
)

type Step string

const (
	StepBusinessMetrics Step = "business-metrics"
	StepContact         Step = "contact"
	StepResults         Step = "results"
)

type NarrativeStatus string

const (
	NarrativeIdle    NarrativeStatus = "idle"
	NarrativePending NarrativeStatus = "pending"
	NarrativeReady   NarrativeStatus = "ready"
)

// Contact is the lead captured on the second step.
type Contact struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	CompanyName string `json:"companyName,omitempty"`
	Website     string `json:"website,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type State struct {
	ID              string                        `json:"id"`
	Step            Step                          `json:"step"`
	Inputs          *calculator.CalculatorInputs  `json:"inputs,omitempty"`
	Contact         *Contact                      `json:"contact,omitempty"`
	CalculationID   string                        `json:"calculationId,omitempty"`
	Results         *calculator.CalculatorResults `json:"results,omitempty"`
	Profile         *calculator.StoreProfile      `json:"profile,omitempty"`
	Narrative       *narrative.Analysis           `json:"narrative,omitempty"`
	NarrativeStatus NarrativeStatus               `json:"narrativeStatus"`
	LeadSynced      bool                          `json:"leadSynced"`
	CreatedAt       time.Time                     `json:"createdAt"`
	UpdatedAt       time.Time                     `json:"updatedAt"`
}

// New returns an empty session on the first step.
func New(now time.Time) *State {
	now = now.UTC()
	return &State{
		ID:              uuid.NewString(),
		Step:            StepBusinessMetrics,
		NarrativeStatus: NarrativeIdle,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NarrativeRequest builds the narrative input for a session with results.
func (s *State) NarrativeRequest() (narrative.Request, bool) {
	if s.Inputs == nil || s.Results == nil || s.Profile == nil {
		return narrative.Request{}, false
	}
	req := narrative.Request{
		Inputs:  *s.Inputs,
		Results: *s.Results,
		Profile: *s.Profile,
	}
	if s.Contact != nil {
		req.CompanyName = s.Contact.CompanyName
	}
	return req, true
}
