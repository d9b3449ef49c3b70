package session

import (
	"fmt"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/narrative"
)

// Action is a single state transition.
type Action interface {
	apply(s State) (State, error)
}

// Reduce returns the state after action. s is not modified.
func Reduce(s State, action Action) (State, error) {
	return action.apply(s)
}

// ReduceAll applies actions in order. On the first error it returns s
// unchanged together with that error.
func ReduceAll(s State, actions ...Action) (State, error) {
	next := s
	for _, action := range actions {
		var err error
		if next, err = Reduce(next, action); err != nil {
			return s, err
		}
	}
	return next, nil
}

// SetBusinessMetrics stores step one and moves to the contact step.
// Earlier results no longer match the inputs and are dropped.
type SetBusinessMetrics struct {
	Inputs calculator.CalculatorInputs
}

func (a SetBusinessMetrics) apply(s State) (State, error) {
	inputs := a.Inputs
	s.Inputs = &inputs
	s.Step = StepContact
	return clearResults(s), nil
}

// SetContact stores step two. Metrics must already be present.
type SetContact struct {
	Contact Contact
}

func (a SetContact) apply(s State) (State, error) {
	if s.Inputs == nil {
		return s, errors.NewSessionStepInvalidError("business metrics must be submitted before contact details")
	}
	contact := a.Contact
	s.Contact = &contact
	s.Step = StepContact
	s.LeadSynced = false
	return s, nil
}

// SetResults records a calculation and moves to the results step with
// the narrative pending. CalculationID identifies this calculation to the
// background work it starts.
type SetResults struct {
	CalculationID string
	Results       calculator.CalculatorResults
	Profile       calculator.StoreProfile
}

func (a SetResults) apply(s State) (State, error) {
	if s.Inputs == nil || s.Contact == nil {
		return s, errors.NewSessionStepInvalidError("business metrics and contact details are required before calculating")
	}
	results, profile := a.Results, a.Profile
	s.Results = &results
	s.Profile = &profile
	s.CalculationID = a.CalculationID
	s.Narrative = nil
	s.NarrativeStatus = NarrativePending
	s.LeadSynced = false
	s.Step = StepResults
	return s, nil
}

// Calculate computes results from the stored inputs and records them as
// SetResults does.
type Calculate struct {
	CalculationID string
}

func (a Calculate) apply(s State) (State, error) {
	if s.Inputs == nil {
		return s, errors.NewSessionStepInvalidError("business metrics must be submitted before calculating")
	}
	results := calculator.Calculate(*s.Inputs)
	return SetResults{
		CalculationID: a.CalculationID,
		Results:       results,
		Profile:       calculator.CategorizeStore(*s.Inputs, results),
	}.apply(s)
}

// SetNarrative attaches a finished analysis. It is rejected when the
// session has been recalculated since the narrative was requested.
type SetNarrative struct {
	CalculationID string
	Analysis      *narrative.Analysis
}

func (a SetNarrative) apply(s State) (State, error) {
	if err := s.requireCalculation(a.CalculationID); err != nil {
		return s, err
	}
	if a.Analysis == nil {
		return s, errors.NewSessionStepInvalidError("narrative is empty")
	}
	s.Narrative = a.Analysis
	s.NarrativeStatus = NarrativeReady
	return s, nil
}

// SetNarrativeStatus is issued by the background work of one calculation
// and is rejected once the session has moved on to another.
type SetNarrativeStatus struct {
	CalculationID string
	Status        NarrativeStatus
}

func (a SetNarrativeStatus) apply(s State) (State, error) {
	switch a.Status {
	case NarrativeIdle, NarrativePending, NarrativeReady:
	default:
		return s, errors.NewSessionStepInvalidError(fmt.Sprintf("unknown narrative status %q", a.Status))
	}
	if err := s.requireCalculation(a.CalculationID); err != nil {
		return s, err
	}
	s.NarrativeStatus = a.Status
	return s, nil
}

// MarkLeadSynced records that the primary lead sink accepted the lead.
type MarkLeadSynced struct {
	CalculationID string
}

func (a MarkLeadSynced) apply(s State) (State, error) {
	if err := s.requireCalculation(a.CalculationID); err != nil {
		return s, err
	}
	s.LeadSynced = true
	return s, nil
}

// GoToStep moves back or forward to a step whose data is already present.
type GoToStep struct {
	Step Step
}

func (a GoToStep) apply(s State) (State, error) {
	switch a.Step {
	case StepBusinessMetrics:
	case StepContact:
		if s.Inputs == nil {
			return s, errors.NewSessionStepInvalidError("business metrics have not been submitted")
		}
	case StepResults:
		if s.Results == nil {
			return s, errors.NewSessionStepInvalidError("results have not been calculated")
		}
	default:
		return s, errors.NewSessionStepInvalidError(fmt.Sprintf("unknown step %q", a.Step))
	}
	s.Step = a.Step
	return s, nil
}

// Reset is "start over": everything but the identity is cleared.
type Reset struct{}

func (Reset) apply(s State) (State, error) {
	return State{
		ID:              s.ID,
		Step:            StepBusinessMetrics,
		NarrativeStatus: NarrativeIdle,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}, nil
}

func (s State) requireCalculation(id string) error {
	if s.Results == nil {
		return errors.NewSessionStepInvalidError("results have not been calculated")
	}
	if id != s.CalculationID {
		return errors.NewSessionStepInvalidError("session was recalculated")
	}
	return nil
}

func clearResults(s State) State {
	s.CalculationID = ""
	s.Results = nil
	s.Profile = nil
	s.Narrative = nil
	s.NarrativeStatus = NarrativeIdle
	s.LeadSynced = false
	return s
}
