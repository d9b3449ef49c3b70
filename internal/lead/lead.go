// Package lead delivers captured leads to the CRM and the archive, and
// notifies the lead and the sales team.
package lead

import (
	"fmt"
	"strings"
	"time"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/common/validation"
	"churn-calc/internal/session"

	"github.com/google/uuid"
)

type Lead struct {
	ID         string                       `json:"id"`
	SessionID  string                       `json:"sessionId,omitempty"`
	Contact    session.Contact              `json:"contact"`
	Inputs     calculator.CalculatorInputs  `json:"inputs"`
	Results    calculator.CalculatorResults `json:"results"`
	Profile    calculator.StoreProfile      `json:"profile"`
	CapturedAt time.Time                    `json:"capturedAt"`
}

func New(sessionID string, contact session.Contact, inputs calculator.CalculatorInputs, now time.Time) *Lead {
	results := calculator.Calculate(inputs)
	return &Lead{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Contact:    contact,
		Inputs:     inputs,
		Results:    results,
		Profile:    calculator.CategorizeStore(inputs, results),
		CapturedAt: now.UTC(),
	}
}

// FromSession builds a lead from a session that has reached the results step.
// The lead ID is derived from the calculation so retries deliver the same lead.
func FromSession(s *session.State, now time.Time) (*Lead, error) {
	if s.Contact == nil || s.Inputs == nil || s.Results == nil || s.Profile == nil {
		return nil, errors.NewSessionStepInvalidError("session has no captured lead")
	}
	id := uuid.NewString()
	if s.CalculationID != "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(s.ID+"/"+s.CalculationID)).String()
	}
	return &Lead{
		ID:         id,
		SessionID:  s.ID,
		Contact:    *s.Contact,
		Inputs:     *s.Inputs,
		Results:    *s.Results,
		Profile:    *s.Profile,
		CapturedAt: now.UTC(),
	}, nil
}

func (l *Lead) Validate() error {
	var problems []string
	if strings.TrimSpace(l.Contact.FirstName) == "" {
		problems = append(problems, "first name is required")
	}
	if strings.TrimSpace(l.Contact.LastName) == "" {
		problems = append(problems, "last name is required")
	}
	if !validation.ValidateEmail(l.Contact.Email) {
		problems = append(problems, fmt.Sprintf("invalid email %q", l.Contact.Email))
	}
	if len(problems) > 0 {
		return errors.NewValidationError(strings.Join(problems, "; "))
	}
	return nil
}

// Properties flattens inputs, results and profile into CRM custom fields.
func (l *Lead) Properties() map[string]interface{} {
	in, res := l.Inputs, l.Results
	props := map[string]interface{}{
		"Average_Order_Value":     in.AverageOrderValue,
		"Number_Of_Customers":     in.NumberOfCustomers,
		"Purchase_Frequency":      in.PurchaseFrequency,
		"Churn_Rate":              in.ChurnRate,
		"Annual_Revenue_Lost":     res.AnnualRevenueLost,
		"Monthly_Revenue_Lost":    res.MonthlyRevenueLost,
		"Three_Year_Impact":       res.ThreeYearImpact,
		"Five_Year_Impact":        res.FiveYearImpact,
		"Customer_Lifespan":       res.CustomerLifespan,
		"Customers_Lost_Per_Year": res.CustomersLostPerYear,
		"Customer_Lifetime_Value": res.CustomerLifetimeValue,
		"Store_Size":              string(l.Profile.SizeCategory),
		"AOV_Tier":                string(l.Profile.AOVCategory),
		"Churn_Severity":          string(l.Profile.ChurnSeverity),
	}

	if in.CustomerAcquisitionCost != nil {
		props["Customer_Acquisition_Cost"] = *in.CustomerAcquisitionCost
	}
	if in.GrossMargin != nil {
		props["Gross_Margin"] = *in.GrossMargin
	}
	if res.AnnualProfitLost != nil {
		props["Annual_Profit_Lost"] = *res.AnnualProfitLost
	}
	for _, s := range res.ChurnReductionScenarios {
		props[fmt.Sprintf("Savings_At_%.0f_Percent_Reduction", s.ReductionPercentage)] = s.AnnualSavings
	}
	if l.Contact.CompanyName != "" {
		props["Company"] = l.Contact.CompanyName
	}
	if l.Contact.Website != "" {
		props["Website"] = l.Contact.Website
	}
	return props
}

// EmailDomain is the part of the address after @, lower-cased.
func (l *Lead) EmailDomain() string {
	at := strings.LastIndex(l.Contact.Email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(l.Contact.Email[at+1:])
}
