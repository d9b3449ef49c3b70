package api

import (
	"encoding/json"
	stderrors "errors"
	"strings"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/common/validation"
	"churn-calc/internal/session"
)

var metricsSchema = validation.MustCompile("business_metrics", `{
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

var contactSchema = validation.MustCompile("contact", `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["firstName", "lastName", "email"],
	"properties": {
		"firstName": {"type": "string", "minLength": 1, "maxLength": 100},
		"lastName": {"type": "string", "minLength": 1, "maxLength": 100},
		"email": {"type": "string", "format": "email", "maxLength": 254},
		"companyName": {"type": "string", "maxLength": 200},
		"website": {"type": "string", "maxLength": 500},
		"phone": {"type": "string", "maxLength": 50}
	}
}`)

var stepSchema = validation.MustCompile("step", `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["step"],
	"properties": {
		"step": {"enum": ["business-metrics", "contact", "results"]}
	}
}`)

var calculateSchema = validation.MustCompile("calculate", `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["metrics"],
	"properties": {
		"companyName": {"type": "string", "maxLength": 200},
		"includeNarrative": {"type": "boolean"},
		"metrics": {"type": "object"}
	}
}`)

var errInvalidJSON = stderrors.New("body is not valid JSON")

// metricsRequest leaves optional fields nil so defaults can be told apart
// from explicit values.
type metricsRequest struct {
	AverageOrderValue       *float64 `json:"averageOrderValue"`
	NumberOfCustomers       *float64 `json:"numberOfCustomers"`
	PurchaseFrequency       *float64 `json:"purchaseFrequency"`
	ChurnRate               *float64 `json:"churnRate"`
	CustomerAcquisitionCost *float64 `json:"customerAcquisitionCost"`
	GrossMargin             *float64 `json:"grossMargin"`
}

func (m metricsRequest) toInputs() calculator.CalculatorInputs {
	in := calculator.CalculatorInputs{
		PurchaseFrequency:       calculator.DefaultPurchaseFrequency,
		ChurnRate:               calculator.DefaultChurnRate,
		CustomerAcquisitionCost: m.CustomerAcquisitionCost,
		GrossMargin:             m.GrossMargin,
	}
	if m.AverageOrderValue != nil {
		in.AverageOrderValue = *m.AverageOrderValue
	}
	if m.NumberOfCustomers != nil {
		in.NumberOfCustomers = *m.NumberOfCustomers
	}
	if m.PurchaseFrequency != nil {
		in.PurchaseFrequency = *m.PurchaseFrequency
	}
	if m.ChurnRate != nil {
		in.ChurnRate = *m.ChurnRate
	}
	return in
}

type contactRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	CompanyName string `json:"companyName"`
	Website     string `json:"website"`
	Phone       string `json:"phone"`
}

func (c contactRequest) toContact() session.Contact {
	return session.Contact{
		FirstName:   strings.TrimSpace(c.FirstName),
		LastName:    strings.TrimSpace(c.LastName),
		Email:       strings.ToLower(strings.TrimSpace(c.Email)),
		CompanyName: strings.TrimSpace(c.CompanyName),
		Website:     strings.TrimSpace(c.Website),
		Phone:       strings.TrimSpace(c.Phone),
	}
}

type stepRequest struct {
	Step session.Step `json:"step"`
}

type calculateRequest struct {
	CompanyName      string          `json:"companyName"`
	IncludeNarrative bool            `json:"includeNarrative"`
	Metrics          json.RawMessage `json:"metrics"`
}

// decode validates data against schema and unmarshals it into out.
func decode(schema *validation.Schema, data []byte, out interface{}) error {
	if !json.Valid(data) {
		return errors.NewInvalidRequestBodyError(errInvalidJSON)
	}
	if result := schema.ValidateJSON(data); !result.Valid {
		return errors.NewValidationError(result.Summary())
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewInvalidRequestBodyError(err)
	}
	return nil
}

func decodeMetrics(data []byte) (calculator.CalculatorInputs, error) {
	var req metricsRequest
	if err := decode(metricsSchema, data, &req); err != nil {
		return calculator.CalculatorInputs{}, err
	}
	return req.toInputs(), nil
}

func decodeContact(data []byte) (session.Contact, error) {
	var req contactRequest
	if err := decode(contactSchema, data, &req); err != nil {
		return session.Contact{}, err
	}
	contact := req.toContact()
	if contact.FirstName == "" || contact.LastName == "" {
		return session.Contact{}, errors.NewValidationError("first and last name must not be blank")
	}
	if !validation.ValidateEmail(contact.Email) {
		return session.Contact{}, errors.NewValidationError("email: invalid email address")
	}
	return contact, nil
}
