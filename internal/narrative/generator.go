// Package narrative turns a churn projection into a short written analysis.
// An AI provider is tried first; templated text is used whenever it fails.
package narrative

import (
	"context"
	"time"

	"churn-calc/internal/calculator"
)

type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// Request is everything a generator may put into the analysis.
type Request struct {
	CompanyName string                       `json:"companyName,omitempty"`
	Inputs      calculator.CalculatorInputs  `json:"inputs"`
	Results     calculator.CalculatorResults `json:"results"`
	Profile     calculator.StoreProfile      `json:"profile"`
}

// NewRequest computes results and profile for in.
func NewRequest(companyName string, in calculator.CalculatorInputs) Request {
	results := calculator.Calculate(in)
	return Request{
		CompanyName: companyName,
		Inputs:      in,
		Results:     results,
		Profile:     calculator.CategorizeStore(in, results),
	}
}

type Analysis struct {
	Headline        string    `json:"headline"`
	Summary         string    `json:"summary"`
	Insights        []string  `json:"insights"`
	Recommendations []string  `json:"recommendations"`
	Source          Source    `json:"source"`
	Provider        string    `json:"provider"`
	Markdown        string    `json:"markdown,omitempty"`
	HTML            string    `json:"html,omitempty"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

// Generator produces an Analysis. Implementations may fail; Service
// turns every failure into fallback text.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Analysis, error)
}
