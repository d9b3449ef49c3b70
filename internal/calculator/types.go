// internal/calculator/types.go

// Package calculator projects the revenue a store loses to customer churn.
// It is pure: degenerate input yields zero or empty output, never an error.
package calculator

const (
	DefaultPurchaseFrequency = 2.0
	DefaultChurnRate         = 75.0

	// MaxCustomerLifespanYears is returned by CustomerLifespan when churn is zero or negative.
	MaxCustomerLifespanYears = 100.0
)

// ReductionPercentages are the churn reduction scenarios offered on the results page.
var ReductionPercentages = []float64{10, 25, 50}

// ProjectionYears are the horizons plotted on the results chart.
var ProjectionYears = []int{1, 3, 5}

// CalculatorInputs are the business metrics collected by the form.
type CalculatorInputs struct {
	AverageOrderValue       float64  `json:"averageOrderValue"`
	NumberOfCustomers       float64  `json:"numberOfCustomers"`
	PurchaseFrequency       float64  `json:"purchaseFrequency"`
	ChurnRate               float64  `json:"churnRate"`
	CustomerAcquisitionCost *float64 `json:"customerAcquisitionCost,omitempty"`
	GrossMargin             *float64 `json:"grossMargin,omitempty"`
}

// WithChurnRate returns a copy of the inputs using a different churn rate.
func (in CalculatorInputs) WithChurnRate(churnRate float64) CalculatorInputs {
	in.ChurnRate = churnRate
	return in
}

type ChurnReductionScenario struct {
	ReductionPercentage float64 `json:"reductionPercentage"`
	NewChurnRate        float64 `json:"newChurnRate"`
	AnnualSavings       float64 `json:"annualSavings"`
	ThreeYearSavings    float64 `json:"threeYearSavings"`
}

// YearProjection is one point of the cumulative loss series.
type YearProjection struct {
	Year           int     `json:"year"`
	CumulativeLoss float64 `json:"cumulativeLoss"`
}

// CalculatorResults is derived from CalculatorInputs and never mutated after Calculate returns.
type CalculatorResults struct {
	AnnualRevenueLost       float64                  `json:"annualRevenueLost"`
	MonthlyRevenueLost      float64                  `json:"monthlyRevenueLost"`
	ThreeYearImpact         float64                  `json:"threeYearImpact"`
	FiveYearImpact          float64                  `json:"fiveYearImpact"`
	CustomerLifespan        float64                  `json:"customerLifespan"`
	CustomersLostPerYear    float64                  `json:"customersLostPerYear"`
	CustomersLostPerMonth   float64                  `json:"customersLostPerMonth"`
	ChurnReductionScenarios []ChurnReductionScenario `json:"churnReductionScenarios"`

	CustomerLifetimeValue      float64          `json:"customerLifetimeValue"`
	Projections                []YearProjection `json:"projections"`
	AnnualProfitLost           *float64         `json:"annualProfitLost,omitempty"`
	ReplacementAcquisitionCost *float64         `json:"replacementAcquisitionCost,omitempty"`
}

type SizeCategory string

const (
	SizeSmall      SizeCategory = "small"
	SizeMedium     SizeCategory = "medium"
	SizeLarge      SizeCategory = "large"
	SizeEnterprise SizeCategory = "enterprise"
)

type AOVCategory string

const (
	AOVLow    AOVCategory = "low"
	AOVMedium AOVCategory = "medium"
	AOVHigh   AOVCategory = "high"
	AOVLuxury AOVCategory = "luxury"
)

type ChurnSeverity string

const (
	ChurnCritical   ChurnSeverity = "critical"
	ChurnConcerning ChurnSeverity = "concerning"
	ChurnModerate   ChurnSeverity = "moderate"
	ChurnGood       ChurnSeverity = "good"
)

// StoreProfile classifies a store for narrative template selection.
type StoreProfile struct {
	SizeCategory  SizeCategory  `json:"sizeCategory"`
	AOVCategory   AOVCategory   `json:"aovCategory"`
	ChurnSeverity ChurnSeverity `json:"churnSeverity"`
}
