// internal/calculator/engine.go
package calculator

import "math"

func validChurn(churnRate float64) bool {
	return churnRate > 0 && churnRate <= 100
}

func validInputs(in CalculatorInputs) bool {
	return in.NumberOfCustomers > 0 &&
		in.AverageOrderValue > 0 &&
		in.PurchaseFrequency > 0 &&
		validChurn(in.ChurnRate)
}

// roundTo rounds half away from zero.
func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func roundCurrency(v float64) float64 {
	return roundTo(v, 2)
}

func annualRevenueLostRaw(in CalculatorInputs) float64 {
	if !validInputs(in) {
		return 0
	}
	customersLost := in.NumberOfCustomers * (in.ChurnRate / 100)
	return customersLost * in.AverageOrderValue * in.PurchaseFrequency
}

// AnnualRevenueLost is the revenue walking out the door each year.
func AnnualRevenueLost(in CalculatorInputs) float64 {
	return roundCurrency(annualRevenueLostRaw(in))
}

func MonthlyRevenueLost(annualLoss float64) float64 {
	if annualLoss <= 0 {
		return 0
	}
	return roundCurrency(annualLoss / 12)
}

// LifetimeValueLost projects cumulative revenue lost over the given number of
// years. Churn compounds: each year only the customers still retained can leave.
func LifetimeValueLost(in CalculatorInputs, years int) float64 {
	if years <= 0 || !validInputs(in) {
		return 0
	}

	rate := in.ChurnRate / 100
	revenuePerCustomer := in.AverageOrderValue * in.PurchaseFrequency
	base := in.NumberOfCustomers
	total := 0.0

	for year := 0; year < years; year++ {
		if base < 1 {
			break
		}
		lostThisYear := base * rate
		total += lostThisYear * revenuePerCustomer
		base -= lostThisYear
	}

	return roundCurrency(total)
}

// CustomerLifespan is the expected number of years a customer stays.
// Zero or negative churn returns MaxCustomerLifespanYears, churn above 100 returns 0.
func CustomerLifespan(churnRate float64) float64 {
	if churnRate <= 0 {
		return MaxCustomerLifespanYears
	}
	if churnRate > 100 {
		return 0
	}
	return roundTo(1/(churnRate/100), 1)
}

// CustomerLifetimeValue is AOV x frequency x lifespan.
func CustomerLifetimeValue(in CalculatorInputs) float64 {
	if !validInputs(in) {
		return 0
	}
	return roundCurrency(in.AverageOrderValue * in.PurchaseFrequency * CustomerLifespan(in.ChurnRate))
}

// ChurnReductionScenarios estimates savings for each of ReductionPercentages.
// Savings over three years are a flat multiple, not a compounding projection.
func ChurnReductionScenarios(in CalculatorInputs, annualLoss float64) []ChurnReductionScenario {
	if annualLoss <= 0 || !validChurn(in.ChurnRate) {
		return []ChurnReductionScenario{}
	}

	scenarios := make([]ChurnReductionScenario, 0, len(ReductionPercentages))
	for _, reduction := range ReductionPercentages {
		newChurnRate := in.ChurnRate * (1 - reduction/100)
		newAnnualLoss := AnnualRevenueLost(in.WithChurnRate(newChurnRate))
		annualSavings := annualLoss - newAnnualLoss
		if annualSavings < 0 {
			annualSavings = 0
		}
		scenarios = append(scenarios, ChurnReductionScenario{
			ReductionPercentage: reduction,
			NewChurnRate:        roundCurrency(newChurnRate),
			AnnualSavings:       roundCurrency(annualSavings),
			ThreeYearSavings:    roundCurrency(annualSavings * 3),
		})
	}
	return scenarios
}

func CustomersLostPerYear(in CalculatorInputs) float64 {
	return math.Round(customersLostPerYearRaw(in))
}

// CustomersLostPerMonth is rounded once from the unrounded yearly count.
func CustomersLostPerMonth(in CalculatorInputs) float64 {
	return math.Round(customersLostPerYearRaw(in) / 12)
}

func customersLostPerYearRaw(in CalculatorInputs) float64 {
	if in.NumberOfCustomers <= 0 || !validChurn(in.ChurnRate) {
		return 0
	}
	return in.NumberOfCustomers * in.ChurnRate / 100
}

// Projections returns the cumulative loss at each of ProjectionYears.
func Projections(in CalculatorInputs) []YearProjection {
	out := make([]YearProjection, 0, len(ProjectionYears))
	for _, y := range ProjectionYears {
		out = append(out, YearProjection{Year: y, CumulativeLoss: LifetimeValueLost(in, y)})
	}
	return out
}

// Calculate derives the full result set shown on the results page.
func Calculate(in CalculatorInputs) CalculatorResults {
	rawAnnual := annualRevenueLostRaw(in)
	annual := roundCurrency(rawAnnual)
	lostPerYear := CustomersLostPerYear(in)

	results := CalculatorResults{
		AnnualRevenueLost:       annual,
		MonthlyRevenueLost:      MonthlyRevenueLost(annual),
		ThreeYearImpact:         LifetimeValueLost(in, 3),
		FiveYearImpact:          LifetimeValueLost(in, 5),
		CustomerLifespan:        CustomerLifespan(in.ChurnRate),
		CustomersLostPerYear:    lostPerYear,
		CustomersLostPerMonth:   CustomersLostPerMonth(in),
		ChurnReductionScenarios: ChurnReductionScenarios(in, annual),
		CustomerLifetimeValue:   CustomerLifetimeValue(in),
		Projections:             Projections(in),
	}

	if in.GrossMargin != nil && *in.GrossMargin >= 0 && *in.GrossMargin <= 100 && annual > 0 {
		profit := roundCurrency(rawAnnual * *in.GrossMargin / 100)
		results.AnnualProfitLost = &profit
	}
	if in.CustomerAcquisitionCost != nil && *in.CustomerAcquisitionCost >= 0 && lostPerYear > 0 {
		cost := roundCurrency(lostPerYear * *in.CustomerAcquisitionCost)
		results.ReplacementAcquisitionCost = &cost
	}

	return results
}

// CategorizeStore buckets the store using half-open intervals with an
// exclusive upper bound, e.g. exactly 1000 customers is medium and a 75% churn
// rate is critical.
func CategorizeStore(in CalculatorInputs, _ CalculatorResults) StoreProfile {
	return StoreProfile{
		SizeCategory:  sizeCategory(in.NumberOfCustomers),
		AOVCategory:   aovCategory(in.AverageOrderValue),
		ChurnSeverity: churnSeverity(in.ChurnRate),
	}
}

func sizeCategory(customers float64) SizeCategory {
	switch {
	case customers < 1000:
		return SizeSmall
	case customers < 10000:
		return SizeMedium
	case customers < 50000:
		return SizeLarge
	default:
		return SizeEnterprise
	}
}

func aovCategory(aov float64) AOVCategory {
	switch {
	case aov < 50:
		return AOVLow
	case aov < 150:
		return AOVMedium
	case aov < 500:
		return AOVHigh
	default:
		return AOVLuxury
	}
}

func churnSeverity(churnRate float64) ChurnSeverity {
	switch {
	case churnRate >= 75:
		return ChurnCritical
	case churnRate >= 60:
		return ChurnConcerning
	case churnRate >= 45:
		return ChurnModerate
	default:
		return ChurnGood
	}
}
