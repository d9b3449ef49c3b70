package narrative

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
)

const systemInstruction = `You are a customer retention strategist for e-commerce brands.
Write for a store owner, not an analyst. Use only the figures you are given.
Reply with a single JSON object and nothing else:
{"headline": string, "summary": string, "insights": [string], "recommendations": [string]}
Give three to five insights and three to five recommendations.`

// BuildPrompt serialises the figures the model is allowed to use.
func BuildPrompt(req Request) string {
	in, res := req.Inputs, req.Results
	var parts []string

	company := EscapeMarkdown(req.CompanyName)
	if company == "" {
		company = "this store"
	}
	parts = append(parts, fmt.Sprintf("Write a churn cost analysis for %s.", company))

	parts = append(parts, "\nBusiness metrics:")
	parts = append(parts, fmt.Sprintf("- Average order value: %s", FormatCurrency(in.AverageOrderValue)))
	parts = append(parts, fmt.Sprintf("- Customers: %s", FormatCount(in.NumberOfCustomers)))
	parts = append(parts, fmt.Sprintf("- Purchases per customer per year: %.1f", in.PurchaseFrequency))
	parts = append(parts, fmt.Sprintf("- Annual churn rate: %.1f%%", in.ChurnRate))
	if in.GrossMargin != nil {
		parts = append(parts, fmt.Sprintf("- Gross margin: %.1f%%", *in.GrossMargin))
	}
	if in.CustomerAcquisitionCost != nil {
		parts = append(parts, fmt.Sprintf("- Customer acquisition cost: %s", FormatCurrency(*in.CustomerAcquisitionCost)))
	}

	parts = append(parts, "\nProjected losses:")
	parts = append(parts, fmt.Sprintf("- Revenue lost per year: %s", FormatCurrency(res.AnnualRevenueLost)))
	parts = append(parts, fmt.Sprintf("- Revenue lost per month: %s", FormatCurrency(res.MonthlyRevenueLost)))
	parts = append(parts, fmt.Sprintf("- Cumulative loss over 3 years: %s", FormatCurrency(res.ThreeYearImpact)))
	parts = append(parts, fmt.Sprintf("- Cumulative loss over 5 years: %s", FormatCurrency(res.FiveYearImpact)))
	parts = append(parts, fmt.Sprintf("- Customers lost per year: %s", FormatCount(res.CustomersLostPerYear)))
	parts = append(parts, fmt.Sprintf("- Average customer lifespan: %.1f years", res.CustomerLifespan))
	if res.AnnualProfitLost != nil {
		parts = append(parts, fmt.Sprintf("- Gross profit lost per year: %s", FormatCurrency(*res.AnnualProfitLost)))
	}
	if res.ReplacementAcquisitionCost != nil {
		parts = append(parts, fmt.Sprintf("- Cost to replace lost customers: %s", FormatCurrency(*res.ReplacementAcquisitionCost)))
	}

	if len(res.ChurnReductionScenarios) > 0 {
		parts = append(parts, "\nChurn reduction scenarios:")
		for _, s := range res.ChurnReductionScenarios {
			parts = append(parts, fmt.Sprintf("- Reduce churn by %.0f%% (to %.2f%%): save %s per year, %s over 3 years",
				s.ReductionPercentage, s.NewChurnRate, FormatCurrency(s.AnnualSavings), FormatCurrency(s.ThreeYearSavings)))
		}
	}

	parts = append(parts, "\nStore profile:")
	parts = append(parts, fmt.Sprintf("- Size: %s", req.Profile.SizeCategory))
	parts = append(parts, fmt.Sprintf("- Order value tier: %s", req.Profile.AOVCategory))
	parts = append(parts, fmt.Sprintf("- Churn severity: %s", req.Profile.ChurnSeverity))

	return strings.Join(parts, "\n")
}

type reply struct {
	Headline        string   `json:"headline"`
	Summary         string   `json:"summary"`
	Insights        []string `json:"insights"`
	Recommendations []string `json:"recommendations"`
}

// ParseReply decodes a model reply. Code fences, trailing commas and
// similar damage are repaired first.
func ParseReply(text string) (*Analysis, error) {
	cleaned := stripCodeFence(text)
	if cleaned == "" {
		return nil, fmt.Errorf("empty reply")
	}

	repaired, err := jsonrepair.RepairJSON(cleaned)
	if err != nil {
		return nil, fmt.Errorf("repair reply: %w", err)
	}

	var r reply
	if err := json.Unmarshal([]byte(repaired), &r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	r.Headline = strings.TrimSpace(r.Headline)
	r.Summary = strings.TrimSpace(r.Summary)
	if r.Headline == "" || r.Summary == "" {
		return nil, fmt.Errorf("reply is missing headline or summary")
	}

	return &Analysis{
		Headline:        r.Headline,
		Summary:         r.Summary,
		Insights:        compact(r.Insights),
		Recommendations: compact(r.Recommendations),
		Source:          SourceAI,
	}, nil
}

func stripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") && strings.HasSuffix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
