package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/narrative"

	"github.com/spf13/cobra"
)

type calculateOptions struct {
	averageOrderValue float64
	customers         float64
	frequency         float64
	churnRate         float64
	acquisitionCost   float64
	grossMargin       float64
	companyName       string
	withNarrative     bool
}

// CalculationReport is the calculate command's JSON output.
type CalculationReport struct {
	Inputs    calculator.CalculatorInputs  `json:"inputs"`
	Results   calculator.CalculatorResults `json:"results"`
	Profile   calculator.StoreProfile      `json:"profile"`
	Narrative *narrative.Analysis          `json:"narrative,omitempty"`
}

func NewCalculateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &calculateOptions{}

	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Project churn losses for a set of store metrics",
		Long: `Project the revenue lost to churn and print the results.

Purchase frequency defaults to 2 orders per customer per year and churn
to 75 percent. Acquisition cost and gross margin are optional.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalculate(cmd, rootOpts, opts)
		},
	}

	f := cmd.Flags()
	f.Float64Var(&opts.averageOrderValue, "aov", 0, "average order value in dollars (required)")
	f.Float64Var(&opts.customers, "customers", 0, "number of active customers (required)")
	f.Float64Var(&opts.frequency, "frequency", calculator.DefaultPurchaseFrequency, "orders per customer per year")
	f.Float64Var(&opts.churnRate, "churn", calculator.DefaultChurnRate, "annual churn rate in percent")
	f.Float64Var(&opts.acquisitionCost, "cac", 0, "customer acquisition cost in dollars")
	f.Float64Var(&opts.grossMargin, "margin", 0, "gross margin in percent")
	f.StringVar(&opts.companyName, "company", "", "company name used in the narrative")
	f.BoolVar(&opts.withNarrative, "narrative", false, "generate the AI analysis with the configured provider")
	_ = cmd.MarkFlagRequired("aov")
	_ = cmd.MarkFlagRequired("customers")

	return cmd
}

func (o *calculateOptions) inputs(cmd *cobra.Command) (calculator.CalculatorInputs, error) {
	switch {
	case o.averageOrderValue <= 0:
		return calculator.CalculatorInputs{}, fmt.Errorf("--aov must be greater than 0")
	case o.customers <= 0:
		return calculator.CalculatorInputs{}, fmt.Errorf("--customers must be greater than 0")
	case o.frequency <= 0:
		return calculator.CalculatorInputs{}, fmt.Errorf("--frequency must be greater than 0")
	case o.churnRate < 0 || o.churnRate > 100:
		return calculator.CalculatorInputs{}, fmt.Errorf("--churn must be between 0 and 100")
	}

	in := calculator.CalculatorInputs{
		AverageOrderValue: o.averageOrderValue,
		NumberOfCustomers: o.customers,
		PurchaseFrequency: o.frequency,
		ChurnRate:         o.churnRate,
	}
	if cmd.Flags().Changed("cac") {
		if o.acquisitionCost < 0 {
			return calculator.CalculatorInputs{}, fmt.Errorf("--cac must not be negative")
		}
		cac := o.acquisitionCost
		in.CustomerAcquisitionCost = &cac
	}
	if cmd.Flags().Changed("margin") {
		if o.grossMargin < 0 || o.grossMargin > 100 {
			return calculator.CalculatorInputs{}, fmt.Errorf("--margin must be between 0 and 100")
		}
		margin := o.grossMargin
		in.GrossMargin = &margin
	}
	return in, nil
}

func runCalculate(cmd *cobra.Command, rootOpts *RootOptions, opts *calculateOptions) error {
	in, err := opts.inputs(cmd)
	if err != nil {
		return err
	}

	results := calculator.Calculate(in)
	report := CalculationReport{
		Inputs:  in,
		Results: results,
		Profile: calculator.CategorizeStore(in, results),
	}

	if opts.withNarrative {
		analysis, err := generateNarrative(cmd.Context(), rootOpts, narrative.NewRequest(opts.companyName, in))
		if err != nil {
			return err
		}
		report.Narrative = analysis
	}

	if rootOpts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return writeReportText(cmd.OutOrStdout(), report)
}

func generateNarrative(ctx context.Context, rootOpts *RootOptions, req narrative.Request) (*narrative.Analysis, error) {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return nil, err
	}
	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format, "stderr")

	service, err := narrative.NewServiceFromConfig(ctx, cfg.Narrative, log)
	if err != nil {
		return nil, err
	}
	return service.Generate(ctx, req), nil
}

type row struct {
	label string
	value string
}

func writeReportText(w io.Writer, r CalculationReport) error {
	res := r.Results
	lines := []row{
		{"Annual revenue lost", narrative.FormatCurrency(res.AnnualRevenueLost)},
		{"Monthly revenue lost", narrative.FormatCurrency(res.MonthlyRevenueLost)},
		{"3-year impact", narrative.FormatCurrency(res.ThreeYearImpact)},
		{"5-year impact", narrative.FormatCurrency(res.FiveYearImpact)},
		{"Customer lifespan", fmt.Sprintf("%.1f years", res.CustomerLifespan)},
		{"Customers lost per year", narrative.FormatCount(res.CustomersLostPerYear)},
		{"Customers lost per month", narrative.FormatCount(res.CustomersLostPerMonth)},
		{"Customer lifetime value", narrative.FormatCurrency(res.CustomerLifetimeValue)},
	}
	if res.AnnualProfitLost != nil {
		lines = append(lines, row{"Annual profit lost", narrative.FormatCurrency(*res.AnnualProfitLost)})
	}
	if res.ReplacementAcquisitionCost != nil {
		lines = append(lines, row{"Replacement acquisition cost", narrative.FormatCurrency(*res.ReplacementAcquisitionCost)})
	}

	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-30s %s\n", l.label+":", l.value); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\nProfile: %s store, %s order value, %s churn\n",
		r.Profile.SizeCategory, r.Profile.AOVCategory, r.Profile.ChurnSeverity)

	if len(res.ChurnReductionScenarios) > 0 {
		fmt.Fprintln(w, "\nIf you reduced churn by:")
		for _, s := range res.ChurnReductionScenarios {
			fmt.Fprintf(w, "  %3.0f%%  churn %s, save %s a year, %s over 3 years\n",
				s.ReductionPercentage, narrative.FormatPercent(s.NewChurnRate),
				narrative.FormatCurrency(s.AnnualSavings), narrative.FormatCurrency(s.ThreeYearSavings))
		}
	}

	if r.Narrative != nil {
		fmt.Fprintf(w, "\n%s", narrative.ToMarkdown(r.Narrative))
	}
	return nil
}
