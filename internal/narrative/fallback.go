package narrative

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"churn-calc/internal/calculator"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

const ProviderFallback = "fallback"

type templateFile struct {
	Empty struct {
		Headline string `yaml:"headline"`
		Summary  string `yaml:"summary"`
	} `yaml:"empty"`
	Headlines map[calculator.ChurnSeverity]string `yaml:"headlines"`
	Summaries map[calculator.ChurnSeverity]string `yaml:"summaries"`
	Insights  struct {
		Severity map[calculator.ChurnSeverity][]string `yaml:"severity"`
		Size     map[calculator.SizeCategory][]string  `yaml:"size"`
	} `yaml:"insights"`
	Recommendations struct {
		Severity map[calculator.ChurnSeverity][]string `yaml:"severity"`
		AOV      map[calculator.AOVCategory][]string   `yaml:"aov"`
	} `yaml:"recommendations"`
}

// FallbackGenerator writes an analysis from templates picked by store profile.
type FallbackGenerator struct {
	templates templateFile
	cache     map[string]*template.Template
}

func NewFallbackGenerator() (*FallbackGenerator, error) {
	return NewFallbackGeneratorFromYAML(defaultTemplates)
}

// NewFallbackGeneratorFromYAML loads templates in the layout of templates.yaml.
func NewFallbackGeneratorFromYAML(data []byte) (*FallbackGenerator, error) {
	var tf templateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse fallback templates: %w", err)
	}

	g := &FallbackGenerator{templates: tf, cache: make(map[string]*template.Template)}
	for _, severity := range []calculator.ChurnSeverity{
		calculator.ChurnCritical, calculator.ChurnConcerning, calculator.ChurnModerate, calculator.ChurnGood,
	} {
		if tf.Headlines[severity] == "" || tf.Summaries[severity] == "" {
			return nil, fmt.Errorf("fallback templates: missing headline or summary for %s", severity)
		}
		if err := g.compile(tf.Headlines[severity], tf.Summaries[severity]); err != nil {
			return nil, err
		}
		if err := g.compile(tf.Insights.Severity[severity]...); err != nil {
			return nil, err
		}
		if err := g.compile(tf.Recommendations.Severity[severity]...); err != nil {
			return nil, err
		}
	}
	for _, items := range tf.Insights.Size {
		if err := g.compile(items...); err != nil {
			return nil, err
		}
	}
	for _, items := range tf.Recommendations.AOV {
		if err := g.compile(items...); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *FallbackGenerator) compile(sources ...string) error {
	for _, src := range sources {
		if _, ok := g.cache[src]; ok {
			continue
		}
		t, err := template.New("fallback").Option("missingkey=error").Parse(src)
		if err != nil {
			return fmt.Errorf("fallback template %q: %w", src, err)
		}
		g.cache[src] = t
	}
	return nil
}

func (g *FallbackGenerator) Name() string {
	return ProviderFallback
}

func (g *FallbackGenerator) Generate(_ context.Context, req Request) (*Analysis, error) {
	if req.Results.AnnualRevenueLost <= 0 {
		return &Analysis{
			Headline:        g.templates.Empty.Headline,
			Summary:         g.templates.Empty.Summary,
			Insights:        []string{},
			Recommendations: []string{},
			Source:          SourceFallback,
			Provider:        ProviderFallback,
		}, nil
	}

	data := newTemplateData(req)
	severity := req.Profile.ChurnSeverity

	headline, err := g.render(g.templates.Headlines[severity], data)
	if err != nil {
		return nil, err
	}
	summary, err := g.render(g.templates.Summaries[severity], data)
	if err != nil {
		return nil, err
	}

	insights, err := g.renderAll(data,
		g.templates.Insights.Severity[severity],
		g.templates.Insights.Size[req.Profile.SizeCategory])
	if err != nil {
		return nil, err
	}
	recommendations, err := g.renderAll(data,
		g.templates.Recommendations.Severity[severity],
		g.templates.Recommendations.AOV[req.Profile.AOVCategory])
	if err != nil {
		return nil, err
	}

	return &Analysis{
		Headline:        headline,
		Summary:         summary,
		Insights:        insights,
		Recommendations: recommendations,
		Source:          SourceFallback,
		Provider:        ProviderFallback,
	}, nil
}

func (g *FallbackGenerator) render(src string, data templateData) (string, error) {
	t, ok := g.cache[src]
	if !ok {
		return "", fmt.Errorf("fallback template not compiled: %q", src)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render fallback template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (g *FallbackGenerator) renderAll(data templateData, groups ...[]string) ([]string, error) {
	out := []string{}
	for _, group := range groups {
		for _, src := range group {
			text, err := g.render(src, data)
			if err != nil {
				return nil, err
			}
			out = append(out, text)
		}
	}
	return out, nil
}

type templateData struct {
	Company               string
	AnnualLoss            string
	MonthlyLoss           string
	ThreeYearLoss         string
	FiveYearLoss          string
	ChurnRate             string
	Lifespan              string
	CLV                   string
	CustomersLostPerYear  string
	CustomersLostPerMonth string
	BestReduction         string
	BestSavings           string
	BestThreeYearSavings  string
	TenPercentSavings     string
}

func newTemplateData(req Request) templateData {
	res := req.Results
	company := EscapeMarkdown(req.CompanyName)
	if company == "" {
		company = "Your store"
	}

	data := templateData{
		Company:               company,
		AnnualLoss:            FormatCurrency(res.AnnualRevenueLost),
		MonthlyLoss:           FormatCurrency(res.MonthlyRevenueLost),
		ThreeYearLoss:         FormatCurrency(res.ThreeYearImpact),
		FiveYearLoss:          FormatCurrency(res.FiveYearImpact),
		ChurnRate:             FormatPercent(req.Inputs.ChurnRate),
		Lifespan:              printer.Sprintf("%.1f", res.CustomerLifespan),
		CLV:                   FormatCurrency(res.CustomerLifetimeValue),
		CustomersLostPerYear:  FormatCount(res.CustomersLostPerYear),
		CustomersLostPerMonth: FormatCount(res.CustomersLostPerMonth),
		BestReduction:         "50%",
		BestSavings:           FormatCurrency(0),
		BestThreeYearSavings:  FormatCurrency(0),
		TenPercentSavings:     FormatCurrency(0),
	}

	if n := len(res.ChurnReductionScenarios); n > 0 {
		best := res.ChurnReductionScenarios[n-1]
		data.BestReduction = printer.Sprintf("%.0f%%", best.ReductionPercentage)
		data.BestSavings = FormatCurrency(best.AnnualSavings)
		data.BestThreeYearSavings = FormatCurrency(best.ThreeYearSavings)
		data.TenPercentSavings = FormatCurrency(res.ChurnReductionScenarios[0].AnnualSavings)
	}

	return data
}
