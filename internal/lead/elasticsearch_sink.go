package lead

import (
	"context"
	"time"

	"churn-calc/internal/common/database"
	"churn-calc/internal/common/errors"
)

const (
	SinkElasticsearch = "elasticsearch"
	DefaultLeadIndex  = "churn-leads"
)

// LeadIndexMapping keeps profile fields as keywords for aggregations.
const LeadIndexMapping = `{
  "mappings": {
    "properties": {
      "leadId":              {"type": "keyword"},
      "sessionId":           {"type": "keyword"},
      "emailDomain":         {"type": "keyword"},
      "companyName":         {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "sizeCategory":        {"type": "keyword"},
      "aovCategory":         {"type": "keyword"},
      "churnSeverity":       {"type": "keyword"},
      "averageOrderValue":   {"type": "double"},
      "numberOfCustomers":   {"type": "double"},
      "purchaseFrequency":   {"type": "double"},
      "churnRate":           {"type": "double"},
      "annualRevenueLost":   {"type": "double"},
      "threeYearImpact":     {"type": "double"},
      "fiveYearImpact":      {"type": "double"},
      "customerLifespan":    {"type": "double"},
      "capturedAt":          {"type": "date"}
    }
  }
}`

// ElasticsearchSink indexes an anonymised copy of each lead for analytics.
// The contact's name and full email address are not indexed.
type ElasticsearchSink struct {
	client *database.ElasticsearchClient
	index  string
	now    func() time.Time
}

func NewElasticsearchSink(client *database.ElasticsearchClient, index string) *ElasticsearchSink {
	if index == "" {
		index = DefaultLeadIndex
	}
	return &ElasticsearchSink{client: client, index: index, now: time.Now}
}

func (e *ElasticsearchSink) Name() string {
	return SinkElasticsearch
}

// EnsureIndex creates the lead index if it is missing.
func (e *ElasticsearchSink) EnsureIndex(ctx context.Context) error {
	if err := e.client.EnsureIndex(ctx, e.index, LeadIndexMapping); err != nil {
		return errors.NewElasticsearchConnectionFailedError(err)
	}
	return nil
}

type leadDocument struct {
	LeadID            string    `json:"leadId"`
	SessionID         string    `json:"sessionId,omitempty"`
	EmailDomain       string    `json:"emailDomain"`
	CompanyName       string    `json:"companyName,omitempty"`
	SizeCategory      string    `json:"sizeCategory"`
	AOVCategory       string    `json:"aovCategory"`
	ChurnSeverity     string    `json:"churnSeverity"`
	AverageOrderValue float64   `json:"averageOrderValue"`
	NumberOfCustomers float64   `json:"numberOfCustomers"`
	PurchaseFrequency float64   `json:"purchaseFrequency"`
	ChurnRate         float64   `json:"churnRate"`
	AnnualRevenueLost float64   `json:"annualRevenueLost"`
	ThreeYearImpact   float64   `json:"threeYearImpact"`
	FiveYearImpact    float64   `json:"fiveYearImpact"`
	CustomerLifespan  float64   `json:"customerLifespan"`
	CapturedAt        time.Time `json:"capturedAt"`
}

func newLeadDocument(l *Lead) leadDocument {
	return leadDocument{
		LeadID:            l.ID,
		SessionID:         l.SessionID,
		EmailDomain:       l.EmailDomain(),
		CompanyName:       l.Contact.CompanyName,
		SizeCategory:      string(l.Profile.SizeCategory),
		AOVCategory:       string(l.Profile.AOVCategory),
		ChurnSeverity:     string(l.Profile.ChurnSeverity),
		AverageOrderValue: l.Inputs.AverageOrderValue,
		NumberOfCustomers: l.Inputs.NumberOfCustomers,
		PurchaseFrequency: l.Inputs.PurchaseFrequency,
		ChurnRate:         l.Inputs.ChurnRate,
		AnnualRevenueLost: l.Results.AnnualRevenueLost,
		ThreeYearImpact:   l.Results.ThreeYearImpact,
		FiveYearImpact:    l.Results.FiveYearImpact,
		CustomerLifespan:  l.Results.CustomerLifespan,
		CapturedAt:        l.CapturedAt,
	}
}

func (e *ElasticsearchSink) Submit(ctx context.Context, l *Lead) (*Receipt, error) {
	if err := e.client.IndexDocument(ctx, e.index, l.ID, newLeadDocument(l)); err != nil {
		return nil, errors.NewIndexingFailedError(e.index, err)
	}
	return &Receipt{
		Sink:       SinkElasticsearch,
		ExternalID: l.ID,
		Created:    true,
		At:         e.now().UTC(),
	}, nil
}
