package lead

import (
	"context"
	"fmt"
	"sync"
	"time"

	"churn-calc/internal/common/config"
	"churn-calc/internal/common/database"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/common/metrics"
	"churn-calc/internal/common/zoho"
)

// MultiSink delivers a lead to every configured sink. The first sink is
// primary: its result is returned. The others are best effort and their
// failures are only logged.
type MultiSink struct {
	sinks  []Sink
	logger logger.Logger
}

func NewMultiSink(log logger.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: log}
}

func (m *MultiSink) Name() string {
	if len(m.sinks) == 0 {
		return "none"
	}
	return m.sinks[0].Name()
}

// Names lists sinks in delivery order.
func (m *MultiSink) Names() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return names
}

func (m *MultiSink) Submit(ctx context.Context, l *Lead) (*Receipt, error) {
	if len(m.sinks) == 0 {
		return nil, errors.NewInternalError(fmt.Errorf("no lead sinks configured"))
	}

	var wg sync.WaitGroup
	for _, secondary := range m.sinks[1:] {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if _, err := m.submit(ctx, s, l); err != nil {
				m.logger.Warn("Secondary lead sink failed", map[string]interface{}{
					"sink":   s.Name(),
					"leadId": l.ID,
					"error":  err.Error(),
				})
			}
		}(secondary)
	}

	receipt, err := m.submit(ctx, m.sinks[0], l)
	wg.Wait()
	return receipt, err
}

func (m *MultiSink) submit(ctx context.Context, s Sink, l *Lead) (*Receipt, error) {
	receipt, err := s.Submit(ctx, l)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.LeadSubmissions.WithLabelValues(s.Name(), status).Inc()
	return receipt, err
}

// Dependencies are the clients a sink may need. Nil clients are only an
// error when a configured sink requires them.
type Dependencies struct {
	CRM           *zoho.CRMClient
	Postgres      *database.PostgresClient
	Elasticsearch *database.ElasticsearchClient
}

// NewSinksFromConfig builds the sinks listed in cfg.Leads.Sinks, in order.
func NewSinksFromConfig(cfg *config.Config, deps Dependencies, log logger.Logger) (*MultiSink, error) {
	sinks := make([]Sink, 0, len(cfg.Leads.Sinks))
	for _, name := range cfg.Leads.Sinks {
		switch name {
		case config.LeadSinkZoho:
			if deps.CRM == nil {
				return nil, fmt.Errorf("lead sink %s requires a CRM client", name)
			}
			zcfg := cfg.Integrations.Zoho
			sinks = append(sinks, NewZohoSink(deps.CRM, zcfg.LeadSource, time.Duration(zcfg.RetryDelay)*time.Millisecond, log))
		case config.LeadSinkPostgres:
			if deps.Postgres == nil {
				return nil, fmt.Errorf("lead sink %s requires a postgres connection", name)
			}
			sinks = append(sinks, NewPostgresSink(deps.Postgres))
		case config.LeadSinkElasticsearch:
			if deps.Elasticsearch == nil {
				return nil, fmt.Errorf("lead sink %s requires an elasticsearch client", name)
			}
			sinks = append(sinks, NewElasticsearchSink(deps.Elasticsearch, cfg.Leads.ElasticsearchIndex))
		default:
			return nil, fmt.Errorf("unknown lead sink %q", name)
		}
	}
	return NewMultiSink(log, sinks...), nil
}
