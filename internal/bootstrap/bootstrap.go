// Package bootstrap connects the backing services both binaries share and
// assembles the lead pipeline from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"slices"
	"time"

	"churn-calc/internal/common/aws"
	"churn-calc/internal/common/config"
	"churn-calc/internal/common/database"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/common/zoho"
	"churn-calc/internal/lead"
)

// RetryWithBackoff runs operation until it succeeds, doubling the delay
// after each failure. It stops early when ctx is done.
func RetryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s cancelled: %w", operationName, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// Needs selects the backing services to connect.
type Needs struct {
	Postgres      bool
	Elasticsearch bool
	Redis         bool
}

// NeedsFor derives the services cfg requires. Redis is only needed by the
// API server's session store.
func NeedsFor(cfg *config.Config, withSessions bool) Needs {
	return Needs{
		Postgres:      slices.Contains(cfg.Leads.Sinks, config.LeadSinkPostgres),
		Elasticsearch: slices.Contains(cfg.Leads.Sinks, config.LeadSinkElasticsearch),
		Redis:         withSessions && cfg.Session.Backend == config.SessionBackendRedis,
	}
}

// Resources holds the connected backing services. Unneeded fields stay nil.
type Resources struct {
	Postgres      *database.PostgresClient
	Elasticsearch *database.ElasticsearchClient
	Redis         *database.RedisClient
}

const (
	connectAttempts = 10
	connectDelay    = 2 * time.Second
)

// Connect opens the services in needs, retrying each one with backoff.
// On failure the services opened so far are closed.
func Connect(ctx context.Context, cfg *config.Config, needs Needs, log logger.Logger) (*Resources, error) {
	res := &Resources{}

	if needs.Postgres {
		err := RetryWithBackoff(ctx, func() error {
			pg, err := database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			if err := pg.Ping(ctx); err != nil {
				pg.Close()
				return err
			}
			res.Postgres = pg
			return nil
		}, connectAttempts, connectDelay, log, "PostgreSQL connection")
		if err != nil {
			res.Close()
			return nil, err
		}
		log.Info("PostgreSQL connected successfully", nil)
	}

	if needs.Elasticsearch {
		err := RetryWithBackoff(ctx, func() error {
			es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			if err := es.Ping(ctx); err != nil {
				return err
			}
			res.Elasticsearch = es
			return nil
		}, connectAttempts, connectDelay, log, "Elasticsearch connection")
		if err != nil {
			res.Close()
			return nil, err
		}
		log.Info("Elasticsearch connected successfully", nil)
	}

	if needs.Redis {
		err := RetryWithBackoff(ctx, func() error {
			rdb, err := database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			if err := rdb.Ping(ctx); err != nil {
				rdb.Close()
				return err
			}
			res.Redis = rdb
			return nil
		}, connectAttempts, connectDelay, log, "Redis connection")
		if err != nil {
			res.Close()
			return nil, err
		}
		log.Info("Redis connected successfully", nil)
	}

	return res, nil
}

func (r *Resources) Close() {
	if r.Postgres != nil {
		r.Postgres.Close()
	}
	if r.Redis != nil {
		r.Redis.Close()
	}
}

// NewLeadSink builds the configured sinks and prepares their storage. It
// returns a nil Sink when no sinks are configured.
func NewLeadSink(ctx context.Context, cfg *config.Config, res *Resources, log logger.Logger) (lead.Sink, error) {
	if len(cfg.Leads.Sinks) == 0 {
		log.Warn("No lead sinks configured, leads will not be stored", nil)
		return nil, nil
	}

	deps := lead.Dependencies{
		Postgres:      res.Postgres,
		Elasticsearch: res.Elasticsearch,
	}
	if zcfg := cfg.Integrations.Zoho; zcfg.Enabled {
		deps.CRM = zoho.NewCRMClient(zcfg.BaseURL, zcfg.AuthToken, config.GetDuration(zcfg.Timeout))
	}

	sinks, err := lead.NewSinksFromConfig(cfg, deps, log)
	if err != nil {
		return nil, err
	}

	if res.Postgres != nil {
		if err := res.Postgres.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	if res.Elasticsearch != nil {
		if err := lead.NewElasticsearchSink(res.Elasticsearch, cfg.Leads.ElasticsearchIndex).EnsureIndex(ctx); err != nil {
			return nil, err
		}
	}

	log.Info("Lead sinks ready", map[string]interface{}{"sinks": sinks.Names()})
	return sinks, nil
}

// NewNotifier wires SES and SNS when they are enabled. It returns nil when
// neither channel is active.
func NewNotifier(ctx context.Context, cfg *config.Config, log logger.Logger) (*lead.Notifier, error) {
	awsCfg := cfg.Integrations.AWS
	notifyLead := cfg.Leads.NotifyLead && awsCfg.SES.Enabled
	alertSales := cfg.Leads.AlertSales && awsCfg.SNS.Enabled
	if !notifyLead && !alertSales {
		return nil, nil
	}

	var (
		email     aws.EmailSender
		publisher aws.Publisher
	)
	if notifyLead {
		client, err := aws.NewSESClient(ctx, awsCfg.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES client: %w", err)
		}
		email = client
	}
	if alertSales {
		client, err := aws.NewSNSClient(ctx, awsCfg.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create SNS client: %w", err)
		}
		publisher = client
	}

	return lead.NewNotifier(email, publisher, lead.NotifierConfig{
		FromEmail:     awsCfg.SES.FromEmail,
		ReportSubject: awsCfg.SES.ReportSubject,
		SalesTopicARN: awsCfg.SNS.SalesTopicARN,
		NotifyLead:    notifyLead,
		AlertSales:    alertSales,
	}, log), nil
}
