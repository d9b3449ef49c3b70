package bootstrap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"churn-calc/internal/common/config"
	"churn-calc/internal/common/database"
	"churn-calc/internal/common/logger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Retry Tests
// ==========================

func TestRetryWithBackoff(t *testing.T) {
	log := logger.NewTestLogger(t)

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("connection refused")
			}
			return nil
		}, 5, time.Millisecond, log, "test operation")

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			return fmt.Errorf("connection refused")
		}, 3, time.Millisecond, log, "test operation")

		assert.ErrorContains(t, err, "test operation failed after 3 attempts")
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := RetryWithBackoff(ctx, func() error {
			calls++
			cancel()
			return fmt.Errorf("connection refused")
		}, 5, time.Hour, log, "test operation")

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

// ==========================
// Wiring Tests
// ==========================

func TestNeedsFor(t *testing.T) {
	cfg := &config.Config{
		Session: config.SessionConfig{Backend: config.SessionBackendRedis},
		Leads:   config.LeadConfig{Sinks: []string{config.LeadSinkZoho, config.LeadSinkPostgres}},
	}

	assert.Equal(t, Needs{Postgres: true, Redis: true}, NeedsFor(cfg, true))
	assert.Equal(t, Needs{Postgres: true}, NeedsFor(cfg, false))
}

func TestNewLeadSink(t *testing.T) {
	log := logger.NewTestLogger(t)

	t.Run("no sinks", func(t *testing.T) {
		sink, err := NewLeadSink(context.Background(), &config.Config{}, &Resources{}, log)
		require.NoError(t, err)
		assert.Nil(t, sink)
	})

	t.Run("postgres sink applies schema", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS lead_submissions").WillReturnResult(sqlmock.NewResult(0, 0))

		cfg := &config.Config{Leads: config.LeadConfig{Sinks: []string{config.LeadSinkPostgres}}}
		sink, err := NewLeadSink(context.Background(), cfg, &Resources{Postgres: database.NewPostgresFromDB(db)}, log)

		require.NoError(t, err)
		assert.Equal(t, config.LeadSinkPostgres, sink.Name())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zoho sink requires the integration", func(t *testing.T) {
		cfg := &config.Config{Leads: config.LeadConfig{Sinks: []string{config.LeadSinkZoho}}}
		_, err := NewLeadSink(context.Background(), cfg, &Resources{}, log)
		assert.ErrorContains(t, err, "requires a CRM client")
	})

	t.Run("zoho sink", func(t *testing.T) {
		cfg := &config.Config{Leads: config.LeadConfig{Sinks: []string{config.LeadSinkZoho}}}
		cfg.Integrations.Zoho.Enabled = true
		cfg.Integrations.Zoho.BaseURL = "http://127.0.0.1:1"

		sink, err := NewLeadSink(context.Background(), cfg, &Resources{}, log)
		require.NoError(t, err)
		assert.Equal(t, config.LeadSinkZoho, sink.Name())
	})
}

func TestNewNotifier_Disabled(t *testing.T) {
	cfg := &config.Config{Leads: config.LeadConfig{NotifyLead: true, AlertSales: true}}

	notifier, err := NewNotifier(context.Background(), cfg, logger.NewTestLogger(t))
	require.NoError(t, err)
	assert.Nil(t, notifier)
}
