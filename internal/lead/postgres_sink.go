package lead

import (
	"context"
	"encoding/json"
	"time"

	"churn-calc/internal/common/database"
	"churn-calc/internal/common/errors"
)

const SinkPostgres = "postgres"

const insertLeadQuery = `
INSERT INTO lead_submissions (
	id, session_id, email, first_name, last_name, company_name, website,
	size_category, churn_severity, annual_revenue_lost, three_year_impact, five_year_impact,
	inputs, results, captured_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO NOTHING`

// PostgresSink archives every lead in lead_submissions.
type PostgresSink struct {
	db  *database.PostgresClient
	now func() time.Time
}

func NewPostgresSink(db *database.PostgresClient) *PostgresSink {
	return &PostgresSink{db: db, now: time.Now}
}

func (p *PostgresSink) Name() string {
	return SinkPostgres
}

func (p *PostgresSink) Submit(ctx context.Context, l *Lead) (*Receipt, error) {
	inputs, err := json.Marshal(l.Inputs)
	if err != nil {
		return nil, errors.NewDatabaseInsertFailedError(err)
	}
	results, err := json.Marshal(l.Results)
	if err != nil {
		return nil, errors.NewDatabaseInsertFailedError(err)
	}

	res, err := p.db.Exec(ctx, insertLeadQuery,
		l.ID,
		l.SessionID,
		l.Contact.Email,
		l.Contact.FirstName,
		l.Contact.LastName,
		l.Contact.CompanyName,
		nullable(l.Contact.Website),
		string(l.Profile.SizeCategory),
		string(l.Profile.ChurnSeverity),
		l.Results.AnnualRevenueLost,
		l.Results.ThreeYearImpact,
		l.Results.FiveYearImpact,
		inputs,
		results,
		l.CapturedAt,
	)
	if err != nil {
		return nil, errors.NewDatabaseInsertFailedError(err)
	}

	created := true
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		created = false
	}

	return &Receipt{
		Sink:       SinkPostgres,
		ExternalID: l.ID,
		Created:    created,
		At:         p.now().UTC(),
	}, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
