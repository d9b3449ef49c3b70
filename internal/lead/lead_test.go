package lead

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/config"
	"churn-calc/internal/common/database"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/common/zoho"
	"churn-calc/internal/session"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helpers
// ==========================

func ptr(v float64) *float64 { return &v }

func createTestLead() *Lead {
	return New("session-1", session.Contact{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "Ada@Acme.co",
		CompanyName: "Acme",
		Website:     "https://acme.co",
	}, calculator.CalculatorInputs{
		AverageOrderValue: 100,
		NumberOfCustomers: 1000,
		PurchaseFrequency: 2,
		ChurnRate:         75,
		GrossMargin:       ptr(40),
	}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

// ==========================
// Lead
// ==========================

func TestLead_Properties(t *testing.T) {
	props := createTestLead().Properties()

	assert.Equal(t, 150000.0, props["Annual_Revenue_Lost"])
	assert.Equal(t, 12500.0, props["Monthly_Revenue_Lost"])
	assert.Equal(t, 75.0, props["Churn_Rate"])
	assert.Equal(t, "medium", props["Store_Size"])
	assert.Equal(t, "critical", props["Churn_Severity"])
	assert.Equal(t, 40.0, props["Gross_Margin"])
	assert.Equal(t, 60000.0, props["Annual_Profit_Lost"])
	assert.Equal(t, 37500.0, props["Savings_At_25_Percent_Reduction"])
	assert.Equal(t, "Acme", props["Company"])
	assert.NotContains(t, props, "Customer_Acquisition_Cost")
}

func TestLead_Validate(t *testing.T) {
	l := createTestLead()
	assert.NoError(t, l.Validate())

	l.Contact.Email = "not-an-email"
	l.Contact.FirstName = " "
	err := l.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
	assert.Contains(t, errors.Normalize(err).Details, "first name")
}

func TestFromSession(t *testing.T) {
	s := session.New(time.Now())
	_, err := FromSession(s, time.Now())
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionStepInvalid))

	in := createTestLead().Inputs
	results := calculator.Calculate(in)
	next, err := session.ReduceAll(*s,
		session.SetBusinessMetrics{Inputs: in},
		session.SetContact{Contact: session.Contact{FirstName: "A", LastName: "B", Email: "a@b.co"}},
		session.SetResults{CalculationID: "c1", Results: results, Profile: calculator.CategorizeStore(in, results)},
	)
	require.NoError(t, err)

	first, err := FromSession(&next, time.Now())
	require.NoError(t, err)
	second, err := FromSession(&next, time.Now())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "the same calculation yields the same lead id")
	assert.Equal(t, s.ID, first.SessionID)
	assert.Equal(t, 150000.0, first.Results.AnnualRevenueLost)
}

func TestLead_EmailDomain(t *testing.T) {
	assert.Equal(t, "acme.co", createTestLead().EmailDomain())
	assert.Equal(t, "", (&Lead{}).EmailDomain())
}

// ==========================
// Zoho sink
// ==========================

type MockCRM struct {
	mock.Mock
}

func (m *MockCRM) SearchContacts(ctx context.Context, email string) ([]zoho.Contact, error) {
	args := m.Called(ctx, email)
	contacts, _ := args.Get(0).([]zoho.Contact)
	return contacts, args.Error(1)
}

func (m *MockCRM) CreateContact(ctx context.Context, contact *zoho.Contact) (string, error) {
	args := m.Called(ctx, contact)
	return args.String(0), args.Error(1)
}

func (m *MockCRM) UpdateContact(ctx context.Context, contactID string, contact *zoho.Contact) error {
	args := m.Called(ctx, contactID, contact)
	return args.Error(0)
}

func newTestZohoSink(crm CRM) *ZohoSink {
	return NewZohoSink(crm, "Churn Calculator", time.Millisecond, logger.NewNoOpLogger())
}

func TestZohoSink_CreatesNewContact(t *testing.T) {
	crm := new(MockCRM)
	crm.On("SearchContacts", mock.Anything, "Ada@Acme.co").Return(nil, nil)
	crm.On("CreateContact", mock.Anything, mock.MatchedBy(func(c *zoho.Contact) bool {
		return c.Email == "Ada@Acme.co" && c.Source == "Churn Calculator" && c.Properties["Store_Size"] == "medium"
	})).Return("zc-1", nil)

	receipt, err := newTestZohoSink(crm).Submit(context.Background(), createTestLead())
	require.NoError(t, err)
	assert.Equal(t, "zc-1", receipt.ExternalID)
	assert.True(t, receipt.Created)
	crm.AssertExpectations(t)
}

func TestZohoSink_UpdatesExistingContact(t *testing.T) {
	crm := new(MockCRM)
	crm.On("SearchContacts", mock.Anything, mock.Anything).Return([]zoho.Contact{{ID: "zc-9"}}, nil)
	crm.On("UpdateContact", mock.Anything, "zc-9", mock.Anything).Return(nil)

	receipt, err := newTestZohoSink(crm).Submit(context.Background(), createTestLead())
	require.NoError(t, err)
	assert.Equal(t, "zc-9", receipt.ExternalID)
	assert.False(t, receipt.Created)
	crm.AssertNotCalled(t, "CreateContact", mock.Anything, mock.Anything)
}

func TestZohoSink_RetriesOnce(t *testing.T) {
	crm := new(MockCRM)
	unavailable := &zoho.APIError{Operation: "search_contacts", StatusCode: http.StatusServiceUnavailable}
	crm.On("SearchContacts", mock.Anything, mock.Anything).Return(nil, unavailable).Once()
	crm.On("SearchContacts", mock.Anything, mock.Anything).Return(nil, nil).Once()
	crm.On("CreateContact", mock.Anything, mock.Anything).Return("zc-2", nil)

	receipt, err := newTestZohoSink(crm).Submit(context.Background(), createTestLead())
	require.NoError(t, err)
	assert.Equal(t, "zc-2", receipt.ExternalID)
	crm.AssertNumberOfCalls(t, "SearchContacts", 2)
}

func TestZohoSink_GivesUpAfterOneRetry(t *testing.T) {
	crm := new(MockCRM)
	crm.On("SearchContacts", mock.Anything, mock.Anything).Return(nil, &zoho.APIError{StatusCode: http.StatusBadGateway})

	_, err := newTestZohoSink(crm).Submit(context.Background(), createTestLead())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCRMRequestFailed))
	crm.AssertNumberOfCalls(t, "SearchContacts", 2)
}

func TestZohoSink_AuthFailureIsNotRetried(t *testing.T) {
	crm := new(MockCRM)
	crm.On("SearchContacts", mock.Anything, mock.Anything).Return(nil, &zoho.APIError{StatusCode: http.StatusUnauthorized})

	_, err := newTestZohoSink(crm).Submit(context.Background(), createTestLead())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCRMAuthFailed))
	crm.AssertNumberOfCalls(t, "SearchContacts", 1)
}

// ==========================
// Postgres sink
// ==========================

type anyJSON struct{}

func (anyJSON) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	return ok && json.Valid(b)
}

func TestPostgresSink_Submit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := createTestLead()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lead_submissions")).
		WithArgs(l.ID, "session-1", "Ada@Acme.co", "Ada", "Lovelace", "Acme", "https://acme.co",
			"medium", "critical", 150000.0, l.Results.ThreeYearImpact, l.Results.FiveYearImpact,
			anyJSON{}, anyJSON{}, l.CapturedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	receipt, err := NewPostgresSink(database.NewPostgresFromDB(db)).Submit(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, l.ID, receipt.ExternalID)
	assert.True(t, receipt.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_Duplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO lead_submissions").WillReturnResult(sqlmock.NewResult(0, 0))

	receipt, err := NewPostgresSink(database.NewPostgresFromDB(db)).Submit(context.Background(), createTestLead())
	require.NoError(t, err)
	assert.False(t, receipt.Created)
}

func TestPostgresSink_InsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO lead_submissions").WillReturnError(assert.AnError)

	_, err = NewPostgresSink(database.NewPostgresFromDB(db)).Submit(context.Background(), createTestLead())
	assert.True(t, errors.HasCode(err, errors.ErrCodeDatabaseInsertFailed))
}

// ==========================
// Elasticsearch sink
// ==========================

func newFakeElasticsearch(t *testing.T, status int) (*database.ElasticsearchClient, map[string]string) {
	var mu sync.Mutex
	docs := map[string]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) == 3 && parts[1] == "_doc" {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			docs[parts[2]] = string(body)
			mu.Unlock()
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	}))
	t.Cleanup(server.Close)

	client, err := database.NewElasticsearch(config.ElasticsearchConfig{URL: server.URL})
	require.NoError(t, err)
	return client, docs
}

func TestElasticsearchSink_Submit(t *testing.T) {
	client, docs := newFakeElasticsearch(t, http.StatusCreated)
	l := createTestLead()

	receipt, err := NewElasticsearchSink(client, "").Submit(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, SinkElasticsearch, receipt.Sink)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(docs[l.ID]), &doc))
	assert.Equal(t, "acme.co", doc["emailDomain"])
	assert.Equal(t, "critical", doc["churnSeverity"])
	assert.NotContains(t, doc, "email")
	assert.NotContains(t, doc, "firstName")
}

func TestElasticsearchSink_Error(t *testing.T) {
	client, _ := newFakeElasticsearch(t, http.StatusInternalServerError)

	_, err := NewElasticsearchSink(client, "leads").Submit(context.Background(), createTestLead())
	assert.True(t, errors.HasCode(err, errors.ErrCodeIndexingFailed))
}

// ==========================
// Multi sink
// ==========================

type stubSink struct {
	name  string
	err   error
	mu    sync.Mutex
	calls int
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Submit(_ context.Context, l *Lead) (*Receipt, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &Receipt{Sink: s.name, ExternalID: l.ID}, nil
}

func TestMultiSink_PrimaryResultWins(t *testing.T) {
	primary := &stubSink{name: "primary"}
	archive := &stubSink{name: "archive", err: assert.AnError}

	multi := NewMultiSink(logger.NewNoOpLogger(), primary, archive)
	receipt, err := multi.Submit(context.Background(), createTestLead())

	require.NoError(t, err)
	assert.Equal(t, "primary", receipt.Sink)
	assert.Equal(t, 1, archive.calls)
	assert.Equal(t, []string{"primary", "archive"}, multi.Names())
}

func TestMultiSink_PrimaryFailure(t *testing.T) {
	primary := &stubSink{name: "primary", err: errors.NewCRMRequestFailedError("sync", assert.AnError)}
	archive := &stubSink{name: "archive"}

	_, err := NewMultiSink(logger.NewNoOpLogger(), primary, archive).Submit(context.Background(), createTestLead())
	assert.True(t, errors.HasCode(err, errors.ErrCodeCRMRequestFailed))
	assert.Equal(t, 1, archive.calls, "secondaries still receive the lead")
}

func TestMultiSink_Empty(t *testing.T) {
	_, err := NewMultiSink(logger.NewNoOpLogger()).Submit(context.Background(), createTestLead())
	assert.Error(t, err)
}

func TestNewSinksFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Leads.Sinks = []string{config.LeadSinkZoho, config.LeadSinkPostgres}

	_, err := NewSinksFromConfig(cfg, Dependencies{}, logger.NewNoOpLogger())
	assert.Error(t, err)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	multi, err := NewSinksFromConfig(cfg, Dependencies{
		CRM:      zoho.NewCRMClient("", "token", time.Second),
		Postgres: database.NewPostgresFromDB(db),
	}, logger.NewNoOpLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{SinkZoho, SinkPostgres}, multi.Names())

	cfg.Leads.Sinks = []string{"hubspot"}
	_, err = NewSinksFromConfig(cfg, Dependencies{}, logger.NewNoOpLogger())
	assert.Error(t, err)
}
