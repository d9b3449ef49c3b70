package database

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"churn-calc/internal/common/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClient_Ping(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()))

	mr.Close()
	assert.Error(t, client.Ping(context.Background()))
}

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{})
	assert.Error(t, err)
}

func TestPostgresClient_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS lead_submissions")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	client := NewPostgresFromDB(db)
	require.NoError(t, client.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClient_EnsureSchemaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(assert.AnError)

	err = NewPostgresFromDB(db).EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lead schema")
}

// fakeElasticsearch answers just enough of the REST API for the wrapper.
type fakeElasticsearch struct {
	mu        sync.Mutex
	indices   map[string]bool
	documents map[string]string
}

func newFakeElasticsearch(t *testing.T) (*fakeElasticsearch, *httptest.Server) {
	fake := &fakeElasticsearch{indices: map[string]bool{}, documents: map[string]string{}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		fake.mu.Lock()
		defer fake.mu.Unlock()

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case r.URL.Path == "/":
			_, _ = io.WriteString(w, `{"version":{"number":"8.11.0"},"tagline":"You Know, for Search"}`)
		case r.Method == http.MethodHead && len(parts) == 1:
			if !fake.indices[parts[0]] {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut && len(parts) == 1:
			fake.indices[parts[0]] = true
			_, _ = io.WriteString(w, `{"acknowledged":true}`)
		case len(parts) == 3 && parts[1] == "_doc":
			body, _ := io.ReadAll(r.Body)
			fake.documents[parts[2]] = string(body)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"result":"created"}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"unexpected request"}`)
		}
	}))
	t.Cleanup(server.Close)
	return fake, server
}

func TestElasticsearchClient_IndexLifecycle(t *testing.T) {
	fake, server := newFakeElasticsearch(t)

	client, err := NewElasticsearch(config.ElasticsearchConfig{URL: server.URL})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.EnsureIndex(ctx, "churn-leads", `{"mappings":{}}`))
	require.NoError(t, client.EnsureIndex(ctx, "churn-leads", `{"mappings":{}}`))
	require.NoError(t, client.IndexDocument(ctx, "churn-leads", "lead-1", map[string]string{"email": "a@b.co"}))

	assert.True(t, fake.indices["churn-leads"])
	assert.JSONEq(t, `{"email":"a@b.co"}`, fake.documents["lead-1"])
}
