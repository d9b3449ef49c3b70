// Package api serves the churn calculator form over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"churn-calc/internal/common/config"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/common/observability"
	"churn-calc/internal/lead"
	"churn-calc/internal/narrative"
	"churn-calc/internal/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultBackgroundTimeout = 60 * time.Second

// Narrator produces the written analysis. narrative.Service never fails,
// so neither does this.
type Narrator interface {
	Generate(ctx context.Context, req narrative.Request) *narrative.Analysis
}

// LeadNotifier sends the report email and the sales alert.
type LeadNotifier interface {
	Notify(ctx context.Context, l *lead.Lead, analysis *narrative.Analysis) (*lead.Notification, error)
}

// Options wires the server. Sink and Notifier are optional.
type Options struct {
	Store         session.Store
	Narrator      Narrator
	Sink          lead.Sink
	Notifier      LeadNotifier
	Observability *observability.Observability
	Logger        logger.Logger
	Config        config.ServerConfig
}

type Server struct {
	store      session.Store
	narrator   Narrator
	sink       lead.Sink
	notifier   LeadNotifier
	obs        *observability.Observability
	logger     logger.Logger
	config     config.ServerConfig
	bgTimeout  time.Duration
	now        func() time.Time
	background sync.WaitGroup
	handler    http.Handler
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	bgTimeout := time.Duration(opts.Config.BackgroundTimeout) * time.Millisecond
	if bgTimeout <= 0 {
		bgTimeout = defaultBackgroundTimeout
	}

	s := &Server{
		store:     opts.Store,
		narrator:  opts.Narrator,
		sink:      opts.Sink,
		notifier:  opts.Notifier,
		obs:       opts.Observability,
		logger:    log,
		config:    opts.Config,
		bgTimeout: bgTimeout,
		now:       time.Now,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "POST /api/sessions", s.handleCreateSession)
	s.handle(mux, "GET /api/sessions/{id}", s.handleGetSession)
	s.handle(mux, "DELETE /api/sessions/{id}", s.handleResetSession)
	s.handle(mux, "PUT /api/sessions/{id}/metrics", s.handleSetMetrics)
	s.handle(mux, "PUT /api/sessions/{id}/contact", s.handleSetContact)
	s.handle(mux, "PUT /api/sessions/{id}/step", s.handleGoToStep)
	s.handle(mux, "POST /api/sessions/{id}/calculate", s.handleCalculateSession)
	s.handle(mux, "GET /api/sessions/{id}/narrative", s.handleGetNarrative)
	s.handle(mux, "POST /api/calculate", s.handleCalculate)

	s.handle(mux, "GET /health", s.handleHealth)
	s.handle(mux, "GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.cors(mux)
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// NewHTTPServer returns an http.Server for the configured address.
func (s *Server) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.config.Address(),
		Handler:      s.handler,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Millisecond,
	}
}

// Wait blocks until background narrative and lead work has finished.
func (s *Server) Wait() {
	s.background.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Readiness check failed", map[string]interface{}{
			"error": err.Error(),
		})
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
