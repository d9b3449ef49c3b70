// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"churn-calc/internal/bootstrap"
	"churn-calc/internal/common/camunda"
	"churn-calc/internal/common/config"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/common/observability"
	"churn-calc/internal/narrative"
	"churn-calc/pkg/registry"

	gn "churn-calc/internal/workers/ai/generate-narrative"
	cci "churn-calc/internal/workers/calculator/calculate-churn-impact"
	ln "churn-calc/internal/workers/communication/lead-notify"
	ls "churn-calc/internal/workers/crm/lead-sync"
)

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}
	if err := config.ValidateForWorkers(cfg); err != nil {
		bootLog.Fatal("invalid worker configuration", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog).With(map[string]interface{}{"service": "worker-manager"})
	zapLog.Info("Starting worker manager...", zap.String("version", cfg.App.Version))

	obs := observability.New("worker-manager", log)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = bootstrap.RetryWithBackoff(ctx, func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, log, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Init backing services and lead pipeline ---
	res, err := bootstrap.Connect(ctx, cfg, bootstrap.NeedsFor(cfg, false), log)
	if err != nil {
		zapLog.Fatal("backing services unavailable", zap.Error(err))
	}
	defer res.Close()

	narrator, err := narrative.NewServiceFromConfig(ctx, cfg.Narrative, log)
	if err != nil {
		zapLog.Fatal("failed to create narrative service", zap.Error(err))
	}

	sink, err := bootstrap.NewLeadSink(ctx, cfg, res, log)
	if err != nil {
		zapLog.Fatal("failed to create lead sinks", zap.Error(err))
	}

	notifier, err := bootstrap.NewNotifier(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("failed to create notifier", zap.Error(err))
	}

	// --- Register workers ---
	var handlers []camunda.WorkerHandler

	calcHandler, err := cci.NewHandler(cci.HandlerOptions{AppConfig: cfg, Logger: log, Observability: obs})
	if err != nil {
		zapLog.Fatal("failed to create calculate-churn-impact handler", zap.Error(err))
	}
	handlers = append(handlers, calcHandler)

	narrativeHandler, err := gn.NewHandler(gn.HandlerOptions{AppConfig: cfg, Narrator: narrator, Logger: log, Observability: obs})
	if err != nil {
		zapLog.Fatal("failed to create generate-narrative handler", zap.Error(err))
	}
	handlers = append(handlers, narrativeHandler)

	if sink != nil {
		syncHandler, err := ls.NewHandler(ls.HandlerOptions{AppConfig: cfg, Sink: sink, Logger: log, Observability: obs})
		if err != nil {
			zapLog.Fatal("failed to create lead-sync handler", zap.Error(err))
		}
		handlers = append(handlers, syncHandler)
	} else {
		zapLog.Warn("lead-sync worker not started, no lead sinks configured")
	}

	if notifier != nil {
		notifyHandler, err := ln.NewHandler(ln.HandlerOptions{AppConfig: cfg, Notifier: notifier, Logger: log, Observability: obs})
		if err != nil {
			zapLog.Fatal("failed to create lead-notify handler", zap.Error(err))
		}
		handlers = append(handlers, notifyHandler)
	} else {
		zapLog.Warn("lead-notify worker not started, notifications are disabled")
	}

	checkRegistry(handlers, zapLog)

	var workers []*camunda.JobWorker
	for _, h := range handlers {
		if w := camunda.StartWorker(zeebe.GetClient(), h.GetTaskType(), h.WorkerConfig(), h, log); w != nil {
			workers = append(workers, w)
		}
	}
	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if err := zeebe.HealthCheck(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	healthServer := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", healthServer.Addr))
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

// checkRegistry warns when the running workers and the activity registry
// used by process modelers disagree.
func checkRegistry(handlers []camunda.WorkerHandler, zapLog *zap.Logger) {
	path := os.Getenv("ACTIVITY_REGISTRY_PATH")
	if path == "" {
		path = registry.DefaultPath
	}
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		zapLog.Warn("activity registry not loaded", zap.String("path", path), zap.Error(err))
		return
	}

	taskTypes := make([]string, len(handlers))
	for i, h := range handlers {
		taskTypes[i] = h.GetTaskType()
	}
	if missing := reg.Unregistered(taskTypes); len(missing) > 0 {
		zapLog.Warn("workers missing from activity registry", zap.Strings("taskTypes", missing))
	}
	if idle := reg.Unimplemented(taskTypes); len(idle) > 0 {
		zapLog.Warn("registered activities without a worker", zap.Strings("taskTypes", idle))
	}
	zapLog.Info("activity registry checked", zap.String("version", reg.Version), zap.Int("activities", len(reg.Activities)))
}

func writeStatus(w http.ResponseWriter, status int, state string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"status": state,
		"time":   time.Now().Format(time.RFC3339),
	})
}
