package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"churn-calc/internal/api"
	"churn-calc/internal/bootstrap"
	"churn-calc/internal/common/config"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/common/observability"
	"churn-calc/internal/narrative"
	"churn-calc/internal/session"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calculator and lead capture API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).With(map[string]interface{}{"service": "api"})

	obs := observability.New("churn-calc-api", log)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := bootstrap.Connect(ctx, cfg, bootstrap.NeedsFor(cfg, true), log)
	if err != nil {
		return err
	}
	defer res.Close()

	var redisClient *redis.Client
	if res.Redis != nil {
		redisClient = res.Redis.GetClient()
	}
	store, err := session.NewStore(cfg.Session, redisClient)
	if err != nil {
		return err
	}

	narrator, err := narrative.NewServiceFromConfig(ctx, cfg.Narrative, log)
	if err != nil {
		return err
	}

	sink, err := bootstrap.NewLeadSink(ctx, cfg, res, log)
	if err != nil {
		return err
	}

	opts := api.Options{
		Store:         store,
		Narrator:      narrator,
		Sink:          sink,
		Observability: obs,
		Logger:        log,
		Config:        cfg.Server,
	}
	notifier, err := bootstrap.NewNotifier(ctx, cfg, log)
	if err != nil {
		return err
	}
	if notifier != nil {
		opts.Notifier = notifier
	}

	srv := api.NewServer(opts)
	httpServer := srv.NewHTTPServer()

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server listening", map[string]interface{}{
			"addr":           httpServer.Addr,
			"sessionBackend": cfg.Session.Backend,
			"narrative":      narrator.Provider(),
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received, draining requests", nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping API server", map[string]interface{}{"error": err.Error()})
	}

	srv.Wait()
	log.Info("API server stopped", nil)
	return nil
}
