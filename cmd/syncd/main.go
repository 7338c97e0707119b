package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/api"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/app"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/logging"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("init components")
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inserted, err := a.SeedMappings(ctx)
	if err != nil {
		return err
	}
	if inserted > 0 {
		logger.Info().Int("inserted", inserted).Msg("default field mappings seeded")
	}
	if !cfg.Zoho.OAuthConfigured() {
		logger.Warn().Msg("zoho client credentials are not configured, oauth endpoints disabled")
	}

	scheduler := a.Scheduler()
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	startMetrics(ctx, cfg, logger)

	httpServer := api.NewHTTPServer(cfg.API, cfg.WooCommerce.WebhookSecret, a.APIDependencies(), logger)
	return serve(ctx, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "syncd"), closer, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	if cfg.API.HTTP.Enabled {
		go func() {
			errCh <- httpServer.Start()
		}()
	} else {
		logger.Warn().Msg("http api disabled, running scheduler only")
	}

	logger.Info().
		Int("http_port", cfg.API.HTTP.Port).
		Bool("real_time", cfg.Sync.RealTime).
		Str("schedule", cfg.Sync.Schedule).
		Msg("sync service started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("sync service stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
