package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
)

const metricsShutdownTimeout = 5 * time.Second

func newCrawlCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one full catalog crawl",
		Long: `Runs a single crawl. Every category that completes is persisted before
the next failure can stop the run; a fatal error exits non-zero.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), opts.configPath)
		},
	}
}

func runCrawl(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.InitTracing(ctx, logging.Service)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if cfg.Metrics.Addr != "" {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, logger)
		defer stopMetrics()
	}

	runner, err := newRunner(ctx, cfg, logger)
	if err != nil {
		logger.Error("crawl aborted", zap.String("stage", "init"), zap.Error(err))
		return fmt.Errorf("initialize services: %w", err)
	}
	defer runner.Close()

	started := time.Now()
	summary, err := runner.Run(ctx)
	if err != nil {
		fields := []zap.Field{zap.Error(err), zap.Bool("fatal", crawler.IsFatal(err))}
		var stageErr *crawler.StageError
		if errors.As(err, &stageErr) {
			fields = append(fields, zap.String("category_id", stageErr.CategoryID), zap.String("stage", string(stageErr.Stage)))
		}
		logger.Error("crawl aborted", fields...)
		return err
	}
	logger.Info("crawl command finished",
		zap.String("run_id", runner.RunID()),
		zap.Int("snapshots", summary.Snapshots),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

// serveMetrics exposes /metrics and /healthz until the returned func is called.
func serveMetrics(addr string, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}
