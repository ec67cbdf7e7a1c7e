// Command main runs the duelrank HTTP service: pairing designs, ballot
// intake and published rankings.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/duelrank/internal/adapters/catalog"
	"github.com/okian/duelrank/internal/adapters/http/api"
	"github.com/okian/duelrank/internal/adapters/http/swagger"
	app "github.com/okian/duelrank/internal/app"
	"github.com/okian/duelrank/internal/config"
	"github.com/okian/duelrank/internal/domain/scoring"
	"github.com/okian/duelrank/pkg/logger"
	"github.com/okian/duelrank/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// The custom registry carries our own system metrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		// logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "service failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	svc, store, err := buildService(cfg, log)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	if err := resumeTallies(ctx, svc, store, cfg.CatalogSource); err != nil {
		return err
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc, cfg),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("%w: %w", api.ErrServe, err)
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// buildService wires the service from configuration. The catalog store is
// nil unless catalog_path is set; the caller closes it.
func buildService(cfg *config.Config, log logger.Logger) (*app.Service, *catalog.Store, error) {
	estimator := scoring.NewEstimator(
		scoring.WithMaxIterations(cfg.EstimatorMaxIterations),
		scoring.WithTolerance(cfg.EstimatorTolerance),
		scoring.WithPrior(cfg.EstimatorPrior),
		scoring.WithPolicy(scoring.Policy{
			WinMultiplicity: cfg.WinMultiplicity,
			TieMultiplicity: cfg.TieMultiplicity,
		}),
		scoring.WithLogger(log.Named("estimator")),
	)
	opts := []app.Option{
		app.WithLogger(log),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.BallotQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithPairingDegree(cfg.PairingDegree),
		app.WithPairingMaxRestarts(cfg.PairingMaxRestarts),
		app.WithPairingSeed(int64(cfg.PairingSeed)), //nolint:gosec // seeds wrap
		app.WithBatchSize(cfg.BatchSize),
		app.WithEstimator(estimator),
	}

	if cfg.CatalogPath == "" {
		return app.New(opts...), nil, nil
	}
	store, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	log.Info(context.Background(), "catalog opened", logger.String("path", store.Path()))
	opts = append(opts, app.WithCatalog(store, cfg.CatalogSource))
	return app.New(opts...), store, nil
}

// resumeTallies seeds the live tallies with the counts stored for source.
func resumeTallies(ctx context.Context, svc *app.Service, store *catalog.Store, source string) error {
	if store == nil {
		return nil
	}
	ts, err := store.LoadTallies(ctx, source)
	if err != nil {
		return fmt.Errorf("load tallies: %w", err)
	}
	if len(ts) > 0 {
		svc.MergeTallies(ctx, ts)
	}
	return nil
}

// newMux registers the docs and business routes.
func newMux(ctx context.Context, svc *app.Service, cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, cfg.MaxLeaderboardLimit).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges GetStats does not touch.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if ranked, ok := stats["itemsRanked"].(int); ok {
		metrics.UpdateItemsRanked(ranked)
	}
	if pairs, ok := stats["pairs"].(int); ok {
		metrics.UpdatePairsTallied(pairs)
	}
	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
}
