package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"CreditLedger/internal/config"
	"CreditLedger/internal/core"
	"CreditLedger/internal/ingestion"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/persistence"
	"CreditLedger/internal/projection"
	"CreditLedger/internal/query"
	"CreditLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	runnerQueueSize     = 4096
	publishChanSize     = 4096
	historyCapacity     = 10_000
	maintenanceInterval = 30 * time.Second
)

func main() {
	logger := observability.NewLogger("creditledger")
	logger.Info().Msg("CreditLedger starting")

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("CreditLedger failed")
	}
	logger.Info().Msg("CreditLedger shutdown complete")
}

func run(logger zerolog.Logger) error {
	cfg := config.DefaultConfig()

	protocol, err := config.LoadProtocol(cfg.ProtocolConfigPath)
	if err != nil {
		return fmt.Errorf("load protocol config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	if err := persistence.NewMigrator(db, cfg.MigrationsDir, logger).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Core ---
	// The persist channel blocks the core when full; the projection channel
	// drops.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	deterministicCore, err := core.NewDeterministicCore(core.Options{
		Protocol:       protocol,
		PersistChan:    persistChan,
		ProjectionChan: projectionChan,
		DBChecker:      persistence.NewPostgresIdempotencyChecker(db),
		LRUCapacity:    cfg.IdempotencyLRUCapacity,
		Metrics:        metrics,
		Logger:         logger.With().Str("component", "core").Logger(),
	})
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db, metrics)
	report, err := persistence.Recover(ctx, deterministicCore, snapMgr, metrics, logger)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	// --- Workers ---
	// Workers outlive the ingest surfaces: on shutdown their input channels
	// are closed and they flush before returning.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	errChan := make(chan error, 8)

	publishChan := make(chan persistence.EventRow, publishChanSize)
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics,
		logger.With().Str("component", "persistence").Logger())
	persistWorker.PublishTo(publishChan)
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		defer close(publishChan)
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	history := projection.NewHistory(historyCapacity)
	projWorker := projection.NewProjectionWorker(db, projectionChan, history, metrics,
		logger.With().Str("component", "projection").Logger())
	if err := projWorker.LoadWatermark(ctx); err != nil {
		return fmt.Errorf("projection watermark: %w", err)
	}
	projDone := make(chan struct{})
	go func() {
		defer close(projDone)
		if err := projWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()

	// --- Runner ---
	runner := core.NewRunner(deterministicCore, runnerQueueSize, snapMgr, cfg.SnapshotInterval, metrics,
		logger.With().Str("component", "runner").Logger())
	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	defer cancelRunner()
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Run(runnerCtx)
	}()

	if err := bootstrapMarkets(ctx, runner, protocol, logger); err != nil {
		return fmt.Errorf("bootstrap markets: %w", err)
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	logger.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return err
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		return err
	}

	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, logger.With().Str("component", "publisher").Logger())
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		publisher.Run(workerCtx)
	}()

	subscriber := ingestion.NewNATSSubscriber(js, runner, logger.With().Str("component", "nats").Logger())
	if err := subscriber.Subscribe(ctx); err != nil {
		return err
	}

	// --- gRPC / HTTP ---
	queryService := query.NewQueryService(db, metrics).WithHistory(history)
	srv := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Commands:      ingestion.NewCommandService(runner),
		Live:          runner,
		Queries:       queryService,
		EventLog:      snapMgr,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        logger.With().Str("component", "server").Logger(),
		SubmitRate:    cfg.IngestRateLimit,
		SubmitBurst:   cfg.IngestBurst,
	})
	go func() {
		if err := srv.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := srv.StartHTTP(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()
	go serveMetrics(ctx, cfg.MetricsAddr, errChan, logger)
	go maintain(ctx, runner, persistChan, projectionChan, snapMgr, metrics, logger)

	healthChecker.SetReady(true)
	srv.SetServing(true)

	logger.Info().
		Int64("snapshot_sequence", report.SnapshotSequence).
		Int64("replayed", report.Replayed).
		Int64("sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("CreditLedger ready")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received signal, shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}
	stop()

	// Ingest first, then the core, then the workers behind it.
	healthChecker.SetReady(false)
	srv.SetServing(false)
	subscriber.Stop()

	cancelRunner()
	<-runnerDone
	close(persistChan)
	close(projectionChan)

	shutdown := time.NewTimer(30 * time.Second)
	defer shutdown.Stop()
	for _, done := range []chan struct{}{persistDone, projDone, publisherDone} {
		select {
		case <-done:
		case <-shutdown.C:
			cancelWorkers()
			<-done
		}
	}
	return runErr
}

func serveMetrics(ctx context.Context, addr string, errChan chan<- error, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("metrics server: %w", err)
	}
}

// maintain publishes channel gauges and verifies freshly written snapshots.
func maintain(
	ctx context.Context,
	runner *core.Runner,
	persistChan, projectionChan chan core.CoreOutput,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	gauges := time.NewTicker(time.Second)
	defer gauges.Stop()
	verify := time.NewTicker(maintenanceInterval)
	defer verify.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gauges.C:
			size, capacity := runner.QueueDepth()
			metrics.SetChannelMetrics("ingest", size, capacity)
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
		case <-verify.C:
			n, err := snapMgr.VerifyPending(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("snapshot verification failed")
			} else if n > 0 {
				logger.Info().Int64("count", n).Msg("snapshots verified")
			}
		}
	}
}
