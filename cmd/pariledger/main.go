package main

import (
	"PariLedger/internal/config"
	"PariLedger/internal/event"
	"PariLedger/internal/feed"
	"PariLedger/internal/observability"
	"PariLedger/internal/persistence"
	"PariLedger/internal/projection"
	"PariLedger/internal/query"
	"PariLedger/internal/registry"
	"PariLedger/internal/server"
	"PariLedger/internal/vault"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("PARI_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := observability.NewLoggerWithLevel("pariledger", level)
	logger.Info().Msg("PariLedger starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	if cfg.Postgres.RunMigrations {
		migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, observability.NewLoggerWithLevel("migrate", level))
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	// --- Recovery: continue the fact log where the last run stopped ---
	startSequence, err := loadStartSequence(ctx, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("load start sequence")
	}
	logger.Info().Int64("start_sequence", startSequence).Msg("fact log position loaded")

	// --- Observability ---
	metrics := observability.NewMetrics()
	metrics.EngineSequence.Set(float64(startSequence))
	health := observability.NewHealthChecker()

	// --- Fact pipeline channels ---
	// Persist sends block; the publish channel drops when full and a tee in
	// this process fans it out to the projection worker and the NATS feed.
	persistChan := make(chan event.Output, cfg.Pipeline.PersistBuffer)
	publishChan := make(chan event.Output, cfg.Pipeline.PublishBuffer)
	projectionChan := make(chan event.Output, cfg.Pipeline.ProjectionBuffer)

	var feedChan chan event.Output
	if cfg.NATS.Enabled {
		feedChan = make(chan event.Output, cfg.Pipeline.PublishBuffer)
	}

	// --- Engine ---
	recorder := event.NewRecorder(startSequence, persistChan, publishChan, metrics)
	custody := vault.New()
	markets := registry.New(cfg.AdminAddress(), custody, recorder)

	// --- NATS ---
	var js jetstream.JetStream
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		js, err = jetstream.New(nc)
		if err != nil {
			logger.Fatal().Err(err).Msg("jetstream init")
		}
		if err := feed.EnsureStream(ctx, js, logger); err != nil {
			logger.Fatal().Err(err).Msg("ensure outbound stream")
		}
		logger.Info().Str("url", cfg.NATS.URL).Msg("nats connected")
	}

	// --- Workers ---
	// Workers run on a background context and stop when their input channels
	// close, so a shutdown drains everything already recorded.
	workerCtx := context.Background()
	workers := new(errgroup.Group)

	persistWorker := persistence.NewWorker(
		db, persistChan,
		cfg.Pipeline.PersistBatchSize, cfg.Pipeline.PersistFlushTimeout.Duration,
		metrics, observability.NewLoggerWithLevel("persistence", level),
	)
	workers.Go(func() error { return persistWorker.Run(workerCtx) })

	projWorker := projection.NewWorker(db, projectionChan, metrics, observability.NewLoggerWithLevel("projection", level))
	workers.Go(func() error { return projWorker.Run(workerCtx) })

	if cfg.NATS.Enabled {
		publisher := feed.NewPublisher(js, feedChan, metrics, observability.NewLoggerWithLevel("feed", level))
		workers.Go(func() error { return publisher.Run(workerCtx) })
	}

	workers.Go(func() error {
		teePublished(publishChan, projectionChan, feedChan, metrics)
		return nil
	})

	// --- HTTP API ---
	queryService := query.NewService(db)
	handlers := server.NewHandlers(markets, queryService, metrics, observability.NewLoggerWithLevel("server", level))
	apiServer := server.NewServer(server.Config{
		Port:   cfg.Server.Port,
		APIKey: cfg.Server.APIKey,
	}, handlers, health, metrics, observability.NewLoggerWithLevel("server", level))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	errChan := make(chan error, 4)
	go func() { errChan <- apiServer.Start() }()
	go func() {
		logger.Info().Int("port", cfg.Server.MetricsPort).Msg("metrics server starting")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	health.SetReady(true)
	logger.Info().
		Int64("sequence", startSequence).
		Int("port", cfg.Server.Port).
		Int("metrics_port", cfg.Server.MetricsPort).
		Msg("PariLedger ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		logger.Error().Err(err).Msg("server failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop accepting requests first, then close the pipeline so the workers
	// flush what is left.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown")
	}

	close(persistChan)
	close(publishChan)

	drained := make(chan error, 1)
	go func() { drained <- workers.Wait() }()

	select {
	case err := <-drained:
		if err != nil {
			logger.Error().Err(err).Msg("worker failed during drain")
		}
	case <-shutdownCtx.Done():
		logger.Error().Msg("shutdown timeout, workers still draining")
	}

	logger.Info().Int64("sequence", recorder.Sequence()).Msg("PariLedger shutdown complete")
}

// teePublished fans the publish channel out to the projection worker and the
// NATS feed. Both sends are non-blocking; a full consumer loses facts, which
// is acceptable because both rebuild from the persisted log. Closes the
// downstream channels when the publish channel closes.
func teePublished(in <-chan event.Output, projectionOut, feedOut chan<- event.Output, metrics *observability.Metrics) {
	defer func() {
		close(projectionOut)
		if feedOut != nil {
			close(feedOut)
		}
	}()

	for out := range in {
		metrics.EngineSequence.Set(float64(out.Envelope.Sequence))

		select {
		case projectionOut <- out:
		default:
			metrics.ProjectionDrops.Inc()
		}

		if feedOut == nil {
			continue
		}
		select {
		case feedOut <- out:
		default:
			metrics.PublishDrops.Inc()
		}
	}
}

// loadStartSequence returns the next free fact sequence, one past the highest
// sequence already in the log. A fresh database starts at zero.
func loadStartSequence(ctx context.Context, db *sql.DB) (int64, error) {
	var maxSeq int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), -1) FROM pari.events`,
	).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("query max sequence: %w", err)
	}
	return maxSeq + 1, nil
}
