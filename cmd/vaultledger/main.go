package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"VaultLedger/internal/auth"
	"VaultLedger/internal/config"
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/query"
	"VaultLedger/internal/server"
	"VaultLedger/internal/storage"
	"VaultLedger/internal/vault"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:           "vaultledger",
		Short:         "Collateralized lending vault ledger daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv("VAULT_CONFIG")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "YAML config file (default $VAULT_CONFIG)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vaultledger: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	level := observability.ParseLogLevel(cfg.LogLevel)
	component := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}
	logger := component("vaultledger")
	logger.Info().Str("storage", cfg.Storage.Backend).Msg("VaultLedger starting")

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Store ---
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()
	healthChecker.SetComponent("storage", true)

	// --- Postgres schema ---
	var storeDB *sql.DB
	if pg, ok := store.(*storage.Postgres); ok {
		storeDB = pg.DB()
		if err := migrate(ctx, storeDB, cfg.Journal.MigrationsDir, component("migrator")); err != nil {
			return err
		}
	}

	journalDB := storeDB
	if cfg.Journal.Enabled() && (storeDB == nil || cfg.Journal.PostgresDSN != cfg.Storage.PostgresDSN) {
		pg, err := storage.OpenPostgres(ctx, cfg.Journal.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open journal database: %w", err)
		}
		defer pg.Close()
		journalDB = pg.DB()
		if err := migrate(ctx, journalDB, cfg.Journal.MigrationsDir, component("migrator")); err != nil {
			return err
		}
	}
	if !cfg.Journal.Enabled() {
		journalDB = nil
	}

	// --- Ledger ---
	authorizer := auth.NewContextAuthorizer(cfg.Auth.Admins)
	prices := oracle.NewSlot(store, authorizer, component("oracle"))
	ledger := vault.NewLedger(store, prices, authorizer, component("vault"))

	opts := core.Options{
		IdempotencyCapacity: cfg.Idempotency.LRUCapacity,
		Metrics:             metrics,
		Logger:              component("core"),
	}

	// --- Operation journal ---
	var (
		journalChan   chan event.Envelope
		journalWorker *persistence.JournalWorker
		history       server.History
		feedPositions map[string]int64
	)
	if journalDB != nil {
		writer := persistence.NewJournalWriter(journalDB)
		seq, hash, found, err := writer.JournalTip(ctx)
		if err != nil {
			return fmt.Errorf("read journal tip: %w", err)
		}
		if found {
			opts.StartSequence = seq
			opts.StartHash = &hash
			logger.Info().Int64("sequence", seq).Msg("resuming hash chain from journal")
		} else {
			logger.Info().Msg("empty journal, starting from genesis")
		}
		feedPositions, err = writer.PriceFeedPositions(ctx)
		if err != nil {
			return err
		}

		journalChan = make(chan event.Envelope, cfg.Journal.ChanSize)
		opts.Journal = journalChan
		opts.DBChecker = persistence.NewPostgresIdempotencyChecker(journalDB)
		journalWorker = persistence.NewJournalWorker(
			writer, journalChan,
			cfg.Journal.BatchSize, cfg.Journal.FlushTimeout,
			metrics, component("journal"),
		)
		history = query.NewHistoryService(journalDB)
		healthChecker.SetComponent("journal", true)
	}

	// --- NATS ---
	var (
		publishChan chan event.Envelope
		publisher   *ingestion.OutboundPublisher
		subscriber  *ingestion.NATSSubscriber
		rawChan     chan ingestion.RawEvent
	)
	if cfg.NATS.Enabled() {
		natsLogger := component("nats")
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			return err
		}

		publishChan = make(chan event.Envelope, cfg.Journal.PublishChanSize)
		opts.Publish = publishChan
		publisher = ingestion.NewOutboundPublisher(js, publishChan, metrics, natsLogger)

		rawChan = make(chan ingestion.RawEvent, 256)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, natsLogger)
		healthChecker.SetComponent("nats", true)
	}

	proc := core.NewProcessor(ledger, prices, opts)

	// --- Transports ---
	var gatherer prometheus.Gatherer
	if cfg.Server.MetricsAddr == "" {
		gatherer = registry
	}
	srv, err := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, server.ServerDeps{
		Service:       server.NewVaultService(proc, history, component("service")),
		Tokens:        auth.NewTokenAuthenticator(cfg.Auth.Tokens),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Gatherer:      gatherer,
		Logger:        component("server"),
	})
	if err != nil {
		return err
	}

	// --- Start goroutines ---
	// Serving goroutines stop on runCtx. Drain goroutines outlive them so
	// every envelope produced before shutdown reaches the journal.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	drainCtx, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()

	var serving, draining sync.WaitGroup
	errChan := make(chan error, 8)
	goServe := func(name string, fn func() error) {
		serving.Add(1)
		go func() {
			defer serving.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// 1. Journal worker
	if journalWorker != nil {
		draining.Add(1)
		go func() {
			defer draining.Done()
			if err := journalWorker.Run(drainCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("journal worker stopped")
			}
		}()
	}

	// 2. Outbound publisher
	if publisher != nil {
		draining.Add(1)
		go func() {
			defer draining.Done()
			_ = publisher.Run(drainCtx)
		}()
	}

	// 3. Price feed
	if subscriber != nil {
		feed := ingestion.NewPriceFeed(proc, cfg.Auth.OracleIdentity, metrics, component("price_feed"))
		for source, seq := range feedPositions {
			feed.Validator().SetLastSequence(source, seq)
			logger.Debug().Str("source", source).Int64("sequence", seq).Msg("price feed position restored")
		}
		if err := subscriber.Subscribe(runCtx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		goServe("price feed", func() error { return feed.Run(runCtx, rawChan) })
	}

	// 4. gRPC server
	if cfg.Server.GRPCAddr != "" {
		goServe("grpc", func() error { return srv.StartGRPC(runCtx) })
	}

	// 5. HTTP gateway
	if cfg.Server.HTTPAddr != "" {
		goServe("http", func() error { return srv.StartHTTPGateway(runCtx) })
	}

	// 6. Dedicated metrics listener
	if cfg.Server.MetricsAddr != "" {
		goServe("metrics", func() error { return serveMetrics(runCtx, cfg.Server.MetricsAddr, registry, logger) })
	}

	healthChecker.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("sequence", proc.Sequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Bool("journal", journalWorker != nil).
		Bool("nats", subscriber != nil).
		Msg("VaultLedger ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	srv.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancelRun()
	serving.Wait()

	// No producer is left; close the outputs and let the drainers finish.
	if journalChan != nil {
		close(journalChan)
	}
	if publishChan != nil {
		close(publishChan)
	}
	drained := make(chan struct{})
	go func() {
		draining.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("drain timed out")
		cancelDrain()
		<-drained
	}

	logger.Info().
		Int64("sequence", proc.Sequence()).
		Hex("state_hash", hashBytes(proc.StateHash())).
		Msg("VaultLedger shutdown complete")
	return runErr
}

func migrate(ctx context.Context, db *sql.DB, dir string, logger zerolog.Logger) error {
	if err := persistence.NewMigrator(db, dir, logger).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func hashBytes(h [32]byte) []byte { return h[:] }
