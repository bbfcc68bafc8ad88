package main

import (
	"Parimutuel/internal/config"
	"Parimutuel/internal/core"
	"Parimutuel/internal/custody"
	"Parimutuel/internal/ingestion"
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/lock"
	"Parimutuel/internal/market"
	"Parimutuel/internal/observability"
	"Parimutuel/internal/persistence"
	"Parimutuel/internal/projection"
	"Parimutuel/internal/query"
	"Parimutuel/internal/recovery"
	"Parimutuel/internal/server"
	"Parimutuel/migrations"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// warmKeys bounds how many recent command IDs are loaded into the idempotency
// LRU on start
const warmKeys = 100_000

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithOptions("engine", observability.LogOptions{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("service failed")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// --- Database ---
	dialect, err := persistence.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return err
	}
	db, err := persistence.Open(dialect, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if dialect == persistence.DialectPostgres {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxOpenConns / 2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	logger.Info().Str("driver", string(dialect)).Msg("database connected")

	if cfg.Database.Migrate {
		if err := persistence.NewMigrator(db, dialect, migrations.FS, logger).Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("database", db.PingContext)

	// --- Channels ---
	// persist blocks (backpressure), projection and publish drop
	persistCoreChan := make(chan core.CoreOutput, cfg.Pipeline.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.Pipeline.ProjectionChanSize)
	persistChan := make(chan persistence.Output, cfg.Pipeline.PersistChanSize)
	projectionChan := make(chan projection.ProjectionOutput, cfg.Pipeline.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.Pipeline.PublishChanSize)

	g, gctx := errgroup.WithContext(ctx)

	// The persistence worker runs first: custody journals are sent to it
	// synchronously from the book.
	persistWorker := persistence.NewPersistenceWorker(db, dialect, persistChan,
		cfg.Pipeline.PersistBatchSize, cfg.Pipeline.PersistFlushTimeout, metrics, logger.With().Str("worker", "persist").Logger())
	g.Go(func() error { return persistWorker.Run(gctx) })

	// --- Custody ---
	book := custody.NewBook(core.SystemClock.Now)
	book.OnBatch(journalSink(gctx, persistChan, metrics))

	authority := market.Identity(cfg.Market.TreasuryAuthority)
	mintMeta := custody.MintMetadata{
		Name:     cfg.Market.MintName,
		Symbol:   cfg.Market.MintSymbol,
		URI:      cfg.Market.MintURI,
		Decimals: cfg.Market.MintDecimals,
	}
	treasury := custody.NewTreasury(authority, book)
	mint := custody.NewVotingMint(market.Identity(cfg.Market.VotingMint), market.Identity(cfg.Market.MintAuthority), mintMeta, book)
	wallets := custody.NewWallets(book)

	// --- Lock ---
	var locker core.Locker = lock.NewKeyedMutex(metrics)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		rl := lock.NewRedisLocker(rdb, metrics)
		if err := rl.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		locker = rl
		healthChecker.AddCheck("redis", rl.Ping)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis market lock")
	}

	// --- Engine ---
	store := persistence.NewSQLStore(db, dialect)
	idem := core.NewIdempotencyChecker(cfg.Pipeline.IdempotencyCapacity, persistence.NewDBIdempotencyChecker(db, dialect))
	engineLogger := logger.With().Str("component", "engine").Logger()
	engine := core.NewEngine(core.DefaultConfig(authority, market.Identity(cfg.Market.VotingMint)), core.Deps{
		Store:          store,
		Treasury:       treasury,
		Mint:           mint,
		Wallets:        wallets,
		Locker:         locker,
		Clock:          core.SystemClock,
		Metrics:        metrics,
		Logger:         &engineLogger,
		PersistChan:    persistCoreChan,
		ProjectionChan: projectionCoreChan,
	})

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db, dialect)
	state := recovery.State{
		Engine:    engine,
		Store:     store,
		Book:      book,
		Treasury:  treasury,
		Mint:      mint,
		Idem:      idem,
		Snapshots: snapMgr,
		Writer:    persistence.NewEventLogWriter(db, dialect),
	}
	if _, err := recovery.Restore(ctx, state, warmKeys, logger); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	if !mint.Initialised() {
		if err := mint.Init(ctx, market.Identity(cfg.Market.MintAuthority), mintMeta); err != nil {
			return fmt.Errorf("mint init: %w", err)
		}
		logger.Info().Str("mint", cfg.Market.VotingMint).Msg("voting mint initialised")
	}
	if cfg.Market.TreasurySeed > 0 {
		if bal, err := treasury.SOLBalance(ctx, authority); err == nil && bal == 0 {
			if err := treasury.Seed(ctx, cfg.Market.TreasurySeed); err != nil {
				return fmt.Errorf("seed treasury: %w", err)
			}
		}
	}
	if err := engine.InitialiseMarketplace(ctx); err != nil {
		return fmt.Errorf("initialise marketplace: %w", err)
	}

	processor := core.NewProcessor(engine, idem, metrics, logger.With().Str("component", "processor").Logger())

	// --- Snapshots ---
	var archiver persistence.Archiver
	if cfg.Snapshot.S3Bucket != "" {
		s3a, err := persistence.NewS3Archiver(ctx, persistence.S3Config{
			Bucket:    cfg.Snapshot.S3Bucket,
			Region:    cfg.Snapshot.S3Region,
			Endpoint:  cfg.Snapshot.S3Endpoint,
			AccessKey: cfg.Snapshot.S3AccessKey,
			SecretKey: cfg.Snapshot.S3SecretKey,
			Prefix:    cfg.Snapshot.S3Prefix,
		}, metrics)
		if err != nil {
			return fmt.Errorf("s3 archiver: %w", err)
		}
		archiver = s3a
	}
	snapshotter := recovery.NewSnapshotter(state, archiver, metrics, logger.With().Str("component", "snapshot").Logger())

	// --- Projections ---
	projWorker := projection.NewProjectionWorker(db, dialect, projectionChan, metrics, logger.With().Str("worker", "projection").Logger())
	rebuild := func(ctx context.Context) (int, error) {
		return projection.RebuildProjections(ctx, projWorker, snapMgr)
	}

	// --- NATS ---
	var subscriber *ingestion.NATSSubscriber
	var js jetstream.JetStream
	rawChan := make(chan ingestion.RawCommand, cfg.Pipeline.CommandChanSize)
	if cfg.NATS.URL != "" {
		nc, jsc, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		js = jsc
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			return fmt.Errorf("ensure command stream: %w", err)
		}
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, logger.With().Str("component", "nats").Logger())
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer subscriber.Stop()
	}

	// --- RPC ---
	ingestSvc := ingestion.NewRPCIngestService(processor, wallets, treasury)
	queryService := query.NewQueryService(db, dialect, store, metrics)
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Service:       server.NewMarketService(ingestSvc, queryService, snapshotter, rebuild),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        logger.With().Str("component", "rpc").Logger(),
		RatePerSecond: cfg.Server.RatePerSecond,
		RateBurst:     cfg.Server.RateBurst,
	})

	// --- Goroutines ---
	publish := js != nil && cfg.NATS.Publish
	g.Go(func() error {
		bridgeCoreOutputs(gctx, persistCoreChan, projectionCoreChan, persistChan, projectionChan, publishChan, publish, metrics)
		return nil
	})
	g.Go(func() error { return projWorker.Run(gctx) })
	if subscriber != nil {
		g.Go(func() error {
			return ingestion.NewCommandLoop(rawChan, processor, metrics, logger.With().Str("component", "ingest").Logger()).Run(gctx)
		})
	}
	if publish {
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			return fmt.Errorf("ensure outbound stream: %w", err)
		}
		g.Go(func() error {
			return ingestion.NewOutboundPublisher(js, publishChan, logger.With().Str("component", "publisher").Logger()).Run(gctx)
		})
	}
	g.Go(func() error { return grpcServer.StartGRPC(gctx) })
	g.Go(func() error { return grpcServer.StartHTTPGateway(gctx) })
	g.Go(func() error {
		return snapshotter.RunPeriodic(gctx, cfg.Snapshot.Interval, cfg.Snapshot.CheckEvery)
	})
	g.Go(func() error {
		reportChannels(gctx, metrics, persistChan, projectionChan, publishChan)
		return nil
	})

	healthChecker.ReportSequence(engine.GetSequence)
	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Bool("nats", subscriber != nil).
		Msg("parimutuel ready")

	err = g.Wait()
	healthChecker.SetReady(false)

	// final snapshot, saved unverified until the log catches up
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, serr := snapshotter.Take(shutdownCtx); serr != nil {
		logger.Error().Err(serr).Msg("final snapshot failed")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// journalSink forwards every applied custody batch to the persistence worker
func journalSink(ctx context.Context, out chan<- persistence.Output, metrics *observability.Metrics) func(*ledger.Batch) {
	return func(b *ledger.Batch) {
		o := persistence.Output{JournalRows: persistence.JournalRowsFromBatch(b)}
		select {
		case out <- o:
		default:
			metrics.PersistBackpressure.Inc()
			select {
			case out <- o:
			case <-ctx.Done():
			}
		}
	}
}

// bridgeCoreOutputs converts core outputs into the persistence, projection and
// publish formats. Persistence is never dropped; projection and publish are.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.Output,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
	publish bool,
	metrics *observability.Metrics,
) {
	forward := func(output core.CoreOutput) {
		row := persistence.EventRowFromEnvelope(output.Envelope, output.StateDelta)
		select {
		case persistOut <- persistence.Output{EventRow: &row}:
		case <-ctx.Done():
			return
		}
		if !publish {
			return
		}
		select {
		case publishOut <- ingestion.PublishableFromEnvelope(output.Envelope):
		default:
			metrics.PublishDrops.Inc()
		}
	}

	for {
		select {
		case <-ctx.Done():
			// hand over what the engine already emitted
			for {
				select {
				case output := <-persistIn:
					row := persistence.EventRowFromEnvelope(output.Envelope, output.StateDelta)
					select {
					case persistOut <- persistence.Output{EventRow: &row}:
					default:
						return
					}
				default:
					return
				}
			}

		case output := <-persistIn:
			forward(output)

		case output := <-projectionIn:
			select {
			case projectionOut <- projection.ProjectionOutput{
				Sequence:  output.Envelope.Sequence,
				Event:     output.Event,
				Timestamp: output.Envelope.Timestamp.UnixNano(),
			}:
			default:
				metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
			}
		}
	}
}

func reportChannels(
	ctx context.Context,
	metrics *observability.Metrics,
	persistChan chan persistence.Output,
	projectionChan chan projection.ProjectionOutput,
	publishChan chan ingestion.PublishableEvent,
) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
			metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
		}
	}
}
