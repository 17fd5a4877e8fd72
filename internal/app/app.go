package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"BTCIngest/internal/config"
	"BTCIngest/internal/domain"
	"BTCIngest/internal/infrastructure/ledger"
	"BTCIngest/internal/infrastructure/storage"
	"BTCIngest/internal/infrastructure/watcher"
	"BTCIngest/internal/logging"
	"BTCIngest/internal/metrics"
	"BTCIngest/internal/scanner"
	"BTCIngest/internal/usecase"
)

const shutdownTimeout = 5 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db          *sql.DB
	redis       *redis.Client
	repo        *storage.PostgresRepository
	ledger      *ledger.RedisLedger
	metrics     *metrics.Metrics
	coordinator *usecase.Coordinator
	pipeline    *usecase.Pipeline
	watch       *usecase.Watch
}

// New connects to Postgres and Redis and builds the ingestion graph.
// An unreachable database is fatal; an unreachable ledger only degrades deduplication.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.EffectiveLevel())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	writers := workerCount(cfg)
	db, err := storage.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, writers)
	if err != nil {
		return nil, &domain.StorageError{Op: "connect", Err: err}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Ledger.Addr(),
		Password: cfg.Ledger.Password,
		DB:       cfg.Ledger.DB,
		PoolSize: writers + 2,
	})

	a, err := assemble(cfg, db, client, baseLogger)
	if err != nil {
		_ = client.Close()
		_ = db.Close()
		return nil, err
	}

	if err := a.ledger.Ping(ctx); err != nil {
		baseLogger.Warn("ledger unreachable, every file will be treated as new", "addr", cfg.Ledger.Addr(), "error", err)
	}
	return a, nil
}

func assemble(cfg config.Config, db *sql.DB, client *redis.Client, baseLogger *slog.Logger) (*Application, error) {
	m := metrics.New()

	repo, err := storage.NewPostgresRepository(db, storage.RepositoryOptions{
		Table:      cfg.Database.Table,
		Policy:     storage.ConflictPolicy(cfg.Database.ConflictPolicy),
		Hypertable: cfg.Database.HypertableEnabled(),
	})
	if err != nil {
		return nil, err
	}

	redisLedger := ledger.NewRedisLedger(client, cfg.Ledger.Key, baseLogger.With("component", "ledger"), m)
	processor := usecase.NewProcessor(repo, baseLogger.With("component", "processor"), m)

	coordLog := baseLogger.With("component", "coordinator")
	coordinator := usecase.NewCoordinator(usecase.CoordinatorDeps{
		Pooled:  cfg.Concurrency.Pooled(),
		Workers: cfg.Concurrency.Workers,
		Ledger:  redisLedger,
		Handler: processor.Process,
		OnOutcome: func(o domain.Outcome) {
			coordLog.Debug("unit finished", "path", o.File.Path, "state", o.State, "duration", o.Duration)
		},
		Logger:  coordLog,
		Metrics: m,
	})

	source := scanner.New(cfg.Ingest.DataDirectory, baseLogger.With("component", "scanner"))
	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:      source,
		Ledger:      redisLedger,
		Coordinator: coordinator,
		Logger:      baseLogger.With("component", "pipeline"),
		Metrics:     m,
	})

	driver := watcher.NewFSNotify(cfg.Ingest.DataDirectory, cfg.Ingest.SettleDelay, baseLogger.With("component", "watcher"))
	watch := usecase.NewWatch(driver, pipeline, redisLedger, coordinator.Drain, baseLogger.With("component", "watch"))

	return &Application{
		cfg:         cfg,
		logger:      baseLogger,
		db:          db,
		redis:       client,
		repo:        repo,
		ledger:      redisLedger,
		metrics:     m,
		coordinator: coordinator,
		pipeline:    pipeline,
		watch:       watch,
	}, nil
}

// Run prepares the table, processes the backlog and then ingests new files until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	return a.run(ctx, true)
}

// RunOnce prepares the table and processes the backlog without watching.
func (a *Application) RunOnce(ctx context.Context) error {
	return a.run(ctx, false)
}

func (a *Application) run(ctx context.Context, live bool) (err error) {
	if err := a.repo.EnsureSchema(ctx); err != nil {
		return err
	}

	stopMetrics := a.serveMetrics()
	defer stopMetrics()

	if err := a.coordinator.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := a.coordinator.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.logger.Info("ingestion finished", "stats", a.coordinator.Stats())
	}()

	a.logger.Info("catch-up started",
		"dir", a.cfg.Ingest.DataDirectory, "pooled", a.cfg.Concurrency.Pooled(), "workers", a.coordinator.Workers())
	summary, err := a.pipeline.CatchUp(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("catch-up finished",
		"candidates", summary.Candidates, "submitted", summary.Submitted, "skipped", summary.Skipped)

	if !live || ctx.Err() != nil {
		return nil
	}

	a.logger.Info("watching for new files", "dir", a.cfg.Ingest.DataDirectory)
	return a.watch.Run(ctx)
}

// ResetLedger forgets every processed file so the next run reloads them all.
// It only talks to Redis, so it works while the database is down.
func ResetLedger(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) error {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.EffectiveLevel())
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Ledger.Addr(),
		Password: cfg.Ledger.Password,
		DB:       cfg.Ledger.DB,
	})
	defer client.Close()

	l := ledger.NewRedisLedger(client, cfg.Ledger.Key, baseLogger.With("component", "ledger"), nil)
	if err := l.Reset(ctx); err != nil {
		return err
	}
	baseLogger.Info("ledger cleared", "addr", cfg.Ledger.Addr(), "key", cfg.Ledger.Key)
	return nil
}

// Close releases the Redis and Postgres pools.
func (a *Application) Close() error {
	return errors.Join(a.redis.Close(), a.db.Close())
}

func (a *Application) serveMetrics() func() {
	if a.cfg.Metrics.Addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", "addr", a.cfg.Metrics.Addr, "error", err)
		}
	}()
	a.logger.Debug("metrics server listening", "addr", a.cfg.Metrics.Addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func workerCount(cfg config.Config) int {
	if cfg.Concurrency.Pooled() && cfg.Concurrency.Workers > 0 {
		return cfg.Concurrency.Workers
	}
	return 1
}
