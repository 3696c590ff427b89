package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"payrollx/internal/clients"
	"payrollx/internal/domain/audit"
	"payrollx/internal/domain/auth"
	"payrollx/internal/domain/payroll"
	"payrollx/internal/platform/config"
	"payrollx/internal/platform/db"
	"payrollx/internal/platform/events"
	"payrollx/internal/platform/jobs"
	"payrollx/internal/platform/lease"
	"payrollx/internal/platform/metrics"
	"payrollx/internal/storage/memory"
	"payrollx/internal/storage/postgres"
	"payrollx/internal/storage/sqlite"
	"payrollx/internal/transport/http/api"
	audithandler "payrollx/internal/transport/http/handlers/audit"
	payrollhandler "payrollx/internal/transport/http/handlers/payroll"
	resultshandler "payrollx/internal/transport/http/handlers/results"
	"payrollx/internal/transport/http/middleware"
	kafkaresults "payrollx/internal/transport/kafka"
)

// Store is the run repository plus a readiness check.
type Store interface {
	payroll.StoreAPI
	Ping(ctx context.Context) error
}

// Collaborators are the external services the coordinator calls. Zero
// fields are built from config endpoints.
type Collaborators struct {
	Directory    payroll.Directory
	Treasury     payroll.Treasury
	Transactions payroll.TransactionService
}

type App struct {
	Config    config.Config
	Log       *slog.Logger
	Store     Store
	Coord     *payroll.Coordinator
	Scheduler *payroll.Scheduler
	Jobs      *jobs.Service
	Metrics   *metrics.Collector
	Audit     audit.Recorder
	Router    http.Handler

	pool     *pgxpool.Pool
	sqlDB    *sql.DB
	consumer *kafkaresults.Consumer
	closers  []func() error
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger, collab Collaborators) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	app := &App{Config: cfg, Log: log, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	idem, jobRec, err := app.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	locker, err := app.openLocker(ctx)
	if err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.NewMemory()
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := events.NewKafka(log, events.NewKafkaWriter(cfg.KafkaBrokers, cfg.EventsTopic))
		app.closers = append(app.closers, kafkaPub.Close)
		publisher = kafkaPub
	}

	httpClient := &http.Client{Timeout: cfg.CallTimeout}
	if collab.Directory == nil {
		collab.Directory = clients.NewDirectory(cfg.Endpoints.Directory, httpClient)
	}
	if collab.Treasury == nil {
		collab.Treasury = clients.NewWallet(cfg.Endpoints.Wallet, httpClient)
	}
	if collab.Transactions == nil {
		collab.Transactions = clients.NewTransaction(cfg.Endpoints.Transaction, httpClient)
	}

	app.Coord = payroll.NewCoordinator(payroll.Config{
		MaxRetries:          cfg.MaxRetries,
		CallTimeout:         cfg.CallTimeout,
		LeaseTTL:            cfg.LeaseTTL,
		ConflictRetries:     cfg.ConflictRetries,
		DispatchConcurrency: cfg.DispatchConcurrency,
	}, payroll.Deps{
		Store:     app.Store,
		Directory: collab.Directory,
		Treasury:  collab.Treasury,
		Tx:        collab.Transactions,
		Locker:    locker,
		Publisher: publisher,
		Logger:    log,
		Metrics:   app.Metrics,
	})
	app.Scheduler = payroll.NewScheduler(app.Coord, app.Store, payroll.SchedulerConfig{
		Concurrency: cfg.SchedulerConcurrency,
		BatchSize:   cfg.SchedulerBatchSize,
	}, log)

	app.Jobs = jobs.New(jobRec, log)
	app.Jobs.Every(payroll.JobRunTrigger, cfg.RunTriggerInterval, func(ctx context.Context) (any, error) {
		return app.Scheduler.RunDue(ctx)
	})
	app.Jobs.Every(payroll.JobRetryTrigger, cfg.RetryTriggerInterval, func(ctx context.Context) (any, error) {
		return app.Scheduler.RetryFailed(ctx)
	})

	if cfg.ResultsConsumerEnabled {
		app.consumer = kafkaresults.NewConsumer(kafkaresults.NewReader(cfg.KafkaBrokers, cfg.ResultsTopic, cfg.ResultsGroup), app.Coord, log)
		app.closers = append(app.closers, app.consumer.Close)
	}

	app.Router = app.routes(idem)
	ok = true
	return app, nil
}

func (a *App) openStorage(ctx context.Context) (middleware.IdempotencyStore, jobs.Recorder, error) {
	cfg := a.Config
	switch cfg.StorageDriver {
	case "postgres":
		pool, err := db.Connect(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		a.pool = pool
		if cfg.RunMigrations {
			if err := db.Migrate(ctx, pool, db.PostgresMigrations()); err != nil {
				return nil, nil, fmt.Errorf("migrations: %w", err)
			}
		}
		a.Store = postgres.New(pool)
		a.Audit = audit.New(pool)
		return middleware.NewPGIdempotencyStore(pool), jobs.PGRecorder{DB: pool}, nil
	case "sqlite":
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open: %w", err)
		}
		a.sqlDB = conn
		if cfg.RunMigrations {
			if err := db.MigrateSQLite(ctx, conn, db.SQLiteMigrations()); err != nil {
				return nil, nil, fmt.Errorf("migrations: %w", err)
			}
		}
		a.Store = sqlite.New(conn)
		a.Audit = audit.NewMemory()
		return middleware.NewMemoryIdempotencyStore(), sqlite.JobRecorder{DB: conn}, nil
	case "memory":
		a.Store = memory.New()
		a.Audit = audit.NewMemory()
		return middleware.NewMemoryIdempotencyStore(), jobs.NopRecorder{}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

func (a *App) openLocker(ctx context.Context) (lease.Locker, error) {
	if a.Config.LeaseBackend != "redis" {
		return lease.NewMemory(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	})
	a.closers = append(a.closers, rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return lease.NewRedis(rdb, ""), nil
}

func (a *App) routes(idem middleware.IdempotencyStore) http.Handler {
	cfg := a.Config
	perms := auth.StaticPermissions{}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(a.Log))
	router.Use(middleware.Recoverer(a.Log))
	router.Use(middleware.Metrics(a.Metrics))
	router.Use(middleware.SecureHeaders(cfg.Production()))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Store.Ping(ctx); err != nil {
			http.Error(w, "storage not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, a.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute))
		r.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMinute, time.Minute))

		payrollhandler.NewHandler(a.Coord, a.Audit, idem, perms, a.Log).RegisterRoutes(r)
		resultshandler.NewHandler(a.Coord, a.Audit, cfg.CallbackTokenHash, a.Log).RegisterRoutes(r)
		audithandler.NewHandler(a.Audit, perms).RegisterRoutes(r)
	})
	return router
}

// Run serves HTTP, runs the trigger jobs and the results consumer until ctx
// is cancelled, then drains the server.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Jobs.Start(ctx)

	errc := make(chan error, 2)
	if a.consumer != nil {
		go func() {
			if err := a.consumer.Run(ctx); err != nil {
				errc <- fmt.Errorf("results consumer: %w", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.Log.Info("payrollx listening", "addr", a.Config.Addr, "storage", a.Config.StorageDriver, "lease", a.Config.LeaseBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("http shutdown failed", "err", err)
	}
	a.Log.Info("payrollx stopped")
	return runErr
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
		a.sqlDB = nil
	}
}
