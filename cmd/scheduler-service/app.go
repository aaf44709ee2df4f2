package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"triage/internal/config"
	"triage/internal/constants"
	"triage/internal/decision"
	"triage/internal/dedup"
	"triage/internal/deferred"
	"triage/internal/fatigue"
	"triage/internal/fingerprint"
	"triage/internal/logger"
	"triage/internal/rules"
	"triage/pkg/bootstrap"
	"triage/pkg/health"
	"triage/pkg/metrics"
	"triage/pkg/migrations"
	"triage/pkg/tracing"
)

// The scheduler runs the same decision pipeline as the decision service, so
// it needs the same stores. It carries no broker: outcomes are recorded as
// status transitions, not republished.
type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	db             *sql.DB
	mongoClient    *mongo.Client
	evaluator      *rules.Evaluator
	scheduler      *deferred.Scheduler
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("scheduler-service")
	}
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initScheduler(ctx); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "scheduler-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDecisionMetrics()
	metrics.RegisterSchedulerMetrics()
	if a.config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.config.Database.RunMigrations {
		if err := migrations.RunPostgres(db); err != nil {
			return fmt.Errorf("failed to run postgres migrations: %w", err)
		}
		a.logger.Info("PostgreSQL migrations applied")
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	return nil
}

func (a *App) mongoDatabase() string {
	if a.config.Database.MongoDB.Database != "" {
		return a.config.Database.MongoDB.Database
	}
	return constants.DefaultMongoDatabase
}

func (a *App) initScheduler(ctx context.Context) error {
	var dedupStore dedup.Store = dedup.NewStore(a.redis)
	if a.config.CircuitBreaker.Enabled {
		dedupStore = dedup.NewCircuitBreakerStore(dedupStore, a.config.CircuitBreaker)
	}

	detector := dedup.NewDetector(dedupStore, a.config.Dedup, a.logger)
	limiter := fatigue.NewLimiter(fatigue.NewCounterStore(a.redis), a.config.Fatigue, a.logger)

	rulesRepo := rules.NewRepository(a.db)
	evaluator, err := rules.NewEvaluator(rulesRepo, limiter, a.config.Rules, a.logger)
	if err != nil {
		return err
	}
	a.evaluator = evaluator

	if err := evaluator.ReloadRules(ctx, true); err != nil {
		a.logger.WarnwCtx(ctx, "Initial rule load failed, starting with no active rules", "error", err)
	}

	audit := decision.NewAuditRepository(a.mongoClient.Database(a.mongoDatabase()))
	repo := deferred.NewRepository(a.db)

	svc := decision.NewService(
		fingerprint.New(a.config.Dedup.HashAlgorithm),
		detector,
		limiter,
		evaluator,
		audit,
		repo,
		a.config.Decision,
		a.logger,
	)

	a.scheduler = deferred.NewScheduler(repo, svc, a.config.Scheduler, a.config.Decision, a.logger)
	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register("redis", health.PingRedis(a.redis))
	healthRegistry.Register("postgresql", health.PingPostgres(a.db))
	healthRegistry.Register("mongodb", health.PingMongo(a.mongoClient))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: mux,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(gCtx, "HTTP server starting", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.evaluator.StartReloader(gCtx)
	})

	g.Go(func() error {
		return a.scheduler.Start(gCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down scheduler service")

	var errs []error

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.Info("Application exited successfully")
	return nil
}
