package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"triage/internal/broker"
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
	"triage/pkg/logging"
	"triage/pkg/metrics"
	"triage/pkg/middleware"
	"triage/pkg/migrations"
	"triage/pkg/models"
	"triage/pkg/ratelimit"
	"triage/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	db             *sql.DB
	mongoClient    *mongo.Client
	service        *decision.Service
	evaluator      *rules.Evaluator
	rulesRepo      rules.Repository
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("decision-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initService(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if err := a.InitBroker("decision-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "decision-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDecisionMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}
	if a.Config.RateLimit.Enabled {
		metrics.RegisterRateLimitMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

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

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(db); err != nil {
			return fmt.Errorf("failed to run postgres migrations: %w", err)
		}
		a.Logger.Info("PostgreSQL migrations applied")
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	if err := migrations.EnsureDecisionRecordsCollection(ctx, mongoClient.Database(a.mongoDatabase())); err != nil {
		return fmt.Errorf("failed to ensure decision_records collection: %w", err)
	}

	return nil
}

func (a *App) mongoDatabase() string {
	if a.Config.Database.MongoDB.Database != "" {
		return a.Config.Database.MongoDB.Database
	}
	return constants.DefaultMongoDatabase
}

func (a *App) initService(ctx context.Context) error {
	var dedupStore dedup.Store = dedup.NewStore(a.redis)
	if a.Config.CircuitBreaker.Enabled {
		dedupStore = dedup.NewCircuitBreakerStore(dedupStore, a.Config.CircuitBreaker)
		a.Logger.Info("Circuit breaker enabled for dedup store")
	}

	detector := dedup.NewDetector(dedupStore, a.Config.Dedup, a.Logger)
	limiter := fatigue.NewLimiter(fatigue.NewCounterStore(a.redis), a.Config.Fatigue, a.Logger)

	a.rulesRepo = rules.NewRepository(a.db)
	evaluator, err := rules.NewEvaluator(a.rulesRepo, limiter, a.Config.Rules, a.Logger)
	if err != nil {
		return err
	}
	a.evaluator = evaluator

	if err := evaluator.ReloadRules(ctx, true); err != nil {
		// The evaluator starts empty and the reloader fills it in; rules
		// being down must not block the pipeline.
		a.Logger.WarnwCtx(ctx, "Initial rule load failed, starting with no active rules", "error", err)
	}

	audit := decision.NewAuditRepository(a.mongoClient.Database(a.mongoDatabase()))
	deferrals := deferred.NewRepository(a.db)

	a.service = decision.NewService(
		fingerprint.New(a.Config.Dedup.HashAlgorithm),
		detector,
		limiter,
		evaluator,
		audit,
		deferrals,
		a.Config.Decision,
		a.Logger,
	)
	return nil
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("decision-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.RateLimit.Enabled {
		router.Use(ratelimit.RateLimitMiddleware(ratelimit.RateLimitConfig{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		}))
		a.Logger.Infow("Rate limiting enabled", "rps", a.Config.RateLimit.RPS, "burst", a.Config.RateLimit.Burst)
	}

	handler := decision.NewHandler(a.service, a.rulesRepo, a.Logger)
	handler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register("redis", health.PingRedis(a.redis))
	healthRegistry.Register("postgresql", health.PingPostgres(a.db))
	healthRegistry.Register("mongodb", health.PingMongo(a.mongoClient))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: router,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.evaluator.StartReloader(gCtx)
	})

	if rulesTopic := a.Config.Broker.Kafka.RulesTopic; rulesTopic != "" {
		rulesConsumer, err := broker.NewConsumer(a.Config.Broker, a.Logger)
		if err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to create rules event consumer, event-driven reload disabled",
				"error", err,
			)
		} else {
			rulesConsumer.SetServiceName("decision-service")
			defer rulesConsumer.Close()

			g.Go(func() error {
				a.Logger.InfowCtx(gCtx, "Starting rules update event consumer", "topic", rulesTopic)
				return rulesConsumer.Consume(gCtx, rulesTopic, func(cCtx context.Context, msg models.EventEnvelope) error {
					if err := a.evaluator.ReloadRules(cCtx); err != nil {
						a.Logger.ErrorwCtx(cCtx, "Failed to reload rule configs", "error", err)
					}
					return nil
				})
			})
		}
	}

	inputTopic := a.Config.Broker.Kafka.InputTopic
	if inputTopic == "" {
		inputTopic = constants.DefaultInputTopic
	}
	outputTopic := a.Config.Broker.Kafka.OutputTopic
	if outputTopic == "" {
		outputTopic = constants.DefaultOutputTopic
	}

	g.Go(func() error {
		return a.Consumer.Consume(gCtx, inputTopic, a.handleMessage(outputTopic))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) handleMessage(outputTopic string) broker.HandlerFunc {
	return func(ctx context.Context, msg models.EventEnvelope) error {
		ctx = logging.WithEventID(ctx, msg.Event.ID)

		outcome, err := a.service.Submit(ctx, msg.Event)
		if err != nil {
			if vErr := new(models.ValidationError); errors.As(err, &vErr) {
				// Malformed events are dropped, not retried.
				a.Logger.WarnwCtx(ctx, "Dropping invalid notification event",
					"envelope_id", msg.ID,
					"error", err,
				)
				return nil
			}
			return err
		}

		msg.Metadata.Decision = &models.DecisionInfo{
			Classification: outcome.Classification,
			Explanation:    outcome.Explanation,
			DecidedAt:      time.Now().UTC(),
		}

		if err := a.Producer.Publish(ctx, outputTopic, msg); err != nil {
			return fmt.Errorf("failed to publish decision: %w", err)
		}

		a.Logger.InfowCtx(ctx, "Decision published",
			"event_id", msg.Event.ID,
			"classification", outcome.Classification,
			"output_topic", outputTopic,
		)
		return nil
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down decision service")

	additionalShutdown := func(ctx context.Context) []error {
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

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
