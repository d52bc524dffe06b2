package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/deadletter"
	"relay/internal/dedup"
	"relay/internal/dispatch"
	"relay/internal/invoker"
	"relay/internal/logger"
	"relay/internal/routing"
	"relay/internal/trigger"
	"relay/pkg/bootstrap"
	"relay/pkg/health"
	"relay/pkg/metrics"
	"relay/pkg/middleware"
	"relay/pkg/ratelimit"
	"relay/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	db             *sql.DB
	mongoClient    *mongo.Client
	routes         *routing.Provider
	invocations    *invoker.Service
	dispatcher     *dispatch.Dispatcher
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("dispatcher-service")
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

	if err := a.initDispatcher(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	if err := a.InitBroker("dispatcher-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "dispatcher-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDispatchMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}
	if a.Config.Trigger.RateLimit.Enabled {
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
	if db == nil {
		return fmt.Errorf("postgres is required for the dead-letter store")
	}
	a.db = db

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	if mongoClient == nil {
		return fmt.Errorf("mongodb is required for the invocation ledger")
	}
	a.mongoClient = mongoClient

	return nil
}

func (a *App) initDispatcher() error {
	reloadInterval := time.Duration(a.Config.Routing.ReloadIntervalSeconds) * time.Second
	routes, err := routing.NewProvider(a.Config.Routing.ConfigFile, reloadInterval, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load routing config: %w", err)
	}
	a.routes = routes

	ledger := dedup.NewService(dedup.NewRepository(a.redis), a.Config.Dedup, a.Logger)

	var client invoker.Client = invoker.NewHTTPClient(a.Config.Invoker)
	if a.Config.CircuitBreaker.Enabled {
		client = invoker.NewCircuitBreakerClient(client, a.Config.CircuitBreaker)
		a.Logger.Info("Circuit breaker enabled for pipeline API client")
	}

	mongoDB := a.mongoClient.Database(a.Config.Database.MongoDB.Database)
	a.invocations = invoker.NewService(client, invoker.NewRepository(mongoDB), a.Logger)

	dlq := deadletter.NewRepository(a.db)

	a.dispatcher = dispatch.NewDispatcher(ledger, routes, a.invocations, dlq, a.Config.Dispatch, a.Logger)
	return nil
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("dispatcher-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.Trigger.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.Config.Trigger.RateLimit.RPS,
			Burst:           a.Config.Trigger.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.Trigger.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.Trigger.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	triggerHandler := trigger.NewHandler(a.Producer, a.invocations, a.Config.Trigger, a.inputTopic(), a.Logger)
	triggerHandler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewRedisChecker(a.redis))
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if a.Config.Invoker.BaseURL != "" {
		healthRegistry.RegisterOptional(health.NewPipelineAPIChecker(a.Config.Invoker.BaseURL))
	}

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

func (a *App) inputTopic() string {
	topic := a.Config.Broker.Kafka.InputTopic
	if topic == "" {
		topic = constants.DefaultInputTopic
	}
	return topic
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
		return a.routes.Run(gCtx)
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Starting event consumer", "topic", a.inputTopic())
		return a.Consumer.Consume(gCtx, a.inputTopic(), a.dispatcher.ProcessMessage)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down dispatcher service")

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
