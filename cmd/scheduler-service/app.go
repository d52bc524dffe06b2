package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/dispatch"
	"relay/internal/invoker"
	"relay/internal/lease"
	"relay/internal/logger"
	"relay/internal/webhook"
	"relay/pkg/bootstrap"
	"relay/pkg/health"
	"relay/pkg/metrics"
	"relay/pkg/tracing"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	mongoClient    *mongo.Client
	scheduled      *dispatch.Scheduled
	tracerProvider *tracing.TracerProvider
	server         *http.Server
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
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.redis = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	if mongoClient == nil {
		return fmt.Errorf("mongodb is required for the invocation ledger")
	}
	a.mongoClient = mongoClient

	if err := a.initScheduled(); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "scheduler-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterSchedulerMetrics()
	if a.config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initScheduled() error {
	if a.config.Scheduler.Pipeline == "" {
		return fmt.Errorf("scheduler pipeline is required")
	}

	leases := lease.NewManager(a.redis, a.logger)

	var client invoker.Client = invoker.NewHTTPClient(a.config.Invoker)
	if a.config.CircuitBreaker.Enabled {
		client = invoker.NewCircuitBreakerClient(client, a.config.CircuitBreaker)
	}

	mongoDB := a.mongoClient.Database(a.config.Database.MongoDB.Database)
	invocations := invoker.NewService(client, invoker.NewRepository(mongoDB), a.logger)
	poller := invoker.NewPoller(client, a.logger)
	notifier := webhook.NewNotifier(a.config.Webhook, a.logger)

	a.scheduled = dispatch.NewScheduled(leases, invocations, poller, notifier, a.config.Scheduler, a.config.Invoker, a.logger)
	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewRedisChecker(a.redis))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if a.config.Invoker.BaseURL != "" {
		healthRegistry.RegisterOptional(health.NewPipelineAPIChecker(a.config.Invoker.BaseURL))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":%q}`, h.Status)
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
		a.logger.InfowCtx(gCtx, "Starting scheduled dispatch loop",
			"pipeline", a.config.Scheduler.Pipeline,
			"interval", a.config.Scheduler.IntervalSeconds,
		)
		return a.scheduled.Run(gCtx)
	})

	return g.Wait()
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

	errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, nil, a.mongoClient)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Scheduler exited successfully")
	return nil
}
