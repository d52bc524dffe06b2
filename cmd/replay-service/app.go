package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

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
	db             *sql.DB
	mongoClient    *mongo.Client
	routes         *routing.Provider
	replayer       *deadletter.Replayer
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("replay-service")
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

	if err := a.initReplayer(); err != nil {
		return fmt.Errorf("failed to initialize replayer: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "replay-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterReplayMetrics()
	metrics.RegisterDispatchMetrics()
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

// initReplayer wires a full dispatcher behind the replayer so replayed
// events pass through the same dedup, routing and idempotent invocation
// as live traffic.
func (a *App) initReplayer() error {
	reloadInterval := time.Duration(a.config.Routing.ReloadIntervalSeconds) * time.Second
	routes, err := routing.NewProvider(a.config.Routing.ConfigFile, reloadInterval, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load routing config: %w", err)
	}
	a.routes = routes

	ledger := dedup.NewService(dedup.NewRepository(a.redis), a.config.Dedup, a.logger)

	var client invoker.Client = invoker.NewHTTPClient(a.config.Invoker)
	if a.config.CircuitBreaker.Enabled {
		client = invoker.NewCircuitBreakerClient(client, a.config.CircuitBreaker)
	}

	mongoDB := a.mongoClient.Database(a.config.Database.MongoDB.Database)
	invocations := invoker.NewService(client, invoker.NewRepository(mongoDB), a.logger)

	dlq := deadletter.NewRepository(a.db)
	dispatcher := dispatch.NewDispatcher(ledger, routes, invocations, dlq, a.config.Dispatch, a.logger)

	a.replayer = deadletter.NewReplayer(dlq, dispatcher, a.config.Replay, a.logger)
	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewRedisChecker(a.redis))
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))

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

func (a *App) replayInterval() time.Duration {
	if a.config.Replay.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(a.config.Replay.IntervalSeconds) * time.Second
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
		return a.routes.Run(gCtx)
	})

	g.Go(func() error {
		interval := a.replayInterval()
		a.logger.InfowCtx(gCtx, "Starting dead-letter replay loop",
			"interval", interval,
			"dry_run", a.config.Replay.DryRun,
		)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := a.replayer.ReplayAll(gCtx); err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				a.logger.ErrorwCtx(gCtx, "Replay pass failed", "error", err)
			}

			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down replay service")

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

	a.logger.InfowCtx(ctx, "Replay service exited successfully")
	return nil
}
