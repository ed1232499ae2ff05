package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskgate/internal/config"
	"github.com/phrazzld/taskgate/internal/platform/gemini"
	"github.com/phrazzld/taskgate/internal/platform/postgres"
	redisbroker "github.com/phrazzld/taskgate/internal/platform/redis"
	"github.com/phrazzld/taskgate/internal/platform/s3archive"
	"github.com/phrazzld/taskgate/internal/task"
	goredis "github.com/redis/go-redis/v9"
)

// application holds the wired components and owns their shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db          *sql.DB
	redisClient *goredis.Client

	store      task.ResultStore
	broker     task.Broker
	handlers   *task.Registry
	limiter    *task.Limiter
	gateway    *task.Gateway
	retries    *task.RetryManager
	workers    *task.WorkerPool
	reconciler *task.Reconciler
}

// newApplication builds every component selected by cfg. On error, anything
// already opened is closed.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	logger.Info("application initialized",
		"role", cfg.Server.Role,
		"handler_kinds", app.handlers.Kinds())
	return app, nil
}

func (app *application) build(ctx context.Context) error {
	cfg := app.config

	if err := app.setupStore(ctx); err != nil {
		return err
	}
	if err := app.setupBroker(ctx); err != nil {
		return err
	}
	if err := app.setupHandlers(ctx); err != nil {
		return err
	}

	app.limiter = task.NewLimiter(task.LimiterConfig{
		MaxConcurrent: cfg.Admission.MaxConcurrent,
		WaitTimeout:   cfg.Admission.WaitTimeout,
	}, app.logger)

	gateway, err := task.NewGateway(app.store, app.broker, app.handlers, task.GatewayConfig{
		InfraRetries:   cfg.Worker.InfraRetries,
		InfraBaseDelay: cfg.Worker.InfraBaseDelay,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	app.gateway = gateway

	if cfg.Server.RunsWorkers() {
		return app.setupWorkers(ctx)
	}
	return nil
}

func (app *application) setupStore(ctx context.Context) error {
	if app.config.Database.URL == "" {
		app.logger.Warn("no database configured, using in-memory result store")
		app.store = task.NewMemoryStore()
		return nil
	}

	db, err := openDatabase(ctx, app.config.Database, app.logger)
	if err != nil {
		return err
	}
	app.db = db

	if err := postgres.Migrate(ctx, db, postgres.MigrateUp, app.logger); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	app.store = postgres.NewTaskStore(db)
	return nil
}

func (app *application) setupBroker(ctx context.Context) error {
	bc := app.config.Broker

	switch bc.Kind {
	case config.BrokerRedis:
		client, err := redisbroker.Connect(ctx, redisbroker.ConnectConfig{URL: bc.RedisURL})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redisClient = client

		broker, err := redisbroker.NewBroker(client, redisbroker.BrokerConfig{
			Prefix:       bc.Prefix,
			LeaseTimeout: bc.LeaseTimeout,
			PollInterval: bc.PollInterval,
			Capacity:     bc.Capacity,
		}, app.logger)
		if err != nil {
			return err
		}
		app.broker = broker

	default:
		if app.config.Server.Role != config.RoleAll {
			app.logger.Warn("memory broker is process-local; api and worker roles will not share a queue",
				"role", app.config.Server.Role)
		}
		app.broker = task.NewMemoryBroker(task.MemoryBrokerConfig{
			LeaseTimeout: bc.LeaseTimeout,
			Capacity:     bc.Capacity,
		}, app.logger)
	}
	return nil
}

func (app *application) setupHandlers(ctx context.Context) error {
	app.handlers = task.NewRegistry()

	if app.config.LLM.GeminiAPIKey == "" {
		app.logger.Info("no gemini API key configured, generate_text handler disabled")
		return nil
	}
	h, err := gemini.NewHandler(ctx, app.config.LLM, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize gemini handler: %w", err)
	}
	return app.handlers.Register(gemini.HandlerKind, h)
}

func (app *application) setupWorkers(ctx context.Context) error {
	cfg := app.config

	var sinks []task.DeadLetterSink
	if cfg.Archive.Enabled {
		archive, err := s3archive.New(ctx, s3archive.Config{
			Bucket:         cfg.Archive.Bucket,
			Region:         cfg.Archive.Region,
			Endpoint:       cfg.Archive.Endpoint,
			AccessKeyID:    cfg.Archive.AccessKeyID,
			SecretKey:      cfg.Archive.SecretKey,
			Prefix:         cfg.Archive.Prefix,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize dead-letter archive: %w", err)
		}
		sinks = append(sinks, archive)
	}

	app.retries = task.NewRetryManager(task.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}, app.store, app.broker, app.logger, task.WithDeadLetterSinks(sinks...))

	var err error
	app.workers, err = task.NewWorkerPool(app.broker, app.store, app.handlers, app.retries, task.WorkerPoolConfig{
		WorkerCount:    cfg.Worker.Count,
		HandlerTimeout: cfg.Worker.HandlerTimeout,
		LeaseTimeout:   cfg.Broker.LeaseTimeout,
		InfraRetries:   cfg.Worker.InfraRetries,
		InfraBaseDelay: cfg.Worker.InfraBaseDelay,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	app.reconciler, err = task.NewReconciler(app.store, app.broker, task.ReconcilerConfig{
		SweepInterval: cfg.Reconciler.SweepInterval,
		PendingAge:    cfg.Reconciler.PendingAge,
		StuckAge:      cfg.Reconciler.StuckAge,
		RetentionTTL:  cfg.Reconciler.RetentionTTL,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}
	return nil
}

// cleanup closes the broker and connections. Workers and the reconciler are
// stopped by Run before it returns.
func (app *application) cleanup() {
	if app.broker != nil {
		if err := app.broker.Close(); err != nil {
			app.logger.Error("error closing broker", "error", err)
		}
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("error closing redis connection", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
