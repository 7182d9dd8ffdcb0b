package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/job-bridge/internal/config"
	"github.com/cuongbtq/job-bridge/internal/worker"
	"github.com/cuongbtq/job-bridge/internal/worker/storage"
	"github.com/cuongbtq/job-bridge/shared/logger"
	"github.com/cuongbtq/job-bridge/shared/postgresql"
	"github.com/cuongbtq/job-bridge/shared/rabbitmq"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	appLogger = appLogger.With(slog.String("service", "worker-service"))

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wait for the broker management API before dialing
	prober := rabbitmq.NewProber(newProberConfig(&cfg.RabbitMQ), nil, appLogger.Logger)
	if err := prober.WaitReady(ctx); err != nil {
		return fmt.Errorf("RabbitMQ not ready: %w", err)
	}

	// Optional processed-job ledger
	var recorder worker.Recorder
	if cfg.Database.Enabled {
		dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		jobStorage := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
		if err := jobStorage.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare database schema: %w", err)
		}
		recorder = jobStorage

		appLogger.Info("Database connection established")
	}

	// Initialize RabbitMQ connection
	rabbitConfig := newRabbitConfig(&cfg.RabbitMQ)
	manager := rabbitmq.NewManager(rabbitConfig, rabbitmq.DialAMQP, appLogger.Logger)
	conn, err := manager.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer func() {
		if !conn.IsClosed() {
			_ = conn.Close()
		}
	}()

	appLogger.Info("RabbitMQ connection established")

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:     appLogger.Logger,
		Topology:   rabbitConfig.Topology,
		PoolSize:   cfg.RabbitMQ.PoolSize,
		Prefetch:   cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout: cfg.Worker.JobTimeout,
		TagPrefix:  cfg.RabbitMQ.Consumer.TagPrefix,
	})
	processor := worker.NewProcessor(appLogger.Logger, cfg.Worker.SimulatedWork, recorder)

	// Run until a signal arrives or the connection is lost
	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Run(ctx, conn, processor.Process)
	}()

	appLogger.Info("Worker service started successfully",
		slog.Int("channels", cfg.RabbitMQ.PoolSize),
		slog.Int("prefetch", cfg.RabbitMQ.Consumer.PrefetchCount),
	)

	select {
	case err := <-errChan:
		if err != nil {
			// ErrConnectionLost ends up here; the process exits non-zero for the supervisor to restart it
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
			return fmt.Errorf("worker stopped: %w", err)
		}
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")

		// Give in-flight jobs time to finish
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer shutdownCancel()

		select {
		case err := <-errChan:
			if err != nil {
				appLogger.Error("Worker error during shutdown", slog.Any("error", err))
				return err
			}
			appLogger.Info("Worker stopped gracefully")
		case <-shutdownCtx.Done():
			appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
		}
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// newProberConfig points the readiness probe at the management API
func newProberConfig(cfg *config.RabbitMQConfig) *rabbitmq.ProberConfig {
	return &rabbitmq.ProberConfig{
		Host:          cfg.Host,
		Port:          cfg.ManagementPort,
		Path:          cfg.Readiness.Path,
		User:          cfg.User,
		Password:      cfg.Password,
		RetryAttempts: cfg.Readiness.RetryAttempts,
		RetryInterval: cfg.Readiness.RetryInterval,
		Timeout:       cfg.Readiness.Timeout,
	}
}

// newRabbitConfig maps the service configuration onto the RabbitMQ client configuration
func newRabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		ManagementPort: cfg.ManagementPort,
		User:           cfg.User,
		Password:       cfg.Password,
		VHost:          cfg.VHost,
		Topology: rabbitmq.Topology{
			Exchange:        cfg.Exchange.Name,
			ExchangeType:    cfg.Exchange.Type,
			ExchangeDurable: cfg.Exchange.Durable,
			Queue:           cfg.Queue.Name,
			QueueDurable:    cfg.Queue.Durable,
			RoutingKey:      cfg.RoutingKey,
		},
		PoolSize:          cfg.PoolSize,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		ConnectionTimeout: cfg.Connection.ConnectionTimeout,
	}
}
