package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/job-bridge/internal/api/handler"
	"github.com/cuongbtq/job-bridge/internal/api/router"
	"github.com/cuongbtq/job-bridge/internal/config"
	"github.com/cuongbtq/job-bridge/shared/logger"
	"github.com/cuongbtq/job-bridge/shared/rabbitmq"
	"github.com/gin-gonic/gin"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	appLogger = appLogger.With(slog.String("service", "api-service"))

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to RabbitMQ and build the publish channel pool
	rabbitConfig := newRabbitConfig(&cfg.RabbitMQ)
	manager := rabbitmq.NewManager(rabbitConfig, rabbitmq.DialAMQP, appLogger.Logger)
	if err := manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer manager.Close()

	appLogger.Info("RabbitMQ connection established",
		slog.Int("pool_size", cfg.RabbitMQ.PoolSize),
	)

	publisher := rabbitmq.NewPublisher(manager, rabbitConfig.Topology, rabbitConfig.PublishRetry, appLogger.Logger)

	// Initialize router
	r, jobHandler := initRouter(ctx, cfg, appLogger.Logger, publisher, manager)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for a signal, a server failure or an unrecoverable broker outage
	var runErr error
	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		runErr = err
	case err := <-manager.Fatal():
		appLogger.Error("RabbitMQ reconnect exhausted", slog.Any("error", err))
		runErr = err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return errors.Join(runErr, err)
	}

	if err := jobHandler.Wait(shutdownCtx); err != nil {
		appLogger.Warn("Background publishes still pending at shutdown",
			slog.Any("error", err),
		)
	}

	appLogger.Info("Server shutdown complete")
	return runErr
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
		PublishRetry:      cfg.Publish.RetryInterval,
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(ctx context.Context, cfg *config.Config, logger *slog.Logger, publisher handler.Publisher, broker handler.BrokerState) (*gin.Engine, *handler.JobHandler) {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:    logger,
		Publisher: publisher,
		Broker:    broker,
	}

	var opts router.Options
	if rl := cfg.Server.RateLimit; rl.Enabled {
		opts.RateLimiter = router.NewRateLimiter(ctx, rl.RequestsPerSecond, rl.Burst)
		logger.Info("Rate limiting enabled",
			slog.Float64("requests_per_second", rl.RequestsPerSecond),
			slog.Int("burst", rl.Burst),
		)
	}

	// Setup router
	return router.SetupRouter(handlerDeps, opts)
}
