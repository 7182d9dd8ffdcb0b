package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" default:"3001"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" default:"15s"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" default:"30s"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds the per-client request rate limit
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"50"`
	Burst             int     `yaml:"burst" default:"100"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host" default:"localhost"`
	Port            int           `yaml:"port" default:"5432"`
	User            string        `yaml:"user" default:"postgres"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database" default:"jobs_db"`
	SSLMode         string        `yaml:"sslmode" default:"disable"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" default:"5m"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host           string           `yaml:"host" default:"localhost"`
	Port           int              `yaml:"port" default:"5672"`
	ManagementPort int              `yaml:"management_port" default:"15672"`
	User           string           `yaml:"user" default:"guest"`
	Password       string           `yaml:"password" default:"guest"`
	VHost          string           `yaml:"vhost" default:"/"`
	Exchange       ExchangeConfig   `yaml:"exchange"`
	Queue          QueueConfig      `yaml:"queue"`
	RoutingKey     string           `yaml:"routing_key" default:"send.whatsapp"`
	PoolSize       int              `yaml:"pool_size" default:"5"`
	Connection     ConnectionConfig `yaml:"connection"`
	Publish        PublishConfig    `yaml:"publish"`
	Consumer       ConsumerConfig   `yaml:"consumer"`
	Readiness      ReadinessConfig  `yaml:"readiness"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name" default:"jobs-exchange"`
	Type    string `yaml:"type" default:"direct"`
	Durable bool   `yaml:"durable" default:"true"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name" default:"send-whatsapp-queue"`
	Durable bool   `yaml:"durable" default:"true"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts" default:"10"`
	RetryInterval     time.Duration `yaml:"retry_interval" default:"3s"`
	Heartbeat         time.Duration `yaml:"heartbeat" default:"10s"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" default:"30s"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval" default:"100ms"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int    `yaml:"prefetch_count" default:"10"`
	TagPrefix     string `yaml:"tag_prefix" default:"worker"`
}

// ReadinessConfig holds the management API readiness probe settings
type ReadinessConfig struct {
	Path          string        `yaml:"path" default:"/api/overview"`
	RetryAttempts int           `yaml:"retry_attempts" default:"20"`
	RetryInterval time.Duration `yaml:"retry_interval" default:"3s"`
	Timeout       time.Duration `yaml:"timeout" default:"5s"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" default:"info"`
	Format       string `yaml:"format" default:"text"`
	Output       string `yaml:"output" default:"stdout"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name" default:"job-bridge"`
	Version     string `yaml:"version" default:"1.0.0"`
	Environment string `yaml:"environment" default:"development"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	JobTimeout      time.Duration `yaml:"job_timeout" default:"30s"`
	SimulatedWork   time.Duration `yaml:"simulated_work" default:"10ms"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
}

// Load builds the configuration from defaults, the YAML file at configPath and
// environment variables, in increasing order of precedence. An empty configPath
// skips the file.
func Load(configPath string) (*Config, error) {
	var config Config
	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment variables: %w", err)
	}

	return &config, nil
}

// applyEnv overrides fields from the deployment environment variables.
func (c *Config) applyEnv() error {
	envString("RABBITMQ_HOST", &c.RabbitMQ.Host)
	envString("RABBITMQ_USER", &c.RabbitMQ.User)
	envString("RABBITMQ_PASS", &c.RabbitMQ.Password)
	envString("RABBITMQ_VHOST", &c.RabbitMQ.VHost)
	envString("EXCHANGE", &c.RabbitMQ.Exchange.Name)
	envString("ROUTING_KEY", &c.RabbitMQ.RoutingKey)
	envString("CONSUMER_QUEUE", &c.RabbitMQ.Queue.Name)
	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FORMAT", &c.Logging.Format)
	envString("DATABASE_HOST", &c.Database.Host)
	envString("DATABASE_USER", &c.Database.User)
	envString("DATABASE_PASSWORD", &c.Database.Password)
	envString("DATABASE_NAME", &c.Database.Database)

	return errors.Join(
		envInt("PORT", &c.Server.Port),
		envInt("RABBITMQ_PORT", &c.RabbitMQ.Port),
		envInt("RABBITMQ_PORT_API_OVERVIEW", &c.RabbitMQ.ManagementPort),
		envInt("MAX_CHANNELS", &c.RabbitMQ.PoolSize),
		envInt("PREFETCH", &c.RabbitMQ.Consumer.PrefetchCount),
		envInt("DATABASE_PORT", &c.Database.Port),
		envBool("DATABASE_ENABLED", &c.Database.Enabled),
	)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: must be an integer", key, v)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: must be a boolean", key, v)
	}
	*dst = b
	return nil
}

// Validate checks the settings shared by both services
func (c *Config) Validate() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Exchange.Type != "direct" {
		return fmt.Errorf("unsupported rabbitmq exchange type: %q (only direct is supported)", c.RabbitMQ.Exchange.Type)
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.RabbitMQ.PoolSize <= 0 {
		return fmt.Errorf("rabbitmq pool_size must be greater than 0")
	}

	if c.RabbitMQ.Connection.RetryAttempts <= 0 {
		return fmt.Errorf("rabbitmq connection retry_attempts must be greater than 0")
	}

	if c.RabbitMQ.Connection.RetryInterval < 0 {
		return fmt.Errorf("rabbitmq connection retry_interval must not be negative")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	return nil
}

// ValidateAPIConfig checks the settings of the API service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown_timeout must be greater than 0")
	}

	if c.RabbitMQ.Publish.RetryInterval <= 0 {
		return fmt.Errorf("rabbitmq publish retry_interval must be greater than 0")
	}

	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit requests_per_second must be greater than 0")
		}

		if c.Server.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit burst must be greater than 0")
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings of the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.RabbitMQ.ManagementPort < MinPort || c.RabbitMQ.ManagementPort > MaxPort {
		return fmt.Errorf("invalid rabbitmq management port: %d (must be between %d and %d)", c.RabbitMQ.ManagementPort, MinPort, MaxPort)
	}

	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		return fmt.Errorf("rabbitmq consumer prefetch_count must be greater than 0")
	}

	if c.RabbitMQ.Readiness.RetryAttempts <= 0 {
		return fmt.Errorf("rabbitmq readiness retry_attempts must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.SimulatedWork < 0 {
		return fmt.Errorf("worker simulated_work must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}
