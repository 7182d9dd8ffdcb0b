package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
				assert.True(t, cfg.Database.Enabled)
				assert.Equal(t, "jobs_db", cfg.Database.Database)
				assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.False(t, cfg.RabbitMQ.Queue.Durable)
				assert.Equal(t, "jobs.send", cfg.RabbitMQ.RoutingKey)
				assert.Equal(t, 3, cfg.RabbitMQ.PoolSize)
				assert.Equal(t, 5, cfg.RabbitMQ.Connection.RetryAttempts)
				assert.Equal(t, 200*time.Millisecond, cfg.RabbitMQ.Publish.RetryInterval)
				assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
				assert.Equal(t, time.Duration(0), cfg.Worker.SimulatedWork)
				assert.Equal(t, "job-api-service", cfg.App.Name)

				// Fields missing from the file keep their defaults
				assert.Equal(t, 30*time.Second, cfg.Worker.ShutdownTimeout)
				assert.Equal(t, 20, cfg.RabbitMQ.Readiness.RetryAttempts)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.RabbitMQ.Host)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, 15672, cfg.RabbitMQ.ManagementPort)
	assert.Equal(t, "jobs-exchange", cfg.RabbitMQ.Exchange.Name)
	assert.Equal(t, "direct", cfg.RabbitMQ.Exchange.Type)
	assert.True(t, cfg.RabbitMQ.Exchange.Durable)
	assert.Equal(t, "send-whatsapp-queue", cfg.RabbitMQ.Queue.Name)
	assert.True(t, cfg.RabbitMQ.Queue.Durable)
	assert.Equal(t, "send.whatsapp", cfg.RabbitMQ.RoutingKey)
	assert.Equal(t, 5, cfg.RabbitMQ.PoolSize)
	assert.Equal(t, 10, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, 10, cfg.RabbitMQ.Connection.RetryAttempts)
	assert.Equal(t, 3*time.Second, cfg.RabbitMQ.Connection.RetryInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.RabbitMQ.Publish.RetryInterval)
	assert.Equal(t, 20, cfg.RabbitMQ.Readiness.RetryAttempts)
	assert.Equal(t, 3*time.Second, cfg.RabbitMQ.Readiness.RetryInterval)
	assert.Equal(t, "/api/overview", cfg.RabbitMQ.Readiness.Path)
	assert.Equal(t, 10*time.Millisecond, cfg.Worker.SimulatedWork)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Server.RateLimit.Enabled)

	assert.NoError(t, cfg.ValidateAPIConfig())
	assert.NoError(t, cfg.ValidateWorkerConfig())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("RABBITMQ_HOST", "rabbitmq")
	t.Setenv("RABBITMQ_PORT", "5673")
	t.Setenv("RABBITMQ_PORT_API_OVERVIEW", "15673")
	t.Setenv("RABBITMQ_USER", "bridge")
	t.Setenv("RABBITMQ_PASS", "secret")
	t.Setenv("RABBITMQ_VHOST", "jobs")
	t.Setenv("EXCHANGE", "env-exchange")
	t.Setenv("ROUTING_KEY", "env.key")
	t.Setenv("CONSUMER_QUEUE", "env-queue")
	t.Setenv("MAX_CHANNELS", "8")
	t.Setenv("PREFETCH", "25")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DATABASE_ENABLED", "true")

	// environment wins over the file
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "rabbitmq", cfg.RabbitMQ.Host)
	assert.Equal(t, 5673, cfg.RabbitMQ.Port)
	assert.Equal(t, 15673, cfg.RabbitMQ.ManagementPort)
	assert.Equal(t, "bridge", cfg.RabbitMQ.User)
	assert.Equal(t, "secret", cfg.RabbitMQ.Password)
	assert.Equal(t, "jobs", cfg.RabbitMQ.VHost)
	assert.Equal(t, "env-exchange", cfg.RabbitMQ.Exchange.Name)
	assert.Equal(t, "env.key", cfg.RabbitMQ.RoutingKey)
	assert.Equal(t, "env-queue", cfg.RabbitMQ.Queue.Name)
	assert.Equal(t, 8, cfg.RabbitMQ.PoolSize)
	assert.Equal(t, 25, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Database.Enabled)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "non-numeric port", key: "PORT", value: "http"},
		{name: "non-numeric pool size", key: "MAX_CHANNELS", value: "five"},
		{name: "non-boolean database flag", key: "DATABASE_ENABLED", value: "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
			assert.Nil(t, cfg)
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Host:           "localhost",
			Port:           5672,
			ManagementPort: 15672,
			Exchange: ExchangeConfig{
				Name: "jobs_exchange",
				Type: "direct",
			},
			Queue: QueueConfig{
				Name: "jobs_queue",
			},
			PoolSize: 5,
			Connection: ConnectionConfig{
				RetryAttempts: 10,
				RetryInterval: 3 * time.Second,
			},
			Publish: PublishConfig{
				RetryInterval: 100 * time.Millisecond,
			},
			Consumer: ConsumerConfig{
				PrefetchCount: 10,
			},
			Readiness: ReadinessConfig{
				RetryAttempts: 20,
			},
		},
		Worker: WorkerConfig{
			JobTimeout:      30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "empty rabbitmq host",
			modify:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "invalid rabbitmq port",
			modify:    func(c *Config) { c.RabbitMQ.Port = 0 },
			wantErr:   true,
			errString: "invalid rabbitmq port",
		},
		{
			name:      "empty exchange name",
			modify:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "unsupported exchange type",
			modify:    func(c *Config) { c.RabbitMQ.Exchange.Type = "topic" },
			wantErr:   true,
			errString: "unsupported rabbitmq exchange type",
		},
		{
			name:      "empty queue name",
			modify:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "zero pool size",
			modify:    func(c *Config) { c.RabbitMQ.PoolSize = 0 },
			wantErr:   true,
			errString: "pool_size must be greater than 0",
		},
		{
			name:      "zero connection retries",
			modify:    func(c *Config) { c.RabbitMQ.Connection.RetryAttempts = 0 },
			wantErr:   true,
			errString: "retry_attempts must be greater than 0",
		},
		{
			name:    "database disabled skips database checks",
			modify:  func(c *Config) { c.Database = DatabaseConfig{Enabled: false} },
			wantErr: false,
		},
		{
			name: "database enabled without name",
			modify: func(c *Config) {
				c.Database = DatabaseConfig{Enabled: true, Host: "localhost", Port: 5432}
			},
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name: "database enabled without host",
			modify: func(c *Config) {
				c.Database = DatabaseConfig{Enabled: true, Port: 5432, Database: "jobs_db"}
			},
			wantErr:   true,
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			modify:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			modify:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "zero publish retry interval",
			modify:    func(c *Config) { c.RabbitMQ.Publish.RetryInterval = 0 },
			wantErr:   true,
			errString: "publish retry_interval",
		},
		{
			name: "rate limit enabled without rate",
			modify: func(c *Config) {
				c.Server.RateLimit = RateLimitConfig{Enabled: true, Burst: 10}
			},
			wantErr:   true,
			errString: "requests_per_second",
		},
		{
			name: "rate limit enabled",
			modify: func(c *Config) {
				c.Server.RateLimit = RateLimitConfig{Enabled: true, RequestsPerSecond: 5, Burst: 10}
			},
			wantErr: false,
		},
		{
			name:      "shared checks apply",
			modify:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "zero prefetch",
			modify:    func(c *Config) { c.RabbitMQ.Consumer.PrefetchCount = 0 },
			wantErr:   true,
			errString: "prefetch_count must be greater than 0",
		},
		{
			name:      "invalid management port",
			modify:    func(c *Config) { c.RabbitMQ.ManagementPort = 70000 },
			wantErr:   true,
			errString: "invalid rabbitmq management port",
		},
		{
			name:      "zero readiness retries",
			modify:    func(c *Config) { c.RabbitMQ.Readiness.RetryAttempts = 0 },
			wantErr:   true,
			errString: "readiness retry_attempts",
		},
		{
			name:      "zero job timeout",
			modify:    func(c *Config) { c.Worker.JobTimeout = 0 },
			wantErr:   true,
			errString: "worker job_timeout must be greater than 0",
		},
		{
			name:      "negative simulated work",
			modify:    func(c *Config) { c.Worker.SimulatedWork = -time.Second },
			wantErr:   true,
			errString: "worker simulated_work must not be negative",
		},
		{
			name:      "zero shutdown timeout",
			modify:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "worker shutdown_timeout must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}
