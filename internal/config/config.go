package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Backend names accepted for the broker and the result store.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for the canvas daemon
type Config struct {
	// Server configuration
	HTTPPort int    `env:"CANVAS_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"CANVAS_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Browser origins allowed by the HTTP API; empty allows any
	AllowedOrigins []string `env:"CANVAS_ALLOWED_ORIGINS" envSeparator:","`

	// Backends
	Broker        string `env:"CANVAS_BROKER" envDefault:"memory"`
	ResultBackend string `env:"CANVAS_RESULT_BACKEND" envDefault:"memory"`

	// Redis configuration
	Redis RedisConfig

	// SQLite result store
	SQLite SQLiteConfig

	// LLM configuration
	LLM LLMConfig

	// Math API used by the http.* tasks
	MathAPI MathAPIConfig

	// Worker configuration
	Workers WorkerConfig

	// Client configuration
	Client ClientConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Streams broker settings
	ConsumerGroup     string        `env:"REDIS_CONSUMER_GROUP" envDefault:"canvas-workers"`
	VisibilityTimeout time.Duration `env:"REDIS_VISIBILITY_TIMEOUT" envDefault:"15m"`

	// ResultTTL expires finished records; zero keeps them.
	ResultTTL time.Duration `env:"REDIS_RESULT_TTL" envDefault:"24h"`
}

// SQLiteConfig holds the durable result store location
type SQLiteConfig struct {
	Path string `env:"CANVAS_SQLITE_PATH" envDefault:"canvas.db"`
}

// LLMConfig holds LLM provider configuration. Without an API key the
// llm.complete task is not registered.
type LLMConfig struct {
	Provider  string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey    string `env:"LLM_API_KEY"`
	Model     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-sonnet-4-5"`
	MaxTokens int64  `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"1024"`
}

// MathAPIConfig locates the arithmetic service. An empty URL disables the
// http.* tasks.
type MathAPIConfig struct {
	URL     string        `env:"CANVAS_MATHAPI_URL"`
	Port    int           `env:"CANVAS_MATHAPI_PORT" envDefault:"8000"`
	Latency time.Duration `env:"CANVAS_MATHAPI_LATENCY" envDefault:"1s"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	Queues              []string      `env:"WORKER_QUEUES" envDefault:"canvas" envSeparator:","`
	RetryDelay          time.Duration `env:"WORKER_RETRY_DELAY" envDefault:"1s"`
	MaxRetryDelay       time.Duration `env:"WORKER_MAX_RETRY_DELAY" envDefault:"5m"`
	StepDelay           time.Duration `env:"WORKER_STEP_DELAY" envDefault:"50ms"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
	StallAfter          time.Duration `env:"WORKER_STALL_AFTER" envDefault:"5m"`
}

// ClientConfig holds the waiting behaviour of handles
type ClientConfig struct {
	PollInterval time.Duration `env:"CANVAS_POLL_INTERVAL" envDefault:"1s"`
	Timeout      time.Duration `env:"CANVAS_CLIENT_TIMEOUT" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads configuration from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.MathAPI.Port < 1 || c.MathAPI.Port > 65535 {
		return fmt.Errorf("invalid math API port: %d", c.MathAPI.Port)
	}

	// Validate backends
	switch c.Broker {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported broker: %s (must be memory or redis)", c.Broker)
	}
	switch c.ResultBackend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported result backend: %s (must be memory, redis or sqlite)", c.ResultBackend)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Broker == BackendMemory && c.ResultBackend != BackendMemory && c.ResultBackend != BackendSQLite {
		return fmt.Errorf("the memory broker only runs in-process; pair it with a memory or sqlite result backend")
	}

	// Validate LLM config
	if c.LLM.APIKey != "" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if len(c.Workers.Queues) == 0 {
		return fmt.Errorf("at least one worker queue is required")
	}
	if c.Workers.RetryDelay <= 0 || c.Workers.MaxRetryDelay < c.Workers.RetryDelay {
		return fmt.Errorf("retry delay must be positive and not exceed the maximum retry delay")
	}

	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend talks to Redis
func (c *Config) UsesRedis() bool {
	return c.Broker == BackendRedis || c.ResultBackend == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// GetMathAPIAddr returns the math API listen address
func (c *Config) GetMathAPIAddr() string {
	return fmt.Sprintf(":%d", c.MathAPI.Port)
}
