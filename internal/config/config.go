package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the agentpool orchestrator
type Config struct {
	// Server configuration
	HTTPPort int    `env:"AGENTPOOL_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"AGENTPOOL_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Backend selects the adapter set: "redis" or "memory"
	Backend string `env:"AGENTPOOL_BACKEND" envDefault:"redis"`

	// Redis configuration
	Redis RedisConfig

	// LLM configuration
	LLM LLMConfig

	// Pool configuration
	Pool PoolConfig

	// Dispatcher configuration
	Dispatch DispatchConfig

	// Rate limiting
	RateLimit RateLimitConfig

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
}

// LLMConfig holds LLM provider configuration for the worker capability
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`

	Model       string        `env:"LLM_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	MaxTokens   int           `env:"LLM_MAX_TOKENS" envDefault:"4096"`
	CallTimeout time.Duration `env:"LLM_CALL_TIMEOUT" envDefault:"120s"`

	// HistoryLimit bounds the conversation context carried per instance
	HistoryLimit int `env:"LLM_HISTORY_LIMIT" envDefault:"10"`
}

// PoolConfig bounds the worker instance pool and its recycling policy
type PoolConfig struct {
	MinInstances           int           `env:"POOL_MIN_INSTANCES" envDefault:"2"`
	MaxInstances           int           `env:"POOL_MAX_INSTANCES" envDefault:"5"`
	MaxMessagesPerInstance int           `env:"POOL_MAX_MESSAGES_PER_INSTANCE" envDefault:"50"`
	MaxInstanceAge         time.Duration `env:"POOL_MAX_INSTANCE_AGE" envDefault:"1h"`
	StaleTimeout           time.Duration `env:"POOL_STALE_TIMEOUT" envDefault:"10m"`
	HealthCheckInterval    time.Duration `env:"POOL_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
	AcquireTimeout         time.Duration `env:"POOL_ACQUIRE_TIMEOUT" envDefault:"30s"`

	// Strategy selects the load balancer: round-robin, least-connections,
	// weighted-random or response-time
	Strategy string `env:"POOL_STRATEGY" envDefault:"round-robin"`
}

// DispatchConfig configures the job queue
type DispatchConfig struct {
	Concurrency int           `env:"DISPATCH_CONCURRENCY" envDefault:"3"`
	MaxAttempts int           `env:"DISPATCH_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"DISPATCH_BASE_DELAY" envDefault:"1s"`
	ExecTimeout time.Duration `env:"DISPATCH_EXEC_TIMEOUT" envDefault:"180s"`
}

// RateLimitConfig configures the per-caller sliding window
type RateLimitConfig struct {
	MaxRequests int           `env:"RATELIMIT_MAX_REQUESTS" envDefault:"60"`
	Window      time.Duration `env:"RATELIMIT_WINDOW" envDefault:"1m"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
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

	switch c.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported backend: %s (must be redis or memory)", c.Backend)
	}

	// Validate LLM config
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}
	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
	}
	if c.LLM.HistoryLimit < 0 {
		return fmt.Errorf("LLM history limit must not be negative")
	}

	// Validate pool config
	if c.Pool.MinInstances < 1 {
		return fmt.Errorf("pool minimum must be at least 1")
	}
	if c.Pool.MaxInstances < c.Pool.MinInstances {
		return fmt.Errorf("pool maximum %d below minimum %d", c.Pool.MaxInstances, c.Pool.MinInstances)
	}
	if c.Pool.MaxMessagesPerInstance < 1 {
		return fmt.Errorf("max messages per instance must be at least 1")
	}
	switch c.Pool.Strategy {
	case "round-robin", "least-connections", "weighted-random", "response-time":
	default:
		return fmt.Errorf("unknown pool strategy: %s", c.Pool.Strategy)
	}

	// Validate dispatcher config
	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("dispatch concurrency must be at least 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch max attempts must be at least 1")
	}

	// Validate rate limit config
	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate limit max requests must be at least 1")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
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

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
