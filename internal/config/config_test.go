package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := &Config{
		HTTPPort: 8080,
		GRPCPort: 9090,
		LogLevel: "info",
		Backend:  "memory",
	}
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = "test-key"
	cfg.Pool.MinInstances = 1
	cfg.Pool.MaxInstances = 2
	cfg.Pool.MaxMessagesPerInstance = 10
	cfg.Pool.Strategy = "round-robin"
	cfg.Dispatch.Concurrency = 2
	cfg.Dispatch.MaxAttempts = 3
	cfg.RateLimit.MaxRequests = 10
	cfg.RateLimit.Window = time.Minute
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.GRPCPort != 9090 {
		t.Errorf("GRPCPort = %d, want 9090", cfg.GRPCPort)
	}
	if cfg.Backend != "redis" {
		t.Errorf("Backend = %s, want redis", cfg.Backend)
	}
	if cfg.Pool.MinInstances != 2 || cfg.Pool.MaxInstances != 5 {
		t.Errorf("pool bounds = %d/%d, want 2/5", cfg.Pool.MinInstances, cfg.Pool.MaxInstances)
	}
	if cfg.Pool.Strategy != "round-robin" {
		t.Errorf("Strategy = %s, want round-robin", cfg.Pool.Strategy)
	}
	if cfg.Dispatch.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", cfg.Dispatch.Concurrency)
	}
	if cfg.RateLimit.MaxRequests != 60 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("rate limit = %d per %v, want 60 per 1m", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}
	if cfg.LLM.HistoryLimit != 10 {
		t.Errorf("HistoryLimit = %d, want 10", cfg.LLM.HistoryLimit)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("AGENTPOOL_BACKEND", "memory")
	t.Setenv("POOL_MIN_INSTANCES", "3")
	t.Setenv("POOL_MAX_INSTANCES", "8")
	t.Setenv("POOL_STRATEGY", "least-connections")
	t.Setenv("DISPATCH_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "memory" {
		t.Errorf("Backend = %s, want memory", cfg.Backend)
	}
	if cfg.Pool.MinInstances != 3 || cfg.Pool.MaxInstances != 8 {
		t.Errorf("pool bounds = %d/%d, want 3/8", cfg.Pool.MinInstances, cfg.Pool.MaxInstances)
	}
	if cfg.Pool.Strategy != "least-connections" {
		t.Errorf("Strategy = %s, want least-connections", cfg.Pool.Strategy)
	}
	if cfg.Dispatch.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Dispatch.MaxAttempts)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without an API key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad http port", func(c *Config) { c.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad backend", func(c *Config) { c.Backend = "etcd" }, "unsupported backend"},
		{"redis without addr", func(c *Config) { c.Backend = "redis"; c.Redis.Addr = "" }, "redis address"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "openai" }, "unsupported LLM provider"},
		{"min below one", func(c *Config) { c.Pool.MinInstances = 0 }, "minimum"},
		{"max below min", func(c *Config) { c.Pool.MaxInstances = 0 }, "below minimum"},
		{"bad strategy", func(c *Config) { c.Pool.Strategy = "coin-flip" }, "unknown pool strategy"},
		{"bad concurrency", func(c *Config) { c.Dispatch.Concurrency = 0 }, "concurrency"},
		{"bad window", func(c *Config) { c.RateLimit.Window = 0 }, "window"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestAddrs(t *testing.T) {
	cfg := validConfig()
	if got := cfg.GetHTTPAddr(); got != ":8080" {
		t.Errorf("GetHTTPAddr = %s, want :8080", got)
	}
	if got := cfg.GetGRPCAddr(); got != ":9090" {
		t.Errorf("GetGRPCAddr = %s, want :9090", got)
	}
}
