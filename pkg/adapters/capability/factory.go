package capability

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/icarrero/agentpool/pkg/adapters/capability/anthropic"
	"github.com/icarrero/agentpool/pkg/ports"
)

// Config holds capability factory configuration
type Config struct {
	Provider     string
	APIKey       string
	Model        string
	MaxTokens    int
	HistoryLimit int
	Store        ports.ResultStore
	Metrics      ports.MetricsCollector
	Logger       *zap.Logger
}

// NewFactory creates a capability factory based on provider
func NewFactory(cfg *Config) (ports.CapabilityFactory, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewFactory(anthropic.Config{
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			HistoryLimit: cfg.HistoryLimit,
			Store:        cfg.Store,
			Metrics:      cfg.Metrics,
			Logger:       cfg.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported capability provider: %s", cfg.Provider)
	}
}
