package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/icarrero/agentpool/pkg/domain"
	"github.com/icarrero/agentpool/pkg/ports"
)

// Config holds the Anthropic capability configuration.
type Config struct {
	APIKey       string
	Model        string
	MaxTokens    int
	HistoryLimit int
	Store        ports.ResultStore
	Metrics      ports.MetricsCollector
	Logger       *zap.Logger
}

// Factory materializes one Capability per worker instance, all sharing a
// single SDK client.
type Factory struct {
	client       sdk.Client
	model        string
	maxTokens    int64
	historyLimit int
	store        ports.ResultStore
	metrics      ports.MetricsCollector
	logger       *zap.Logger
}

// NewFactory creates an Anthropic capability factory.
func NewFactory(cfg Config) *Factory {
	return &Factory{
		client:       sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:        cfg.Model,
		maxTokens:    int64(cfg.MaxTokens),
		historyLimit: cfg.HistoryLimit,
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// New implements ports.CapabilityFactory. Every instance starts with a clean
// conversation; continuity only exists within one instance's lifetime.
func (f *Factory) New(ctx context.Context, instanceID string) (ports.ExecCapability, error) {
	return &Capability{
		factory:    f,
		instanceID: instanceID,
	}, nil
}

// Capability is one worker instance's execution capability. The conversation
// history is owned exclusively by this capability and carried across jobs on
// the same instance, never shared.
type Capability struct {
	factory    *Factory
	instanceID string

	mu      sync.Mutex
	history []domain.Message
}

// Execute sends the input as the next conversation turn. Only the most
// recent HistoryLimit messages are sent as context; the full history stays
// local until Dispose persists it.
func (c *Capability) Execute(ctx context.Context, input string) (string, error) {
	c.mu.Lock()
	c.history = append(c.history, domain.Message{Role: "user", Content: input})
	window := c.window()
	c.mu.Unlock()

	messages := make([]sdk.MessageParam, 0, len(window))
	for _, msg := range window {
		block := sdk.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			messages = append(messages, sdk.NewAssistantMessage(block))
		} else {
			messages = append(messages, sdk.NewUserMessage(block))
		}
	}

	start := time.Now()
	resp, err := c.factory.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.factory.model),
		MaxTokens: c.factory.maxTokens,
		Messages:  messages,
	})
	c.factory.metrics.RecordCapabilityCall(c.factory.model, time.Since(start), err != nil)

	if err != nil {
		// The failed turn is dropped so a retry on another instance does not
		// inherit a dangling user message here.
		c.mu.Lock()
		if n := len(c.history); n > 0 {
			c.history = c.history[:n-1]
		}
		c.mu.Unlock()
		return "", classify(err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	text := out.String()

	c.mu.Lock()
	c.history = append(c.history, domain.Message{Role: "assistant", Content: text})
	c.mu.Unlock()

	return text, nil
}

// Probe is a minimal one-token call verifying the downstream accepts
// requests for this model. It never touches the conversation history.
func (c *Capability) Probe(ctx context.Context) error {
	_, err := c.factory.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.factory.model),
		MaxTokens: 1,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	return nil
}

// Dispose persists the conversation history through the store, best-effort.
func (c *Capability) Dispose(ctx context.Context) error {
	c.mu.Lock()
	history := make([]domain.Message, len(c.history))
	copy(history, c.history)
	c.history = nil
	c.mu.Unlock()

	if len(history) == 0 {
		return nil
	}
	if err := c.factory.store.SaveSession(ctx, c.instanceID, history); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// ClearSession resets the conversation and removes any persisted history.
func (c *Capability) ClearSession(ctx context.Context) error {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
	return c.factory.store.DeleteSession(ctx, c.instanceID)
}

// window returns the most recent HistoryLimit messages, the context sent
// with each request.
func (c *Capability) window() []domain.Message {
	limit := c.factory.historyLimit
	if limit <= 0 || len(c.history) <= limit {
		return c.history
	}
	return c.history[len(c.history)-limit:]
}

// classify maps SDK errors onto the dispatcher's retry taxonomy: client-side
// request errors are terminal, everything else (rate limits, 5xx, transport)
// stays retryable.
func classify(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 400, 401, 403, 404, 413, 422:
			return domain.NewTerminalError(err)
		}
	}
	return domain.NewExecutionError(err)
}
