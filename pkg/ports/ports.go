package ports

import (
	"context"
	"time"

	"github.com/icarrero/agentpool/pkg/domain"
)

// ExecCapability is the single capability a worker instance holds toward the
// downstream tool (SDK client, CLI subprocess, browser driver). No other
// knowledge of the downstream leaks into the core.
type ExecCapability interface {
	// Execute runs one job payload. The context carries the execution
	// deadline; implementations must abort on cancellation.
	Execute(ctx context.Context, input string) (string, error)

	// Probe is a cheap liveness check used by the health monitor.
	Probe(ctx context.Context) error

	// Dispose releases the capability. Best-effort; errors are logged by the
	// pool, never propagated.
	Dispose(ctx context.Context) error
}

// CapabilityFactory materializes one capability per worker instance.
type CapabilityFactory interface {
	New(ctx context.Context, instanceID string) (ExecCapability, error)
}

// EventType identifies orchestrator events on the pool topic.
type EventType string

const (
	EventInstanceCreated      EventType = "instance-created"
	EventInstanceRecycled     EventType = "instance-recycled"
	EventJobQueued            EventType = "job-queued"
	EventJobCompleted         EventType = "job-completed"
	EventJobFailed            EventType = "job-failed"
	EventHealthCheckCompleted EventType = "health-check-completed"
)

// Event is the wire shape published to the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Subject   string                 `json:"subject"` // instance or job id
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventHandler processes a single event.
type EventHandler func(ctx context.Context, event Event) error

// EventBus delivers orchestrator events at-least-once, in emission order per
// publisher.
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// ResultStore persists terminal job results and instance session history.
// The core only writes through it; retention is the adapter's concern.
type ResultStore interface {
	SaveResult(ctx context.Context, result *domain.JobResult) error
	GetResult(ctx context.Context, jobID string) (*domain.JobResult, error)
	SaveSession(ctx context.Context, instanceID string, history []domain.Message) error
	LoadSession(ctx context.Context, instanceID string) ([]domain.Message, error)
	DeleteSession(ctx context.Context, instanceID string) error
}

// RateLimiter enforces a sliding-window request quota per caller.
type RateLimiter interface {
	// Allow records one request for callerID and reports whether it fits the
	// window. Rejected requests are not recorded.
	Allow(ctx context.Context, callerID string) (bool, error)
}

// MetricsCollector is the write-side metrics interface. Implementations must
// never block job processing.
type MetricsCollector interface {
	RecordJobSubmitted(callerID string)
	RecordJobCompleted(status string, duration time.Duration)
	RecordJobRetried()
	RecordQueueWait(duration time.Duration)
	RecordQueueDepth(depth int)
	RecordInstanceCreated()
	RecordInstanceRecycled(reason string)
	RecordPoolStatus(size, busy, healthy int)
	RecordCapabilityCall(model string, duration time.Duration, err bool)
}
