package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/icarrero/agentpool/internal/application/balancer"
	"github.com/icarrero/agentpool/internal/application/dispatch"
	"github.com/icarrero/agentpool/internal/application/pool"
	"github.com/icarrero/agentpool/internal/application/stats"
	memoryevents "github.com/icarrero/agentpool/pkg/adapters/events/memory"
	memorylimit "github.com/icarrero/agentpool/pkg/adapters/ratelimit/memory"
	memorystorage "github.com/icarrero/agentpool/pkg/adapters/storage/memory"
	"github.com/icarrero/agentpool/pkg/domain"
	"github.com/icarrero/agentpool/pkg/ports"
)

type echoCapability struct{}

func (echoCapability) Execute(ctx context.Context, input string) (string, error) {
	return "echo: " + input, nil
}
func (echoCapability) Probe(ctx context.Context) error   { return nil }
func (echoCapability) Dispose(ctx context.Context) error { return nil }

type echoFactory struct{}

func (echoFactory) New(ctx context.Context, instanceID string) (ports.ExecCapability, error) {
	return echoCapability{}, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordJobSubmitted(string)                        {}
func (nopMetrics) RecordJobCompleted(string, time.Duration)         {}
func (nopMetrics) RecordJobRetried()                                {}
func (nopMetrics) RecordQueueWait(time.Duration)                    {}
func (nopMetrics) RecordQueueDepth(int)                             {}
func (nopMetrics) RecordInstanceCreated()                           {}
func (nopMetrics) RecordInstanceRecycled(string)                    {}
func (nopMetrics) RecordPoolStatus(int, int, int)                   {}
func (nopMetrics) RecordCapabilityCall(string, time.Duration, bool) {}

func newTestOrchestrator(t *testing.T) *Manager {
	t.Helper()
	logger := zap.NewNop()

	events := memoryevents.NewEventBus()
	results := memorystorage.NewResultStore()
	limiter := memorylimit.NewLimiter(100, time.Minute)
	metrics := nopMetrics{}
	bal := balancer.New(balancer.RoundRobin, logger)

	poolMgr := pool.NewManager(
		pool.Config{
			MinInstances:           2,
			MaxInstances:           3,
			MaxMessagesPerInstance: 100,
			AcquireTimeout:         2 * time.Second,
		},
		echoFactory{}, bal, events, metrics, logger,
	)
	monitor := pool.NewHealthMonitor(poolMgr, time.Hour, events, metrics, logger)
	dispatcher := dispatch.NewDispatcher(
		dispatch.Config{
			Concurrency: 2,
			MaxAttempts: 3,
			BaseDelay:   5 * time.Millisecond,
			ExecTimeout: time.Second,
		},
		poolMgr, bal, limiter, results, events, metrics, logger,
	)
	aggregator := stats.NewAggregator(poolMgr, dispatcher)

	return NewManager(poolMgr, dispatcher, monitor, aggregator, NewValidator(), logger)
}

func TestLifecycle(t *testing.T) {
	m := newTestOrchestrator(t)
	ctx := context.Background()

	snapshot, err := m.Initialize(ctx)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if snapshot.PoolSize != 2 {
		t.Fatalf("initial pool size = %d, want 2", snapshot.PoolSize)
	}
	if !m.Healthy() {
		t.Fatal("orchestrator unhealthy immediately after init")
	}

	receipt, err := m.Submit(ctx, "hello", "caller", dispatch.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	result, err := m.AwaitResult(ctx, receipt.JobID)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if result.Status != domain.JobStatusCompleted || result.Output != "echo: hello" {
		t.Fatalf("result = %+v, want completed echo", result)
	}

	current := m.Stats()
	if current.SuccessCount != 1 {
		t.Fatalf("success count = %d, want 1", current.SuccessCount)
	}

	victim := current.Instances[0].ID
	if err := m.Recycle(ctx, victim); err != nil {
		t.Fatalf("Recycle: %v", err)
	}
	current = m.Stats()
	if current.PoolSize != 2 {
		t.Fatalf("pool size = %d after recycle, want 2", current.PoolSize)
	}
	for _, info := range current.Instances {
		if info.ID == victim {
			t.Fatalf("recycled instance %s still present", victim)
		}
	}

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := m.Submit(ctx, "late", "caller", dispatch.SubmitOptions{}); !errors.Is(err, domain.ErrShuttingDown) {
		t.Fatalf("submit after shutdown err = %v, want ErrShuttingDown", err)
	}

	// Shutdown is idempotent.
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestSubmitBatch(t *testing.T) {
	m := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	results, err := m.SubmitBatch(ctx, []string{"a", "b", "c"}, "caller", SubmitBatchOptions{})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, result := range results {
		if result.Status != domain.JobStatusCompleted {
			t.Fatalf("result %d = %+v, want completed", i, result)
		}
	}

	if _, err := m.SubmitBatch(ctx, nil, "caller", SubmitBatchOptions{}); err == nil {
		t.Fatal("empty batch was accepted")
	}
}

func TestSubmitValidation(t *testing.T) {
	m := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	if _, err := m.Submit(ctx, "", "caller", dispatch.SubmitOptions{}); err == nil {
		t.Fatal("empty payload was accepted")
	}
	if _, err := m.Submit(ctx, "payload", "", dispatch.SubmitOptions{}); err == nil {
		t.Fatal("empty caller id was accepted")
	}
	if _, err := m.Submit(ctx, "payload", "caller", dispatch.SubmitOptions{MaxAttempts: -1}); err == nil {
		t.Fatal("negative max attempts was accepted")
	}
}
