package balancer

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/icarrero/agentpool/internal/application/pool"
	"github.com/icarrero/agentpool/pkg/domain"
	"github.com/icarrero/agentpool/pkg/ports"
)

type stubCapability struct{}

func (stubCapability) Execute(ctx context.Context, input string) (string, error) { return input, nil }
func (stubCapability) Probe(ctx context.Context) error                           { return nil }
func (stubCapability) Dispose(ctx context.Context) error                         { return nil }

type stubFactory struct{}

func (stubFactory) New(ctx context.Context, instanceID string) (ports.ExecCapability, error) {
	return stubCapability{}, nil
}

type nopBus struct{}

func (nopBus) Publish(ctx context.Context, topic string, event ports.Event) error { return nil }
func (nopBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	return nil
}
func (nopBus) Close() error { return nil }

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

func newTestPool(t *testing.T, bal *Balancer, size int) *pool.Manager {
	t.Helper()
	m := pool.NewManager(
		pool.Config{
			MinInstances:           size,
			MaxInstances:           size,
			MaxMessagesPerInstance: 1000,
			AcquireTimeout:         time.Second,
		},
		stubFactory{},
		bal,
		nopBus{},
		nopMetrics{},
		zap.NewNop(),
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestParseStrategy(t *testing.T) {
	for _, valid := range []string{"round-robin", "least-connections", "weighted-random", "response-time"} {
		if _, err := ParseStrategy(valid); err != nil {
			t.Errorf("ParseStrategy(%q) = %v, want nil", valid, err)
		}
	}
	if _, err := ParseStrategy("random-walk"); err == nil {
		t.Error("ParseStrategy accepted an unknown strategy")
	}
}

func TestRoundRobinVisitsEveryInstance(t *testing.T) {
	bal := New(RoundRobin, zap.NewNop())
	m := newTestPool(t, bal, 3)
	ctx := context.Background()

	// Two full cycles of sequential acquire/release must land on every
	// instance exactly twice.
	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		inst, err := m.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		seen[inst.ID()]++
		if err := m.Release(ctx, inst.ID(), time.Millisecond); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}

	if len(seen) != 3 {
		t.Fatalf("round-robin touched %d instances, want 3", len(seen))
	}
	for id, count := range seen {
		if count != 2 {
			t.Errorf("instance %s selected %d times, want 2", id, count)
		}
	}
}

func TestResponseTimePrefersFasterInstance(t *testing.T) {
	bal := New(ResponseTime, zap.NewNop())
	m := newTestPool(t, bal, 2)
	ctx := context.Background()

	slow, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	fast, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := m.Release(ctx, slow.ID(), 500*time.Millisecond); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := m.Release(ctx, fast.ID(), 5*time.Millisecond); err != nil {
		t.Fatalf("release: %v", err)
	}

	for i := 0; i < 3; i++ {
		inst, err := m.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if inst.ID() != fast.ID() {
			t.Fatalf("selected %s, want the faster instance %s", inst.ID(), fast.ID())
		}
		if err := m.Release(ctx, inst.ID(), 5*time.Millisecond); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
}

func TestLeastConnectionsAmongIdleIsStable(t *testing.T) {
	bal := New(LeastConnections, zap.NewNop())
	m := newTestPool(t, bal, 2)
	ctx := context.Background()

	// With single-job instances every idle candidate has zero load, so
	// selection must consistently keep the first eligible instance rather
	// than drifting.
	first, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(ctx, first.ID(), 0); err != nil {
		t.Fatalf("release: %v", err)
	}

	for i := 0; i < 3; i++ {
		inst, err := m.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if inst.ID() != first.ID() {
			t.Fatalf("selected %s, want %s", inst.ID(), first.ID())
		}
		if err := m.Release(ctx, inst.ID(), 0); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
}

func TestWeightedRandomAlwaysSelectsEligible(t *testing.T) {
	bal := New(WeightedRandom, zap.NewNop())
	m := newTestPool(t, bal, 3)
	ctx := context.Background()

	valid := map[string]bool{}
	infos, _ := m.Snapshot()
	for _, info := range infos {
		valid[info.ID] = true
	}

	for i := 0; i < 30; i++ {
		inst, err := m.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if !valid[inst.ID()] {
			t.Fatalf("selected unknown instance %s", inst.ID())
		}
		if err := m.Release(ctx, inst.ID(), 0); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
}

func TestFallbackPicksLeastLoaded(t *testing.T) {
	bal := New(RoundRobin, zap.NewNop())

	if _, ok := bal.Fallback(nil); ok {
		t.Fatal("Fallback fabricated an instance from an empty set")
	}

	infos := []domain.InstanceInfo{
		{ID: "a", CurrentLoad: 2},
		{ID: "b", CurrentLoad: 0},
		{ID: "c", CurrentLoad: 1},
	}
	id, ok := bal.Fallback(infos)
	if !ok || id != "b" {
		t.Fatalf("Fallback = %q, %v; want \"b\", true", id, ok)
	}
}
