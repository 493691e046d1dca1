package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/icarrero/agentpool/pkg/domain"
	"github.com/icarrero/agentpool/pkg/ports"
)

const probeTimeout = 10 * time.Second

// StatsSource supplies the composed pool statistics the monitor attaches to
// health-check-completed events.
type StatsSource interface {
	Snapshot() domain.PoolStats
}

// HealthMonitor probes idle instances on a fixed interval, independent of
// job traffic. Stale instances are recycled, probe failures mark instances
// unhealthy, and the pool is replenished below its minimum.
type HealthMonitor struct {
	pool     *Manager
	interval time.Duration
	events   ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	mu      sync.RWMutex
	stats   StatsSource
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHealthMonitor creates a health monitor for the given pool.
func NewHealthMonitor(pool *Manager, interval time.Duration, events ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetStatsSource wires the composed stats view used in health-check events.
// Without one the monitor falls back to pool-only counts.
func (h *HealthMonitor) SetStatsSource(s StatsSource) {
	h.mu.Lock()
	h.stats = s
	h.mu.Unlock()
}

// Start starts the health monitor loop.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop stops the health monitor and waits for an in-flight pass to finish.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
	<-h.doneCh
}

func (h *HealthMonitor) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkOnce(context.Background())
		}
	}
}

// checkOnce runs a single health pass over the instance set.
func (h *HealthMonitor) checkOnce(ctx context.Context) {
	infos, _ := h.pool.Snapshot()
	now := time.Now()

	for _, info := range infos {
		if info.Busy {
			// Busy instances are left alone; the release-time recycle
			// predicate catches an unhealthy one.
			continue
		}

		if h.pool.cfg.StaleTimeout > 0 && now.Sub(info.LastUsedAt) > h.pool.cfg.StaleTimeout {
			// The snapshot is already stale itself: the instance may have
			// been acquired since. RecycleIfIdle re-checks under the pool
			// lock and leaves a now-busy instance alone.
			recycled, err := h.pool.RecycleIfIdle(ctx, info.ID, RecycleReasonStale)
			switch {
			case err != nil:
				h.logger.Warn("stale recycle failed",
					zap.String("instance_id", info.ID),
					zap.Error(err))
			case recycled:
				h.logger.Info("recycled stale instance",
					zap.String("instance_id", info.ID),
					zap.Duration("idle", now.Sub(info.LastUsedAt)))
			}
			continue
		}

		h.probe(ctx, info.ID)
	}

	// Replenish independent of recycling so a pool that started
	// under-provisioned also recovers.
	for h.pool.Size() < h.pool.cfg.MinInstances {
		if _, err := h.pool.CreateInstance(ctx); err != nil {
			h.logger.Error("failed to replenish pool during health check",
				zap.Error(err))
			break
		}
	}

	h.report(ctx)
}

// probe runs the capability liveness check for one idle instance. Probe
// failures are absorbed here: logged, marked, recycled, never surfaced.
func (h *HealthMonitor) probe(ctx context.Context, id string) {
	capability := h.pool.capabilityFor(id)
	if capability == nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := capability.Probe(probeCtx); err != nil {
		h.logger.Warn("instance failed health probe",
			zap.String("instance_id", id),
			zap.Error(err))
		h.pool.MarkUnhealthy(ctx, id)
	}
}

// report recomputes the pool statistics, records gauges and emits the
// health-check-completed event carrying the full snapshot.
func (h *HealthMonitor) report(ctx context.Context) {
	h.mu.RLock()
	source := h.stats
	h.mu.RUnlock()

	var stats domain.PoolStats
	if source != nil {
		stats = source.Snapshot()
	} else {
		stats = h.poolOnlyStats()
	}

	h.metrics.RecordPoolStatus(stats.PoolSize, stats.BusyCount, stats.HealthyCount)

	h.logger.Debug("health check completed",
		zap.Int("pool_size", stats.PoolSize),
		zap.Int("busy", stats.BusyCount),
		zap.Int("healthy", stats.HealthyCount))

	event := ports.Event{
		ID:        uuid.New().String(),
		Type:      ports.EventHealthCheckCompleted,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"stats": stats,
		},
	}
	if err := h.events.Publish(ctx, Topic, event); err != nil {
		h.logger.Error("failed to publish health event", zap.Error(err))
	}
}

// poolOnlyStats derives stats from the instance set alone, for monitors
// running without a dispatcher-backed source.
func (h *HealthMonitor) poolOnlyStats() domain.PoolStats {
	infos, recycled := h.pool.Snapshot()

	var busy, healthy int
	for _, info := range infos {
		if info.Busy {
			busy++
		}
		if info.Health == domain.HealthHealthy {
			healthy++
		}
	}

	utilization := 0.0
	if len(infos) > 0 {
		utilization = float64(busy) / float64(len(infos))
	}

	return domain.PoolStats{
		PoolSize:      len(infos),
		BusyCount:     busy,
		HealthyCount:  healthy,
		Utilization:   utilization,
		RecycledCount: recycled,
		Instances:     infos,
		Timestamp:     time.Now(),
	}
}

// capabilityFor returns the live capability for an instance id, or nil if
// the instance is gone or currently busy.
func (m *Manager) capabilityFor(id string) ports.ExecCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.busy {
		return nil
	}
	return inst.capability
}
