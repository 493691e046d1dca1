package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/icarrero/agentpool/pkg/domain"
	"github.com/icarrero/agentpool/pkg/ports"
)

// Topic is the event bus topic all pool events are published on.
const Topic = "pool.events"

// Recycle reasons reported in events and metrics.
const (
	RecycleReasonMessages  = "max-messages"
	RecycleReasonAge       = "max-age"
	RecycleReasonStale     = "stale"
	RecycleReasonUnhealthy = "unhealthy"
	RecycleReasonForced    = "forced"
	RecycleReasonManual    = "manual"
	RecycleReasonShutdown  = "shutdown"
)

// Config bounds the pool and its recycling policy. Immutable after
// construction.
type Config struct {
	MinInstances           int
	MaxInstances           int
	MaxMessagesPerInstance int
	MaxInstanceAge         time.Duration
	StaleTimeout           time.Duration
	HealthCheckInterval    time.Duration
	AcquireTimeout         time.Duration

	// InstanceWeight supplies the static selection weight for a newly
	// created instance, consumed by the weighted-random strategy. Nil or
	// non-positive results mean weight 1.
	InstanceWeight func(id string) int
}

// Selector picks one instance from the eligible set. Pick is always invoked
// while the pool lock is held, so implementations may read instance stats
// without further synchronization but must not call back into the Manager.
type Selector interface {
	Pick(eligible []*Instance) *Instance
}

// waiter is a caller parked inside Acquire. The channel is buffered so a
// racing Release never blocks handing over an instance.
type waiter struct {
	ch chan *Instance
}

// Manager is the sole owner of the instance set and the waiter queue. All
// creation and destruction passes through it; one mutex serializes every
// mutation of busy flags, message counts and the waiter queue.
type Manager struct {
	cfg      Config
	factory  ports.CapabilityFactory
	events   ports.EventBus
	metrics  ports.MetricsCollector
	selector Selector
	logger   *zap.Logger

	mu           sync.Mutex
	instances    map[string]*Instance
	order        []string // creation order, for deterministic scans and tie-breaks
	waiters      []*waiter
	pending      int // slots reserved for in-flight provisioning
	recycled     int64
	shuttingDown bool
}

// NewManager creates a pool manager. The selector decides which eligible
// instance an Acquire receives; pass balancer.New(...) or any Selector.
func NewManager(
	cfg Config,
	factory ports.CapabilityFactory,
	selector Selector,
	events ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		cfg:       cfg,
		factory:   factory,
		events:    events,
		metrics:   metrics,
		selector:  selector,
		logger:    logger,
		instances: make(map[string]*Instance),
	}
}

// Start provisions the minimum instance set. A slot that fails to provision
// is logged and skipped rather than aborting the rest; the pool starts
// under-provisioned instead of not at all.
func (m *Manager) Start(ctx context.Context) error {
	created := 0
	for i := 0; i < m.cfg.MinInstances; i++ {
		if _, err := m.CreateInstance(ctx); err != nil {
			m.logger.Error("failed to provision initial instance",
				zap.Int("slot", i),
				zap.Error(err))
			continue
		}
		created++
	}

	if created < m.cfg.MinInstances {
		m.logger.Warn("pool started under-provisioned",
			zap.Int("created", created),
			zap.Int("minimum", m.cfg.MinInstances))
	} else {
		m.logger.Info("pool started",
			zap.Int("instances", created),
			zap.Int("max", m.cfg.MaxInstances))
	}

	return nil
}

// CreateInstance allocates an id, materializes a capability and adds the
// instance to the set. Returns domain.ErrCapacity when the pool is full and
// a domain.ErrProvisioning-wrapped error when the factory fails. The new
// instance is offered to the oldest waiter, if any.
func (m *Manager) CreateInstance(ctx context.Context) (*Instance, error) {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil, domain.ErrShuttingDown
	}
	if len(m.instances)+m.pending >= m.cfg.MaxInstances {
		m.mu.Unlock()
		return nil, domain.ErrCapacity
	}
	m.pending++
	m.mu.Unlock()

	id := uuid.New().String()

	// Provisioning can block on the downstream; never hold the lock here.
	capability, err := m.factory.New(ctx, id)

	m.mu.Lock()
	m.pending--
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", domain.ErrProvisioning, err)
	}
	if m.shuttingDown {
		m.mu.Unlock()
		m.disposeCapability(id, capability)
		return nil, domain.ErrShuttingDown
	}

	weight := 1
	if m.cfg.InstanceWeight != nil {
		if w := m.cfg.InstanceWeight(id); w > 0 {
			weight = w
		}
	}

	now := time.Now()
	inst := &Instance{
		id:         id,
		capability: capability,
		health:     domain.HealthHealthy,
		createdAt:  now,
		lastUsedAt: now,
		weight:     weight,
	}
	m.instances[id] = inst
	m.order = append(m.order, id)
	m.offerLocked()
	size := len(m.instances)
	m.mu.Unlock()

	m.metrics.RecordInstanceCreated()
	m.publish(ports.EventInstanceCreated, id, map[string]interface{}{
		"pool_size": size,
	})
	m.logger.Info("instance created",
		zap.String("instance_id", id),
		zap.Int("pool_size", size))

	return inst, nil
}

// Acquire returns an eligible instance marked busy, creating one if the pool
// has room. When nothing is free the caller parks as a FIFO waiter until a
// Release frees an instance or the deadline elapses, in which case it
// returns domain.ErrNoInstanceAvailable. The configured AcquireTimeout
// applies when ctx carries no deadline of its own.
func (m *Manager) Acquire(ctx context.Context) (*Instance, error) {
	if _, ok := ctx.Deadline(); !ok && m.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.AcquireTimeout)
		defer cancel()
	}

	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil, domain.ErrShuttingDown
	}
	if inst := m.takeEligibleLocked(); inst != nil {
		m.mu.Unlock()
		return inst, nil
	}
	canCreate := len(m.instances)+m.pending < m.cfg.MaxInstances
	m.mu.Unlock()

	if canCreate {
		inst, err := m.CreateInstance(ctx)
		switch {
		case err == nil:
			// The new instance may already have been handed to an older
			// waiter; take it only if it is still free.
			m.mu.Lock()
			if !inst.busy && inst.health == domain.HealthHealthy {
				m.markBusyLocked(inst)
				m.mu.Unlock()
				return inst, nil
			}
			m.mu.Unlock()
		case ctx.Err() != nil:
			return nil, domain.ErrNoInstanceAvailable
		default:
			// Capacity raced away or provisioning failed; fall through and
			// wait for a release like everyone else.
			m.logger.Debug("on-demand instance creation failed, parking waiter",
				zap.Error(err))
		}
	}

	w := &waiter{ch: make(chan *Instance, 1)}
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil, domain.ErrShuttingDown
	}
	// A release may have freed an instance while the lock was dropped.
	if inst := m.takeEligibleLocked(); inst != nil {
		m.mu.Unlock()
		return inst, nil
	}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	select {
	case inst := <-w.ch:
		if inst == nil {
			return nil, domain.ErrShuttingDown
		}
		return inst, nil
	case <-ctx.Done():
		m.abandonWaiter(w)
		return nil, domain.ErrNoInstanceAvailable
	}
}

// Release marks the instance idle, counts the completed job and folds its
// latency into the running mean. If a recycle predicate holds the instance
// is recycled synchronously; otherwise it is offered to the oldest waiter.
func (m *Manager) Release(ctx context.Context, id string, latency time.Duration) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("release %s: %w", id, domain.ErrNotFound)
	}

	inst.busy = false
	if inst.currentLoad > 0 {
		inst.currentLoad--
	}
	inst.messageCount++
	inst.lastUsedAt = time.Now()
	if latency > 0 {
		inst.recordLatency(latency)
	}

	reason := m.recycleReasonLocked(inst, time.Now())
	if reason == "" {
		// Offer inside the same critical section that clears busy, so the
		// freed instance reaches the oldest waiter before any new Acquire
		// can observe it idle.
		m.offerLocked()
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.Recycle(ctx, id, reason)
}

// Discard recycles an instance whose job was forcibly cancelled. A worker
// interrupted mid-execution is suspect and never returned to the pool.
func (m *Manager) Discard(ctx context.Context, id string) error {
	return m.Recycle(ctx, id, RecycleReasonForced)
}

// Recycle removes the instance from the set, disposes its capability
// (best-effort) and replenishes the pool when it dropped below the minimum.
// Returns domain.ErrNotFound for an unknown id.
func (m *Manager) Recycle(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("recycle %s: %w", id, domain.ErrNotFound)
	}
	delete(m.instances, id)
	m.removeFromOrderLocked(id)
	m.recycled++
	size := len(m.instances)
	belowMin := size+m.pending < m.cfg.MinInstances && !m.shuttingDown
	m.mu.Unlock()

	m.disposeCapability(id, inst.capability)

	m.metrics.RecordInstanceRecycled(reason)
	m.publish(ports.EventInstanceRecycled, id, map[string]interface{}{
		"reason":    reason,
		"pool_size": size,
	})
	m.logger.Info("instance recycled",
		zap.String("instance_id", id),
		zap.String("reason", reason),
		zap.Int("pool_size", size))

	if belowMin {
		if _, err := m.CreateInstance(ctx); err != nil {
			m.logger.Error("failed to replenish pool after recycle",
				zap.String("recycled_id", id),
				zap.Error(err))
		}
	}

	return nil
}

// RecycleIfIdle recycles the instance only if it is still idle, re-checking
// the busy flag under the pool lock. The instance is claimed before the lock
// is dropped so a concurrent Acquire cannot take it mid-recycle. Reports
// whether the recycle happened; an unknown or busy instance is a no-op.
func (m *Manager) RecycleIfIdle(ctx context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok || inst.busy {
		m.mu.Unlock()
		return false, nil
	}
	inst.busy = true
	m.mu.Unlock()

	return true, m.Recycle(ctx, id, reason)
}

// MarkUnhealthy flags an instance after a failed probe or execution. A busy
// instance is left alone until release, where the recycle predicate catches
// it; an idle one is recycled immediately.
func (m *Manager) MarkUnhealthy(ctx context.Context, id string) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	inst.health = domain.HealthUnhealthy
	idle := !inst.busy
	m.mu.Unlock()

	if idle {
		if err := m.Recycle(ctx, id, RecycleReasonUnhealthy); err != nil {
			m.logger.Warn("failed to recycle unhealthy instance",
				zap.String("instance_id", id),
				zap.Error(err))
		}
	}
}

// Shutdown forcibly recycles every instance, busy ones included, and fails
// all parked waiters with domain.ErrShuttingDown. The health monitor must be
// stopped before calling this.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.shuttingDown = true
	waiters := m.waiters
	m.waiters = nil
	drained := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		drained = append(drained, inst)
	}
	m.instances = make(map[string]*Instance)
	m.order = nil
	m.recycled += int64(len(drained))
	m.mu.Unlock()

	// Waiters learn about shutdown immediately rather than timing out.
	for _, w := range waiters {
		w.ch <- nil
	}

	for _, inst := range drained {
		m.disposeCapability(inst.id, inst.capability)
	}

	m.logger.Info("pool shut down",
		zap.Int("instances_drained", len(drained)),
		zap.Int("waiters_rejected", len(waiters)))
	return nil
}

// Snapshot returns a point-in-time view of every instance plus the recycle
// counter. Read-only; never drives pool logic.
func (m *Manager) Snapshot() ([]domain.InstanceInfo, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]domain.InstanceInfo, 0, len(m.instances))
	for _, id := range m.order {
		if inst, ok := m.instances[id]; ok {
			infos = append(infos, inst.info())
		}
	}
	return infos, m.recycled
}

// Size returns the current instance count.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

// takeEligibleLocked selects an eligible instance via the configured
// selector and marks it busy. Selection and busy-marking happen inside one
// critical section so two concurrent acquires can never pick the same
// instance or observe the same round-robin cursor.
func (m *Manager) takeEligibleLocked() *Instance {
	now := time.Now()
	var eligible []*Instance
	for _, id := range m.order {
		inst := m.instances[id]
		if inst == nil || inst.busy || inst.health != domain.HealthHealthy {
			continue
		}
		if m.recycleReasonLocked(inst, now) != "" {
			continue
		}
		eligible = append(eligible, inst)
	}
	if len(eligible) == 0 {
		return nil
	}

	inst := m.selector.Pick(eligible)
	if inst == nil {
		inst = eligible[0]
	}
	m.markBusyLocked(inst)
	return inst
}

func (m *Manager) markBusyLocked(inst *Instance) {
	inst.busy = true
	inst.currentLoad++
	inst.lastUsedAt = time.Now()
}

// offerLocked hands idle eligible instances to parked waiters, oldest first.
func (m *Manager) offerLocked() {
	for len(m.waiters) > 0 {
		inst := m.takeEligibleLocked()
		if inst == nil {
			return
		}
		w := m.waiters[0]
		m.waiters = m.waiters[1:]
		w.ch <- inst
	}
}

// abandonWaiter unlinks a timed-out waiter. If a release already handed it
// an instance, the instance is returned to the pool instead of leaking.
func (m *Manager) abandonWaiter(w *waiter) {
	m.mu.Lock()
	for i, cur := range m.waiters {
		if cur == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			m.mu.Unlock()
			return
		}
	}
	m.mu.Unlock()

	select {
	case inst := <-w.ch:
		if inst == nil {
			return
		}
		m.mu.Lock()
		if _, ok := m.instances[inst.id]; ok {
			inst.busy = false
			if inst.currentLoad > 0 {
				inst.currentLoad--
			}
			m.offerLocked()
		}
		m.mu.Unlock()
	default:
	}
}

// recycleReasonLocked evaluates the recycle predicates checked on release.
// Staleness is the health monitor's concern and is not tested here.
func (m *Manager) recycleReasonLocked(inst *Instance, now time.Time) string {
	switch {
	case inst.health == domain.HealthUnhealthy:
		return RecycleReasonUnhealthy
	case inst.messageCount > m.cfg.MaxMessagesPerInstance:
		return RecycleReasonMessages
	case m.cfg.MaxInstanceAge > 0 && now.Sub(inst.createdAt) > m.cfg.MaxInstanceAge:
		return RecycleReasonAge
	default:
		return ""
	}
}

func (m *Manager) removeFromOrderLocked(id string) {
	for i, cur := range m.order {
		if cur == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) disposeCapability(id string, capability ports.ExecCapability) {
	disposeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := capability.Dispose(disposeCtx); err != nil {
		m.logger.Warn("capability dispose failed",
			zap.String("instance_id", id),
			zap.Error(err))
	}
}

func (m *Manager) publish(eventType ports.EventType, subject string, data map[string]interface{}) {
	event := ports.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Subject:   subject,
		Timestamp: time.Now(),
		Data:      data,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.events.Publish(ctx, Topic, event); err != nil {
		m.logger.Error("failed to publish pool event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
