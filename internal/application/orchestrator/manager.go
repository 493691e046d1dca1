package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/icarrero/agentpool/internal/application/dispatch"
	"github.com/icarrero/agentpool/internal/application/pool"
	"github.com/icarrero/agentpool/internal/application/stats"
	"github.com/icarrero/agentpool/pkg/domain"
)

// Manager is the facade the surrounding HTTP/gRPC layer talks to. It wires
// the pool, dispatcher, health monitor and stats aggregator together and
// owns their startup/shutdown ordering.
type Manager struct {
	pool       *pool.Manager
	dispatcher *dispatch.Dispatcher
	monitor    *pool.HealthMonitor
	aggregator *stats.Aggregator
	validator  *Validator
	logger     *zap.Logger

	shutdownOnce sync.Once
}

// NewManager creates the orchestrator facade.
func NewManager(
	poolMgr *pool.Manager,
	dispatcher *dispatch.Dispatcher,
	monitor *pool.HealthMonitor,
	aggregator *stats.Aggregator,
	validator *Validator,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		pool:       poolMgr,
		dispatcher: dispatcher,
		monitor:    monitor,
		aggregator: aggregator,
		validator:  validator,
		logger:     logger,
	}
}

// Initialize provisions the minimum pool, starts the health monitor and the
// dispatcher, and returns the initial snapshot.
func (m *Manager) Initialize(ctx context.Context) (domain.PoolStats, error) {
	if err := m.pool.Start(ctx); err != nil {
		return domain.PoolStats{}, fmt.Errorf("pool start: %w", err)
	}
	m.monitor.Start()
	m.dispatcher.Start()

	snapshot := m.aggregator.Snapshot()
	m.logger.Info("orchestrator initialized",
		zap.Int("pool_size", snapshot.PoolSize))
	return snapshot, nil
}

// Submit validates the request and enqueues a job, returning its receipt.
func (m *Manager) Submit(ctx context.Context, payload, callerID string, opts dispatch.SubmitOptions) (*domain.SubmitReceipt, error) {
	if err := m.validator.ValidateSubmission(payload, callerID, opts); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}
	return m.dispatcher.Submit(ctx, payload, callerID, opts)
}

// SubmitBatch submits independent jobs and joins on all terminal states.
func (m *Manager) SubmitBatch(ctx context.Context, payloads []string, callerID string, opts SubmitBatchOptions) ([]*domain.JobResult, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("at least one payload is required")
	}
	for i, payload := range payloads {
		if err := m.validator.ValidateSubmission(payload, callerID, opts.SubmitOptions); err != nil {
			return nil, fmt.Errorf("invalid submission at index %d: %w", i, err)
		}
	}
	return m.dispatcher.SubmitBatch(ctx, payloads, callerID, opts.SubmitOptions)
}

// SubmitBatchOptions tunes a batch submission.
type SubmitBatchOptions struct {
	dispatch.SubmitOptions
}

// AwaitResult blocks until the job reaches a terminal state.
func (m *Manager) AwaitResult(ctx context.Context, jobID string) (*domain.JobResult, error) {
	return m.dispatcher.AwaitResult(ctx, jobID)
}

// Stats returns the current derived pool statistics.
func (m *Manager) Stats() domain.PoolStats {
	return m.aggregator.Snapshot()
}

// Recycle tears down one instance by id, replenishing the pool if needed.
func (m *Manager) Recycle(ctx context.Context, instanceID string) error {
	return m.pool.Recycle(ctx, instanceID, pool.RecycleReasonManual)
}

// Healthy reports whether the pool currently has at least one healthy
// instance. Used by the health endpoints.
func (m *Manager) Healthy() bool {
	snapshot := m.aggregator.Snapshot()
	return snapshot.HealthyCount > 0
}

// Shutdown stops the components in dependency order: the health monitor
// first so its timer stops mutating the pool, then the dispatcher so queued
// jobs fail fast, then the pool, which forcibly recycles every instance and
// rejects parked waiters.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.shutdownOnce.Do(func() {
		m.logger.Info("shutting down orchestrator")
		m.monitor.Stop()
		m.dispatcher.Stop()
		err = m.pool.Shutdown(ctx)
		m.logger.Info("orchestrator shut down complete")
	})
	return err
}
