package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/icarrero/agentpool/internal/application/balancer"
	"github.com/icarrero/agentpool/internal/application/pool"
	"github.com/icarrero/agentpool/pkg/domain"
	"github.com/icarrero/agentpool/pkg/ports"
)

// Config tunes the dispatcher.
type Config struct {
	// Concurrency is the number of processing slots. It is distinct from the
	// pool size: excess slots simply block inside Acquire.
	Concurrency int
	MaxAttempts int
	BaseDelay   time.Duration
	ExecTimeout time.Duration
}

// Dispatcher accepts jobs, enforces per-caller rate limits and drives each
// job to a terminal state with bounded retries. It owns the job queue and
// retry counters exclusively.
type Dispatcher struct {
	cfg      Config
	pool     *pool.Manager
	balancer *balancer.Balancer
	limiter  ports.RateLimiter
	results  ports.ResultStore
	events   ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Job
	jobs    map[string]*Job // submitted but not yet terminal
	timers  map[string]*time.Timer
	stopped bool

	totalRequests int64
	successCount  int64
	failureCount  int64
	totalLatency  time.Duration
	latencyCount  int64
}

// NewDispatcher creates a dispatcher over the given pool and balancer.
func NewDispatcher(
	cfg Config,
	poolMgr *pool.Manager,
	bal *balancer.Balancer,
	limiter ports.RateLimiter,
	results ports.ResultStore,
	events ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:      cfg,
		pool:     poolMgr,
		balancer: bal,
		limiter:  limiter,
		results:  results,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*Job),
		timers:   make(map[string]*time.Timer),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the processing workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Concurrency; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info("dispatcher started", zap.Int("concurrency", d.cfg.Concurrency))
}

// Submit validates the rate limit, enqueues the job and returns its receipt.
// Rejected submissions never consume queue capacity.
func (d *Dispatcher) Submit(ctx context.Context, payload, callerID string, opts SubmitOptions) (*domain.SubmitReceipt, error) {
	if payload == "" {
		return nil, fmt.Errorf("payload is required")
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, domain.ErrShuttingDown
	}
	d.mu.Unlock()

	allowed, err := d.limiter.Allow(ctx, callerID)
	if err != nil {
		// Limiter infrastructure failure: log and let the job through
		// rather than turning a Redis outage into a full stop.
		d.logger.Warn("rate limiter check failed",
			zap.String("caller_id", callerID),
			zap.Error(err))
	} else if !allowed {
		return nil, domain.ErrRateLimitExceeded
	}

	maxAttempts := d.cfg.MaxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}

	now := time.Now()
	job := &Job{
		ID:          uuid.New().String(),
		CallerID:    callerID,
		Payload:     payload,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		enqueuedAt:  now,
		status:      domain.JobStatusQueued,
		done:        make(chan struct{}),
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, domain.ErrShuttingDown
	}
	position := d.insertLocked(job)
	d.jobs[job.ID] = job
	d.totalRequests++
	depth := len(d.queue)
	wait := d.estimateWaitLocked(position)
	d.cond.Signal()
	d.mu.Unlock()

	d.metrics.RecordJobSubmitted(callerID)
	d.metrics.RecordQueueDepth(depth)
	d.publish(ports.EventJobQueued, job.ID, map[string]interface{}{
		"caller_id": callerID,
		"position":  position,
	})

	return &domain.SubmitReceipt{
		JobID:         job.ID,
		QueuePosition: position,
		EstimatedWait: wait,
	}, nil
}

// SubmitBatch submits independent jobs and joins on all terminal states. One
// job failing never aborts the others; the returned slice is aligned with
// the payloads.
func (d *Dispatcher) SubmitBatch(ctx context.Context, payloads []string, callerID string, opts SubmitOptions) ([]*domain.JobResult, error) {
	receipts := make([]*domain.SubmitReceipt, len(payloads))
	results := make([]*domain.JobResult, len(payloads))

	for i, payload := range payloads {
		receipt, err := d.Submit(ctx, payload, callerID, opts)
		if err != nil {
			results[i] = &domain.JobResult{
				CallerID:    callerID,
				Status:      domain.JobStatusFailed,
				Error:       err.Error(),
				CompletedAt: time.Now(),
			}
			continue
		}
		receipts[i] = receipt
	}

	for i, receipt := range receipts {
		if receipt == nil {
			continue
		}
		result, err := d.AwaitResult(ctx, receipt.JobID)
		if err != nil {
			return results, fmt.Errorf("awaiting job %s: %w", receipt.JobID, err)
		}
		results[i] = result
	}

	return results, nil
}

// AwaitResult blocks until the job reaches a terminal state. Already-terminal
// jobs are answered from the result store.
func (d *Dispatcher) AwaitResult(ctx context.Context, jobID string) (*domain.JobResult, error) {
	d.mu.Lock()
	job, ok := d.jobs[jobID]
	d.mu.Unlock()

	if !ok {
		result, err := d.results.GetResult(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
		}
		return result, nil
	}

	select {
	case <-job.done:
		return job.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Counters returns the dispatcher's running totals and latency mean.
func (d *Dispatcher) Counters() (total, success, failure int64, avgLatency time.Duration, queueDepth int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	avg := time.Duration(0)
	if d.latencyCount > 0 {
		avg = d.totalLatency / time.Duration(d.latencyCount)
	}
	return d.totalRequests, d.successCount, d.failureCount, avg, len(d.queue)
}

// Stop fails every queued job and pending retry with domain.ErrShuttingDown
// and waits for in-flight processing to settle.
func (d *Dispatcher) Stop() {
	d.cancel()

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	queued := d.queue
	d.queue = nil
	var pending []*Job
	for id, timer := range d.timers {
		if timer.Stop() {
			if job, ok := d.jobs[id]; ok {
				pending = append(pending, job)
			}
		}
		delete(d.timers, id)
	}
	d.cond.Broadcast()
	d.mu.Unlock()

	for _, job := range queued {
		d.finish(job, domain.JobStatusFailed, "", domain.ErrShuttingDown.Error(), "", 0)
	}
	for _, job := range pending {
		d.finish(job, domain.JobStatusFailed, "", domain.ErrShuttingDown.Error(), "", 0)
	}

	d.wg.Wait()
	d.logger.Info("dispatcher stopped",
		zap.Int("queued_rejected", len(queued)+len(pending)))
}

// worker is one processing slot.
func (d *Dispatcher) worker(slot int) {
	defer d.wg.Done()

	for {
		job := d.next()
		if job == nil {
			return
		}
		d.process(job)
	}
}

// next pops the head job, blocking until one is queued or the dispatcher
// stops.
func (d *Dispatcher) next() *Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.queue) == 0 && !d.stopped {
		d.cond.Wait()
	}
	if d.stopped {
		return nil
	}

	job := d.queue[0]
	d.queue = d.queue[1:]
	job.status = domain.JobStatusDispatched
	return job
}

// process drives one dispatch attempt of a job.
func (d *Dispatcher) process(job *Job) {
	job.Attempts++
	d.metrics.RecordQueueWait(time.Since(job.enqueuedAt))

	inst, err := d.pool.Acquire(d.ctx)
	if err != nil {
		d.handleFailure(job, "", 0, err)
		return
	}

	execCtx, cancel := context.WithTimeout(d.ctx, d.cfg.ExecTimeout)
	start := time.Now()
	output, err := inst.Capability().Execute(execCtx, job.Payload)
	latency := time.Since(start)
	timedOut := execCtx.Err() != nil
	cancel()

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer releaseCancel()

	if err != nil {
		if timedOut {
			// The worker may be hung mid-execution; it is suspect and gets
			// recycled rather than released.
			if derr := d.pool.Discard(releaseCtx, inst.ID()); derr != nil {
				d.logger.Warn("failed to discard timed-out instance",
					zap.String("instance_id", inst.ID()),
					zap.Error(derr))
			}
			err = fmt.Errorf("%w: %v", domain.ErrExecutionTimeout, err)
		} else {
			// Execution failures also flip health; release then applies the
			// recycle predicate.
			d.pool.MarkUnhealthy(releaseCtx, inst.ID())
			if rerr := d.pool.Release(releaseCtx, inst.ID(), 0); rerr != nil {
				d.logger.Warn("release after failure",
					zap.String("instance_id", inst.ID()),
					zap.Error(rerr))
			}
		}
		d.handleFailure(job, inst.ID(), latency, err)
		return
	}

	if rerr := d.pool.Release(releaseCtx, inst.ID(), latency); rerr != nil {
		d.logger.Warn("release after success",
			zap.String("instance_id", inst.ID()),
			zap.Error(rerr))
	}

	d.mu.Lock()
	d.totalLatency += latency
	d.latencyCount++
	d.successCount++
	d.mu.Unlock()

	d.finish(job, domain.JobStatusCompleted, output, "", inst.ID(), latency)
}

// handleFailure classifies an error and either re-enqueues the job with
// backoff or finishes it as a terminal failure.
func (d *Dispatcher) handleFailure(job *Job, instanceID string, latency time.Duration, err error) {
	if errors.Is(err, domain.ErrShuttingDown) {
		d.failTerminal(job, instanceID, latency, err)
		return
	}

	if !retryable(err) {
		d.failTerminal(job, instanceID, latency, err)
		return
	}

	if job.Attempts >= job.MaxAttempts {
		d.failTerminal(job, instanceID, latency,
			fmt.Errorf("gave up after %d attempts: %w", job.Attempts, err))
		return
	}

	delay := d.cfg.BaseDelay << (job.Attempts - 1)
	d.logger.Info("retrying job",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
		zap.Duration("backoff", delay),
		zap.Error(err))
	d.metrics.RecordJobRetried()

	if errors.Is(err, domain.ErrNoInstanceAvailable) {
		// Name a best-effort target so backpressure is visible in logs.
		infos, _ := d.pool.Snapshot()
		if target, ok := d.balancer.Fallback(infos); ok {
			d.logger.Debug("pool saturated",
				zap.String("job_id", job.ID),
				zap.String("least_loaded_instance", target))
		}
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.failTerminal(job, instanceID, latency, domain.ErrShuttingDown)
		return
	}
	job.status = domain.JobStatusQueued
	d.timers[job.ID] = time.AfterFunc(delay, func() {
		d.requeue(job)
	})
	d.mu.Unlock()
}

// requeue re-appends a retried job to the tail of the queue, behind fresh
// submissions, so failure storms cannot starve new callers.
func (d *Dispatcher) requeue(job *Job) {
	d.mu.Lock()
	delete(d.timers, job.ID)
	if d.stopped {
		d.mu.Unlock()
		d.failTerminal(job, "", 0, domain.ErrShuttingDown)
		return
	}
	job.enqueuedAt = time.Now()
	d.queue = append(d.queue, job)
	d.cond.Signal()
	d.mu.Unlock()
}

func (d *Dispatcher) failTerminal(job *Job, instanceID string, latency time.Duration, err error) {
	d.mu.Lock()
	d.failureCount++
	d.mu.Unlock()
	d.finish(job, domain.JobStatusFailed, "", err.Error(), instanceID, latency)
}

// finish records the terminal result, persists it, publishes the outcome and
// releases anyone blocked in AwaitResult.
func (d *Dispatcher) finish(job *Job, status domain.JobStatus, output, errMsg, instanceID string, latency time.Duration) {
	result := &domain.JobResult{
		JobID:       job.ID,
		CallerID:    job.CallerID,
		Status:      status,
		Output:      output,
		Error:       errMsg,
		InstanceID:  instanceID,
		Attempts:    job.Attempts,
		Duration:    latency,
		CompletedAt: time.Now(),
	}

	d.mu.Lock()
	job.status = status
	job.result = result
	d.mu.Unlock()
	close(job.done)

	// Evict from the live set only once the result is durable, so every
	// AwaitResult finds the job in exactly one of the two places.
	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.results.SaveResult(storeCtx, result); err != nil {
		d.logger.Error("failed to persist job result",
			zap.String("job_id", job.ID),
			zap.Error(err))
	} else {
		d.mu.Lock()
		delete(d.jobs, job.ID)
		d.mu.Unlock()
	}

	d.metrics.RecordJobCompleted(string(status), latency)

	eventType := ports.EventJobCompleted
	if status == domain.JobStatusFailed {
		eventType = ports.EventJobFailed
	}
	d.publish(eventType, job.ID, map[string]interface{}{
		"caller_id": job.CallerID,
		"status":    string(status),
		"attempts":  job.Attempts,
	})

	d.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("attempts", job.Attempts),
		zap.Duration("duration", latency))
}

// insertLocked places a job by priority (stable: equal priorities keep FIFO
// order) and returns its 1-based queue position.
func (d *Dispatcher) insertLocked(job *Job) int {
	if job.Priority == 0 {
		d.queue = append(d.queue, job)
		return len(d.queue)
	}
	idx := len(d.queue)
	for i, queued := range d.queue {
		if queued.Priority < job.Priority {
			idx = i
			break
		}
	}
	d.queue = append(d.queue, nil)
	copy(d.queue[idx+1:], d.queue[idx:])
	d.queue[idx] = job
	return idx + 1
}

func (d *Dispatcher) estimateWaitLocked(position int) time.Duration {
	if d.latencyCount == 0 || d.cfg.Concurrency == 0 {
		return 0
	}
	avg := d.totalLatency / time.Duration(d.latencyCount)
	return avg * time.Duration(position) / time.Duration(d.cfg.Concurrency)
}

// retryable classifies dispatch failures. Timeouts, transient instance
// errors and pool saturation retry; explicit terminal signals do not.
func retryable(err error) bool {
	if domain.IsTerminal(err) {
		return false
	}
	switch {
	case errors.Is(err, domain.ErrNoInstanceAvailable),
		errors.Is(err, domain.ErrCapacity),
		errors.Is(err, domain.ErrProvisioning),
		errors.Is(err, domain.ErrExecutionTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return !execErr.Terminal
	}
	// Unclassified downstream errors default to retryable.
	return true
}

func (d *Dispatcher) publish(eventType ports.EventType, subject string, data map[string]interface{}) {
	event := ports.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Subject:   subject,
		Timestamp: time.Now(),
		Data:      data,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.events.Publish(ctx, pool.Topic, event); err != nil {
		d.logger.Error("failed to publish dispatch event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
