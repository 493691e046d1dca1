package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus.
type Collector struct {
	jobsSubmitted     *prometheus.CounterVec
	jobsCompleted     *prometheus.CounterVec
	jobsRetried       prometheus.Counter
	jobDuration       prometheus.Histogram
	queueWaitTime     prometheus.Histogram
	queueDepth        prometheus.Gauge
	instancesCreated  prometheus.Counter
	instancesRecycled *prometheus.CounterVec
	poolSize          prometheus.Gauge
	poolBusy          prometheus.Gauge
	poolHealthy       prometheus.Gauge
	capabilityCalls   *prometheus.CounterVec
	capabilityLatency *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector() *Collector {
	return &Collector{
		jobsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpool_jobs_submitted_total",
				Help: "Total number of jobs submitted",
			},
			[]string{"caller"},
		),
		jobsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpool_jobs_completed_total",
				Help: "Total number of jobs reaching a terminal state",
			},
			[]string{"status"},
		),
		jobsRetried: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpool_jobs_retried_total",
				Help: "Total number of dispatch retries",
			},
		),
		jobDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentpool_job_duration_seconds",
				Help:    "Job execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		queueWaitTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentpool_queue_wait_seconds",
				Help:    "Time jobs spend waiting in the queue",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpool_queue_depth",
				Help: "Current depth of the job queue",
			},
		),
		instancesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpool_instances_created_total",
				Help: "Total number of worker instances created",
			},
		),
		instancesRecycled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpool_instances_recycled_total",
				Help: "Total number of worker instances recycled",
			},
			[]string{"reason"},
		),
		poolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpool_pool_size",
				Help: "Current number of worker instances",
			},
		),
		poolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpool_pool_busy",
				Help: "Number of busy worker instances",
			},
		),
		poolHealthy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpool_pool_healthy",
				Help: "Number of healthy worker instances",
			},
		),
		capabilityCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpool_capability_calls_total",
				Help: "Total number of downstream capability calls",
			},
			[]string{"model", "outcome"},
		),
		capabilityLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpool_capability_latency_seconds",
				Help:    "Downstream capability call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"model"},
		),
	}
}

// RecordJobSubmitted increments the submission counter.
func (c *Collector) RecordJobSubmitted(callerID string) {
	c.jobsSubmitted.WithLabelValues(callerID).Inc()
}

// RecordJobCompleted records a terminal job outcome and its duration.
func (c *Collector) RecordJobCompleted(status string, duration time.Duration) {
	c.jobsCompleted.WithLabelValues(status).Inc()
	if duration > 0 {
		c.jobDuration.Observe(duration.Seconds())
	}
}

// RecordJobRetried increments the retry counter.
func (c *Collector) RecordJobRetried() {
	c.jobsRetried.Inc()
}

// RecordQueueWait records how long a job waited before dispatch.
func (c *Collector) RecordQueueWait(duration time.Duration) {
	c.queueWaitTime.Observe(duration.Seconds())
}

// RecordQueueDepth sets the current queue depth.
func (c *Collector) RecordQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordInstanceCreated increments the creation counter.
func (c *Collector) RecordInstanceCreated() {
	c.instancesCreated.Inc()
}

// RecordInstanceRecycled increments the recycle counter by reason.
func (c *Collector) RecordInstanceRecycled(reason string) {
	c.instancesRecycled.WithLabelValues(reason).Inc()
}

// RecordPoolStatus sets the pool gauges.
func (c *Collector) RecordPoolStatus(size, busy, healthy int) {
	c.poolSize.Set(float64(size))
	c.poolBusy.Set(float64(busy))
	c.poolHealthy.Set(float64(healthy))
}

// RecordCapabilityCall records one downstream call and its latency.
func (c *Collector) RecordCapabilityCall(model string, duration time.Duration, failed bool) {
	outcome := "success"
	if failed {
		outcome = "error"
	}
	c.capabilityCalls.WithLabelValues(model, outcome).Inc()
	c.capabilityLatency.WithLabelValues(model).Observe(duration.Seconds())
}
