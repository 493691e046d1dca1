package domain

import "time"

// HealthState is the probe-driven health of a worker instance.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// JobStatus tracks a job through its state machine.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusDispatched JobStatus = "dispatched"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobResult is the terminal outcome of a job, surfaced to callers and
// persisted through the result store.
type JobResult struct {
	JobID       string        `json:"job_id"`
	CallerID    string        `json:"caller_id"`
	Status      JobStatus     `json:"status"`
	Output      string        `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	InstanceID  string        `json:"instance_id,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// SubmitReceipt is returned immediately on job submission.
type SubmitReceipt struct {
	JobID         string        `json:"job_id"`
	QueuePosition int           `json:"queue_position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

// InstanceInfo is a point-in-time view of one worker instance.
type InstanceInfo struct {
	ID              string        `json:"id"`
	Busy            bool          `json:"busy"`
	Health          HealthState   `json:"health"`
	CreatedAt       time.Time     `json:"created_at"`
	LastUsedAt      time.Time     `json:"last_used_at"`
	MessageCount    int           `json:"message_count"`
	Weight          int           `json:"weight"`
	CurrentLoad     int           `json:"current_load"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// PoolStats is a derived, read-only view of pool and dispatcher state.
// It never drives orchestration logic.
type PoolStats struct {
	PoolSize       int            `json:"pool_size"`
	BusyCount      int            `json:"busy_count"`
	HealthyCount   int            `json:"healthy_count"`
	Utilization    float64        `json:"utilization"`
	AverageLatency time.Duration  `json:"average_latency"`
	TotalRequests  int64          `json:"total_requests"`
	SuccessCount   int64          `json:"success_count"`
	FailureCount   int64          `json:"failure_count"`
	RecycledCount  int64          `json:"recycled_count"`
	QueueDepth     int            `json:"queue_depth"`
	Instances      []InstanceInfo `json:"instances,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Message is one turn of an instance's conversation state. The history is
// owned exclusively by the instance that accumulated it.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
