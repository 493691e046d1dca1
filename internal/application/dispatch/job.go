package dispatch

import (
	"time"

	"github.com/icarrero/agentpool/pkg/domain"
)

// SubmitOptions tunes a single submission. Zero values fall back to the
// dispatcher's configuration.
type SubmitOptions struct {
	// Priority orders the job ahead of lower-priority queued jobs. Retries
	// ignore priority and always rejoin the tail.
	Priority int

	// MaxAttempts overrides the configured retry budget when positive.
	MaxAttempts int
}

// Job is owned by the dispatcher from submission to terminal state. Only the
// retry counter is carried across dispatch attempts.
type Job struct {
	ID          string
	CallerID    string
	Payload     string
	Priority    int
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time

	// enqueuedAt is reset on every (re-)enqueue for queue wait accounting.
	enqueuedAt time.Time

	status domain.JobStatus
	result *domain.JobResult

	// done is closed exactly once, when the job reaches a terminal state.
	done chan struct{}
}

// Status returns the job's current state. Only meaningful while the
// dispatcher still owns the job; terminal jobs answer through their result.
func (j *Job) Status() domain.JobStatus { return j.status }
