package pool

import (
	"time"

	"github.com/icarrero/agentpool/pkg/domain"
	"github.com/icarrero/agentpool/pkg/ports"
)

// Instance wraps one execution capability with the lifecycle state the pool
// tracks for it. All fields are guarded by the owning Manager's mutex; the
// accessors below must only be called while that lock is held, except for ID
// which is immutable.
type Instance struct {
	id         string
	capability ports.ExecCapability

	busy         bool
	health       domain.HealthState
	createdAt    time.Time
	lastUsedAt   time.Time
	messageCount int

	// weight is static, set at creation, used by the weighted-random strategy
	weight int

	// currentLoad counts in-flight jobs. For single-job instances it is 0 or 1,
	// but the balancer treats it as a counter so capabilities that can hold
	// more than one concurrent job keep working.
	currentLoad int

	totalLatency time.Duration
	latencyCount int64
}

// ID returns the immutable instance identifier.
func (i *Instance) ID() string { return i.id }

// Capability returns the execution capability held by this instance.
func (i *Instance) Capability() ports.ExecCapability { return i.capability }

// Busy reports whether a job is in flight on this instance.
func (i *Instance) Busy() bool { return i.busy }

// Health returns the probe-driven health state.
func (i *Instance) Health() domain.HealthState { return i.health }

// Weight returns the static selection weight (defaults to 1).
func (i *Instance) Weight() int { return i.weight }

// CurrentLoad returns the in-flight job count.
func (i *Instance) CurrentLoad() int { return i.currentLoad }

// MessageCount returns the number of jobs completed on this instance.
func (i *Instance) MessageCount() int { return i.messageCount }

// AvgResponseTime returns the running mean latency of completed jobs on this
// instance, or zero before the first completion.
func (i *Instance) AvgResponseTime() time.Duration {
	if i.latencyCount == 0 {
		return 0
	}
	return i.totalLatency / time.Duration(i.latencyCount)
}

// recordLatency folds one completed job's duration into the running mean.
func (i *Instance) recordLatency(d time.Duration) {
	i.totalLatency += d
	i.latencyCount++
}

// info snapshots the instance for stats reporting.
func (i *Instance) info() domain.InstanceInfo {
	return domain.InstanceInfo{
		ID:              i.id,
		Busy:            i.busy,
		Health:          i.health,
		CreatedAt:       i.createdAt,
		LastUsedAt:      i.lastUsedAt,
		MessageCount:    i.messageCount,
		Weight:          i.weight,
		CurrentLoad:     i.currentLoad,
		AvgResponseTime: i.AvgResponseTime(),
	}
}
