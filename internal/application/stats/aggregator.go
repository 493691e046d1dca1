package stats

import (
	"time"

	"github.com/icarrero/agentpool/internal/application/dispatch"
	"github.com/icarrero/agentpool/internal/application/pool"
	"github.com/icarrero/agentpool/pkg/domain"
)

// Aggregator is the pure read side: it derives PoolStats from the live
// instance set and the dispatcher's running counters on every call. No
// cached state, no write path, never blocks job processing.
type Aggregator struct {
	pool       *pool.Manager
	dispatcher *dispatch.Dispatcher
}

// NewAggregator creates a stats aggregator over the given components.
func NewAggregator(poolMgr *pool.Manager, dispatcher *dispatch.Dispatcher) *Aggregator {
	return &Aggregator{pool: poolMgr, dispatcher: dispatcher}
}

// Snapshot computes the current PoolStats.
func (a *Aggregator) Snapshot() domain.PoolStats {
	infos, recycled := a.pool.Snapshot()
	total, success, failure, avgLatency, depth := a.dispatcher.Counters()

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
		PoolSize:       len(infos),
		BusyCount:      busy,
		HealthyCount:   healthy,
		Utilization:    utilization,
		AverageLatency: avgLatency,
		TotalRequests:  total,
		SuccessCount:   success,
		FailureCount:   failure,
		RecycledCount:  recycled,
		QueueDepth:     depth,
		Instances:      infos,
		Timestamp:      time.Now(),
	}
}
