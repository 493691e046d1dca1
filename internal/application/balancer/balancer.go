package balancer

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/icarrero/agentpool/internal/application/pool"
	"github.com/icarrero/agentpool/pkg/domain"
)

// Strategy names an instance selection policy.
type Strategy string

const (
	// RoundRobin cycles a shared cursor over the eligible set.
	RoundRobin Strategy = "round-robin"
	// LeastConnections picks the eligible instance with the fewest in-flight jobs.
	LeastConnections Strategy = "least-connections"
	// WeightedRandom draws proportionally to static instance weights.
	WeightedRandom Strategy = "weighted-random"
	// ResponseTime picks the eligible instance with the lowest mean latency.
	ResponseTime Strategy = "response-time"
)

// ParseStrategy converts a config string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case RoundRobin, LeastConnections, WeightedRandom, ResponseTime:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown strategy: %q", s)
	}
}

// Balancer implements pool.Selector. Pick runs while the pool lock is held,
// so instance stats are stable during a selection; the balancer's own mutex
// guards the round-robin cursor and the random source. One Balancer serves
// one pool.
type Balancer struct {
	strategy Strategy
	logger   *zap.Logger

	mu     sync.Mutex
	cursor uint64
	rng    *rand.Rand
}

// New creates a balancer with the given strategy.
func New(strategy Strategy, logger *zap.Logger) *Balancer {
	return &Balancer{
		strategy: strategy,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Strategy returns the configured selection policy.
func (b *Balancer) Strategy() Strategy { return b.strategy }

// Pick selects one instance from the eligible set, or nil when it is empty.
// The caller (the pool manager) filters for eligibility; Pick only ranks.
func (b *Balancer) Pick(eligible []*pool.Instance) *pool.Instance {
	if len(eligible) == 0 {
		return nil
	}

	switch b.strategy {
	case LeastConnections:
		return pickLeastConnections(eligible)
	case WeightedRandom:
		return b.pickWeightedRandom(eligible)
	case ResponseTime:
		return pickResponseTime(eligible)
	default:
		return b.pickRoundRobin(eligible)
	}
}

// pickRoundRobin advances a single shared cursor. Cursor read and advance
// happen under the balancer mutex so two selections never compute the same
// index from a stale cursor.
func (b *Balancer) pickRoundRobin(eligible []*pool.Instance) *pool.Instance {
	b.mu.Lock()
	idx := b.cursor % uint64(len(eligible))
	b.cursor++
	b.mu.Unlock()
	return eligible[idx]
}

func pickLeastConnections(eligible []*pool.Instance) *pool.Instance {
	best := eligible[0]
	for _, inst := range eligible[1:] {
		if inst.CurrentLoad() < best.CurrentLoad() {
			best = inst
		}
	}
	return best
}

// pickWeightedRandom draws uniformly over the total weight and walks the
// cumulative weights. Higher-weight instances get proportionally more
// traffic in expectation, not a hard share.
func (b *Balancer) pickWeightedRandom(eligible []*pool.Instance) *pool.Instance {
	total := 0
	for _, inst := range eligible {
		w := inst.Weight()
		if w < 1 {
			w = 1
		}
		total += w
	}

	b.mu.Lock()
	draw := b.rng.Intn(total)
	b.mu.Unlock()

	for _, inst := range eligible {
		w := inst.Weight()
		if w < 1 {
			w = 1
		}
		draw -= w
		if draw < 0 {
			return inst
		}
	}
	return eligible[len(eligible)-1]
}

// pickResponseTime selects the lowest mean latency; ties keep the
// first-seen instance.
func pickResponseTime(eligible []*pool.Instance) *pool.Instance {
	best := eligible[0]
	for _, inst := range eligible[1:] {
		if inst.AvgResponseTime() < best.AvgResponseTime() {
			best = inst
		}
	}
	return best
}

// Fallback returns the least-loaded instance id over the whole set, busy
// ones included, so a dispatcher facing an empty eligible set can still name
// a best-effort target for backpressure reporting. It never fabricates an
// instance: an empty set yields ok=false.
func (b *Balancer) Fallback(all []domain.InstanceInfo) (string, bool) {
	if len(all) == 0 {
		return "", false
	}
	best := all[0]
	for _, info := range all[1:] {
		if info.CurrentLoad < best.CurrentLoad {
			best = info
		}
	}
	return best.ID, true
}
