package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter implements ports.RateLimiter with a sorted set per caller: member
// scores are request timestamps, expired members are trimmed before each
// count. Shared across orchestrator processes.
type Limiter struct {
	client      *redis.Client
	maxRequests int
	window      time.Duration
}

// NewLimiter creates a Redis-backed sliding-window limiter.
func NewLimiter(client *redis.Client, maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		client:      client,
		maxRequests: maxRequests,
		window:      window,
	}
}

// Allow records one request for callerID if it fits the window.
func (l *Limiter) Allow(ctx context.Context, callerID string) (bool, error) {
	key := getLimitKey(callerID)
	now := time.Now()
	cutoff := now.Add(-l.window)

	if err := l.client.ZRemRangeByScore(ctx, key, "0",
		fmt.Sprintf("%d", cutoff.UnixNano())).Err(); err != nil {
		return false, fmt.Errorf("failed to trim window: %w", err)
	}

	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count window: %w", err)
	}
	if count >= int64(l.maxRequests) {
		return false, nil
	}

	if err := l.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.New().String(),
	}).Err(); err != nil {
		return false, fmt.Errorf("failed to record request: %w", err)
	}

	// Idle callers expire with their window.
	if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
		return false, fmt.Errorf("failed to set expiry: %w", err)
	}

	return true, nil
}

func getLimitKey(callerID string) string {
	return fmt.Sprintf("agentpool:ratelimit:%s", callerID)
}
