package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/icarrero/agentpool/pkg/domain"
)

// ResultStore implements ports.ResultStore using Redis with JSON
// serialization and a TTL per entry.
type ResultStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewResultStore creates a new Redis result store.
func NewResultStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ResultStore {
	return &ResultStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveResult persists a terminal job result with TTL.
func (s *ResultStore) SaveResult(ctx context.Context, result *domain.JobResult) error {
	key := getResultKey(result.JobID)

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	s.logger.Debug("result saved",
		zap.String("job_id", result.JobID),
		zap.String("status", string(result.Status)))

	return nil
}

// GetResult retrieves a terminal job result by id.
func (s *ResultStore) GetResult(ctx context.Context, jobID string) (*domain.JobResult, error) {
	key := getResultKey(jobID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("result not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result domain.JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &result, nil
}

// SaveSession persists an instance's conversation history with TTL.
func (s *ResultStore) SaveSession(ctx context.Context, instanceID string, history []domain.Message) error {
	key := getSessionKey(instanceID)

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Debug("session saved",
		zap.String("instance_id", instanceID),
		zap.Int("messages", len(history)))

	return nil
}

// LoadSession retrieves an instance's persisted conversation history.
func (s *ResultStore) LoadSession(ctx context.Context, instanceID string) ([]domain.Message, error) {
	key := getSessionKey(instanceID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("session not found: %s", instanceID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var history []domain.Message
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return history, nil
}

// DeleteSession removes an instance's persisted conversation history.
func (s *ResultStore) DeleteSession(ctx context.Context, instanceID string) error {
	key := getSessionKey(instanceID)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

func getResultKey(jobID string) string {
	return fmt.Sprintf("agentpool:result:%s", jobID)
}

func getSessionKey(instanceID string) string {
	return fmt.Sprintf("agentpool:session:%s", instanceID)
}
