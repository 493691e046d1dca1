package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/icarrero/agentpool/pkg/domain"
)

// ResultStore implements ports.ResultStore with in-memory maps. For tests
// and single-process development use; nothing expires.
type ResultStore struct {
	mu       sync.RWMutex
	results  map[string]*domain.JobResult
	sessions map[string][]domain.Message
}

// NewResultStore creates a new in-memory result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results:  make(map[string]*domain.JobResult),
		sessions: make(map[string][]domain.Message),
	}
}

// SaveResult persists a terminal job result.
func (s *ResultStore) SaveResult(ctx context.Context, result *domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *result
	s.results[result.JobID] = &stored
	return nil
}

// GetResult retrieves a terminal job result by id.
func (s *ResultStore) GetResult(ctx context.Context, jobID string) (*domain.JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[jobID]
	if !ok {
		return nil, fmt.Errorf("result not found: %s", jobID)
	}
	stored := *result
	return &stored, nil
}

// SaveSession persists an instance's conversation history.
func (s *ResultStore) SaveSession(ctx context.Context, instanceID string, history []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]domain.Message, len(history))
	copy(stored, history)
	s.sessions[instanceID] = stored
	return nil
}

// LoadSession retrieves an instance's persisted conversation history.
func (s *ResultStore) LoadSession(ctx context.Context, instanceID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.sessions[instanceID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", instanceID)
	}
	out := make([]domain.Message, len(history))
	copy(out, history)
	return out, nil
}

// DeleteSession removes an instance's persisted conversation history.
func (s *ResultStore) DeleteSession(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, instanceID)
	return nil
}
