package brake

import (
	"context"
	"sync"

	"github.com/adithya0597/reins/pkg/contracts"
)

// MemoryFlagStore implements FlagStore in process memory. It exists for
// tests and single-node development; production deployments share the
// flag across workers via RedisFlagStore.
type MemoryFlagStore struct {
	mu      sync.RWMutex
	flags   map[string]struct{}
	records map[string]contracts.BrakeRecord
}

func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{
		flags:   make(map[string]struct{}),
		records: make(map[string]contracts.BrakeRecord),
	}
}

func (s *MemoryFlagStore) SetFlag(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[userID] = struct{}{}
	return nil
}

func (s *MemoryFlagStore) ClearFlag(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, userID)
	return nil
}

func (s *MemoryFlagStore) FlagExists(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.flags[userID]
	return ok, nil
}

func (s *MemoryFlagStore) GetRecord(ctx context.Context, userID string) (*contracts.BrakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryFlagStore) PutRecord(ctx context.Context, rec contracts.BrakeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = rec
	return nil
}
