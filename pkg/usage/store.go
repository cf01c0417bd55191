package usage

import (
	"context"
	"sync"
)

// Store persists daily counters.
//
// IncrementWithCeiling must be atomic: it either increments the counter and
// returns the new value with allowed=true, or leaves it untouched and returns
// the current value with allowed=false when the counter is already at or
// above limit. Callers never pass a limit below 1.
type Store interface {
	Count(ctx context.Context, key Key) (int64, error)
	IncrementWithCeiling(ctx context.Context, key Key, limit int64) (count int64, allowed bool, err error)
	Reset(ctx context.Context, key Key) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

func (s *MemoryStore) Count(_ context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key.String()], nil
}

func (s *MemoryStore) IncrementWithCeiling(_ context.Context, key Key, limit int64) (int64, bool, error) {
	if err := key.Validate(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.counts[key.String()]
	if current >= limit {
		return current, false, nil
	}
	current++
	s.counts[key.String()] = current
	return current, true, nil
}

func (s *MemoryStore) Reset(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counts[key.String()]; ok {
		s.counts[key.String()] = 0
	}
	return nil
}
