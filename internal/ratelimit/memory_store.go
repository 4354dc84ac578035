package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for single-instance deployments
// and tests. Multi-instance deployments should use the Redis store so
// counters are shared.
type MemoryStore struct {
	mu         sync.Mutex
	sends      map[string][]time.Time
	violations map[string][]time.Time
	blocks     map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sends:      make(map[string][]time.Time),
		violations: make(map[string][]time.Time),
		blocks:     make(map[string]time.Time),
	}
}

func (s *MemoryStore) RecordIfAllowed(_ context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := prune(s.sends[key], now.Add(-window))
	if len(kept) >= limit {
		s.sends[key] = kept
		return false, nil
	}
	s.sends[key] = append(kept, now)
	return true, nil
}

func (s *MemoryStore) RecordViolation(_ context.Context, userID string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := append(prune(s.violations[userID], now.Add(-window)), now)
	s.violations[userID] = kept
	return len(kept), nil
}

func (s *MemoryStore) SetBlock(_ context.Context, userID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[userID] = until
	return nil
}

func (s *MemoryStore) BlockedUntil(_ context.Context, userID string, now time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[userID]
	if !ok || !now.Before(until) {
		delete(s.blocks, userID)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

// prune drops timestamps at or before cutoff. Slices stay sorted
// because entries are appended in clock order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
