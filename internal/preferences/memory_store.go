package preferences

import (
	"context"
	"sync"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// MemoryStore keeps preferences in memory, for tests and single-node
// development setups.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]notification.Preferences
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]notification.Preferences)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*notification.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prefs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) Put(_ context.Context, prefs notification.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs[prefs.UserID] = prefs
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.prefs, userID)
	return nil
}
