package audit

import (
	"context"
	"sync"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// MemoryStore keeps audit entries in memory, for tests and single-node
// development setups.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []notification.AuditLogEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry notification.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) ListByEvent(_ context.Context, eventID string) ([]notification.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []notification.AuditLogEntry
	for _, e := range s.entries {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]notification.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []notification.AuditLogEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
