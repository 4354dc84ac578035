package retry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// MemoryStore keeps scheduled retries in memory, for tests and
// single-node development setups.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]ScheduledRetry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]ScheduledRetry)}
}

func key(eventID string, channel notification.Channel) string {
	return eventID + ":" + string(channel)
}

func (s *MemoryStore) Upsert(_ context.Context, item ScheduledRetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key(item.EventID, item.Channel)] = item
	return nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]ScheduledRetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ScheduledRetry
	for _, item := range s.items {
		if !item.NextAttemptAt.After(now) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, eventID string, channel notification.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key(eventID, channel))
	return nil
}

func (s *MemoryStore) DeleteEvent(_ context.Context, eventID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, item := range s.items {
		if item.EventID == eventID {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, item := range s.items {
		if item.RecipientID == userID {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}
