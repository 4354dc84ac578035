package offline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// MemoryStore keeps queued notifications in memory. Tests use it both
// directly and to simulate restarts: the store instance outlives the
// Queue built on top of it.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]notification.QueuedNotification
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]notification.QueuedNotification)}
}

func (s *MemoryStore) Insert(_ context.Context, item notification.QueuedNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.EventID == item.EventID {
			return nil
		}
	}
	s.items[item.ID] = item
	return nil
}

func (s *MemoryStore) PendingFor(_ context.Context, recipientID string) ([]notification.QueuedNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notification.QueuedNotification
	for _, item := range s.items {
		if item.RecipientID == recipientID && item.DeliveredAt == nil {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]notification.QueuedNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notification.QueuedNotification
	for _, item := range s.items {
		if item.DeliveredAt == nil && !item.NextRetryAt.After(now) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil
	}
	item.DeliveredAt = &at
	s.items[id] = item
	return nil
}

func (s *MemoryStore) UpdateRetry(_ context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil
	}
	item.RetryCount = retryCount
	item.NextRetryAt = nextRetryAt
	item.LastError = lastError
	s.items[id] = item
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) PendingCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, item := range s.items {
		if item.DeliveredAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, item := range s.items {
		if item.RecipientID == userID && item.DeliveredAt == nil {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteDeliveredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, item := range s.items {
		if item.DeliveredAt != nil && item.DeliveredAt.Before(cutoff) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}
