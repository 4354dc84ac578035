package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// MemoryStore keeps attempts in memory, for tests and single-node
// development setups.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts []notification.DeliveryAttempt
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, attempt notification.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *MemoryStore) ListByEvent(_ context.Context, eventID string) ([]notification.DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []notification.DeliveryAttempt
	for _, a := range s.attempts {
		if a.EventID == eventID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) HasDelivered(_ context.Context, eventID string, channel notification.Channel) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.attempts {
		if a.EventID == eventID && a.Channel == channel && a.Outcome == notification.OutcomeDelivered {
			return true, nil
		}
	}
	return false, nil
}

// MemoryClaimer serializes (event, channel) attempts within a single
// process.
type MemoryClaimer struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

// NewMemoryClaimer creates an empty in-process claimer.
func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{claims: make(map[string]time.Time)}
}

func (c *MemoryClaimer) Acquire(_ context.Context, eventID string, channel notification.Channel, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := eventID + ":" + string(channel)
	if expiry, held := c.claims[key]; held && time.Now().Before(expiry) {
		return false, nil
	}
	c.claims[key] = time.Now().Add(ttl)
	return true, nil
}

func (c *MemoryClaimer) Release(_ context.Context, eventID string, channel notification.Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.claims, eventID+":"+string(channel))
	return nil
}
