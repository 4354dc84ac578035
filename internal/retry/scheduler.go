package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/clock"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// ScheduledRetry is the persisted state of one pending (event, channel)
// redelivery. The full payload is carried so the sweep can re-invoke
// the send path without a second event source.
type ScheduledRetry struct {
	EventID       string
	Channel       notification.Channel
	RecipientID   string
	Type          notification.Type
	Title         string
	Body          string
	Data          map[string]string
	Attempt       int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}

// Event reconstructs the event a scheduled retry will redeliver.
func (r ScheduledRetry) Event() notification.Event {
	return notification.Event{
		ID:          r.EventID,
		RecipientID: r.RecipientID,
		Type:        r.Type,
		Title:       r.Title,
		Body:        r.Body,
		Data:        r.Data,
		CreatedAt:   r.CreatedAt,
	}
}

// Store persists scheduled retries across restarts.
type Store interface {
	Upsert(ctx context.Context, item ScheduledRetry) error
	Due(ctx context.Context, now time.Time, limit int) ([]ScheduledRetry, error)
	Delete(ctx context.Context, eventID string, channel notification.Channel) error
	DeleteEvent(ctx context.Context, eventID string) (int, error)
	PurgeUser(ctx context.Context, userID string) (int, error)
}

// SendFunc re-invokes the orchestrator's per-channel send path for one
// due retry and reports the attempt outcome.
type SendFunc func(ctx context.Context, event notification.Event, channel notification.Channel, attempt int) notification.Outcome

// ExhaustFunc is called when a pair spends its retry budget, so the
// orchestrator can audit the exhaustion and fall back to the offline
// queue if nothing ever delivered the event.
type ExhaustFunc func(ctx context.Context, event notification.Event, channel notification.Channel, lastError string)

// Scheduler drives per-channel redelivery of transient failures. It
// runs as a recurring background sweep; each due item transitions
// Delivered, back to pending with a longer backoff, or out of the
// schedule entirely (permanent failure or exhausted budget).
type Scheduler struct {
	store   Store
	policy  Policy
	send    SendFunc
	exhaust ExhaustFunc
	clk     clock.Clock
	logger  *zap.Logger

	sweepInterval time.Duration
	batchSize     int
}

// NewScheduler creates a Scheduler. Callbacks are bound after
// construction to break the cycle with the orchestrator.
func NewScheduler(store Store, policy Policy, sweepInterval time.Duration, clk clock.Clock, logger *zap.Logger) *Scheduler {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &Scheduler{
		store:         store,
		policy:        policy,
		clk:           clk,
		logger:        logger,
		sweepInterval: sweepInterval,
		batchSize:     100,
	}
}

// Bind attaches the orchestrator callbacks. Must be called before Run
// or Sweep.
func (s *Scheduler) Bind(send SendFunc, exhaust ExhaustFunc) {
	s.send = send
	s.exhaust = exhaust
}

// Schedule queues the first retry for a transiently failed channel.
// attempt is the number of failed sends so far for the pair.
func (s *Scheduler) Schedule(ctx context.Context, event notification.Event, channel notification.Channel, attempt int, lastError string) error {
	if s.policy.Exhausted(attempt) {
		// Budget already spent, nothing to schedule.
		return nil
	}

	item := ScheduledRetry{
		EventID:       event.ID,
		Channel:       channel,
		RecipientID:   event.RecipientID,
		Type:          event.Type,
		Title:         event.Title,
		Body:          event.Body,
		Data:          event.Data,
		Attempt:       attempt,
		NextAttemptAt: s.clk.Now().Add(s.policy.Delay(attempt - 1)),
		LastError:     lastError,
		CreatedAt:     event.CreatedAt,
	}
	if err := s.store.Upsert(ctx, item); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	s.logger.Debug("retry scheduled",
		zap.String("event_id", event.ID),
		zap.String("channel", string(channel)),
		zap.Int("attempt", attempt),
		zap.Time("next_attempt_at", item.NextAttemptAt),
	)
	return nil
}

// CancelEvent drops every pending retry for an event, used when the
// event moves to the offline queue so it is never both queued and
// retried live.
func (s *Scheduler) CancelEvent(ctx context.Context, eventID string) error {
	n, err := s.store.DeleteEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to cancel retries: %w", err)
	}
	if n > 0 {
		s.logger.Debug("retries cancelled", zap.String("event_id", eventID), zap.Int("count", n))
	}
	return nil
}

// PurgeUser drops every pending retry for a deleted account.
func (s *Scheduler) PurgeUser(ctx context.Context, userID string) (int, error) {
	return s.store.PurgeUser(ctx, userID)
}

// Sweep processes every due retry once. It is called periodically by
// Run and directly by tests.
func (s *Scheduler) Sweep(ctx context.Context) error {
	now := s.clk.Now()
	due, err := s.store.Due(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list due retries: %w", err)
	}

	for _, item := range due {
		s.process(ctx, item)
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, item ScheduledRetry) {
	event := item.Event()
	outcome := s.send(ctx, event, item.Channel, item.Attempt)

	switch outcome {
	case notification.OutcomeDelivered, notification.OutcomeSuppressed:
		if err := s.store.Delete(ctx, item.EventID, item.Channel); err != nil {
			s.logger.Error("failed to remove completed retry", zap.String("event_id", item.EventID), zap.Error(err))
		}

	case notification.OutcomePermanentFailure:
		if err := s.store.Delete(ctx, item.EventID, item.Channel); err != nil {
			s.logger.Error("failed to remove dead retry", zap.String("event_id", item.EventID), zap.Error(err))
		}

	case notification.OutcomeTransientFailure:
		attempts := item.Attempt + 1
		if s.policy.Exhausted(attempts) {
			if err := s.store.Delete(ctx, item.EventID, item.Channel); err != nil {
				s.logger.Error("failed to remove exhausted retry", zap.String("event_id", item.EventID), zap.Error(err))
			}
			s.logger.Warn("retry budget exhausted",
				zap.String("event_id", item.EventID),
				zap.String("channel", string(item.Channel)),
				zap.Int("attempts", attempts),
			)
			if s.exhaust != nil {
				s.exhaust(ctx, event, item.Channel, item.LastError)
			}
			return
		}

		item.Attempt = attempts
		item.NextAttemptAt = s.clk.Now().Add(s.policy.Delay(attempts - 1))
		if err := s.store.Upsert(ctx, item); err != nil {
			s.logger.Error("failed to reschedule retry", zap.String("event_id", item.EventID), zap.Error(err))
		}
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Info("retry scheduler started", zap.Duration("interval", s.sweepInterval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("retry sweep failed", zap.Error(err))
			}
		}
	}
}

// marshalData serializes the payload map for SQL storage.
func marshalData(data map[string]string) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}
