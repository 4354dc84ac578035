package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/clock"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// Store persists delivery attempts. Attempts are append-only; a row is
// written per send and never changed.
type Store interface {
	Append(ctx context.Context, attempt notification.DeliveryAttempt) error
	ListByEvent(ctx context.Context, eventID string) ([]notification.DeliveryAttempt, error)
	HasDelivered(ctx context.Context, eventID string, channel notification.Channel) (bool, error)
}

// Claimer serializes attempts for the same (event, channel) pair.
// Acquire returns false when another worker holds the pair.
type Claimer interface {
	Acquire(ctx context.Context, eventID string, channel notification.Channel, ttl time.Duration) (bool, error)
	Release(ctx context.Context, eventID string, channel notification.Channel) error
}

// Tracker records every channel attempt and answers the idempotency
// question the orchestrator asks before each send: has this channel
// already delivered this event.
type Tracker struct {
	store   Store
	claimer Claimer
	clk     clock.Clock
	logger  *zap.Logger
}

// New creates a Tracker.
func New(store Store, claimer Claimer, clk clock.Clock, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, claimer: claimer, clk: clk, logger: logger}
}

// Record appends one attempt outcome.
func (t *Tracker) Record(ctx context.Context, eventID string, channel notification.Channel, outcome notification.Outcome, errDetail string, retryCount int) (notification.DeliveryAttempt, error) {
	attempt := notification.DeliveryAttempt{
		ID:          uuid.New().String(),
		EventID:     eventID,
		Channel:     channel,
		Outcome:     outcome,
		Error:       errDetail,
		RetryCount:  retryCount,
		AttemptedAt: t.clk.Now(),
	}

	if err := t.store.Append(ctx, attempt); err != nil {
		return attempt, fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	t.logger.Debug("delivery attempt recorded",
		zap.String("event_id", eventID),
		zap.String("channel", string(channel)),
		zap.String("outcome", string(outcome)),
		zap.Int("retry_count", retryCount),
	)
	return attempt, nil
}

// Delivered reports whether the channel already has a successful
// attempt for the event.
func (t *Tracker) Delivered(ctx context.Context, eventID string, channel notification.Channel) (bool, error) {
	return t.store.HasDelivered(ctx, eventID, channel)
}

// Attempts returns the full attempt history for an event.
func (t *Tracker) Attempts(ctx context.Context, eventID string) ([]notification.DeliveryAttempt, error) {
	return t.store.ListByEvent(ctx, eventID)
}

// Claim takes the exclusive right to attempt (eventID, channel). The
// ttl guards against a crashed worker holding the pair forever.
func (t *Tracker) Claim(ctx context.Context, eventID string, channel notification.Channel, ttl time.Duration) (bool, error) {
	return t.claimer.Acquire(ctx, eventID, channel, ttl)
}

// Unclaim releases a claim taken by Claim.
func (t *Tracker) Unclaim(ctx context.Context, eventID string, channel notification.Channel) {
	if err := t.claimer.Release(ctx, eventID, channel); err != nil {
		t.logger.Warn("failed to release delivery claim",
			zap.String("event_id", eventID),
			zap.String("channel", string(channel)),
			zap.Error(err),
		)
	}
}
