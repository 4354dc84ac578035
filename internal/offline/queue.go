package offline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/clock"
	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
	"github.com/alexnthnz/notification-dispatch/internal/retry"
)

// Store is the durable backing of the offline queue. Queued work must
// survive process restarts.
type Store interface {
	// Insert persists a queued notification. A second insert for the
	// same event id is a no-op so re-dispatch cannot duplicate rows.
	Insert(ctx context.Context, item notification.QueuedNotification) error

	// PendingFor returns the recipient's undelivered items, oldest
	// first.
	PendingFor(ctx context.Context, recipientID string) ([]notification.QueuedNotification, error)

	// Due returns undelivered items whose next_retry_at has passed.
	Due(ctx context.Context, now time.Time, limit int) ([]notification.QueuedNotification, error)

	// MarkDelivered finalizes an item. Exactly one of MarkDelivered or
	// Delete terminates an item's life.
	MarkDelivered(ctx context.Context, id string, at time.Time) error

	// UpdateRetry records a failed replay and its reschedule.
	UpdateRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error

	// Delete removes an abandoned item.
	Delete(ctx context.Context, id string) error

	// PendingCount returns how many undelivered items the store holds.
	PendingCount(ctx context.Context) (int, error)

	// PurgeUser removes every pending item for a deleted account.
	PurgeUser(ctx context.Context, userID string) (int, error)

	// DeleteDeliveredBefore prunes delivered rows past retention.
	DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ReplayResult reports the outcome of one live replay attempt. A
// non-zero DeferUntil means the recipient cannot be notified yet (a
// quiet window is in effect); the item is rescheduled to that instant
// without spending a retry.
type ReplayResult struct {
	Delivered  bool
	DeferUntil time.Time
	Reason     string
}

// DeliverFunc attempts live delivery of a replayed event.
type DeliverFunc func(ctx context.Context, event notification.Event) ReplayResult

// Auditor is the slice of the audit log the queue needs: abandonment
// is never silent.
type Auditor interface {
	Record(ctx context.Context, eventID, userID string, decision notification.Decision, channel notification.Channel, detail string) error
}

// Queue is the durable store of notifications that could not be
// delivered live. Items are replayed when the recipient reconnects or
// polls, and by a recurring background sweep, each replay bounded by
// the item's own retry budget.
type Queue struct {
	store   Store
	deliver DeliverFunc
	auditor Auditor
	policy  retry.Policy
	cfg     config.OfflineConfig
	clk     clock.Clock
	logger  *zap.Logger

	batchSize int
	onAbandon func(item notification.QueuedNotification)
	onDepth   func(pending int)
}

// New creates a Queue. The deliver callback is bound after
// construction to break the cycle with the orchestrator.
func New(store Store, auditor Auditor, policy retry.Policy, cfg config.OfflineConfig, clk clock.Clock, logger *zap.Logger) *Queue {
	return &Queue{
		store:     store,
		auditor:   auditor,
		policy:    policy,
		cfg:       cfg,
		clk:       clk,
		logger:    logger,
		batchSize: 100,
	}
}

// Bind attaches the live-delivery callback. Must be called before any
// drain runs.
func (q *Queue) Bind(deliver DeliverFunc) {
	q.deliver = deliver
}

// OnAbandon registers a hook observed by metrics when an item exhausts
// its budget.
func (q *Queue) OnAbandon(fn func(item notification.QueuedNotification)) {
	q.onAbandon = fn
}

// OnDepth registers a hook that receives the pending item count after
// every sweep, feeding the queue depth gauge.
func (q *Queue) OnDepth(fn func(pending int)) {
	q.onDepth = fn
}

// Enqueue persists an event for later replay with a fresh retry
// budget, independent of whatever per-channel retries were already
// spent.
func (q *Queue) Enqueue(ctx context.Context, event notification.Event) error {
	now := q.clk.Now()
	item := notification.QueuedNotification{
		ID:          uuid.New().String(),
		EventID:     event.ID,
		RecipientID: event.RecipientID,
		Type:        event.Type,
		Title:       event.Title,
		Body:        event.Body,
		Data:        event.Data,
		MaxRetries:  q.cfg.MaxRetries,
		NextRetryAt: now,
		CreatedAt:   now,
	}
	if err := q.store.Insert(ctx, item); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	q.logger.Info("notification queued for offline delivery",
		zap.String("event_id", event.ID),
		zap.String("recipient_id", event.RecipientID),
	)
	return nil
}

// DrainFor replays every pending item for a recipient, called on
// reconnect and on explicit client poll. Returns how many items
// delivered.
func (q *Queue) DrainFor(ctx context.Context, recipientID string) (int, error) {
	items, err := q.store.PendingFor(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending notifications: %w", err)
	}

	delivered := 0
	for _, item := range items {
		if q.replay(ctx, item) {
			delivered++
		}
	}
	return delivered, nil
}

// Sweep replays items that are due for another attempt and prunes
// delivered rows past retention. Called by the background loop.
func (q *Queue) Sweep(ctx context.Context) error {
	now := q.clk.Now()

	due, err := q.store.Due(ctx, now, q.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list due notifications: %w", err)
	}
	for _, item := range due {
		q.replay(ctx, item)
	}

	if q.cfg.Retention > 0 {
		if n, err := q.store.DeleteDeliveredBefore(ctx, now.Add(-q.cfg.Retention)); err != nil {
			q.logger.Error("failed to prune delivered notifications", zap.Error(err))
		} else if n > 0 {
			q.logger.Debug("pruned delivered notifications", zap.Int("count", n))
		}
	}

	if q.onDepth != nil {
		if pending, err := q.store.PendingCount(ctx); err != nil {
			q.logger.Error("failed to count pending notifications", zap.Error(err))
		} else {
			q.onDepth(pending)
		}
	}
	return nil
}

// MarkDelivered finalizes an item delivered outside a drain (a client
// acknowledging receipt directly).
func (q *Queue) MarkDelivered(ctx context.Context, id string) error {
	return q.store.MarkDelivered(ctx, id, q.clk.Now())
}

// PurgeUser drops all pending items for a deleted account.
func (q *Queue) PurgeUser(ctx context.Context, userID string) (int, error) {
	return q.store.PurgeUser(ctx, userID)
}

// replay attempts one item and applies the retry bookkeeping. Returns
// true when the item delivered.
func (q *Queue) replay(ctx context.Context, item notification.QueuedNotification) bool {
	res := q.deliver(ctx, item.Event())
	if res.Delivered {
		if err := q.store.MarkDelivered(ctx, item.ID, q.clk.Now()); err != nil {
			q.logger.Error("failed to mark queued notification delivered",
				zap.String("event_id", item.EventID), zap.Error(err))
		}
		return true
	}

	if !res.DeferUntil.IsZero() {
		// Not a delivery failure: the recipient's quiet window is in
		// effect. Park the item until the window ends with the retry
		// count untouched.
		if err := q.store.UpdateRetry(ctx, item.ID, item.RetryCount, res.DeferUntil, res.Reason); err != nil {
			q.logger.Error("failed to defer queued notification",
				zap.String("event_id", item.EventID), zap.Error(err))
		}
		return false
	}

	retries := item.RetryCount + 1
	if retries > item.MaxRetries {
		q.abandon(ctx, item, res.Reason)
		return false
	}

	next := q.clk.Now().Add(q.policy.Delay(retries - 1))
	if err := q.store.UpdateRetry(ctx, item.ID, retries, next, res.Reason); err != nil {
		q.logger.Error("failed to reschedule queued notification",
			zap.String("event_id", item.EventID), zap.Error(err))
	}
	return false
}

// abandon removes an item whose budget is spent. Never silent: the
// abandonment is audited and surfaced to metrics.
func (q *Queue) abandon(ctx context.Context, item notification.QueuedNotification, reason string) {
	detail := fmt.Sprintf("offline retries exhausted after %d attempts: %s", item.MaxRetries, reason)
	if err := q.auditor.Record(ctx, item.EventID, item.RecipientID, notification.DecisionAbandoned, "", detail); err != nil {
		q.logger.Error("failed to audit abandoned notification",
			zap.String("event_id", item.EventID), zap.Error(err))
	}
	if q.onAbandon != nil {
		q.onAbandon(item)
	}
	if err := q.store.Delete(ctx, item.ID); err != nil {
		q.logger.Error("failed to delete abandoned notification",
			zap.String("event_id", item.EventID), zap.Error(err))
	}

	q.logger.Warn("queued notification abandoned",
		zap.String("event_id", item.EventID),
		zap.String("recipient_id", item.RecipientID),
		zap.Int("max_retries", item.MaxRetries),
	)
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	interval := q.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	q.logger.Info("offline queue sweep started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("offline queue sweep stopped")
			return
		case <-ticker.C:
			if err := q.Sweep(ctx); err != nil {
				q.logger.Error("offline sweep failed", zap.Error(err))
			}
		}
	}
}
