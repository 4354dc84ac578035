package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/audit"
	"github.com/alexnthnz/notification-dispatch/internal/channels"
	"github.com/alexnthnz/notification-dispatch/internal/clock"
	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/alexnthnz/notification-dispatch/internal/filter"
	"github.com/alexnthnz/notification-dispatch/internal/monitoring"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
	"github.com/alexnthnz/notification-dispatch/internal/offline"
	"github.com/alexnthnz/notification-dispatch/internal/preferences"
	"github.com/alexnthnz/notification-dispatch/internal/ratelimit"
	"github.com/alexnthnz/notification-dispatch/internal/retry"
	"github.com/alexnthnz/notification-dispatch/internal/tracker"
)

// Orchestrator sequences the dispatch pipeline: content filter, rate
// limit, preference resolution, ordered channel attempts with
// fallback, retry scheduling, and the offline queue when nothing
// delivers live.
type Orchestrator struct {
	registry   *channels.Registry
	prefs      *preferences.Resolver
	filter     *filter.Filter
	limiter    *ratelimit.Limiter
	tracker    *tracker.Tracker
	auditLog   *audit.Log
	retries    *retry.Scheduler
	offline    *offline.Queue
	channelCfg config.ChannelsConfig
	metrics    *monitoring.Metrics
	clk        clock.Clock
	logger     *zap.Logger
}

// New wires the pipeline and binds the retry and offline callbacks
// back onto the orchestrator's send path.
func New(
	registry *channels.Registry,
	prefs *preferences.Resolver,
	contentFilter *filter.Filter,
	limiter *ratelimit.Limiter,
	deliveryTracker *tracker.Tracker,
	auditLog *audit.Log,
	retries *retry.Scheduler,
	offlineQueue *offline.Queue,
	channelCfg config.ChannelsConfig,
	metrics *monitoring.Metrics,
	clk clock.Clock,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		registry:   registry,
		prefs:      prefs,
		filter:     contentFilter,
		limiter:    limiter,
		tracker:    deliveryTracker,
		auditLog:   auditLog,
		retries:    retries,
		offline:    offlineQueue,
		channelCfg: channelCfg,
		metrics:    metrics,
		clk:        clk,
		logger:     logger,
	}

	retries.Bind(o.retrySend, o.retryExhausted)
	offlineQueue.Bind(o.redeliver)
	offlineQueue.OnAbandon(func(notification.QueuedNotification) {
		metrics.OfflineAbandoned.Inc()
	})
	offlineQueue.OnDepth(func(pending int) {
		metrics.QueueDepth.Set(float64(pending))
	})

	return o
}

// Dispatch runs the decision gates and fires channel attempts. It
// returns once the gates are evaluated and attempts have run; final
// delivery is tracked asynchronously. The only errors a caller sees
// are structural (invalid event) or a failure to durably queue.
func (o *Orchestrator) Dispatch(ctx context.Context, event notification.Event) (*notification.DispatchResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = o.clk.Now()
	}

	// Content filter runs before the rate limiter so rejected payloads
	// never consume quota.
	if v := o.filter.Check(event); v != nil {
		o.audit(ctx, event.ID, event.RecipientID, notification.DecisionFiltered, "", v.String())
		o.metrics.Filtered.Inc()
		o.metrics.RecordDispatch("suppressed")
		o.logger.Info("notification suppressed by content filter",
			zap.String("event_id", event.ID), zap.String("category", v.Category))
		return &notification.DispatchResult{
			EventID: event.ID,
			Status:  notification.StatusSuppressed,
			Reason:  "content_filtered",
		}, nil
	}

	// Preferences are resolved ahead of the rate limiter because the
	// per-user caps live there. A rate-limited dispatch therefore still
	// creates the user's default preferences row on first contact.
	res, err := o.prefs.Resolve(ctx, event.RecipientID, event.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve preferences for %s: %w", event.RecipientID, err)
	}

	limit, err := o.limiter.TryAcquire(ctx, event.RecipientID, event.Type, res.Prefs.MaxPerHour, res.Prefs.MaxPerDay)
	if err != nil {
		// A broken counter store must not drop notifications; fail
		// open and keep going.
		o.logger.Warn("rate limiter unavailable, allowing dispatch",
			zap.String("event_id", event.ID), zap.Error(err))
		limit = &ratelimit.Result{Allowed: true}
	}
	if !limit.Allowed {
		o.audit(ctx, event.ID, event.RecipientID, notification.DecisionRateLimited, "", limit.Reason)
		if limit.AutoBlocked {
			o.audit(ctx, event.ID, event.RecipientID, notification.DecisionAutoBlocked, "",
				"repeated rate-limit violations triggered temporary suppression")
		}
		o.metrics.RecordRateLimited(limit.Reason)
		o.metrics.RecordDispatch("suppressed")
		return &notification.DispatchResult{
			EventID: event.ID,
			Status:  notification.StatusSuppressed,
			Reason:  "rate_limited",
		}, nil
	}

	// An explicit empty channel list means the user turned the type
	// off; that's a suppression, not something to queue for later.
	if len(res.Channels) == 0 {
		o.audit(ctx, event.ID, event.RecipientID, notification.DecisionTypeDisabled, "",
			fmt.Sprintf("user disabled %s notifications", event.Type))
		o.metrics.RecordDispatch("suppressed")
		return &notification.DispatchResult{
			EventID: event.ID,
			Status:  notification.StatusSuppressed,
			Reason:  "type_disabled",
		}, nil
	}

	if res.QuietHours && !event.Type.Urgent() {
		return o.queueForLater(ctx, event, "quiet hours")
	}

	eligible := o.eligible(res.Channels)
	if len(eligible) == 0 {
		return o.queueForLater(ctx, event, "no eligible channel")
	}

	retrying := false
	for _, ch := range eligible {
		result := o.sendOnce(ctx, event, ch, 0)
		switch result.Outcome {
		case notification.OutcomeDelivered:
			o.metrics.RecordDispatch("dispatched")
			return &notification.DispatchResult{
				EventID:  event.ID,
				Status:   notification.StatusDispatched,
				Channels: eligible,
			}, nil

		case notification.OutcomeTransientFailure:
			if err := o.retries.Schedule(ctx, event, ch, 1, result.Reason); err != nil {
				o.logger.Error("failed to schedule retry",
					zap.String("event_id", event.ID), zap.String("channel", string(ch)), zap.Error(err))
			} else {
				retrying = true
				o.audit(ctx, event.ID, event.RecipientID, notification.DecisionRetryScheduled, ch, result.Reason)
				o.metrics.RecordRetryScheduled(string(ch))
			}
			// Fall through to the next channel.

		case notification.OutcomePermanentFailure:
			// Recorded by sendOnce; never retried on this channel.
		}
	}

	if retrying {
		// The retry scheduler owns the event now; it falls to the
		// offline queue only if the budget runs out undelivered.
		o.metrics.RecordDispatch("queued")
		return &notification.DispatchResult{
			EventID: event.ID,
			Status:  notification.StatusQueued,
			Reason:  "retries scheduled",
		}, nil
	}

	return o.queueForLater(ctx, event, "all channels failed")
}

// PurgeUser cancels every pending retry and queued notification for a
// deleted account and drops their preferences.
func (o *Orchestrator) PurgeUser(ctx context.Context, userID string) error {
	retries, err := o.retries.PurgeUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to purge scheduled retries: %w", err)
	}
	queued, err := o.offline.PurgeUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to purge offline queue: %w", err)
	}
	if err := o.prefs.Delete(ctx, userID); err != nil {
		return err
	}

	o.audit(ctx, "", userID, notification.DecisionPurged, "",
		fmt.Sprintf("account deleted: cancelled %d retries, %d queued notifications", retries, queued))
	o.logger.Info("purged user notification state",
		zap.String("user_id", userID), zap.Int("retries", retries), zap.Int("queued", queued))
	return nil
}

// Attempts returns the delivery attempt history for an event.
func (o *Orchestrator) Attempts(ctx context.Context, eventID string) ([]notification.DeliveryAttempt, error) {
	return o.tracker.Attempts(ctx, eventID)
}

// Trail returns the audit decision trail for an event.
func (o *Orchestrator) Trail(ctx context.Context, eventID string) ([]notification.AuditLogEntry, error) {
	return o.auditLog.Trail(ctx, eventID)
}

// eligible filters the user's preferred channel order down to channels
// that are enabled in configuration and actually registered.
func (o *Orchestrator) eligible(order []notification.Channel) []notification.Channel {
	var out []notification.Channel
	for _, ch := range order {
		switch ch {
		case notification.ChannelSocket:
			if !o.channelCfg.SocketEnabled {
				continue
			}
		case notification.ChannelPush:
			if !o.channelCfg.PushEnabled {
				continue
			}
		case notification.ChannelRelay:
			if !o.channelCfg.RelayEnabled {
				continue
			}
		}
		if _, ok := o.registry.Get(ch); ok {
			out = append(out, ch)
		}
	}
	return out
}

// sendOnce performs one idempotent, serialized attempt for (event,
// channel): it checks the tracker for a prior success, takes the
// per-pair claim, sends with the configured timeout, and records the
// outcome.
func (o *Orchestrator) sendOnce(ctx context.Context, event notification.Event, ch notification.Channel, retryCount int) channels.Result {
	if done, err := o.tracker.Delivered(ctx, event.ID, ch); err != nil {
		return channels.Transient(fmt.Sprintf("delivery lookup failed: %v", err))
	} else if done {
		// Already delivered on this channel; idempotent no-op.
		return channels.Delivered()
	}

	provider, ok := o.registry.Get(ch)
	if !ok {
		return channels.Permanent("channel not registered")
	}

	timeout := o.channelCfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	claimed, err := o.tracker.Claim(ctx, event.ID, ch, timeout+5*time.Second)
	if err != nil {
		return channels.Transient(fmt.Sprintf("claim failed: %v", err))
	}
	if !claimed {
		// Another worker is attempting this pair right now.
		return channels.Transient("delivery claim held elsewhere")
	}
	defer o.tracker.Unclaim(ctx, event.ID, ch)

	// Re-check under the claim: the other holder may have delivered
	// between our first check and the claim.
	if done, err := o.tracker.Delivered(ctx, event.ID, ch); err == nil && done {
		return channels.Delivered()
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := provider.Send(sendCtx, event.RecipientID, event)
	o.metrics.RecordChannelDuration(string(ch), time.Since(start).Seconds())

	if sendCtx.Err() == context.DeadlineExceeded && result.Outcome != notification.OutcomeDelivered {
		result = channels.Transient("send timed out")
	}

	if _, err := o.tracker.Record(ctx, event.ID, ch, result.Outcome, result.Reason, retryCount); err != nil {
		o.logger.Error("failed to record delivery attempt",
			zap.String("event_id", event.ID), zap.String("channel", string(ch)), zap.Error(err))
	}
	o.metrics.RecordAttempt(string(ch), string(result.Outcome))

	if result.Outcome == notification.OutcomeDelivered {
		o.audit(ctx, event.ID, event.RecipientID, notification.DecisionDelivered, ch, "")
		o.logger.Info("notification delivered",
			zap.String("event_id", event.ID), zap.String("channel", string(ch)), zap.Int("retry_count", retryCount))
	}
	return result
}

// retrySend is the scheduler's hook into the per-channel send path.
func (o *Orchestrator) retrySend(ctx context.Context, event notification.Event, ch notification.Channel, attempt int) notification.Outcome {
	return o.sendOnce(ctx, event, ch, attempt).Outcome
}

// retryExhausted handles a pair that spent its retry budget: the
// channel is done for this event, but if nothing delivered the event
// anywhere it still falls through to the offline queue.
func (o *Orchestrator) retryExhausted(ctx context.Context, event notification.Event, ch notification.Channel, lastError string) {
	o.audit(ctx, event.ID, event.RecipientID, notification.DecisionExhausted, ch,
		fmt.Sprintf("retry budget exhausted: %s", lastError))

	attempts, err := o.tracker.Attempts(ctx, event.ID)
	if err != nil {
		o.logger.Error("failed to check delivery history after exhaustion",
			zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	for _, a := range attempts {
		if a.Outcome == notification.OutcomeDelivered {
			return
		}
	}

	if _, err := o.queueForLater(ctx, event, "channel retries exhausted"); err != nil {
		o.logger.Error("failed to queue event after exhaustion",
			zap.String("event_id", event.ID), zap.Error(err))
	}
}

// redeliver is the offline queue's hook for replaying an item through
// the live channels. Quiet hours still apply: a non-urgent replay
// inside the user's quiet window is deferred to the window's end
// rather than counted as a failed attempt, so a long quiet window
// cannot exhaust the item's retry budget.
func (o *Orchestrator) redeliver(ctx context.Context, event notification.Event) offline.ReplayResult {
	res, err := o.prefs.Resolve(ctx, event.RecipientID, event.Type)
	if err != nil {
		return offline.ReplayResult{Reason: err.Error()}
	}
	if res.QuietHours && !event.Type.Urgent() {
		return offline.ReplayResult{
			DeferUntil: res.Prefs.QuietHoursEnd(o.clk.Now()),
			Reason:     "quiet hours",
		}
	}

	lastReason := "no eligible channel"
	for _, ch := range o.eligible(res.Channels) {
		result := o.sendOnce(ctx, event, ch, 0)
		if result.Outcome == notification.OutcomeDelivered {
			return offline.ReplayResult{Delivered: true}
		}
		if result.Reason != "" {
			lastReason = result.Reason
		}
	}
	return offline.ReplayResult{Reason: lastReason}
}

// queueForLater persists the event for offline replay. Pending
// per-channel retries are cancelled so the event is never both queued
// and retried live.
func (o *Orchestrator) queueForLater(ctx context.Context, event notification.Event, reason string) (*notification.DispatchResult, error) {
	if err := o.offline.Enqueue(ctx, event); err != nil {
		// Losing the event here would break guaranteed delivery, so
		// this one storage failure is surfaced to the caller.
		return nil, err
	}
	if err := o.retries.CancelEvent(ctx, event.ID); err != nil {
		o.logger.Error("failed to cancel retries for queued event",
			zap.String("event_id", event.ID), zap.Error(err))
	}

	o.audit(ctx, event.ID, event.RecipientID, notification.DecisionQueued, "", reason)
	o.metrics.OfflineQueued.Inc()
	o.metrics.RecordDispatch("queued")

	return &notification.DispatchResult{
		EventID: event.ID,
		Status:  notification.StatusQueued,
		Reason:  reason,
	}, nil
}

func (o *Orchestrator) audit(ctx context.Context, eventID, userID string, decision notification.Decision, ch notification.Channel, detail string) {
	if err := o.auditLog.Record(ctx, eventID, userID, decision, ch, detail); err != nil {
		o.logger.Error("failed to record audit entry",
			zap.String("event_id", eventID),
			zap.String("decision", string(decision)),
			zap.Error(err),
		)
	}
}
