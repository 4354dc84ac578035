package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/alexnthnz/notification-dispatch/internal/clock"
	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// Store holds the sliding-window counters and block state. Counters are
// ephemeral; losing them only loosens limits until the window refills.
type Store interface {
	// RecordIfAllowed atomically checks the key's count inside the
	// window and records one more send if it is under limit.
	RecordIfAllowed(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error)

	// RecordViolation counts a rejected acquire inside the violation
	// window and returns the running total.
	RecordViolation(ctx context.Context, userID string, now time.Time, window time.Duration) (int, error)

	// SetBlock suppresses all of the user's notifications until the
	// given time.
	SetBlock(ctx context.Context, userID string, until time.Time) error

	// BlockedUntil reports an active block, if any.
	BlockedUntil(ctx context.Context, userID string, now time.Time) (time.Time, bool, error)
}

// Result is the outcome of a TryAcquire call.
type Result struct {
	Allowed bool
	// Reason is set when the acquire was denied: "max_per_hour",
	// "max_per_day" or "auto_blocked".
	Reason string
	// AutoBlocked is true on the acquire that tripped a new block, so
	// the caller can audit the block itself once.
	AutoBlocked bool
}

// Limiter enforces per-user, per-type send ceilings over sliding hour
// and day windows, with a temporary full block after repeated
// violations.
type Limiter struct {
	store Store
	cfg   config.RateLimitConfig
	clk   clock.Clock
}

// New creates a Limiter.
func New(store Store, cfg config.RateLimitConfig, clk clock.Clock) *Limiter {
	return &Limiter{store: store, cfg: cfg, clk: clk}
}

// TryAcquire checks and consumes one send for (userID, typ). The caps
// arguments come from user preferences; zero falls back to the
// deployment defaults. System-typed events bypass the limiter when the
// deployment allows it.
func (l *Limiter) TryAcquire(ctx context.Context, userID string, typ notification.Type, maxPerHour, maxPerDay int) (*Result, error) {
	if typ == notification.TypeSystem && l.cfg.SystemBypass {
		return &Result{Allowed: true}, nil
	}

	now := l.clk.Now()

	if until, blocked, err := l.store.BlockedUntil(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to check block state: %w", err)
	} else if blocked {
		return &Result{Allowed: false, Reason: fmt.Sprintf("auto_blocked until %s", until.UTC().Format(time.RFC3339))}, nil
	}

	if maxPerHour <= 0 {
		maxPerHour = l.cfg.MaxPerHour
	}
	if maxPerDay <= 0 {
		maxPerDay = l.cfg.MaxPerDay
	}

	hourKey := fmt.Sprintf("%s:%s:hour", userID, typ)
	ok, err := l.store.RecordIfAllowed(ctx, hourKey, now, time.Hour, maxPerHour)
	if err != nil {
		return nil, fmt.Errorf("failed to update hourly counter: %w", err)
	}
	if !ok {
		return l.deny(ctx, userID, now, "max_per_hour")
	}

	dayKey := fmt.Sprintf("%s:%s:day", userID, typ)
	ok, err = l.store.RecordIfAllowed(ctx, dayKey, now, 24*time.Hour, maxPerDay)
	if err != nil {
		return nil, fmt.Errorf("failed to update daily counter: %w", err)
	}
	if !ok {
		return l.deny(ctx, userID, now, "max_per_day")
	}

	return &Result{Allowed: true}, nil
}

// deny records the violation and trips the auto-block once the
// threshold is crossed inside the violation window.
func (l *Limiter) deny(ctx context.Context, userID string, now time.Time, reason string) (*Result, error) {
	res := &Result{Allowed: false, Reason: reason}

	if l.cfg.AutoBlockThreshold <= 0 {
		return res, nil
	}

	violations, err := l.store.RecordViolation(ctx, userID, now, l.cfg.ViolationWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to record violation: %w", err)
	}
	if violations >= l.cfg.AutoBlockThreshold {
		if err := l.store.SetBlock(ctx, userID, now.Add(l.cfg.AutoBlockCooldown)); err != nil {
			return nil, fmt.Errorf("failed to set auto-block: %w", err)
		}
		res.AutoBlocked = true
	}
	return res, nil
}
