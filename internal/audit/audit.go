package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/clock"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// Store persists audit entries. Entries are append-only; nothing in the
// dispatcher ever updates or deletes one.
type Store interface {
	Append(ctx context.Context, entry notification.AuditLogEntry) error
	ListByEvent(ctx context.Context, eventID string) ([]notification.AuditLogEntry, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]notification.AuditLogEntry, error)
}

// Log writes the delivery decision trail. Every gate decision and every
// terminal outcome goes through here so "why didn't this user get
// notified" is answerable from the store alone.
type Log struct {
	store  Store
	clk    clock.Clock
	logger *zap.Logger
}

// New creates an audit Log.
func New(store Store, clk clock.Clock, logger *zap.Logger) *Log {
	return &Log{store: store, clk: clk, logger: logger}
}

// Record appends one decision entry. A storage failure is surfaced to
// the caller; the dispatch pipeline logs it and carries on rather than
// failing the notification over its own audit trail.
func (l *Log) Record(ctx context.Context, eventID, userID string, decision notification.Decision, channel notification.Channel, detail string) error {
	entry := notification.AuditLogEntry{
		ID:        uuid.New().String(),
		EventID:   eventID,
		UserID:    userID,
		Decision:  decision,
		Channel:   channel,
		Detail:    detail,
		Actor:     "dispatcher",
		CreatedAt: l.clk.Now(),
	}

	if err := l.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	l.logger.Debug("audit entry recorded",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
		zap.String("decision", string(decision)),
		zap.String("channel", string(channel)),
	)
	return nil
}

// Trail returns the full decision trail for an event.
func (l *Log) Trail(ctx context.Context, eventID string) ([]notification.AuditLogEntry, error) {
	return l.store.ListByEvent(ctx, eventID)
}

// UserTrail returns the most recent decisions affecting a user.
func (l *Log) UserTrail(ctx context.Context, userID string, limit int) ([]notification.AuditLogEntry, error) {
	return l.store.ListByUser(ctx, userID, limit)
}
