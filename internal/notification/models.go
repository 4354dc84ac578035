package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type classifies a notification event. The set mirrors the business
// actions that produce notifications; callers pick one, the dispatcher
// never invents its own.
type Type string

const (
	TypeLike    Type = "like"
	TypeComment Type = "comment"
	TypeFollow  Type = "follow"
	TypeMention Type = "mention"
	TypeMessage Type = "message"
	TypePayment Type = "payment"
	TypeSystem  Type = "system"
)

// Urgent reports whether events of this type may ignore quiet hours.
func (t Type) Urgent() bool {
	return t == TypePayment || t == TypeSystem
}

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	switch t {
	case TypeLike, TypeComment, TypeFollow, TypeMention, TypeMessage, TypePayment, TypeSystem:
		return true
	}
	return false
}

// Channel identifies one delivery mechanism.
type Channel string

const (
	ChannelSocket Channel = "socket"
	ChannelPush   Channel = "push"
	ChannelRelay  Channel = "relay"
)

// Event is the immutable notification handed to Dispatch by business
// callers. Title, body and data are opaque to the dispatcher.
type Event struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	Type        Type              `json:"type"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

var (
	ErrMissingID        = errors.New("event id is required")
	ErrMissingRecipient = errors.New("event recipient is required")
	ErrMissingBody      = errors.New("event body is required")
)

// Validate checks the structural fields a caller must supply. These are
// the only failures a Dispatch caller ever sees; delivery failures are
// handled downstream.
func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(e.RecipientID) == "" {
		return ErrMissingRecipient
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown notification type %q", e.Type)
	}
	if strings.TrimSpace(e.Body) == "" {
		return ErrMissingBody
	}
	return nil
}

// Outcome is the result of a single channel attempt.
type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
	OutcomeSuppressed       Outcome = "suppressed"
)

// DeliveryAttempt records one (event, channel) send. Attempts are
// append-only; they are written on every attempt and never updated.
type DeliveryAttempt struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	Channel     Channel   `json:"channel"`
	Outcome     Outcome   `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	RetryCount  int       `json:"retry_count"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// QueuedNotification is the durable form of an event awaiting offline
// replay. It is mutated on each failed replay and removed (marked
// delivered) exactly once.
type QueuedNotification struct {
	ID          string            `json:"id"`
	EventID     string            `json:"event_id"`
	RecipientID string            `json:"recipient_id"`
	Type        Type              `json:"type"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	NextRetryAt time.Time         `json:"next_retry_at"`
	LastError   string            `json:"last_error,omitempty"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Event reconstructs the original event carried by a queued item.
func (q QueuedNotification) Event() Event {
	return Event{
		ID:          q.EventID,
		RecipientID: q.RecipientID,
		Type:        q.Type,
		Title:       q.Title,
		Body:        q.Body,
		Data:        q.Data,
		CreatedAt:   q.CreatedAt,
	}
}

// Decision marks a point in the dispatch pipeline for auditing.
type Decision string

const (
	DecisionFiltered       Decision = "filtered"
	DecisionTypeDisabled   Decision = "type_disabled"
	DecisionRateLimited    Decision = "rate_limited"
	DecisionAutoBlocked    Decision = "auto_blocked"
	DecisionDelivered      Decision = "delivered"
	DecisionQueued         Decision = "queued"
	DecisionRetryScheduled Decision = "retry_scheduled"
	DecisionExhausted      Decision = "exhausted"
	DecisionAbandoned      Decision = "abandoned"
	DecisionPurged         Decision = "purged"
)

// AuditLogEntry is one append-only record of a dispatch decision.
// Enough context is kept to reconstruct why a user did or did not get
// notified.
type AuditLogEntry struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	Decision  Decision  `json:"decision"`
	Channel   Channel   `json:"channel,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DispatchStatus summarizes what Dispatch decided for an event.
type DispatchStatus string

const (
	StatusDispatched DispatchStatus = "dispatched"
	StatusSuppressed DispatchStatus = "suppressed"
	StatusQueued     DispatchStatus = "queued"
)

// DispatchResult is returned to the caller once the decision gates have
// run and channel attempts have been fired. It says nothing about final
// delivery; delivery is tracked asynchronously per attempt.
type DispatchResult struct {
	EventID  string         `json:"event_id"`
	Status   DispatchStatus `json:"status"`
	Reason   string         `json:"reason,omitempty"`
	Channels []Channel      `json:"channels,omitempty"`
}
