package channels

import (
	"context"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// Result classifies the outcome of one send. Reason carries the
// provider's error detail for transient and permanent failures.
type Result struct {
	Outcome notification.Outcome
	Reason  string
}

// Delivered is a convenience Result for successful sends.
func Delivered() Result {
	return Result{Outcome: notification.OutcomeDelivered}
}

// Transient marks a retry-eligible failure (timeouts, unavailability).
func Transient(reason string) Result {
	return Result{Outcome: notification.OutcomeTransientFailure, Reason: reason}
}

// Permanent marks a failure that retrying the same channel cannot fix
// (invalid target, rejected payload).
func Permanent(reason string) Result {
	return Result{Outcome: notification.OutcomePermanentFailure, Reason: reason}
}

// Provider delivers notifications over a single channel. Providers
// resolve the recipient to their own target form (connection, device
// token, relay subscriber) and must honor ctx cancellation; the caller
// applies the per-send timeout.
type Provider interface {
	Channel() notification.Channel
	Send(ctx context.Context, recipientID string, event notification.Event) Result
}

// Registry holds the providers selected at startup, iterated in a
// fixed preference order rather than discovered dynamically.
type Registry struct {
	providers map[notification.Channel]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[notification.Channel]Provider)}
}

// Register adds a provider. Later registrations for the same channel
// replace earlier ones.
func (r *Registry) Register(p Provider) {
	r.providers[p.Channel()] = p
}

// Get returns the provider for a channel, if one is registered.
func (r *Registry) Get(channel notification.Channel) (Provider, bool) {
	p, ok := r.providers[channel]
	return p, ok
}

// Channels returns the registered channel identifiers.
func (r *Registry) Channels() []notification.Channel {
	out := make([]notification.Channel, 0, len(r.providers))
	for ch := range r.providers {
		out = append(out, ch)
	}
	return out
}
