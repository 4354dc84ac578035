package channels

import (
	"context"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// PushProvider delivers through the native mobile push gateway (FCM).
// An unregistered or invalid token is a permanent failure and the
// token is dropped; gateway unavailability is transient.
type PushProvider struct {
	client pushSender
	tokens TokenSource
	logger *zap.Logger
}

// pushSender is the slice of messaging.Client the provider uses,
// extracted so tests can substitute the gateway.
type pushSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// NewPushProvider initializes the Firebase app and messaging client.
func NewPushProvider(ctx context.Context, cfg config.FirebaseConfig, tokens TokenSource, logger *zap.Logger) (*PushProvider, error) {
	if _, err := os.Stat(cfg.CredentialsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("firebase credentials file not found at %s", cfg.CredentialsPath)
	}

	opt := option.WithCredentialsFile(cfg.CredentialsPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firebase messaging client: %w", err)
	}

	return &PushProvider{client: client, tokens: tokens, logger: logger}, nil
}

// newPushProviderWithSender wires a substitute gateway, for tests.
func newPushProviderWithSender(sender pushSender, tokens TokenSource, logger *zap.Logger) *PushProvider {
	return &PushProvider{client: sender, tokens: tokens, logger: logger}
}

func (p *PushProvider) Channel() notification.Channel {
	return notification.ChannelPush
}

func (p *PushProvider) Send(ctx context.Context, recipientID string, event notification.Event) Result {
	tokens, err := p.tokens.Tokens(ctx, recipientID)
	if err != nil {
		return Transient(fmt.Sprintf("token lookup failed: %v", err))
	}
	if len(tokens) == 0 {
		return Permanent("no registered device token")
	}

	data := make(map[string]string, len(event.Data)+2)
	for k, v := range event.Data {
		data[k] = v
	}
	data["event_id"] = event.ID
	data["type"] = string(event.Type)

	var lastTransient string
	delivered := false
	for _, token := range tokens {
		msg := &messaging.Message{
			Token: token,
			Notification: &messaging.Notification{
				Title: event.Title,
				Body:  event.Body,
			},
			Data: data,
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
			APNS: &messaging.APNSConfig{
				Headers: map[string]string{"apns-priority": "10"},
			},
		}

		if _, err := p.client.Send(ctx, msg); err != nil {
			switch {
			case messaging.IsUnregistered(err) || errorutils.IsInvalidArgument(err):
				// Dead token: drop it so future events skip it.
				if rmErr := p.tokens.Remove(ctx, recipientID, token); rmErr != nil {
					p.logger.Warn("failed to remove invalid device token",
						zap.String("user_id", recipientID), zap.Error(rmErr))
				}
			default:
				lastTransient = err.Error()
			}
			continue
		}
		delivered = true
	}

	if delivered {
		return Delivered()
	}
	if lastTransient != "" {
		return Transient(lastTransient)
	}
	return Permanent("all device tokens invalid")
}
