package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// RelayProvider delivers through a third-party push relay for devices
// without native push credentials. Relay unavailability is transient;
// a rejected recipient or payload is permanent.
type RelayProvider struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    *zap.Logger
}

// NewRelayProvider creates a RelayProvider. The client carries no
// timeout of its own; the caller's context bounds each send.
func NewRelayProvider(cfg config.RelayConfig, logger *zap.Logger) *RelayProvider {
	return &RelayProvider{
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		client:    &http.Client{},
		logger:    logger,
	}
}

func (p *RelayProvider) Channel() notification.Channel {
	return notification.ChannelRelay
}

type relayPayload struct {
	RecipientID string            `json:"recipient_id"`
	EventID     string            `json:"event_id"`
	Type        string            `json:"type"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}

func (p *RelayProvider) Send(ctx context.Context, recipientID string, event notification.Event) Result {
	body, err := json.Marshal(relayPayload{
		RecipientID: recipientID,
		EventID:     event.ID,
		Type:        string(event.Type),
		Title:       event.Title,
		Body:        event.Body,
		Data:        event.Data,
	})
	if err != nil {
		return Permanent(fmt.Sprintf("failed to marshal relay payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/push", bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Sprintf("failed to build relay request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Network errors and context timeouts are retry-eligible.
		return Transient(err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Delivered()
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Permanent(fmt.Sprintf("relay rejected push: %s", resp.Status))
	default:
		return Transient(fmt.Sprintf("relay unavailable: %s", resp.Status))
	}
}
