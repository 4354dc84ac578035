package channels

import (
	"context"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// SocketProvider delivers to currently connected clients through the
// hub. A recipient without a live connection is a permanent failure
// for this channel: retrying cannot help, the offline queue picks the
// event up instead and the reconnect hook replays it.
type SocketProvider struct {
	hub *Hub
}

// NewSocketProvider creates a SocketProvider on the given hub.
func NewSocketProvider(hub *Hub) *SocketProvider {
	return &SocketProvider{hub: hub}
}

func (p *SocketProvider) Channel() notification.Channel {
	return notification.ChannelSocket
}

func (p *SocketProvider) Send(ctx context.Context, recipientID string, event notification.Event) Result {
	if err := ctx.Err(); err != nil {
		return Transient(err.Error())
	}

	if !p.hub.Connected(recipientID) {
		return Permanent("no active connection")
	}

	if p.hub.Publish(recipientID, event) == 0 {
		// Connections existed but every buffer was full.
		return Transient("all connection buffers full")
	}
	return Delivered()
}
