package channels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

func TestSocketSendNoConnection(t *testing.T) {
	p := NewSocketProvider(NewHub())

	res := p.Send(context.Background(), "user-1", hubEvent("evt-1"))
	assert.Equal(t, notification.OutcomePermanentFailure, res.Outcome)
	assert.Equal(t, "no active connection", res.Reason)
}

func TestSocketSendDelivers(t *testing.T) {
	hub := NewHub()
	conn := hub.Connect("user-1", 4)
	p := NewSocketProvider(hub)

	res := p.Send(context.Background(), "user-1", hubEvent("evt-1"))
	assert.Equal(t, notification.OutcomeDelivered, res.Outcome)
	assert.Len(t, conn.Events(), 1)
}

func TestSocketSendAllBuffersFull(t *testing.T) {
	hub := NewHub()
	hub.Connect("user-1", 1)
	p := NewSocketProvider(hub)

	assert.Equal(t, notification.OutcomeDelivered, p.Send(context.Background(), "user-1", hubEvent("evt-1")).Outcome)

	res := p.Send(context.Background(), "user-1", hubEvent("evt-2"))
	assert.Equal(t, notification.OutcomeTransientFailure, res.Outcome)
}

func TestSocketSendCancelledContext(t *testing.T) {
	hub := NewHub()
	hub.Connect("user-1", 4)
	p := NewSocketProvider(hub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Send(ctx, "user-1", hubEvent("evt-1"))
	assert.Equal(t, notification.OutcomeTransientFailure, res.Outcome)
}
