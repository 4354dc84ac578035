package channels

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

type fakeSender struct {
	err  error
	sent []*messaging.Message
}

func (f *fakeSender) Send(_ context.Context, msg *messaging.Message) (string, error) {
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return "", f.err
	}
	return "msg-id", nil
}

type failingTokenSource struct{}

func (failingTokenSource) Tokens(context.Context, string) ([]string, error) {
	return nil, errors.New("store down")
}
func (failingTokenSource) Remove(context.Context, string, string) error { return nil }

func TestPushSendNoTokens(t *testing.T) {
	p := newPushProviderWithSender(&fakeSender{}, NewMemoryTokenSource(), zap.NewNop())

	res := p.Send(context.Background(), "user-1", hubEvent("evt-1"))
	assert.Equal(t, notification.OutcomePermanentFailure, res.Outcome)
	assert.Equal(t, "no registered device token", res.Reason)
}

func TestPushSendTokenLookupFailure(t *testing.T) {
	p := newPushProviderWithSender(&fakeSender{}, failingTokenSource{}, zap.NewNop())

	res := p.Send(context.Background(), "user-1", hubEvent("evt-1"))
	assert.Equal(t, notification.OutcomeTransientFailure, res.Outcome)
}

func TestPushSendDelivers(t *testing.T) {
	sender := &fakeSender{}
	tokens := NewMemoryTokenSource()
	tokens.Add("user-1", "token-a")
	tokens.Add("user-1", "token-b")
	p := newPushProviderWithSender(sender, tokens, zap.NewNop())

	event := hubEvent("evt-1")
	event.Title = "New message"
	event.Data = map[string]string{"thread": "7"}
	res := p.Send(context.Background(), "user-1", event)

	assert.Equal(t, notification.OutcomeDelivered, res.Outcome)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "token-a", sender.sent[0].Token)
	assert.Equal(t, "New message", sender.sent[0].Notification.Title)
	assert.Equal(t, "evt-1", sender.sent[0].Data["event_id"])
	assert.Equal(t, "7", sender.sent[0].Data["thread"])
	assert.Equal(t, "high", sender.sent[0].Android.Priority)
}

func TestPushSendGatewayErrorIsTransient(t *testing.T) {
	sender := &fakeSender{err: errors.New("gateway unavailable")}
	tokens := NewMemoryTokenSource()
	tokens.Add("user-1", "token-a")
	p := newPushProviderWithSender(sender, tokens, zap.NewNop())

	res := p.Send(context.Background(), "user-1", hubEvent("evt-1"))
	assert.Equal(t, notification.OutcomeTransientFailure, res.Outcome)
	assert.Equal(t, "gateway unavailable", res.Reason)
}
