package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// fakeProvider replays a scripted list of results; the last result
// repeats once the script is spent.
type fakeProvider struct {
	ch      notification.Channel
	results []channels.Result
	sends   int
}

func (f *fakeProvider) Channel() notification.Channel { return f.ch }

func (f *fakeProvider) Send(_ context.Context, _ string, _ notification.Event) channels.Result {
	f.sends++
	if len(f.results) == 0 {
		return channels.Delivered()
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r
}

type harness struct {
	orch      *Orchestrator
	clk       *clock.Fake
	scheduler *retry.Scheduler
	queue     *offline.Queue

	socket *fakeProvider
	push   *fakeProvider
	relay  *fakeProvider

	prefStore    *preferences.MemoryStore
	retryStore   *retry.MemoryStore
	offlineStore *offline.MemoryStore
	auditStore   *audit.MemoryStore
}

func defaultRateLimit() config.RateLimitConfig {
	return config.RateLimitConfig{
		MaxPerHour:         100,
		MaxPerDay:          1000,
		SystemBypass:       true,
		AutoBlockThreshold: 3,
		ViolationWindow:    5 * time.Minute,
		AutoBlockCooldown:  time.Hour,
	}
}

func newHarness(t *testing.T, rateCfg config.RateLimitConfig) *harness {
	t.Helper()

	h := &harness{
		clk:          clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		socket:       &fakeProvider{ch: notification.ChannelSocket},
		push:         &fakeProvider{ch: notification.ChannelPush},
		relay:        &fakeProvider{ch: notification.ChannelRelay},
		prefStore:    preferences.NewMemoryStore(),
		retryStore:   retry.NewMemoryStore(),
		offlineStore: offline.NewMemoryStore(),
		auditStore:   audit.NewMemoryStore(),
	}

	logger := zap.NewNop()
	registry := channels.NewRegistry()
	registry.Register(h.socket)
	registry.Register(h.push)
	registry.Register(h.relay)

	contentFilter, err := filter.New(nil)
	require.NoError(t, err)

	retryCfg := config.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   30 * time.Second,
		Factor:      2.0,
		MaxDelay:    time.Hour,
	}
	policy := retry.PolicyFromConfig(retryCfg)

	auditLog := audit.New(h.auditStore, h.clk, logger)
	h.scheduler = retry.NewScheduler(h.retryStore, policy, time.Second, h.clk, logger)
	h.queue = offline.New(h.offlineStore, auditLog,
		policy, config.OfflineConfig{MaxRetries: 2, Retention: 7 * 24 * time.Hour}, h.clk, logger)

	h.orch = New(
		registry,
		preferences.NewResolver(h.prefStore, nil, config.QuietHoursConfig{}, h.clk, logger),
		contentFilter,
		ratelimit.New(ratelimit.NewMemoryStore(), rateCfg, h.clk),
		tracker.New(tracker.NewMemoryStore(), tracker.NewMemoryClaimer(), h.clk, logger),
		auditLog,
		h.scheduler,
		h.queue,
		config.ChannelsConfig{
			SocketEnabled: true,
			PushEnabled:   true,
			RelayEnabled:  true,
			SendTimeout:   time.Second,
		},
		monitoring.NewMetricsFor(prometheus.NewRegistry()),
		h.clk,
		logger,
	)
	return h
}

func (h *harness) decisions(t *testing.T, eventID string) []notification.Decision {
	t.Helper()
	trail, err := h.auditStore.ListByEvent(context.Background(), eventID)
	require.NoError(t, err)
	out := make([]notification.Decision, 0, len(trail))
	for _, e := range trail {
		out = append(out, e.Decision)
	}
	return out
}

func testEvent(id string, typ notification.Type) notification.Event {
	return notification.Event{
		ID:          id,
		RecipientID: "user-1",
		Type:        typ,
		Title:       "hello",
		Body:        "you have a new notification",
	}
}

func TestDispatchDeliversOnFirstChannel(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDispatched, res.Status)

	assert.Equal(t, 1, h.socket.sends)
	assert.Equal(t, 0, h.push.sends)
	assert.Equal(t, 0, h.relay.sends)

	attempts, err := h.orch.Attempts(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, notification.ChannelSocket, attempts[0].Channel)
	assert.Equal(t, notification.OutcomeDelivered, attempts[0].Outcome)

	assert.Contains(t, h.decisions(t, "evt-1"), notification.DecisionDelivered)
}

func TestDispatchInvalidEvent(t *testing.T) {
	h := newHarness(t, defaultRateLimit())

	bad := testEvent("evt-1", notification.TypeMessage)
	bad.Body = ""
	_, err := h.orch.Dispatch(context.Background(), bad)
	assert.ErrorIs(t, err, notification.ErrMissingBody)
}

func TestDispatchFallsBackInPreferenceOrder(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()
	h.socket.results = []channels.Result{channels.Permanent("no active connection")}

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDispatched, res.Status)

	assert.Equal(t, 1, h.socket.sends)
	assert.Equal(t, 1, h.push.sends)
	assert.Equal(t, 0, h.relay.sends, "fallback must stop at the first delivering channel")

	attempts, err := h.orch.Attempts(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, notification.OutcomePermanentFailure, attempts[0].Outcome)
	assert.Equal(t, notification.OutcomeDelivered, attempts[1].Outcome)
}

func TestDispatchIdempotentPerEvent(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()
	event := testEvent("evt-1", notification.TypeMessage)

	res, err := h.orch.Dispatch(ctx, event)
	require.NoError(t, err)
	require.Equal(t, notification.StatusDispatched, res.Status)

	// Re-dispatch of the same event id must not reach the provider
	// again or write another attempt row.
	res, err = h.orch.Dispatch(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDispatched, res.Status)

	assert.Equal(t, 1, h.socket.sends)
	attempts, err := h.orch.Attempts(ctx, "evt-1")
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestDispatchContentFiltered(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()

	spam := testEvent("evt-1", notification.TypeMessage)
	spam.Body = "Click here for free money"

	res, err := h.orch.Dispatch(ctx, spam)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSuppressed, res.Status)
	assert.Equal(t, "content_filtered", res.Reason)

	assert.Equal(t, 0, h.socket.sends)
	attempts, err := h.orch.Attempts(ctx, "evt-1")
	require.NoError(t, err)
	assert.Empty(t, attempts)
	assert.Equal(t, []notification.Decision{notification.DecisionFiltered}, h.decisions(t, "evt-1"))
}

func TestFilteredEventsConsumeNoQuota(t *testing.T) {
	rateCfg := defaultRateLimit()
	rateCfg.MaxPerHour = 1
	h := newHarness(t, rateCfg)
	ctx := context.Background()

	spam := testEvent("evt-1", notification.TypeMessage)
	spam.Body = "free money inside"
	res, err := h.orch.Dispatch(ctx, spam)
	require.NoError(t, err)
	require.Equal(t, notification.StatusSuppressed, res.Status)

	// The single allowed send of the hour is still available.
	res, err = h.orch.Dispatch(ctx, testEvent("evt-2", notification.TypeMessage))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDispatched, res.Status)
}

func TestDispatchRateLimited(t *testing.T) {
	rateCfg := defaultRateLimit()
	rateCfg.MaxPerHour = 1
	h := newHarness(t, rateCfg)
	ctx := context.Background()

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)
	require.Equal(t, notification.StatusDispatched, res.Status)

	res, err = h.orch.Dispatch(ctx, testEvent("evt-2", notification.TypeMessage))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSuppressed, res.Status)
	assert.Equal(t, "rate_limited", res.Reason)
	assert.Equal(t, []notification.Decision{notification.DecisionRateLimited}, h.decisions(t, "evt-2"))

	// The window slides and sends resume.
	h.clk.Advance(61 * time.Minute)
	res, err = h.orch.Dispatch(ctx, testEvent("evt-3", notification.TypeMessage))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDispatched, res.Status)
}

func TestDispatchAutoBlockAudited(t *testing.T) {
	rateCfg := defaultRateLimit()
	rateCfg.MaxPerHour = 1
	rateCfg.AutoBlockThreshold = 2
	h := newHarness(t, rateCfg)
	ctx := context.Background()

	_, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)
	_, err = h.orch.Dispatch(ctx, testEvent("evt-2", notification.TypeMessage))
	require.NoError(t, err)

	// Second violation trips the block.
	_, err = h.orch.Dispatch(ctx, testEvent("evt-3", notification.TypeMessage))
	require.NoError(t, err)
	assert.Contains(t, h.decisions(t, "evt-3"), notification.DecisionAutoBlocked)
}

func TestDispatchQuietHoursQueuesNonUrgent(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()

	prefs := notification.DefaultPreferences("user-1", h.clk.Now())
	prefs.QuietStart = 11 * 60
	prefs.QuietEnd = 13 * 60 // clock reads noon UTC
	require.NoError(t, h.prefStore.Put(ctx, prefs))

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusQueued, res.Status)
	assert.Equal(t, "quiet hours", res.Reason)

	assert.Equal(t, 0, h.socket.sends)
	pending, err := h.offlineStore.PendingFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Contains(t, h.decisions(t, "evt-1"), notification.DecisionQueued)
}

func TestDispatchQuietHoursUrgentBypass(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()

	prefs := notification.DefaultPreferences("user-1", h.clk.Now())
	prefs.QuietStart = 11 * 60
	prefs.QuietEnd = 13 * 60
	require.NoError(t, h.prefStore.Put(ctx, prefs))

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypePayment))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDispatched, res.Status)
	assert.Equal(t, 1, h.socket.sends)
}

func TestDispatchQueuesWhenAllChannelsPermanentlyFail(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()
	h.socket.results = []channels.Result{channels.Permanent("no active connection")}
	h.push.results = []channels.Result{channels.Permanent("no registered device token")}
	h.relay.results = []channels.Result{channels.Permanent("relay rejected push")}

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusQueued, res.Status)
	assert.Equal(t, "all channels failed", res.Reason)

	pending, err := h.offlineStore.PendingFor(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-1", pending[0].EventID)
}

func TestDispatchTransientSchedulesRetry(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()
	h.socket.results = []channels.Result{
		channels.Transient("all connection buffers full"),
		channels.Delivered(),
	}

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)
	// Push picked it up live; the socket retry stays scheduled.
	assert.Equal(t, notification.StatusDispatched, res.Status)
	assert.Contains(t, h.decisions(t, "evt-1"), notification.DecisionRetryScheduled)

	due, err := h.retryStore.Due(ctx, h.clk.Now().Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, notification.ChannelSocket, due[0].Channel)

	// The sweep completes the socket delivery.
	h.clk.Advance(time.Minute)
	require.NoError(t, h.scheduler.Sweep(ctx))
	assert.Equal(t, 2, h.socket.sends)

	attempts, err := h.orch.Attempts(ctx, "evt-1")
	require.NoError(t, err)
	var socketDelivered bool
	for _, a := range attempts {
		if a.Channel == notification.ChannelSocket && a.Outcome == notification.OutcomeDelivered {
			socketDelivered = true
		}
	}
	assert.True(t, socketDelivered)
}

func TestRetryExhaustionFallsToOfflineQueue(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()

	// Only the socket channel is enabled for messages, and it keeps
	// failing transiently.
	prefs := notification.DefaultPreferences("user-1", h.clk.Now())
	prefs.Channels[notification.TypeMessage] = []notification.Channel{notification.ChannelSocket}
	require.NoError(t, h.prefStore.Put(ctx, prefs))
	h.socket.results = []channels.Result{channels.Transient("all connection buffers full")}

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusQueued, res.Status)
	assert.Equal(t, "retries scheduled", res.Reason)

	// Not queued offline yet; the retry scheduler owns the event.
	pending, err := h.offlineStore.PendingFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	for i := 0; i < 5; i++ {
		h.clk.Advance(2 * time.Hour)
		require.NoError(t, h.scheduler.Sweep(ctx))
	}

	// A budget of 3 means the live attempt plus exactly 2 sweeps.
	assert.Equal(t, 3, h.socket.sends)
	assert.Contains(t, h.decisions(t, "evt-1"), notification.DecisionExhausted)

	pending, err = h.offlineStore.PendingFor(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	due, err := h.retryStore.Due(ctx, h.clk.Now().Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "exhausted retries must leave the schedule")
}

func TestOfflineReplayDeliversWithoutDuplicates(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()
	h.socket.results = []channels.Result{
		channels.Permanent("no active connection"),
		channels.Delivered(),
	}
	h.push.results = []channels.Result{channels.Permanent("no registered device token")}
	h.relay.results = []channels.Result{channels.Permanent("relay rejected push")}

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)
	require.Equal(t, notification.StatusQueued, res.Status)

	// The user reconnects; the drain replays through the socket.
	delivered, err := h.queue.DrainFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	// A second drain finds nothing.
	delivered, err = h.queue.DrainFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 2, h.socket.sends)
}

func TestOfflineReplayRespectsQuietHours(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()
	h.socket.results = []channels.Result{channels.Permanent("no active connection")}
	h.push.results = []channels.Result{channels.Permanent("no registered device token")}
	h.relay.results = []channels.Result{channels.Permanent("relay rejected push")}

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)
	require.Equal(t, notification.StatusQueued, res.Status)

	// The user enters quiet hours before reconnecting.
	prefs := notification.DefaultPreferences("user-1", h.clk.Now())
	prefs.QuietStart = 11 * 60
	prefs.QuietEnd = 13 * 60
	require.NoError(t, h.prefStore.Put(ctx, prefs))

	delivered, err := h.queue.DrainFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	pending, err := h.offlineStore.PendingFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1, "quiet-hours replay must stay queued")

	// Sweeping right through the rest of the window must not spend
	// the item's retry budget; it is parked until the window ends.
	for i := 0; i < 5; i++ {
		h.clk.Advance(10 * time.Minute)
		require.NoError(t, h.queue.Sweep(ctx))
	}
	pending, err = h.offlineStore.PendingFor(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].RetryCount)

	// The socket comes back and the window ends; the next sweep
	// delivers.
	h.socket.results = nil
	h.clk.Advance(30 * time.Minute)
	require.NoError(t, h.queue.Sweep(ctx))

	pending, err = h.offlineStore.PendingFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, pending, "item must deliver once the quiet window ends")

	decisions := h.decisions(t, "evt-1")
	assert.Contains(t, decisions, notification.DecisionDelivered)
	assert.NotContains(t, decisions, notification.DecisionAbandoned)
}

func TestPurgeUser(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()
	h.socket.results = []channels.Result{channels.Permanent("no active connection")}
	h.push.results = []channels.Result{channels.Permanent("no registered device token")}
	h.relay.results = []channels.Result{channels.Permanent("relay rejected push")}

	_, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeMessage))
	require.NoError(t, err)

	require.NoError(t, h.orch.PurgeUser(ctx, "user-1"))

	pending, err := h.offlineStore.PendingFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = h.prefStore.Get(ctx, "user-1")
	assert.ErrorIs(t, err, preferences.ErrNotFound)

	trail, err := h.auditStore.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	var purged bool
	for _, e := range trail {
		if e.Decision == notification.DecisionPurged {
			purged = true
		}
	}
	assert.True(t, purged)
}

func TestDispatchDisabledTypeSuppressed(t *testing.T) {
	h := newHarness(t, defaultRateLimit())
	ctx := context.Background()

	// An explicit empty channel list disables the type entirely.
	prefs := notification.DefaultPreferences("user-1", h.clk.Now())
	prefs.Channels[notification.TypeLike] = []notification.Channel{}
	require.NoError(t, h.prefStore.Put(ctx, prefs))

	res, err := h.orch.Dispatch(ctx, testEvent("evt-1", notification.TypeLike))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSuppressed, res.Status)
	assert.Equal(t, "type_disabled", res.Reason)
	assert.Equal(t, 0, h.socket.sends)

	pending, err := h.offlineStore.PendingFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Contains(t, h.decisions(t, "evt-1"), notification.DecisionTypeDisabled)
}
