package preferences

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/clock"
	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

func newTestResolver(t *testing.T) (*Resolver, *MemoryStore, *clock.Fake) {
	t.Helper()

	store := NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	r := NewResolver(store, nil, config.QuietHoursConfig{}, clk, zap.NewNop())
	return r, store, clk
}

func TestResolveCreatesDefaultsOnFirstUse(t *testing.T) {
	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	res, err := r.Resolve(ctx, "user-1", notification.TypeLike)
	require.NoError(t, err)
	assert.Equal(t, notification.DefaultChannelOrder, res.Channels)
	assert.False(t, res.QuietHours)

	// The defaults were persisted.
	stored, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "UTC", stored.Timezone)
}

func TestResolveAppliesDeploymentQuietDefaults(t *testing.T) {
	store := NewMemoryStore()
	// 11:00-13:00 UTC, and the clock reads noon.
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	r := NewResolver(store, nil, config.QuietHoursConfig{DefaultStart: 11 * 60, DefaultEnd: 13 * 60}, clk, zap.NewNop())

	res, err := r.Resolve(context.Background(), "user-1", notification.TypeLike)
	require.NoError(t, err)
	assert.True(t, res.QuietHours)
}

func TestResolveUsesStoredChannelOrder(t *testing.T) {
	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	prefs := notification.DefaultPreferences("user-1", time.Now())
	prefs.Channels[notification.TypeMessage] = []notification.Channel{notification.ChannelRelay}
	require.NoError(t, store.Put(ctx, prefs))

	res, err := r.Resolve(ctx, "user-1", notification.TypeMessage)
	require.NoError(t, err)
	assert.Equal(t, []notification.Channel{notification.ChannelRelay}, res.Channels)
}

func TestUpdateSetsTimestamp(t *testing.T) {
	r, store, clk := newTestResolver(t)
	ctx := context.Background()

	prefs := notification.DefaultPreferences("user-1", clk.Now())
	clk.Advance(time.Hour)
	require.NoError(t, r.Update(ctx, prefs))

	stored, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), stored.UpdatedAt)
}

func TestDeleteRemovesRow(t *testing.T) {
	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "user-1", notification.TypeLike)
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, "user-1"))

	_, err = store.Get(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
