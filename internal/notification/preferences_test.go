package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelsForDefaults(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())

	assert.Equal(t, DefaultChannelOrder, prefs.ChannelsFor(TypeLike))
}

func TestChannelsForExplicitOrder(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())
	prefs.Channels[TypeMessage] = []Channel{ChannelPush, ChannelSocket}

	assert.Equal(t, []Channel{ChannelPush, ChannelSocket}, prefs.ChannelsFor(TypeMessage))
	assert.Equal(t, DefaultChannelOrder, prefs.ChannelsFor(TypeComment))
}

func TestChannelsForDisabledType(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())
	prefs.Channels[TypeLike] = []Channel{}

	assert.Empty(t, prefs.ChannelsFor(TypeLike))
}

func TestInQuietHoursDisabled(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())

	assert.False(t, prefs.InQuietHours(time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)))
}

func TestInQuietHoursSameDayWindow(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())
	prefs.QuietStart = 13 * 60 // 13:00
	prefs.QuietEnd = 14 * 60   // 14:00

	assert.True(t, prefs.InQuietHours(time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)))
	assert.False(t, prefs.InQuietHours(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)))
	assert.False(t, prefs.InQuietHours(time.Date(2026, 3, 10, 12, 59, 0, 0, time.UTC)))
}

func TestInQuietHoursSpansMidnight(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())
	prefs.QuietStart = 22 * 60 // 22:00
	prefs.QuietEnd = 7 * 60    // 07:00

	assert.True(t, prefs.InQuietHours(time.Date(2026, 3, 10, 23, 15, 0, 0, time.UTC)))
	assert.True(t, prefs.InQuietHours(time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)))
	assert.False(t, prefs.InQuietHours(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))
	assert.False(t, prefs.InQuietHours(time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)))
}

func TestInQuietHoursTimezone(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())
	prefs.Timezone = "America/New_York"
	prefs.QuietStart = 22 * 60
	prefs.QuietEnd = 7 * 60

	// 03:00 UTC on March 10 is 22:00 or 23:00 in New York depending on
	// DST; either way it falls inside the 22:00-07:00 window.
	assert.True(t, prefs.InQuietHours(time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)))
	// 17:00 UTC is midday in New York.
	assert.False(t, prefs.InQuietHours(time.Date(2026, 3, 15, 17, 0, 0, 0, time.UTC)))
}

func TestInQuietHoursUnknownTimezoneFallsBackToUTC(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())
	prefs.Timezone = "Not/AZone"
	prefs.QuietStart = 1 * 60
	prefs.QuietEnd = 2 * 60

	assert.True(t, prefs.InQuietHours(time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)))
}

func TestQuietHoursEndSameDayWindow(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())
	prefs.QuietStart = 13 * 60
	prefs.QuietEnd = 14 * 60

	now := time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), prefs.QuietHoursEnd(now))
}

func TestQuietHoursEndSpansMidnight(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())
	prefs.QuietStart = 22 * 60
	prefs.QuietEnd = 7 * 60

	// Before midnight the window ends tomorrow morning.
	now := time.Date(2026, 3, 10, 23, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC), prefs.QuietHoursEnd(now))

	// After midnight it ends the same morning.
	now = time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC), prefs.QuietHoursEnd(now))
}

func TestQuietHoursEndOutsideWindow(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())
	prefs.QuietStart = 13 * 60
	prefs.QuietEnd = 14 * 60

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, now, prefs.QuietHoursEnd(now))
}

func TestPreferencesValidate(t *testing.T) {
	prefs := DefaultPreferences("user-1", time.Now())
	require.NoError(t, prefs.Validate())

	bad := prefs
	bad.UserID = ""
	assert.Error(t, bad.Validate())

	bad = prefs
	bad.QuietStart = 1500
	assert.Error(t, bad.Validate())

	bad = prefs
	bad.Timezone = "Nope"
	assert.Error(t, bad.Validate())

	bad = prefs
	bad.MaxPerHour = -1
	assert.Error(t, bad.Validate())

	bad = prefs
	bad.Channels = map[Type][]Channel{TypeLike: {"carrier-pigeon"}}
	assert.Error(t, bad.Validate())

	bad = prefs
	bad.Channels = map[Type][]Channel{"shout": {ChannelSocket}}
	assert.Error(t, bad.Validate())
}

func TestEventValidate(t *testing.T) {
	valid := Event{ID: "evt-1", RecipientID: "user-1", Type: TypeLike, Body: "hi"}
	require.NoError(t, valid.Validate())

	e := valid
	e.ID = " "
	assert.ErrorIs(t, e.Validate(), ErrMissingID)

	e = valid
	e.RecipientID = ""
	assert.ErrorIs(t, e.Validate(), ErrMissingRecipient)

	e = valid
	e.Body = ""
	assert.ErrorIs(t, e.Validate(), ErrMissingBody)

	e = valid
	e.Type = "promotion"
	assert.Error(t, e.Validate())
}

func TestTypeUrgent(t *testing.T) {
	assert.True(t, TypePayment.Urgent())
	assert.True(t, TypeSystem.Urgent())
	assert.False(t, TypeLike.Urgent())
	assert.False(t, TypeMessage.Urgent())
}
