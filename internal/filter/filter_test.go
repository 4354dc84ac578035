package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

func event(title, body string) notification.Event {
	return notification.Event{
		ID:          "evt-1",
		RecipientID: "user-1",
		Type:        notification.TypeMessage,
		Title:       title,
		Body:        body,
	}
}

func TestCheckCleanContent(t *testing.T) {
	f, err := New(nil)
	require.NoError(t, err)

	assert.Nil(t, f.Check(event("New follower", "alice started following you")))
	assert.Nil(t, f.Check(event("", "your payment of $20 was received")))
}

func TestCheckSpam(t *testing.T) {
	f, err := New(nil)
	require.NoError(t, err)

	v := f.Check(event("", "Buy now and get rich!"))
	require.NotNil(t, v)
	assert.Equal(t, "spam", v.Category)

	v = f.Check(event("CONGRATULATIONS you won the lottery", ""))
	require.NotNil(t, v)
	assert.Equal(t, "spam", v.Category)
}

func TestCheckRepeatedCharacterRuns(t *testing.T) {
	f, err := New(nil)
	require.NoError(t, err)

	v := f.Check(event("", "aaaaaaaaaaaaaaaa check this out"))
	require.NotNil(t, v)
	assert.Equal(t, "spam", v.Category)
	assert.Equal(t, "repeated_characters", v.Pattern)

	// Ten in a row is still within the tolerated run length.
	assert.Nil(t, f.Check(event("", "nooooooooo way")))
	assert.Nil(t, f.Check(event("", "aaaaaaaaaabbbbbbbbbb")))
}

func TestCheckHarassment(t *testing.T) {
	f, err := New(nil)
	require.NoError(t, err)

	v := f.Check(event("", "stop stalking me or else"))
	require.NotNil(t, v)
	assert.Equal(t, "harassment", v.Category)
}

func TestCheckExplicit(t *testing.T) {
	f, err := New(nil)
	require.NoError(t, err)

	v := f.Check(event("nsfw content ahead", ""))
	require.NotNil(t, v)
	assert.Equal(t, "explicit", v.Category)
}

func TestCheckCaseInsensitive(t *testing.T) {
	f, err := New(nil)
	require.NoError(t, err)

	require.NotNil(t, f.Check(event("", "FREE MONEY for everyone")))
}

func TestCheckScansTitleAndBodyOnly(t *testing.T) {
	f, err := New(nil)
	require.NoError(t, err)

	e := event("hello", "plain text")
	e.Data = map[string]string{"ref": "free money promo id"}
	assert.Nil(t, f.Check(e))
}

func TestExtraRules(t *testing.T) {
	f, err := New(map[string][]string{"custom": {`\bforbidden\b`}})
	require.NoError(t, err)

	v := f.Check(event("", "this word is forbidden here"))
	require.NotNil(t, v)
	assert.Equal(t, "custom", v.Category)
}

func TestInvalidExtraPattern(t *testing.T) {
	_, err := New(map[string][]string{"bad": {`(unclosed`}})
	require.Error(t, err)
}
