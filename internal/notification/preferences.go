package notification

import (
	"fmt"
	"time"
)

// Preferences holds a user's notification settings. A row is created
// with defaults the first time the user is looked up and mutated only
// through the preferences API.
type Preferences struct {
	UserID string `json:"user_id"`

	// Channels maps each notification type to the channels enabled for
	// it, in preference order. A type absent from the map falls back to
	// DefaultChannelOrder.
	Channels map[Type][]Channel `json:"channels,omitempty"`

	// Quiet hours, minutes after midnight in the user's timezone.
	// Start == End disables the window. Start > End spans midnight.
	QuietStart int    `json:"quiet_start"`
	QuietEnd   int    `json:"quiet_end"`
	Timezone   string `json:"timezone"`

	// Frequency caps per notification type; zero means the deployment
	// default applies.
	MaxPerHour int `json:"max_per_hour"`
	MaxPerDay  int `json:"max_per_day"`

	// RequireConfirmation asks channels to request delivery receipts
	// where the channel supports them.
	RequireConfirmation bool `json:"require_confirmation"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultChannelOrder is the fallback attempt order when a user has no
// explicit channel list for a type.
var DefaultChannelOrder = []Channel{ChannelSocket, ChannelPush, ChannelRelay}

// DefaultPreferences returns the settings applied on first use.
func DefaultPreferences(userID string, now time.Time) Preferences {
	return Preferences{
		UserID:    userID,
		Channels:  map[Type][]Channel{},
		Timezone:  "UTC",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks preference fields before persisting an update.
func (p Preferences) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if p.QuietStart < 0 || p.QuietStart > 1439 {
		return fmt.Errorf("quiet_start out of range: %d", p.QuietStart)
	}
	if p.QuietEnd < 0 || p.QuietEnd > 1439 {
		return fmt.Errorf("quiet_end out of range: %d", p.QuietEnd)
	}
	if p.MaxPerHour < 0 || p.MaxPerDay < 0 {
		return fmt.Errorf("frequency caps must be non-negative")
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", p.Timezone)
		}
	}
	for typ, order := range p.Channels {
		if !typ.Valid() {
			return fmt.Errorf("unknown notification type %q", typ)
		}
		for _, ch := range order {
			switch ch {
			case ChannelSocket, ChannelPush, ChannelRelay:
			default:
				return fmt.Errorf("unknown channel %q", ch)
			}
		}
	}
	return nil
}

// ChannelsFor returns the enabled channel order for a type. An explicit
// empty list means the user disabled the type entirely.
func (p Preferences) ChannelsFor(t Type) []Channel {
	if p.Channels != nil {
		if order, ok := p.Channels[t]; ok {
			return order
		}
	}
	return DefaultChannelOrder
}

// InQuietHours reports whether now falls inside the user's quiet
// window. The window is evaluated in the user's timezone; an unknown
// timezone falls back to UTC.
func (p Preferences) InQuietHours(now time.Time) bool {
	if p.QuietStart == p.QuietEnd {
		return false
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if p.QuietStart < p.QuietEnd {
		return minute >= p.QuietStart && minute < p.QuietEnd
	}
	// Window spans midnight, e.g. 22:00-07:00.
	return minute >= p.QuietStart || minute < p.QuietEnd
}

// QuietHoursEnd returns the instant the active quiet window closes.
// When now is outside any window it returns now unchanged.
func (p Preferences) QuietHoursEnd(now time.Time) time.Time {
	if !p.InQuietHours(now) {
		return now
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), p.QuietEnd/60, p.QuietEnd%60, 0, 0, loc)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}
