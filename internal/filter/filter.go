package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// Violation describes why a payload was rejected.
type Violation struct {
	Category string
	Pattern  string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: matched %q", v.Category, v.Pattern)
}

// Filter rejects notification payloads that match the content policy
// deny-list. It runs before any channel is touched and before the rate
// limiter, so rejected content never consumes quota.
type Filter struct {
	rules []rule
}

type rule struct {
	category string
	re       *regexp.Regexp
}

// defaultPolicy mirrors the moderation service's pattern categories:
// spam, harassment and explicit content are blocked outright at the
// notification layer regardless of what upstream moderation did.
var defaultPolicy = map[string][]string{
	"spam": {
		`\b(buy now|click here|free money|get rich|make money fast|limited time)\b`,
		`\b(viagra|casino|lottery|winner|congratulations.*won)\b`,
		`(https?://\S+){3,}`,
	},
	"harassment": {
		`\b(kill yourself|kys)\b`,
		`\b(harass|intimidate|stalk(ing)?)\b`,
	},
	"explicit": {
		`\b(nsfw|explicit|porn|xxx)\b`,
	},
}

// New builds a Filter from the default policy plus any extra patterns.
// Extra patterns are keyed by category; invalid regexps are an error so
// a misconfigured policy fails at startup, not at dispatch time.
func New(extra map[string][]string) (*Filter, error) {
	f := &Filter{}
	for category, patterns := range defaultPolicy {
		if err := f.addRules(category, patterns); err != nil {
			return nil, err
		}
	}
	for category, patterns := range extra {
		if err := f.addRules(category, patterns); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Filter) addRules(category string, patterns []string) error {
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return fmt.Errorf("invalid filter pattern %q in category %s: %w", p, category, err)
		}
		f.rules = append(f.rules, rule{category: category, re: re})
	}
	return nil
}

// maxCharRun is the longest run of one character tolerated before the
// payload is treated as keyboard-mash spam.
const maxCharRun = 10

// Check inspects the event's title and body against the deny-list. A
// nil result means the payload is clean. Structured data values are
// deliberately not scanned; they are machine-facing and never rendered
// as notification text.
func (f *Filter) Check(event notification.Event) *Violation {
	text := strings.TrimSpace(event.Title + " " + event.Body)
	for _, r := range f.rules {
		if r.re.MatchString(text) {
			return &Violation{Category: r.category, Pattern: r.re.String()}
		}
	}
	if hasLongRun(text, maxCharRun) {
		return &Violation{Category: "spam", Pattern: "repeated_characters"}
	}
	return nil
}

// hasLongRun reports whether text contains more than limit consecutive
// occurrences of the same rune. RE2 has no backreferences, so character
// runs are detected with a plain scan instead of a pattern.
func hasLongRun(text string, limit int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run > limit {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}
