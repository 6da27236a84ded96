package notify

import (
	"time"

	"github.com/jakechorley/community-connect/pkg/core/model"
)

// PreviewLength is the number of characters of a message quoted in a notification
const PreviewLength = 100

// Decision is the outcome of the frequency gate for one recipient
type Decision int

const (
	Eligible Decision = iota
	Disabled
	RateLimited
)

// WithinWindow reports whether a notification sent at lastSent still
// suppresses a new one for a recipient with preference pref.
func WithinWindow(lastSent *time.Time, pref model.NotificationFrequency, now time.Time) bool {
	if lastSent == nil {
		return false
	}
	window, enabled := pref.Window()
	if !enabled {
		return false
	}
	return now.Sub(*lastSent) < window
}

// Decide applies the frequency gate
func Decide(lastSent *time.Time, pref model.NotificationFrequency, now time.Time) Decision {
	if _, enabled := pref.Window(); !enabled {
		return Disabled
	}
	if WithinWindow(lastSent, pref, now) {
		return RateLimited
	}
	return Eligible
}

// Preview returns the first PreviewLength characters of text, with "..."
// appended when the text was cut.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLength {
		return text
	}
	return string(runes[:PreviewLength]) + "..."
}
