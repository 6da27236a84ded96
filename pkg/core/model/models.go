package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for opportunity dates
const DateLayout = "2006-01-02"

// RecurrenceFrequency is how often a recurring opportunity repeats
type RecurrenceFrequency string

const (
	RecurDaily   RecurrenceFrequency = "daily"
	RecurWeekly  RecurrenceFrequency = "weekly"
	RecurMonthly RecurrenceFrequency = "monthly"
)

func (f RecurrenceFrequency) IsValid() bool {
	return f == RecurDaily || f == RecurWeekly || f == RecurMonthly
}

// NotificationFrequency is a recipient's chat notification preference
type NotificationFrequency string

const (
	NotifyNever         NotificationFrequency = "never"
	NotifyImmediate     NotificationFrequency = "immediate"
	NotifyFiveMinutes   NotificationFrequency = "5min"
	NotifyThirtyMinutes NotificationFrequency = "30min"
)

// ParseNotificationFrequency maps a stored preference string onto the closed set.
// Empty or unknown values fall back to immediate.
func ParseNotificationFrequency(s string) NotificationFrequency {
	switch NotificationFrequency(strings.ToLower(strings.TrimSpace(s))) {
	case NotifyNever:
		return NotifyNever
	case NotifyFiveMinutes:
		return NotifyFiveMinutes
	case NotifyThirtyMinutes:
		return NotifyThirtyMinutes
	default:
		return NotifyImmediate
	}
}

// Window returns the rate-limit window for the preference.
// The second value is false when notifications are disabled.
func (f NotificationFrequency) Window() (time.Duration, bool) {
	switch ParseNotificationFrequency(string(f)) {
	case NotifyNever:
		return 0, false
	case NotifyFiveMinutes:
		return 5 * time.Minute, true
	default:
		// immediate and 30min share the 30 minute window
		return 30 * time.Minute, true
	}
}

// IsDigest reports whether messages suppressed by the window are later rolled up
func (f NotificationFrequency) IsDigest() bool {
	p := ParseNotificationFrequency(string(f))
	return p == NotifyFiveMinutes || p == NotifyThirtyMinutes
}

// SenderType identifies who posted a chat message
type SenderType string

const (
	SenderUser         SenderType = "user"
	SenderOrganization SenderType = "organization"
	SenderAdminAsHost  SenderType = "admin_as_host"
)

// ParseSenderType validates a sender type string
func ParseSenderType(s string) (SenderType, error) {
	switch st := SenderType(strings.TrimSpace(s)); st {
	case SenderUser, SenderOrganization, SenderAdminAsHost:
		return st, nil
	default:
		return "", fmt.Errorf("unknown sender type %q", s)
	}
}

// ParticipantType identifies the kind of notification recipient
type ParticipantType string

const (
	ParticipantOrganization ParticipantType = "organization"
	ParticipantVolunteer    ParticipantType = "volunteer"
)

// DeliveryStatus is the terminal state of one candidate in a dispatch
type DeliveryStatus string

const (
	StatusSent         DeliveryStatus = "sent"
	StatusRateLimited  DeliveryStatus = "rate_limited"
	StatusFailed       DeliveryStatus = "failed"
	StatusInvalidEmail DeliveryStatus = "invalid_email"
)

// ParseDate parses a YYYY-MM-DD calendar date at UTC midnight
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate formats a time as a calendar date
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOnly drops the time-of-day, keeping the calendar date in UTC
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
