// Package recurrence expands a recurring opportunity rule into the concrete
// calendar dates of its instances.
package recurrence

import (
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
)

// DefaultHorizonMonths is how far ahead a recurring family is materialized
const DefaultHorizonMonths = 3

// WeekdaysFilter restricts daily and weekly rules to Monday-Friday
const WeekdaysFilter = "weekdays"

// Rule describes how an opportunity repeats
type Rule struct {
	Frequency model.RecurrenceFrequency
	DayFilter []string
}

var weekdayNames = map[string]rrule.Weekday{
	"monday":    rrule.MO,
	"mon":       rrule.MO,
	"tuesday":   rrule.TU,
	"tue":       rrule.TU,
	"wednesday": rrule.WE,
	"wed":       rrule.WE,
	"thursday":  rrule.TH,
	"thu":       rrule.TH,
	"friday":    rrule.FR,
	"fri":       rrule.FR,
	"saturday":  rrule.SA,
	"sat":       rrule.SA,
	"sunday":    rrule.SU,
	"sun":       rrule.SU,
}

var workWeek = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}

// Expand returns the ascending dates of every instance of rule, starting at
// start and ending start+horizonMonths months later (inclusive).
//
// Monthly rules keep the start's day-of-month and skip months that do not
// have that day, so a rule starting on the 31st never lands on the 1st.
func Expand(rule Rule, start time.Time, horizonMonths int) ([]time.Time, error) {
	if horizonMonths <= 0 {
		horizonMonths = DefaultHorizonMonths
	}

	dtstart := model.DateOnly(start)
	until := dtstart.AddDate(0, horizonMonths, 0)

	opt := rrule.ROption{
		Dtstart: dtstart,
		Until:   until,
	}

	switch rule.Frequency {
	case model.RecurDaily:
		opt.Freq = rrule.DAILY
		if hasWeekdaysFilter(rule.DayFilter) {
			opt.Byweekday = workWeek
		}
	case model.RecurWeekly:
		days, err := parseDayFilter(rule.DayFilter)
		if err != nil {
			return nil, err
		}
		// rrule falls back to the start weekday when BYDAY is empty, which
		// would silently turn an empty filter into a one-day-a-week rule
		if len(days) == 0 {
			return nil, apperrors.NoInstancesGenerated("weekly rule has no days selected")
		}
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = days
	case model.RecurMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{dtstart.Day()}
	default:
		return nil, apperrors.Validation("unknown recurrence frequency %q", rule.Frequency)
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, apperrors.ValidationWrap("invalid recurrence rule", err)
	}

	dates := r.All()
	if len(dates) == 0 {
		return nil, apperrors.NoInstancesGenerated("no dates between %s and %s", model.FormatDate(dtstart), model.FormatDate(until))
	}

	for i := range dates {
		dates[i] = model.DateOnly(dates[i])
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	return dates, nil
}

// NextUpcoming returns the first date on or after today
func NextUpcoming(dates []time.Time, today time.Time) (time.Time, bool) {
	today = model.DateOnly(today)
	for _, d := range dates {
		if !d.Before(today) {
			return d, true
		}
	}
	return time.Time{}, false
}

// ValidateDayFilter checks that every entry is a known weekday name or the weekdays sentinel
func ValidateDayFilter(filter []string) error {
	_, err := parseDayFilter(filter)
	return err
}

func hasWeekdaysFilter(filter []string) bool {
	for _, d := range filter {
		if strings.EqualFold(strings.TrimSpace(d), WeekdaysFilter) {
			return true
		}
	}
	return false
}

func parseDayFilter(filter []string) ([]rrule.Weekday, error) {
	seen := make(map[int]bool)
	var days []rrule.Weekday

	add := func(wd rrule.Weekday) {
		if !seen[wd.Day()] {
			seen[wd.Day()] = true
			days = append(days, wd)
		}
	}

	for _, raw := range filter {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if name == WeekdaysFilter {
			for _, wd := range workWeek {
				add(wd)
			}
			continue
		}
		wd, ok := weekdayNames[name]
		if !ok {
			return nil, apperrors.Validation("unknown day %q in day filter", raw)
		}
		add(wd)
	}

	return days, nil
}
