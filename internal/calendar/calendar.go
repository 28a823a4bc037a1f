// Package calendar implements the cron-style calendar emulator described
// in spec §4.7: a pure function from a wildcard-capable five-field
// specification and a reference time to the next absolute firing time.
package calendar

import (
	"time"

	"github.com/nullhaven/overseerd/internal/manifest"
)

const wildcard = -1

// Next returns the first instant strictly after ref (rounded forward to
// the next whole minute) that satisfies every non-wildcard field of
// spec. Weekday 7 is accepted as a synonym for 0 (Sunday) the way the
// donor's cron-style manifests do.
func Next(spec *manifest.CalendarSpec, ref time.Time) time.Time {
	loc := ref.Location()

	start := time.Date(ref.Year(), ref.Month(), ref.Day(), ref.Hour(), ref.Minute(), 0, 0, loc)
	start = start.Add(time.Minute)

	dayDow := matchDayAndMonth(spec, start)

	if spec.Weekday == wildcard {
		return dayDow
	}

	weekdayCandidate := matchWeekday(spec, start)

	if spec.Day == wildcard {
		return weekdayCandidate
	}

	// Both day-of-month and weekday are specified: the earlier candidate
	// wins (spec §4.7).
	if dayDow.Before(weekdayCandidate) {
		return dayDow
	}
	return weekdayCandidate
}

// matchDayAndMonth advances start minute-by-minute/field-by-field until
// month, day-of-month, hour and minute all satisfy spec, ignoring the
// weekday field entirely.
func matchDayAndMonth(spec *manifest.CalendarSpec, start time.Time) time.Time {
	t := start
	loc := t.Location()

	// Bound the search: at most a handful of years of minutes is more
	// than enough slack for any valid combination of fields; a
	// pathological spec (e.g. day=31 with month=Feb only) cannot be
	// satisfied and we give up after scanning broadly rather than loop
	// forever.
	limit := start.AddDate(5, 0, 0)

	for {
		if t.After(limit) {
			return t
		}
		if spec.Month != wildcard && int(t.Month())-1 != spec.Month {
			t = firstOfNextMonth(t, loc)
			continue
		}
		if spec.Day != wildcard && t.Day() != spec.Day {
			t = firstMomentOfNextDay(t, loc)
			continue
		}
		if spec.Hour != wildcard && t.Hour() != spec.Hour {
			t = firstMomentOfNextHour(t, loc)
			continue
		}
		if spec.Minute != wildcard && t.Minute() != spec.Minute {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
}

// matchWeekday advances whole days from start until the weekday, hour
// and minute fields of spec all match.
func matchWeekday(spec *manifest.CalendarSpec, start time.Time) time.Time {
	t := start
	loc := t.Location()
	limit := start.AddDate(1, 0, 0)

	target := spec.Weekday % 7 // 7 maps to 0 (Sunday)

	for {
		if t.After(limit) {
			return t
		}
		if int(t.Weekday()) != target {
			t = firstMomentOfNextDay(t, loc)
			continue
		}
		if spec.Hour != wildcard && t.Hour() != spec.Hour {
			if t.Hour() > spec.Hour || spec.Hour == wildcard {
				t = firstMomentOfNextDay(t, loc)
				continue
			}
			t = time.Date(t.Year(), t.Month(), t.Day(), spec.Hour, 0, 0, 0, loc)
			continue
		}
		if spec.Minute != wildcard && t.Minute() != spec.Minute {
			if t.Minute() > spec.Minute {
				t = firstMomentOfNextDay(t, loc)
				continue
			}
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), spec.Minute, 0, 0, loc)
			continue
		}
		return t
	}
}

func firstOfNextMonth(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
}

func firstMomentOfNextDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
}

func firstMomentOfNextHour(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
}
