// Package timeutil provides calendar-day helpers bound to an explicit location.
// Streaks and weekly summaries are computed in the school's configured timezone,
// never in the server's local zone.
package timeutil

import (
	"time"
)

// LoadLocation loads a named zone, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(orUTC(loc))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// StartOfWeek returns Monday 00:00 of t's week in loc.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	day := StartOfDay(t, loc)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

// CalendarDay identifies a date without a time component.
type CalendarDay struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) CalendarDay {
	local := t.In(orUTC(loc))
	return CalendarDay{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

// ordinal is the number of days since the Unix epoch. Computed on a UTC
// midnight so DST transitions in loc never produce 23 or 25 hour days.
func (d CalendarDay) ordinal() int64 {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// Before reports whether d is earlier than other.
func (d CalendarDay) Before(other CalendarDay) bool {
	return d.ordinal() < other.ordinal()
}

// DaysUntil returns the signed number of whole days from d to other.
func (d CalendarDay) DaysUntil(other CalendarDay) int {
	return int(other.ordinal() - d.ordinal())
}

// DaysBetween returns the signed number of calendar days from t1 to t2 in loc.
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	return DayOf(t1, loc).DaysUntil(DayOf(t2, loc))
}

// IsSameDay checks if two times fall on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return DayOf(t1, loc) == DayOf(t2, loc)
}
