package model

import (
	"fmt"
	"time"
)

// PeriodKeyLayout is the time layout of an instance period key.
const PeriodKeyLayout = "2006-01"

// PeriodKey returns the YYYY-MM key of the calendar month containing t.
func PeriodKey(t time.Time) string {
	return t.Format(PeriodKeyLayout)
}

// ParsePeriodKey returns the first day (UTC) of the month a period key names.
func ParsePeriodKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(PeriodKeyLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period key %q: %w", key, err)
	}
	return t, nil
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DateOnly truncates t to midnight UTC on the same calendar day.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DueDateInMonth places dueDay inside the month of monthStart, clamped to the month's last day.
func DueDateInMonth(monthStart time.Time, dueDay int) time.Time {
	last := DaysInMonth(monthStart.Year(), monthStart.Month())
	if dueDay > last {
		dueDay = last
	}
	if dueDay < 1 {
		dueDay = 1
	}
	return time.Date(monthStart.Year(), monthStart.Month(), dueDay, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of whole calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	d := int(DateOnly(a).Sub(DateOnly(b)).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
