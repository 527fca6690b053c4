package timeutil

import (
	"fmt"
	"time"
)

// PeriodLayout is the calendar-period format settlement batches run over
const PeriodLayout = "2006-01"

// Now returns the current time in UTC
// Always use this instead of time.Now() to ensure timezone consistency
func Now() time.Time {
	return time.Now().UTC()
}

// ToUTC converts a time.Time to UTC if it isn't already
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// ParsePeriod parses a YYYY-MM settlement period into its UTC bounds:
// the first instant of the month and the last nanosecond of the month.
func ParsePeriod(period string) (start, end time.Time, err error) {
	t, err := time.Parse(PeriodLayout, period)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse period %q: %w", period, err)
	}
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end, nil
}

// PeriodOf formats the YYYY-MM period containing t
func PeriodOf(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// StartOfDay returns the start of the day (midnight) in UTC
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in UTC
func EndOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 23, 59, 59, 999999999, time.UTC)
}
