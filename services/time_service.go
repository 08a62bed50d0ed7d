package services

import "time"

// MonthStartUTC returns midnight UTC on the first day of t's month.
func MonthStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextResetDate returns the first instant of the month after t, which is
// when monthly counters roll over.
func NextResetDate(t time.Time) time.Time {
	return MonthStartUTC(t).AddDate(0, 1, 0)
}

// ParseMonth parses a "YYYY-MM" string into its month start.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01", s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
