// Package interval provides the date range and cycle arithmetic shared by
// exemptions, membership pauses and the shift generator.
package interval

import (
	"fmt"
	"sort"
	"time"
)

// DateRange is a half-open interval [Start, End). A nil End means the range
// is open-ended.
type DateRange struct {
	Start time.Time
	End   *time.Time
}

// ActiveAt reports whether the range covers the given date.
func (r DateRange) ActiveAt(date time.Time) bool {
	day := TruncateToDay(date)
	if day.Before(TruncateToDay(r.Start)) {
		return false
	}
	if r.End == nil {
		return true
	}
	return day.Before(TruncateToDay(*r.End))
}

// Overlaps reports whether the two ranges share at least one day.
func (r DateRange) Overlaps(other DateRange) bool {
	if other.End != nil && !TruncateToDay(r.Start).Before(TruncateToDay(*other.End)) {
		return false
	}
	if r.End != nil && !TruncateToDay(other.Start).Before(TruncateToDay(*r.End)) {
		return false
	}
	return true
}

// Days returns the length of the range in days, or -1 for an open-ended
// range.
func (r DateRange) Days() int {
	if r.End == nil {
		return -1
	}
	return int(TruncateToDay(*r.End).Sub(TruncateToDay(r.Start)).Hours() / 24)
}

// TruncateToDay strips the time-of-day, keeping the location.
func TruncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Monday returns the Monday of the week the given date falls in.
func Monday(t time.Time) time.Time {
	day := TruncateToDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// CombineDateTime places a "15:04" wall-clock time on the given date.
func CombineDateTime(date time.Time, clock string) (time.Time, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid wall-clock time %q: %w", clock, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, date.Location()), nil
}

// WeekGroupIndexAt resolves which rotation group's week the given date falls
// in. Cycle start dates anchor the rotation: the week containing the most
// recent anchor at or before the date is group 0, and groups advance weekly
// modulo numGroups. Dates before the first anchor extrapolate backwards on
// the same cadence.
func WeekGroupIndexAt(date time.Time, cycleStartDates []time.Time, numGroups int) (int, error) {
	if numGroups <= 0 {
		return 0, fmt.Errorf("number of groups must be positive, got %d", numGroups)
	}
	if len(cycleStartDates) == 0 {
		return 0, fmt.Errorf("at least one cycle start date is required")
	}

	sorted := make([]time.Time, len(cycleStartDates))
	copy(sorted, cycleStartDates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	week := Monday(date)
	anchor := Monday(sorted[0])
	for _, candidate := range sorted {
		if !Monday(candidate).After(week) {
			anchor = Monday(candidate)
		}
	}

	weeks := int(week.Sub(anchor).Hours() / (24 * 7))
	return ((weeks % numGroups) + numGroups) % numGroups, nil
}
