package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the canonical calendar-day representation used across storage and APIs.
const DateLayout = "2006-01-02"

// ErrInvalidTimeOfDay indicates a clock value could not be parsed as HH:MM.
var ErrInvalidTimeOfDay = errors.New("recurrence: time of day must use HH:MM")

// TimeOfDay is a wall-clock time within the organizational timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a 24-hour "HH:MM" value.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// MustTimeOfDay is ParseTimeOfDay for compile-time constants.
func MustTimeOfDay(value string) TimeOfDay {
	t, err := ParseTimeOfDay(value)
	if err != nil {
		panic(err)
	}
	return t
}

// String renders the value as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes elapsed since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Before reports whether t is earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.Minutes() < other.Minutes()
}

// On combines the calendar day of date with the time of day in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// DateOf truncates an instant to its calendar day (midnight) in loc.
func DateOf(instant time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := instant.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ParseDate parses a YYYY-MM-DD value into midnight of that day in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, value, loc)
}
