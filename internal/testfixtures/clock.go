package testfixtures

import (
	"fmt"
	"sync"
	"time"
)

// Clock is a controllable time source. Calendar helpers work in the clock's
// location, which stands in for the organizational timezone.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	loc     *time.Location
}

// NewClock returns a UTC clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start, loc: time.UTC}
}

// ClockAt returns a clock set to the wall time date (YYYY-MM-DD) hhmm (HH:MM) in loc.
// It panics on malformed input, which is always a test bug.
func ClockAt(loc *time.Location, date, hhmm string) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, loc)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: bad clock time %q %q: %v", date, hhmm, err))
	}
	return &Clock{current: t, loc: loc}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now for injection into services.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Current is Now without implying progression.
func (c *Clock) Current() time.Time {
	return c.Now()
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// AdvanceDays moves forward whole calendar days, keeping the wall clock time
// across DST changes.
func (c *Clock) AdvanceDays(days int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.In(c.loc).AddDate(0, 0, days)
	return c.current
}

// Today returns the clock's calendar day as YYYY-MM-DD.
func (c *Clock) Today() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.In(c.loc).Format("2006-01-02")
}
