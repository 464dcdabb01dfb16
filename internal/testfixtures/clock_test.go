package testfixtures

import (
	"testing"
	"time"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", clock.Now())
	}
	if clock.Today() != ReferenceDate(0) {
		t.Fatalf("Today = %s, want %s", clock.Today(), ReferenceDate(0))
	}
}

func TestClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2025, time.March, 14, 9, 26, 0, 0, time.UTC)
	clock := NewClock(start)

	updated := clock.Advance(90 * time.Minute)
	if !updated.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("advance returned %v", updated)
	}

	clock.Set(start.Add(2 * time.Hour))
	if got := clock.Current(); !got.Equal(start.Add(2 * time.Hour)) {
		t.Fatalf("expected %v, got %v", start.Add(2*time.Hour), got)
	}
}

func TestClockAdvanceDaysKeepsWallTime(t *testing.T) {
	// Fixed zones have no DST; the check is that days are counted in loc.
	loc := time.FixedZone("PST", -8*60*60)
	clock := ClockAt(loc, "2025-03-08", "23:30")

	if clock.Today() != "2025-03-08" {
		t.Fatalf("Today = %s, want 2025-03-08", clock.Today())
	}

	next := clock.AdvanceDays(2)
	if got := next.In(loc).Format("2006-01-02 15:04"); got != "2025-03-10 23:30" {
		t.Fatalf("AdvanceDays = %s", got)
	}
	if clock.Today() != "2025-03-10" {
		t.Fatalf("Today = %s, want 2025-03-10", clock.Today())
	}
}

func TestClockNowFunc(t *testing.T) {
	clock := NewClock(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	nowFn := clock.NowFunc()

	clock.Advance(time.Minute)
	if got := nowFn(); !got.Equal(clock.Current()) {
		t.Fatalf("expected updated time %v, got %v", clock.Current(), got)
	}
}
