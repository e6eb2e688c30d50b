package availability

import (
	"testing"
	"time"
)

func TestOverlaps(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }
	existing := Interval{Start: at(9, 0), End: at(10, 0)}

	cases := []struct {
		name string
		c    Interval
		want bool
	}{
		{"identical", Interval{at(9, 0), at(10, 0)}, true},
		{"overlaps end", Interval{at(9, 30), at(10, 30)}, true},
		{"overlaps start", Interval{at(8, 30), at(9, 1)}, true},
		{"contained", Interval{at(9, 15), at(9, 45)}, true},
		{"contains", Interval{at(8, 0), at(11, 0)}, true},
		{"touches end", Interval{at(10, 0), at(11, 0)}, false},
		{"touches start", Interval{at(8, 0), at(9, 0)}, false},
		{"disjoint", Interval{at(12, 0), at(13, 0)}, false},
	}
	for _, tc := range cases {
		if got := Overlaps(tc.c, existing); got != tc.want {
			t.Fatalf("%s: Overlaps=%v, want %v", tc.name, got, tc.want)
		}
		if got := Overlaps(existing, tc.c); got != tc.want {
			t.Fatalf("%s: overlap must be symmetric", tc.name)
		}
	}
}

func TestIntervalValid(t *testing.T) {
	start := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	if (Interval{Start: start, End: start}).Valid() {
		t.Fatal("zero-length interval must be invalid")
	}
	if (Interval{Start: start, End: start.Add(-time.Minute)}).Valid() {
		t.Fatal("inverted interval must be invalid")
	}
	if !(Interval{Start: start, End: start.Add(time.Minute)}).Valid() {
		t.Fatal("positive interval must be valid")
	}
}

func TestAvailableSlots_Basic(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, loc)
	windowStart := time.Date(2026, 1, 28, 9, 0, 0, 0, loc)
	windowEnd := time.Date(2026, 1, 28, 10, 0, 0, 0, loc)

	busy := []Interval{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := AvailableSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, busy, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format(time.RFC3339))
	}
	if !slots[1].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Format(time.RFC3339))
	}
}

func TestAvailableSlots_SkipsPast(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, loc)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	now := day.Add(9*time.Hour + 31*time.Minute)
	slots := AvailableSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, nil, now)
	// 09:00, 09:15, 09:30 are in the past (start < now). 09:45 is future.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestAvailableSlots_RejectsBadInput(t *testing.T) {
	start := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	if AvailableSlots(start, start.Add(time.Hour), 0, time.Minute, nil, start) != nil {
		t.Fatal("zero duration must yield nothing")
	}
	if AvailableSlots(start, start.Add(30*time.Minute), time.Hour, time.Hour, nil, start) != nil {
		t.Fatal("window shorter than duration must yield nothing")
	}
}
