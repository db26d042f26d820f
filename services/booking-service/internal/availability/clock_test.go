package availability

import (
	"errors"
	"testing"
	"time"
)

func TestParseWallClock(t *testing.T) {
	good := map[string]WallClockMinutes{
		"00:00": 0,
		"9:30":  570,
		"17:00": 1020,
		"23:59": 1439,
		"24:00": 1440,
	}
	for in, want := range good {
		got, err := ParseWallClock(in)
		if err != nil || got != want {
			t.Fatalf("%q: expected %d, got %d (%v)", in, want, got, err)
		}
	}
	for _, in := range []string{"", "9", "09:5", "25:00", "24:30", "12:60", "ab:cd", "-1:00"} {
		if _, err := ParseWallClock(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: expected ErrInvalidInput, got %v", in, err)
		}
	}
	if s := WallClockMinutes(570).String(); s != "09:30" {
		t.Fatalf("unexpected string %q", s)
	}
}

func TestMinuteWindowHalfOpen(t *testing.T) {
	a := MinuteWindow{Start: 600, End: 630}
	if a.Overlaps(MinuteWindow{Start: 630, End: 660}) {
		t.Fatal("abutting windows must not overlap")
	}
	if !a.Overlaps(MinuteWindow{Start: 629, End: 660}) {
		t.Fatal("expected overlap")
	}
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.String() != "2024-02-29" || d.Weekday() != time.Thursday || !d.Valid() {
		t.Fatalf("unexpected date %s %s", d, d.Weekday())
	}
	if next := d.AddDays(1); next != (Date{Year: 2024, Month: time.March, Day: 1}) {
		t.Fatalf("unexpected next day %s", next)
	}
	if _, err := ParseDate("2023-02-29"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if (Date{Year: 2023, Month: time.April, Day: 31}).Valid() {
		t.Fatal("April 31 should be invalid")
	}
}
