package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WallClockMinutes counts minutes since local midnight in the salon timezone.
// It is never compared with an instant directly; see dayPlan.instant.
type WallClockMinutes int

const MinutesPerDay WallClockMinutes = 24 * 60

// ParseWallClock parses "HH:MM" (hours may be one digit). "24:00" is accepted as
// end of day.
func ParseWallClock(s string) (WallClockMinutes, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: wall clock %q is not HH:MM", ErrInvalidInput, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 {
		return 0, fmt.Errorf("%w: wall clock %q has a bad hour", ErrInvalidInput, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: wall clock %q has a bad minute", ErrInvalidInput, s)
	}
	if h == 24 && m == 0 {
		return MinutesPerDay, nil
	}
	if h > 23 {
		return 0, fmt.Errorf("%w: wall clock %q is past midnight", ErrInvalidInput, s)
	}
	return WallClockMinutes(h*60 + m), nil
}

func (m WallClockMinutes) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// MinuteWindow is a half-open [Start, End) range of wall-clock minutes.
type MinuteWindow struct {
	Start WallClockMinutes
	End   WallClockMinutes
}

func (w MinuteWindow) Overlaps(o MinuteWindow) bool {
	return w.Start < o.End && o.Start < w.End
}

// Date is a civil calendar date with no time or zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidInput, s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date t falls on in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// Valid reports whether d names a real calendar day.
func (d Date) Valid() bool {
	if d.IsZero() {
		return false
	}
	return DateOf(time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)) == d
}

// Weekday is the same in every timezone because d is already a local calendar day.
func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

// StartIn returns local midnight of d in loc.
func (d Date) StartIn(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}
