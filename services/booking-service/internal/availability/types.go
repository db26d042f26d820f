package availability

import (
	"fmt"
	"math"
	"time"
)

// Interval is a half-open [Start, End) span of absolute time.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Valid() bool {
	return !i.Start.IsZero() && i.End.After(i.Start)
}

type Break struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WorkingHours are the wall-clock opening hours of one weekday. Either bound
// left empty marks the day as off.
type WorkingHours struct {
	Start  string  `json:"start"`
	End    string  `json:"end"`
	Breaks []Break `json:"breaks,omitempty"`
}

func (w WorkingHours) Off() bool {
	return w.Start == "" || w.End == ""
}

// Schedule is a staff member's weekly hours plus dated absences.
type Schedule struct {
	Days    map[time.Weekday]WorkingHours `json:"days"`
	TimeOff []Interval                    `json:"time_off,omitempty"`
}

// Validate checks every configured weekday and time-off record, not only the
// day being asked about.
func (s Schedule) Validate() error {
	for day, wh := range s.Days {
		if wh.Off() {
			continue
		}
		if _, err := wh.window(); err != nil {
			return fmt.Errorf("%s: %w", day, err)
		}
		if _, err := wh.breakWindows(); err != nil {
			return fmt.Errorf("%s: %w", day, err)
		}
	}
	for i, off := range s.TimeOff {
		if !off.Valid() {
			return fmt.Errorf("%w: time off %d ends before it starts", ErrInvalidInput, i)
		}
	}
	return nil
}

func (w WorkingHours) window() (MinuteWindow, error) {
	start, err := ParseWallClock(w.Start)
	if err != nil {
		return MinuteWindow{}, err
	}
	end, err := ParseWallClock(w.End)
	if err != nil {
		return MinuteWindow{}, err
	}
	if end <= start {
		return MinuteWindow{}, fmt.Errorf("%w: working hours %s-%s end before they start", ErrInvalidInput, w.Start, w.End)
	}
	return MinuteWindow{Start: start, End: end}, nil
}

func (w WorkingHours) breakWindows() ([]MinuteWindow, error) {
	out := make([]MinuteWindow, 0, len(w.Breaks))
	for _, b := range w.Breaks {
		start, err := ParseWallClock(b.Start)
		if err != nil {
			return nil, err
		}
		end, err := ParseWallClock(b.End)
		if err != nil {
			return nil, err
		}
		if end <= start {
			return nil, fmt.Errorf("%w: break %s-%s ends before it starts", ErrInvalidInput, b.Start, b.End)
		}
		out = append(out, MinuteWindow{Start: start, End: end})
	}
	return out, nil
}

// Variant is the bookable service option. Buffers are dead time around the
// appointment that still blocks the calendar.
type Variant struct {
	DurationMin     int `json:"duration_min"`
	BufferBeforeMin int `json:"buffer_before_min"`
	BufferAfterMin  int `json:"buffer_after_min"`
}

func (v Variant) Effective() int {
	return v.BufferBeforeMin + v.DurationMin + v.BufferAfterMin
}

func (v Variant) Validate() error {
	if v.DurationMin < 0 || v.BufferBeforeMin < 0 || v.BufferAfterMin < 0 {
		return fmt.Errorf("%w: variant durations must not be negative", ErrInvalidInput)
	}
	if v.DurationMin > math.MaxInt-v.BufferBeforeMin || v.BufferAfterMin > math.MaxInt-v.BufferBeforeMin-v.DurationMin {
		return fmt.Errorf("%w: variant effective duration overflows", ErrInvalidInput)
	}
	if v.Effective() <= 0 {
		return fmt.Errorf("%w: variant effective duration must be positive", ErrInvalidInput)
	}
	return nil
}

// Slot spans the whole effective duration, buffers included.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s Slot) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}

// Request is everything one computation needs. The engine keeps no state
// between calls.
type Request struct {
	Schedule     Schedule
	Variant      Variant
	Date         Date
	Appointments []Interval
	// Timezone is an IANA name; empty means DefaultTimezone.
	Timezone string
	// StepMinutes is the grid spacing; zero means DefaultStepMinutes.
	StepMinutes int
}
