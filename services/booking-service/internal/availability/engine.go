package availability

import (
	"fmt"
	"time"
)

const DefaultStepMinutes = 15

type Engine struct {
	zones ZoneResolver
}

func NewEngine(zones ZoneResolver) *Engine {
	if zones == nil {
		zones = SystemZones{}
	}
	return &Engine{zones: zones}
}

// Location resolves name the way Compute does, applying DefaultTimezone.
func (e *Engine) Location(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	return e.zones.Location(name)
}

// dayPlan is a validated request resolved against one calendar day.
type dayPlan struct {
	date      Date
	loc       *time.Location
	working   bool
	hours     MinuteWindow
	breaks    []MinuteWindow
	effective WallClockMinutes
	step      WallClockMinutes
	timeOff   []Interval
	booked    []Interval
}

func (e *Engine) plan(req Request) (dayPlan, error) {
	if !req.Date.Valid() {
		return dayPlan{}, fmt.Errorf("%w: date %s is not a calendar day", ErrInvalidInput, req.Date)
	}
	if err := req.Variant.Validate(); err != nil {
		return dayPlan{}, err
	}
	step := req.StepMinutes
	if step < 0 {
		return dayPlan{}, fmt.Errorf("%w: step must not be negative", ErrInvalidInput)
	}
	if step == 0 {
		step = DefaultStepMinutes
	}
	// Any step past a day leaves only the first candidate, same as a full day.
	if step > int(MinutesPerDay) {
		step = int(MinutesPerDay)
	}
	if err := req.Schedule.Validate(); err != nil {
		return dayPlan{}, err
	}
	for i, a := range req.Appointments {
		if !a.Valid() {
			return dayPlan{}, fmt.Errorf("%w: appointment %d ends before it starts", ErrInvalidInput, i)
		}
	}

	loc, err := e.Location(req.Timezone)
	if err != nil {
		return dayPlan{}, err
	}

	p := dayPlan{
		date:      req.Date,
		loc:       loc,
		effective: WallClockMinutes(req.Variant.Effective()),
		step:      WallClockMinutes(step),
		timeOff:   req.Schedule.TimeOff,
		booked:    req.Appointments,
	}
	wh, ok := req.Schedule.Days[req.Date.Weekday()]
	if !ok || wh.Off() {
		return p, nil
	}
	// Validate already parsed these; errors cannot happen here.
	p.hours, _ = wh.window()
	p.breaks, _ = wh.breakWindows()
	p.working = true
	return p, nil
}

// instant converts a wall-clock minute of the plan's day to an absolute time.
// It reports false when that reading does not exist on the day, which happens
// inside a spring-forward gap.
func (p dayPlan) instant(m WallClockMinutes) (time.Time, bool) {
	t := time.Date(p.date.Year, p.date.Month, p.date.Day, int(m/60), int(m%60), 0, 0, p.loc)
	if t.Day() != p.date.Day || WallClockMinutes(t.Hour()*60+t.Minute()) != m {
		return t, false
	}
	return t, true
}

// blocked returns the first rule that excludes a candidate starting at m.
func (p dayPlan) blocked(m WallClockMinutes, slot Interval) (Reason, string) {
	window := MinuteWindow{Start: m, End: m + p.effective}
	for _, b := range p.breaks {
		if window.Overlaps(b) {
			return ReasonBreak, fmt.Sprintf("overlaps break %s-%s", b.Start, b.End)
		}
	}
	for _, off := range p.timeOff {
		if slot.Overlaps(off) {
			return ReasonTimeOff, "overlaps time off"
		}
	}
	for _, a := range p.booked {
		if slot.Overlaps(a) {
			return ReasonConflict, "overlaps an existing appointment"
		}
	}
	return "", ""
}

// Compute lists every bookable slot of req.Date in ascending start order. An
// empty result with a nil error means the staff member has no availability.
func (e *Engine) Compute(req Request) ([]Slot, error) {
	p, err := e.plan(req)
	if err != nil {
		return nil, err
	}
	if !p.working || p.effective > MinutesPerDay {
		return nil, nil
	}

	duration := time.Duration(p.effective) * time.Minute
	var (
		out  []Slot
		last time.Time
	)
	for m := p.hours.Start; p.effective <= p.hours.End-m; m += p.step {
		start, ok := p.instant(m)
		if !ok {
			continue
		}
		// A repeated fall-back hour can map a later reading to an earlier instant.
		if !last.IsZero() && !start.After(last) {
			continue
		}
		slot := Slot{Start: start, End: start.Add(duration)}
		if reason, _ := p.blocked(m, slot.Interval()); reason != "" {
			continue
		}
		out = append(out, slot)
		last = start
	}
	return out, nil
}

// Verify re-checks one slot against req with the same rules Compute uses. It
// returns nil when Compute would offer the slot, a *RejectionError when it
// would not, or the validation error Compute would return.
func (e *Engine) Verify(req Request, slot Slot) error {
	p, err := e.plan(req)
	if err != nil {
		return err
	}
	if !p.working {
		return reject(ReasonOffHours, "staff does not work on %s", req.Date.Weekday())
	}
	if p.effective > MinutesPerDay {
		return reject(ReasonDuration, "variant lasts longer than a day")
	}
	if want := time.Duration(p.effective) * time.Minute; slot.End.Sub(slot.Start) != want {
		return reject(ReasonDuration, "slot must last %s", want)
	}

	local := slot.Start.In(p.loc)
	if DateOf(local) != p.date {
		return reject(ReasonOffHours, "slot starts on %s", DateOf(local))
	}
	if local.Second() != 0 || local.Nanosecond() != 0 {
		return reject(ReasonOffGrid, "slot must start on a whole minute")
	}
	m := WallClockMinutes(local.Hour()*60 + local.Minute())
	if m < p.hours.Start || p.effective > p.hours.End-m {
		return reject(ReasonOffHours, "slot is outside %s-%s", p.hours.Start, p.hours.End)
	}
	if (m-p.hours.Start)%p.step != 0 {
		return reject(ReasonOffGrid, "slot is not on the %d minute grid", int(p.step))
	}
	if start, ok := p.instant(m); !ok || !start.Equal(slot.Start) {
		return reject(ReasonOffHours, "local time %s is not a bookable instant", m)
	}
	if reason, detail := p.blocked(m, slot.Interval()); reason != "" {
		return reject(reason, "%s", detail)
	}
	return nil
}
