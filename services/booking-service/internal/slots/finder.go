package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/scheduling"
)

// BookedLister returns booked appointments overlapping [start, end).
type BookedLister interface {
	ListBookedIntervals(ctx context.Context, businessID, staffID string, start, end time.Time) ([]model.Appointment, error)
}

// TimeOffLister returns time off overlapping [start, end).
type TimeOffLister interface {
	ListTimeOffIntervals(ctx context.Context, businessID, staffID string, start, end time.Time) ([]availability.Interval, error)
}

type Query struct {
	BusinessID string
	StaffID    string
	VariantID  string
	Date       availability.Date
	// StepMinutes overrides the business step when positive.
	StepMinutes int
}

// Finder answers "which slots are free" for one staff member, variant and
// day. It gathers inputs and hands them to the engine; slots already in the
// past are dropped.
type Finder struct {
	schedules scheduling.Provider
	booked    BookedLister
	timeOff   TimeOffLister
	engine    *availability.Engine
	metrics   *metrics.SlotMetrics
	now       func() time.Time
}

func NewFinder(schedules scheduling.Provider, booked BookedLister, timeOff TimeOffLister, engine *availability.Engine, m *metrics.SlotMetrics) *Finder {
	return &Finder{
		schedules: schedules,
		booked:    booked,
		timeOff:   timeOff,
		engine:    engine,
		metrics:   m,
		now:       time.Now,
	}
}

func (f *Finder) Find(ctx context.Context, q Query) ([]availability.Slot, error) {
	started := time.Now()
	out, err := f.find(ctx, q)
	f.metrics.ObserveComputation(outcome(len(out), err), len(out), time.Since(started).Seconds())
	return out, err
}

func (f *Finder) find(ctx context.Context, q Query) ([]availability.Slot, error) {
	if q.StepMinutes < 0 {
		return nil, fmt.Errorf("%w: step must not be negative", availability.ErrInvalidInput)
	}
	if !q.Date.Valid() {
		return nil, fmt.Errorf("%w: date %s is not a calendar day", availability.ErrInvalidInput, q.Date)
	}
	snap, err := f.schedules.Snapshot(ctx, q.BusinessID, q.StaffID, q.VariantID)
	if err != nil {
		return nil, err
	}
	from, to := BookingWindow(q.Date)
	offs, err := f.timeOff.ListTimeOffIntervals(ctx, q.BusinessID, q.StaffID, from, to)
	if err != nil {
		return nil, err
	}
	appts, err := f.booked.ListBookedIntervals(ctx, q.BusinessID, q.StaffID, from, to)
	if err != nil {
		return nil, err
	}

	req := snap.Request(q.Date, offs, Intervals(appts))
	if q.StepMinutes > 0 {
		req.StepMinutes = q.StepMinutes
	}
	computed, err := f.engine.Compute(req)
	if err != nil {
		return nil, err
	}

	now := f.now()
	out := make([]availability.Slot, 0, len(computed))
	for _, s := range computed {
		if s.Start.Before(now) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// BookingWindow is a UTC range wide enough to hold every appointment or time
// off that can touch date in any timezone.
func BookingWindow(date availability.Date) (time.Time, time.Time) {
	start := date.AddDays(-1).StartIn(time.UTC)
	return start, start.Add(72 * time.Hour)
}

func Intervals(appts []model.Appointment) []availability.Interval {
	out := make([]availability.Interval, 0, len(appts))
	for _, a := range appts {
		out = append(out, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}
	return out
}

func outcome(n int, err error) string {
	switch {
	case err == nil && n == 0:
		return "empty"
	case err == nil:
		return "ok"
	case errors.Is(err, availability.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, availability.ErrUnknownTimezone):
		return "unknown_timezone"
	case errors.Is(err, scheduling.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
