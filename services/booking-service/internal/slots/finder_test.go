package slots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/scheduling"
)

type staticProvider struct {
	snap scheduling.Snapshot
	err  error
}

func (p staticProvider) Snapshot(ctx context.Context, businessID, staffID, variantID string) (scheduling.Snapshot, error) {
	return p.snap, p.err
}

type bookedFunc func(ctx context.Context, businessID, staffID string, start, end time.Time) ([]model.Appointment, error)

func (f bookedFunc) ListBookedIntervals(ctx context.Context, businessID, staffID string, start, end time.Time) ([]model.Appointment, error) {
	return f(ctx, businessID, staffID, start, end)
}

type timeOffFunc func(ctx context.Context, businessID, staffID string, start, end time.Time) ([]availability.Interval, error)

func (f timeOffFunc) ListTimeOffIntervals(ctx context.Context, businessID, staffID string, start, end time.Time) ([]availability.Interval, error) {
	return f(ctx, businessID, staffID, start, end)
}

var noTimeOff = timeOffFunc(func(context.Context, string, string, time.Time, time.Time) ([]availability.Interval, error) {
	return nil, nil
})

func londonSnapshot() scheduling.Snapshot {
	return scheduling.Snapshot{
		Schedule: availability.Schedule{Days: map[time.Weekday]availability.WorkingHours{
			time.Monday: {Start: "09:00", End: "17:00"},
		}},
		Variant:     availability.Variant{DurationMin: 30},
		Timezone:    "Europe/London",
		StepMinutes: 30,
	}
}

var monday = availability.Date{Year: 2024, Month: time.June, Day: 3}

func TestFindUsesBookedAppointments(t *testing.T) {
	var gotFrom, gotTo time.Time
	booked := bookedFunc(func(ctx context.Context, businessID, staffID string, start, end time.Time) ([]model.Appointment, error) {
		gotFrom, gotTo = start, end
		noon := time.Date(2024, 6, 3, 11, 0, 0, 0, time.UTC) // 12:00 BST
		return []model.Appointment{{StartTime: noon, EndTime: noon.Add(30 * time.Minute)}}, nil
	})
	f := NewFinder(staticProvider{snap: londonSnapshot()}, booked, noTimeOff, availability.NewEngine(nil), nil)
	f.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	out, err := f.Find(context.Background(), Query{BusinessID: "b", StaffID: "s", VariantID: "v", Date: monday})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(out) != 15 {
		t.Fatalf("expected 15 slots, got %d", len(out))
	}
	if !gotFrom.Equal(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)) || gotTo.Sub(gotFrom) != 72*time.Hour {
		t.Fatalf("unexpected booking window %s-%s", gotFrom, gotTo)
	}
}

func TestFindDropsPastSlotsAndHonoursStep(t *testing.T) {
	booked := bookedFunc(func(context.Context, string, string, time.Time, time.Time) ([]model.Appointment, error) {
		return nil, nil
	})
	f := NewFinder(staticProvider{snap: londonSnapshot()}, booked, noTimeOff, availability.NewEngine(nil), nil)
	f.now = func() time.Time { return time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC) } // 16:00 BST

	out, err := f.Find(context.Background(), Query{Date: monday, StepMinutes: 15})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	// 16:00, 16:15, 16:30 remain.
	if len(out) != 3 {
		t.Fatalf("expected 3 future slots, got %d", len(out))
	}
}

func TestFindErrors(t *testing.T) {
	booked := bookedFunc(func(context.Context, string, string, time.Time, time.Time) ([]model.Appointment, error) {
		return nil, nil
	})
	f := NewFinder(staticProvider{err: scheduling.ErrNotFound}, booked, noTimeOff, availability.NewEngine(nil), nil)
	if _, err := f.Find(context.Background(), Query{Date: monday}); !errors.Is(err, scheduling.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.Find(context.Background(), Query{Date: monday, StepMinutes: -1}); !errors.Is(err, availability.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	snap := londonSnapshot()
	snap.Timezone = "Not/AZone"
	f = NewFinder(staticProvider{snap: snap}, booked, noTimeOff, availability.NewEngine(nil), nil)
	if _, err := f.Find(context.Background(), Query{Date: monday}); !errors.Is(err, availability.ErrUnknownTimezone) {
		t.Fatalf("expected ErrUnknownTimezone, got %v", err)
	}
}

func TestFindLoadsTimeOffForTheDate(t *testing.T) {
	booked := bookedFunc(func(context.Context, string, string, time.Time, time.Time) ([]model.Appointment, error) {
		return nil, nil
	})
	var gotFrom, gotTo time.Time
	offs := timeOffFunc(func(ctx context.Context, businessID, staffID string, start, end time.Time) ([]availability.Interval, error) {
		gotFrom, gotTo = start, end
		// 13:00-15:00 BST
		off := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
		return []availability.Interval{{Start: off, End: off.Add(2 * time.Hour)}}, nil
	})
	snap := londonSnapshot()
	snap.Schedule.TimeOff = []availability.Interval{{
		Start: time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 3, 16, 0, 0, 0, time.UTC),
	}}
	f := NewFinder(staticProvider{snap: snap}, booked, offs, availability.NewEngine(nil), nil)
	f.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	out, err := f.Find(context.Background(), Query{Date: monday})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	// 16 half hours less the four inside 13:00-15:00.
	if len(out) != 12 {
		t.Fatalf("expected 12 slots, got %d", len(out))
	}
	if from, to := BookingWindow(monday); !gotFrom.Equal(from) || !gotTo.Equal(to) {
		t.Fatalf("unexpected time off window %s-%s", gotFrom, gotTo)
	}

	failing := timeOffFunc(func(context.Context, string, string, time.Time, time.Time) ([]availability.Interval, error) {
		return nil, errors.New("db down")
	})
	f = NewFinder(staticProvider{snap: londonSnapshot()}, booked, failing, availability.NewEngine(nil), nil)
	if _, err := f.Find(context.Background(), Query{Date: monday}); err == nil {
		t.Fatal("expected time off read error")
	}
}

func TestOutcome(t *testing.T) {
	if outcome(0, nil) != "empty" || outcome(3, nil) != "ok" || outcome(0, errors.New("x")) != "error" {
		t.Fatal("unexpected outcome labels")
	}
}
