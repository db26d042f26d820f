package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

// ErrNotFound means the staff member or variant does not belong to the business.
var ErrNotFound = errors.New("schedule not found")

// Snapshot is everything about one staff member and variant that slot
// computation needs apart from the time off and booked appointments around
// the requested date.
type Snapshot struct {
	Schedule    availability.Schedule `json:"schedule"`
	Variant     availability.Variant  `json:"variant"`
	Timezone    string                `json:"timezone"`
	StepMinutes int                   `json:"step_minutes"`
	LoadedAt    time.Time             `json:"loaded_at"`
}

// Request builds the engine input for one date.
func (s Snapshot) Request(date availability.Date, timeOff, booked []availability.Interval) availability.Request {
	sched := s.Schedule
	sched.TimeOff = timeOff
	return availability.Request{
		Schedule:     sched,
		Variant:      s.Variant,
		Date:         date,
		Appointments: booked,
		Timezone:     s.Timezone,
		StepMinutes:  s.StepMinutes,
	}
}

type Provider interface {
	Snapshot(ctx context.Context, businessID, staffID, variantID string) (Snapshot, error)
}

// Invalidator drops cached snapshots. An empty staffID drops the whole business.
type Invalidator interface {
	Invalidate(ctx context.Context, businessID, staffID string) error
}

type ScheduleStore interface {
	GetProfile(ctx context.Context, businessID string) (model.BusinessProfile, error)
	GetVariant(ctx context.Context, businessID, variantID string) (model.Variant, error)
	LoadSchedule(ctx context.Context, businessID, staffID string) (availability.Schedule, error)
}

type StoreConfig struct {
	DefaultTimezone    string
	DefaultStepMinutes int
}

// StoreProvider reads snapshots straight from the database.
type StoreProvider struct {
	store ScheduleStore
	cfg   StoreConfig
	now   func() time.Time
}

func NewStoreProvider(store ScheduleStore, cfg StoreConfig) *StoreProvider {
	return &StoreProvider{store: store, cfg: cfg, now: time.Now}
}

func (p *StoreProvider) Snapshot(ctx context.Context, businessID, staffID, variantID string) (Snapshot, error) {
	// Public lookups never create a profile; a missing one means defaults.
	profile, err := p.store.GetProfile(ctx, businessID)
	switch {
	case err == nil:
	case storage.IsNotFound(err) || storage.IsInvalidReference(err):
		profile = model.BusinessProfile{}
	default:
		return Snapshot{}, err
	}
	variant, err := p.store.GetVariant(ctx, businessID, variantID)
	if err != nil {
		return Snapshot{}, notFound(err)
	}
	now := p.now().UTC()
	sched, err := p.store.LoadSchedule(ctx, businessID, staffID)
	if err != nil {
		return Snapshot{}, notFound(err)
	}

	snap := Snapshot{
		Schedule: sched,
		Variant: availability.Variant{
			DurationMin:     variant.DurationMinutes,
			BufferBeforeMin: variant.BufferBeforeMinutes,
			BufferAfterMin:  variant.BufferAfterMinutes,
		},
		Timezone:    profile.Timezone,
		StepMinutes: profile.SlotStepMinutes,
		LoadedAt:    now,
	}
	if snap.Timezone == "" {
		snap.Timezone = p.cfg.DefaultTimezone
	}
	if snap.StepMinutes <= 0 {
		snap.StepMinutes = p.cfg.DefaultStepMinutes
	}
	return snap, nil
}

func notFound(err error) error {
	if storage.IsNotFound(err) || storage.IsInvalidReference(err) {
		return ErrNotFound
	}
	return err
}
