package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// ScheduleRepository owns the salon configuration slots are computed from:
// profile, variants, staff, weekly hours and time off.
type ScheduleRepository struct {
	db db.Querier
}

func NewScheduleRepository(q db.Querier) *ScheduleRepository {
	return &ScheduleRepository{db: q}
}

func (r *ScheduleRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// WithTx returns a repository whose statements run inside tx.
func (r *ScheduleRepository) WithTx(tx pgx.Tx) *ScheduleRepository {
	return &ScheduleRepository{db: tx}
}

// GetProfile reads the profile without creating one. A business that never
// saved settings gets pgx.ErrNoRows.
func (r *ScheduleRepository) GetProfile(ctx context.Context, businessID string) (model.BusinessProfile, error) {
	var p model.BusinessProfile
	err := r.db.QueryRow(ctx, `
		SELECT business_id::text, name, timezone, slot_step_minutes, updated_at
		FROM business_profiles
		WHERE business_id = $1
	`, businessID).Scan(&p.BusinessID, &p.Name, &p.Timezone, &p.SlotStepMinutes, &p.UpdatedAt)
	return p, err
}

func (r *ScheduleRepository) GetOrCreateProfile(ctx context.Context, businessID string) (model.BusinessProfile, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO business_profiles (business_id)
		VALUES ($1)
		ON CONFLICT (business_id) DO NOTHING
	`, businessID)
	if err != nil {
		return model.BusinessProfile{}, err
	}
	return r.GetProfile(ctx, businessID)
}

func (r *ScheduleRepository) UpdateProfile(ctx context.Context, p model.BusinessProfile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO business_profiles (business_id, name, timezone, slot_step_minutes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (business_id) DO UPDATE
		SET name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			slot_step_minutes = EXCLUDED.slot_step_minutes,
			updated_at = now()
	`, p.BusinessID, p.Name, p.Timezone, p.SlotStepMinutes)
	return err
}

func (r *ScheduleRepository) CreateVariant(ctx context.Context, v model.Variant) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(ctx, `
		INSERT INTO service_variants (id, business_id, name, duration_minutes, buffer_before_minutes, buffer_after_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, v.BusinessID, v.Name, v.DurationMinutes, v.BufferBeforeMinutes, v.BufferAfterMinutes)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ScheduleRepository) GetVariant(ctx context.Context, businessID, variantID string) (model.Variant, error) {
	var v model.Variant
	err := r.db.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, buffer_before_minutes, buffer_after_minutes, created_at
		FROM service_variants
		WHERE business_id = $1 AND id = $2
	`, businessID, variantID).Scan(&v.ID, &v.BusinessID, &v.Name, &v.DurationMinutes, &v.BufferBeforeMinutes, &v.BufferAfterMinutes, &v.CreatedAt)
	return v, err
}

func (r *ScheduleRepository) ListVariants(ctx context.Context, businessID string, limit int) ([]model.Variant, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, buffer_before_minutes, buffer_after_minutes, created_at
		FROM service_variants
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Variant{}
	for rows.Next() {
		var v model.Variant
		if err := rows.Scan(&v.ID, &v.BusinessID, &v.Name, &v.DurationMinutes, &v.BufferBeforeMinutes, &v.BufferAfterMinutes, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// CreateStaff inserts the staff row and seeds Mon-Fri 09:00-17:00 hours.
func (r *ScheduleRepository) CreateStaff(ctx context.Context, businessID, name string, isActive bool) (string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO staff (business_id, name, is_active)
		VALUES ($1, $2, $3)
		RETURNING id::text
	`, businessID, name, isActive).Scan(&id)
	if err != nil {
		return "", err
	}

	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		isWorking := wd >= time.Monday && wd <= time.Friday
		startMin, endMin := 540, 1020
		if !isWorking {
			startMin, endMin = 0, 0
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO staff_working_hours (staff_id, weekday, is_working, start_minute, end_minute)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (staff_id, weekday) DO NOTHING
		`, id, int(wd), isWorking, startMin, endMin); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (r *ScheduleRepository) ListStaff(ctx context.Context, businessID string, limit int) ([]model.Staff, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, business_id::text, name, is_active
		FROM staff
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Staff{}
	for rows.Next() {
		var s model.Staff
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ScheduleRepository) ListWorkingHours(ctx context.Context, businessID, staffID string) ([]model.WorkingDay, error) {
	rows, err := r.db.Query(ctx, `
		SELECT h.staff_id::text, h.weekday, h.is_working, h.start_minute, h.end_minute, h.breaks
		FROM staff_working_hours h
		JOIN staff s ON s.id = h.staff_id
		WHERE s.business_id = $1 AND h.staff_id = $2
		ORDER BY h.weekday ASC
	`, businessID, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.WorkingDay{}
	for rows.Next() {
		var wd model.WorkingDay
		var breaks []byte
		if err := rows.Scan(&wd.StaffID, &wd.Weekday, &wd.IsWorking, &wd.StartMinute, &wd.EndMinute, &breaks); err != nil {
			return nil, err
		}
		if len(breaks) > 0 {
			if err := json.Unmarshal(breaks, &wd.Breaks); err != nil {
				return nil, fmt.Errorf("decode breaks for weekday %d: %w", wd.Weekday, err)
			}
		}
		out = append(out, wd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ScheduleRepository) UpsertWorkingHours(ctx context.Context, businessID string, day model.WorkingDay) error {
	if err := r.requireStaff(ctx, businessID, day.StaffID); err != nil {
		return err
	}
	breaks := day.Breaks
	if breaks == nil {
		breaks = []model.BreakMinutes{}
	}
	raw, err := json.Marshal(breaks)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO staff_working_hours (staff_id, weekday, is_working, start_minute, end_minute, breaks)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (staff_id, weekday) DO UPDATE
		SET is_working = EXCLUDED.is_working,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			breaks = EXCLUDED.breaks
	`, day.StaffID, day.Weekday, day.IsWorking, day.StartMinute, day.EndMinute, raw)
	return err
}

func (r *ScheduleRepository) CreateTimeOff(ctx context.Context, businessID string, t model.TimeOff) (string, error) {
	if err := r.requireStaff(ctx, businessID, t.StaffID); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := r.db.Exec(ctx, `
		INSERT INTO staff_time_off (id, staff_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, id, t.StaffID, t.StartTime, t.EndTime, t.Reason)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListTimeOff returns entries overlapping [from, to).
func (r *ScheduleRepository) ListTimeOff(ctx context.Context, businessID, staffID string, from, to time.Time, limit int) ([]model.TimeOff, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT t.id::text, t.staff_id::text, t.start_time, t.end_time, t.reason, t.created_at
		FROM staff_time_off t
		JOIN staff s ON s.id = t.staff_id
		WHERE s.business_id = $1
			AND t.staff_id = $2
			AND t.end_time > $3
			AND t.start_time < $4
		ORDER BY t.start_time ASC
		LIMIT $5
	`, businessID, staffID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.TimeOff{}
	for rows.Next() {
		var t model.TimeOff
		if err := rows.Scan(&t.ID, &t.StaffID, &t.StartTime, &t.EndTime, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// DeleteTimeOff removes the entry and returns the staff member it belonged to.
func (r *ScheduleRepository) DeleteTimeOff(ctx context.Context, businessID, timeOffID string) (string, error) {
	var staffID string
	err := r.db.QueryRow(ctx, `
		DELETE FROM staff_time_off t
		USING staff s
		WHERE t.staff_id = s.id
		  AND s.business_id = $1
		  AND t.id = $2
		RETURNING t.staff_id::text
	`, businessID, timeOffID).Scan(&staffID)
	return staffID, err
}

// LoadSchedule assembles the weekly hours into the shape the slot engine
// consumes. Time off is read per date with ListTimeOffIntervals.
func (r *ScheduleRepository) LoadSchedule(ctx context.Context, businessID, staffID string) (availability.Schedule, error) {
	if err := r.requireStaff(ctx, businessID, staffID); err != nil {
		return availability.Schedule{}, err
	}
	days, err := r.ListWorkingHours(ctx, businessID, staffID)
	if err != nil {
		return availability.Schedule{}, err
	}
	return ScheduleFromRows(days, nil), nil
}

// ListTimeOffIntervals returns every time off entry overlapping [from, to).
// Callers keep the range to a few days, so the result is not paged.
func (r *ScheduleRepository) ListTimeOffIntervals(ctx context.Context, businessID, staffID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT t.start_time, t.end_time
		FROM staff_time_off t
		JOIN staff s ON s.id = t.staff_id
		WHERE s.business_id = $1
			AND t.staff_id = $2
			AND t.end_time > $3
			AND t.start_time < $4
		ORDER BY t.start_time ASC
	`, businessID, staffID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []availability.Interval{}
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ScheduleFromRows converts stored rows. Non-working days are left out of the
// map, which the engine treats as a day off.
func ScheduleFromRows(days []model.WorkingDay, offs []model.TimeOff) availability.Schedule {
	s := availability.Schedule{Days: make(map[time.Weekday]availability.WorkingHours, len(days))}
	for _, d := range days {
		if !d.IsWorking || d.Weekday < 0 || d.Weekday > 6 {
			continue
		}
		wh := availability.WorkingHours{
			Start: availability.WallClockMinutes(d.StartMinute).String(),
			End:   availability.WallClockMinutes(d.EndMinute).String(),
		}
		for _, b := range d.Breaks {
			wh.Breaks = append(wh.Breaks, availability.Break{
				Start: availability.WallClockMinutes(b.StartMinute).String(),
				End:   availability.WallClockMinutes(b.EndMinute).String(),
			})
		}
		s.Days[time.Weekday(d.Weekday)] = wh
	}
	for _, t := range offs {
		s.TimeOff = append(s.TimeOff, availability.Interval{Start: t.StartTime, End: t.EndTime})
	}
	return s
}

func (r *ScheduleRepository) requireStaff(ctx context.Context, businessID, staffID string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM staff WHERE id = $1 AND business_id = $2
		)
	`, staffID, businessID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return pgx.ErrNoRows
	}
	return nil
}

// IsInvalidReference reports a foreign key or uuid syntax failure.
func IsInvalidReference(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23503", "22P02":
		return true
	}
	return false
}
