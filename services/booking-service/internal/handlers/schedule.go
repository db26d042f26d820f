package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

// ScheduleHandler serves the salon admin API. Every write publishes
// business.schedule.updated.v1 in the same transaction and drops the local
// snapshot cache after commit.
type ScheduleHandler struct {
	repo       *storage.ScheduleRepository
	outboxRepo *outbox.Repository
	cache      scheduling.Invalidator
	zones      availability.ZoneResolver
	logger     *slog.Logger
	now        func() time.Time
}

func NewScheduleHandler(repo *storage.ScheduleRepository, outboxRepo *outbox.Repository, cache scheduling.Invalidator, zones availability.ZoneResolver, logger *slog.Logger) *ScheduleHandler {
	if zones == nil {
		zones = availability.SystemZones{}
	}
	return &ScheduleHandler{
		repo:       repo,
		outboxRepo: outboxRepo,
		cache:      cache,
		zones:      zones,
		logger:     logger,
		now:        time.Now,
	}
}

// write runs fn in a transaction together with the schedule event.
func (h *ScheduleHandler) write(ctx context.Context, businessID, staffID, change string, fn func(repo *storage.ScheduleRepository) error) error {
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(h.repo.WithTx(tx)); err != nil {
		return err
	}

	payload, err := json.Marshal(outbox.ScheduleUpdated{
		BusinessID: businessID,
		StaffID:    staffID,
		Change:     change,
		OccurredAt: h.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "business",
		AggregateID:   businessID,
		EventType:     outbox.EventScheduleUpdated,
		Payload:       payload,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, businessID, staffID); err != nil {
			h.logger.Warn("schedule cache invalidation failed", "err", err, "business_id", businessID)
		}
	}
	return nil
}

func requireBusiness(w http.ResponseWriter, r *http.Request) (string, bool) {
	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return "", false
	}
	return businessID, true
}

func requireStaffID(w http.ResponseWriter, r *http.Request) (string, bool) {
	staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
	if staffID == "" {
		http.Error(w, "staff_id is required", http.StatusBadRequest)
		return "", false
	}
	return staffID, true
}

func (h *ScheduleHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	p, err := h.repo.GetOrCreateProfile(r.Context(), businessID)
	if err != nil {
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ScheduleHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}

	var req struct {
		Name            string `json:"name"`
		Timezone        string `json:"timezone"`
		SlotStepMinutes int    `json:"slot_step_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone == "" {
		req.Timezone = availability.DefaultTimezone
	}
	if _, err := h.zones.Location(req.Timezone); err != nil {
		http.Error(w, "unknown timezone", http.StatusBadRequest)
		return
	}
	if req.SlotStepMinutes < 0 || req.SlotStepMinutes > 24*60 {
		http.Error(w, "invalid slot_step_minutes", http.StatusBadRequest)
		return
	}

	err := h.write(r.Context(), businessID, "", "profile", func(repo *storage.ScheduleRepository) error {
		return repo.UpdateProfile(r.Context(), model.BusinessProfile{
			BusinessID:      businessID,
			Name:            req.Name,
			Timezone:        req.Timezone,
			SlotStepMinutes: req.SlotStepMinutes,
		})
	})
	if err != nil {
		h.writeError(w, err, "failed to update profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScheduleHandler) CreateVariant(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}

	var req struct {
		Name                string `json:"name"`
		DurationMinutes     int    `json:"duration_minutes"`
		BufferBeforeMinutes int    `json:"buffer_before_minutes"`
		BufferAfterMinutes  int    `json:"buffer_after_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	v := availability.Variant{DurationMin: req.DurationMinutes, BufferBeforeMin: req.BufferBeforeMinutes, BufferAfterMin: req.BufferAfterMinutes}
	if req.Name == "" || req.DurationMinutes <= 0 || v.Validate() != nil || v.Effective() > 24*60 {
		http.Error(w, "name, positive duration_minutes and non-negative buffers required", http.StatusBadRequest)
		return
	}

	var id string
	err := h.write(r.Context(), businessID, "", "variant", func(repo *storage.ScheduleRepository) error {
		var err error
		id, err = repo.CreateVariant(r.Context(), model.Variant{
			BusinessID:          businessID,
			Name:                req.Name,
			DurationMinutes:     req.DurationMinutes,
			BufferBeforeMinutes: req.BufferBeforeMinutes,
			BufferAfterMinutes:  req.BufferAfterMinutes,
		})
		return err
	})
	if err != nil {
		h.writeError(w, err, "failed to create variant")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *ScheduleHandler) ListVariants(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	variants, err := h.repo.ListVariants(r.Context(), businessID, 100)
	if err != nil {
		http.Error(w, "failed to list variants", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, variants)
}

func (h *ScheduleHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}

	var req struct {
		Name     string `json:"name"`
		IsActive *bool  `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	var id string
	err := h.write(r.Context(), businessID, "", "staff", func(repo *storage.ScheduleRepository) error {
		var err error
		id, err = repo.CreateStaff(r.Context(), businessID, req.Name, isActive)
		return err
	})
	if err != nil {
		h.writeError(w, err, "failed to create staff")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *ScheduleHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staff, err := h.repo.ListStaff(r.Context(), businessID, 100)
	if err != nil {
		http.Error(w, "failed to list staff", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

type breakBody struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type workingDayBody struct {
	Weekday   int         `json:"weekday"`
	IsWorking bool        `json:"is_working"`
	Start     string      `json:"start"`
	End       string      `json:"end"`
	Breaks    []breakBody `json:"breaks"`
}

func workingDayResponse(d model.WorkingDay) workingDayBody {
	out := workingDayBody{Weekday: d.Weekday, IsWorking: d.IsWorking, Breaks: []breakBody{}}
	if d.IsWorking {
		out.Start = availability.WallClockMinutes(d.StartMinute).String()
		out.End = availability.WallClockMinutes(d.EndMinute).String()
	}
	for _, b := range d.Breaks {
		out.Breaks = append(out.Breaks, breakBody{
			Start: availability.WallClockMinutes(b.StartMinute).String(),
			End:   availability.WallClockMinutes(b.EndMinute).String(),
		})
	}
	return out
}

func (h *ScheduleHandler) ListWorkingHours(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staffID, ok := requireStaffID(w, r)
	if !ok {
		return
	}

	days, err := h.repo.ListWorkingHours(r.Context(), businessID, staffID)
	if err != nil {
		http.Error(w, "failed to list working hours", http.StatusInternalServerError)
		return
	}
	out := make([]workingDayBody, 0, len(days))
	for _, d := range days {
		out = append(out, workingDayResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// parseWorkingDay validates the body with the same rules the engine applies.
func parseWorkingDay(staffID string, body workingDayBody) (model.WorkingDay, error) {
	if body.Weekday < 0 || body.Weekday > 6 {
		return model.WorkingDay{}, errors.New("weekday must be between 0 and 6")
	}
	day := model.WorkingDay{StaffID: staffID, Weekday: body.Weekday, IsWorking: body.IsWorking, Breaks: []model.BreakMinutes{}}
	if !body.IsWorking {
		return day, nil
	}

	wh := availability.WorkingHours{Start: body.Start, End: body.End}
	for _, b := range body.Breaks {
		wh.Breaks = append(wh.Breaks, availability.Break{Start: b.Start, End: b.End})
	}
	sched := availability.Schedule{Days: map[time.Weekday]availability.WorkingHours{time.Weekday(body.Weekday): wh}}
	if wh.Off() {
		return model.WorkingDay{}, errors.New("start and end are required on a working day")
	}
	if err := sched.Validate(); err != nil {
		return model.WorkingDay{}, err
	}

	start, _ := availability.ParseWallClock(body.Start)
	end, _ := availability.ParseWallClock(body.End)
	day.StartMinute, day.EndMinute = int(start), int(end)
	for _, b := range body.Breaks {
		bs, _ := availability.ParseWallClock(b.Start)
		be, _ := availability.ParseWallClock(b.End)
		if int(bs) < day.StartMinute || int(be) > day.EndMinute {
			return model.WorkingDay{}, errors.New("breaks must fall inside working hours")
		}
		day.Breaks = append(day.Breaks, model.BreakMinutes{StartMinute: int(bs), EndMinute: int(be)})
	}
	return day, nil
}

func (h *ScheduleHandler) UpsertWorkingHours(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staffID, ok := requireStaffID(w, r)
	if !ok {
		return
	}

	var body workingDayBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	day, err := parseWorkingDay(staffID, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.write(r.Context(), businessID, staffID, "working_hours", func(repo *storage.ScheduleRepository) error {
		return repo.UpsertWorkingHours(r.Context(), businessID, day)
	})
	if err != nil {
		h.writeError(w, err, "failed to upsert working hours")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScheduleHandler) CreateTimeOff(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staffID, ok := requireStaffID(w, r)
	if !ok {
		return
	}

	var req struct {
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(req.EndTime))
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	if !end.After(start) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}

	var id string
	err = h.write(r.Context(), businessID, staffID, "time_off", func(repo *storage.ScheduleRepository) error {
		var err error
		id, err = repo.CreateTimeOff(r.Context(), businessID, model.TimeOff{
			StaffID:   staffID,
			StartTime: start.UTC(),
			EndTime:   end.UTC(),
			Reason:    strings.TrimSpace(req.Reason),
		})
		return err
	})
	if err != nil {
		h.writeError(w, err, "failed to create time off")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *ScheduleHandler) ListTimeOff(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staffID, ok := requireStaffID(w, r)
	if !ok {
		return
	}

	fromStr := strings.TrimSpace(r.URL.Query().Get("from"))
	toStr := strings.TrimSpace(r.URL.Query().Get("to"))
	if fromStr == "" || toStr == "" {
		http.Error(w, "from and to are required (RFC3339)", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	items, err := h.repo.ListTimeOff(r.Context(), businessID, staffID, from.UTC(), to.UTC(), 100)
	if err != nil {
		http.Error(w, "failed to list time off", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ScheduleHandler) DeleteTimeOff(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	// The staff id is only known once the row is gone, so the event names the
	// whole business.
	err := h.write(r.Context(), businessID, "", "time_off", func(repo *storage.ScheduleRepository) error {
		_, err := repo.DeleteTimeOff(r.Context(), businessID, id)
		return err
	})
	if err != nil {
		h.writeError(w, err, "failed to delete time off")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScheduleHandler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case storage.IsNotFound(err) || storage.IsInvalidReference(err):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		h.logger.Error(msg, "err", err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
