package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotbook/libs/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type BookingHandler struct {
	repo       *storage.BookingRepository
	outboxRepo *outbox.Repository
	finder     *slots.Finder
	// schedules must bypass any cache: bookings re-validate against it.
	schedules scheduling.Provider
	engine    *availability.Engine
	metrics   *metrics.SlotMetrics
	logger    *slog.Logger
	now       func() time.Time
}

type BookingConfig struct {
	Repo       *storage.BookingRepository
	OutboxRepo *outbox.Repository
	Finder     *slots.Finder
	Schedules  scheduling.Provider
	Engine     *availability.Engine
	Metrics    *metrics.SlotMetrics
	Logger     *slog.Logger
}

func NewBookingHandler(cfg BookingConfig) *BookingHandler {
	return &BookingHandler{
		repo:       cfg.Repo,
		outboxRepo: cfg.OutboxRepo,
		finder:     cfg.Finder,
		schedules:  cfg.Schedules,
		engine:     cfg.Engine,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

type createBookingRequest struct {
	BusinessID    string `json:"business_id"`
	VariantID     string `json:"variant_id"`
	StaffID       string `json:"staff_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

type createBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
}

type cancelBookingRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type cancelBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

type listAppointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	StaffID       string `json:"staff_id"`
	VariantID     string `json:"variant_id"`
	CustomerName  string `json:"customer_name"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	staffID := strings.TrimSpace(q.Get("staff_id"))
	variantID := strings.TrimSpace(q.Get("variant_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if businessID == "" || staffID == "" || variantID == "" || dateStr == "" {
		http.Error(w, "business_id, staff_id, variant_id, and date are required", http.StatusBadRequest)
		return
	}
	date, err := availability.ParseDate(dateStr)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	step := 0
	if raw := strings.TrimSpace(q.Get("step_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 24*60 {
			http.Error(w, "invalid step_minutes", http.StatusBadRequest)
			return
		}
		step = n
	}

	found, err := h.finder.Find(r.Context(), slots.Query{
		BusinessID:  businessID,
		StaffID:     staffID,
		VariantID:   variantID,
		Date:        date,
		StepMinutes: step,
	})
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	resp := make([]slotItem, 0, len(found))
	for _, s := range found {
		resp = append(resp, slotItem{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, availability.ErrUnknownTimezone):
		http.Error(w, "business timezone is not recognised", http.StatusBadRequest)
	case errors.Is(err, scheduling.ErrNotFound):
		http.Error(w, "staff or variant not found", http.StatusNotFound)
	default:
		h.logger.Error("slot lookup failed", "err", err)
		http.Error(w, "failed to compute slots", http.StatusInternalServerError)
	}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.VariantID = strings.TrimSpace(req.VariantID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)

	if req.BusinessID == "" || req.VariantID == "" || req.StaffID == "" || req.CustomerName == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	startTime, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	snap, err := h.schedules.Snapshot(ctx, req.BusinessID, req.StaffID, req.VariantID)
	if err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			http.Error(w, "staff or variant not found", http.StatusNotFound)
			return
		}
		h.logger.Error("schedule load failed", "err", err)
		http.Error(w, "schedule unavailable", http.StatusServiceUnavailable)
		return
	}
	loc, err := h.engine.Location(snap.Timezone)
	if err != nil {
		http.Error(w, "business timezone is not recognised", http.StatusBadRequest)
		return
	}

	endTime := startTime.Add(time.Duration(snap.Variant.Effective()) * time.Minute)
	if raw := strings.TrimSpace(req.EndTime); raw != "" {
		endTime, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid end_time", http.StatusBadRequest)
			return
		}
	}
	if !endTime.After(startTime) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}
	if startTime.Before(h.now()) {
		h.metrics.ObserveBooking("rejected")
		http.Error(w, "requested time is in the past", http.StatusUnprocessableEntity)
		return
	}

	appt := &model.Appointment{
		BusinessID:    req.BusinessID,
		VariantID:     req.VariantID,
		StaffID:       req.StaffID,
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		Status:        model.StatusBooked,
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, appt.BusinessID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			if len(rec.ResponsePayload) > 0 {
				_, _ = w.Write(rec.ResponsePayload)
				return
			}
			_ = json.NewEncoder(w).Encode(createBookingResponse{AppointmentID: rec.AppointmentID})
			return
		}
	}

	if err := h.repo.LockStaff(ctx, tx, appt.BusinessID, appt.StaffID); err != nil {
		if storage.IsNotFound(err) || storage.IsInvalidReference(err) {
			http.Error(w, "staff or variant not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to lock staff", http.StatusInternalServerError)
		return
	}

	date := availability.DateOf(startTime.In(loc))
	from, to := slots.BookingWindow(date)
	booked, err := h.repo.ListBookedIntervalsTx(ctx, tx, appt.BusinessID, appt.StaffID, from, to)
	if err != nil {
		http.Error(w, "failed to load booked slots", http.StatusInternalServerError)
		return
	}
	offs, err := storage.NewScheduleRepository(tx).ListTimeOffIntervals(ctx, appt.BusinessID, appt.StaffID, from, to)
	if err != nil {
		http.Error(w, "failed to load time off", http.StatusInternalServerError)
		return
	}

	err = h.engine.Verify(snap.Request(date, offs, slots.Intervals(booked)), availability.Slot{Start: appt.StartTime, End: appt.EndTime})
	if err != nil {
		status, msg := verifyStatus(err)
		h.metrics.ObserveBooking(bookingResult(status))
		if status == http.StatusInternalServerError {
			h.logger.Error("slot verification failed", "err", err)
		}
		if idempotencyKey != "" && status < 500 && h.finalizeIdempotencyError(ctx, tx, appt.BusinessID, idempotencyKey, status, msg) {
			_ = tx.Commit(ctx)
		}
		http.Error(w, msg, status)
		return
	}

	id, err := h.repo.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			h.metrics.ObserveBooking("conflict")
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		h.metrics.ObserveBooking("error")
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"appointment_id": id,
		"business_id":    appt.BusinessID,
		"staff_id":       appt.StaffID,
		"variant_id":     appt.VariantID,
		"customer_email": appt.CustomerEmail,
		"customer_phone": appt.CustomerPhone,
		"start_time":     appt.StartTime.Format(time.RFC3339),
		"end_time":       appt.EndTime.Format(time.RFC3339),
		"timezone":       loc.String(),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   id,
		EventType:     outbox.EventAppointmentBooked,
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createBookingResponse{
		AppointmentID: id,
		StartTime:     appt.StartTime.Format(time.RFC3339),
		EndTime:       appt.EndTime.Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, appt.BusinessID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			h.metrics.ObserveBooking("conflict")
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveBooking("booked")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// verifyStatus maps an Engine.Verify failure onto an HTTP status and message.
func verifyStatus(err error) (int, string) {
	var rej *availability.RejectionError
	switch {
	case errors.As(err, &rej) && rej.Reason == availability.ReasonConflict:
		return http.StatusConflict, "time slot already booked"
	case errors.As(err, &rej):
		return http.StatusUnprocessableEntity, "requested time is not available: " + string(rej.Reason)
	case errors.Is(err, availability.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "business schedule is invalid"
	case errors.Is(err, availability.ErrUnknownTimezone):
		return http.StatusBadRequest, "business timezone is not recognised"
	default:
		return http.StatusInternalServerError, "failed to verify slot"
	}
}

func bookingResult(status int) string {
	switch status {
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "error"
	default:
		return "rejected"
	}
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if hdr := businessIDFromHeader(r); hdr != "" {
		req.BusinessID = hdr
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetAppointmentForUpdate(ctx, tx, req.BusinessID, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) || storage.IsInvalidReference(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	if appt.Status == model.StatusCancelled && appt.CancelledAt != nil {
		writeJSON(w, http.StatusOK, cancelResponse(appt.ID, *appt.CancelledAt))
		return
	}
	if appt.Status != model.StatusBooked {
		http.Error(w, "appointment cannot be cancelled", http.StatusConflict)
		return
	}

	cancelledAt, err := h.repo.CancelAppointment(ctx, tx, req.BusinessID, appt.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		return
	}

	cancelPayload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"staff_id":       appt.StaffID,
		"variant_id":     appt.VariantID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       cancelPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse(appt.ID, cancelledAt))
}

func cancelResponse(id string, cancelledAt time.Time) cancelBookingResponse {
	return cancelBookingResponse{
		AppointmentID: id,
		Status:        model.StatusCancelled,
		CancelledAt:   cancelledAt.UTC().Format(time.RFC3339),
	}
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		businessID = strings.TrimSpace(r.URL.Query().Get("business_id"))
	}
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.repo.ListByBusiness(r.Context(), businessID, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]listAppointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := listAppointmentItem{
			AppointmentID: appt.ID,
			StaffID:       appt.StaffID,
			VariantID:     appt.VariantID,
			CustomerName:  appt.CustomerName,
			StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
			EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
			Status:        appt.Status,
			CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, businessID, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, businessID, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}
