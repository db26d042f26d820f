package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var appointmentCols = []string{
	"id", "business_id", "variant_id", "staff_id", "customer_name", "customer_email", "customer_phone",
	"start_time", "end_time", "status", "cancelled_at", "cancellation_reason", "created_at",
}

var timeOffCols = []string{"start_time", "end_time"}

type staticProvider struct {
	snap scheduling.Snapshot
	err  error
}

func (p staticProvider) Snapshot(ctx context.Context, businessID, staffID, variantID string) (scheduling.Snapshot, error) {
	return p.snap, p.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// 2030-06-03 is a Monday; London is on BST.
func mondaySnapshot() scheduling.Snapshot {
	return scheduling.Snapshot{
		Schedule: availability.Schedule{Days: map[time.Weekday]availability.WorkingHours{
			time.Monday: {Start: "09:00", End: "17:00"},
		}},
		Variant:     availability.Variant{DurationMin: 60},
		Timezone:    "Europe/London",
		StepMinutes: 60,
	}
}

func newBookingHandler(t *testing.T, provider scheduling.Provider) (*BookingHandler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)

	repo := storage.NewBookingRepository(mock)
	engine := availability.NewEngine(nil)
	h := NewBookingHandler(BookingConfig{
		Repo:       repo,
		OutboxRepo: outbox.NewRepository(),
		Finder:     slots.NewFinder(provider, repo, storage.NewScheduleRepository(mock), engine, nil),
		Schedules:  provider,
		Engine:     engine,
		Logger:     quietLogger(),
	})
	h.now = func() time.Time { return time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC) }
	return h, mock
}

func TestSlotsReturnsUTCStarts(t *testing.T) {
	h, mock := newBookingHandler(t, staticProvider{snap: mondaySnapshot()})
	mock.ExpectQuery("FROM staff_time_off").WillReturnRows(pgxmock.NewRows(timeOffCols))
	mock.ExpectQuery("FROM appointments").WillReturnRows(pgxmock.NewRows(appointmentCols))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?business_id=biz-1&staff_id=staff-1&variant_id=var-1&date=2030-06-03", nil)
	rw := httptest.NewRecorder()
	h.Slots(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	body := rw.Body.String()
	if !strings.HasPrefix(body, `[{"start_time":"2030-06-03T08:00:00Z","end_time":"2030-06-03T09:00:00Z"}`) {
		t.Fatalf("unexpected body %s", body)
	}
	if strings.Count(body, "start_time") != 8 {
		t.Fatalf("expected 8 slots, got %s", body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSlotsErrors(t *testing.T) {
	cases := []struct {
		name     string
		provider staticProvider
		query    string
		want     int
	}{
		{"missing params", staticProvider{snap: mondaySnapshot()}, "business_id=biz-1", http.StatusBadRequest},
		{"bad date", staticProvider{snap: mondaySnapshot()}, "business_id=b&staff_id=s&variant_id=v&date=2030-02-30", http.StatusBadRequest},
		{"bad step", staticProvider{snap: mondaySnapshot()}, "business_id=b&staff_id=s&variant_id=v&date=2030-06-03&step_minutes=0", http.StatusBadRequest},
		{"not found", staticProvider{err: scheduling.ErrNotFound}, "business_id=b&staff_id=s&variant_id=v&date=2030-06-03", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newBookingHandler(t, tc.provider)
			rw := httptest.NewRecorder()
			h.Slots(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?"+tc.query, nil))
			if rw.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rw.Code, rw.Body.String())
			}
		})
	}
}

func TestSlotsUnknownTimezone(t *testing.T) {
	snap := mondaySnapshot()
	snap.Timezone = "Mars/Olympus_Mons"
	h, mock := newBookingHandler(t, staticProvider{snap: snap})
	mock.ExpectQuery("FROM staff_time_off").WillReturnRows(pgxmock.NewRows(timeOffCols))
	mock.ExpectQuery("FROM appointments").WillReturnRows(pgxmock.NewRows(appointmentCols))

	rw := httptest.NewRecorder()
	h.Slots(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?business_id=b&staff_id=s&variant_id=v&date=2030-06-03", nil))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func bookRequest(start string) *http.Request {
	body := `{"business_id":"biz-1","staff_id":"staff-1","variant_id":"var-1","customer_name":"Ada","start_time":"` + start + `"}`
	return httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(body))
}

func TestCreateBooksFreeSlot(t *testing.T) {
	h, mock := newBookingHandler(t, staticProvider{snap: mondaySnapshot()})
	mock.ExpectBegin()
	mock.ExpectQuery("FROM staff").WithArgs("staff-1", "biz-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("staff-1"))
	mock.ExpectQuery("FROM appointments").WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("FROM staff_time_off").WillReturnRows(pgxmock.NewRows(timeOffCols))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs("biz-1", "var-1", "staff-1", "Ada", "", "",
			time.Date(2030, 6, 3, 9, 0, 0, 0, time.UTC), time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC), "booked").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("appt-1"))
	mock.ExpectExec("INSERT INTO outbox_events").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rw := httptest.NewRecorder()
	h.Create(rw, bookRequest("2030-06-03T09:00:00Z"))

	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	if !strings.Contains(rw.Body.String(), `"appointment_id":"appt-1"`) {
		t.Fatalf("unexpected body %s", rw.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRejectsTakenSlot(t *testing.T) {
	h, mock := newBookingHandler(t, staticProvider{snap: mondaySnapshot()})
	taken := time.Date(2030, 6, 3, 9, 30, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM staff").WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("staff-1"))
	mock.ExpectQuery("FROM appointments").WillReturnRows(pgxmock.NewRows(appointmentCols).
		AddRow("appt-0", "biz-1", "var-1", "staff-1", "Bob", "", "", taken, taken.Add(time.Hour), "booked", nil, "", taken))
	mock.ExpectQuery("FROM staff_time_off").WillReturnRows(pgxmock.NewRows(timeOffCols))
	mock.ExpectRollback()

	rw := httptest.NewRecorder()
	h.Create(rw, bookRequest("2030-06-03T09:00:00Z"))

	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rw.Code, rw.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRejectsOffHours(t *testing.T) {
	h, mock := newBookingHandler(t, staticProvider{snap: mondaySnapshot()})
	mock.ExpectBegin()
	mock.ExpectQuery("FROM staff").WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("staff-1"))
	mock.ExpectQuery("FROM appointments").WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("FROM staff_time_off").WillReturnRows(pgxmock.NewRows(timeOffCols))
	mock.ExpectRollback()

	rw := httptest.NewRecorder()
	// 17:00 BST is closing time.
	h.Create(rw, bookRequest("2030-06-03T16:00:00Z"))

	if rw.Code != http.StatusUnprocessableEntity || !strings.Contains(rw.Body.String(), "off_hours") {
		t.Fatalf("expected 422 off_hours, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestCreateRejectsTimeOff(t *testing.T) {
	h, mock := newBookingHandler(t, staticProvider{snap: mondaySnapshot()})
	off := time.Date(2030, 6, 3, 8, 30, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM staff").WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("staff-1"))
	mock.ExpectQuery("FROM appointments").WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("FROM staff_time_off").WithArgs("biz-1", "staff-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(timeOffCols).AddRow(off, off.Add(time.Hour)))
	mock.ExpectRollback()

	rw := httptest.NewRecorder()
	h.Create(rw, bookRequest("2030-06-03T09:00:00Z"))

	if rw.Code != http.StatusUnprocessableEntity || !strings.Contains(rw.Body.String(), "time_off") {
		t.Fatalf("expected 422 time_off, got %d: %s", rw.Code, rw.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRejectsPastStart(t *testing.T) {
	h, mock := newBookingHandler(t, staticProvider{snap: mondaySnapshot()})

	rw := httptest.NewRecorder()
	h.Create(rw, bookRequest("2030-05-27T09:00:00Z"))

	if rw.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rw.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no database calls expected: %v", err)
	}
}

func TestCreateReplaysIdempotentResponse(t *testing.T) {
	h, mock := newBookingHandler(t, staticProvider{snap: mondaySnapshot()})
	mock.ExpectBegin()
	mock.ExpectQuery("FROM booking_idempotency_keys").WithArgs("biz-1", "key-1").
		WillReturnRows(pgxmock.NewRows([]string{"business_id", "idempotency_key", "appointment_id", "status_code", "response_payload"}).
			AddRow("biz-1", "key-1", "appt-9", 201, `{"appointment_id":"appt-9"}`))
	mock.ExpectRollback()

	req := bookRequest("2030-06-03T09:00:00Z")
	req.Header.Set("Idempotency-Key", "key-1")
	rw := httptest.NewRecorder()
	h.Create(rw, req)

	if rw.Code != http.StatusCreated || rw.Body.String() != `{"appointment_id":"appt-9"}` {
		t.Fatalf("unexpected replay %d: %s", rw.Code, rw.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUnknownStaff(t *testing.T) {
	h, _ := newBookingHandler(t, staticProvider{err: scheduling.ErrNotFound})
	rw := httptest.NewRecorder()
	h.Create(rw, bookRequest("2030-06-03T09:00:00Z"))
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestVerifyStatus(t *testing.T) {
	cases := []struct {
		reason availability.Reason
		want   int
	}{
		{availability.ReasonConflict, http.StatusConflict},
		{availability.ReasonBreak, http.StatusUnprocessableEntity},
		{availability.ReasonOffGrid, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		got, _ := verifyStatus(&availability.RejectionError{Reason: tc.reason})
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.reason, tc.want, got)
		}
	}
	if got, _ := verifyStatus(availability.ErrUnknownTimezone); got != http.StatusBadRequest {
		t.Fatalf("unknown timezone: got %d", got)
	}
	if bookingResult(http.StatusConflict) != "conflict" || bookingResult(http.StatusUnprocessableEntity) != "rejected" {
		t.Fatal("unexpected booking result labels")
	}
}

func TestCancelUnknownAppointment(t *testing.T) {
	h, mock := newBookingHandler(t, staticProvider{})
	mock.ExpectBegin()
	mock.ExpectQuery("FROM appointments").WithArgs("appt-x", "biz-1").WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectRollback()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", strings.NewReader(`{"appointment_id":"appt-x"}`))
	req.Header.Set("X-Business-Id", "biz-1")
	rw := httptest.NewRecorder()
	h.Cancel(rw, req)

	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rw.Code, rw.Body.String())
	}
}
