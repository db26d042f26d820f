package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

type recordingInvalidator struct {
	calls []string
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, businessID, staffID string) error {
	r.calls = append(r.calls, businessID+"/"+staffID)
	return nil
}

func newScheduleHandler(t *testing.T) (*ScheduleHandler, pgxmock.PgxPoolIface, *recordingInvalidator) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	inv := &recordingInvalidator{}
	h := NewScheduleHandler(storage.NewScheduleRepository(mock), outbox.NewRepository(), inv, nil, quietLogger())
	return h, mock, inv
}

func TestUpsertWorkingHoursPublishesAndInvalidates(t *testing.T) {
	h, mock, inv := newScheduleHandler(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs("staff-1", "biz-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO staff_working_hours").
		WithArgs("staff-1", 1, true, 540, 1020, []byte(`[{"start_minute":720,"end_minute":780}]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox_events").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	body := `{"weekday":1,"is_working":true,"start":"09:00","end":"17:00","breaks":[{"start":"12:00","end":"13:00"}]}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/staff/working-hours?staff_id=staff-1", strings.NewReader(body))
	req.Header.Set("X-Business-Id", "biz-1")
	rw := httptest.NewRecorder()
	h.UpsertWorkingHours(rw, req)

	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rw.Code, rw.Body.String())
	}
	if len(inv.calls) != 1 || inv.calls[0] != "biz-1/staff-1" {
		t.Fatalf("unexpected invalidations %v", inv.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertWorkingHoursValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad weekday", `{"weekday":7,"is_working":true,"start":"09:00","end":"17:00"}`},
		{"missing bounds", `{"weekday":1,"is_working":true,"start":"09:00"}`},
		{"inverted hours", `{"weekday":1,"is_working":true,"start":"17:00","end":"09:00"}`},
		{"break outside hours", `{"weekday":1,"is_working":true,"start":"09:00","end":"17:00","breaks":[{"start":"16:30","end":"17:30"}]}`},
		{"bad clock", `{"weekday":1,"is_working":true,"start":"9am","end":"17:00"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, mock, inv := newScheduleHandler(t)
			req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/staff/working-hours?staff_id=staff-1", strings.NewReader(tc.body))
			req.Header.Set("X-Business-Id", "biz-1")
			rw := httptest.NewRecorder()
			h.UpsertWorkingHours(rw, req)
			if rw.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rw.Code, rw.Body.String())
			}
			if len(inv.calls) != 0 {
				t.Fatal("rejected write must not invalidate")
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("no database calls expected: %v", err)
			}
		})
	}
}

func TestParseWorkingDayOffDay(t *testing.T) {
	day, err := parseWorkingDay("staff-1", workingDayBody{Weekday: 0})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if day.IsWorking || day.StartMinute != 0 || len(day.Breaks) != 0 {
		t.Fatalf("unexpected day %#v", day)
	}
	resp := workingDayResponse(day)
	if resp.Start != "" || resp.Breaks == nil {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestUpdateProfileRejectsUnknownTimezone(t *testing.T) {
	h, mock, _ := newScheduleHandler(t)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/profile", strings.NewReader(`{"name":"Cuts","timezone":"Nowhere/City"}`))
	req.Header.Set("X-Business-Id", "biz-1")
	rw := httptest.NewRecorder()
	h.UpdateProfile(rw, req)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no database calls expected: %v", err)
	}
}

func TestUpdateProfileDefaultsTimezone(t *testing.T) {
	h, mock, inv := newScheduleHandler(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO business_profiles").WithArgs("biz-1", "Cuts", "Europe/London", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox_events").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/profile", strings.NewReader(`{"name":"Cuts"}`))
	req.Header.Set("X-Business-Id", "biz-1")
	rw := httptest.NewRecorder()
	h.UpdateProfile(rw, req)

	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rw.Code, rw.Body.String())
	}
	if len(inv.calls) != 1 || inv.calls[0] != "biz-1/" {
		t.Fatalf("expected business-wide invalidation, got %v", inv.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateVariantValidation(t *testing.T) {
	h, _, _ := newScheduleHandler(t)
	for _, body := range []string{
		`{"name":"","duration_minutes":30}`,
		`{"name":"Cut","duration_minutes":0}`,
		`{"name":"Cut","duration_minutes":30,"buffer_after_minutes":-5}`,
		`{"name":"Cut","duration_minutes":1441}`,
		`{"name":"Cut","duration_minutes":9223372036854775807,"buffer_before_minutes":9223372036854775807,"buffer_after_minutes":3}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/variants", strings.NewReader(body))
		req.Header.Set("X-Business-Id", "biz-1")
		rw := httptest.NewRecorder()
		h.CreateVariant(rw, req)
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rw.Code)
		}
	}
}

func TestScheduleRequiresBusinessHeader(t *testing.T) {
	h, _, _ := newScheduleHandler(t)
	rw := httptest.NewRecorder()
	h.ListStaff(rw, httptest.NewRequest(http.MethodGet, "/api/v1/admin/staff", nil))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}
