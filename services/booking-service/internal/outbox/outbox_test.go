package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (c *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

var outboxCols = []string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).WillReturnRows(pgxmock.NewRows(outboxCols).
		AddRow(int64(1), "evt-1", "appointment", "appt-1", EventAppointmentBooked, []byte(`{"a":1}`), "", "", now).
		AddRow(int64(2), "evt-2", "schedule", "biz-1", EventScheduleUpdated, []byte(`{"b":2}`), "", "", now))
	mock.ExpectExec("UPDATE outbox_events").WithArgs([]int64{1, 2}).WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	w := &captureWriter{}
	p := NewPublisher(mock, NewRepository(), quietLogger(), PublisherConfig{BatchSize: 10}).WithWriter(w)
	n, err := p.PublishBatch(context.Background())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n != 2 || len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d/%d", n, len(w.msgs))
	}
	if w.msgs[0].Topic != EventAppointmentBooked || string(w.msgs[0].Key) != "appt-1" {
		t.Fatalf("unexpected first message %#v", w.msgs[0])
	}
	if got := kafkax.ExtractEventMeta(w.msgs[1]); got.EventID != "evt-2" || got.EventType != EventScheduleUpdated {
		t.Fatalf("unexpected meta %#v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPublishBatchLeavesRowsOnWriteFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(50).WillReturnRows(pgxmock.NewRows(outboxCols).
		AddRow(int64(7), "evt-7", "appointment", "appt-7", EventAppointmentCancelled, []byte(`{}`), "", "", time.Now()))
	mock.ExpectRollback()

	w := &captureWriter{err: errors.New("broker down")}
	p := NewPublisher(mock, NewRepository(), quietLogger(), PublisherConfig{}).WithWriter(w)
	if _, err := p.PublishBatch(context.Background()); err == nil {
		t.Fatal("expected write error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("rows must not be marked published: %v", err)
	}
}

func TestInsertCarriesEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("appointment", "appt-1", EventAppointmentBooked, []byte(`{}`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = NewRepository().Insert(ctx, tx, Event{
		AggregateType: "appointment",
		AggregateID:   "appt-1",
		EventType:     EventAppointmentBooked,
		Payload:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
