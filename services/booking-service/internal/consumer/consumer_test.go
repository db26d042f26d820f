package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/segmentio/kafka-go"
)

type memInbox struct {
	seen      map[string]bool
	forgotten []string
}

func (m *memInbox) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

func (m *memInbox) Forget(ctx context.Context, eventID string) error {
	delete(m.seen, eventID)
	m.forgotten = append(m.forgotten, eventID)
	return nil
}

type recordingInvalidator struct {
	calls [][2]string
	err   error
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, businessID, staffID string) error {
	r.calls = append(r.calls, [2]string{businessID, staffID})
	return r.err
}

type sliceReader struct {
	msgs []kafka.Message
	stop context.CancelFunc
}

func (s *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.stop()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, nil
}

func (s *sliceReader) Close() error { return nil }

func scheduleMessage(eventID, payload string) kafka.Message {
	meta := kafkax.EventMeta{EventID: eventID, EventType: outbox.EventScheduleUpdated}
	return kafka.Message{Topic: outbox.EventScheduleUpdated, Value: []byte(payload), Headers: meta.Headers()}
}

func TestConsumerInvalidatesOncePerEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &recordingInvalidator{}
	reader := &sliceReader{stop: cancel, msgs: []kafka.Message{
		scheduleMessage("evt-1", `{"business_id":"biz","staff_id":"staff-1","change":"working_hours"}`),
		scheduleMessage("evt-1", `{"business_id":"biz","staff_id":"staff-1","change":"working_hours"}`),
		scheduleMessage("evt-2", `{"business_id":"biz","change":"profile"}`),
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewWithReader(logger, &memInbox{seen: map[string]bool{}}, reader, InvalidateSchedules(inv))
	c.Run(ctx)

	if len(inv.calls) != 2 {
		t.Fatalf("expected 2 invalidations, got %v", inv.calls)
	}
	if inv.calls[0] != [2]string{"biz", "staff-1"} || inv.calls[1] != [2]string{"biz", ""} {
		t.Fatalf("unexpected invalidations %v", inv.calls)
	}
}

func TestConsumerForgetsFailedEvents(t *testing.T) {
	inbox := &memInbox{seen: map[string]bool{}}
	inv := &recordingInvalidator{err: errors.New("redis down")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewWithReader(logger, inbox, &sliceReader{}, InvalidateSchedules(inv))

	c.handle(context.Background(), scheduleMessage("evt-9", `{"business_id":"biz"}`))
	if len(inbox.forgotten) != 1 || inbox.seen["evt-9"] {
		t.Fatalf("failed event should be retryable, inbox=%#v", inbox)
	}

	c.handle(context.Background(), scheduleMessage("evt-10", `not json`))
	if len(inv.calls) != 1 {
		t.Fatalf("bad payload must not reach the invalidator, got %v", inv.calls)
	}
}
