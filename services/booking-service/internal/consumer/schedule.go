package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/scheduling"
	"github.com/segmentio/kafka-go"
)

// InvalidateSchedules drops cached snapshots named by schedule update events.
func InvalidateSchedules(inv scheduling.Invalidator) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt outbox.ScheduleUpdated
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode schedule event: %w", err)
		}
		if evt.BusinessID == "" {
			return errors.New("schedule event without business_id")
		}
		return inv.Invalidate(ctx, evt.BusinessID, evt.StaffID)
	}
}
