package outbox

import "time"

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventAppointmentBooked    = "booking.appointment.booked.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
	EventScheduleUpdated      = "business.schedule.updated.v1"
)

// ScheduleUpdated is the payload of EventScheduleUpdated. StaffID is empty
// when the change affects every staff member (profile or variant edits).
type ScheduleUpdated struct {
	BusinessID string    `json:"business_id"`
	StaffID    string    `json:"staff_id,omitempty"`
	Change     string    `json:"change"`
	OccurredAt time.Time `json:"occurred_at"`
}
