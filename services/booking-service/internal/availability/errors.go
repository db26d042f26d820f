package availability

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput covers malformed schedules, variants, intervals and steps.
	ErrInvalidInput = errors.New("invalid availability input")
	// ErrUnknownTimezone is returned when the salon timezone cannot be resolved.
	ErrUnknownTimezone = errors.New("unknown timezone")
	// ErrSlotUnavailable is wrapped by every *RejectionError.
	ErrSlotUnavailable = errors.New("slot unavailable")
)

// Reason says why Verify refused a slot.
type Reason string

const (
	ReasonOffHours Reason = "off_hours"
	ReasonOffGrid  Reason = "off_grid"
	ReasonDuration Reason = "duration"
	ReasonBreak    Reason = "break"
	ReasonTimeOff  Reason = "time_off"
	ReasonConflict Reason = "conflict"
)

type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("slot unavailable: %s", e.Reason)
	}
	return fmt.Sprintf("slot unavailable: %s: %s", e.Reason, e.Detail)
}

func (e *RejectionError) Unwrap() error {
	return ErrSlotUnavailable
}

func reject(reason Reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// RejectionReason extracts the reason from err, or "" when err is not a rejection.
func RejectionReason(err error) Reason {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}
