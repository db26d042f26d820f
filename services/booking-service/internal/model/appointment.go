package model

import "time"

const (
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
)

type Appointment struct {
	ID            string
	BusinessID    string
	VariantID     string
	StaffID       string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	StartTime     time.Time
	EndTime       time.Time
	Status        string
	CancelledAt   *time.Time
	CancelReason  string
	CreatedAt     time.Time
}
