package model

import "time"

// BusinessProfile holds the salon-wide settings slots are computed with.
type BusinessProfile struct {
	BusinessID      string    `json:"business_id"`
	Name            string    `json:"name"`
	Timezone        string    `json:"timezone"`
	SlotStepMinutes int       `json:"slot_step_minutes"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Variant struct {
	ID                  string    `json:"id"`
	BusinessID          string    `json:"business_id"`
	Name                string    `json:"name"`
	DurationMinutes     int       `json:"duration_minutes"`
	BufferBeforeMinutes int       `json:"buffer_before_minutes"`
	BufferAfterMinutes  int       `json:"buffer_after_minutes"`
	CreatedAt           time.Time `json:"created_at"`
}

type Staff struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
}

// BreakMinutes is stored as jsonb on the working hours row.
type BreakMinutes struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// WorkingDay is one weekday row. Weekday follows time.Weekday (0 = Sunday).
type WorkingDay struct {
	StaffID     string         `json:"staff_id"`
	Weekday     int            `json:"weekday"`
	IsWorking   bool           `json:"is_working"`
	StartMinute int            `json:"start_minute"`
	EndMinute   int            `json:"end_minute"`
	Breaks      []BreakMinutes `json:"breaks"`
}

type TimeOff struct {
	ID        string    `json:"id"`
	StaffID   string    `json:"staff_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
