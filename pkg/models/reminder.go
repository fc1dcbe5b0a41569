package models

import "time"

// ReminderStatus is the lifecycle state of a reminder
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "PENDING"
	ReminderUpcoming  ReminderStatus = "UPCOMING"
	ReminderAnswered  ReminderStatus = "ANSWERED"
	ReminderDismissed ReminderStatus = "DISMISSED"
)

// IsTerminal reports whether the reminder is history and can no longer change state.
func (s ReminderStatus) IsTerminal() bool {
	return s == ReminderAnswered || s == ReminderDismissed
}

// Answer values for yes/no trackings
const (
	ValueCompleted = "COMPLETED"
	ValueSkipped   = "SKIPPED"
)

// Reminder is one concrete firing of a tracking
type Reminder struct {
	ID            int64          `json:"id" db:"id"`
	TrackingID    int64          `json:"tracking_id" db:"tracking_id"`
	UserID        int64          `json:"user_id" db:"user_id"`
	ScheduledTime time.Time      `json:"scheduled_time" db:"scheduled_time"`
	Status        ReminderStatus `json:"status" db:"status"`
	Value         *string        `json:"value" db:"value"`
	Notes         *string        `json:"notes" db:"notes"`
	MessageID     *int           `json:"-" db:"message_id"`  // bot message carrying the inline keyboard
	NotifiedAt    *time.Time     `json:"-" db:"notified_at"` // nil until delivered
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}
