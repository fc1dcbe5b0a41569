package models

import (
	"fmt"
	"time"

	"github.com/example/habitus/internal/frequency"
)

// TrackingState is the lifecycle state of a tracking.
type TrackingState string

const (
	TrackingRunning  TrackingState = "running"
	TrackingPaused   TrackingState = "paused"
	TrackingArchived TrackingState = "archived"
)

func (s TrackingState) Valid() bool {
	switch s {
	case TrackingRunning, TrackingPaused, TrackingArchived:
		return true
	}
	return false
}

// TrackingType decides what an answer looks like.
type TrackingType string

const (
	TrackingYesNo    TrackingType = "yes_no"   // answered COMPLETED or SKIPPED
	TrackingRegister TrackingType = "register" // answered with free text
)

// Schedule is a time of day at which a tracking's reminders fire
type Schedule struct {
	Hour   int `json:"hour" db:"hour"`
	Minute int `json:"minute" db:"minute"`
}

func (s Schedule) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// Tracking is a recurring (or one-time) question owned by a user
type Tracking struct {
	ID        int64               `json:"id" db:"id"`
	UserID    int64               `json:"user_id" db:"user_id"`
	Question  string              `json:"question" db:"question"`
	Icon      string              `json:"icon" db:"icon"`
	Notes     string              `json:"notes" db:"notes"`
	Type      TrackingType        `json:"type" db:"type"`
	State     TrackingState       `json:"state" db:"state"`
	Frequency frequency.Frequency `json:"frequency" db:"frequency"`
	Schedules []Schedule          `json:"schedules" db:"-"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" db:"updated_at"`
}

// Pattern is a shortcut for t.Frequency.Pattern.
func (t *Tracking) Pattern() frequency.Pattern {
	return t.Frequency.Pattern
}
