// Package trackings manages the habits users track and keeps their reminder
// queue in step with every change.
package trackings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/habitus/internal/frequency"
	"github.com/example/habitus/internal/reminders"
	"github.com/example/habitus/pkg/models"
	"github.com/rs/zerolog"
)

const (
	maxQuestionLength = 100
	maxNotesLength    = 500
	maxSchedules      = 5
)

// Store persists trackings together with their schedules.
type Store interface {
	CreateTracking(ctx context.Context, t *models.Tracking) error
	UpdateTracking(ctx context.Context, t *models.Tracking) error
	GetTracking(ctx context.Context, id int64) (*models.Tracking, error)
	ListTrackings(ctx context.Context, userID int64) ([]models.Tracking, error)
	SetTrackingState(ctx context.Context, id int64, state models.TrackingState, now time.Time) error
	DeleteTracking(ctx context.Context, id int64) error
	// DeleteFutureOpenReminders drops the open reminders of the tracking
	// scheduled after now that were not delivered yet.
	DeleteFutureOpenReminders(ctx context.Context, trackingID int64, now time.Time) (int64, error)
}

// Scheduler makes sure a tracking has its next reminder.
type Scheduler interface {
	EnsureNextReminderExists(ctx context.Context, trackingID int64, now time.Time) (*models.Reminder, error)
}

// Input is the editable part of a tracking.
type Input struct {
	Question  string              `json:"question"`
	Icon      string              `json:"icon"`
	Notes     string              `json:"notes"`
	Type      models.TrackingType `json:"type"`
	Frequency frequency.Frequency `json:"frequency"`
	Schedules []models.Schedule   `json:"schedules"`
}

type Service struct {
	store     Store
	scheduler Scheduler
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(store Store, scheduler Scheduler, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		scheduler: scheduler,
		logger:    logger.With().Str("component", "trackings").Logger(),
		now:       time.Now,
	}
}

// Create stores a new running tracking for userID and schedules its first
// reminder.
func (s *Service) Create(ctx context.Context, userID int64, in Input) (*models.Tracking, error) {
	if err := normalize(&in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t := &models.Tracking{
		UserID:    userID,
		Question:  in.Question,
		Icon:      in.Icon,
		Notes:     in.Notes,
		Type:      in.Type,
		State:     models.TrackingRunning,
		Frequency: in.Frequency,
		Schedules: in.Schedules,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTracking(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tracking: %w", err)
	}
	s.logger.Info().Int64("tracking_id", t.ID).Int64("user_id", userID).Msg("Tracking created")

	s.ensureNext(ctx, t.ID, now)
	return t, nil
}

// Update replaces the editable fields of a tracking. Reminders planned for
// the old schedule are dropped and planned again.
func (s *Service) Update(ctx context.Context, userID, id int64, in Input) (*models.Tracking, error) {
	t, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := normalize(&in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t.Question = in.Question
	t.Icon = in.Icon
	t.Notes = in.Notes
	t.Type = in.Type
	t.Frequency = in.Frequency
	t.Schedules = in.Schedules
	t.UpdatedAt = now
	if err := s.store.UpdateTracking(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update tracking %d: %w", id, err)
	}

	if _, err := s.store.DeleteFutureOpenReminders(ctx, id, now); err != nil {
		return nil, fmt.Errorf("failed to reset reminders of tracking %d: %w", id, err)
	}
	s.ensureNext(ctx, id, now)
	return t, nil
}

// SetState runs, pauses or archives a tracking. Leaving the running state
// drops the reminders that have not fired yet.
func (s *Service) SetState(ctx context.Context, userID, id int64, state models.TrackingState) (*models.Tracking, error) {
	if !state.Valid() {
		return nil, reminders.Invalid(fmt.Sprintf("Unknown state %q", state))
	}
	t, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if t.State == state {
		return t, nil
	}

	now := s.now().UTC()
	if err := s.store.SetTrackingState(ctx, id, state, now); err != nil {
		return nil, fmt.Errorf("failed to change state of tracking %d: %w", id, err)
	}
	t.State = state
	t.UpdatedAt = now

	if state == models.TrackingRunning {
		s.ensureNext(ctx, id, now)
		return t, nil
	}
	n, err := s.store.DeleteFutureOpenReminders(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to drop reminders of tracking %d: %w", id, err)
	}
	s.logger.Info().
		Int64("tracking_id", id).
		Str("state", string(state)).
		Int64("dropped_reminders", n).
		Msg("Tracking stopped")
	return t, nil
}

// Delete removes a tracking and, through the cascade, its reminders.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteTracking(ctx, id); err != nil {
		return fmt.Errorf("failed to delete tracking %d: %w", id, err)
	}
	return nil
}

// Get returns a tracking owned by userID.
func (s *Service) Get(ctx context.Context, userID, id int64) (*models.Tracking, error) {
	t, err := s.store.GetTracking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get tracking %d: %w", id, err)
	}
	if t == nil {
		return nil, fmt.Errorf("tracking %d: %w", id, reminders.ErrNotFound)
	}
	if t.UserID != userID {
		return nil, fmt.Errorf("tracking %d: %w", id, reminders.ErrForbidden)
	}
	return t, nil
}

// List returns the trackings of userID.
func (s *Service) List(ctx context.Context, userID int64) ([]models.Tracking, error) {
	ts, err := s.store.ListTrackings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trackings: %w", err)
	}
	return ts, nil
}

func (s *Service) ensureNext(ctx context.Context, id int64, now time.Time) {
	if _, err := s.scheduler.EnsureNextReminderExists(ctx, id, now); err != nil {
		s.logger.Warn().Err(err).Int64("tracking_id", id).Msg("Failed to schedule next reminder")
	}
}

// normalize trims in, fills defaults and validates it.
func normalize(in *Input) error {
	in.Question = strings.TrimSpace(in.Question)
	in.Icon = strings.TrimSpace(in.Icon)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.Type == "" {
		in.Type = models.TrackingYesNo
	}

	switch {
	case in.Question == "":
		return reminders.Invalid("Question is required")
	case utf8.RuneCountInString(in.Question) > maxQuestionLength:
		return reminders.Invalid(fmt.Sprintf("Question must be at most %d characters", maxQuestionLength))
	case utf8.RuneCountInString(in.Notes) > maxNotesLength:
		return reminders.Invalid(fmt.Sprintf("Notes must be at most %d characters", maxNotesLength))
	case in.Type != models.TrackingYesNo && in.Type != models.TrackingRegister:
		return reminders.Invalid(fmt.Sprintf("Unknown tracking type %q", in.Type))
	}

	if in.Frequency.Pattern == nil {
		return reminders.Invalid("Frequency is required")
	}
	if err := frequency.Validate(in.Frequency.Pattern); err != nil {
		if errors.Is(err, frequency.ErrInvalidPattern) {
			return reminders.Invalid(err.Error())
		}
		return err
	}

	return checkSchedules(in.Schedules)
}

func checkSchedules(schedules []models.Schedule) error {
	if len(schedules) == 0 {
		return reminders.Invalid("At least one time is required")
	}
	if len(schedules) > maxSchedules {
		return reminders.Invalid(fmt.Sprintf("At most %d times are allowed", maxSchedules))
	}
	seen := make(map[models.Schedule]bool, len(schedules))
	for _, sc := range schedules {
		if sc.Hour < 0 || sc.Hour > 23 || sc.Minute < 0 || sc.Minute > 59 {
			return reminders.Invalid(fmt.Sprintf("Invalid time %s", sc))
		}
		if seen[sc] {
			return reminders.Invalid(fmt.Sprintf("Duplicate time %s", sc))
		}
		seen[sc] = true
	}
	sort.SliceStable(schedules, func(i, j int) bool {
		if schedules[i].Hour != schedules[j].Hour {
			return schedules[i].Hour < schedules[j].Hour
		}
		return schedules[i].Minute < schedules[j].Minute
	})
	return nil
}
