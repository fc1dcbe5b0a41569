// Package reminders schedules the next reminder of every tracking and runs
// the reminder lifecycle: PENDING and UPCOMING reminders become ANSWERED or
// DISMISSED, snoozing defers them.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/habitus/internal/frequency"
	"github.com/example/habitus/pkg/models"
	"github.com/rs/zerolog"
)

const (
	maxNotesLength = 500
	// MaxSnoozeMinutes bounds a single snooze to one week.
	MaxSnoozeMinutes = 7 * 24 * 60
)

// Listener is told about reminders that just reached a terminal status.
type Listener interface {
	ReminderFinalized(ctx context.Context, r *models.Reminder)
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithListener registers l for terminal transitions.
func WithListener(l Listener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, l) }
}

// Service is the reminder engine.
type Service struct {
	store     Store
	logger    zerolog.Logger
	now       func() time.Time
	listeners []Listener
}

func NewService(store Store, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger.With().Str("component", "reminders").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// EnsureNextReminderExists makes sure a running tracking has exactly one open
// reminder scheduled after now. It returns that reminder, or nil when the
// tracking has nothing left to fire. Repeated and concurrent calls are safe.
func (s *Service) EnsureNextReminderExists(ctx context.Context, trackingID int64, now time.Time) (*models.Reminder, error) {
	t, err := s.store.GetTracking(ctx, trackingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tracking %d: %w", trackingID, err)
	}
	if t == nil {
		return nil, fmt.Errorf("tracking %d: %w", trackingID, ErrNotFound)
	}

	existing, err := s.store.GetFuturePendingOrUpcomingReminder(ctx, trackingID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get next reminder of tracking %d: %w", trackingID, err)
	}
	if existing != nil {
		return existing, nil
	}
	if t.State != models.TrackingRunning {
		return nil, nil
	}

	user, err := s.store.GetUser(ctx, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", t.UserID, err)
	}

	// A one-time tracking fires once per date. Reminders from before its
	// current date are history of an earlier date and do not count.
	if once, ok := t.Pattern().(frequency.OneTime); ok {
		fired, err := s.store.HasRemindersSince(ctx, trackingID, once.Date.At(0, 0, user.Location()))
		if err != nil {
			return nil, fmt.Errorf("failed to check reminders of tracking %d: %w", trackingID, err)
		}
		if fired {
			return nil, nil
		}
	}

	at, ok := NextInstant(*t, now, user.Location())
	if !ok {
		return nil, nil
	}

	r := &models.Reminder{
		TrackingID:    t.ID,
		UserID:        t.UserID,
		ScheduledTime: at,
		Status:        models.ReminderPending,
	}
	created, err := s.store.InsertReminderIfNoneFuture(ctx, r, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create reminder for tracking %d: %w", trackingID, err)
	}
	if !created {
		// Someone else inserted it between our read and our write.
		return s.store.GetFuturePendingOrUpcomingReminder(ctx, trackingID, now)
	}

	s.logger.Debug().
		Int64("tracking_id", trackingID).
		Int64("reminder_id", r.ID).
		Time("scheduled_time", r.ScheduledTime).
		Msg("Scheduled next reminder")
	return r, nil
}

// EnsureAll runs EnsureNextReminderExists for every running tracking and
// returns how many reminders now exist for them. Failures of single
// trackings do not stop the sweep and are returned joined.
func (s *Service) EnsureAll(ctx context.Context, now time.Time) (int, error) {
	trackings, err := s.store.ListRunningTrackings(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running trackings: %w", err)
	}

	var errs []error
	count := 0
	for _, t := range trackings {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		r, err := s.EnsureNextReminderExists(ctx, t.ID, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r != nil {
			count++
		}
	}
	return count, errors.Join(errs...)
}

// Answer records value for an open reminder and schedules the next one.
func (s *Service) Answer(ctx context.Context, userID, reminderID int64, value string, notes *string) (*models.Reminder, error) {
	r, t, err := s.loadOpen(ctx, userID, reminderID)
	if err != nil {
		return nil, err
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return nil, Invalid("An answer is required")
	}
	if t.Type == models.TrackingYesNo && value != models.ValueCompleted && value != models.ValueSkipped {
		return nil, Invalid("Answer must be COMPLETED or SKIPPED")
	}
	if notes == nil {
		notes = r.Notes
	} else if notes, err = cleanNotes(notes); err != nil {
		return nil, err
	}

	return s.finalize(ctx, r, models.ReminderAnswered, &value, notes)
}

// Complete answers a yes/no reminder with COMPLETED.
func (s *Service) Complete(ctx context.Context, userID, reminderID int64) (*models.Reminder, error) {
	return s.Answer(ctx, userID, reminderID, models.ValueCompleted, nil)
}

// Skip answers a yes/no reminder with SKIPPED.
func (s *Service) Skip(ctx context.Context, userID, reminderID int64) (*models.Reminder, error) {
	return s.Answer(ctx, userID, reminderID, models.ValueSkipped, nil)
}

// Dismiss rejects an open reminder and schedules the next one.
func (s *Service) Dismiss(ctx context.Context, userID, reminderID int64) (*models.Reminder, error) {
	r, _, err := s.loadOpen(ctx, userID, reminderID)
	if err != nil {
		return nil, err
	}
	return s.finalize(ctx, r, models.ReminderDismissed, nil, r.Notes)
}

// Snooze defers an open reminder by the given number of minutes. A reminder
// that has not fired yet is moved. A reminder that already fired is
// dismissed and replaced by a new UPCOMING one, which also takes the place of
// any other future reminder of the tracking.
func (s *Service) Snooze(ctx context.Context, userID, reminderID int64, minutes int) (*models.Reminder, error) {
	if minutes <= 0 {
		return nil, Invalid("Snooze time must be a positive number of minutes")
	}
	if minutes > MaxSnoozeMinutes {
		return nil, Invalid(fmt.Sprintf("Snooze time must be at most %d minutes", MaxSnoozeMinutes))
	}
	r, _, err := s.loadOpen(ctx, userID, reminderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	at := now.Add(time.Duration(minutes) * time.Minute).UTC()

	if r.ScheduledTime.After(now) {
		ok, err := s.store.RescheduleReminder(ctx, r.ID, at, now)
		if err != nil {
			return nil, fmt.Errorf("failed to snooze reminder %d: %w", r.ID, err)
		}
		if !ok {
			return nil, fmt.Errorf("reminder %d: %w", r.ID, ErrAlreadyFinalized)
		}
		r.ScheduledTime = at
		r.UpdatedAt = now
		return r, nil
	}

	next := &models.Reminder{
		TrackingID:    r.TrackingID,
		UserID:        r.UserID,
		ScheduledTime: at,
		Status:        models.ReminderUpcoming,
		Notes:         r.Notes,
	}
	ok, err := s.store.SupersedeWithUpcoming(ctx, r.ID, next, now)
	if err != nil {
		return nil, fmt.Errorf("failed to snooze reminder %d: %w", r.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, ErrAlreadyFinalized)
	}

	r.Status = models.ReminderDismissed
	s.notifyFinalized(ctx, r)
	s.logger.Debug().
		Int64("reminder_id", r.ID).
		Int64("snoozed_id", next.ID).
		Time("scheduled_time", at).
		Msg("Snoozed due reminder")
	return next, nil
}

// AddNote attaches notes to a reminder without touching its status.
func (s *Service) AddNote(ctx context.Context, userID, reminderID int64, notes string) (*models.Reminder, error) {
	r, err := s.loadOwned(ctx, userID, reminderID)
	if err != nil {
		return nil, err
	}
	cleaned, err := cleanNotes(&notes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.store.UpdateReminderNotes(ctx, r.ID, cleaned, now); err != nil {
		return nil, fmt.Errorf("failed to save notes of reminder %d: %w", r.ID, err)
	}
	r.Notes = cleaned
	r.UpdatedAt = now
	return r, nil
}

// Delete removes a reminder and schedules the tracking's next one.
func (s *Service) Delete(ctx context.Context, userID, reminderID int64) error {
	r, err := s.loadOwned(ctx, userID, reminderID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteReminder(ctx, r.ID); err != nil {
		return fmt.Errorf("failed to delete reminder %d: %w", r.ID, err)
	}
	s.ensureAfterTransition(ctx, r.TrackingID, s.now())
	return nil
}

// Get returns a reminder owned by userID.
func (s *Service) Get(ctx context.Context, userID, reminderID int64) (*models.Reminder, error) {
	return s.loadOwned(ctx, userID, reminderID)
}

// PromoteDue turns UPCOMING reminders that came due into PENDING ones.
func (s *Service) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.PromoteUpcoming(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to promote upcoming reminders: %w", err)
	}
	return n, nil
}

// DeliverDue hands every due reminder that was not delivered yet to n and
// returns how many were delivered. UPCOMING reminders are sent once PromoteDue
// has turned them PENDING.
func (s *Service) DeliverDue(ctx context.Context, n Notifier, now time.Time) (int, error) {
	due, err := s.store.ListDueUndelivered(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due reminders: %w", err)
	}

	delivered := 0
	for i := range due {
		r := &due[i]
		user, err := s.store.GetUser(ctx, r.UserID)
		if err != nil || user == nil {
			s.logger.Error().Err(err).Int64("user_id", r.UserID).Msg("Failed to load reminder owner")
			continue
		}
		t, err := s.store.GetTracking(ctx, r.TrackingID)
		if err != nil || t == nil {
			s.logger.Error().Err(err).Int64("tracking_id", r.TrackingID).Msg("Failed to load reminder tracking")
			continue
		}

		msgID, err := n.NotifyReminder(ctx, user, t, r)
		if err != nil {
			s.logger.Warn().Err(err).Int64("reminder_id", r.ID).Msg("Failed to deliver reminder")
			continue
		}
		if err := s.store.MarkDelivered(ctx, r.ID, msgID, now); err != nil {
			s.logger.Error().Err(err).Int64("reminder_id", r.ID).Msg("Failed to mark reminder delivered")
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (s *Service) finalize(ctx context.Context, r *models.Reminder, status models.ReminderStatus, value, notes *string) (*models.Reminder, error) {
	now := s.now()
	ok, err := s.store.FinalizeReminder(ctx, r.ID, status, value, notes, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update reminder %d: %w", r.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, ErrAlreadyFinalized)
	}

	r.Status = status
	r.Value = value
	r.Notes = notes
	r.UpdatedAt = now

	s.notifyFinalized(ctx, r)
	// An occurrence answered ahead of time must not be offered again.
	after := now
	if r.ScheduledTime.After(after) {
		after = r.ScheduledTime
	}
	s.ensureAfterTransition(ctx, r.TrackingID, after)
	return r, nil
}

// ensureAfterTransition schedules the next reminder once a transition is
// committed. A failure here leaves the transition in place; the periodic
// sweep creates the missing reminder later.
func (s *Service) ensureAfterTransition(ctx context.Context, trackingID int64, after time.Time) {
	if _, err := s.EnsureNextReminderExists(ctx, trackingID, after); err != nil {
		s.logger.Warn().Err(err).Int64("tracking_id", trackingID).Msg("Failed to schedule next reminder")
	}
}

func (s *Service) notifyFinalized(ctx context.Context, r *models.Reminder) {
	for _, l := range s.listeners {
		l.ReminderFinalized(ctx, r)
	}
}

func (s *Service) loadOwned(ctx context.Context, userID, reminderID int64) (*models.Reminder, error) {
	r, err := s.store.GetReminder(ctx, reminderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder %d: %w", reminderID, err)
	}
	if r == nil {
		return nil, fmt.Errorf("reminder %d: %w", reminderID, ErrNotFound)
	}
	if r.UserID != userID {
		return nil, fmt.Errorf("reminder %d: %w", reminderID, ErrForbidden)
	}
	return r, nil
}

func (s *Service) loadOpen(ctx context.Context, userID, reminderID int64) (*models.Reminder, *models.Tracking, error) {
	r, err := s.loadOwned(ctx, userID, reminderID)
	if err != nil {
		return nil, nil, err
	}
	if r.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("reminder %d: %w", reminderID, ErrAlreadyFinalized)
	}
	t, err := s.store.GetTracking(ctx, r.TrackingID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get tracking %d: %w", r.TrackingID, err)
	}
	if t == nil {
		return nil, nil, fmt.Errorf("tracking %d: %w", r.TrackingID, ErrNotFound)
	}
	return r, t, nil
}

func cleanNotes(notes *string) (*string, error) {
	if notes == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*notes)
	if trimmed == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(trimmed) > maxNotesLength {
		return nil, Invalid(fmt.Sprintf("Notes must be at most %d characters", maxNotesLength))
	}
	return &trimmed, nil
}
