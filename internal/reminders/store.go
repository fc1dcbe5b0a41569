package reminders

import (
	"context"
	"time"

	"github.com/example/habitus/pkg/models"
)

// Store is the persistence the reminder engine runs on. Get methods return
// (nil, nil) when the row does not exist. "Open" means PENDING or UPCOMING.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetTracking(ctx context.Context, id int64) (*models.Tracking, error)
	ListRunningTrackings(ctx context.Context) ([]models.Tracking, error)

	GetReminder(ctx context.Context, id int64) (*models.Reminder, error)
	// GetFuturePendingOrUpcomingReminder returns the open reminder of the
	// tracking scheduled after now, if any.
	GetFuturePendingOrUpcomingReminder(ctx context.Context, trackingID int64, now time.Time) (*models.Reminder, error)
	// HasRemindersSince reports whether the tracking has a reminder of any
	// status scheduled at or after since.
	HasRemindersSince(ctx context.Context, trackingID int64, since time.Time) (bool, error)

	// InsertReminderIfNoneFuture inserts r unless the tracking already has an
	// open reminder scheduled after now. The check and the insert are atomic.
	InsertReminderIfNoneFuture(ctx context.Context, r *models.Reminder, now time.Time) (bool, error)
	// FinalizeReminder moves an open reminder to a terminal status. It
	// reports false when the reminder was no longer open.
	FinalizeReminder(ctx context.Context, id int64, status models.ReminderStatus, value, notes *string, now time.Time) (bool, error)
	// RescheduleReminder moves an open reminder to a new time.
	RescheduleReminder(ctx context.Context, id int64, at time.Time, now time.Time) (bool, error)
	// SupersedeWithUpcoming dismisses the open reminder originalID, drops
	// every other open reminder of the tracking scheduled after now and
	// inserts r, in one transaction.
	SupersedeWithUpcoming(ctx context.Context, originalID int64, r *models.Reminder, now time.Time) (bool, error)
	UpdateReminderNotes(ctx context.Context, id int64, notes *string, now time.Time) error
	DeleteReminder(ctx context.Context, id int64) error

	// PromoteUpcoming turns UPCOMING reminders due at now into PENDING ones.
	PromoteUpcoming(ctx context.Context, now time.Time) (int64, error)
	ListDueUndelivered(ctx context.Context, now time.Time) ([]models.Reminder, error)
	MarkDelivered(ctx context.Context, id int64, messageID *int, at time.Time) error
}

// Notifier delivers a due reminder to its owner. It returns the id of the
// sent message when the channel has one.
type Notifier interface {
	NotifyReminder(ctx context.Context, user *models.User, tracking *models.Tracking, reminder *models.Reminder) (*int, error)
}
