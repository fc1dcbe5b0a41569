package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/habitus/pkg/models"
	"github.com/jmoiron/sqlx"
)

const reminderColumns = "id, tracking_id, user_id, scheduled_time, status, value, notes, message_id, notified_at, created_at, updated_at"

// openStatuses is the SQL list of statuses a reminder can still leave.
const openStatuses = "('PENDING', 'UPCOMING')"

// ReminderRepository handles database operations for reminders
type ReminderRepository struct {
	db *sqlx.DB
}

// NewReminderRepository creates a new repository instance
func NewReminderRepository(db *sqlx.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// GetReminder returns a reminder by ID, or nil.
func (r *ReminderRepository) GetReminder(ctx context.Context, id int64) (*models.Reminder, error) {
	var rem models.Reminder
	query := r.db.Rebind("SELECT " + reminderColumns + " FROM reminders WHERE id = ?")
	err := r.db.GetContext(ctx, &rem, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return &rem, nil
}

// GetFuturePendingOrUpcomingReminder returns the earliest open reminder of a
// tracking scheduled after now.
func (r *ReminderRepository) GetFuturePendingOrUpcomingReminder(ctx context.Context, trackingID int64, now time.Time) (*models.Reminder, error) {
	return futureOpen(ctx, r.db, trackingID, now)
}

func futureOpen(ctx context.Context, q sqlx.ExtContext, trackingID int64, now time.Time) (*models.Reminder, error) {
	var rem models.Reminder
	query := q.Rebind("SELECT " + reminderColumns + ` FROM reminders
		WHERE tracking_id = ? AND status IN ` + openStatuses + ` AND scheduled_time > ?
		ORDER BY scheduled_time LIMIT 1`)
	err := sqlx.GetContext(ctx, q, &rem, query, trackingID, now.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get future reminder: %w", err)
	}
	return &rem, nil
}

// HasRemindersSince reports whether the tracking has a reminder scheduled at
// or after since.
func (r *ReminderRepository) HasRemindersSince(ctx context.Context, trackingID int64, since time.Time) (bool, error) {
	var exists bool
	query := r.db.Rebind("SELECT EXISTS (SELECT 1 FROM reminders WHERE tracking_id = ? AND scheduled_time >= ?)")
	if err := r.db.GetContext(ctx, &exists, query, trackingID, since.UTC()); err != nil {
		return false, fmt.Errorf("failed to check reminders: %w", err)
	}
	return exists, nil
}

// InsertReminderIfNoneFuture inserts rem unless its tracking already has an
// open reminder after now. On PostgreSQL the tracking row is locked for the
// check; on SQLite the transaction holds the database write lock.
func (r *ReminderRepository) InsertReminderIfNoneFuture(ctx context.Context, rem *models.Reminder, now time.Time) (bool, error) {
	created := false
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockTracking(ctx, tx, rem.TrackingID); err != nil {
			return err
		}
		existing, err := futureOpen(ctx, tx, rem.TrackingID, now)
		if err != nil || existing != nil {
			return err
		}
		if err := insertReminder(ctx, tx, rem, now); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// FinalizeReminder moves an open reminder to a terminal status. The status
// guard in the WHERE clause makes concurrent answers race safely.
func (r *ReminderRepository) FinalizeReminder(ctx context.Context, id int64, status models.ReminderStatus, value, notes *string, now time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE reminders SET status = ?, value = ?, notes = ?, updated_at = ?
		WHERE id = ? AND status IN ` + openStatuses)
	res, err := r.db.ExecContext(ctx, query, string(status), value, notes, now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to finalize reminder: %w", err)
	}
	return affected(res)
}

// RescheduleReminder moves an open reminder to at.
func (r *ReminderRepository) RescheduleReminder(ctx context.Context, id int64, at, now time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE reminders SET scheduled_time = ?, updated_at = ?
		WHERE id = ? AND status IN ` + openStatuses)
	res, err := r.db.ExecContext(ctx, query, at.UTC(), now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule reminder: %w", err)
	}
	return affected(res)
}

// SupersedeWithUpcoming dismisses the open reminder originalID, removes the
// tracking's other open reminders after now and inserts rem, atomically.
func (r *ReminderRepository) SupersedeWithUpcoming(ctx context.Context, originalID int64, rem *models.Reminder, now time.Time) (bool, error) {
	ok := false
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockTracking(ctx, tx, rem.TrackingID); err != nil {
			return err
		}
		dismiss := tx.Rebind(`UPDATE reminders SET status = ?, updated_at = ?
			WHERE id = ? AND status IN ` + openStatuses)
		res, err := tx.ExecContext(ctx, dismiss, string(models.ReminderDismissed), now.UTC(), originalID)
		if err != nil {
			return fmt.Errorf("failed to dismiss reminder: %w", err)
		}
		if ok, err = affected(res); err != nil || !ok {
			return err
		}

		drop := tx.Rebind(`DELETE FROM reminders
			WHERE tracking_id = ? AND status IN ` + openStatuses + ` AND scheduled_time > ?`)
		if _, err := tx.ExecContext(ctx, drop, rem.TrackingID, now.UTC()); err != nil {
			return fmt.Errorf("failed to drop future reminders: %w", err)
		}
		return insertReminder(ctx, tx, rem, now)
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// UpdateReminderNotes replaces the notes of a reminder.
func (r *ReminderRepository) UpdateReminderNotes(ctx context.Context, id int64, notes *string, now time.Time) error {
	query := r.db.Rebind("UPDATE reminders SET notes = ?, updated_at = ? WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, notes, now.UTC(), id); err != nil {
		return fmt.Errorf("failed to update notes: %w", err)
	}
	return nil
}

// DeleteReminder removes a reminder.
func (r *ReminderRepository) DeleteReminder(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM reminders WHERE id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	return nil
}

// DeleteFutureOpenReminders drops the tracking's open reminders scheduled
// after now that have not been delivered.
func (r *ReminderRepository) DeleteFutureOpenReminders(ctx context.Context, trackingID int64, now time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM reminders
		WHERE tracking_id = ? AND status IN ` + openStatuses + ` AND scheduled_time > ? AND notified_at IS NULL`)
	res, err := r.db.ExecContext(ctx, query, trackingID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete future reminders: %w", err)
	}
	return res.RowsAffected()
}

// PromoteUpcoming turns snoozed reminders that came due into PENDING ones.
func (r *ReminderRepository) PromoteUpcoming(ctx context.Context, now time.Time) (int64, error) {
	query := r.db.Rebind("UPDATE reminders SET status = ?, updated_at = ? WHERE status = ? AND scheduled_time <= ?")
	res, err := r.db.ExecContext(ctx, query,
		string(models.ReminderPending), now.UTC(), string(models.ReminderUpcoming), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to promote reminders: %w", err)
	}
	return res.RowsAffected()
}

// ListDueUndelivered returns due PENDING reminders that were not sent yet.
func (r *ReminderRepository) ListDueUndelivered(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	var out []models.Reminder
	query := r.db.Rebind("SELECT " + reminderColumns + ` FROM reminders
		WHERE status = ? AND notified_at IS NULL AND scheduled_time <= ?
		ORDER BY scheduled_time, id`)
	if err := r.db.SelectContext(ctx, &out, query, string(models.ReminderPending), now.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	return out, nil
}

// MarkDelivered records that a reminder was sent, with the message carrying it.
func (r *ReminderRepository) MarkDelivered(ctx context.Context, id int64, messageID *int, at time.Time) error {
	query := r.db.Rebind("UPDATE reminders SET message_id = ?, notified_at = ? WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, messageID, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to mark reminder delivered: %w", err)
	}
	return nil
}

// ReminderFilter narrows ListReminders. Zero fields do not filter.
type ReminderFilter struct {
	TrackingID int64
	Status     models.ReminderStatus
	From       time.Time
	To         time.Time
	Limit      int
}

// ListReminders returns the reminders of a user, newest first.
func (r *ReminderRepository) ListReminders(ctx context.Context, userID int64, f ReminderFilter) ([]models.Reminder, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if f.TrackingID != 0 {
		where = append(where, "tracking_id = ?")
		args = append(args, f.TrackingID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "scheduled_time >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, "scheduled_time < ?")
		args = append(args, f.To.UTC())
	}

	query := "SELECT " + reminderColumns + " FROM reminders WHERE " + strings.Join(where, " AND ") +
		" ORDER BY scheduled_time DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var out []models.Reminder
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return out, nil
}

func (r *ReminderRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func lockTracking(ctx context.Context, tx *sqlx.Tx, trackingID int64) error {
	if !isPostgres(tx) {
		return nil
	}
	var id int64
	err := tx.GetContext(ctx, &id, "SELECT id FROM trackings WHERE id = $1 FOR UPDATE", trackingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to lock tracking: %w", err)
	}
	return nil
}

func insertReminder(ctx context.Context, tx *sqlx.Tx, rem *models.Reminder, now time.Time) error {
	now = now.UTC()
	rem.ScheduledTime = rem.ScheduledTime.UTC()
	rem.CreatedAt, rem.UpdatedAt = now, now

	query := tx.Rebind(`INSERT INTO reminders (tracking_id, user_id, scheduled_time, status, value, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := tx.GetContext(ctx, &rem.ID, query,
		rem.TrackingID, rem.UserID, rem.ScheduledTime, string(rem.Status), rem.Value, rem.Notes, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert reminder: %w", err)
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
