package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/habitus/pkg/models"
	"github.com/jmoiron/sqlx"
)

const trackingColumns = "id, user_id, question, icon, notes, type, state, frequency, created_at, updated_at"

// TrackingRepository handles database operations for trackings and their
// schedules
type TrackingRepository struct {
	db *sqlx.DB
}

// NewTrackingRepository creates a new repository instance
func NewTrackingRepository(db *sqlx.DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

// CreateTracking inserts t with its schedules and sets t.ID.
func (r *TrackingRepository) CreateTracking(ctx context.Context, t *models.Tracking) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`INSERT INTO trackings (user_id, question, icon, notes, type, state, frequency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err = tx.GetContext(ctx, &t.ID, query,
		t.UserID, t.Question, t.Icon, t.Notes, string(t.Type), string(t.State), t.Frequency,
		t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert tracking: %w", err)
	}
	if err := replaceSchedules(ctx, tx, t.ID, t.Schedules); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateTracking saves the editable fields and schedules of t.
func (r *TrackingRepository) UpdateTracking(ctx context.Context, t *models.Tracking) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`UPDATE trackings
		SET question = ?, icon = ?, notes = ?, type = ?, state = ?, frequency = ?, updated_at = ?
		WHERE id = ?`)
	_, err = tx.ExecContext(ctx, query,
		t.Question, t.Icon, t.Notes, string(t.Type), string(t.State), t.Frequency, t.UpdatedAt.UTC(), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update tracking: %w", err)
	}
	if err := replaceSchedules(ctx, tx, t.ID, t.Schedules); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceSchedules(ctx context.Context, tx *sqlx.Tx, trackingID int64, schedules []models.Schedule) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM tracking_schedules WHERE tracking_id = ?"), trackingID); err != nil {
		return fmt.Errorf("failed to clear schedules: %w", err)
	}
	insert := tx.Rebind("INSERT INTO tracking_schedules (tracking_id, hour, minute) VALUES (?, ?, ?)")
	for _, s := range schedules {
		if _, err := tx.ExecContext(ctx, insert, trackingID, s.Hour, s.Minute); err != nil {
			return fmt.Errorf("failed to insert schedule %s: %w", s, err)
		}
	}
	return nil
}

// GetTracking returns a tracking with its schedules, or nil.
func (r *TrackingRepository) GetTracking(ctx context.Context, id int64) (*models.Tracking, error) {
	var t models.Tracking
	query := r.db.Rebind("SELECT " + trackingColumns + " FROM trackings WHERE id = ?")
	err := r.db.GetContext(ctx, &t, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracking: %w", err)
	}

	ts := []models.Tracking{t}
	if err := r.loadSchedules(ctx, ts); err != nil {
		return nil, err
	}
	return &ts[0], nil
}

// ListTrackings returns the trackings of a user, newest first.
func (r *TrackingRepository) ListTrackings(ctx context.Context, userID int64) ([]models.Tracking, error) {
	query := r.db.Rebind("SELECT " + trackingColumns + " FROM trackings WHERE user_id = ? ORDER BY created_at DESC, id DESC")
	return r.list(ctx, query, userID)
}

// ListRunningTrackings returns every running tracking.
func (r *TrackingRepository) ListRunningTrackings(ctx context.Context) ([]models.Tracking, error) {
	query := r.db.Rebind("SELECT " + trackingColumns + " FROM trackings WHERE state = ? ORDER BY id")
	return r.list(ctx, query, string(models.TrackingRunning))
}

func (r *TrackingRepository) list(ctx context.Context, query string, args ...any) ([]models.Tracking, error) {
	var ts []models.Tracking
	if err := r.db.SelectContext(ctx, &ts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list trackings: %w", err)
	}
	if err := r.loadSchedules(ctx, ts); err != nil {
		return nil, err
	}
	return ts, nil
}

func (r *TrackingRepository) loadSchedules(ctx context.Context, ts []models.Tracking) error {
	if len(ts) == 0 {
		return nil
	}
	ids := make([]int64, len(ts))
	index := make(map[int64]int, len(ts))
	for i, t := range ts {
		ids[i] = t.ID
		index[t.ID] = i
	}

	query, args, err := sqlx.In(`SELECT tracking_id, hour, minute FROM tracking_schedules
		WHERE tracking_id IN (?) ORDER BY tracking_id, hour, minute`, ids)
	if err != nil {
		return fmt.Errorf("failed to build schedules query: %w", err)
	}
	var rows []struct {
		TrackingID int64 `db:"tracking_id"`
		models.Schedule
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}
	for _, row := range rows {
		i := index[row.TrackingID]
		ts[i].Schedules = append(ts[i].Schedules, row.Schedule)
	}
	return nil
}

// SetTrackingState changes the lifecycle state of a tracking.
func (r *TrackingRepository) SetTrackingState(ctx context.Context, id int64, state models.TrackingState, now time.Time) error {
	query := r.db.Rebind("UPDATE trackings SET state = ?, updated_at = ? WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, string(state), now.UTC(), id); err != nil {
		return fmt.Errorf("failed to update tracking state: %w", err)
	}
	return nil
}

// DeleteTracking removes a tracking; schedules and reminders cascade.
func (r *TrackingRepository) DeleteTracking(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM trackings WHERE id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete tracking: %w", err)
	}
	return nil
}
