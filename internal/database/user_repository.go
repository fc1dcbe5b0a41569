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

const userColumns = "id, email, name, telegram_chat_id, timezone, created_at, updated_at"

// UserRepository handles database operations for users
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new repository instance
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUser returns a user by ID, or nil when it does not exist.
func (r *UserRepository) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return r.getBy(ctx, "id = ?", id)
}

// GetUserByEmail looks a user up by the normalized email.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(ctx, "email = ?", normalizeEmail(email))
}

// GetUserByChatID returns the user linked to a Telegram chat.
func (r *UserRepository) GetUserByChatID(ctx context.Context, chatID int64) (*models.User, error) {
	return r.getBy(ctx, "telegram_chat_id = ?", chatID)
}

func (r *UserRepository) getBy(ctx context.Context, where string, arg any) (*models.User, error) {
	var user models.User
	query := r.db.Rebind("SELECT " + userColumns + " FROM users WHERE " + where)
	err := r.db.GetContext(ctx, &user, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// FindOrCreateUser returns the user with the given email, creating it on
// first sight. Concurrent sign-ups with the same email resolve to one row.
func (r *UserRepository) FindOrCreateUser(ctx context.Context, email, name string, now time.Time) (*models.User, error) {
	email = normalizeEmail(email)
	if u, err := r.GetUserByEmail(ctx, email); err != nil || u != nil {
		return u, err
	}

	now = now.UTC()
	user := models.User{
		Email:     email,
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	query := r.db.Rebind(`INSERT INTO users (email, name, timezone, created_at, updated_at)
		VALUES (?, ?, '', ?, ?) RETURNING id`)
	err := r.db.GetContext(ctx, &user.ID, query, user.Email, user.Name, now, now)
	if isUniqueViolation(err) {
		return r.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

// SetTelegramChatID links a Telegram chat to the user. A chat belongs to one
// user at a time, so the link is moved away from any previous owner.
func (r *UserRepository) SetTelegramChatID(ctx context.Context, userID, chatID int64, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	unlink := tx.Rebind("UPDATE users SET telegram_chat_id = NULL, updated_at = ? WHERE telegram_chat_id = ? AND id <> ?")
	if _, err := tx.ExecContext(ctx, unlink, now.UTC(), chatID, userID); err != nil {
		return fmt.Errorf("failed to unlink chat: %w", err)
	}
	link := tx.Rebind("UPDATE users SET telegram_chat_id = ?, updated_at = ? WHERE id = ?")
	if _, err := tx.ExecContext(ctx, link, chatID, now.UTC(), userID); err != nil {
		return fmt.Errorf("failed to link chat: %w", err)
	}
	return tx.Commit()
}

// SetTimezone stores the IANA zone the user's schedules are read in.
func (r *UserRepository) SetTimezone(ctx context.Context, userID int64, tz string, now time.Time) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown time zone %q: %w", tz, err)
	}
	query := r.db.Rebind("UPDATE users SET timezone = ?, updated_at = ? WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, tz, now.UTC(), userID); err != nil {
		return fmt.Errorf("failed to update time zone: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
