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

// TokenRepository handles database operations for tokens
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new repository instance
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) InsertToken(ctx context.Context, t *models.Token) error {
	query := r.db.Rebind("INSERT INTO tokens (token, user_id, kind, expires_at, created_at) VALUES (?, ?, ?, ?, ?)")
	_, err := r.db.ExecContext(ctx, query, t.Token, t.UserID, string(t.Kind), t.ExpiresAt.UTC(), t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

func (r *TokenRepository) GetToken(ctx context.Context, token string) (*models.Token, error) {
	var t models.Token
	query := r.db.Rebind("SELECT token, user_id, kind, expires_at, created_at FROM tokens WHERE token = ?")
	err := r.db.GetContext(ctx, &t, query, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &t, nil
}

func (r *TokenRepository) DeleteToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM tokens WHERE token = ?"), token); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// DeleteExpiredTokens removes tokens that expired before now.
func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM tokens WHERE expires_at < ?"), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}
