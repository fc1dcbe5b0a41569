// Package tokens issues and consumes the short-lived tokens used for magic
// links, Telegram account linking and API sessions, and sweeps expired ones.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/habitus/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// Lifetimes per token kind.
const (
	MagicLinkTTL    = 15 * time.Minute
	TelegramLinkTTL = 10 * time.Minute
	SessionTTL      = 30 * 24 * time.Hour
)

// Store persists tokens. GetToken returns (nil, nil) for unknown tokens and
// DeleteToken of a missing token is not an error.
type Store interface {
	InsertToken(ctx context.Context, t *models.Token) error
	GetToken(ctx context.Context, token string) (*models.Token, error)
	DeleteToken(ctx context.Context, token string) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

type Service struct {
	store  Store
	logger zerolog.Logger
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "tokens").Logger(),
	}
}

// TTL returns the lifetime of tokens of the given kind.
func TTL(kind models.TokenKind) time.Duration {
	switch kind {
	case models.TokenMagicLink:
		return MagicLinkTTL
	case models.TokenTelegramLink:
		return TelegramLinkTTL
	default:
		return SessionTTL
	}
}

// Issue creates a new token of kind for userID.
func (s *Service) Issue(ctx context.Context, userID int64, kind models.TokenKind, now time.Time) (models.Token, error) {
	t := models.Token{
		Token:     newToken(),
		UserID:    userID,
		Kind:      kind,
		ExpiresAt: now.Add(TTL(kind)).UTC(),
		CreatedAt: now.UTC(),
	}
	if err := s.store.InsertToken(ctx, &t); err != nil {
		return models.Token{}, fmt.Errorf("failed to issue %s token: %w", kind, err)
	}
	return t, nil
}

// Validate checks that token exists, has the given kind and did not expire.
func (s *Service) Validate(ctx context.Context, token string, kind models.TokenKind, now time.Time) (models.Token, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Token{}, ErrTokenNotFound
	}
	t, err := s.store.GetToken(ctx, token)
	if err != nil {
		return models.Token{}, fmt.Errorf("failed to get token: %w", err)
	}
	if t == nil || t.Kind != kind {
		return models.Token{}, ErrTokenNotFound
	}
	if !now.Before(t.ExpiresAt) {
		return models.Token{}, ErrTokenExpired
	}
	return *t, nil
}

// Consume validates token and deletes it, so it can be used only once.
func (s *Service) Consume(ctx context.Context, token string, kind models.TokenKind, now time.Time) (models.Token, error) {
	t, err := s.Validate(ctx, token, kind, now)
	if err != nil {
		return models.Token{}, err
	}
	if err := s.store.DeleteToken(ctx, t.Token); err != nil {
		return models.Token{}, fmt.Errorf("failed to consume token: %w", err)
	}
	return t, nil
}

// Revoke deletes token. Unknown tokens are ignored.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if err := s.store.DeleteToken(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// SweepExpired deletes every token that expired before now.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.DeleteExpiredTokens(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("Expired tokens removed")
	}
	return n, nil
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
