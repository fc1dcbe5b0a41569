package models

import "time"

// TokenKind separates the short-lived tokens sharing the tokens table.
type TokenKind string

const (
	TokenMagicLink    TokenKind = "magic_link"
	TokenTelegramLink TokenKind = "telegram_link"
	TokenSession      TokenKind = "session"
)

// Token is a connection, magic-link or session token.
type Token struct {
	Token     string    `json:"token" db:"token"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Kind      TokenKind `json:"kind" db:"kind"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
