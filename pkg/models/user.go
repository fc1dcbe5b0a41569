package models

import "time"

// User represents a Habitus account
type User struct {
	ID             int64     `json:"id" db:"id"`
	Email          string    `json:"email" db:"email"`
	Name           string    `json:"name" db:"name"`
	TelegramChatID *int64    `json:"telegram_chat_id" db:"telegram_chat_id"` // set once the bot is linked
	Timezone       string    `json:"timezone" db:"timezone"`                 // IANA name, empty means UTC
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Location returns the user's time zone, falling back to UTC for unknown names.
func (u *User) Location() *time.Location {
	if u == nil || u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
