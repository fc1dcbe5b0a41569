package database

import "github.com/jmoiron/sqlx"

// Store bundles the repositories. It satisfies the storage interfaces of
// the reminders, trackings and tokens services.
type Store struct {
	*UserRepository
	*TrackingRepository
	*ReminderRepository
	*TokenRepository
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		UserRepository:     NewUserRepository(db),
		TrackingRepository: NewTrackingRepository(db),
		ReminderRepository: NewReminderRepository(db),
		TokenRepository:    NewTokenRepository(db),
	}
}
