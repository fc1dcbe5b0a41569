package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config locates the database. An empty URL with the sqlite3 driver opens
// habitus.db inside DataDir.
type Config struct {
	Driver  string
	URL     string
	DataDir string
}

// Connect opens the database and creates the schema if needed.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = connectSQLite(ctx, cfg)
	case DriverPostgres:
		if cfg.URL == "" {
			return nil, errors.New("DATABASE_URL is required for postgres")
		}
		db, err = sqlx.ConnectContext(ctx, DriverPostgres, cfg.URL)
		if err == nil {
			db.SetMaxOpenConns(10)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := initializeSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func connectSQLite(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	path := cfg.URL
	if path == "" {
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "data"
		}
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path = filepath.Join(dataDir, "habitus.db")
	}

	// Immediate transactions take the write lock up front, so a
	// check-then-insert cannot interleave with another writer.
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := sqlx.ConnectContext(ctx, DriverSQLite, dsn)
	if err != nil {
		return nil, err
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func isPostgres(db sqlx.ExtContext) bool {
	return db.DriverName() == DriverPostgres
}

// isUniqueViolation reports whether err is a unique constraint failure on
// either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{id}},
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		telegram_chat_id BIGINT UNIQUE,
		timezone TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trackings (
		id {{id}},
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		question TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		state TEXT NOT NULL,
		frequency TEXT NOT NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trackings_user ON trackings(user_id)`,
	`CREATE TABLE IF NOT EXISTS tracking_schedules (
		tracking_id BIGINT NOT NULL REFERENCES trackings(id) ON DELETE CASCADE,
		hour INTEGER NOT NULL,
		minute INTEGER NOT NULL,
		PRIMARY KEY (tracking_id, hour, minute)
	)`,
	`CREATE TABLE IF NOT EXISTS reminders (
		id {{id}},
		tracking_id BIGINT NOT NULL REFERENCES trackings(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		scheduled_time {{ts}} NOT NULL,
		status TEXT NOT NULL,
		value TEXT,
		notes TEXT,
		message_id INTEGER,
		notified_at {{ts}},
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_tracking ON reminders(tracking_id, status, scheduled_time)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_user ON reminders(user_id, scheduled_time)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, scheduled_time)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		token TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		expires_at {{ts}} NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_expires ON tokens(expires_at)`,
}

// initializeSchema creates necessary tables if they don't exist
func initializeSchema(ctx context.Context, db *sqlx.DB) error {
	dialect := strings.NewReplacer(
		"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "TIMESTAMP",
	)
	if isPostgres(db) {
		dialect = strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{ts}}", "TIMESTAMPTZ",
		)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, dialect.Replace(stmt)); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}
