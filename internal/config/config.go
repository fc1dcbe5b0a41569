// Package config loads the service configuration from the environment and an
// optional .env file.
package config

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const telegramTokenSecret = "/run/secrets/telegram_bot_token"

// Config holds every setting of the service.
type Config struct {
	TelegramToken string

	DatabaseDriver string
	DatabaseURL    string
	DataDir        string

	HTTPAddr string

	EnableScheduler       bool
	ReminderSweepInterval time.Duration
	TokenSweepInterval    time.Duration
	DefaultSnoozeMinutes  int

	LogLevel  string
	LogFormat string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DatabaseDriver:        "sqlite3",
		DataDir:               "data",
		HTTPAddr:              ":8080",
		EnableScheduler:       true,
		ReminderSweepInterval: time.Minute,
		TokenSweepInterval:    time.Hour,
		DefaultSnoozeMinutes:  30,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// Load reads the .env file if there is one, then the environment. Values
// that fail to parse keep their defaults; the returned warnings say which.
func Load() (Config, []string) {
	_ = godotenv.Load()
	return fromEnv(os.Getenv, telegramTokenSecret)
}

func fromEnv(getenv func(string) string, secretPath string) (Config, []string) {
	cfg := Default()
	var warnings []string

	cfg.TelegramToken = readSecret(secretPath)
	if cfg.TelegramToken == "" {
		cfg.TelegramToken = strings.TrimSpace(getenv("TELEGRAM_BOT_TOKEN"))
	}

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("DATABASE_DRIVER", &cfg.DatabaseDriver)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("DATA_DIR", &cfg.DataDir)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)

	if v := getenv("ENABLE_SCHEDULER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			warnings = append(warnings, "invalid ENABLE_SCHEDULER "+strconv.Quote(v))
		} else {
			cfg.EnableScheduler = b
		}
	}

	dur := func(key string, dst *time.Duration) {
		v := getenv(key)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			warnings = append(warnings, "invalid "+key+" "+strconv.Quote(v))
			return
		}
		*dst = d
	}
	dur("REMINDER_SWEEP_INTERVAL", &cfg.ReminderSweepInterval)
	dur("TOKEN_SWEEP_INTERVAL", &cfg.TokenSweepInterval)

	if v := getenv("DEFAULT_SNOOZE_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		// A snooze is at most a week.
		if err != nil || n <= 0 || n > 7*24*60 {
			warnings = append(warnings, "invalid DEFAULT_SNOOZE_MINUTES "+strconv.Quote(v))
		} else {
			cfg.DefaultSnoozeMinutes = n
		}
	}

	return cfg, warnings
}

func readSecret(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// NewLogger builds the root logger. LOG_FORMAT=console gives human readable
// output; anything else logs JSON.
func NewLogger(cfg Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
