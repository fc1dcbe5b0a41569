// Package scheduler runs the periodic sweeps of the reminder engine.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/example/habitus/internal/reminders"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Engine is the part of the reminder service the sweeps drive.
type Engine interface {
	EnsureAll(ctx context.Context, now time.Time) (int, error)
	PromoteDue(ctx context.Context, now time.Time) (int64, error)
	DeliverDue(ctx context.Context, n reminders.Notifier, now time.Time) (int, error)
}

// TokenSweeper removes expired tokens.
type TokenSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Config sets the sweep intervals.
type Config struct {
	ReminderInterval time.Duration
	TokenInterval    time.Duration
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler *gocron.Scheduler
	engine    Engine
	notifier  reminders.Notifier
	tokens    TokenSweeper
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler instance. A nil notifier disables delivery.
func New(engine Engine, notifier reminders.Notifier, tokens TokenSweeper, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.ReminderInterval <= 0 {
		cfg.ReminderInterval = time.Minute
	}
	if cfg.TokenInterval <= 0 {
		cfg.TokenInterval = time.Hour
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		engine:    engine,
		notifier:  notifier,
		tokens:    tokens,
		cfg:       cfg,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
}

// Start registers the sweeps and runs them in the background until Stop.
// Each sweep never overlaps with itself; different sweeps may run together.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	jobs := []struct {
		name     string
		interval time.Duration
		run      func()
	}{
		{"reminders", s.cfg.ReminderInterval, s.runReminderSweep},
		{"tokens", s.cfg.TokenInterval, s.runTokenSweep},
	}
	for _, j := range jobs {
		if _, err := s.scheduler.Every(j.interval).SingletonMode().Do(j.run); err != nil {
			s.cancel()
			return fmt.Errorf("failed to schedule %s sweep: %w", j.name, err)
		}
	}

	s.scheduler.StartAsync()
	s.logger.Info().
		Dur("reminder_interval", s.cfg.ReminderInterval).
		Dur("token_interval", s.cfg.TokenInterval).
		Msg("Scheduler started")
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) runReminderSweep() {
	if err := s.SweepReminders(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("Reminder sweep failed")
	}
}

func (s *Scheduler) runTokenSweep() {
	if _, err := s.SweepTokens(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("Token sweep failed")
	}
}

// SweepReminders makes sure every running tracking has its next reminder,
// turns snoozed reminders that came due into PENDING ones, then delivers
// what came due. Promotion runs even when delivery is disabled.
func (s *Scheduler) SweepReminders(ctx context.Context) error {
	start := s.now()

	ensured, err := s.engine.EnsureAll(ctx, start)
	if err != nil {
		// Single trackings failed; the rest of the sweep still runs.
		s.logger.Warn().Err(err).Msg("Some trackings could not be scheduled")
	}

	promoted, err := s.engine.PromoteDue(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to promote reminders: %w", err)
	}

	delivered := 0
	if s.notifier != nil {
		delivered, err = s.engine.DeliverDue(ctx, s.notifier, s.now())
		if err != nil {
			return fmt.Errorf("failed to deliver reminders: %w", err)
		}
	}

	s.logger.Debug().
		Int("scheduled", ensured).
		Int64("promoted", promoted).
		Int("delivered", delivered).
		Dur("took", time.Since(start)).
		Msg("Reminder sweep finished")
	return nil
}

// SweepTokens deletes expired tokens.
func (s *Scheduler) SweepTokens(ctx context.Context) (int64, error) {
	return s.tokens.SweepExpired(ctx, s.now())
}
