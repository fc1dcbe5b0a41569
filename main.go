package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/habitus/internal/api"
	"github.com/example/habitus/internal/bot"
	"github.com/example/habitus/internal/config"
	"github.com/example/habitus/internal/database"
	"github.com/example/habitus/internal/reminders"
	"github.com/example/habitus/internal/scheduler"
	"github.com/example/habitus/internal/tokens"
	"github.com/example/habitus/internal/trackings"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func main() {
	cfg, warnings := config.Load()
	logger := config.NewLogger(cfg, os.Stdout)
	for _, w := range warnings {
		logger.Warn().Msg(w)
	}

	// Cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, database.Config{
		Driver:  cfg.DatabaseDriver,
		URL:     cfg.DatabaseURL,
		DataDir: cfg.DataDir,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	store := database.NewStore(db)

	tokenService := tokens.NewService(store, logger)

	var (
		botAPI  *tgbotapi.BotAPI
		options []reminders.Option
	)
	if cfg.TelegramToken != "" {
		botAPI, err = bot.NewAPI(cfg.TelegramToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create bot")
		}
		logger.Info().Str("username", botAPI.Self.UserName).Msg("Authorized on Telegram")
		options = append(options, reminders.WithListener(bot.NewKeyboardCleaner(botAPI, store, logger)))
	} else {
		logger.Warn().Msg("TELEGRAM_BOT_TOKEN is not set, reminders will not be delivered")
	}

	reminderService := reminders.NewService(store, logger, options...)
	trackingService := trackings.NewService(store, reminderService, logger)

	var wg sync.WaitGroup

	// A nil interface disables delivery in the scheduler.
	var notifier reminders.Notifier
	if botAPI != nil {
		b := bot.New(botAPI, reminderService, store, tokenService, bot.Config{
			SnoozeMinutes: cfg.DefaultSnoozeMinutes,
		}, logger)
		notifier = b

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := botAPI.GetUpdatesChan(u)
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx, updates)
		}()
	}

	if cfg.EnableScheduler {
		sched := scheduler.New(reminderService, notifier, tokenService, scheduler.Config{
			ReminderInterval: cfg.ReminderSweepInterval,
			TokenInterval:    cfg.TokenSweepInterval,
		}, logger)
		if err := sched.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start scheduler")
		}
		defer sched.Stop()
	}

	handler := api.New(api.Deps{
		Users:     store,
		Tokens:    tokenService,
		Trackings: trackingService,
		Reminders: reminderService,
		History:   store,
	}, api.Config{SnoozeMinutes: cfg.DefaultSnoozeMinutes}, logger).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	// Give in-flight requests time to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
	if botAPI != nil {
		botAPI.StopReceivingUpdates()
	}
	wg.Wait()
	logger.Info().Msg("Stopped")
}
