// Package bot is the Telegram front end of Habitus: it delivers reminders
// with inline buttons and turns button presses and replies into reminder
// transitions.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/habitus/internal/database"
	"github.com/example/habitus/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// pendingInputTTL bounds how long the bot waits for a note or an answer.
const pendingInputTTL = 10 * time.Minute

// Sender is the part of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Reminders is the reminder state machine.
type Reminders interface {
	Answer(ctx context.Context, userID, reminderID int64, value string, notes *string) (*models.Reminder, error)
	Complete(ctx context.Context, userID, reminderID int64) (*models.Reminder, error)
	Skip(ctx context.Context, userID, reminderID int64) (*models.Reminder, error)
	Dismiss(ctx context.Context, userID, reminderID int64) (*models.Reminder, error)
	Snooze(ctx context.Context, userID, reminderID int64, minutes int) (*models.Reminder, error)
	AddNote(ctx context.Context, userID, reminderID int64, notes string) (*models.Reminder, error)
}

// Store is the data the bot reads and writes directly.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByChatID(ctx context.Context, chatID int64) (*models.User, error)
	SetTelegramChatID(ctx context.Context, userID, chatID int64, now time.Time) error
	GetTracking(ctx context.Context, id int64) (*models.Tracking, error)
	ListReminders(ctx context.Context, userID int64, f database.ReminderFilter) ([]models.Reminder, error)
}

// LinkTokens consumes the one-time tokens that link a chat to an account.
type LinkTokens interface {
	Consume(ctx context.Context, token string, kind models.TokenKind, now time.Time) (models.Token, error)
}

// Config holds the bot settings.
type Config struct {
	SnoozeMinutes int
}

// pendingInput is a reply the bot waits for in a chat.
type pendingInput struct {
	Action     string // actionAddNote or actionAnswer
	ReminderID int64
	Since      time.Time
}

// Bot represents the Telegram bot application
type Bot struct {
	api       Sender
	reminders Reminders
	store     Store
	tokens    LinkTokens
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[int64]pendingInput // by chat id
}

// New creates a new bot instance
func New(api Sender, reminders Reminders, store Store, tokens LinkTokens, cfg Config, logger zerolog.Logger) *Bot {
	if cfg.SnoozeMinutes <= 0 {
		cfg.SnoozeMinutes = 30
	}
	return &Bot{
		api:       api,
		reminders: reminders,
		store:     store,
		tokens:    tokens,
		cfg:       cfg,
		logger:    logger.With().Str("component", "bot").Logger(),
		now:       time.Now,
		pending:   make(map[int64]pendingInput),
	}
}

// NewAPI authorizes against Telegram with token.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("unable to create bot: %w", err)
	}
	return api, nil
}

// Run handles updates until ctx is done or the channel is closed.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	b.logger.Info().Msg("Bot started")
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.HandleUpdate(ctx, update)
			}()
		}
	}
}

// HandleUpdate handles one incoming update from Telegram.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	var err error
	switch {
	case update.CallbackQuery != nil:
		err = b.HandleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		err = b.HandleCommand(ctx, update.Message)
	case update.Message != nil:
		err = b.handleText(ctx, update.Message)
	}
	if err != nil {
		b.logger.Error().Err(err).Int("update_id", update.UpdateID).Msg("Failed to handle update")
	}
}

func (b *Bot) setPending(chatID int64, p pendingInput) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[chatID] = p
}

// takePending returns and clears the input the chat owes, if still fresh.
func (b *Bot) takePending(chatID int64) (pendingInput, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[chatID]
	if !ok {
		return pendingInput{}, false
	}
	delete(b.pending, chatID)
	if b.now().Sub(p.Since) > pendingInputTTL {
		return pendingInput{}, false
	}
	return p, true
}

func (b *Bot) clearPending(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[chatID]
	delete(b.pending, chatID)
	return ok
}

func (b *Bot) sendText(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
