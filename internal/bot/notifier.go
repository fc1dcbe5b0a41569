package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/habitus/internal/frequency"
	"github.com/example/habitus/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// NotifyReminder sends a due reminder with its action buttons and returns the
// message id. Users without a linked chat are skipped.
func (b *Bot) NotifyReminder(ctx context.Context, user *models.User, tracking *models.Tracking, r *models.Reminder) (*int, error) {
	if user.TelegramChatID == nil {
		return nil, nil
	}

	msg := tgbotapi.NewMessage(*user.TelegramChatID, reminderText(user, tracking, r))
	msg.ReplyMarkup = reminderKeyboard(tracking, r.ID)
	sent, err := b.api.Send(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send reminder %d: %w", r.ID, err)
	}

	b.logger.Debug().
		Int64("reminder_id", r.ID).
		Int64("user_id", user.ID).
		Int("message_id", sent.MessageID).
		Msg("Reminder delivered")
	return &sent.MessageID, nil
}

func reminderText(user *models.User, t *models.Tracking, r *models.Reminder) string {
	var sb strings.Builder
	if t.Icon != "" {
		sb.WriteString(t.Icon)
		sb.WriteString(" ")
	}
	sb.WriteString(t.Question)
	fmt.Fprintf(&sb, "\n🕘 %s", r.ScheduledTime.In(user.Location()).Format("15:04"))
	if p := t.Pattern(); p != nil {
		sb.WriteString(" · ")
		sb.WriteString(frequency.Describe(p))
	}
	if r.Notes != nil {
		sb.WriteString("\n📝 ")
		sb.WriteString(*r.Notes)
	}
	return sb.String()
}

func reminderKeyboard(t *models.Tracking, reminderID int64) tgbotapi.InlineKeyboardMarkup {
	first := tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Done", callbackData(actionComplete, reminderID)),
		tgbotapi.NewInlineKeyboardButtonData("⏭ Skip", callbackData(actionSkip, reminderID)),
	)
	if t.Type == models.TrackingRegister {
		first = tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✍️ Answer", callbackData(actionAnswer, reminderID)),
		)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		first,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏰ Later", callbackData(actionPostpone, reminderID)),
			tgbotapi.NewInlineKeyboardButtonData("✖️ Dismiss", callbackData(actionDismiss, reminderID)),
			tgbotapi.NewInlineKeyboardButtonData("📝 Note", callbackData(actionAddNote, reminderID)),
		),
	)
}

// UserLookup loads reminder owners.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// KeyboardCleaner removes the buttons from the delivered message of a
// reminder once it can no longer be answered.
type KeyboardCleaner struct {
	api    Sender
	users  UserLookup
	logger zerolog.Logger
}

func NewKeyboardCleaner(api Sender, users UserLookup, logger zerolog.Logger) *KeyboardCleaner {
	return &KeyboardCleaner{
		api:    api,
		users:  users,
		logger: logger.With().Str("component", "bot").Logger(),
	}
}

// ReminderFinalized implements reminders.Listener.
func (c *KeyboardCleaner) ReminderFinalized(ctx context.Context, r *models.Reminder) {
	if r.MessageID == nil {
		return
	}
	user, err := c.users.GetUser(ctx, r.UserID)
	if err != nil || user == nil || user.TelegramChatID == nil {
		return
	}

	edit := tgbotapi.NewEditMessageReplyMarkup(*user.TelegramChatID, *r.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := c.api.Request(edit); err != nil {
		c.logger.Warn().Err(err).Int64("reminder_id", r.ID).Msg("Failed to remove reminder keyboard")
	}
}
