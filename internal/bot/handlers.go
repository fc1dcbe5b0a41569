package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/habitus/internal/database"
	"github.com/example/habitus/internal/reminders"
	"github.com/example/habitus/internal/tokens"
	"github.com/example/habitus/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	textNotLinked = "This chat is not linked to a Habitus account yet. Open the app, create a Telegram link and send /start <code> here."
	textHelp      = `Habitus reminds you of your habits.

/today - today's reminders
/cancel - stop waiting for a note or an answer
/help - this message

Use the buttons under a reminder to complete, skip, snooze or dismiss it.`
)

// HandleCommand dispatches bot commands.
func (b *Bot) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	switch message.Command() {
	case "start":
		return b.handleStart(ctx, message)
	case "help":
		return b.sendText(chatID, textHelp)
	case "today":
		return b.handleToday(ctx, chatID)
	case "cancel":
		if b.clearPending(chatID) {
			return b.sendText(chatID, "Cancelled.")
		}
		return b.sendText(chatID, "Nothing to cancel.")
	default:
		return b.sendText(chatID, "Unknown command. Use /help to see what I can do.")
	}
}

// handleStart links the chat when the command carries a link code.
func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	code := strings.TrimSpace(message.CommandArguments())
	if code == "" {
		user, err := b.store.GetUserByChatID(ctx, chatID)
		if err != nil {
			return err
		}
		if user == nil {
			return b.sendText(chatID, "Welcome to Habitus! 👋\n\n"+textNotLinked)
		}
		return b.sendText(chatID, "Welcome back! 👋\n\n"+textHelp)
	}

	now := b.now()
	token, err := b.tokens.Consume(ctx, code, models.TokenTelegramLink, now)
	switch {
	case errors.Is(err, tokens.ErrTokenNotFound):
		return b.sendText(chatID, "This link code is not valid. Create a new one in the app.")
	case errors.Is(err, tokens.ErrTokenExpired):
		return b.sendText(chatID, "This link code has expired. Create a new one in the app.")
	case err != nil:
		return err
	}

	if err := b.store.SetTelegramChatID(ctx, token.UserID, chatID, now); err != nil {
		return err
	}
	b.logger.Info().Int64("user_id", token.UserID).Int64("chat_id", chatID).Msg("Telegram chat linked")
	return b.sendText(chatID, "✅ Your Habitus account is linked. Reminders will arrive here.")
}

// handleToday lists the reminders of the current day in the user's zone.
func (b *Bot) handleToday(ctx context.Context, chatID int64) error {
	user, err := b.store.GetUserByChatID(ctx, chatID)
	if err != nil {
		return err
	}
	if user == nil {
		return b.sendText(chatID, textNotLinked)
	}

	loc := user.Location()
	local := b.now().In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	list, err := b.store.ListReminders(ctx, user.ID, database.ReminderFilter{
		From: start,
		To:   start.AddDate(0, 0, 1),
	})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return b.sendText(chatID, "Nothing scheduled for today.")
	}

	var sb strings.Builder
	sb.WriteString("📅 Today\n")
	for i := len(list) - 1; i >= 0; i-- {
		r := list[i]
		question := "(deleted tracking)"
		if t, err := b.store.GetTracking(ctx, r.TrackingID); err == nil && t != nil {
			question = t.Question
		}
		fmt.Fprintf(&sb, "\n%s %s %s", r.ScheduledTime.In(loc).Format("15:04"), statusIcon(r), question)
	}
	return b.sendText(chatID, sb.String())
}

// handleText takes a reply the chat owes, if any.
func (b *Bot) handleText(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	p, ok := b.takePending(chatID)
	if !ok {
		return b.sendText(chatID, "I don't understand. Use /help to see what I can do.")
	}

	user, err := b.store.GetUserByChatID(ctx, chatID)
	if err != nil {
		return err
	}
	if user == nil {
		return b.sendText(chatID, textNotLinked)
	}

	text := message.Text
	switch p.Action {
	case actionAnswer:
		_, err = b.reminders.Answer(ctx, user.ID, p.ReminderID, text, nil)
		if err == nil {
			return b.sendText(chatID, "✅ Answer saved.")
		}
	default:
		_, err = b.reminders.AddNote(ctx, user.ID, p.ReminderID, text)
		if err == nil {
			return b.sendText(chatID, "📝 Note saved.")
		}
	}

	var verr *reminders.ValidationError
	if errors.As(err, &verr) {
		// Let the user try again.
		p.Since = b.now()
		b.setPending(chatID, p)
		return b.sendText(chatID, verr.Message+". Please try again or /cancel.")
	}
	if msg, ok := userMessage(err); ok {
		return b.sendText(chatID, msg)
	}
	return err
}

// HandleCallback handles inline button presses on reminder messages.
func (b *Bot) HandleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	if callback == nil || callback.Message == nil || callback.Message.Chat == nil {
		return errors.New("invalid callback data: required fields are missing")
	}
	chatID := callback.Message.Chat.ID

	action, reminderID, err := parseCallback(callback.Data)
	if err != nil {
		b.answerCallback(callback.ID, "⚠️ Unknown action")
		return err
	}

	user, err := b.store.GetUserByChatID(ctx, chatID)
	if err != nil {
		b.answerCallback(callback.ID, "")
		return err
	}
	if user == nil {
		b.answerCallback(callback.ID, "")
		return b.sendText(chatID, textNotLinked)
	}

	var reply string
	switch action {
	case actionComplete:
		_, err = b.reminders.Complete(ctx, user.ID, reminderID)
		reply = "✅ Done"
	case actionSkip:
		_, err = b.reminders.Skip(ctx, user.ID, reminderID)
		reply = "⏭ Skipped"
	case actionDismiss:
		_, err = b.reminders.Dismiss(ctx, user.ID, reminderID)
		reply = "Dismissed"
	case actionPostpone:
		var r *models.Reminder
		r, err = b.reminders.Snooze(ctx, user.ID, reminderID, b.cfg.SnoozeMinutes)
		if err == nil {
			reply = "⏰ I'll remind you at " + r.ScheduledTime.In(user.Location()).Format("15:04")
		}
	case actionAddNote, actionAnswer:
		b.setPending(chatID, pendingInput{Action: action, ReminderID: reminderID, Since: b.now()})
		b.answerCallback(callback.ID, "")
		if action == actionAnswer {
			return b.sendText(chatID, "✍️ Send your answer as a message.")
		}
		return b.sendText(chatID, "📝 Send the note as a message.")
	}

	if err != nil {
		msg, ok := userMessage(err)
		if !ok {
			b.answerCallback(callback.ID, "❌ Something went wrong, please try again later")
			return err
		}
		b.answerCallback(callback.ID, msg)
		return nil
	}
	b.answerCallback(callback.ID, reply)
	return nil
}

// answerCallback removes the loading state of the pressed button.
func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to answer callback")
	}
}

// userMessage turns engine errors the user can act on into chat text.
func userMessage(err error) (string, bool) {
	var verr *reminders.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message, true
	case errors.Is(err, reminders.ErrAlreadyFinalized):
		return "This reminder was already handled.", true
	case errors.Is(err, reminders.ErrNotFound), errors.Is(err, reminders.ErrForbidden):
		return "This reminder no longer exists.", true
	}
	return "", false
}

func statusIcon(r models.Reminder) string {
	switch r.Status {
	case models.ReminderAnswered:
		if r.Value != nil && *r.Value == models.ValueSkipped {
			return "⏭"
		}
		return "✅"
	case models.ReminderDismissed:
		return "✖️"
	case models.ReminderUpcoming:
		return "⏰"
	default:
		return "⬜"
	}
}
