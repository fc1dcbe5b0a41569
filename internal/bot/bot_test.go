package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/habitus/internal/database"
	"github.com/example/habitus/internal/frequency"
	"github.com/example/habitus/internal/reminders"
	"github.com/example/habitus/internal/tokens"
	"github.com/example/habitus/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const linkedChat int64 = 555

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	nextID   int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) lastText(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	msg, ok := f.sent[len(f.sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	return msg.Text
}

func (f *fakeSender) lastCallbackText(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if cb, ok := f.requests[i].(tgbotapi.CallbackConfig); ok {
			return cb.Text
		}
	}
	t.Fatal("no callback answered")
	return ""
}

type fakeStore struct {
	users     map[int64]*models.User
	trackings map[int64]*models.Tracking
	reminders []models.Reminder
	linked    map[int64]int64
}

func newFakeStore() *fakeStore {
	chat := linkedChat
	return &fakeStore{
		users: map[int64]*models.User{
			1: {ID: 1, Email: "ada@example.com", TelegramChatID: &chat},
			2: {ID: 2, Email: "bob@example.com"},
		},
		trackings: map[int64]*models.Tracking{},
		linked:    map[int64]int64{},
	}
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	return f.users[id], nil
}

func (f *fakeStore) GetUserByChatID(_ context.Context, chatID int64) (*models.User, error) {
	for _, u := range f.users {
		if u.TelegramChatID != nil && *u.TelegramChatID == chatID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SetTelegramChatID(_ context.Context, userID, chatID int64, _ time.Time) error {
	f.linked[userID] = chatID
	return nil
}

func (f *fakeStore) GetTracking(_ context.Context, id int64) (*models.Tracking, error) {
	return f.trackings[id], nil
}

func (f *fakeStore) ListReminders(context.Context, int64, database.ReminderFilter) ([]models.Reminder, error) {
	return f.reminders, nil
}

type call struct {
	method string
	userID int64
	id     int64
	arg    string
}

type fakeReminders struct {
	calls []call
	err   error
	now   time.Time
}

func (f *fakeReminders) record(method string, userID, id int64, arg string) (*models.Reminder, error) {
	f.calls = append(f.calls, call{method, userID, id, arg})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Reminder{ID: id, UserID: userID, ScheduledTime: f.now}, nil
}

func (f *fakeReminders) Answer(_ context.Context, userID, id int64, value string, _ *string) (*models.Reminder, error) {
	return f.record("answer", userID, id, value)
}

func (f *fakeReminders) Complete(_ context.Context, userID, id int64) (*models.Reminder, error) {
	return f.record("complete", userID, id, "")
}

func (f *fakeReminders) Skip(_ context.Context, userID, id int64) (*models.Reminder, error) {
	return f.record("skip", userID, id, "")
}

func (f *fakeReminders) Dismiss(_ context.Context, userID, id int64) (*models.Reminder, error) {
	return f.record("dismiss", userID, id, "")
}

func (f *fakeReminders) Snooze(_ context.Context, userID, id int64, minutes int) (*models.Reminder, error) {
	f.now = f.now.Add(time.Duration(minutes) * time.Minute)
	return f.record("snooze", userID, id, fmt.Sprint(minutes))
}

func (f *fakeReminders) AddNote(_ context.Context, userID, id int64, notes string) (*models.Reminder, error) {
	return f.record("note", userID, id, notes)
}

type fakeTokens struct {
	token models.Token
	err   error
}

func (f *fakeTokens) Consume(_ context.Context, token string, kind models.TokenKind, _ time.Time) (models.Token, error) {
	if f.err != nil {
		return models.Token{}, f.err
	}
	if token != f.token.Token || kind != models.TokenTelegramLink {
		return models.Token{}, tokens.ErrTokenNotFound
	}
	return f.token, nil
}

type harness struct {
	bot   *Bot
	api   *fakeSender
	store *fakeStore
	rems  *fakeReminders
	toks  *fakeTokens
}

func newHarness() *harness {
	h := &harness{
		api:   &fakeSender{},
		store: newFakeStore(),
		rems:  &fakeReminders{now: time.Date(2024, time.March, 1, 9, 5, 0, 0, time.UTC)},
		toks:  &fakeTokens{token: models.Token{Token: "abc123", UserID: 2, Kind: models.TokenTelegramLink}},
	}
	h.bot = New(h.api, h.rems, h.store, h.toks, Config{SnoozeMinutes: 15}, zerolog.Nop())
	h.bot.now = func() time.Time { return h.rems.now }
	return h
}

func command(chatID int64, text string) *tgbotapi.Message {
	cmd := text
	for i, r := range text {
		if r == ' ' {
			cmd = text[:i]
			break
		}
	}
	return &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func press(chatID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: chatID}},
	}
}

func TestParseCallback(t *testing.T) {
	valid := map[string]struct {
		action string
		id     int64
	}{
		"complete_42":  {actionComplete, 42},
		"skip_1":       {actionSkip, 1},
		"dismiss_7":    {actionDismiss, 7},
		"postpone_300": {actionPostpone, 300},
		"addnote_5":    {actionAddNote, 5},
		"answer_8":     {actionAnswer, 8},
	}
	for data, want := range valid {
		action, id, err := parseCallback(data)
		require.NoError(t, err, data)
		assert.Equal(t, want.action, action)
		assert.Equal(t, want.id, id)
		assert.Equal(t, data, callbackData(action, id))
	}

	for _, data := range []string{"", "complete", "complete_", "complete_x", "complete_-1", "launch_3", "_3"} {
		_, _, err := parseCallback(data)
		assert.Error(t, err, data)
	}
}

func TestNotifyReminder(t *testing.T) {
	h := newHarness()
	tracking := &models.Tracking{
		ID:        3,
		Question:  "Did you stretch?",
		Icon:      "🧘",
		Type:      models.TrackingYesNo,
		Frequency: frequency.Frequency{Pattern: frequency.Daily{}},
	}
	r := &models.Reminder{ID: 11, ScheduledTime: time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)}

	id, err := h.bot.NotifyReminder(context.Background(), h.store.users[1], tracking, r)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, 1, *id)

	msg := h.api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, linkedChat, msg.ChatID)
	assert.Equal(t, "🧘 Did you stretch?\n🕘 09:00 · Every day", msg.Text)
	kb := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "complete_11", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "postpone_11", *kb.InlineKeyboard[1][0].CallbackData)

	tracking.Type = models.TrackingRegister
	_, err = h.bot.NotifyReminder(context.Background(), h.store.users[1], tracking, r)
	require.NoError(t, err)
	kb = h.api.sent[1].(tgbotapi.MessageConfig).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Equal(t, "answer_11", *kb.InlineKeyboard[0][0].CallbackData)

	// Users without a linked chat get nothing.
	id, err = h.bot.NotifyReminder(context.Background(), h.store.users[2], tracking, r)
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Len(t, h.api.sent, 2)
}

func TestCallbackTransitions(t *testing.T) {
	cases := map[string]struct {
		method string
		reply  string
	}{
		"complete_4": {"complete", "✅ Done"},
		"skip_4":     {"skip", "⏭ Skipped"},
		"dismiss_4":  {"dismiss", "Dismissed"},
		"postpone_4": {"snooze", "⏰ I'll remind you at 09:20"},
	}
	for data, tc := range cases {
		t.Run(data, func(t *testing.T) {
			h := newHarness()
			require.NoError(t, h.bot.HandleCallback(context.Background(), press(linkedChat, data)))
			require.Len(t, h.rems.calls, 1)
			assert.Equal(t, tc.method, h.rems.calls[0].method)
			assert.Equal(t, int64(1), h.rems.calls[0].userID)
			assert.Equal(t, int64(4), h.rems.calls[0].id)
			assert.Equal(t, tc.reply, h.api.lastCallbackText(t))
		})
	}
}

func TestCallbackOnFinalizedReminder(t *testing.T) {
	h := newHarness()
	h.rems.err = fmt.Errorf("reminder 4: %w", reminders.ErrAlreadyFinalized)

	require.NoError(t, h.bot.HandleCallback(context.Background(), press(linkedChat, "complete_4")))
	assert.Equal(t, "This reminder was already handled.", h.api.lastCallbackText(t))
}

func TestCallbackFromUnlinkedChat(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.bot.HandleCallback(context.Background(), press(999, "complete_4")))
	assert.Empty(t, h.rems.calls)
	assert.Equal(t, textNotLinked, h.api.lastText(t))
}

func TestNoteFlow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.bot.HandleCallback(ctx, press(linkedChat, "addnote_4")))
	assert.Equal(t, "📝 Send the note as a message.", h.api.lastText(t))

	h.bot.HandleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: linkedChat},
		Text: "knee hurt a bit",
	}})
	require.Len(t, h.rems.calls, 1)
	assert.Equal(t, call{"note", 1, 4, "knee hurt a bit"}, h.rems.calls[0])
	assert.Equal(t, "📝 Note saved.", h.api.lastText(t))

	// The note state is consumed.
	h.bot.HandleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: linkedChat},
		Text: "again",
	}})
	assert.Len(t, h.rems.calls, 1)
}

func TestAnswerFlowRetriesOnValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.bot.HandleCallback(ctx, press(linkedChat, "answer_4")))

	h.rems.err = reminders.Invalid("An answer is required")
	require.NoError(t, h.bot.handleText(ctx, &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: linkedChat}, Text: " "}))
	assert.Equal(t, "An answer is required. Please try again or /cancel.", h.api.lastText(t))

	h.rems.err = nil
	require.NoError(t, h.bot.handleText(ctx, &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: linkedChat}, Text: "7 hours"}))
	assert.Equal(t, "✅ Answer saved.", h.api.lastText(t))
	assert.Equal(t, "7 hours", h.rems.calls[1].arg)
}

func TestPendingInputExpires(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.bot.HandleCallback(ctx, press(linkedChat, "addnote_4")))

	h.rems.now = h.rems.now.Add(pendingInputTTL + time.Minute)
	require.NoError(t, h.bot.handleText(ctx, &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: linkedChat}, Text: "late"}))
	assert.Empty(t, h.rems.calls)
}

func TestStartLinksChat(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.bot.HandleCommand(ctx, command(777, "/start abc123")))
	assert.Equal(t, map[int64]int64{2: 777}, h.store.linked)
	assert.Contains(t, h.api.lastText(t), "linked")

	require.NoError(t, h.bot.HandleCommand(ctx, command(777, "/start nope")))
	assert.Equal(t, "This link code is not valid. Create a new one in the app.", h.api.lastText(t))

	h.toks.err = tokens.ErrTokenExpired
	require.NoError(t, h.bot.HandleCommand(ctx, command(777, "/start abc123")))
	assert.Equal(t, "This link code has expired. Create a new one in the app.", h.api.lastText(t))

	require.NoError(t, h.bot.HandleCommand(ctx, command(888, "/start")))
	assert.Contains(t, h.api.lastText(t), textNotLinked)
}

func TestTodayListsReminders(t *testing.T) {
	h := newHarness()
	h.store.trackings[3] = &models.Tracking{ID: 3, Question: "Read?"}
	skipped := models.ValueSkipped
	h.store.reminders = []models.Reminder{
		{TrackingID: 3, ScheduledTime: time.Date(2024, time.March, 1, 18, 0, 0, 0, time.UTC), Status: models.ReminderPending},
		{TrackingID: 3, ScheduledTime: time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC), Status: models.ReminderAnswered, Value: &skipped},
	}

	require.NoError(t, h.bot.HandleCommand(context.Background(), command(linkedChat, "/today")))
	assert.Equal(t, "📅 Today\n\n08:00 ⏭ Read?\n18:00 ⬜ Read?", h.api.lastText(t))
}

func TestKeyboardCleaner(t *testing.T) {
	api := &fakeSender{}
	store := newFakeStore()
	c := NewKeyboardCleaner(api, store, zerolog.Nop())
	msgID := 42

	c.ReminderFinalized(context.Background(), &models.Reminder{ID: 1, UserID: 1})
	assert.Empty(t, api.requests)

	c.ReminderFinalized(context.Background(), &models.Reminder{ID: 1, UserID: 1, MessageID: &msgID})
	require.Len(t, api.requests, 1)
	edit := api.requests[0].(tgbotapi.EditMessageReplyMarkupConfig)
	assert.Equal(t, linkedChat, edit.ChatID)
	assert.Equal(t, 42, edit.MessageID)
	assert.Empty(t, edit.ReplyMarkup.InlineKeyboard)
}
