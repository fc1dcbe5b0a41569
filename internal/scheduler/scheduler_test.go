package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/habitus/internal/database"
	"github.com/example/habitus/internal/frequency"
	"github.com/example/habitus/internal/reminders"
	"github.com/example/habitus/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	ensureCalls  atomic.Int32
	promoteCalls atomic.Int32
	deliverCalls atomic.Int32
	ensureErr    error
	promoteErr   error
	deliverErr   error
}

func (f *fakeEngine) EnsureAll(context.Context, time.Time) (int, error) {
	f.ensureCalls.Add(1)
	return 3, f.ensureErr
}

func (f *fakeEngine) PromoteDue(context.Context, time.Time) (int64, error) {
	f.promoteCalls.Add(1)
	return 1, f.promoteErr
}

func (f *fakeEngine) DeliverDue(context.Context, reminders.Notifier, time.Time) (int, error) {
	f.deliverCalls.Add(1)
	return 1, f.deliverErr
}

type fakeTokens struct {
	calls atomic.Int32
	at    time.Time
}

func (f *fakeTokens) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	f.calls.Add(1)
	f.at = now
	return 2, nil
}

type nopNotifier struct{}

func (nopNotifier) NotifyReminder(context.Context, *models.User, *models.Tracking, *models.Reminder) (*int, error) {
	return nil, nil
}

func TestSweepRemindersDeliversEvenWhenSchedulingFails(t *testing.T) {
	engine := &fakeEngine{ensureErr: errors.New("tracking 4: boom")}
	s := New(engine, nopNotifier{}, &fakeTokens{}, Config{}, zerolog.Nop())

	require.NoError(t, s.SweepReminders(context.Background()))
	assert.Equal(t, int32(1), engine.ensureCalls.Load())
	assert.Equal(t, int32(1), engine.deliverCalls.Load())

	engine.deliverErr = errors.New("database is locked")
	assert.Error(t, s.SweepReminders(context.Background()))
}

func TestSweepRemindersWithoutNotifierStillPromotes(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, nil, &fakeTokens{}, Config{}, zerolog.Nop())

	require.NoError(t, s.SweepReminders(context.Background()))
	assert.Equal(t, int32(1), engine.ensureCalls.Load())
	assert.Equal(t, int32(1), engine.promoteCalls.Load())
	assert.Zero(t, engine.deliverCalls.Load())
}

func TestSweepRemindersStopsWhenPromotionFails(t *testing.T) {
	engine := &fakeEngine{promoteErr: errors.New("database is locked")}
	s := New(engine, nopNotifier{}, &fakeTokens{}, Config{}, zerolog.Nop())

	assert.Error(t, s.SweepReminders(context.Background()))
	assert.Zero(t, engine.deliverCalls.Load())
}

func TestSweepRemindersPromotesSnoozedReminderWithoutBot(t *testing.T) {
	ctx := context.Background()
	db, err := database.Connect(ctx, database.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := database.NewStore(db)

	now := time.Date(2024, time.March, 1, 9, 5, 0, 0, time.UTC)
	svc := reminders.NewService(store, zerolog.Nop(), reminders.WithClock(func() time.Time { return now }))

	user, err := store.FindOrCreateUser(ctx, "ada@example.com", "Ada", now)
	require.NoError(t, err)
	tr := &models.Tracking{
		UserID:    user.ID,
		Question:  "Did you stretch?",
		Type:      models.TrackingYesNo,
		State:     models.TrackingRunning,
		Frequency: frequency.Frequency{Pattern: frequency.Daily{}},
		Schedules: []models.Schedule{{Hour: 9}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateTracking(ctx, tr))
	due := &models.Reminder{
		TrackingID:    tr.ID,
		UserID:        user.ID,
		ScheduledTime: now.Add(-5 * time.Minute),
		Status:        models.ReminderPending,
	}
	ok, err := store.InsertReminderIfNoneFuture(ctx, due, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	snoozed, err := svc.Snooze(ctx, user.ID, due.ID, 30)
	require.NoError(t, err)
	require.Equal(t, models.ReminderUpcoming, snoozed.Status)

	s := New(svc, nil, &fakeTokens{}, Config{}, zerolog.Nop())
	s.now = func() time.Time { return now.Add(time.Hour) }
	require.NoError(t, s.SweepReminders(ctx))

	r, err := store.GetReminder(ctx, snoozed.ID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, models.ReminderPending, r.Status)
}

func TestSweepTokensUsesClock(t *testing.T) {
	tokens := &fakeTokens{}
	s := New(&fakeEngine{}, nil, tokens, Config{}, zerolog.Nop())
	fixed := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	n, err := s.SweepTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, fixed, tokens.at)
}

func TestStartRunsSweeps(t *testing.T) {
	engine := &fakeEngine{}
	tokens := &fakeTokens{}
	s := New(engine, nopNotifier{}, tokens, Config{ReminderInterval: 50 * time.Millisecond}, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Equal(t, 2, s.scheduler.Len())

	// gocron runs every job once right after start.
	assert.Eventually(t, func() bool {
		return engine.ensureCalls.Load() >= 2 && tokens.calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
