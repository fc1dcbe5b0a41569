package trackings

import (
	"context"
	"errors"
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

type fakeStore struct {
	trackings map[int64]*models.Tracking
	nextID    int64
	dropped   []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{trackings: make(map[int64]*models.Tracking)}
}

func (f *fakeStore) CreateTracking(_ context.Context, t *models.Tracking) error {
	f.nextID++
	t.ID = f.nextID
	c := *t
	f.trackings[t.ID] = &c
	return nil
}

func (f *fakeStore) UpdateTracking(_ context.Context, t *models.Tracking) error {
	c := *t
	f.trackings[t.ID] = &c
	return nil
}

func (f *fakeStore) GetTracking(_ context.Context, id int64) (*models.Tracking, error) {
	if t, ok := f.trackings[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (f *fakeStore) ListTrackings(_ context.Context, userID int64) ([]models.Tracking, error) {
	var out []models.Tracking
	for id := int64(1); id <= f.nextID; id++ {
		if t, ok := f.trackings[id]; ok && t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) SetTrackingState(_ context.Context, id int64, state models.TrackingState, now time.Time) error {
	f.trackings[id].State = state
	f.trackings[id].UpdatedAt = now
	return nil
}

func (f *fakeStore) DeleteTracking(_ context.Context, id int64) error {
	delete(f.trackings, id)
	return nil
}

func (f *fakeStore) DeleteFutureOpenReminders(_ context.Context, trackingID int64, _ time.Time) (int64, error) {
	f.dropped = append(f.dropped, trackingID)
	return 1, nil
}

type fakeScheduler struct {
	ensured []int64
	err     error
}

func (f *fakeScheduler) EnsureNextReminderExists(_ context.Context, trackingID int64, _ time.Time) (*models.Reminder, error) {
	f.ensured = append(f.ensured, trackingID)
	return nil, f.err
}

func newTestService() (*Service, *fakeStore, *fakeScheduler) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	svc := NewService(store, sched, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC) }
	return svc, store, sched
}

func validInput() Input {
	return Input{
		Question:  "  Did you drink water?  ",
		Frequency: frequency.Frequency{Pattern: frequency.Daily{}},
		Schedules: []models.Schedule{{Hour: 18, Minute: 30}, {Hour: 9}},
	}
}

func TestCreateSchedulesFirstReminder(t *testing.T) {
	svc, _, sched := newTestService()

	tr, err := svc.Create(context.Background(), 1, validInput())
	require.NoError(t, err)
	assert.Equal(t, "Did you drink water?", tr.Question)
	assert.Equal(t, models.TrackingYesNo, tr.Type)
	assert.Equal(t, models.TrackingRunning, tr.State)
	assert.Equal(t, []models.Schedule{{Hour: 9}, {Hour: 18, Minute: 30}}, tr.Schedules)
	assert.Equal(t, []int64{tr.ID}, sched.ensured)
}

func TestCreateSucceedsWhenSchedulingFails(t *testing.T) {
	svc, store, sched := newTestService()
	sched.err = errors.New("database is locked")

	tr, err := svc.Create(context.Background(), 1, validInput())
	require.NoError(t, err)
	assert.Contains(t, store.trackings, tr.ID)
}

func TestCreateValidation(t *testing.T) {
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'q'
	}

	cases := map[string]struct {
		mutate func(*Input)
		want   string
	}{
		"empty question":     {func(in *Input) { in.Question = "   " }, "Question is required"},
		"long question":      {func(in *Input) { in.Question = string(long) }, "Question must be at most 100 characters"},
		"no schedules":       {func(in *Input) { in.Schedules = nil }, "At least one time is required"},
		"duplicate schedule": {func(in *Input) { in.Schedules = []models.Schedule{{Hour: 9}, {Hour: 9}} }, "Duplicate time 09:00"},
		"bad hour":           {func(in *Input) { in.Schedules = []models.Schedule{{Hour: 24}} }, "Invalid time 24:00"},
		"no frequency":       {func(in *Input) { in.Frequency = frequency.Frequency{} }, "Frequency is required"},
		"unknown type":       {func(in *Input) { in.Type = "scale" }, `Unknown tracking type "scale"`},
		"too many schedules": {func(in *Input) {
			in.Schedules = []models.Schedule{{Hour: 1}, {Hour: 2}, {Hour: 3}, {Hour: 4}, {Hour: 5}, {Hour: 6}}
		}, "At most 5 times are allowed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, store, _ := newTestService()
			in := validInput()
			tc.mutate(&in)

			_, err := svc.Create(context.Background(), 1, in)
			require.ErrorIs(t, err, reminders.ErrInvalidInput)
			assert.EqualError(t, err, tc.want)
			assert.Empty(t, store.trackings)
		})
	}
}

func TestCreateRejectsInvalidPattern(t *testing.T) {
	svc, _, _ := newTestService()
	in := validInput()
	in.Frequency = frequency.Frequency{Pattern: frequency.Weekly{}}

	_, err := svc.Create(context.Background(), 1, in)
	assert.ErrorIs(t, err, reminders.ErrInvalidInput)
}

func TestUpdateReplansReminders(t *testing.T) {
	svc, store, sched := newTestService()
	ctx := context.Background()
	tr, err := svc.Create(ctx, 1, validInput())
	require.NoError(t, err)

	in := validInput()
	in.Question = "Water?"
	in.Schedules = []models.Schedule{{Hour: 7}}
	updated, err := svc.Update(ctx, 1, tr.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Water?", updated.Question)
	assert.Equal(t, []int64{tr.ID}, store.dropped)
	assert.Equal(t, []int64{tr.ID, tr.ID}, sched.ensured)

	_, err = svc.Update(ctx, 2, tr.ID, in)
	assert.ErrorIs(t, err, reminders.ErrForbidden)
	_, err = svc.Update(ctx, 1, 99, in)
	assert.ErrorIs(t, err, reminders.ErrNotFound)
}

func TestSetState(t *testing.T) {
	svc, store, sched := newTestService()
	ctx := context.Background()
	tr, err := svc.Create(ctx, 1, validInput())
	require.NoError(t, err)

	paused, err := svc.SetState(ctx, 1, tr.ID, models.TrackingPaused)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingPaused, paused.State)
	assert.Equal(t, []int64{tr.ID}, store.dropped)

	resumed, err := svc.SetState(ctx, 1, tr.ID, models.TrackingRunning)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingRunning, resumed.State)
	assert.Equal(t, []int64{tr.ID, tr.ID}, sched.ensured)

	_, err = svc.SetState(ctx, 1, tr.ID, "deleted")
	assert.ErrorIs(t, err, reminders.ErrInvalidInput)
}

func TestDeleteAndList(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	first, err := svc.Create(ctx, 1, validInput())
	require.NoError(t, err)
	_, err = svc.Create(ctx, 1, validInput())
	require.NoError(t, err)
	_, err = svc.Create(ctx, 2, validInput())
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, 2, first.ID), reminders.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, 1, first.ID))

	list, err := svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotEqual(t, first.ID, list[0].ID)
}

func TestUpdateMovesFiredOneTimeTrackingToNewDate(t *testing.T) {
	ctx := context.Background()
	db, err := database.Connect(ctx, database.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := database.NewStore(db)

	now := time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	rems := reminders.NewService(store, zerolog.Nop(), reminders.WithClock(clock))
	svc := NewService(store, rems, zerolog.Nop())
	svc.now = clock

	user, err := store.FindOrCreateUser(ctx, "ada@example.com", "Ada", now)
	require.NoError(t, err)

	in := validInput()
	in.Frequency = frequency.Frequency{Pattern: frequency.OneTime{Date: frequency.NewDate(2024, time.March, 1)}}
	in.Schedules = []models.Schedule{{Hour: 9}}
	tr, err := svc.Create(ctx, user.ID, in)
	require.NoError(t, err)

	first, err := store.GetFuturePendingOrUpcomingReminder(ctx, tr.ID, now)
	require.NoError(t, err)
	require.NotNil(t, first)

	now = time.Date(2024, time.March, 1, 9, 10, 0, 0, time.UTC)
	_, err = rems.Complete(ctx, user.ID, first.ID)
	require.NoError(t, err)
	next, err := store.GetFuturePendingOrUpcomingReminder(ctx, tr.ID, now)
	require.NoError(t, err)
	assert.Nil(t, next)

	in.Frequency = frequency.Frequency{Pattern: frequency.OneTime{Date: frequency.NewDate(2030, time.June, 1)}}
	_, err = svc.Update(ctx, user.ID, tr.ID, in)
	require.NoError(t, err)

	next, err = store.GetFuturePendingOrUpcomingReminder(ctx, tr.ID, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.ScheduledTime.Equal(time.Date(2030, time.June, 1, 9, 0, 0, 0, time.UTC)))
}
