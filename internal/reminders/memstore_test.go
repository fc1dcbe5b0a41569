package reminders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/habitus/pkg/models"
)

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	trackings map[int64]*models.Tracking
	reminders map[int64]*models.Reminder
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[int64]*models.User),
		trackings: make(map[int64]*models.Tracking),
		reminders: make(map[int64]*models.Reminder),
	}
}

func (m *memStore) addUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *memStore) addTracking(t models.Tracking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackings[t.ID] = &t
}

func (m *memStore) addReminder(r models.Reminder) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.reminders[r.ID] = &r
	return r.ID
}

// all returns copies of every reminder of the tracking ordered by id.
func (m *memStore) all(trackingID int64) []models.Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reminder
	for _, r := range m.reminders {
		if r.TrackingID == trackingID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func isOpen(s models.ReminderStatus) bool {
	return s == models.ReminderPending || s == models.ReminderUpcoming
}

func (m *memStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (m *memStore) GetTracking(_ context.Context, id int64) (*models.Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trackings[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (m *memStore) ListRunningTrackings(_ context.Context) ([]models.Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Tracking
	for _, t := range m.trackings {
		if t.State == models.TrackingRunning {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetReminder(_ context.Context, id int64) (*models.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reminders[id]; ok {
		c := *r
		return &c, nil
	}
	return nil, nil
}

func (m *memStore) futureOpen(trackingID int64, now time.Time) *models.Reminder {
	var best *models.Reminder
	for _, r := range m.reminders {
		if r.TrackingID != trackingID || !isOpen(r.Status) || !r.ScheduledTime.After(now) {
			continue
		}
		if best == nil || r.ScheduledTime.Before(best.ScheduledTime) {
			best = r
		}
	}
	return best
}

func (m *memStore) GetFuturePendingOrUpcomingReminder(_ context.Context, trackingID int64, now time.Time) (*models.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.futureOpen(trackingID, now); r != nil {
		c := *r
		return &c, nil
	}
	return nil, nil
}

func (m *memStore) HasRemindersSince(_ context.Context, trackingID int64, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reminders {
		if r.TrackingID == trackingID && !r.ScheduledTime.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertReminderIfNoneFuture(_ context.Context, r *models.Reminder, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.futureOpen(r.TrackingID, now) != nil {
		return false, nil
	}
	m.nextID++
	r.ID = m.nextID
	r.CreatedAt, r.UpdatedAt = now, now
	c := *r
	m.reminders[r.ID] = &c
	return true, nil
}

func (m *memStore) FinalizeReminder(_ context.Context, id int64, status models.ReminderStatus, value, notes *string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok || !isOpen(r.Status) {
		return false, nil
	}
	r.Status, r.Value, r.Notes, r.UpdatedAt = status, value, notes, now
	return true, nil
}

func (m *memStore) RescheduleReminder(_ context.Context, id int64, at, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok || !isOpen(r.Status) {
		return false, nil
	}
	r.ScheduledTime, r.UpdatedAt = at, now
	return true, nil
}

func (m *memStore) SupersedeWithUpcoming(_ context.Context, originalID int64, r *models.Reminder, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orig, ok := m.reminders[originalID]
	if !ok || !isOpen(orig.Status) {
		return false, nil
	}
	orig.Status, orig.UpdatedAt = models.ReminderDismissed, now
	for id, other := range m.reminders {
		if other.TrackingID == r.TrackingID && isOpen(other.Status) && other.ScheduledTime.After(now) {
			delete(m.reminders, id)
		}
	}
	m.nextID++
	r.ID = m.nextID
	r.CreatedAt, r.UpdatedAt = now, now
	c := *r
	m.reminders[r.ID] = &c
	return true, nil
}

func (m *memStore) UpdateReminderNotes(_ context.Context, id int64, notes *string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reminders[id]; ok {
		r.Notes, r.UpdatedAt = notes, now
	}
	return nil
}

func (m *memStore) DeleteReminder(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reminders, id)
	return nil
}

func (m *memStore) PromoteUpcoming(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.reminders {
		if r.Status == models.ReminderUpcoming && !r.ScheduledTime.After(now) {
			r.Status = models.ReminderPending
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListDueUndelivered(_ context.Context, now time.Time) ([]models.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reminder
	for _, r := range m.reminders {
		if r.Status == models.ReminderPending && r.NotifiedAt == nil && !r.ScheduledTime.After(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) MarkDelivered(_ context.Context, id int64, messageID *int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reminders[id]; ok {
		r.MessageID = messageID
		r.NotifiedAt = &at
	}
	return nil
}
