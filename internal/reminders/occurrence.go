package reminders

import (
	"time"

	"github.com/example/habitus/internal/frequency"
	"github.com/example/habitus/pkg/models"
)

// NextInstant returns the next moment t should fire strictly after now.
// Schedules are read as wall-clock times in loc. The result is in UTC and
// the second value is false when the tracking has nothing left to fire.
func NextInstant(t models.Tracking, now time.Time, loc *time.Location) (time.Time, bool) {
	p := t.Pattern()
	if t.State != models.TrackingRunning || p == nil || len(t.Schedules) == 0 {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	today := frequency.DateOf(now.In(loc))
	date, ok := frequency.Next(p, today)
	if !ok {
		return time.Time{}, false
	}
	if at, ok := earliestAfter(date, t.Schedules, now, loc); ok {
		return at.UTC(), true
	}

	// Every time of today has already passed.
	date, ok = frequency.Next(p, today.AddDays(1))
	if !ok {
		return time.Time{}, false
	}
	at, ok := earliestAfter(date, t.Schedules, now, loc)
	if !ok {
		return time.Time{}, false
	}
	return at.UTC(), true
}

// earliestAfter combines date with every schedule and keeps the earliest
// instant after now. Equal instants resolve to the first schedule listed.
func earliestAfter(date frequency.Date, schedules []models.Schedule, now time.Time, loc *time.Location) (time.Time, bool) {
	var best time.Time
	found := false
	for _, s := range schedules {
		at := date.At(s.Hour, s.Minute, loc)
		if !at.After(now) {
			continue
		}
		if !found || at.Before(best) {
			best = at
			found = true
		}
	}
	return best, found
}
