package leads

import (
	"slices"
	"time"

	"leadtrack-engine/internal/domain"
)

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Upcoming lists open follow-ups from the start of today through days ahead,
// earliest first.
func (s *Store) Upcoming(now time.Time, days int) []domain.Lead {
	from := startOfDay(now)
	to := from.AddDate(0, 0, days+1).Add(-time.Nanosecond)
	out := s.openFollowUps(func(t time.Time) bool { return inRange(t, from, to) })
	sortByFollowUp(out)
	return out
}

// Overdue lists open follow-ups scheduled before now, earliest first.
func (s *Store) Overdue(now time.Time) []domain.Lead {
	out := s.openFollowUps(func(t time.Time) bool { return t.Before(now) })
	sortByFollowUp(out)
	return out
}

// DailyTasks lists open follow-ups on the calendar day of day, highest
// priority first, then by time.
func (s *Store) DailyTasks(day time.Time) []domain.Lead {
	from := startOfDay(day)
	to := from.AddDate(0, 0, 1).Add(-time.Nanosecond)
	out := s.openFollowUps(func(t time.Time) bool { return inRange(t.In(day.Location()), from, to) })
	slices.SortStableFunc(out, func(a, b domain.Lead) int {
		if c := b.Priority.Rank() - a.Priority.Rank(); c != 0 {
			return c
		}
		return a.FollowUpAt.Compare(*b.FollowUpAt)
	})
	return out
}

func (s *Store) openFollowUps(keep func(time.Time) bool) []domain.Lead {
	var out []domain.Lead
	for _, id := range s.orderedIDs() {
		l := s.leads[id]
		if l.FollowUpAt == nil || l.Status.Terminal() || !keep(*l.FollowUpAt) {
			continue
		}
		out = append(out, l.Clone())
	}
	return out
}

func sortByFollowUp(ls []domain.Lead) {
	slices.SortStableFunc(ls, func(a, b domain.Lead) int {
		return a.FollowUpAt.Compare(*b.FollowUpAt)
	})
}
