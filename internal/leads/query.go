package leads

import (
	"iter"
	"slices"
	"strings"
	"time"

	"leadtrack-engine/internal/domain"
)

// Filter selects leads. Zero values mean "no constraint". Archived leads are
// hidden unless IncludeArchived is set or Statuses names Archived.
type Filter struct {
	Statuses        []domain.Status
	Priorities      []domain.Priority
	FollowUpFrom    time.Time
	FollowUpTo      time.Time
	CreatedFrom     time.Time
	CreatedTo       time.Time
	Search          string
	IncludeArchived bool
	Match           func(domain.Lead) bool
}

func (f Filter) matches(l *domain.Lead) bool {
	if len(f.Statuses) > 0 {
		if !slices.Contains(f.Statuses, l.Status) {
			return false
		}
	} else if l.Status == domain.StatusArchived && !f.IncludeArchived {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, l.Priority) {
		return false
	}
	if !f.FollowUpFrom.IsZero() || !f.FollowUpTo.IsZero() {
		if l.FollowUpAt == nil || !inRange(*l.FollowUpAt, f.FollowUpFrom, f.FollowUpTo) {
			return false
		}
	}
	if !inRange(l.CreatedAt, f.CreatedFrom, f.CreatedTo) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" && !searchHit(l, q) {
		return false
	}
	if f.Match != nil && !f.Match(l.Clone()) {
		return false
	}
	return true
}

// inRange is inclusive at both ends; zero bounds are open.
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func searchHit(l *domain.Lead, q string) bool {
	for _, s := range []string{l.Email, l.Name, l.Company, l.Phone} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	for _, a := range l.AltEmails {
		if strings.Contains(a, q) {
			return true
		}
	}
	for _, n := range l.Notes {
		if strings.Contains(strings.ToLower(n.Text), q) {
			return true
		}
	}
	return false
}

// Query returns a lazy sequence of matching leads ordered by creation time.
// Each range over the result starts a fresh pass, so it can be re-run.
// Yielded leads are copies; the store is never modified.
func (s *Store) Query(f Filter) iter.Seq[domain.Lead] {
	return func(yield func(domain.Lead) bool) {
		for _, id := range s.orderedIDs() {
			l, ok := s.leads[id]
			if !ok || !f.matches(l) {
				continue
			}
			if !yield(l.Clone()) {
				return
			}
		}
	}
}

// All returns every lead, archived included, in creation order.
func (s *Store) All() []domain.Lead {
	return slices.Collect(s.Query(Filter{IncludeArchived: true}))
}

func (s *Store) orderedIDs() []string {
	ids := make([]string, 0, len(s.leads))
	for id := range s.leads {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := s.leads[a].CreatedAt.Compare(s.leads[b].CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return ids
}

// Statuses lists the distinct statuses currently in use, sorted.
func (s *Store) Statuses() []domain.Status {
	seen := map[domain.Status]bool{}
	var out []domain.Status
	for _, l := range s.leads {
		if l.Status != "" && !seen[l.Status] {
			seen[l.Status] = true
			out = append(out, l.Status)
		}
	}
	slices.Sort(out)
	return out
}
