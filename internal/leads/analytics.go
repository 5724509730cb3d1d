package leads

import (
	"time"

	"leadtrack-engine/internal/domain"
)

type Analytics struct {
	Total            int                     `json:"total_leads"`
	ByStatus         map[domain.Status]int   `json:"status_distribution"`
	ByPriority       map[domain.Priority]int `json:"priority_distribution"`
	OverdueFollowUps int                     `json:"overdue_tasks"`
	ActiveFollowUps  int                     `json:"active_followups"`
	Qualified        int                     `json:"qualified_leads"`
}

// Analytics is computed from the current state on every call.
func (s *Store) Analytics(now time.Time) Analytics {
	a := Analytics{
		ByStatus:   make(map[domain.Status]int),
		ByPriority: make(map[domain.Priority]int),
	}
	for _, l := range s.leads {
		a.Total++
		if l.Status != "" {
			a.ByStatus[l.Status]++
		}
		if l.Priority != "" {
			a.ByPriority[l.Priority]++
		}
		if l.FollowUpAt != nil && !l.Status.Terminal() {
			a.ActiveFollowUps++
		}
		if l.FollowUpOverdue(now) {
			a.OverdueFollowUps++
		}
		if l.Status.Qualified() {
			a.Qualified++
		}
	}
	return a
}
