package domain

import (
	"maps"
	"slices"
	"time"
)

// Lead is the canonical record tracked through the pipeline.
type Lead struct {
	ID            string            `json:"id"`
	Email         string            `json:"email,omitempty"`
	AltEmails     []string          `json:"alt_emails,omitempty"`
	Name          string            `json:"name,omitempty"`
	Company       string            `json:"company,omitempty"`
	Phone         string            `json:"phone,omitempty"`
	Products      []string          `json:"products,omitempty"`
	Status        Status            `json:"status,omitempty"`
	Priority      Priority          `json:"priority,omitempty"`
	FollowUpAt    *time.Time        `json:"follow_up_at,omitempty"`
	LastContactAt *time.Time        `json:"last_contact_at,omitempty"`
	Notes         []Note            `json:"notes,omitempty"`
	RawExtra      map[string]string `json:"raw_extra,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type Note struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Clone returns a deep copy so callers never share slices or maps with the store.
func (l Lead) Clone() Lead {
	out := l
	out.AltEmails = slices.Clone(l.AltEmails)
	out.Products = slices.Clone(l.Products)
	out.Notes = slices.Clone(l.Notes)
	if l.RawExtra != nil {
		out.RawExtra = maps.Clone(l.RawExtra)
	}
	if l.FollowUpAt != nil {
		t := *l.FollowUpAt
		out.FollowUpAt = &t
	}
	if l.LastContactAt != nil {
		t := *l.LastContactAt
		out.LastContactAt = &t
	}
	return out
}

// HasIdentity reports whether the lead carries at least one value a human could
// recognise it by.
func (l Lead) HasIdentity() bool {
	return l.Email != "" || l.Name != "" || l.Company != "" || l.Phone != ""
}

// FollowUpOverdue is true when a follow-up is scheduled before now and the lead
// is still open.
func (l Lead) FollowUpOverdue(now time.Time) bool {
	return l.FollowUpAt != nil && l.FollowUpAt.Before(now) && !l.Status.Terminal()
}

// Timestamp strips the monotonic reading and zone so stored and reloaded times compare equal.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Round(0)
}

func TimePtr(t time.Time) *time.Time {
	ts := Timestamp(t)
	return &ts
}
