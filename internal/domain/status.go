package domain

import "strings"

type Status string

const (
	StatusNew       Status = "New"
	StatusContacted Status = "Contacted"
	StatusQualified Status = "Qualified"
	StatusProposal  Status = "Proposal"
	StatusWon       Status = "Won"
	StatusLost      Status = "Lost"
	StatusArchived  Status = "Archived"
)

var Statuses = []Status{
	StatusNew, StatusContacted, StatusQualified, StatusProposal,
	StatusWon, StatusLost, StatusArchived,
}

// Terminal statuses never count towards overdue follow-ups.
func (s Status) Terminal() bool {
	switch s {
	case StatusWon, StatusLost, StatusArchived:
		return true
	}
	return false
}

func (s Status) Qualified() bool {
	switch s {
	case StatusQualified, StatusProposal, StatusWon:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	_, ok := ParseStatus(string(s))
	return ok
}

// ParseStatus accepts the canonical names case-insensitively.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for _, st := range Statuses {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// Rank orders priorities; unknown values rank with Medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	default:
		return 2
	}
}

func (p Priority) Valid() bool {
	_, ok := ParsePriority(string(p))
	return ok
}

func ParsePriority(s string) (Priority, bool) {
	s = strings.TrimSpace(s)
	for _, p := range Priorities {
		if strings.EqualFold(s, string(p)) {
			return p, true
		}
	}
	return "", false
}
