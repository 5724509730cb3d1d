// Package changes keeps the append-only audit trail of lead mutations.
package changes

import (
	"fmt"
	"slices"
	"sort"

	"leadtrack-engine/internal/domain"
)

// Tracker is an append-only, totally ordered log of change events. It has no
// locking of its own; callers serialize access.
type Tracker struct {
	events []domain.ChangeEvent
	byLead map[string][]int
	seq    int64
}

func NewTracker() *Tracker {
	return &Tracker{byLead: make(map[string][]int)}
}

// Restore rebuilds a tracker from persisted events. Events must carry their
// original sequence numbers; they are ordered by seq before indexing.
// floor is the highest seq already taken in durable storage, including rows
// that could not be loaded; new events are numbered above it.
func Restore(events []domain.ChangeEvent, floor int64) (*Tracker, error) {
	sorted := slices.Clone(events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	t := NewTracker()
	for _, ev := range sorted {
		if ev.Seq <= t.seq {
			return nil, fmt.Errorf("restore: duplicate or non-increasing seq %d", ev.Seq)
		}
		t.append(ev)
		t.seq = ev.Seq
	}
	t.seq = max(t.seq, floor)
	return t, nil
}

// Record appends events in order, assigning each the next sequence number.
// The stamped events are returned.
func (t *Tracker) Record(events ...domain.ChangeEvent) []domain.ChangeEvent {
	out := make([]domain.ChangeEvent, 0, len(events))
	for _, ev := range events {
		t.seq++
		ev.Seq = t.seq
		ev.At = domain.Timestamp(ev.At)
		t.append(ev)
		out = append(out, ev)
	}
	return out
}

func (t *Tracker) append(ev domain.ChangeEvent) {
	t.byLead[ev.LeadID] = append(t.byLead[ev.LeadID], len(t.events))
	t.events = append(t.events, ev)
}

// History returns the lead's events in the order they were recorded.
func (t *Tracker) History(leadID string) []domain.ChangeEvent {
	idx := t.byLead[leadID]
	out := make([]domain.ChangeEvent, 0, len(idx))
	for _, i := range idx {
		out = append(out, t.events[i])
	}
	return out
}

// Since returns every event with a sequence number greater than seq.
func (t *Tracker) Since(seq int64) []domain.ChangeEvent {
	i := sort.Search(len(t.events), func(i int) bool { return t.events[i].Seq > seq })
	return slices.Clone(t.events[i:])
}

func (t *Tracker) All() []domain.ChangeEvent { return slices.Clone(t.events) }

func (t *Tracker) Len() int { return len(t.events) }

// LastSeq is the sequence number of the newest event, or 0 when empty.
func (t *Tracker) LastSeq() int64 { return t.seq }

// Replay folds events onto empty leads and returns the reconstructed state by id.
func Replay(events []domain.ChangeEvent) (map[string]domain.Lead, error) {
	out := make(map[string]domain.Lead)
	for _, ev := range events {
		l := out[ev.LeadID]
		if err := domain.ApplyEvent(&l, ev); err != nil {
			return nil, err
		}
		out[ev.LeadID] = l
	}
	return out, nil
}
