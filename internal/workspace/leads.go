package workspace

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"leadtrack-engine/internal/domain"
	"leadtrack-engine/internal/events"
	"leadtrack-engine/internal/leads"
	"leadtrack-engine/internal/metrics"
)

type mutation func() (domain.Lead, []domain.ChangeEvent, error)

// apply runs one store mutation and, when it changed something, publishes
// it and autosaves. A failed autosave is returned with the lead; the
// in-memory change stands and the next save retries it.
func (w *Workspace) apply(ctx context.Context, typ string, m mutation) (domain.Lead, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, evs, err := m()
	if err != nil {
		return domain.Lead{}, err
	}
	if len(evs) == 0 {
		return l, nil
	}
	w.changed(evs)
	w.hub.Publish(events.MakeEvent("", typ, l))
	if w.autosave {
		if _, err := w.saveLocked(ctx); err != nil {
			return l, err
		}
	}
	return l, nil
}

func (w *Workspace) changed(evs []domain.ChangeEvent) {
	w.dirty = true
	for _, ev := range evs {
		metrics.ChangeEventsTotal.WithLabelValues(string(ev.Field)).Inc()
	}
	metrics.LeadsTotal.Set(float64(w.leads.Len()))
}

func (w *Workspace) Create(ctx context.Context, in domain.Lead) (domain.Lead, error) {
	return w.apply(ctx, events.LeadCreated, func() (domain.Lead, []domain.ChangeEvent, error) {
		return w.leads.Create(in)
	})
}

func (w *Workspace) UpdateField(ctx context.Context, id string, f domain.Field, value string) (domain.Lead, error) {
	return w.apply(ctx, events.LeadUpdated, func() (domain.Lead, []domain.ChangeEvent, error) {
		return w.leads.UpdateField(id, f, value)
	})
}

func (w *Workspace) AddNote(ctx context.Context, id, text string, at time.Time) (domain.Lead, error) {
	return w.apply(ctx, events.LeadUpdated, func() (domain.Lead, []domain.ChangeEvent, error) {
		return w.leads.AddNote(id, text, at)
	})
}

func (w *Workspace) ScheduleFollowUp(ctx context.Context, id string, at time.Time) (domain.Lead, error) {
	return w.apply(ctx, events.LeadUpdated, func() (domain.Lead, []domain.ChangeEvent, error) {
		return w.leads.ScheduleFollowUp(id, at)
	})
}

func (w *Workspace) CompleteFollowUp(ctx context.Context, id string) (domain.Lead, error) {
	return w.apply(ctx, events.LeadUpdated, func() (domain.Lead, []domain.ChangeEvent, error) {
		return w.leads.CompleteFollowUp(id)
	})
}

func (w *Workspace) Archive(ctx context.Context, id string) (domain.Lead, error) {
	lead, err := w.apply(ctx, events.LeadUpdated, func() (domain.Lead, []domain.ChangeEvent, error) {
		return w.leads.Archive(id)
	})
	if err == nil {
		w.log.Info("lead archived", zap.String("id", id))
	}
	return lead, err
}

func (w *Workspace) Get(id string) (domain.Lead, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.leads.Get(id)
}

// Query collects the matching leads while holding the lock; the store's
// lazy sequence must not outlive it.
func (w *Workspace) Query(f leads.Filter) []domain.Lead {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Collect(w.leads.Query(f))
}

// History returns the lead's change events oldest first. Unknown ids with
// no recorded history fail with ErrNotFound.
func (w *Workspace) History(id string) ([]domain.ChangeEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := w.tracker.History(id)
	if len(h) == 0 {
		if _, err := w.leads.Get(id); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Since returns every event recorded after seq.
func (w *Workspace) Since(seq int64) []domain.ChangeEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tracker.Since(seq)
}

func (w *Workspace) Analytics() leads.Analytics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.leads.Analytics(w.now())
}

// Agenda groups open follow-ups for the dashboard.
type Agenda struct {
	Overdue  []domain.Lead `json:"overdue"`
	Today    []domain.Lead `json:"today"`
	Upcoming []domain.Lead `json:"upcoming"`
}

func (w *Workspace) Agenda(days int) Agenda {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	return Agenda{
		Overdue:  w.leads.Overdue(now),
		Today:    w.leads.DailyTasks(now),
		Upcoming: w.leads.Upcoming(now, days),
	}
}
