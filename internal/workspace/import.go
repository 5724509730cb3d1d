package workspace

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"leadtrack-engine/internal/domain"
	"leadtrack-engine/internal/events"
	"leadtrack-engine/internal/ingest"
	"leadtrack-engine/internal/metrics"
	"leadtrack-engine/internal/normalize"
)

type ImportReport struct {
	Rows      int                 `json:"rows"`
	Created   int                 `json:"created"`
	Updated   int                 `json:"updated"`
	Unchanged int                 `json:"unchanged"`
	Events    int                 `json:"events"`
	Skipped   []domain.SkippedRow `json:"skipped"`
	Warnings  []normalize.Warning `json:"warnings"`
	Mapping   map[string]string   `json:"mapping"`
}

// Import normalizes the table with mapping and upserts every usable row. Rows
// that cannot be normalized or merged are reported and the batch continues.
// The only errors are an unusable mapping and a failed autosave.
func (w *Workspace) Import(ctx context.Context, t ingest.Table, mapping normalize.ColumnMapping) (ImportReport, error) {
	start := time.Now()
	defer func() { metrics.ImportDuration.Observe(time.Since(start).Seconds()) }()

	w.mu.Lock()
	defer w.mu.Unlock()

	res, err := w.norm.Normalize(t.Rows, mapping)
	if err != nil {
		return ImportReport{}, err
	}
	rep := ImportReport{
		Rows:     len(t.Rows),
		Skipped:  res.Skipped,
		Warnings: res.Warnings,
		Mapping:  mapping.Strings(),
	}

	var all []domain.ChangeEvent
	for i, l := range res.Leads {
		before := w.leads.Len()
		_, evs, err := w.leads.Upsert(l)
		switch {
		case err != nil:
			rep.Skipped = append(rep.Skipped, domain.SkippedRow{Row: res.Rows[i], Reason: err.Error()})
		case w.leads.Len() > before:
			rep.Created++
		case len(evs) > 0:
			rep.Updated++
		default:
			rep.Unchanged++
		}
		all = append(all, evs...)
	}
	slices.SortFunc(rep.Skipped, func(a, b domain.SkippedRow) int { return a.Row - b.Row })
	rep.Events = len(all)

	metrics.ImportRowsTotal.WithLabelValues("created").Add(float64(rep.Created))
	metrics.ImportRowsTotal.WithLabelValues("updated").Add(float64(rep.Updated))
	metrics.ImportRowsTotal.WithLabelValues("unchanged").Add(float64(rep.Unchanged))
	metrics.ImportRowsTotal.WithLabelValues("skipped").Add(float64(len(rep.Skipped)))
	if len(all) > 0 {
		w.changed(all)
	}

	if err := w.recordImport(t.Columns, mapping); err != nil {
		return rep, err
	}
	w.log.Info("import finished", zap.Int("rows", rep.Rows), zap.Int("created", rep.Created),
		zap.Int("updated", rep.Updated), zap.Int("skipped", len(rep.Skipped)))
	w.hub.Publish(events.MakeEvent("", events.ImportCompleted, rep))

	if w.autosave {
		if _, err := w.saveLocked(ctx); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (w *Workspace) recordImport(columns []string, mapping normalize.ColumnMapping) error {
	if err := w.state.Set(domain.StateLastImportAt, w.now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := w.state.Set(domain.StateColumnMapping, mapping.Strings()); err != nil {
		return err
	}
	if err := w.state.Set(domain.StateOriginalColumns, columns); err != nil {
		return err
	}
	w.dirty = true
	return nil
}

// ResolveMapping picks the mapping for an import: an explicit mapping, then a
// named preset, then the last mapping used when it still fits the columns,
// then a guess from the column headers.
func (w *Workspace) ResolveMapping(preset string, explicit map[string]string, columns []string) (normalize.ColumnMapping, error) {
	if len(explicit) > 0 {
		return normalize.ParseMapping(explicit)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if preset != "" {
		raw, ok := w.presetsLocked()[preset]
		if !ok {
			return nil, fmt.Errorf("%w: mapping preset %q", domain.ErrNotFound, preset)
		}
		return normalize.ParseMapping(raw)
	}

	var last map[string]string
	if ok, err := w.state.Get(domain.StateColumnMapping, &last); ok && err == nil && fits(last, columns) {
		if m, err := normalize.ParseMapping(last); err == nil {
			return m, nil
		}
	}
	return normalize.SuggestMapping(columns), nil
}

// fits reports whether every source column of m is among columns.
func fits(m map[string]string, columns []string) bool {
	if len(m) == 0 {
		return false
	}
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[strings.ToLower(domain.CleanText(c))] = true
	}
	for _, col := range m {
		if !have[strings.ToLower(domain.CleanText(col))] {
			return false
		}
	}
	return true
}

// Presets lists saved and configured mapping presets by name.
func (w *Workspace) Presets() map[string]map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.presetsLocked()
}

func (w *Workspace) presetsLocked() map[string]map[string]string {
	out := map[string]map[string]string{}
	_, _ = w.state.Get(domain.StateMappingPresets, &out)
	if out == nil {
		out = map[string]map[string]string{}
	}
	maps.Copy(out, w.presets)
	return out
}

// SavePreset stores mapping under name in app state.
func (w *Workspace) SavePreset(ctx context.Context, name string, mapping normalize.ColumnMapping) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &domain.ValidationError{Field: "preset", Reason: "preset name is empty"}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	saved := map[string]map[string]string{}
	_, _ = w.state.Get(domain.StateMappingPresets, &saved)
	if saved == nil {
		saved = map[string]map[string]string{}
	}
	saved[name] = mapping.Strings()
	if err := w.state.Set(domain.StateMappingPresets, saved); err != nil {
		return err
	}
	w.dirty = true
	if w.autosave {
		_, err := w.saveLocked(ctx)
		return err
	}
	return nil
}
