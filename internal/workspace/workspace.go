// Package workspace owns the live lead store, its change tracker, app state
// and the database behind them. Every access goes through one mutex, so the
// CLI and the HTTP API can share a Workspace.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"leadtrack-engine/internal/backup"
	"leadtrack-engine/internal/changes"
	"leadtrack-engine/internal/domain"
	"leadtrack-engine/internal/events"
	"leadtrack-engine/internal/leads"
	"leadtrack-engine/internal/metrics"
	"leadtrack-engine/internal/normalize"
	"leadtrack-engine/internal/store"
)

// DBFile is the database file name inside the data directory.
const DBFile = "leads.db"

type Options struct {
	// DBPath defaults to DataDir/leads.db.
	DataDir string
	DBPath  string

	NaturalKey        leads.NaturalKey
	ProductVocabulary map[string]string
	// Presets are named column mappings from config. Presets saved at
	// runtime live in app state and are overridden by these on name clash.
	Presets map[string]map[string]string

	// AutosaveOnMutation saves after every successful mutation.
	AutosaveOnMutation bool

	Backups *backup.Manager
	Hub     *events.Hub
	Logger  *zap.Logger
	Now     func() time.Time
	NewID   func() string
}

type Workspace struct {
	mu sync.Mutex

	db      *store.DB
	leads   *leads.Store
	tracker *changes.Tracker
	state   domain.AppState
	norm    *normalize.Normalizer

	presets  map[string]map[string]string
	autosave bool
	dirty    bool
	corrupt  []domain.CorruptRecord
	// persisted is the highest event seq known to be on disk.
	persisted int64

	backups *backup.Manager
	hub     *events.Hub
	log     *zap.Logger
	now     func() time.Time
}

// Open opens the database and loads it. Corrupt records are left out and
// reported by Corrupt; they do not fail Open.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	path := opts.DBPath
	if path == "" {
		path = filepath.Join(opts.DataDir, DBFile)
	}

	db, err := store.Open(path, store.OpenOptions{})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	w, err := load(ctx, db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func load(ctx context.Context, db *store.DB, opts Options) (*Workspace, error) {
	log := opts.Logger.Named("workspace")

	snap, err := db.Load(ctx)
	var cse *domain.CorruptStoreError
	switch {
	case errors.As(err, &cse):
		for _, r := range cse.Records {
			metrics.CorruptRecords.WithLabelValues(r.Table).Inc()
			log.Warn("corrupt record skipped", zap.String("table", r.Table),
				zap.String("key", r.Key), zap.String("reason", r.Reason))
		}
	case err != nil:
		return nil, err
	}

	tracker, err := changes.Restore(snap.Events, snap.Persisted)
	if err != nil {
		return nil, err
	}
	ls, err := leads.Restore(tracker, leads.Options{
		NaturalKey: opts.NaturalKey,
		Now:        opts.Now,
		NewID:      opts.NewID,
	}, snap.Leads)
	if err != nil {
		return nil, err
	}

	w := &Workspace{
		db:        db,
		leads:     ls,
		tracker:   tracker,
		state:     snap.State,
		presets:   opts.Presets,
		autosave:  opts.AutosaveOnMutation,
		persisted: snap.Persisted,
		backups:   opts.Backups,
		hub:       opts.Hub,
		log:       log,
		now:       opts.Now,
		norm: normalize.New(normalize.Options{
			ProductVocabulary: opts.ProductVocabulary,
			Now:               opts.Now,
			Logger:            opts.Logger.Named("import"),
		}),
	}
	if cse != nil {
		w.corrupt = cse.Records
	}
	metrics.LeadsTotal.Set(float64(ls.Len()))
	log.Info("workspace loaded", zap.String("path", db.Path), zap.Int("leads", ls.Len()),
		zap.Int("events", tracker.Len()), zap.Int("corrupt", len(w.corrupt)))
	return w, nil
}

// Close saves pending changes and releases the database.
func (w *Workspace) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if w.dirty {
		_, err = w.saveLocked(ctx)
	}
	return errors.Join(err, w.db.Close())
}

// Corrupt lists the records skipped when the workspace was loaded.
func (w *Workspace) Corrupt() []domain.CorruptRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.CorruptRecord(nil), w.corrupt...)
}

func (w *Workspace) Path() string { return w.db.Path }

// Dirty reports whether there are changes not yet saved.
func (w *Workspace) Dirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

func (w *Workspace) State() domain.AppState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Clone()
}

// Save writes the full working set in one transaction.
func (w *Workspace) Save(ctx context.Context) (store.Saved, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saveLocked(ctx)
}

// SaveIfDirty is the periodic autosave task.
func (w *Workspace) SaveIfDirty(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirty {
		return nil
	}
	_, err := w.saveLocked(ctx)
	return err
}

func (w *Workspace) saveLocked(ctx context.Context) (store.Saved, error) {
	start := time.Now()
	saved, err := w.db.Save(ctx, store.Snapshot{
		Leads:     w.leads.All(),
		Events:    w.tracker.Since(w.persisted),
		State:     w.state,
		Persisted: w.persisted,
		At:        w.now(),
	})
	metrics.SaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SaveErrors.Inc()
		w.log.Error("save failed", zap.Error(err))
		return saved, err
	}
	w.dirty = false
	w.persisted = w.tracker.LastSeq()
	w.log.Debug("saved", zap.Int("leads", saved.Leads), zap.Int("events", saved.Events))
	w.hub.Publish(events.MakeEvent("", events.Saved, saved))
	return saved, nil
}

// Backup saves pending changes and copies the database under the lock. The
// off-site upload and pruning run after the lock is released.
func (w *Workspace) Backup(ctx context.Context) (backup.Result, error) {
	res, err := w.copyBackup(ctx)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues("failed").Inc()
		return res, err
	}
	res, err = w.backups.Finish(ctx, res)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues("partial").Inc()
	} else {
		metrics.BackupsTotal.WithLabelValues("ok").Inc()
	}
	w.hub.Publish(events.MakeEvent("", events.BackupCompleted, res))
	return res, err
}

func (w *Workspace) copyBackup(ctx context.Context) (backup.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.backups == nil {
		return backup.Result{}, errors.New("backups are not configured")
	}
	if w.dirty {
		if _, err := w.saveLocked(ctx); err != nil {
			return backup.Result{}, err
		}
	}
	return w.backups.Copy(ctx, w.db)
}

// RunBackup is the periodic backup task.
func (w *Workspace) RunBackup(ctx context.Context) error {
	_, err := w.Backup(ctx)
	return err
}

func (w *Workspace) Stats(ctx context.Context) (store.Stats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Stats(ctx)
}
