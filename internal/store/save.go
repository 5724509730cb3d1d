package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"leadtrack-engine/internal/domain"
)

// Snapshot is the full persisted state: every lead, the change log and app state.
type Snapshot struct {
	Leads  []domain.Lead
	Events []domain.ChangeEvent
	State  domain.AppState
	// Persisted is the highest event seq the caller knows is stored. Load
	// sets it from every lead_updates row, corrupt ones included.
	Persisted int64
	// At stamps app_state rows. Zero means now.
	At time.Time
}

// ErrSeqTaken means an unsaved event reuses a seq that is already stored.
var ErrSeqTaken = errors.New("event seq already stored")

// Saved counts what a Save wrote.
type Saved struct {
	Leads  int `json:"leads"`
	Events int `json:"events"`
	State  int `json:"state"`
}

const upsertLeadSQL = `
INSERT INTO leads (` + leadColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  email = excluded.email,
  alt_emails = excluded.alt_emails,
  name = excluded.name,
  company = excluded.company,
  phone = excluded.phone,
  products = excluded.products,
  status = excluded.status,
  priority = excluded.priority,
  follow_up_at = excluded.follow_up_at,
  last_contact_at = excluded.last_contact_at,
  notes = excluded.notes,
  raw_extra = excluded.raw_extra,
  created_at = excluded.created_at,
  updated_at = excluded.updated_at;`

const insertEventSQL = `
INSERT INTO lead_updates (id, lead_id, field_name, old_value, new_value, updated_at)
VALUES (?, ?, ?, ?, ?, ?);`

// Save writes snap in one transaction. Leads are upserted, events past
// snap.Persisted are appended, and app_state is replaced. An unsaved event at
// or below the stored high-water mark fails the save with ErrSeqTaken rather
// than being dropped. On any failure nothing is written and a
// *domain.PersistenceError is returned.
func (d *DB) Save(ctx context.Context, snap Snapshot) (Saved, error) {
	return save(ctx, d.Pool, snap)
}

func save(ctx context.Context, db *sql.DB, snap Snapshot) (Saved, error) {
	var out Saved
	fail := func(table, key string, err error) (Saved, error) {
		return Saved{}, &domain.PersistenceError{Op: "save", Table: table, Key: key, Err: err}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fail("", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM lead_updates;`).Scan(&stored); err != nil {
		return fail("lead_updates", "", err)
	}

	for _, l := range snap.Leads {
		args, err := leadArgs(l)
		if err != nil {
			return fail("leads", l.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertLeadSQL, args...); err != nil {
			return fail("leads", l.ID, err)
		}
		out.Leads++
	}

	for _, ev := range snap.Events {
		if ev.Seq <= snap.Persisted {
			continue
		}
		if ev.Seq <= stored {
			return fail("lead_updates", fmt.Sprint(ev.Seq), fmt.Errorf("%w (stored max %d)", ErrSeqTaken, stored))
		}
		_, err := tx.ExecContext(ctx, insertEventSQL,
			ev.Seq, ev.LeadID, string(ev.Field), ptrArg(ev.OldValue), ptrArg(ev.NewValue), formatTime(ev.At))
		if err != nil {
			return fail("lead_updates", fmt.Sprint(ev.Seq), err)
		}
		out.Events++
	}

	at := snap.At
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM app_state;`); err != nil {
		return fail("app_state", "", err)
	}
	keys := make([]string, 0, len(snap.State))
	for k := range snap.State {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO app_state (state_key, state_value, updated_at) VALUES (?, ?, ?);`,
			k, string(snap.State[k]), formatTime(at))
		if err != nil {
			return fail("app_state", k, err)
		}
		out.State++
	}

	if err := tx.Commit(); err != nil {
		return fail("", "", err)
	}
	return out, nil
}

func ptrArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
