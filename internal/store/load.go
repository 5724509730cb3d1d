package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	"leadtrack-engine/internal/domain"
)

// Load reads the whole store. Records that fail validation are left out and
// reported through a *domain.CorruptStoreError alongside the returned
// snapshot, which still holds every valid record. Events that refer to a
// corrupt or missing lead are kept, as the log is append-only.
func (d *DB) Load(ctx context.Context) (Snapshot, error) {
	return load(ctx, d.Pool)
}

func load(ctx context.Context, db *sql.DB) (Snapshot, error) {
	snap := Snapshot{State: domain.AppState{}}
	var bad []domain.CorruptRecord
	fail := func(table string, err error) (Snapshot, error) {
		return Snapshot{}, &domain.PersistenceError{Op: "load", Table: table, Err: err}
	}

	rows, err := db.QueryContext(ctx, `SELECT rowid, `+leadColumns+` FROM leads ORDER BY created_at, rowid;`)
	if err != nil {
		return fail("leads", err)
	}
	for rows.Next() {
		var r leadRow
		if err := rows.Scan(r.dest()...); err != nil {
			_ = rows.Close()
			return fail("leads", err)
		}
		l, err := r.lead()
		if err != nil {
			bad = append(bad, domain.CorruptRecord{Table: "leads", Key: r.key(), Reason: err.Error()})
			continue
		}
		snap.Leads = append(snap.Leads, l)
	}
	if err := closeRows(rows); err != nil {
		return fail("leads", err)
	}

	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM lead_updates;`).Scan(&snap.Persisted); err != nil {
		return fail("lead_updates", err)
	}
	rows, err = db.QueryContext(ctx, `
SELECT id, lead_id, field_name, old_value, new_value, updated_at
FROM lead_updates ORDER BY id;`)
	if err != nil {
		return fail("lead_updates", err)
	}
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(r.dest()...); err != nil {
			_ = rows.Close()
			return fail("lead_updates", err)
		}
		ev, err := r.event()
		if err != nil {
			bad = append(bad, domain.CorruptRecord{Table: "lead_updates", Key: strconv.FormatInt(r.seq, 10), Reason: err.Error()})
			continue
		}
		snap.Events = append(snap.Events, ev)
	}
	if err := closeRows(rows); err != nil {
		return fail("lead_updates", err)
	}

	rows, err = db.QueryContext(ctx, `SELECT state_key, state_value FROM app_state ORDER BY state_key;`)
	if err != nil {
		return fail("app_state", err)
	}
	for rows.Next() {
		var (
			k string
			v sql.NullString
		)
		if err := rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			return fail("app_state", err)
		}
		snap.State[k] = stateValue(v)
	}
	if err := closeRows(rows); err != nil {
		return fail("app_state", err)
	}

	if len(bad) > 0 {
		return snap, &domain.CorruptStoreError{Records: bad}
	}
	return snap, nil
}

// stateValue keeps valid JSON as-is; anything else is kept as a JSON string.
func stateValue(v sql.NullString) json.RawMessage {
	if !v.Valid {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(v.String)) {
		return json.RawMessage(v.String)
	}
	b, _ := json.Marshal(v.String)
	return b
}

func closeRows(rows *sql.Rows) error {
	return errors.Join(rows.Err(), rows.Close())
}
