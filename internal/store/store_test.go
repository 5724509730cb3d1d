package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadtrack-engine/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.UTC)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "leads.db"), OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func str(s string) *string { return &s }

func fixture() Snapshot {
	follow := t0.Add(48 * time.Hour)
	contact := t0.Add(time.Hour)
	return Snapshot{
		Leads: []domain.Lead{
			{
				ID:            "lead-1",
				Email:         "ada@example.com",
				AltEmails:     []string{"ada@work.example.com"},
				Name:          "Ada Lovelace",
				Company:       "Engines Ltd",
				Phone:         "+44 20 7946 0000",
				Products:      []string{"Analytics", "CRM"},
				Status:        domain.StatusContacted,
				Priority:      domain.PriorityHigh,
				FollowUpAt:    &follow,
				LastContactAt: &contact,
				Notes:         []domain.Note{{At: t0, Text: "met at expo"}},
				RawExtra:      map[string]string{"Region": "EMEA"},
				CreatedAt:     t0,
				UpdatedAt:     t0.Add(time.Hour),
			},
			{
				ID:        "lead-2",
				Name:      "No Email Co",
				Status:    domain.StatusNew,
				Priority:  domain.PriorityMedium,
				CreatedAt: t0.Add(time.Minute),
				UpdatedAt: t0.Add(time.Minute),
			},
		},
		Events: []domain.ChangeEvent{
			{Seq: 1, LeadID: "lead-1", Field: domain.FieldEmail, NewValue: str("ada@example.com"), At: t0},
			{Seq: 2, LeadID: "lead-1", Field: domain.FieldStatus, OldValue: str("New"), NewValue: str("Contacted"), At: t0.Add(time.Hour)},
			{Seq: 3, LeadID: "lead-2", Field: domain.FieldName, NewValue: str("No Email Co"), At: t0.Add(time.Minute)},
		},
		State: domain.AppState{
			domain.StateColumnMapping: json.RawMessage(`{"email":"E-mail"}`),
			domain.StateLastImportAt:  json.RawMessage(`"2024-03-01T09:30:00Z"`),
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	want := fixture()

	saved, err := d.Save(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, Saved{Leads: 2, Events: 3, State: 2}, saved)

	got, err := d.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want.Leads, got.Leads); diff != "" {
		t.Fatalf("leads mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Events, got.Events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	assert.JSONEq(t, `{"email":"E-mail"}`, string(got.State[domain.StateColumnMapping]))
	assert.Len(t, got.State, 2)
}

func TestSaveStoresMissingEmailAsNull(t *testing.T) {
	d := openTest(t)
	_, err := d.Save(context.Background(), fixture())
	require.NoError(t, err)

	var email sql.NullString
	require.NoError(t, d.Pool.QueryRow(`SELECT email FROM leads WHERE id = 'lead-2';`).Scan(&email))
	assert.False(t, email.Valid)
}

func TestSaveAppendsOnlyNewEvents(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	snap := fixture()

	_, err := d.Save(ctx, snap)
	require.NoError(t, err)

	snap.Persisted = 3
	snap.Events = append(snap.Events, domain.ChangeEvent{
		Seq: 4, LeadID: "lead-2", Field: domain.FieldPriority,
		OldValue: str("Medium"), NewValue: str("High"), At: t0.Add(2 * time.Hour),
	})
	saved, err := d.Save(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Events)

	st, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Leads)
	assert.Equal(t, 4, st.Updates)
	assert.Equal(t, d.Path, st.Path)
	assert.Greater(t, st.SizeMB, 0.0)
}

func TestSaveReplacesAppState(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	snap := fixture()
	_, err := d.Save(ctx, snap)
	require.NoError(t, err)

	snap.State = domain.AppState{domain.StateOriginalColumns: json.RawMessage(`["E-mail","Name"]`)}
	_, err = d.Save(ctx, snap)
	require.NoError(t, err)

	got, err := d.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.State, 1)
	assert.JSONEq(t, `["E-mail","Name"]`, string(got.State[domain.StateOriginalColumns]))
}

func TestLoadIsolatesCorruptLead(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	_, err := d.Save(ctx, fixture())
	require.NoError(t, err)

	_, err = d.Pool.Exec(`UPDATE leads SET status = 'Maybe' WHERE id = 'lead-1';`)
	require.NoError(t, err)

	got, err := d.Load(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCorruptStore)

	var cse *domain.CorruptStoreError
	require.ErrorAs(t, err, &cse)
	require.Len(t, cse.Records, 1)
	assert.Equal(t, "leads", cse.Records[0].Table)
	assert.Equal(t, "lead-1", cse.Records[0].Key)
	assert.Contains(t, cse.Records[0].Reason, "status")

	require.Len(t, got.Leads, 1)
	assert.Equal(t, "lead-2", got.Leads[0].ID)
	assert.Len(t, got.Events, 3)
}

func TestLoadIsolatesCorruptEventAndNotes(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	_, err := d.Save(ctx, fixture())
	require.NoError(t, err)

	_, err = d.Pool.Exec(`UPDATE leads SET notes = '{not json' WHERE id = 'lead-2';`)
	require.NoError(t, err)
	_, err = d.Pool.Exec(`INSERT INTO lead_updates (id, lead_id, field_name, old_value, new_value, updated_at)
VALUES (10, 'lead-1', 'shoe_size', NULL, '42', '2024-03-01T00:00:00Z');`)
	require.NoError(t, err)

	got, err := d.Load(ctx)
	var cse *domain.CorruptStoreError
	require.ErrorAs(t, err, &cse)
	require.Len(t, cse.Records, 2)
	assert.Equal(t, "leads", cse.Records[0].Table)
	assert.Equal(t, "lead-2", cse.Records[0].Key)
	assert.Equal(t, "lead_updates", cse.Records[1].Table)
	assert.Equal(t, "10", cse.Records[1].Key)

	assert.Len(t, got.Leads, 1)
	assert.Len(t, got.Events, 3)
	assert.Equal(t, int64(10), got.Persisted)
}

func TestSaveRejectsTakenSeq(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	_, err := d.Save(ctx, fixture())
	require.NoError(t, err)
	_, err = d.Pool.Exec(`INSERT INTO lead_updates (id, lead_id, field_name, old_value, new_value, updated_at)
VALUES (4, 'lead-1', 'shoe_size', NULL, '42', '2024-03-01T00:00:00Z');`)
	require.NoError(t, err)

	snap := fixture()
	snap.Persisted = 3
	snap.Events = append(snap.Events, domain.ChangeEvent{
		Seq: 4, LeadID: "lead-2", Field: domain.FieldPriority, NewValue: str("High"), At: t0,
	})
	_, err = d.Save(ctx, snap)
	assert.ErrorIs(t, err, ErrSeqTaken)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	var n int
	require.NoError(t, d.Pool.QueryRow(`SELECT COUNT(*) FROM lead_updates;`).Scan(&n))
	assert.Equal(t, 4, n)
}

func TestLoadWrapsNonJSONState(t *testing.T) {
	d := openTest(t)
	_, err := d.Pool.Exec(`INSERT INTO app_state (state_key, state_value, updated_at) VALUES ('legacy', 'plain text', '2024-01-01T00:00:00Z');`)
	require.NoError(t, err)

	got, err := d.Load(context.Background())
	require.NoError(t, err)
	var v string
	ok, err := got.State.Get("legacy", &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "plain text", v)
}

func TestLeadUpdatesAreAppendOnly(t *testing.T) {
	d := openTest(t)
	_, err := d.Save(context.Background(), fixture())
	require.NoError(t, err)

	_, err = d.Pool.Exec(`DELETE FROM lead_updates WHERE id = 1;`)
	assert.ErrorContains(t, err, "append-only")
	_, err = d.Pool.Exec(`UPDATE lead_updates SET new_value = 'x' WHERE id = 1;`)
	assert.ErrorContains(t, err, "append-only")
}

func TestSaveRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	snap := fixture()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectExec("INSERT INTO leads").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO leads").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = save(context.Background(), db, snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "save", pe.Op)
	assert.Equal(t, "leads", pe.Table)
	assert.Equal(t, "lead-2", pe.Key)
	assert.ErrorContains(t, err, "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFailureLeavesStoreUnchanged(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	snap := fixture()
	_, err := d.Save(ctx, snap)
	require.NoError(t, err)

	// A second event with a taken seq forces a constraint failure after the
	// leads were already upserted inside the transaction.
	bad := fixture()
	bad.Persisted = 3
	bad.Leads[0].Name = "Changed"
	bad.Events = append(bad.Events,
		domain.ChangeEvent{Seq: 4, LeadID: "lead-1", Field: domain.FieldName, NewValue: str("Changed"), At: t0},
		domain.ChangeEvent{Seq: 4, LeadID: "lead-1", Field: domain.FieldName, NewValue: str("Changed"), At: t0},
	)
	_, err = d.Save(ctx, bad)
	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "lead_updates", pe.Table)
	assert.Equal(t, "4", pe.Key)

	got, err := d.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(snap.Leads, got.Leads); diff != "" {
		t.Fatalf("store changed after failed save (-want +got):\n%s", diff)
	}
	assert.Len(t, got.Events, 3)
}

func TestOpenRejectsSecondWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.db")
	d, err := Open(path, OpenOptions{})
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	_, err = Open(path, OpenOptions{})
	assert.ErrorIs(t, err, ErrLocked)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.db")
	d, err := Open(path, OpenOptions{})
	require.NoError(t, err)
	_, err = d.Pool.Exec(`UPDATE ` + migrationsTable + ` SET version = 99;`)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = Open(path, OpenOptions{})
	assert.ErrorIs(t, err, ErrSchemaVersion)

	_, err = Open(path, OpenOptions{ReadOnly: true})
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestBackupWritesLoadableCopy(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()
	snap := fixture()
	_, err := d.Save(ctx, snap)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "backups", "leads_backup_20240301_093000.db")

	got, err := d.Backup(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, got)
	assert.NoFileExists(t, dest+".tmp")

	_, err = d.Backup(ctx, dest)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	cp, err := Open(dest, OpenOptions{})
	require.NoError(t, err)
	defer func() { _ = cp.Close() }()
	loaded, err := cp.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(snap.Leads, loaded.Leads); diff != "" {
		t.Fatalf("backup leads mismatch (-want +got):\n%s", diff)
	}
}
