package workspace

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadtrack-engine/internal/backup"
	"leadtrack-engine/internal/changes"
	"leadtrack-engine/internal/domain"
	"leadtrack-engine/internal/events"
	"leadtrack-engine/internal/ingest"
	"leadtrack-engine/internal/leads"
	"leadtrack-engine/internal/normalize"
	"leadtrack-engine/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var equateEmpty = cmpopts.EquateEmpty()

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)}
}

func openTest(t *testing.T, dir string, c *clock, mod ...func(*Options)) *Workspace {
	t.Helper()
	opts := Options{
		DataDir:            dir,
		AutosaveOnMutation: true,
		Now:                c.Now,
	}
	for _, m := range mod {
		m(&opts)
	}
	w, err := Open(context.Background(), opts)
	require.NoError(t, err)
	return w
}

func closeTest(t *testing.T, w *Workspace) {
	t.Helper()
	require.NoError(t, w.Close(context.Background()))
}

var crmMapping = normalize.ColumnMapping{
	domain.FieldEmail:      "Email",
	domain.FieldName:       "Contact",
	domain.FieldCompany:    "Company",
	domain.FieldProducts:   "Products",
	domain.FieldStatus:     "Stage",
	domain.FieldPriority:   "Priority",
	domain.FieldFollowUpAt: "Next Call",
	domain.FieldNotes:      "Notes",
}

func crmTable() ingest.Table {
	return ingest.Table{
		Columns: []string{"Email", "Contact", "Company", "Products", "Stage", "Priority", "Next Call", "Notes", "Region"},
		Rows: []normalize.Row{
			{"Email": "ada@engines.io", "Contact": "Ada", "Company": "Engines", "Products": "CRM; Analytics",
				"Stage": "reached out", "Priority": "hot", "Next Call": "2024-05-10", "Notes": "asked for pricing", "Region": "EMEA"},
			{"Email": "bob@widgets.com", "Contact": "Bob", "Company": "Widgets", "Products": "crm",
				"Stage": "open", "Priority": 2, "Next Call": "", "Notes": "n/a", "Region": "NA"},
			{"Email": "n/a", "Contact": "", "Company": "", "Products": "", "Stage": "", "Priority": "", "Next Call": "", "Notes": "", "Region": "APAC"},
		},
	}
}

func TestImportMergesCaseInsensitiveEmail(t *testing.T) {
	w := openTest(t, t.TempDir(), newClock())
	defer closeTest(t, w)

	tbl := ingest.Table{
		Columns: []string{"E-mail"},
		Rows:    []normalize.Row{{"E-mail": "A@X.com"}, {"E-mail": "a@x.com "}},
	}
	rep, err := w.Import(context.Background(), tbl, normalize.ColumnMapping{domain.FieldEmail: "E-mail"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.Unchanged)

	all := w.Query(leads.Filter{IncludeArchived: true})
	require.Len(t, all, 1)
	assert.Equal(t, "a@x.com", all[0].Email)
}

func TestImportReportsSkippedRows(t *testing.T) {
	w := openTest(t, t.TempDir(), newClock())
	defer closeTest(t, w)

	rep, err := w.Import(context.Background(), crmTable(), crmMapping)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Rows)
	assert.Equal(t, 2, rep.Created)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, 2, rep.Skipped[0].Row)

	var cols []string
	ok, err := w.State().Get(domain.StateOriginalColumns, &cols)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, crmTable().Columns, cols)
	assert.False(t, w.Dirty())
}

func TestImportRejectsUnknownMappingField(t *testing.T) {
	w := openTest(t, t.TempDir(), newClock())
	defer closeTest(t, w)

	_, err := w.Import(context.Background(), crmTable(), normalize.ColumnMapping{"shoe_size": "Size"})
	assert.Error(t, err)
	assert.Empty(t, w.Query(leads.Filter{}))
}

func TestReimportIsIdempotent(t *testing.T) {
	c := newClock()
	w := openTest(t, t.TempDir(), c)
	defer closeTest(t, w)
	ctx := context.Background()

	_, err := w.Import(ctx, crmTable(), crmMapping)
	require.NoError(t, err)
	n := len(w.Since(0))
	before := w.Query(leads.Filter{IncludeArchived: true})

	c.Advance(time.Hour)
	rep, err := w.Import(ctx, crmTable(), crmMapping)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Events)
	assert.Equal(t, 0, rep.Created)
	assert.Equal(t, 2, rep.Unchanged)
	assert.Len(t, w.Since(0), n)
	if diff := cmp.Diff(before, w.Query(leads.Filter{IncludeArchived: true}), equateEmpty); diff != "" {
		t.Fatalf("re-import changed leads (-before +after):\n%s", diff)
	}
}

func TestOverdueFollowUpScenario(t *testing.T) {
	c := newClock()
	w := openTest(t, t.TempDir(), c)
	defer closeTest(t, w)
	ctx := context.Background()

	l, err := w.Create(ctx, domain.Lead{Email: "cy@example.com"})
	require.NoError(t, err)
	_, err = w.UpdateField(ctx, l.ID, domain.FieldStatus, "Contacted")
	require.NoError(t, err)
	due := c.Now().Add(24 * time.Hour)
	_, err = w.ScheduleFollowUp(ctx, l.ID, due)
	require.NoError(t, err)
	assert.Equal(t, 0, w.Analytics().OverdueFollowUps)

	c.Advance(25 * time.Hour)
	assert.Equal(t, 1, w.Analytics().OverdueFollowUps)
	assert.Len(t, w.Agenda(7).Overdue, 1)

	_, err = w.CompleteFollowUp(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, w.Analytics().OverdueFollowUps)

	n := len(w.Since(0))
	_, err = w.CompleteFollowUp(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, w.Since(0), n)
}

func TestUpdateMissingLeadLeavesStoreUnchanged(t *testing.T) {
	w := openTest(t, t.TempDir(), newClock())
	defer closeTest(t, w)
	ctx := context.Background()

	_, err := w.Import(ctx, crmTable(), crmMapping)
	require.NoError(t, err)
	before, err := w.db.Load(ctx)
	require.NoError(t, err)

	_, err = w.UpdateField(ctx, "missing-id", domain.FieldStatus, "Won")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = w.Save(ctx)
	require.NoError(t, err)

	after, err := w.db.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after, equateEmpty, cmpopts.IgnoreFields(store.Snapshot{}, "At")); diff != "" {
		t.Fatalf("durable store changed (-before +after):\n%s", diff)
	}
}

func TestRejectedUpdateIsAtomic(t *testing.T) {
	w := openTest(t, t.TempDir(), newClock())
	defer closeTest(t, w)
	ctx := context.Background()

	l, err := w.Create(ctx, domain.Lead{Email: "dee@example.com"})
	require.NoError(t, err)
	n := len(w.Since(0))

	_, err = w.UpdateField(ctx, l.ID, domain.FieldStatus, "Maybe")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ErrorIs(t, err, domain.ErrInvalidValue)
	assert.Equal(t, domain.FieldStatus, ve.Field)

	got, err := w.Get(l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, got.Status)
	assert.Len(t, w.Since(0), n)
}

func TestReopenRoundTripsAndReplays(t *testing.T) {
	dir := t.TempDir()
	c := newClock()
	ctx := context.Background()

	w := openTest(t, dir, c)
	_, err := w.Import(ctx, crmTable(), crmMapping)
	require.NoError(t, err)
	all := w.Query(leads.Filter{})
	require.Len(t, all, 2)
	c.Advance(time.Minute)
	_, err = w.AddNote(ctx, all[0].ID, "sent proposal", time.Time{})
	require.NoError(t, err)
	_, err = w.UpdateField(ctx, all[1].ID, domain.FieldPriority, "High")
	require.NoError(t, err)
	c.Advance(time.Minute)
	_, err = w.Archive(ctx, all[1].ID)
	require.NoError(t, err)
	want := w.Query(leads.Filter{IncludeArchived: true})
	wantEvents := w.Since(0)
	closeTest(t, w)

	w = openTest(t, dir, c)
	defer closeTest(t, w)
	assert.Empty(t, w.Corrupt())
	got := w.Query(leads.Filter{IncludeArchived: true})
	if diff := cmp.Diff(want, got, equateEmpty); diff != "" {
		t.Fatalf("leads changed across reopen (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantEvents, w.Since(0), equateEmpty); diff != "" {
		t.Fatalf("events changed across reopen (-want +got):\n%s", diff)
	}

	for _, l := range got {
		h, err := w.History(l.ID)
		require.NoError(t, err)
		replayed, err := changes.Replay(h)
		require.NoError(t, err)
		if diff := cmp.Diff(l, replayed[l.ID], equateEmpty); diff != "" {
			t.Errorf("replay of %s differs (-store +replay):\n%s", l.ID, diff)
		}
	}
}

func TestOpenReportsCorruptRecords(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	w := openTest(t, dir, newClock())
	_, err := w.Import(ctx, crmTable(), crmMapping)
	require.NoError(t, err)
	all := w.Query(leads.Filter{})
	closeTest(t, w)

	db, err := store.Open(filepath.Join(dir, DBFile), store.OpenOptions{})
	require.NoError(t, err)
	_, err = db.Pool.Exec(`UPDATE leads SET created_at = 'yesterday' WHERE id = ?;`, all[0].ID)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	w = openTest(t, dir, newClock())
	defer closeTest(t, w)
	bad := w.Corrupt()
	require.Len(t, bad, 1)
	assert.Equal(t, all[0].ID, bad[0].Key)
	got := w.Query(leads.Filter{})
	require.Len(t, got, 1)
	assert.Equal(t, all[1].ID, got[0].ID)
}

func TestCloseSavesPendingChanges(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	manual := func(o *Options) { o.AutosaveOnMutation = false }

	w := openTest(t, dir, newClock(), manual)
	l, err := w.Create(ctx, domain.Lead{Name: "Eve", Company: "Acme"})
	require.NoError(t, err)
	assert.True(t, w.Dirty())
	require.NoError(t, w.SaveIfDirty(ctx))
	assert.False(t, w.Dirty())
	_, err = w.AddNote(ctx, l.ID, "call back", time.Time{})
	require.NoError(t, err)
	closeTest(t, w)

	w = openTest(t, dir, newClock(), manual)
	defer closeTest(t, w)
	got, err := w.Get(l.ID)
	require.NoError(t, err)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, "call back", got.Notes[0].Text)

	st, err := w.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Leads)
}

func TestHistoryOfUnknownLead(t *testing.T) {
	w := openTest(t, t.TempDir(), newClock())
	defer closeTest(t, w)
	_, err := w.History("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveMapping(t *testing.T) {
	w := openTest(t, t.TempDir(), newClock(), func(o *Options) {
		o.Presets = map[string]map[string]string{"crm": {"email": "Mail"}}
	})
	defer closeTest(t, w)
	ctx := context.Background()
	cols := []string{"Email", "Full Name"}

	m, err := w.ResolveMapping("", map[string]string{"email": "Email"}, cols)
	require.NoError(t, err)
	assert.Equal(t, normalize.ColumnMapping{domain.FieldEmail: "Email"}, m)

	_, err = w.ResolveMapping("", map[string]string{"budget": "Budget"}, cols)
	assert.Error(t, err)

	_, err = w.ResolveMapping("missing", nil, cols)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m, err = w.ResolveMapping("crm", nil, cols)
	require.NoError(t, err)
	assert.Equal(t, "Mail", m[domain.FieldEmail])

	require.NoError(t, w.SavePreset(ctx, "web", normalize.ColumnMapping{domain.FieldName: "Full Name"}))
	m, err = w.ResolveMapping("web", nil, cols)
	require.NoError(t, err)
	assert.Equal(t, "Full Name", m[domain.FieldName])
	assert.Len(t, w.Presets(), 2)

	m, err = w.ResolveMapping("", nil, cols)
	require.NoError(t, err)
	assert.Equal(t, "Email", m[domain.FieldEmail])
	assert.Equal(t, "Full Name", m[domain.FieldName])

	_, err = w.Import(ctx, ingest.Table{Columns: cols, Rows: []normalize.Row{{"Email": "x@y.io"}}},
		normalize.ColumnMapping{domain.FieldEmail: "Email"})
	require.NoError(t, err)
	m, err = w.ResolveMapping("", nil, []string{"email", "Other"})
	require.NoError(t, err)
	assert.Equal(t, normalize.ColumnMapping{domain.FieldEmail: "Email"}, m)
}

func TestBackupAndEvents(t *testing.T) {
	dir := t.TempDir()
	hub := events.NewHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)
	ctx := context.Background()

	w := openTest(t, dir, newClock(), func(o *Options) {
		o.Hub = hub
		o.Backups = backup.NewManager(backup.Options{Dir: filepath.Join(dir, "backups"), Keep: 2})
	})
	defer closeTest(t, w)

	_, err := w.Create(ctx, domain.Lead{Email: "fay@example.com"})
	require.NoError(t, err)
	assert.True(t, strings.Contains(<-sub, `"type":"lead_created"`))
	assert.True(t, strings.Contains(<-sub, `"type":"saved"`))

	res, err := w.Backup(ctx)
	require.NoError(t, err)
	assert.FileExists(t, res.Path)
	assert.True(t, strings.Contains(<-sub, `"type":"backup_completed"`))
}

func TestBackupWithoutManager(t *testing.T) {
	w := openTest(t, t.TempDir(), newClock())
	defer closeTest(t, w)
	_, err := w.Backup(context.Background())
	assert.Error(t, err)
}

func TestEventsAfterCorruptUpdateRowArePersisted(t *testing.T) {
	dir := t.TempDir()
	c := newClock()
	ctx := context.Background()

	w := openTest(t, dir, c)
	l, err := w.Create(ctx, domain.Lead{Email: "hal@example.com", Name: "Hal"})
	require.NoError(t, err)
	last := w.Since(0)[len(w.Since(0))-1].Seq
	_, err = w.db.Pool.Exec(`INSERT INTO lead_updates (id, lead_id, field_name, old_value, new_value, updated_at)
VALUES (?, ?, 'bogus', NULL, 'x', '2024-05-06T10:00:00Z');`, last+1, l.ID)
	require.NoError(t, err)
	closeTest(t, w)

	w = openTest(t, dir, c)
	require.Len(t, w.Corrupt(), 1)
	c.Advance(time.Minute)
	_, err = w.UpdateField(ctx, l.ID, domain.FieldStatus, "Won")
	require.NoError(t, err)
	h, err := w.History(l.ID)
	require.NoError(t, err)
	assert.Greater(t, h[len(h)-1].Seq, last+1)
	want, err := w.Get(l.ID)
	require.NoError(t, err)
	closeTest(t, w)

	w = openTest(t, dir, c)
	defer closeTest(t, w)
	durable, err := w.History(l.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(h, durable, equateEmpty); diff != "" {
		t.Fatalf("durable history differs from recorded (-recorded +durable):\n%s", diff)
	}
	replayed, err := changes.Replay(durable)
	require.NoError(t, err)
	if diff := cmp.Diff(want, replayed[l.ID], equateEmpty); diff != "" {
		t.Fatalf("replay differs (-store +replay):\n%s", diff)
	}
}

func TestMutationReportsFailedAutosave(t *testing.T) {
	w := openTest(t, t.TempDir(), newClock())
	defer closeTest(t, w)
	ctx := context.Background()

	_, err := w.db.Pool.Exec(`CREATE TRIGGER reject_lead_insert BEFORE INSERT ON leads
BEGIN SELECT RAISE(ABORT, 'disk full'); END;`)
	require.NoError(t, err)

	l, err := w.Create(ctx, domain.Lead{Email: "ivy@example.com"})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, "ivy@example.com", l.Email)
	assert.True(t, w.Dirty())

	_, err = w.db.Pool.Exec(`DROP TRIGGER reject_lead_insert;`)
	require.NoError(t, err)
	require.NoError(t, w.SaveIfDirty(ctx))
	assert.False(t, w.Dirty())
}

// gateUploader blocks every upload until release is closed.
type gateUploader struct {
	entered chan struct{}
	release chan struct{}
}

func (u *gateUploader) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	close(u.entered)
	select {
	case <-u.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	return "mem://" + name, nil
}

func TestBackupUploadDoesNotBlockMutations(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	up := &gateUploader{entered: make(chan struct{}), release: make(chan struct{})}
	w := openTest(t, dir, newClock(), func(o *Options) {
		o.Backups = backup.NewManager(backup.Options{Dir: filepath.Join(dir, "backups"), Uploader: up})
	})
	defer closeTest(t, w)

	l, err := w.Create(ctx, domain.Lead{Email: "jo@example.com"})
	require.NoError(t, err)

	type outcome struct {
		res backup.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := w.Backup(ctx)
		done <- outcome{res, err}
	}()
	<-up.entered

	updated := make(chan error, 1)
	go func() {
		_, err := w.UpdateField(ctx, l.ID, domain.FieldStatus, "Contacted")
		updated <- err
	}()
	select {
	case err := <-updated:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(up.release)
		t.Fatal("update waited for the off-site upload")
	}
	assert.False(t, w.Dirty())

	close(up.release)
	got := <-done
	require.NoError(t, got.err)
	assert.FileExists(t, got.res.Path)
	assert.Equal(t, "mem://"+filepath.Base(got.res.Path), got.res.Remote)
}
