package domain

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ignoreStamps = cmpopts.IgnoreFields(Lead{}, "CreatedAt", "UpdatedAt")

func TestParseTimeLayouts(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-05", "03/05/2024", "2024/03/05", "05 Mar 2024", "Mar 5, 2024", " March 5, 2024 "} {
		got, err := ParseTime(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s -> %s", in, got)
	}

	got, err := ParseTime("2024-03-05T10:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 8, got.Hour())

	_, err = ParseTime("next tuesday")
	assert.Error(t, err)
}

func TestSetFieldValidation(t *testing.T) {
	orig := Lead{ID: "a", Email: "a@b.io", Status: StatusNew, Priority: PriorityLow}

	cases := []struct {
		field Field
		value string
	}{
		{FieldStatus, "Pending"},
		{FieldPriority, "urgent"},
		{FieldEmail, "not-an-email"},
		{FieldFollowUpAt, "soon"},
		{FieldNotes, "hello"},
		{FieldRawExtra, "{}"},
	}
	for _, tc := range cases {
		t.Run(string(tc.field), func(t *testing.T) {
			l := orig.Clone()
			err := SetField(&l, tc.field, tc.value)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
			assert.ErrorIs(t, err, ErrInvalidValue)
			assert.Equal(t, orig, l)
		})
	}
}

func TestSetFieldNormalizes(t *testing.T) {
	var l Lead
	require.NoError(t, SetField(&l, FieldStatus, " qualified "))
	require.NoError(t, SetField(&l, FieldPriority, "HIGH"))
	require.NoError(t, SetField(&l, FieldEmail, " Ann@Example.COM"))
	require.NoError(t, SetField(&l, FieldName, "Ann   Lee"))
	require.NoError(t, SetField(&l, FieldProducts, "CRM; Billing | crm"))
	require.NoError(t, SetField(&l, FieldFollowUpAt, "2024-01-02 09:00"))

	assert.Equal(t, StatusQualified, l.Status)
	assert.Equal(t, PriorityHigh, l.Priority)
	assert.Equal(t, "ann@example.com", l.Email)
	assert.Equal(t, "Ann Lee", l.Name)
	assert.Equal(t, []string{"CRM", "Billing"}, l.Products)
	require.NotNil(t, l.FollowUpAt)

	require.NoError(t, SetField(&l, FieldFollowUpAt, ""))
	assert.Nil(t, l.FollowUpAt)
}

func TestSplitAndUnion(t *testing.T) {
	assert.Nil(t, SplitMulti(" ; ,, "))
	assert.Equal(t, []string{"a", "B", "c d"}, SplitMulti("a\nB;A|c   d"))
	assert.Equal(t, []string{"x", "Y", "Z"}, UnionStrings([]string{"x", "Y"}, []string{"y", "Z", "z"}))

	base := map[string]string{"Region": "West"}
	out := MergeExtra(base, map[string]string{"Region": "", "Source": "Expo"})
	assert.Equal(t, map[string]string{"Region": "West", "Source": "Expo"}, out)
	assert.Len(t, base, 1)
}

func TestDiffOrderAndNotes(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	before := Lead{ID: "x", Name: "Ann", Notes: []Note{{At: at, Text: "first"}}}
	after := before.Clone()
	after.Status = StatusContacted
	after.Email = "ann@x.io"
	after.Notes = append(after.Notes, Note{At: at, Text: "second"})

	evs := Diff(before, after, at.Add(time.Hour))
	var fields []Field
	for _, ev := range evs {
		fields = append(fields, ev.Field)
		assert.Equal(t, "x", ev.LeadID)
		assert.Equal(t, at.Add(time.Hour), ev.At)
	}
	assert.Equal(t, []Field{FieldEmail, FieldStatus, FieldNotes}, fields)
	assert.Nil(t, evs[0].OldValue)
	assert.Equal(t, "ann@x.io", *evs[0].NewValue)
	assert.Contains(t, *evs[2].NewValue, "second")

	assert.Empty(t, Diff(after, after.Clone(), at))
}

func TestApplyEventRejectsBadInput(t *testing.T) {
	var l Lead
	bad := "{"
	assert.Error(t, ApplyEvent(&l, ChangeEvent{Seq: 1, Field: FieldProducts, NewValue: &bad}))
	assert.Error(t, ApplyEvent(&l, ChangeEvent{Seq: 2, Field: "colour"}))
	assert.Error(t, ApplyEvent(&l, ChangeEvent{Seq: 3, Field: FieldNotes}))
	stamp := "yesterday"
	assert.Error(t, ApplyEvent(&l, ChangeEvent{Seq: 4, Field: FieldFollowUpAt, NewValue: &stamp}))
}

func genStatus() gopter.Gen {
	vals := make([]interface{}, len(Statuses))
	for i, s := range Statuses {
		vals[i] = s
	}
	return gen.OneConstOf(vals...)
}

func genTime() gopter.Gen {
	return gen.Int64Range(0, 4_000_000_000).Map(func(s int64) *time.Time {
		if s%5 == 0 {
			return nil
		}
		return TimePtr(time.Unix(s, 0))
	})
}

// Replaying the events that build a lead from nothing reproduces the lead,
// and replaying a diff onto its starting point reproduces the target.
func TestReplayLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	build := func(id, email, name string, products []string, st Status, follow *time.Time, notes []string) Lead {
		l := Lead{ID: id, Email: email, Name: name, Products: products, Status: st, FollowUpAt: follow}
		for i, n := range notes {
			l.Notes = append(l.Notes, Note{At: time.Unix(int64(i)*60, 0).UTC(), Text: n})
		}
		if len(products) > 0 {
			l.RawExtra = map[string]string{"first": products[0]}
		}
		return l
	}
	replay := func(start Lead, evs []ChangeEvent) (Lead, error) {
		out := start.Clone()
		for _, ev := range evs {
			if err := ApplyEvent(&out, ev); err != nil {
				return out, err
			}
		}
		return out, nil
	}

	properties.Property("replay from zero rebuilds the lead", prop.ForAll(
		func(email, name string, products []string, st Status, follow *time.Time, notes []string) bool {
			l := build("id-1", email, name, products, st, follow, notes)
			got, err := replay(Lead{}, Diff(Lead{ID: l.ID}, l, time.Now()))
			return err == nil && cmp.Equal(l, got, ignoreStamps, cmpopts.EquateEmpty())
		},
		gen.AlphaString(), gen.AlphaString(), gen.SliceOf(gen.AlphaString()),
		genStatus(), genTime(), gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("replaying a diff reaches the target", prop.ForAll(
		func(a, b string, st1, st2 Status, f1, f2 *time.Time) bool {
			from := build("id-2", a, a, nil, st1, f1, []string{"x"})
			to := build("id-2", b, a+b, []string{b}, st2, f2, []string{"x", "y"})
			got, err := replay(from, Diff(from, to, time.Now()))
			return err == nil && cmp.Equal(to, got, ignoreStamps, cmpopts.EquateEmpty())
		},
		gen.AlphaString(), gen.AlphaString(), genStatus(), genStatus(), genTime(), genTime(),
	))

	properties.TestingRun(t)
}

func TestErrorTaxonomy(t *testing.T) {
	pe := &PersistenceError{Op: "save", Table: "leads", Key: "abc", Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, pe, ErrPersistence)
	assert.ErrorIs(t, pe, io.ErrUnexpectedEOF)
	assert.Equal(t, "save leads[abc]: unexpected EOF", pe.Error())

	ce := &CorruptStoreError{Records: []CorruptRecord{{Table: "leads", Key: "1", Reason: "bad status"}}}
	assert.ErrorIs(t, ce, ErrCorruptStore)
	assert.Contains(t, ce.Error(), "leads[1]: bad status")

	assert.False(t, errors.Is(&ValidationError{}, ErrNotFound))
}

func TestAppState(t *testing.T) {
	s := AppState{}
	require.NoError(t, s.Set(StateColumnMapping, map[string]string{"email": "E-mail"}))

	var m map[string]string
	ok, err := s.Get(StateColumnMapping, &m)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "E-mail", m["email"])

	ok, err = s.Get(StateLastImportAt, &m)
	assert.False(t, ok)
	assert.NoError(t, err)

	c := s.Clone()
	delete(c, StateColumnMapping)
	assert.Len(t, s, 1)
}

func TestFollowUpOverdue(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	l := Lead{FollowUpAt: &past, Status: StatusProposal}
	assert.True(t, l.FollowUpOverdue(now))
	l.Status = StatusWon
	assert.False(t, l.FollowUpOverdue(now))
	l.Status, l.FollowUpAt = StatusNew, nil
	assert.False(t, l.FollowUpOverdue(now))
	assert.True(t, StatusProposal.Qualified())
	assert.False(t, StatusContacted.Qualified())
}
