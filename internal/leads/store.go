// Package leads holds the in-memory working set of leads. Every mutation is
// computed as (before, after) and its field diff is handed to a Recorder before
// the new state is committed.
package leads

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadtrack-engine/internal/domain"
)

// Recorder receives the change events of each committed mutation and returns
// them stamped with their sequence numbers.
type Recorder interface {
	Record(events ...domain.ChangeEvent) []domain.ChangeEvent
}

// NaturalKey selects the business key used to detect re-imports of a lead.
type NaturalKey string

const (
	KeyEmail NaturalKey = "email"
	KeyPhone NaturalKey = "phone"
	KeyNone  NaturalKey = "none"
)

func ParseNaturalKey(s string) (NaturalKey, error) {
	switch k := NaturalKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KeyEmail, nil
	case KeyEmail, KeyPhone, KeyNone:
		return k, nil
	default:
		return "", fmt.Errorf("unknown natural key %q (want email, phone or none)", s)
	}
}

type Options struct {
	NaturalKey NaturalKey
	Now        func() time.Time
	NewID      func() string
}

// Store maps lead id to Lead. It is not safe for concurrent use.
type Store struct {
	leads map[string]*domain.Lead
	byKey map[string]string
	rec   Recorder
	key   NaturalKey
	now   func() time.Time
	newID func() string
}

func New(rec Recorder, opts Options) *Store {
	s := &Store{
		leads: make(map[string]*domain.Lead),
		byKey: make(map[string]string),
		rec:   rec,
		key:   opts.NaturalKey,
		now:   opts.Now,
		newID: opts.NewID,
	}
	if s.key == "" {
		s.key = KeyEmail
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}
	return s
}

// Restore builds a store from persisted leads without emitting events.
func Restore(rec Recorder, opts Options, leads []domain.Lead) (*Store, error) {
	s := New(rec, opts)
	for _, l := range leads {
		if l.ID == "" {
			return nil, fmt.Errorf("restore: lead without id")
		}
		if _, dup := s.leads[l.ID]; dup {
			return nil, fmt.Errorf("restore: duplicate lead id %s", l.ID)
		}
		s.put(l.Clone())
	}
	return s, nil
}

func (s *Store) NaturalKey() NaturalKey { return s.key }

func (s *Store) Len() int { return len(s.leads) }

func (s *Store) Get(id string) (domain.Lead, error) {
	l, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, notFound(id)
	}
	return l.Clone(), nil
}

// FindByKey looks a lead up by its natural key value.
func (s *Store) FindByKey(l domain.Lead) (domain.Lead, bool) {
	k := s.keyOf(l)
	if k == "" {
		return domain.Lead{}, false
	}
	id, ok := s.byKey[k]
	if !ok {
		return domain.Lead{}, false
	}
	return s.leads[id].Clone(), true
}

// Upsert inserts in as a new lead, or merges it into the lead with the same id
// or natural key. Merge precedence: non-empty incoming values overwrite, empty
// ones never clear, products and alternate emails are unioned, raw_extra keys
// are overlaid and notes are appended unless the same text is already present.
// No events are emitted when nothing changes.
func (s *Store) Upsert(in domain.Lead) (domain.Lead, []domain.ChangeEvent, error) {
	in = in.Clone()
	if err := validateIncoming(in); err != nil {
		return domain.Lead{}, nil, err
	}

	var cur *domain.Lead
	if in.ID != "" {
		cur = s.leads[in.ID]
	}
	if cur == nil {
		if id, ok := s.byKey[s.keyOf(in)]; ok {
			cur = s.leads[id]
		}
	}
	if cur == nil {
		return s.insert(in)
	}

	next := merge(cur.Clone(), in)
	if err := s.checkKey(cur.ID, next); err != nil {
		return domain.Lead{}, nil, err
	}
	l, evs := s.commit(*cur, next)
	return l, evs, nil
}

// Create always inserts a new lead. It fails when the natural key is taken.
func (s *Store) Create(in domain.Lead) (domain.Lead, []domain.ChangeEvent, error) {
	in = in.Clone()
	if err := validateIncoming(in); err != nil {
		return domain.Lead{}, nil, err
	}
	if in.ID != "" {
		if _, ok := s.leads[in.ID]; ok {
			return domain.Lead{}, nil, fmt.Errorf("create: lead %s already exists", in.ID)
		}
	}
	return s.insert(in)
}

func (s *Store) insert(in domain.Lead) (domain.Lead, []domain.ChangeEvent, error) {
	if in.ID == "" {
		in.ID = s.newID()
	}
	if err := s.checkKey(in.ID, in); err != nil {
		return domain.Lead{}, nil, err
	}
	if in.Status == "" {
		in.Status = domain.StatusNew
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	in.CreatedAt, in.UpdatedAt = time.Time{}, time.Time{}
	l, evs := s.commit(domain.Lead{ID: in.ID}, in)
	return l, evs, nil
}

// UpdateField sets one field. Unknown ids fail with ErrNotFound and invalid
// values with a *domain.ValidationError; in both cases nothing changes.
// A status change also stamps last_contact_at.
func (s *Store) UpdateField(id string, f domain.Field, value string) (domain.Lead, []domain.ChangeEvent, error) {
	cur, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, nil, notFound(id)
	}
	next := cur.Clone()
	if err := domain.SetField(&next, f, value); err != nil {
		return domain.Lead{}, nil, err
	}
	if err := s.checkKey(id, next); err != nil {
		return domain.Lead{}, nil, err
	}
	if f == domain.FieldStatus && next.Status != cur.Status {
		next.LastContactAt = domain.TimePtr(s.now())
	}
	l, evs := s.commit(*cur, next)
	return l, evs, nil
}

// AddNote appends a note. A zero at means now.
func (s *Store) AddNote(id, text string, at time.Time) (domain.Lead, []domain.ChangeEvent, error) {
	cur, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, nil, notFound(id)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Lead{}, nil, &domain.ValidationError{Field: domain.FieldNotes, Reason: "note text is empty"}
	}
	if at.IsZero() {
		at = s.now()
	}
	next := cur.Clone()
	next.Notes = append(next.Notes, domain.Note{At: domain.Timestamp(at), Text: text})
	l, evs := s.commit(*cur, next)
	return l, evs, nil
}

func (s *Store) ScheduleFollowUp(id string, at time.Time) (domain.Lead, []domain.ChangeEvent, error) {
	cur, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, nil, notFound(id)
	}
	if at.IsZero() {
		return domain.Lead{}, nil, &domain.ValidationError{Field: domain.FieldFollowUpAt, Reason: "follow-up time is required"}
	}
	next := cur.Clone()
	next.FollowUpAt = domain.TimePtr(at)
	l, evs := s.commit(*cur, next)
	return l, evs, nil
}

// CompleteFollowUp clears the scheduled follow-up and records the contact.
// Completing when nothing is scheduled is a no-op.
func (s *Store) CompleteFollowUp(id string) (domain.Lead, []domain.ChangeEvent, error) {
	cur, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, nil, notFound(id)
	}
	if cur.FollowUpAt == nil {
		return cur.Clone(), nil, nil
	}
	next := cur.Clone()
	next.FollowUpAt = nil
	next.LastContactAt = domain.TimePtr(s.now())
	l, evs := s.commit(*cur, next)
	return l, evs, nil
}

// Archive soft-deletes a lead. Leads are never removed from the store.
func (s *Store) Archive(id string) (domain.Lead, []domain.ChangeEvent, error) {
	return s.UpdateField(id, domain.FieldStatus, string(domain.StatusArchived))
}

// commit is the only place state changes: diff, record, then swap in after.
func (s *Store) commit(before, after domain.Lead) (domain.Lead, []domain.ChangeEvent) {
	now := domain.Timestamp(s.now())
	evs := domain.Diff(before, after, now)
	if len(evs) == 0 {
		return before.Clone(), nil
	}
	if after.CreatedAt.IsZero() {
		after.CreatedAt = now
	}
	after.UpdatedAt = now
	if s.rec != nil {
		evs = s.rec.Record(evs...)
	}
	if old, ok := s.leads[before.ID]; ok {
		if k := s.keyOf(*old); k != "" && s.byKey[k] == old.ID {
			delete(s.byKey, k)
		}
	}
	s.put(after)
	return after.Clone(), evs
}

func (s *Store) put(l domain.Lead) {
	s.leads[l.ID] = &l
	if k := s.keyOf(l); k != "" {
		s.byKey[k] = l.ID
	}
}

func (s *Store) keyOf(l domain.Lead) string {
	switch s.key {
	case KeyEmail:
		return l.Email
	case KeyPhone:
		return phoneDigits(l.Phone)
	}
	return ""
}

func (s *Store) checkKey(id string, l domain.Lead) error {
	k := s.keyOf(l)
	if k == "" {
		return nil
	}
	if owner, ok := s.byKey[k]; ok && owner != id {
		f := domain.FieldEmail
		v := l.Email
		if s.key == KeyPhone {
			f, v = domain.FieldPhone, l.Phone
		}
		return &domain.ValidationError{Field: f, Value: v, Reason: "already used by lead " + owner}
	}
	return nil
}

func phoneDigits(p string) string {
	var b strings.Builder
	for _, r := range p {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validateIncoming(l domain.Lead) error {
	if l.Email != "" && !domain.ValidEmail(l.Email) {
		return &domain.ValidationError{Field: domain.FieldEmail, Value: l.Email, Reason: "not a valid email address"}
	}
	if l.Status != "" && !l.Status.Valid() {
		return &domain.ValidationError{Field: domain.FieldStatus, Value: string(l.Status), Reason: "unknown status"}
	}
	if l.Priority != "" && !l.Priority.Valid() {
		return &domain.ValidationError{Field: domain.FieldPriority, Value: string(l.Priority), Reason: "unknown priority"}
	}
	return nil
}

func merge(cur, in domain.Lead) domain.Lead {
	if in.Email != "" {
		cur.Email = in.Email
	}
	var alts []string
	for _, a := range domain.UnionStrings(cur.AltEmails, in.AltEmails) {
		if a != cur.Email {
			alts = append(alts, a)
		}
	}
	cur.AltEmails = alts
	if in.Name != "" {
		cur.Name = in.Name
	}
	if in.Company != "" {
		cur.Company = in.Company
	}
	if in.Phone != "" {
		cur.Phone = in.Phone
	}
	cur.Products = domain.UnionStrings(cur.Products, in.Products)
	if in.Status != "" {
		cur.Status = in.Status
	}
	if in.Priority != "" {
		cur.Priority = in.Priority
	}
	if in.FollowUpAt != nil {
		cur.FollowUpAt = in.FollowUpAt
	}
	if in.LastContactAt != nil {
		cur.LastContactAt = in.LastContactAt
	}
	for _, n := range in.Notes {
		if !hasNote(cur.Notes, n.Text) {
			cur.Notes = append(cur.Notes, n)
		}
	}
	cur.RawExtra = domain.MergeExtra(cur.RawExtra, in.RawExtra)
	return cur
}

func hasNote(notes []domain.Note, text string) bool {
	for _, n := range notes {
		if n.Text == text {
			return true
		}
	}
	return false
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
}
