package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Field names a canonical, event-tracked attribute of a Lead.
type Field string

const (
	FieldEmail         Field = "email"
	FieldAltEmails     Field = "alt_emails"
	FieldName          Field = "name"
	FieldCompany       Field = "company"
	FieldPhone         Field = "phone"
	FieldProducts      Field = "products"
	FieldStatus        Field = "status"
	FieldPriority      Field = "priority"
	FieldFollowUpAt    Field = "follow_up_at"
	FieldLastContactAt Field = "last_contact_at"
	FieldNotes         Field = "notes"
	FieldRawExtra      Field = "raw_extra"
)

// TrackedFields is the fixed order in which changes are emitted.
var TrackedFields = []Field{
	FieldEmail, FieldAltEmails, FieldName, FieldCompany, FieldPhone, FieldProducts,
	FieldStatus, FieldPriority, FieldFollowUpAt, FieldLastContactAt, FieldNotes, FieldRawExtra,
}

func ParseField(s string) (Field, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, f := range TrackedFields {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

var emailRe = regexp.MustCompile(`^[a-z0-9._%+'\-]+@([a-z0-9]([a-z0-9\-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// ValidEmail checks an already lowercased address against a basic grammar.
func ValidEmail(s string) bool {
	if len(s) > 254 || strings.Contains(s, "..") {
		return false
	}
	return emailRe.MatchString(s)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
	"2006/01/02",
	"02 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseTime accepts the date layouts commonly found in exported sheets.
// Values without a zone are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := Timestamp(*t).Format(time.RFC3339Nano)
	return &s
}

func parseTimePtr(v *string) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *v)
	if err != nil {
		return nil, err
	}
	return TimePtr(t), nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jsonPtr(v any, empty bool) *string {
	if empty {
		return nil
	}
	b, _ := json.Marshal(v)
	s := string(b)
	return &s
}

// EncodeField renders the current value of f as it is written into a change
// event. Empty values encode as nil. Notes are emitted one event per note and
// are not encoded here.
func EncodeField(l Lead, f Field) *string {
	switch f {
	case FieldEmail:
		return strPtr(l.Email)
	case FieldAltEmails:
		return jsonPtr(l.AltEmails, len(l.AltEmails) == 0)
	case FieldName:
		return strPtr(l.Name)
	case FieldCompany:
		return strPtr(l.Company)
	case FieldPhone:
		return strPtr(l.Phone)
	case FieldProducts:
		return jsonPtr(l.Products, len(l.Products) == 0)
	case FieldStatus:
		return strPtr(string(l.Status))
	case FieldPriority:
		return strPtr(string(l.Priority))
	case FieldFollowUpAt:
		return formatTime(l.FollowUpAt)
	case FieldLastContactAt:
		return formatTime(l.LastContactAt)
	case FieldRawExtra:
		return jsonPtr(l.RawExtra, len(l.RawExtra) == 0)
	}
	return nil
}

func EncodeNote(n Note) *string {
	return jsonPtr(Note{At: Timestamp(n.At), Text: n.Text}, false)
}

// ApplyEvent folds one change event into l. Replaying a lead's history onto a
// zero Lead yields its current tracked fields.
func ApplyEvent(l *Lead, ev ChangeEvent) error {
	if l.ID == "" {
		l.ID = ev.LeadID
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = Timestamp(ev.At)
	}
	l.UpdatedAt = Timestamp(ev.At)

	v := ev.NewValue
	str := func() string {
		if v == nil {
			return ""
		}
		return *v
	}
	decode := func(dst any) error {
		if v == nil {
			return nil
		}
		return json.Unmarshal([]byte(*v), dst)
	}

	var err error
	switch ev.Field {
	case FieldEmail:
		l.Email = str()
	case FieldName:
		l.Name = str()
	case FieldCompany:
		l.Company = str()
	case FieldPhone:
		l.Phone = str()
	case FieldStatus:
		l.Status = Status(str())
	case FieldPriority:
		l.Priority = Priority(str())
	case FieldAltEmails:
		l.AltEmails = nil
		err = decode(&l.AltEmails)
	case FieldProducts:
		l.Products = nil
		err = decode(&l.Products)
	case FieldRawExtra:
		l.RawExtra = nil
		err = decode(&l.RawExtra)
	case FieldFollowUpAt:
		l.FollowUpAt, err = parseTimePtr(v)
	case FieldLastContactAt:
		l.LastContactAt, err = parseTimePtr(v)
	case FieldNotes:
		if v == nil {
			return fmt.Errorf("event %d: note without value", ev.Seq)
		}
		var n Note
		if err = decode(&n); err == nil {
			n.At = Timestamp(n.At)
			l.Notes = append(l.Notes, n)
		}
	default:
		return fmt.Errorf("event %d: unknown field %q", ev.Seq, ev.Field)
	}
	if err != nil {
		return fmt.Errorf("event %d: decode %s: %w", ev.Seq, ev.Field, err)
	}
	return nil
}

// Diff lists the field changes that turn before into after, in TrackedFields
// order. Notes are compared by position: only notes appended past the end of
// before are emitted.
func Diff(before, after Lead, at time.Time) []ChangeEvent {
	var out []ChangeEvent
	at = Timestamp(at)
	for _, f := range TrackedFields {
		if f == FieldNotes {
			for i := len(before.Notes); i < len(after.Notes); i++ {
				out = append(out, ChangeEvent{
					LeadID:   after.ID,
					Field:    FieldNotes,
					NewValue: EncodeNote(after.Notes[i]),
					At:       at,
				})
			}
			continue
		}
		oldV, newV := EncodeField(before, f), EncodeField(after, f)
		if equalPtr(oldV, newV) {
			continue
		}
		out = append(out, ChangeEvent{
			LeadID:   after.ID,
			Field:    f,
			OldValue: oldV,
			NewValue: newV,
			At:       at,
		})
	}
	return out
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SetField validates value for f and assigns it. On error l is left untouched.
func SetField(l *Lead, f Field, value string) error {
	value = CleanText(value)
	switch f {
	case FieldEmail:
		e := strings.ToLower(value)
		if e != "" && !ValidEmail(e) {
			return invalid(f, value, "not a valid email address")
		}
		l.Email = e
	case FieldName:
		l.Name = value
	case FieldCompany:
		l.Company = value
	case FieldPhone:
		l.Phone = value
	case FieldStatus:
		st, ok := ParseStatus(value)
		if !ok {
			return invalid(f, value, "must be one of "+joinStatuses())
		}
		l.Status = st
	case FieldPriority:
		p, ok := ParsePriority(value)
		if !ok {
			return invalid(f, value, "must be Low, Medium or High")
		}
		l.Priority = p
	case FieldProducts:
		l.Products = SplitMulti(value)
	case FieldFollowUpAt, FieldLastContactAt:
		var tp *time.Time
		if value != "" {
			t, err := ParseTime(value)
			if err != nil {
				return invalid(f, value, "not a recognised date/time")
			}
			tp = &t
		}
		if f == FieldFollowUpAt {
			l.FollowUpAt = tp
		} else {
			l.LastContactAt = tp
		}
	default:
		return invalid(f, value, "field cannot be updated directly")
	}
	return nil
}

func joinStatuses() string {
	names := make([]string, 0, len(Statuses))
	for _, s := range Statuses {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

// CleanText trims, maps NBSP to space and collapses internal whitespace.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

var multiSeparators = strings.NewReplacer(";", ",", "|", ",", "\r\n", ",", "\n", ",", "\r", ",")

// SplitMulti splits a multi-value cell on ; , | and newlines, dropping empty
// entries and case-insensitive duplicates while keeping first-seen order.
func SplitMulti(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(multiSeparators.Replace(s), ",") {
		part = CleanText(part)
		if part == "" {
			continue
		}
		k := strings.ToLower(part)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, part)
	}
	return out
}

// UnionStrings appends the members of add missing from base (case-insensitive).
func UnionStrings(base, add []string) []string {
	out := slices.Clone(base)
	seen := map[string]bool{}
	for _, s := range base {
		seen[strings.ToLower(s)] = true
	}
	for _, s := range add {
		if k := strings.ToLower(s); !seen[k] {
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}

// MergeExtra overlays the non-empty values of add onto base.
func MergeExtra(base, add map[string]string) map[string]string {
	if len(add) == 0 {
		return base
	}
	out := maps.Clone(base)
	if out == nil {
		out = map[string]string{}
	}
	for k, v := range add {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
