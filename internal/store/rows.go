package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadtrack-engine/internal/domain"
)

const leadColumns = `id, email, alt_emails, name, company, phone, products, status, priority,
  follow_up_at, last_contact_at, notes, raw_extra, created_at, updated_at`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return domain.Timestamp(t).Format(time.RFC3339Nano)
}

func jsonText(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func leadArgs(l domain.Lead) ([]any, error) {
	alts, err := jsonText(l.AltEmails, "[]")
	if err != nil {
		return nil, err
	}
	products, err := jsonText(l.Products, "[]")
	if err != nil {
		return nil, err
	}
	notes, err := jsonText(l.Notes, "[]")
	if err != nil {
		return nil, err
	}
	extra, err := jsonText(l.RawExtra, "{}")
	if err != nil {
		return nil, err
	}
	return []any{
		l.ID, nullString(l.Email), alts, l.Name, l.Company, l.Phone, products,
		string(l.Status), string(l.Priority), nullTime(l.FollowUpAt), nullTime(l.LastContactAt),
		notes, extra, formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	}, nil
}

// leadRow is a leads row as scanned, before structural validation.
type leadRow struct {
	rowID                               int64
	id, email                           sql.NullString
	alts, name, company, phone          sql.NullString
	products, status, priority          sql.NullString
	followUpAt, lastContactAt           sql.NullString
	notes, rawExtra, createdAt, updated sql.NullString
}

func (r *leadRow) dest() []any {
	return []any{
		&r.rowID, &r.id, &r.email, &r.alts, &r.name, &r.company, &r.phone, &r.products,
		&r.status, &r.priority, &r.followUpAt, &r.lastContactAt, &r.notes, &r.rawExtra,
		&r.createdAt, &r.updated,
	}
}

func (r *leadRow) key() string {
	if r.id.Valid && r.id.String != "" {
		return r.id.String
	}
	return fmt.Sprintf("rowid %d", r.rowID)
}

// lead validates the row and converts it. Every check failure names the column.
func (r *leadRow) lead() (domain.Lead, error) {
	var l domain.Lead
	if !r.id.Valid || r.id.String == "" {
		return l, errors.New("id is empty")
	}
	l.ID = r.id.String

	if r.email.Valid {
		if !domain.ValidEmail(r.email.String) {
			return l, fmt.Errorf("email %q is not a valid address", r.email.String)
		}
		l.Email = r.email.String
	}
	l.Name, l.Company, l.Phone = r.name.String, r.company.String, r.phone.String

	st, ok := domain.ParseStatus(r.status.String)
	if !ok || string(st) != r.status.String {
		return l, fmt.Errorf("status %q is not a known status", r.status.String)
	}
	l.Status = st
	p, ok := domain.ParsePriority(r.priority.String)
	if !ok || string(p) != r.priority.String {
		return l, fmt.Errorf("priority %q is not a known priority", r.priority.String)
	}
	l.Priority = p

	if err := decodeJSON(r.alts, &l.AltEmails); err != nil {
		return l, fmt.Errorf("alt_emails: %w", err)
	}
	if err := decodeJSON(r.products, &l.Products); err != nil {
		return l, fmt.Errorf("products: %w", err)
	}
	if err := decodeJSON(r.notes, &l.Notes); err != nil {
		return l, fmt.Errorf("notes: %w", err)
	}
	for i := range l.Notes {
		l.Notes[i].At = domain.Timestamp(l.Notes[i].At)
	}
	if err := decodeJSON(r.rawExtra, &l.RawExtra); err != nil {
		return l, fmt.Errorf("raw_extra: %w", err)
	}
	if len(l.AltEmails) == 0 {
		l.AltEmails = nil
	}
	if len(l.Products) == 0 {
		l.Products = nil
	}
	if len(l.Notes) == 0 {
		l.Notes = nil
	}
	if len(l.RawExtra) == 0 {
		l.RawExtra = nil
	}

	var err error
	if l.FollowUpAt, err = parseNullTime(r.followUpAt); err != nil {
		return l, fmt.Errorf("follow_up_at: %w", err)
	}
	if l.LastContactAt, err = parseNullTime(r.lastContactAt); err != nil {
		return l, fmt.Errorf("last_contact_at: %w", err)
	}
	if l.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return l, fmt.Errorf("created_at: %w", err)
	}
	if l.UpdatedAt, err = parseTime(r.updated); err != nil {
		return l, fmt.Errorf("updated_at: %w", err)
	}
	return l, nil
}

func decodeJSON(s sql.NullString, dst any) error {
	if !s.Valid || s.String == "" {
		return errors.New("missing value")
	}
	return json.Unmarshal([]byte(s.String), dst)
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid {
		return time.Time{}, errors.New("missing value")
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}, err
	}
	return domain.Timestamp(t), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type eventRow struct {
	seq                        int64
	leadID, field              sql.NullString
	oldValue, newValue, atText sql.NullString
}

func (r *eventRow) dest() []any {
	return []any{&r.seq, &r.leadID, &r.field, &r.oldValue, &r.newValue, &r.atText}
}

func (r *eventRow) event() (domain.ChangeEvent, error) {
	ev := domain.ChangeEvent{Seq: r.seq}
	if !r.leadID.Valid || r.leadID.String == "" {
		return ev, errors.New("lead_id is empty")
	}
	ev.LeadID = r.leadID.String
	f, ok := domain.ParseField(r.field.String)
	if !ok {
		return ev, fmt.Errorf("field_name %q is not a tracked field", r.field.String)
	}
	ev.Field = f
	if r.oldValue.Valid {
		v := r.oldValue.String
		ev.OldValue = &v
	}
	if r.newValue.Valid {
		v := r.newValue.String
		ev.NewValue = &v
	}
	at, err := parseTime(r.atText)
	if err != nil {
		return ev, fmt.Errorf("updated_at: %w", err)
	}
	ev.At = at
	// The value must fold onto a lead, otherwise replay would fail later.
	var scratch domain.Lead
	if err := domain.ApplyEvent(&scratch, ev); err != nil {
		return ev, err
	}
	return ev, nil
}
