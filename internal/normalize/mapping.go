package normalize

import (
	"fmt"
	"sort"
	"strings"

	"leadtrack-engine/internal/domain"
)

// ColumnMapping maps a canonical field to the source column that feeds it.
type ColumnMapping map[domain.Field]string

// Mappable lists the canonical fields an import can populate.
var Mappable = []domain.Field{
	domain.FieldEmail, domain.FieldName, domain.FieldCompany, domain.FieldPhone,
	domain.FieldProducts, domain.FieldStatus, domain.FieldPriority,
	domain.FieldFollowUpAt, domain.FieldNotes,
}

func mappable(f domain.Field) bool {
	for _, m := range Mappable {
		if m == f {
			return true
		}
	}
	return false
}

// ParseMapping validates a user supplied {canonical_field: source_column}
// mapping. Entries with an empty source column are dropped.
func ParseMapping(raw map[string]string) (ColumnMapping, error) {
	out := make(ColumnMapping, len(raw))
	var bad []string
	for k, col := range raw {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		f, ok := domain.ParseField(k)
		if !ok || !mappable(f) {
			bad = append(bad, k)
			continue
		}
		out[f] = col
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, fmt.Errorf("column mapping: unknown canonical field(s): %s", strings.Join(bad, ", "))
	}
	return out, nil
}

// Strings renders the mapping with plain string keys, for storage and display.
func (m ColumnMapping) Strings() map[string]string {
	out := make(map[string]string, len(m))
	for f, col := range m {
		out[string(f)] = col
	}
	return out
}

var columnHints = []struct {
	field    domain.Field
	keywords []string
}{
	{domain.FieldEmail, []string{"email", "e-mail", "mail"}},
	{domain.FieldProducts, []string{"product", "item", "service", "offering"}},
	{domain.FieldFollowUpAt, []string{"follow up", "follow-up", "followup", "next contact"}},
	{domain.FieldStatus, []string{"status", "stage"}},
	{domain.FieldPriority, []string{"priority", "rating", "score"}},
	{domain.FieldCompany, []string{"company", "organisation", "organization", "account", "business"}},
	{domain.FieldPhone, []string{"phone", "mobile", "tel"}},
	{domain.FieldNotes, []string{"note", "comment", "remarks"}},
	{domain.FieldName, []string{"name", "contact", "full name"}},
}

// SuggestMapping guesses a mapping from column headers by keyword. The first
// column matching a field wins; a column is used for at most one field.
func SuggestMapping(columns []string) ColumnMapping {
	out := ColumnMapping{}
	used := map[string]bool{}
	for _, h := range columnHints {
		for _, col := range columns {
			if used[col] {
				continue
			}
			lc := strings.ToLower(domain.CleanText(col))
			if containsAny(lc, h.keywords) {
				out[h.field] = col
				used[col] = true
				break
			}
		}
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
