// Package normalize turns untyped spreadsheet rows into canonical leads.
package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"leadtrack-engine/internal/domain"
)

// Row is one untyped record: column name to cell value.
type Row map[string]any

type Options struct {
	// ProductVocabulary maps aliases (any case) to canonical product names.
	ProductVocabulary map[string]string
	// Now stamps notes read from a notes column. Defaults to time.Now.
	Now    func() time.Time
	Logger *zap.Logger
}

// Warning records a value that was cleaned away without skipping the row.
type Warning struct {
	Row    int          `json:"row"`
	Field  domain.Field `json:"field"`
	Value  string       `json:"value"`
	Reason string       `json:"reason"`
}

// Result carries the normalized leads, the source row index of each lead, and
// the rows that could not be used.
type Result struct {
	Leads    []domain.Lead       `json:"leads"`
	Rows     []int               `json:"rows"`
	Skipped  []domain.SkippedRow `json:"skipped"`
	Warnings []Warning           `json:"warnings"`
}

type Normalizer struct {
	vocab map[string]string
	now   func() time.Time
	log   *zap.Logger
	warn  *rate.Sometimes
}

func New(opts Options) *Normalizer {
	n := &Normalizer{
		vocab: make(map[string]string, len(opts.ProductVocabulary)),
		now:   opts.Now,
		log:   opts.Logger,
		warn:  &rate.Sometimes{First: 20, Interval: time.Second},
	}
	for alias, canon := range opts.ProductVocabulary {
		n.vocab[strings.ToLower(domain.CleanText(alias))] = domain.CleanText(canon)
	}
	if n.now == nil {
		n.now = time.Now
	}
	if n.log == nil {
		n.log = zap.NewNop()
	}
	return n
}

// Normalize converts rows using mapping. Malformed rows never abort the batch;
// they are reported in Result.Skipped. The only error is an unusable mapping.
func (n *Normalizer) Normalize(rows []Row, mapping ColumnMapping) (Result, error) {
	for f := range mapping {
		if !mappable(f) {
			return Result{}, fmt.Errorf("column mapping: %q is not a mappable field", f)
		}
	}
	stamp := domain.Timestamp(n.now())
	var res Result
	for i, row := range rows {
		l, warns, err := n.row(i, row, mapping, stamp)
		res.Warnings = append(res.Warnings, warns...)
		if err != nil {
			res.Skipped = append(res.Skipped, domain.SkippedRow{Row: i, Reason: err.Error()})
			continue
		}
		res.Leads = append(res.Leads, l)
		res.Rows = append(res.Rows, i)
	}
	if len(res.Skipped) > 0 {
		n.log.Info("rows skipped", zap.Int("skipped", len(res.Skipped)), zap.Int("rows", len(rows)))
	}
	return res, nil
}

// NormalizeRow converts a single row, stamping imported notes with at.
func (n *Normalizer) NormalizeRow(row Row, mapping ColumnMapping, at time.Time) (domain.Lead, []Warning, error) {
	return n.row(0, row, mapping, domain.Timestamp(at))
}

func (n *Normalizer) row(idx int, row Row, mapping ColumnMapping, stamp time.Time) (domain.Lead, []Warning, error) {
	var (
		l     domain.Lead
		warns []Warning
	)
	warnf := func(f domain.Field, v, reason string) {
		warns = append(warns, Warning{Row: idx, Field: f, Value: v, Reason: reason})
		n.warn.Do(func() {
			n.log.Warn("value dropped", zap.Int("row", idx), zap.String("field", string(f)),
				zap.String("value", v), zap.String("reason", reason))
		})
	}

	cols := resolveColumns(row, mapping)
	used := make(map[string]bool, len(cols))
	for _, col := range cols {
		used[col] = true
	}

	for _, f := range Mappable {
		col, ok := cols[f]
		if !ok {
			continue
		}
		raw := row[col]
		s, present, err := cellString(raw)
		if err != nil {
			return domain.Lead{}, warns, fmt.Errorf("column %q: %w", col, err)
		}
		if !present || missing(s) {
			continue
		}
		switch f {
		case domain.FieldEmail:
			for _, e := range domain.SplitMulti(s) {
				e = strings.ToLower(e)
				if !domain.ValidEmail(e) {
					warnf(f, e, "invalid email address")
					continue
				}
				if l.Email == "" {
					l.Email = e
				} else if e != l.Email {
					l.AltEmails = domain.UnionStrings(l.AltEmails, []string{e})
				}
			}
		case domain.FieldName:
			l.Name = domain.CleanText(s)
		case domain.FieldCompany:
			l.Company = domain.CleanText(s)
		case domain.FieldPhone:
			l.Phone = domain.CleanText(s)
		case domain.FieldProducts:
			l.Products = n.products(s)
		case domain.FieldStatus:
			st, ok := LookupStatus(s)
			if !ok {
				warnf(f, s, "unrecognised status, using New")
				st = domain.StatusNew
			}
			l.Status = st
		case domain.FieldPriority:
			p, ok := LookupPriority(s)
			if !ok {
				warnf(f, s, "unrecognised priority, using Medium")
				p = domain.PriorityMedium
			}
			l.Priority = p
		case domain.FieldFollowUpAt:
			t, err := parseDateCell(raw, s)
			if err != nil {
				warnf(f, s, err.Error())
				continue
			}
			l.FollowUpAt = &t
		case domain.FieldNotes:
			l.Notes = parseNotes(s, stamp)
		}
	}

	extraCols := make([]string, 0, len(row))
	for col := range row {
		if !used[col] {
			extraCols = append(extraCols, col)
		}
	}
	sort.Strings(extraCols)
	for _, col := range extraCols {
		s, present, err := cellString(row[col])
		if err != nil {
			return domain.Lead{}, warns, fmt.Errorf("column %q: %w", col, err)
		}
		if !present || s == "" {
			continue
		}
		if l.RawExtra == nil {
			l.RawExtra = make(map[string]string)
		}
		l.RawExtra[col] = s
	}

	if !l.HasIdentity() {
		return domain.Lead{}, warns, fmt.Errorf("no email, name, company or phone")
	}
	return l, warns, nil
}

// resolveColumns finds each mapped column in the row, exactly or else by
// case-insensitive, whitespace-insensitive header match.
func resolveColumns(row Row, mapping ColumnMapping) map[domain.Field]string {
	var folded map[string]string
	out := make(map[domain.Field]string, len(mapping))
	for f, col := range mapping {
		if _, ok := row[col]; ok {
			out[f] = col
			continue
		}
		if folded == nil {
			folded = make(map[string]string, len(row))
			for k := range row {
				folded[foldHeader(k)] = k
			}
		}
		if k, ok := folded[foldHeader(col)]; ok {
			out[f] = k
		}
	}
	return out
}

func foldHeader(s string) string {
	return strings.ToLower(domain.CleanText(s))
}

func (n *Normalizer) products(s string) []string {
	var out []string
	for _, p := range domain.SplitMulti(s) {
		if canon, ok := n.vocab[strings.ToLower(p)]; ok {
			p = canon
		}
		out = domain.UnionStrings(out, []string{p})
	}
	return out
}

var notePrefix = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2})\]\s*(.*)$`)

// parseNotes reads a notes cell. Lines written as "[YYYY-MM-DD HH:MM] text"
// become separate notes at that time; other lines continue the previous note
// or start one stamped at stamp.
func parseNotes(s string, stamp time.Time) []domain.Note {
	var out []domain.Note
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := notePrefix.FindStringSubmatch(line); m != nil {
			if t, err := time.Parse("2006-01-02 15:04", m[1]); err == nil && m[2] != "" {
				out = append(out, domain.Note{At: domain.Timestamp(t), Text: m[2]})
				continue
			}
		}
		if len(out) > 0 {
			out[len(out)-1].Text += "\n" + line
			continue
		}
		out = append(out, domain.Note{At: stamp, Text: line})
	}
	return out
}

// Columns returns the union of headers across rows in first-seen order,
// sorted within each row for determinism.
func Columns(rows []Row) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}
