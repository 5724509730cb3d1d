package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("lead not found")
	ErrInvalidValue = errors.New("invalid value")
	ErrPersistence  = errors.New("persistence failure")
	ErrCorruptStore = errors.New("corrupt store")
)

// ValidationError rejects a single field value. Nothing is mutated when it is returned.
type ValidationError struct {
	Field  Field
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidValue }

func invalid(f Field, v, reason string) error {
	return &ValidationError{Field: f, Value: v, Reason: reason}
}

// SkippedRow is one entry of an import skip report. Row is zero-based.
type SkippedRow struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (s SkippedRow) Error() string {
	return fmt.Sprintf("row %d skipped: %s", s.Row, s.Reason)
}

// CorruptRecord names a stored record that failed structural validation on load.
type CorruptRecord struct {
	Table  string `json:"table"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

type CorruptStoreError struct {
	Records []CorruptRecord
}

func (e *CorruptStoreError) Error() string {
	parts := make([]string, 0, len(e.Records))
	for _, r := range e.Records {
		parts = append(parts, fmt.Sprintf("%s[%s]: %s", r.Table, r.Key, r.Reason))
	}
	return fmt.Sprintf("corrupt store: %d bad record(s): %s", len(e.Records), strings.Join(parts, "; "))
}

func (e *CorruptStoreError) Unwrap() error { return ErrCorruptStore }

// PersistenceError reports a storage failure for a single operation. The
// operation is rolled back before this is returned.
type PersistenceError struct {
	Op    string
	Table string
	Key   string
	Err   error
}

func (e *PersistenceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Table != "" {
		b.WriteString(" " + e.Table)
	}
	if e.Key != "" {
		b.WriteString("[" + e.Key + "]")
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }
