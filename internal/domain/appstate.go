package domain

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Well-known AppState keys.
const (
	StateLastImportAt    = "last_import_at"
	StateColumnMapping   = "column_mapping"
	StateOriginalColumns = "original_columns"
	StateMappingPresets  = "mapping_presets"
)

// AppState holds small process-wide settings as JSON values.
type AppState map[string]json.RawMessage

func (s AppState) Set(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("app state %s: %w", key, err)
	}
	s[key] = b
	return nil
}

// Get decodes key into dst. It reports false when the key is absent.
func (s AppState) Get(key string, dst any) (bool, error) {
	raw, ok := s[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("app state %s: %w", key, err)
	}
	return true, nil
}

func (s AppState) Clone() AppState {
	if s == nil {
		return AppState{}
	}
	return maps.Clone(s)
}
