package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"leadtrack-engine/internal/normalize"
)

// ReadJSON reads an array of objects. Numbers are kept as json.Number so
// identifiers like phone numbers are not rounded.
func ReadJSON(r io.Reader) (Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var objs []map[string]any
	if err := dec.Decode(&objs); err != nil {
		return Table{}, fmt.Errorf("json rows: %w", err)
	}
	t := Table{Rows: make([]normalize.Row, 0, len(objs))}
	seen := map[string]bool{}
	for _, o := range objs {
		keys := make([]string, 0, len(o))
		for k := range o {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				t.Columns = append(t.Columns, k)
			}
		}
		t.Rows = append(t.Rows, normalize.Row(o))
	}
	return t, nil
}
