package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"leadtrack-engine/internal/normalize"
)

// ReadCSV reads a header row followed by data rows. Comma, semicolon and tab
// delimiters are detected from the header line. Short rows are padded with
// missing cells; blank lines are ignored. Quoting is lenient, so stray
// quotes stay in the cell text; only a failing reader aborts the table.
func ReadCSV(r io.Reader) (Table, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4096)

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(head)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("csv header: %w", err)
	}
	t := Table{Columns: uniqueHeaders(header)}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return t, fmt.Errorf("csv: %w", err)
		}
		row := make(normalize.Row, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = nil
			}
		}
		for i := len(t.Columns); i < len(rec); i++ {
			if rec[i] != "" {
				row[fmt.Sprintf("column_%d", i+1)] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func sniffDelimiter(head []byte) rune {
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestN := ',', bytes.Count(head, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(head, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}
