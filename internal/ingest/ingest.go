// Package ingest reads lead rows out of exported files. Spreadsheet binaries
// are out of scope; sheets are expected as CSV, JSON or an HTML table export.
package ingest

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"leadtrack-engine/internal/normalize"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// Table is the parsed content of a source file: headers in file order and
// one Row per data line.
type Table struct {
	Columns []string
	Rows    []normalize.Row
}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))); f {
	case FormatCSV, FormatJSON, FormatHTML:
		return f, nil
	case "tsv", "txt":
		return FormatCSV, nil
	case "htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported import format %q", s)
	}
}

// FormatFromName picks a format from a file extension.
func FormatFromName(name string) (Format, error) {
	return ParseFormat(filepath.Ext(name))
}

// FormatFromContentType maps an HTTP Content-Type onto a format.
func FormatFromContentType(ct string) (Format, error) {
	ct = strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "csv"), strings.HasPrefix(ct, "text/plain"):
		return FormatCSV, nil
	case strings.Contains(ct, "json"):
		return FormatJSON, nil
	case strings.Contains(ct, "html"):
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unsupported content type %q", ct)
}

func Read(r io.Reader, f Format) (Table, error) {
	switch f {
	case FormatCSV:
		return ReadCSV(r)
	case FormatJSON:
		return ReadJSON(r)
	case FormatHTML:
		return ReadHTMLTable(r, 0)
	}
	return Table{}, fmt.Errorf("unsupported import format %q", f)
}

// uniqueHeaders fills blank headers and suffixes duplicates so no column is lost.
func uniqueHeaders(raw []string) []string {
	out := make([]string, len(raw))
	seen := map[string]int{}
	for i, h := range raw {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = fmt.Sprintf("%s_%d", h, n)
		}
		out[i] = h
	}
	return out
}
