package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"leadtrack-engine/internal/normalize"
)

// ReadHTMLTable reads the index-th <table> of an HTML document, as produced by
// "save as web page" in spreadsheet tools. The first row holding <th> cells
// (or the first row when there are none) is the header.
func ReadHTMLTable(r io.Reader, index int) (Table, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Table{}, fmt.Errorf("html: %w", err)
	}
	tables := doc.Find("table")
	if index < 0 || index >= tables.Length() {
		return Table{}, fmt.Errorf("html: table %d not found (%d tables)", index, tables.Length())
	}

	var (
		t         Table
		headerRow = -1
	)
	trs := tables.Eq(index).Find("tr")
	trs.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if tr.Find("th").Length() > 0 {
			headerRow = i
			return false
		}
		return true
	})
	if headerRow < 0 {
		headerRow = 0
	}

	trs.Each(func(i int, tr *goquery.Selection) {
		cells := cellTexts(tr)
		switch {
		case i < headerRow:
			return
		case i == headerRow:
			t.Columns = uniqueHeaders(cells)
			return
		}
		if allBlank(cells) {
			return
		}
		row := make(normalize.Row, len(t.Columns))
		for j, col := range t.Columns {
			if j < len(cells) {
				row[col] = cells[j]
			} else {
				row[col] = nil
			}
		}
		t.Rows = append(t.Rows, row)
	})
	return t, nil
}

func cellTexts(tr *goquery.Selection) []string {
	var out []string
	tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
		out = append(out, strings.TrimSpace(c.Text()))
	})
	return out
}

func allBlank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
