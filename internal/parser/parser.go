// Package parser extracts the owner table and the transaction report table
// from SEC ownership disclosure pages.
//
// Columns are located by their header text, not their position, so a
// reordered or widened table still parses. Anything the parser cannot read
// degrades to an empty value; it never fails on page content.
package parser

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// NewDocument parses an HTML page.
func NewDocument(r io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "parser: read html")
	}
	return doc, nil
}

// NewDocumentBytes parses an HTML page held in memory.
func NewDocumentBytes(b []byte) (*goquery.Document, error) {
	return NewDocument(bytes.NewReader(b))
}

// table is a header-indexed view of one HTML table.
type table struct {
	cols map[string]int
	rows []*goquery.Selection
}

// cell returns the trimmed text of column key in row, or "".
func (t *table) cell(row *goquery.Selection, key string) string {
	i, ok := t.cols[key]
	if !ok {
		return ""
	}
	return cleanText(row.Find("td").Eq(i).Text())
}

// cellSel returns column key of row as a selection.
func (t *table) cellSel(row *goquery.Selection, key string) *goquery.Selection {
	i, ok := t.cols[key]
	if !ok {
		return nil
	}
	return row.Find("td").Eq(i)
}

// readTable indexes sel's header row using aliases (normalized header text to
// column key). The header row is the first row holding a th cell, or the
// first row when the table has no th cells.
func readTable(sel *goquery.Selection, aliases map[string]string) *table {
	t := &table{cols: map[string]int{}}
	rows := sel.Find("tr")

	headerAt := -1
	rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if tr.Find("th").Length() > 0 {
			headerAt = i
			return false
		}
		return true
	})

	var header *goquery.Selection
	if headerAt >= 0 {
		header = rows.Eq(headerAt).Find("th")
	} else if rows.Length() > 0 {
		headerAt = 0
		header = rows.Eq(0).Find("td")
	} else {
		return t
	}

	header.Each(func(i int, cell *goquery.Selection) {
		if key, ok := aliases[normalizeHeader(cell.Text())]; ok {
			if _, dup := t.cols[key]; !dup {
				t.cols[key] = i
			}
		}
	})

	rows.Each(func(i int, tr *goquery.Selection) {
		if i <= headerAt {
			return
		}
		tds := tr.Find("td")
		if tds.Length() < 2 || strings.TrimSpace(tds.Text()) == "" {
			return
		}
		t.rows = append(t.rows, tr)
	})
	return t
}

// has reports whether every key was found in the header.
func (t *table) has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := t.cols[k]; !ok {
			return false
		}
	}
	return true
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseNumber reads a share count such as "1,250.0000" or "500(1)".
// Footnote markers and separators are dropped; unreadable input yields 0.
func parseNumber(s string) float64 {
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, c := range s {
		if (c >= '0' && c <= '9') || c == '.' || c == '-' {
			b.WriteRune(c)
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int {
	return int(parseNumber(s))
}
