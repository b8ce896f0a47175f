package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/insider-cli/internal/model"
)

const (
	colOwner     = "owner"
	colFilings   = "filings"
	colOwnerDate = "owner_date"
	colOwnerType = "owner_type"
)

var ownerAliases = map[string]string{
	"owner":            colOwner,
	"filings":          colFilings,
	"transaction date": colOwnerDate,
	"type of owner":    colOwnerType,
}

// ParseOwnerIndex reads the reporting-owner table of an issuer page. Pages
// without that table yield an empty index. Duplicate owner names keep the
// last row.
func ParseOwnerIndex(doc *goquery.Document) model.OwnerIndex {
	idx := model.OwnerIndex{}

	doc.Find("table").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		// Nested layout tables contain the owner table; only look at leaves.
		if sel.Find("table").Length() > 0 {
			return true
		}
		t := readTable(sel, ownerAliases)
		if !t.has(colOwner, colOwnerType) {
			return true
		}
		for _, row := range t.rows {
			name := t.cell(row, colOwner)
			if name == "" {
				continue
			}
			idx.Put(model.OwnerIndexEntry{
				Name:     name,
				OwnerID:  ownerID(t, row),
				Position: t.cell(row, colOwnerType),
			})
		}
		return false
	})
	return idx
}

// ownerID prefers the CIK in the owner link and falls back to the Filings
// column text.
func ownerID(t *table, row *goquery.Selection) string {
	if sel := t.cellSel(row, colOwner); sel != nil {
		if href, ok := sel.Find("a").Attr("href"); ok {
			if cik := cikFromHref(href); cik != "" {
				return cik
			}
		}
	}
	if sel := t.cellSel(row, colFilings); sel != nil {
		if href, ok := sel.Find("a").Attr("href"); ok {
			if cik := cikFromHref(href); cik != "" {
				return cik
			}
		}
		return strings.TrimSpace(sel.Text())
	}
	return ""
}

func cikFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	for k, v := range u.Query() {
		if strings.EqualFold(k, "cik") && len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	}
	return ""
}
