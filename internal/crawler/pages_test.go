package crawler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/sells-group/insider-cli/internal/model"
)

// row is one line of a synthetic transaction report.
type row struct {
	date       string
	owner      string // reporting owner (issuer view) or issuer name (owner view)
	cik        string // owner CIK (issuer view) or issuer CIK (owner view)
	typ        string
	transacted string
	owned      string
	line       int
}

func transactionTable(kind model.ReportKind, rows []row) string {
	nameCol, cikCol := "Reporting Owner", "Owner CIK"
	if kind == model.ReportOwner {
		nameCol, cikCol = "Issuer", "Issuer CIK"
	}

	var b strings.Builder
	b.WriteString(`<table id="transaction-report" border="1"><tr>`)
	for _, h := range []string{"Acquistion or Disposition", "Transaction Date", nameCol, "Form",
		"Transaction Type", "Number of Securities Transacted", "Number of Securities Owned",
		"Line Number", cikCol} {
		fmt.Fprintf(&b, "<th>%s</th>", h)
	}
	b.WriteString("</tr>")
	for _, r := range rows {
		transacted, owned := r.transacted, r.owned
		if transacted == "" {
			transacted = "100"
		}
		if owned == "" {
			owned = "1,000"
		}
		fmt.Fprintf(&b, "<tr><td>A</td><td>%s</td><td>%s</td><td>4</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%s</td></tr>",
			r.date, html.EscapeString(r.owner), r.typ, transacted, owned, r.line, r.cik)
	}
	b.WriteString("</table>")
	return b.String()
}

func ownerTable(owners []model.OwnerIndexEntry) string {
	var b strings.Builder
	b.WriteString(`<table><tr><td><table>`)
	b.WriteString("<tr><td><b>Owner</b></td><td><b>Filings</b></td><td><b>Transaction Date</b></td><td><b>Type of Owner</b></td></tr>")
	for _, o := range owners {
		fmt.Fprintf(&b, `<tr><td><a href="/cgi-bin/own-disp?action=getowner&amp;CIK=%s">%s</a></td><td>%s</td><td>2024-01-01</td><td>%s</td></tr>`,
			o.OwnerID, html.EscapeString(o.Name), o.OwnerID, html.EscapeString(o.Position))
	}
	b.WriteString("</table></td></tr></table>")
	return b.String()
}

func issuerPage(owners []model.OwnerIndexEntry, rows ...row) []byte {
	return []byte("<html><body>" + ownerTable(owners) + transactionTable(model.ReportIssuer, rows) + "</body></html>")
}

func ownerPage(rows ...row) []byte {
	return []byte("<html><body>" + transactionTable(model.ReportOwner, rows) + "</body></html>")
}

// fakePages serves canned pages. Unknown pages are empty, which ends a crawl.
type fakePages struct {
	mu    sync.Mutex
	pages map[string][]byte
	errs  map[string]error
	block map[string]bool
	calls []string
}

func newFakePages() *fakePages {
	return &fakePages{
		pages: map[string][]byte{},
		errs:  map[string]error{},
		block: map[string]bool{},
	}
}

func pageKey(id string, kind model.ReportKind, offset int) string {
	return fmt.Sprintf("%s/%s/%d", kind, id, offset)
}

func (f *fakePages) set(id string, kind model.ReportKind, offset int, body []byte) {
	f.pages[pageKey(id, kind, offset)] = body
}

func (f *fakePages) fail(id string, kind model.ReportKind, offset int, err error) {
	f.errs[pageKey(id, kind, offset)] = err
}

func (f *fakePages) FetchPage(ctx context.Context, id string, kind model.ReportKind, offset int) ([]byte, error) {
	key := pageKey(id, kind, offset)
	f.mu.Lock()
	f.calls = append(f.calls, key)
	blocked := f.block[key]
	err := f.errs[key]
	body, ok := f.pages[key]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return []byte("<html><body><p>No matching records.</p></body></html>"), nil
	}
	return body, nil
}

func (f *fakePages) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func (f *fakePages) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var errPageDown = errors.New("page down")
