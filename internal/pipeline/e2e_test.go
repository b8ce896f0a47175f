package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insider-cli/internal/crawler"
	"github.com/sells-group/insider-cli/internal/model"
)

const x1IssuerPage = `<html><body>
<table><tr><td>
<table>
<tr><td><b>Owner</b></td><td><b>Filings</b></td><td><b>Transaction Date</b></td><td><b>Type of Owner</b></td></tr>
<tr><td><a href="/cgi-bin/own-disp?action=getowner&amp;CIK=0001000001">Jane Doe</a></td><td>0001000001</td><td>2024-05-01</td><td>Director</td></tr>
</table>
</td></tr></table>
<table id="transaction-report">
<tr><th>Acquistion or Disposition</th><th>Transaction Date</th><th>Reporting Owner</th><th>Form</th><th>Transaction Type</th>
<th>Direct or Indirect Ownership</th><th>Number of Securities Transacted</th><th>Number of Securities Owned</th><th>Line Number</th><th>Owner CIK</th><th>Security Name</th></tr>
<tr><td>A</td><td>2024-05-01</td><td>Jane Doe</td><td>4</td><td>P-Purchase</td><td>D</td><td>100</td><td>1,000</td><td>1</td><td>0001000001</td><td>Common Stock</td></tr>
</table>
</body></html>`

const janeOwnerPage = `<html><body>
<table id="transaction-report">
<tr><th>Acquistion or Disposition</th><th>Transaction Date</th><th>Issuer</th><th>Form</th><th>Transaction Type</th>
<th>Direct or Indirect Ownership</th><th>Number of Securities Transacted</th><th>Number of Securities Owned</th><th>Line Number</th><th>Issuer CIK</th><th>Security Name</th></tr>
<tr><td>A</td><td>2024-05-01</td><td>X1 Corp</td><td>4</td><td>P-Purchase</td><td>D</td><td>100</td><td>1,000</td><td>1</td><td>0000000101</td><td>Common Stock</td></tr>
<tr><td>A</td><td>2024-03-01</td><td>X1 Corp</td><td>4</td><td>P-Purchase</td><td>D</td><td>50</td><td>900</td><td>1</td><td>0000000101</td><td>Common Stock</td></tr>
</table>
</body></html>`

// staticPages serves the first page of each history; later pages are empty.
type staticPages struct {
	fetches atomic.Int32
}

func (s *staticPages) FetchPage(_ context.Context, id string, kind model.ReportKind, offset int) ([]byte, error) {
	s.fetches.Add(1)
	if offset > 0 {
		return []byte("<html></html>"), nil
	}
	switch {
	case kind == model.ReportIssuer && id == x1:
		return []byte(x1IssuerPage), nil
	case kind == model.ReportOwner && id == "0001000001":
		return []byte(janeOwnerPage), nil
	}
	return []byte("<html></html>"), nil
}

func TestPipeline_EndToEnd_DirectorPurchase(t *testing.T) {
	pages := &staticPages{}
	c := crawler.New(pages, crawler.Options{PageStride: 80, FetchTimeout: time.Second}).
		WithOwnerCache(crawler.NewOwnerIndexCache(time.Hour))
	st := newTestStore(t)
	p := New(st, newTestTable(), c, Options{
		CacheTTL: 24 * time.Hour,
		Now:      func() time.Time { return testNow },
	})
	ctx := context.Background()

	res, err := p.Run(ctx, janeQuery())
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.False(t, res.Incomplete)
	require.Len(t, res.Records, 1)
	got := res.Records[0]
	assert.Equal(t, "2024-05-01", got.DateString())
	assert.Equal(t, "Jane Doe", got.OwnerName)
	assert.Equal(t, "Director", got.Position)
	assert.Equal(t, "P-Purchase", got.TransactionType)

	all, err := st.Load(ctx, x1)
	require.NoError(t, err)
	assert.Len(t, all, 2, "issuer and owner views of the May purchase collapse")

	fetched := pages.fetches.Load()
	again, err := p.Run(ctx, janeQuery())
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, res.Records, again.Records)
	assert.Equal(t, fetched, pages.fetches.Load())
}

// The issuer page carries only the owner index; Jane Doe files under "X1".
const indexOnlyIssuerPage = `<html><body>
<table><tr><td>
<table>
<tr><td><b>Owner</b></td><td><b>Filings</b></td><td><b>Transaction Date</b></td><td><b>Type of Owner</b></td></tr>
<tr><td><a href="/cgi-bin/own-disp?action=getowner&amp;CIK=X1">Jane Doe</a></td><td>X1</td><td>2024-05-01</td><td>Director</td></tr>
</table>
</td></tr></table>
</body></html>`

const x1OwnerPage = `<html><body>
<table id="transaction-report">
<tr><th>Acquistion or Disposition</th><th>Transaction Date</th><th>Issuer</th><th>Form</th><th>Transaction Type</th>
<th>Direct or Indirect Ownership</th><th>Number of Securities Transacted</th><th>Number of Securities Owned</th><th>Line Number</th><th>Security Name</th></tr>
<tr><td>A</td><td>2024-05-01</td><td>X1 Corp</td><td>4</td><td>P-Purchase</td><td>D</td><td>100</td><td>1,000</td><td>1</td><td>Common Stock</td></tr>
<tr><td>D</td><td>2024-04-20</td><td>X1 Corp</td><td>4</td><td>S-Sale</td><td>D</td><td>20</td><td>900</td><td>1</td><td>Common Stock</td></tr>
<tr><td>A</td><td>2024-04-01</td><td>X1 Corp</td><td>4</td><td>P-Purchase</td><td>D</td><td>50</td><td>920</td><td>1</td><td>Common Stock</td></tr>
</table>
</body></html>`

// mapPages serves pages keyed by kind/id/offset and counts every fetch.
type mapPages struct {
	pages   map[string]string
	fetches atomic.Int32
}

func (m *mapPages) FetchPage(_ context.Context, id string, kind model.ReportKind, offset int) ([]byte, error) {
	m.fetches.Add(1)
	if body, ok := m.pages[fmt.Sprintf("%s/%s/%d", kind, id, offset)]; ok {
		return []byte(body), nil
	}
	return []byte("<html></html>"), nil
}

func TestPipeline_EndToEnd_OwnerIndexOnlyIssuer(t *testing.T) {
	pages := &mapPages{pages: map[string]string{
		"issuer/" + x1 + "/0": indexOnlyIssuerPage,
		"owner/X1/0":          x1OwnerPage,
	}}
	c := crawler.New(pages, crawler.Options{PageStride: 80, FetchTimeout: time.Second})
	st := newTestStore(t)
	p := New(st, newTestTable(), c, Options{
		CacheTTL: 24 * time.Hour,
		Now:      func() time.Time { return testNow },
	})
	ctx := context.Background()

	res, err := p.Run(ctx, janeQuery())
	require.NoError(t, err)
	assert.False(t, res.Incomplete)
	require.Len(t, res.Records, 1)
	got := res.Records[0]
	assert.Equal(t, "2024-05-01", got.DateString())
	assert.Equal(t, "Director", got.Position)
	assert.Equal(t, "Jane Doe", got.OwnerName)
	assert.Equal(t, "X1", got.OwnerID)

	all, err := st.Load(ctx, x1)
	require.NoError(t, err)
	assert.Len(t, all, 2, "only purchases are crawled")
	assert.Equal(t, int32(2), pages.fetches.Load(), "one issuer page and one owner page")
}
