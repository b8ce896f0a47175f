package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insider-cli/internal/config"
	"github.com/sells-group/insider-cli/internal/crawler"
	"github.com/sells-group/insider-cli/internal/lookup"
	"github.com/sells-group/insider-cli/internal/model"
	"github.com/sells-group/insider-cli/internal/store"
)

const x1 = "0000000101"

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeCrawler struct {
	mu     sync.Mutex
	reqs   []crawler.IssuerRequest
	result crawler.IssuerResult
	gate   chan struct{}
	// during runs inside CrawlIssuer with the crawl's context.
	during func(ctx context.Context)
}

func (f *fakeCrawler) CrawlIssuer(ctx context.Context, req crawler.IssuerRequest) crawler.IssuerResult {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.during != nil {
		f.during(ctx)
	}
	res := f.result
	res.EntityID = req.EntityID
	return res
}

func (f *fakeCrawler) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeCrawler) last() crawler.IssuerRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "pipeline.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func newTestTable() *lookup.Table {
	tbl := lookup.NewTable()
	tbl.Add("X1", x1)
	return tbl
}

func janeRecords() []model.TransactionRecord {
	base := model.TransactionRecord{
		EntityID:         x1,
		OwnerName:        "Jane Doe",
		Position:         "Director",
		TransactionType:  "P-Purchase",
		SharesTransacted: 100,
		SharesOwnedAfter: 1000,
		LineNumber:       1,
		OwnerID:          "0001000001",
		IssuerID:         x1,
	}
	may, march := base, base
	may.TransactionDate = model.ParseDate("2024-05-01")
	march.TransactionDate = model.ParseDate("2024-03-01")
	return []model.TransactionRecord{may, march}
}

func newTestPipeline(t *testing.T, fc *fakeCrawler) (*Pipeline, store.Store) {
	t.Helper()
	st := newTestStore(t)
	p := New(st, newTestTable(), fc, Options{
		CacheTTL:        24 * time.Hour,
		DefaultLookback: 30 * 24 * time.Hour,
		Now:             func() time.Time { return testNow },
	})
	return p, st
}

func janeQuery() Query {
	return Query{
		Symbol:   "X1",
		Start:    model.ParseDate("2024-04-15"),
		TypeCode: "P-Purchase",
	}
}

func TestRun_CrawlsMergesAndFilters(t *testing.T) {
	fc := &fakeCrawler{result: crawler.IssuerResult{Records: janeRecords(), Pages: 3}}
	p, st := newTestPipeline(t, fc)

	res, err := p.Run(context.Background(), janeQuery())
	require.NoError(t, err)

	assert.Equal(t, x1, res.EntityID)
	assert.False(t, res.FromCache)
	assert.False(t, res.Incomplete)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "2024-05-01", res.Records[0].DateString())
	assert.Equal(t, "Director", res.Records[0].Position)
	require.NotNil(t, res.Merge)
	assert.Equal(t, 2, res.Merge.Inserted)

	runs, err := st.LastCrawl(context.Background(), x1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.CrawlComplete, runs[0].Status)
	assert.Equal(t, "P", runs[0].TypeCode)
	assert.Equal(t, 3, runs[0].Pages)
	assert.Equal(t, res.Run.ID, runs[0].ID)
}

func TestRun_SecondQueryServedFromCache(t *testing.T) {
	fc := &fakeCrawler{result: crawler.IssuerResult{Records: janeRecords()}}
	p, _ := newTestPipeline(t, fc)
	ctx := context.Background()

	_, err := p.Run(ctx, janeQuery())
	require.NoError(t, err)

	// A later start date and a narrower type are covered by the first crawl.
	q := janeQuery()
	q.Start = model.ParseDate("2024-05-01")
	res, err := p.Run(ctx, q)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1, fc.calls())

	// An earlier start date is not.
	q.Start = model.ParseDate("2024-01-01")
	res, err = p.Run(ctx, q)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 2, fc.calls())
}

func TestRun_RefreshBypassesCache(t *testing.T) {
	fc := &fakeCrawler{result: crawler.IssuerResult{Records: janeRecords()}}
	p, _ := newTestPipeline(t, fc)
	ctx := context.Background()

	_, err := p.Run(ctx, janeQuery())
	require.NoError(t, err)

	q := janeQuery()
	q.Refresh = true
	res, err := p.Run(ctx, q)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 0, res.Merge.Inserted, "merge is idempotent")
	assert.Equal(t, 2, fc.calls())
	assert.True(t, fc.last().Refresh)
}

func TestRun_PartialCrawlIsMergedButNotReused(t *testing.T) {
	fc := &fakeCrawler{result: crawler.IssuerResult{
		Records:    janeRecords()[:1],
		Incomplete: true,
		Failures:   []error{errors.New("page down")},
	}}
	p, st := newTestPipeline(t, fc)
	ctx := context.Background()

	res, err := p.Run(ctx, janeQuery())
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.Len(t, res.Records, 1)

	runs, err := st.LastCrawl(ctx, x1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.CrawlPartial, runs[0].Status)

	_, err = p.Run(ctx, janeQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, fc.calls())
}

func TestRun_PositionPrunedCrawlCoversOnlyThatPosition(t *testing.T) {
	fc := &fakeCrawler{result: crawler.IssuerResult{Records: janeRecords()}}
	p, _ := newTestPipeline(t, fc)
	ctx := context.Background()

	q := janeQuery()
	q.Position = "director"
	res, err := p.Run(ctx, q)
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, "director", fc.last().Position)

	q.Position = "Director"
	res, err = p.Run(ctx, q)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	q.Position = ""
	res, err = p.Run(ctx, q)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, fc.calls())
}

func TestRun_StaleCrawlIsRefreshed(t *testing.T) {
	fc := &fakeCrawler{result: crawler.IssuerResult{Records: janeRecords()}}
	p, _ := newTestPipeline(t, fc)
	ctx := context.Background()

	_, err := p.Run(ctx, janeQuery())
	require.NoError(t, err)

	p.opts.Now = func() time.Time { return testNow.Add(48 * time.Hour) }
	res, err := p.Run(ctx, janeQuery())
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, fc.calls())
}

func TestRun_LookupFailure(t *testing.T) {
	fc := &fakeCrawler{}
	p, _ := newTestPipeline(t, fc)

	_, err := p.Run(context.Background(), Query{Symbol: "NOPE"})
	require.Error(t, err)
	assert.ErrorIs(t, err, lookup.ErrNotFound)
	assert.Zero(t, fc.calls())
}

func TestRun_DefaultsApplied(t *testing.T) {
	fc := &fakeCrawler{}
	p, _ := newTestPipeline(t, fc)
	p.opts.TransactionType = "S-Sale"

	res, err := p.Run(context.Background(), Query{Symbol: "101"})
	require.NoError(t, err)
	assert.Equal(t, x1, res.EntityID)
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)

	req := fc.last()
	assert.Equal(t, "2024-05-02", req.Start.Format(model.DateLayout))
	assert.Equal(t, "S-Sale", req.TypeCode)
}

func TestRun_ConcurrentQueriesShareOneCrawl(t *testing.T) {
	fc := &fakeCrawler{
		result: crawler.IssuerResult{Records: janeRecords()},
		gate:   make(chan struct{}),
	}
	p, _ := newTestPipeline(t, fc)

	const n = 4
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.Run(context.Background(), janeQuery())
		}()
	}

	require.Eventually(t, func() bool { return fc.calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(fc.gate)
	wg.Wait()

	assert.Equal(t, 1, fc.calls())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, results[i].Records, 1)
	}
}

func TestRefresh_MergesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fc := &fakeCrawler{
		result: crawler.IssuerResult{Records: janeRecords()[:1], Incomplete: true},
		during: func(context.Context) { cancel() },
	}
	p, st := newTestPipeline(t, fc)

	out, err := p.refresh(ctx, x1, p.normalize(janeQuery()))
	require.NoError(t, err)
	assert.Equal(t, model.CrawlPartial, out.run.Status)
	assert.Equal(t, 1, out.merge.Inserted)

	recs, err := st.Load(context.Background(), x1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	runs, err := st.LastCrawl(context.Background(), x1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.CrawlPartial, runs[0].Status)
}

func TestRun_CallerCancelDoesNotAbortCrawl(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	crawlErr := make(chan error, 1)
	fc := &fakeCrawler{
		result: crawler.IssuerResult{Records: janeRecords()},
		during: func(crawlCtx context.Context) {
			cancel()
			crawlErr <- crawlCtx.Err()
		},
	}
	p, st := newTestPipeline(t, fc)

	_, _ = p.Run(ctx, janeQuery())

	assert.NoError(t, <-crawlErr, "the crawl context is detached from the caller")
	require.Eventually(t, func() bool {
		runs, err := st.LastCrawl(context.Background(), x1)
		return err == nil && len(runs) == 1
	}, time.Second, 5*time.Millisecond)
	recs, err := st.Load(context.Background(), x1)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRun_SharedCrawlSurvivesLeaderCancel(t *testing.T) {
	fc := &fakeCrawler{
		result: crawler.IssuerResult{Records: janeRecords()},
		gate:   make(chan struct{}),
	}
	p, _ := newTestPipeline(t, fc)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := p.Run(leaderCtx, janeQuery())
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return fc.calls() == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		res *Result
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, err := p.Run(context.Background(), janeQuery())
		follower <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(fc.gate)
	got := <-follower
	require.NoError(t, got.err)
	require.Len(t, got.res.Records, 1)
	assert.Equal(t, "2024-05-01", got.res.Records[0].DateString())
	assert.Equal(t, 1, fc.calls())
}

func TestView_NeverCrawls(t *testing.T) {
	fc := &fakeCrawler{}
	p, st := newTestPipeline(t, fc)
	ctx := context.Background()

	res, err := p.View(ctx, janeQuery())
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Empty(t, res.Records)

	_, err = st.Merge(ctx, x1, janeRecords())
	require.NoError(t, err)

	res, err = p.View(ctx, janeQuery())
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Zero(t, fc.calls())
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.CrawlConfig{
		CacheTTLHours:       24,
		DefaultLookbackDays: 30,
		TransactionType:     "P-Purchase",
	})
	assert.Equal(t, 24*time.Hour, opts.CacheTTL)
	assert.Equal(t, 30*24*time.Hour, opts.DefaultLookback)
	assert.Equal(t, "P-Purchase", opts.TransactionType)
}

func TestFlightKey(t *testing.T) {
	q := Query{Start: model.ParseDate("2024-04-15"), TypeCode: "P-Purchase", Position: "CEO"}
	assert.Equal(t, x1+"|P|2024-04-15|ceo", flightKey(x1, q))
	assert.Equal(t, x1+"|||", flightKey(x1, Query{}))
}
