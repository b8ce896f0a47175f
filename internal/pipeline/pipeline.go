// Package pipeline resolves a symbol, decides whether the record cache
// already answers a query, crawls and merges when it does not, and derives
// the requested view.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/insider-cli/internal/config"
	"github.com/sells-group/insider-cli/internal/crawler"
	"github.com/sells-group/insider-cli/internal/model"
	"github.com/sells-group/insider-cli/internal/store"
	"github.com/sells-group/insider-cli/internal/view"
)

// Resolver maps a ticker or CIK to an issuer CIK.
type Resolver interface {
	Lookup(symbol string) (string, error)
}

// IssuerCrawler crawls and joins one issuer's disclosures.
type IssuerCrawler interface {
	CrawlIssuer(ctx context.Context, req crawler.IssuerRequest) crawler.IssuerResult
}

// Options tunes cache reuse and query defaults.
type Options struct {
	// CacheTTL is how long a complete crawl answers matching queries.
	CacheTTL time.Duration
	// DefaultLookback applies when a query has no start date.
	DefaultLookback time.Duration
	// TransactionType applies when a query names no type.
	TransactionType string
	// Now defaults to time.Now.
	Now func() time.Time
	// RefreshTimeout bounds one shared crawl and merge. It defaults to
	// defaultRefreshTimeout.
	RefreshTimeout time.Duration
}

const (
	defaultRefreshTimeout = 15 * time.Minute
	// persistTimeout bounds the merge and crawl log write that follow a crawl.
	persistTimeout = time.Minute
)

// OptionsFromConfig maps the crawl section of the configuration.
func OptionsFromConfig(cfg config.CrawlConfig) Options {
	return Options{
		CacheTTL:        cfg.CacheTTL(),
		DefaultLookback: time.Duration(cfg.DefaultLookbackDays) * 24 * time.Hour,
		TransactionType: cfg.TransactionType,
	}
}

// Query is a request for one issuer's insider transactions.
type Query struct {
	Symbol   string
	Start    time.Time
	End      time.Time
	Position string
	TypeCode string
	// Refresh forces a crawl even when the cache covers the query.
	Refresh bool
}

// Result is the answer to a Query.
type Result struct {
	EntityID string                    `json:"entity_id"`
	Records  []model.TransactionRecord `json:"records"`
	// FromCache is set when no crawl ran for this query.
	FromCache bool `json:"from_cache"`
	// Incomplete is set when the crawl behind this answer hit a fetch
	// failure; the records may not reach back to the start date.
	Incomplete bool               `json:"incomplete"`
	Run        *model.CrawlRun    `json:"run,omitempty"`
	Merge      *store.MergeResult `json:"merge,omitempty"`
}

// Pipeline orchestrates lookup, cache check, crawl, merge and view.
type Pipeline struct {
	store    store.Store
	resolver Resolver
	crawler  IssuerCrawler
	opts     Options
	flights  singleflight.Group
}

// New creates a Pipeline.
func New(st store.Store, resolver Resolver, c IssuerCrawler, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	return &Pipeline{
		store:    st,
		resolver: resolver,
		crawler:  c,
		opts:     opts,
	}
}

type refreshOutcome struct {
	run   model.CrawlRun
	merge store.MergeResult
}

// Run answers q, crawling and merging first unless a recorded crawl already
// covers it. Fetch failures are absorbed into Result.Incomplete; lookup and
// store failures are returned. Canceling ctx abandons the wait but not a
// crawl already in flight.
func (p *Pipeline) Run(ctx context.Context, q Query) (*Result, error) {
	entityID, err := p.resolver.Lookup(q.Symbol)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: lookup")
	}
	q = p.normalize(q)
	log := zap.L().With(zap.String("symbol", q.Symbol), zap.String("entity_id", entityID))

	res := &Result{EntityID: entityID}
	if !q.Refresh {
		covered, err := p.covered(ctx, entityID, q)
		if err != nil {
			return nil, err
		}
		res.FromCache = covered
	}

	if !res.FromCache {
		start := p.opts.Now()
		// The flight is detached from each caller's cancellation.
		flightCtx := context.WithoutCancel(ctx)
		ch := p.flights.DoChan(flightKey(entityID, q), func() (any, error) {
			fctx, cancel := context.WithTimeout(flightCtx, p.opts.RefreshTimeout)
			defer cancel()
			return p.refresh(fctx, entityID, q)
		})
		var fr singleflight.Result
		select {
		case fr = <-ch:
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "pipeline: wait for refresh")
		}
		if fr.Err != nil {
			return nil, fr.Err
		}
		shared := fr.Shared
		out := fr.Val.(refreshOutcome)
		res.Run = &out.run
		res.Merge = &out.merge
		res.Incomplete = out.run.Status != model.CrawlComplete
		log.Info("pipeline: refresh complete",
			zap.Bool("shared", shared),
			zap.Int("inserted", out.merge.Inserted),
			zap.Bool("incomplete", res.Incomplete),
			zap.Duration("elapsed", p.opts.Now().Sub(start)),
		)
	} else {
		log.Info("pipeline: answered from cache")
	}

	recs, err := p.store.Load(ctx, entityID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load")
	}
	res.Records = view.Apply(recs, viewQuery(q))
	return res, nil
}

// View answers q from the cache alone. It never fetches.
func (p *Pipeline) View(ctx context.Context, q Query) (*Result, error) {
	entityID, err := p.resolver.Lookup(q.Symbol)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: lookup")
	}
	q = p.normalize(q)
	recs, err := p.store.Load(ctx, entityID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load")
	}
	return &Result{
		EntityID:  entityID,
		Records:   view.Apply(recs, viewQuery(q)),
		FromCache: true,
	}, nil
}

// normalize fills the configured defaults into q.
func (p *Pipeline) normalize(q Query) Query {
	if q.Start.IsZero() && p.opts.DefaultLookback > 0 {
		q.Start = model.Day(p.opts.Now().Add(-p.opts.DefaultLookback))
	}
	if q.TypeCode == "" {
		q.TypeCode = p.opts.TransactionType
	}
	q.Position = strings.TrimSpace(q.Position)
	return q
}

// covered reports whether a recorded crawl satisfies q.
func (p *Pipeline) covered(ctx context.Context, entityID string, q Query) (bool, error) {
	runs, err := p.store.LastCrawl(ctx, entityID)
	if err != nil {
		return false, eris.Wrap(err, "pipeline: crawl log")
	}
	freshAfter := time.Time{}
	if p.opts.CacheTTL > 0 {
		freshAfter = p.opts.Now().Add(-p.opts.CacheTTL)
	}
	for _, r := range runs {
		if r.Covers(q.TypeCode, q.Position, q.Start, freshAfter) {
			return true, nil
		}
	}
	return false, nil
}

// refresh crawls, merges and records the crawl run.
func (p *Pipeline) refresh(ctx context.Context, entityID string, q Query) (refreshOutcome, error) {
	run := model.CrawlRun{
		ID:             uuid.New().String(),
		EntityID:       entityID,
		TypeCode:       model.TypeCode(q.TypeCode),
		StartDate:      model.Day(q.Start),
		PositionFilter: q.Position,
		StartedAt:      p.opts.Now().UTC(),
	}

	crawled := p.crawler.CrawlIssuer(ctx, crawler.IssuerRequest{
		EntityID: entityID,
		TypeCode: q.TypeCode,
		Start:    q.Start,
		Position: q.Position,
		Refresh:  q.Refresh,
	})
	for _, ferr := range crawled.Failures {
		zap.L().Warn("pipeline: crawl incomplete",
			zap.String("entity_id", entityID),
			zap.Error(ferr),
		)
	}

	// A canceled crawl still returns what it gathered; persist it regardless.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	merged, err := p.store.Merge(pctx, entityID, crawled.Records)
	if err != nil {
		return refreshOutcome{}, eris.Wrap(err, "pipeline: merge")
	}

	run.Status = model.CrawlComplete
	if crawled.Incomplete {
		run.Status = model.CrawlPartial
	}
	run.Records = len(crawled.Records)
	run.Pages = crawled.Pages
	run.CompletedAt = p.opts.Now().UTC()
	if err := p.store.RecordCrawl(pctx, run); err != nil {
		// The merge already landed; the next query will simply crawl again.
		zap.L().Warn("pipeline: failed to record crawl", zap.String("run_id", run.ID), zap.Error(err))
	}

	return refreshOutcome{run: run, merge: merged}, nil
}

func flightKey(entityID string, q Query) string {
	start := ""
	if !q.Start.IsZero() {
		start = q.Start.Format(model.DateLayout)
	}
	return strings.Join([]string{
		entityID,
		model.TypeCode(q.TypeCode),
		start,
		strings.ToLower(q.Position),
	}, "|")
}

func viewQuery(q Query) view.Query {
	return view.Query{
		Start:    q.Start,
		End:      q.End,
		Position: q.Position,
		TypeCode: q.TypeCode,
	}
}
