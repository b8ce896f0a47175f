// Package crawler walks the paginated SEC ownership index and joins
// reporting-owner histories against an issuer's owner table.
package crawler

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/insider-cli/internal/config"
	"github.com/sells-group/insider-cli/internal/model"
	"github.com/sells-group/insider-cli/internal/parser"
	"github.com/sells-group/insider-cli/internal/view"
)

// PageFetcher returns the raw page at offset for an issuer or owner
// identifier. Any error means the page is unavailable.
type PageFetcher interface {
	FetchPage(ctx context.Context, id string, kind model.ReportKind, offset int) ([]byte, error)
}

// DefaultPageStride is the number of rows the ownership index serves per page.
const DefaultPageStride = 80

// Options configures a Crawler.
type Options struct {
	// PageStride is added to the offset after each page.
	PageStride int
	// FetchTimeout bounds each page fetch. Zero means no per-fetch limit.
	FetchTimeout time.Duration
	// MaxPages stops a single crawl after this many pages. Zero is unlimited.
	MaxPages int
	// MaxConcurrentOwners bounds concurrent owner crawls in CrawlIssuer.
	MaxConcurrentOwners int
}

// OptionsFromConfig maps the crawl section of the configuration.
func OptionsFromConfig(cfg config.CrawlConfig) Options {
	return Options{
		PageStride:          cfg.PageStride,
		FetchTimeout:        cfg.FetchTimeout(),
		MaxPages:            cfg.MaxPages,
		MaxConcurrentOwners: cfg.MaxConcurrentOwners,
	}
}

// Crawler drives the page fetcher and parser.
type Crawler struct {
	pages  PageFetcher
	opts   Options
	owners *OwnerIndexCache
}

// New creates a Crawler.
func New(pages PageFetcher, opts Options) *Crawler {
	if opts.PageStride <= 0 {
		opts.PageStride = DefaultPageStride
	}
	if opts.MaxConcurrentOwners <= 0 {
		opts.MaxConcurrentOwners = 4
	}
	return &Crawler{pages: pages, opts: opts}
}

// WithOwnerCache makes CrawlIssuer reuse owner indexes from cache.
func (c *Crawler) WithOwnerCache(cache *OwnerIndexCache) *Crawler {
	c.owners = cache
	return c
}

// Request describes one paginated crawl.
type Request struct {
	Identifier string
	Kind       model.ReportKind
	// TypeCode keeps only rows of this transaction type; empty keeps all.
	TypeCode string
	// Start is the earliest transaction date of interest. Pagination stops
	// after the first page holding an earlier date. Zero crawls to the end.
	Start time.Time

	// first holds the parsed rows of the page at offset 0 when the caller
	// has already fetched it.
	first      []model.TransactionRecord
	prefetched bool
}

// StopReason says why a crawl ended.
type StopReason string

const (
	StopEndOfData     StopReason = "end_of_data"
	StopReachedStart  StopReason = "reached_start"
	StopIndeterminate StopReason = "indeterminate_date"
	StopUnavailable   StopReason = "unavailable"
	StopMaxPages      StopReason = "max_pages"
	StopCanceled      StopReason = "canceled"
)

// Result is the outcome of one crawl. Records hold everything accumulated
// before the stop, including on failure.
type Result struct {
	Records []model.TransactionRecord
	// Pages counts pages that were fetched and parsed.
	Pages int
	Stop  StopReason
	// Err is the fetch or context error that ended the crawl, if any.
	Err error
}

// Truncated reports whether the crawl stopped before reaching its start date
// or the end of the data.
func (r Result) Truncated() bool {
	switch r.Stop {
	case StopUnavailable, StopMaxPages, StopCanceled:
		return true
	}
	return false
}

// Crawl fetches successive pages until the data runs out, a page reaches back
// past req.Start, or a fetch fails. Fetch failures are not returned as
// errors; they end the crawl and are reported in Result.
func (c *Crawler) Crawl(ctx context.Context, req Request) Result {
	log := zap.L().With(
		zap.String("id", req.Identifier),
		zap.String("kind", string(req.Kind)),
	)
	keep := view.TypeIs(req.TypeCode)
	start := model.Day(req.Start)

	var res Result
	for offset := 0; ; offset += c.opts.PageStride {
		if err := ctx.Err(); err != nil {
			res.Stop, res.Err = StopCanceled, err
			break
		}
		if c.opts.MaxPages > 0 && res.Pages >= c.opts.MaxPages {
			log.Warn("crawler: page limit reached", zap.Int("pages", res.Pages))
			res.Stop = StopMaxPages
			break
		}

		var (
			rows []model.TransactionRecord
			err  error
		)
		if offset == 0 && req.prefetched {
			rows = req.first
		} else {
			rows, err = c.fetch(ctx, req.Identifier, req.Kind, offset)
		}
		if err != nil {
			log.Warn("crawler: page unavailable, stopping",
				zap.Int("offset", offset),
				zap.Error(err),
			)
			res.Stop, res.Err = StopUnavailable, err
			break
		}
		if len(rows) == 0 {
			res.Stop = StopEndOfData
			break
		}
		res.Pages++

		for _, r := range rows {
			if keep(r) {
				res.Records = append(res.Records, r)
			}
		}

		earliest, known := earliestDate(rows)
		if !known {
			res.Stop = StopIndeterminate
			break
		}
		if !start.IsZero() && earliest.Before(start) {
			res.Stop = StopReachedStart
			break
		}
	}

	log.Debug("crawler: crawl finished",
		zap.String("stop", string(res.Stop)),
		zap.Int("pages", res.Pages),
		zap.Int("records", len(res.Records)),
	)
	return res
}

// fetchDoc fetches and parses one page under the per-fetch timeout.
func (c *Crawler) fetchDoc(ctx context.Context, id string, kind model.ReportKind, offset int) (*goquery.Document, error) {
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}
	body, err := c.pages.FetchPage(ctx, id, kind, offset)
	if err != nil {
		return nil, err
	}
	return parser.NewDocumentBytes(body)
}

func (c *Crawler) fetch(ctx context.Context, id string, kind model.ReportKind, offset int) ([]model.TransactionRecord, error) {
	doc, err := c.fetchDoc(ctx, id, kind, offset)
	if err != nil {
		return nil, err
	}
	return parser.ParseTransactions(doc, kind), nil
}

// earliestDate returns the minimum transaction date across rows. known is
// false when any row's date is indeterminate.
func earliestDate(rows []model.TransactionRecord) (earliest time.Time, known bool) {
	for i, r := range rows {
		if !r.DateKnown() {
			return time.Time{}, false
		}
		d := model.Day(r.TransactionDate)
		if i == 0 || d.Before(earliest) {
			earliest = d
		}
	}
	return earliest, true
}
