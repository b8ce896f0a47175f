package main

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insider-cli/internal/crawler"
	"github.com/sells-group/insider-cli/internal/fetcher"
	"github.com/sells-group/insider-cli/internal/lookup"
	"github.com/sells-group/insider-cli/internal/model"
	"github.com/sells-group/insider-cli/internal/pipeline"
	"github.com/sells-group/insider-cli/internal/store"
)

// insiderEnv holds the store, ticker table and pipeline shared by the
// crawl/view/serve commands.
type insiderEnv struct {
	Store    store.Store
	Lookup   *lookup.Table
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *insiderEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// newFetcher builds the rate-limited SEC transport from config.
func newFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.EDGAR.UserAgent,
		Timeout:      time.Duration(cfg.EDGAR.TimeoutSecs) * time.Second,
		MaxRetries:   cfg.EDGAR.MaxRetries,
		RatePerSec:   cfg.EDGAR.RatePerSec,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
}

// initEnv validates the config for mode, opens the store, loads the ticker
// table and builds the Pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*insiderEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	f := newFetcher()
	table, err := lookup.Load(ctx, cfg.Lookup, f)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	pages := fetcher.NewEDGARPages(f, cfg.EDGAR.BaseURL)
	c := crawler.New(pages, crawler.OptionsFromConfig(cfg.Crawl)).
		WithOwnerCache(crawler.NewOwnerIndexCache(cfg.Crawl.OwnerIndexTTL()))

	return &insiderEnv{
		Store:    st,
		Lookup:   table,
		Pipeline: pipeline.New(st, table, c, pipeline.OptionsFromConfig(cfg.Crawl)),
	}, nil
}

// parseDate accepts YYYY-MM-DD or YYYYMMDD. Blank input is the zero time.
func parseDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t := model.ParseDate(s)
	if t.IsZero() {
		return time.Time{}, eris.Errorf("invalid date %q: want YYYY-MM-DD or YYYYMMDD", s)
	}
	return t, nil
}
