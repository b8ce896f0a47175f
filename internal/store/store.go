// Package store persists the deduplicated transaction cache and the crawl
// log.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insider-cli/internal/config"
	"github.com/sells-group/insider-cli/internal/model"
)

// MergeResult summarizes one merge.
type MergeResult struct {
	// Received is the number of records passed in.
	Received int `json:"received"`
	// Inserted is the number of records that were not already cached.
	Inserted int `json:"inserted"`
}

// Duplicates is the number of received records that were already cached or
// repeated within the batch.
func (m MergeResult) Duplicates() int {
	return m.Received - m.Inserted
}

// EntitySummary describes one cached entity.
type EntitySummary struct {
	EntityID string    `json:"entity_id"`
	Records  int       `json:"records"`
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// Store is the persisted record cache.
type Store interface {
	// Load returns every cached record of entityID, newest first, line
	// number descending within a day. An unknown entity yields no records.
	Load(ctx context.Context, entityID string) ([]model.TransactionRecord, error)
	// Merge adds recs to entityID's cache, skipping records whose identity is
	// already present. The merge is atomic and idempotent.
	Merge(ctx context.Context, entityID string, recs []model.TransactionRecord) (MergeResult, error)
	Entities(ctx context.Context) ([]EntitySummary, error)

	// Crawl log
	RecordCrawl(ctx context.Context, run model.CrawlRun) error
	// LastCrawl returns entityID's most recent crawl runs, newest first.
	LastCrawl(ctx context.Context, entityID string) ([]model.CrawlRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// crawlLogLimit bounds LastCrawl results.
const crawlLogLimit = 50

// Open connects to the configured backend and runs migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		st, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// recordColumns is the column order shared by inserts and selects.
var recordColumns = []string{
	"entity_id",
	"transaction_date",
	"owner_name",
	"position",
	"transaction_type",
	"shares_transacted",
	"shares_owned_after",
	"line_number",
	"owner_id",
	"issuer_id",
	"acquired_disposed",
	"form",
	"ownership_nature",
	"security_name",
}

// identityColumns form the UNIQUE constraint on cached records.
var identityColumns = []string{
	"entity_id",
	"transaction_date",
	"owner_name",
	"position",
	"shares_owned_after",
	"shares_transacted",
	"line_number",
}

// recordValues flattens r in recordColumns order. Indeterminate dates and
// unjoined positions are stored as empty strings so they take part in the
// UNIQUE constraint.
func recordValues(entityID string, r model.TransactionRecord) []any {
	return []any{
		entityID,
		r.DateString(),
		r.OwnerName,
		r.Position,
		r.TransactionType,
		r.SharesTransacted,
		r.SharesOwnedAfter,
		r.LineNumber,
		r.OwnerID,
		r.IssuerID,
		r.AcquiredDisposed,
		r.Form,
		r.OwnershipNature,
		r.SecurityName,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (model.TransactionRecord, error) {
	var r model.TransactionRecord
	var date string
	err := row.Scan(
		&r.EntityID,
		&date,
		&r.OwnerName,
		&r.Position,
		&r.TransactionType,
		&r.SharesTransacted,
		&r.SharesOwnedAfter,
		&r.LineNumber,
		&r.OwnerID,
		&r.IssuerID,
		&r.AcquiredDisposed,
		&r.Form,
		&r.OwnershipNature,
		&r.SecurityName,
	)
	if err != nil {
		return r, err
	}
	r.TransactionDate = model.ParseDate(date)
	return r, nil
}

func scanSummary(row scannable) (EntitySummary, error) {
	var s EntitySummary
	var earliest, latest string
	if err := row.Scan(&s.EntityID, &s.Records, &earliest, &latest); err != nil {
		return s, err
	}
	s.Earliest = model.ParseDate(earliest)
	s.Latest = model.ParseDate(latest)
	return s, nil
}
