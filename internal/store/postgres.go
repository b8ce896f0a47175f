package store

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insider-cli/internal/db"
	"github.com/sells-group/insider-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const recordsTable = "insider_transactions"

const postgresMigration = `
CREATE TABLE IF NOT EXISTS insider_transactions (
	entity_id          TEXT NOT NULL,
	transaction_date   TEXT NOT NULL DEFAULT '',
	owner_name         TEXT NOT NULL,
	position           TEXT NOT NULL DEFAULT '',
	transaction_type   TEXT NOT NULL DEFAULT '',
	shares_transacted  DOUBLE PRECISION NOT NULL DEFAULT 0,
	shares_owned_after DOUBLE PRECISION NOT NULL DEFAULT 0,
	line_number        INTEGER NOT NULL DEFAULT 0,
	owner_id           TEXT NOT NULL DEFAULT '',
	issuer_id          TEXT NOT NULL DEFAULT '',
	acquired_disposed  TEXT NOT NULL DEFAULT '',
	form               TEXT NOT NULL DEFAULT '',
	ownership_nature   TEXT NOT NULL DEFAULT '',
	security_name      TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (entity_id, transaction_date, owner_name, position, shares_owned_after, shares_transacted, line_number)
);

CREATE INDEX IF NOT EXISTS idx_insider_transactions_entity_date
	ON insider_transactions(entity_id, transaction_date DESC, line_number DESC);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	entity_id       TEXT NOT NULL,
	type_code       TEXT NOT NULL DEFAULT '',
	start_date      TEXT NOT NULL DEFAULT '',
	position_filter TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	records         INTEGER NOT NULL DEFAULT 0,
	pages           INTEGER NOT NULL DEFAULT 0,
	started_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crawl_runs_entity ON crawl_runs(entity_id, completed_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, entityID string) ([]model.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(recordColumns, ", ")+` FROM insider_transactions
		 WHERE entity_id = $1
		 ORDER BY (transaction_date = '') ASC, transaction_date DESC, line_number DESC`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s", entityID)
	}
	defer rows.Close()

	recs := []model.TransactionRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: load iterate")
}

// Merge copies recs into a temp table and inserts them with ON CONFLICT DO
// NOTHING in a single transaction.
func (s *PostgresStore) Merge(ctx context.Context, entityID string, recs []model.TransactionRecord) (MergeResult, error) {
	res := MergeResult{Received: len(recs)}
	if len(recs) == 0 {
		return res, nil
	}

	// COPY into the temp table has no conflict handling, so the batch is
	// deduplicated first.
	seen := make(map[model.Identity]struct{}, len(recs))
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		r.EntityID = entityID
		id := r.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, recordValues(entityID, r))
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:           recordsTable,
		Columns:         recordColumns,
		ConflictKeys:    identityColumns,
		IgnoreConflicts: true,
	}, rows)
	if err != nil {
		return res, eris.Wrapf(err, "postgres: merge %s", entityID)
	}
	res.Inserted = int(n)

	zap.L().Debug("postgres: merged records",
		zap.String("entity_id", entityID),
		zap.Int("received", res.Received),
		zap.Int("inserted", res.Inserted),
	)
	return res, nil
}

func (s *PostgresStore) Entities(ctx context.Context) ([]EntitySummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entity_id, COUNT(*)::int,
		        COALESCE(MIN(NULLIF(transaction_date, '')), ''),
		        COALESCE(MAX(transaction_date), '')
		 FROM insider_transactions
		 GROUP BY entity_id
		 ORDER BY entity_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []EntitySummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

func (s *PostgresStore) RecordCrawl(ctx context.Context, run model.CrawlRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_runs (id, entity_id, type_code, start_date, position_filter, status, records, pages, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		crawlRunValues(run)...,
	)
	return eris.Wrapf(err, "postgres: record crawl %s", run.ID)
}

func (s *PostgresStore) LastCrawl(ctx context.Context, entityID string) ([]model.CrawlRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, type_code, start_date, position_filter, status, records, pages, started_at, completed_at
		 FROM crawl_runs WHERE entity_id = $1
		 ORDER BY completed_at DESC LIMIT $2`,
		entityID, crawlLogLimit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: last crawl %s", entityID)
	}
	defer rows.Close()

	var runs []model.CrawlRun
	for rows.Next() {
		r, err := scanCrawlRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan crawl run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: last crawl iterate")
}
