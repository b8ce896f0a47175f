package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/insider-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS insider_transactions (
	entity_id          TEXT NOT NULL,
	transaction_date   TEXT NOT NULL DEFAULT '',
	owner_name         TEXT NOT NULL,
	position           TEXT NOT NULL DEFAULT '',
	transaction_type   TEXT NOT NULL DEFAULT '',
	shares_transacted  REAL NOT NULL DEFAULT 0,
	shares_owned_after REAL NOT NULL DEFAULT 0,
	line_number        INTEGER NOT NULL DEFAULT 0,
	owner_id           TEXT NOT NULL DEFAULT '',
	issuer_id          TEXT NOT NULL DEFAULT '',
	acquired_disposed  TEXT NOT NULL DEFAULT '',
	form               TEXT NOT NULL DEFAULT '',
	ownership_nature   TEXT NOT NULL DEFAULT '',
	security_name      TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (entity_id, transaction_date, owner_name, position, shares_owned_after, shares_transacted, line_number)
);

CREATE INDEX IF NOT EXISTS idx_insider_transactions_entity_date
	ON insider_transactions(entity_id, transaction_date DESC, line_number DESC);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id              TEXT PRIMARY KEY,
	entity_id       TEXT NOT NULL,
	type_code       TEXT NOT NULL DEFAULT '',
	start_date      TEXT NOT NULL DEFAULT '',
	position_filter TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	records         INTEGER NOT NULL DEFAULT 0,
	pages           INTEGER NOT NULL DEFAULT 0,
	started_at      DATETIME NOT NULL,
	completed_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crawl_runs_entity ON crawl_runs(entity_id, completed_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, entityID string) ([]model.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(recordColumns, ", ")+` FROM insider_transactions
		 WHERE entity_id = ?
		 ORDER BY (transaction_date = '') ASC, transaction_date DESC, line_number DESC`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s", entityID)
	}
	defer rows.Close() //nolint:errcheck

	recs := []model.TransactionRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: load iterate")
}

func (s *SQLiteStore) Merge(ctx context.Context, entityID string, recs []model.TransactionRecord) (MergeResult, error) {
	res := MergeResult{Received: len(recs)}
	if len(recs) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "sqlite: merge: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO insider_transactions (`+strings.Join(recordColumns, ", ")+`)
		 VALUES (`+placeholders+`)
		 ON CONFLICT DO NOTHING`,
	)
	if err != nil {
		return res, eris.Wrap(err, "sqlite: merge: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range recs {
		out, err := stmt.ExecContext(ctx, recordValues(entityID, r)...)
		if err != nil {
			return res, eris.Wrapf(err, "sqlite: merge: insert %s line %d", entityID, r.LineNumber)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return res, eris.Wrap(err, "sqlite: merge: rows affected")
		}
		res.Inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return MergeResult{Received: len(recs)}, eris.Wrap(err, "sqlite: merge: commit")
	}
	return res, nil
}

func (s *SQLiteStore) Entities(ctx context.Context) ([]EntitySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, COUNT(*),
		        COALESCE(MIN(NULLIF(transaction_date, '')), ''),
		        COALESCE(MAX(transaction_date), '')
		 FROM insider_transactions
		 GROUP BY entity_id
		 ORDER BY entity_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close() //nolint:errcheck

	var out []EntitySummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

func (s *SQLiteStore) RecordCrawl(ctx context.Context, run model.CrawlRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_runs (id, entity_id, type_code, start_date, position_filter, status, records, pages, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		crawlRunValues(run)...,
	)
	return eris.Wrapf(err, "sqlite: record crawl %s", run.ID)
}

func (s *SQLiteStore) LastCrawl(ctx context.Context, entityID string) ([]model.CrawlRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, type_code, start_date, position_filter, status, records, pages, started_at, completed_at
		 FROM crawl_runs WHERE entity_id = ?
		 ORDER BY completed_at DESC LIMIT ?`,
		entityID, crawlLogLimit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last crawl %s", entityID)
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.CrawlRun
	for rows.Next() {
		r, err := scanCrawlRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan crawl run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: last crawl iterate")
}

func crawlRunValues(run model.CrawlRun) []any {
	start := ""
	if !run.StartDate.IsZero() {
		start = run.StartDate.Format(model.DateLayout)
	}
	return []any{
		run.ID,
		run.EntityID,
		model.TypeCode(run.TypeCode),
		start,
		run.PositionFilter,
		string(run.Status),
		run.Records,
		run.Pages,
		run.StartedAt.UTC(),
		run.CompletedAt.UTC(),
	}
}

func scanCrawlRun(row scannable) (model.CrawlRun, error) {
	var r model.CrawlRun
	var start, status string
	err := row.Scan(&r.ID, &r.EntityID, &r.TypeCode, &start, &r.PositionFilter, &status,
		&r.Records, &r.Pages, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return r, err
	}
	r.StartDate = model.ParseDate(start)
	r.Status = model.CrawlStatus(status)
	return r, nil
}
