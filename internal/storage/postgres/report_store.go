package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// DefaultReportTable is used when no table name is configured.
const DefaultReportTable = "crawl_reports"

// ReportStore indexes persisted reports in Postgres.
type ReportStore struct {
	pool  execCloser
	table string
}

// NewReportStore wraps pool. table defaults to DefaultReportTable.
func NewReportStore(pool execCloser, table string) (*ReportStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultReportTable)
	if err != nil {
		return nil, err
	}
	return &ReportStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the report table when it does not exist.
func (s *ReportStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	run_id        UUID NOT NULL,
	generated_at  TIMESTAMPTZ NOT NULL,
	strategy      TEXT NOT NULL,
	total_count   INTEGER NOT NULL,
	success_count INTEGER NOT NULL,
	failure_count INTEGER NOT NULL,
	blob_uri      TEXT NOT NULL,
	content_hash  TEXT NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ReportStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreReport inserts one report row. Re-storing the same ID is a no-op.
func (s *ReportStore) StoreReport(ctx context.Context, record crawler.ReportRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("report store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if record.SuccessCount+record.FailureCount != record.TotalCount {
		return fmt.Errorf("report %s counts do not add up", record.ID)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_id,
	generated_at,
	strategy,
	total_count,
	success_count,
	failure_count,
	blob_uri,
	content_hash
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (id) DO NOTHING`, s.table)

	args := []any{
		record.ID,
		record.RunID,
		record.GeneratedAt,
		record.Strategy,
		record.TotalCount,
		record.SuccessCount,
		record.FailureCount,
		record.BlobURI,
		record.ContentHash,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}
