package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/docucrawl/internal/store"
)

const runSchema = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	total         INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS crawl_site_stats (
	run_id      UUID NOT NULL REFERENCES crawl_runs (id) ON DELETE CASCADE,
	site        TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	succeeded   BIGINT NOT NULL DEFAULT 0,
	failed      BIGINT NOT NULL DEFAULT 0,
	chars       BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, site)
);`

const (
	runColumns  = "id, started_at, finished_at, status, total, error_message"
	siteColumns = "run_id, site, last_update, succeeded, failed, chars"

	startRunSQL = `
INSERT INTO crawl_runs (id, started_at, status, total)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET total = EXCLUDED.total
WHERE crawl_runs.finished_at IS NULL`

	completeRunSQL = `
UPDATE crawl_runs SET finished_at = $1, status = $2, error_message = $3
WHERE id = $4`

	addSiteStatsSQL = `
INSERT INTO crawl_site_stats (` + siteColumns + `)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, site) DO UPDATE SET
	succeeded   = crawl_site_stats.succeeded + EXCLUDED.succeeded,
	failed      = crawl_site_stats.failed + EXCLUDED.failed,
	chars       = crawl_site_stats.chars + EXCLUDED.chars,
	last_update = GREATEST(crawl_site_stats.last_update, EXCLUDED.last_update)`

	getRunSQL   = `SELECT ` + runColumns + ` FROM crawl_runs WHERE id = $1`
	listRunsSQL = `SELECT ` + runColumns + ` FROM crawl_runs
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`
	listSitesSQL = `SELECT ` + siteColumns + ` FROM crawl_site_stats
WHERE run_id = $1
ORDER BY site
LIMIT $2 OFFSET $3`
)

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool querier
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps an open pool.
func NewRunStore(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// EnsureSchema creates crawl_runs and crawl_site_stats when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, runSchema); err != nil {
		return fmt.Errorf("create run tables: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// UpsertRunStart inserts a running row. Replays refresh total until the run
// finishes.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, total int, startedAt time.Time) error {
	if _, err := s.pool.Exec(ctx, startRunSQL, runID, startedAt, store.RunRunning, total); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun records the final status. Unknown runs return store.ErrNotFound.
func (s *RunStore) CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus, errMsg *string) error {
	tag, err := s.pool.Exec(ctx, completeRunSQL, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// UpsertSiteStats adds delta to the (run, site) counters.
func (s *RunStore) UpsertSiteStats(ctx context.Context, runID uuid.UUID, site string, delta store.SiteDelta, at time.Time) error {
	if _, err := s.pool.Exec(ctx, addSiteStatsSQL, runID, site, at, delta.Succeeded, delta.Failed, delta.Chars); err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}

// GetRun loads one run or returns store.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	var run store.Run
	if err := s.pool.QueryRow(ctx, getRunSQL, runID).Scan(runTargets(&run)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally only those in status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	rows, err := s.pool.Query(ctx, listRunsSQL, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var run store.Run
	runs, err := collect(rows, &run, runTargets(&run))
	if err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}
	return runs, nil
}

// ListRunSites returns one run's per-site counters ordered by site.
func (s *RunStore) ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.SiteStats, error) {
	rows, err := s.pool.Query(ctx, listSitesSQL, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	var st store.SiteStats
	stats, err := collect(rows, &st, []any{&st.RunID, &st.Site, &st.LastUpdate, &st.Succeeded, &st.Failed, &st.Chars})
	if err != nil {
		return nil, fmt.Errorf("read run sites: %w", err)
	}
	return stats, nil
}

func runTargets(r *store.Run) []any {
	return []any{&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Total, &r.ErrorMessage}
}

// collect scans every row into targets, which point into row, and appends a
// copy of row after each scan. rows is always closed.
func collect[T any](rows pgx.Rows, row *T, targets []any) ([]T, error) {
	out := []T{}
	_, err := pgx.ForEachRow(rows, targets, func() error {
		out = append(out, *row)
		// Reset pointer fields so the next row does not share them.
		var zero T
		*row = zero
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
