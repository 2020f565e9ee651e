// Package store declares interfaces for persisting crawl run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunCanceled RunStatus = "canceled"
)

// ParseRunStatus accepts the persisted values plus a few aliases.
func ParseRunStatus(input string) (RunStatus, error) {
	switch input {
	case "running":
		return RunRunning, nil
	case "success", "done", "complete":
		return RunSuccess, nil
	case "canceled", "cancelled", "error":
		return RunCanceled, nil
	default:
		return "", errors.New("invalid status")
	}
}

// Run models one row of crawl_runs.
type Run struct {
	ID        uuid.UUID
	StartedAt time.Time
	// FinishedAt is nil while the run is still going.
	FinishedAt *time.Time
	Status     RunStatus
	// Total is the number of tasks (input URLs) in the run.
	Total        int
	ErrorMessage *string
}

// SiteDelta is an increment applied to one (run, site) aggregate.
type SiteDelta struct {
	Succeeded int64
	Failed    int64
	// Chars accumulates markdown length of successful documents.
	Chars int64
}

// IsZero reports whether applying the delta would change nothing.
func (d SiteDelta) IsZero() bool {
	return d.Succeeded == 0 && d.Failed == 0 && d.Chars == 0
}

// SiteStats captures the per-host aggregate of a run.
type SiteStats struct {
	RunID      uuid.UUID
	Site       string
	LastUpdate time.Time
	Succeeded  int64
	Failed     int64
	Chars      int64
}

// RunRepository persists run lifecycle and per-site counters.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently refreshes) a running row.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, total int, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertSiteStats applies delta to the (run, site) aggregate.
	UpsertSiteStats(ctx context.Context, runID uuid.UUID, site string, delta SiteDelta, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, filtered by an optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunSites returns the site aggregates of one run.
	ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SiteStats, error)
}
