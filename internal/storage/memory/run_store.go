package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/docucrawl/internal/store"
)

// RunStore implements store.RunRepository in memory.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]store.Run
	sites map[uuid.UUID]map[string]store.SiteStats
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[uuid.UUID]store.Run),
		sites: make(map[uuid.UUID]map[string]store.SiteStats),
	}
}

// UpsertRunStart records a running run; replays only refresh Total.
func (s *RunStore) UpsertRunStart(_ context.Context, runID uuid.UUID, total int, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		if run.FinishedAt == nil {
			run.Total = total
			s.runs[runID] = run
		}
		return nil
	}
	s.runs[runID] = store.Run{
		ID:        runID,
		StartedAt: startedAt,
		Status:    store.RunRunning,
		Total:     total,
	}
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	ts := finishedAt
	run.FinishedAt = &ts
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// UpsertSiteStats adds delta to the (run, site) aggregate.
func (s *RunStore) UpsertSiteStats(
	_ context.Context,
	runID uuid.UUID,
	site string,
	delta store.SiteDelta,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySite := s.sites[runID]
	if bySite == nil {
		bySite = make(map[string]store.SiteStats)
		s.sites[runID] = bySite
	}
	stat := bySite[site]
	stat.RunID = runID
	stat.Site = site
	stat.Succeeded += delta.Succeeded
	stat.Failed += delta.Failed
	stat.Chars += delta.Chars
	if at.After(stat.LastUpdate) {
		stat.LastUpdate = at
	}
	bySite[site] = stat
	return nil
}

// GetRun returns a run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return page(runs, limit, offset), nil
}

// ListRunSites returns the site aggregates of a run ordered by site.
func (s *RunStore) ListRunSites(_ context.Context, runID uuid.UUID, limit, offset int) ([]store.SiteStats, error) {
	s.mu.RLock()
	stats := make([]store.SiteStats, 0, len(s.sites[runID]))
	for _, stat := range s.sites[runID] {
		stats = append(stats, stat)
	}
	s.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Site < stats[j].Site })
	return page(stats, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
