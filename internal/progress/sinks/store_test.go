package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docucrawl/internal/progress"
	"github.com/JakeFAU/docucrawl/internal/store"
)

// TestStoreSinkPersistsEvents ensures task outcomes are collapsed per site before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now, Total: 3},
		{RunID: runID, Stage: progress.StageTaskStart, TS: now, URL: "https://example.com/a", Site: "example.com"},
		{RunID: runID, Stage: progress.StageTaskDone, TS: now.Add(time.Second), URL: "https://example.com/a", Site: "example.com", Bytes: 100},
		{RunID: runID, Stage: progress.StageTaskDone, TS: now.Add(2 * time.Second), URL: "https://example.com/b", Site: "example.com", Bytes: 50},
		{RunID: runID, Stage: progress.StageTaskError, TS: now.Add(2 * time.Second), URL: "raw:<p>", Note: "retrieval"},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(3 * time.Second), Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	require.Equal(t, 3, repo.totals[0])
	require.Equal(t, []store.RunStatus{store.RunSuccess}, repo.statuses)
	require.Len(t, repo.siteStats, 2)

	example := repo.siteStats[0]
	require.Equal(t, "example.com", example.site)
	require.Equal(t, store.SiteDelta{Succeeded: 2, Chars: 150}, example.delta)
	require.Equal(t, now.Add(2*time.Second), example.at)

	unknown := repo.siteStats[1]
	require.Equal(t, "unknown", unknown.site)
	require.Equal(t, store.SiteDelta{Failed: 1}, unknown.delta)
}

func TestStoreSinkWritesSitesBeforeCompletingRun(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	first := progress.UUIDToBytes(uuid.New())
	second := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: first, Stage: progress.StageTaskDone, TS: now, URL: "https://docs.a.test/x", Site: "docs.a.test", Bytes: 10},
		{RunID: first, Stage: progress.StageRunDone, TS: now},
		{RunID: second, Stage: progress.StageRunStart, TS: now, Total: 1},
		{RunID: second, Stage: progress.StageTaskError, TS: now, URL: "https://docs.b.test/y", Site: "docs.b.test"},
	}))
	require.Equal(t, []string{"sites:docs.a.test", "complete:success", "start", "sites:docs.b.test"}, repo.calls)
}

// TestStoreSinkRunError records cancellation with the note as the error message.
func TestStoreSinkRunError(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunError, TS: time.Now(), Note: "crawl canceled"},
	}))
	require.Equal(t, []store.RunStatus{store.RunCanceled}, repo.statuses)
	require.Equal(t, "crawl canceled", repo.messages[0])
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.Error(t, err)

	err = sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageTaskDone, TS: time.Now(), URL: "https://a.test", Site: "a.test", Bytes: 1},
	})
	require.ErrorContains(t, err, "upsert site stats")
}

// TestStoreSinkNilRepository is a no-op.
func TestStoreSinkNilRepository(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageRunStart}}))
}

type fakeRunRepo struct {
	fail      bool
	starts    []uuid.UUID
	totals    []int
	statuses  []store.RunStatus
	messages  []string
	siteStats []siteCall
	calls     []string
}

type siteCall struct {
	runID uuid.UUID
	site  string
	delta store.SiteDelta
	at    time.Time
}

var errRepo = errors.New("repository unavailable")

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, runID uuid.UUID, total int, _ time.Time) error {
	if f.fail {
		return errRepo
	}
	f.calls = append(f.calls, "start")
	f.starts = append(f.starts, runID)
	f.totals = append(f.totals, total)
	return nil
}

func (f *fakeRunRepo) CompleteRun(
	_ context.Context,
	_ uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if f.fail {
		return errRepo
	}
	f.calls = append(f.calls, "complete:"+string(status))
	f.statuses = append(f.statuses, status)
	if errMsg != nil {
		f.messages = append(f.messages, *errMsg)
	}
	return nil
}

func (f *fakeRunRepo) UpsertSiteStats(
	_ context.Context,
	runID uuid.UUID,
	site string,
	delta store.SiteDelta,
	at time.Time,
) error {
	if f.fail {
		return errRepo
	}
	f.calls = append(f.calls, "sites:"+site)
	f.siteStats = append(f.siteStats, siteCall{runID: runID, site: site, delta: delta, at: at})
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, errRepo
}

func (f *fakeRunRepo) ListRunSites(context.Context, uuid.UUID, int, int) ([]store.SiteStats, error) {
	return nil, errRepo
}
