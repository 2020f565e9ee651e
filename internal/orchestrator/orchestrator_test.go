package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/id/uuid"
	"github.com/JakeFAU/docucrawl/internal/progress"
	"github.com/JakeFAU/docucrawl/internal/worker"
)

// behavior scripts how fakeFetcher answers one URL.
type behavior struct {
	delay   time.Duration
	err     error
	blockOn bool
}

type fakeFetcher struct {
	mu        sync.Mutex
	behaviors map[string]behavior
	finished  []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, record func(crawler.Attempt)) (crawler.FetchOutcome, error) {
	f.mu.Lock()
	b := f.behaviors[url]
	f.mu.Unlock()

	if b.blockOn {
		<-ctx.Done()
		record(crawler.Attempt{Strategy: crawler.StrategyDirectHTTP, Try: 1, Outcome: crawler.OutcomeTimeout, Err: ctx.Err().Error()})
		return crawler.FetchOutcome{}, &crawler.CancellationError{Cause: ctx.Err()}
	}
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return crawler.FetchOutcome{}, &crawler.CancellationError{Cause: ctx.Err()}
		}
	}
	defer func() {
		f.mu.Lock()
		f.finished = append(f.finished, url)
		f.mu.Unlock()
	}()
	if b.err != nil {
		record(crawler.Attempt{Strategy: crawler.StrategyDirectHTTP, Try: 1, Outcome: crawler.OutcomeError, Err: b.err.Error()})
		return crawler.FetchOutcome{}, &crawler.RetrievalError{URL: url, Attempts: 1, Last: b.err}
	}
	record(crawler.Attempt{Strategy: crawler.StrategyDirectHTTP, Try: 1, Outcome: crawler.OutcomeSuccess})
	return crawler.FetchOutcome{URL: url, HTML: "<p>" + url + "</p>", Strategy: crawler.StrategyDirectHTTP, StatusCode: 200}, nil
}

func (f *fakeFetcher) completionOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finished...)
}

type echoTransformer struct{}

func (echoTransformer) Transform(outcome crawler.FetchOutcome, _ crawler.ExtractionConfig) (crawler.Document, error) {
	return crawler.Document{
		URL:         outcome.URL,
		Title:       "Page " + outcome.URL,
		ContentKind: crawler.ContentFitMarkdown,
		Markdown:    "content of " + outcome.URL,
		Strategy:    outcome.Strategy,
	}, nil
}

type recordingPauser struct {
	count atomic.Int32
}

func (p *recordingPauser) Pause(context.Context, time.Duration) error {
	p.count.Add(1)
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) snapshot() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func newTestOrchestrator(t *testing.T, fetcher worker.Fetcher, opts ...Option) (*Orchestrator, *recordingPauser) {
	t.Helper()
	pauser := &recordingPauser{}
	w := worker.New(fetcher, echoTransformer{}, worker.WithPauser(pauser), worker.WithLogger(zap.NewNop()))
	return New(w, opts...), pauser
}

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "https://site" + string(rune('a'+i)) + ".example/"
	}
	return out
}

func limits(concurrency int) crawler.Limits {
	return crawler.Limits{Concurrency: concurrency}
}

func TestRunCountsWithOneFailure(t *testing.T) {
	t.Parallel()

	input := urls(3)
	fetcher := &fakeFetcher{behaviors: map[string]behavior{input[1]: {err: errors.New("connection refused")}}}
	orch, _ := newTestOrchestrator(t, fetcher)

	report, err := orch.Run(context.Background(), input, crawler.DefaultExtractionConfig(), limits(2))
	require.NoError(t, err)
	require.Equal(t, 3, report.TotalCount)
	require.Equal(t, 2, report.SuccessCount)
	require.Equal(t, 1, report.FailureCount)
	require.False(t, report.Blocks[1].Succeeded)
	require.Contains(t, report.Blocks[1].Text, "connection refused")
}

func TestRunCountInvariantAcrossLimits(t *testing.T) {
	t.Parallel()

	input := urls(7)
	fetcher := &fakeFetcher{behaviors: map[string]behavior{
		input[0]: {err: errors.New("dns")},
		input[4]: {err: errors.New("503")},
	}}
	orch, _ := newTestOrchestrator(t, fetcher)
	for _, limit := range []int{1, 2, 7, 20} {
		report, err := orch.Run(context.Background(), input, crawler.DefaultExtractionConfig(), limits(limit))
		require.NoError(t, err)
		require.Equal(t, len(input), report.TotalCount)
		require.Equal(t, report.TotalCount, report.SuccessCount+report.FailureCount)
		require.Equal(t, 2, report.FailureCount, "limit %d", limit)
	}
}

func TestRunOrdersBlocksByIndex(t *testing.T) {
	t.Parallel()

	input := urls(4)
	fetcher := &fakeFetcher{behaviors: map[string]behavior{input[0]: {delay: 150 * time.Millisecond}}}
	orch, _ := newTestOrchestrator(t, fetcher)

	report, err := orch.Run(context.Background(), input, crawler.DefaultExtractionConfig(), limits(4))
	require.NoError(t, err)

	order := fetcher.completionOrder()
	require.Equal(t, input[0], order[len(order)-1], "slow task should finish last")
	for i, block := range report.Blocks {
		require.Equal(t, i, block.Index)
		require.Equal(t, input[i], block.URL)
	}
}

// countingRunner records how many tasks are in flight at once.
type countingRunner struct {
	current atomic.Int32
	max     atomic.Int32
	hold    time.Duration
}

func (c *countingRunner) Run(ctx context.Context, _ worker.Job, task *crawler.URLTask, notify func()) {
	if err := task.Start(time.Now()); err != nil {
		return
	}
	n := c.current.Add(1)
	for {
		seen := c.max.Load()
		if n <= seen || c.max.CompareAndSwap(seen, n) {
			break
		}
	}
	notify()
	time.Sleep(c.hold)
	c.current.Add(-1)
	_ = task.Succeed(crawler.Document{URL: task.URL(), Markdown: "ok"}, time.Now())
	notify()
}

func TestRunBoundsInFlightTasks(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{hold: 20 * time.Millisecond}
	orch := New(runner)

	run, err := orch.Start(context.Background(), urls(10), crawler.DefaultExtractionConfig(), limits(3))
	require.NoError(t, err)

	sub := run.Subscribe()
	defer sub.Unsubscribe()
	for snap := range sub.C() {
		require.Len(t, snap.InFlightURL, snap.InFlight)
	}

	report, err := run.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, report.SuccessCount)
	require.LessOrEqual(t, runner.max.Load(), int32(3))
	require.Equal(t, int32(3), runner.max.Load())
}

func TestRunCancelAfterFirstTask(t *testing.T) {
	t.Parallel()

	input := urls(5)
	behaviors := map[string]behavior{}
	for _, u := range input[1:] {
		behaviors[u] = behavior{blockOn: true}
	}
	fetcher := &fakeFetcher{behaviors: behaviors}
	orch, _ := newTestOrchestrator(t, fetcher)

	run, err := orch.Start(context.Background(), input, crawler.DefaultExtractionConfig(), limits(1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return run.Tasks()[1].Status == crawler.StatusInFlight
	}, time.Second, 5*time.Millisecond)
	run.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	report, err := run.Wait(ctx)
	require.NoError(t, err)
	require.True(t, run.Canceled())

	require.Equal(t, 1, report.SuccessCount)
	require.Equal(t, 4, report.FailureCount)
	views := run.Tasks()
	require.Equal(t, crawler.StatusSucceeded, views[0].Status)
	for _, view := range views[1:] {
		require.Equal(t, crawler.StatusFailed, view.Status)
		require.Equal(t, crawler.KindCancellation, crawler.KindOf(view.Failure), view.URL)
	}
	require.Contains(t, report.Blocks[4].Text, "Error (cancellation)")
}

func TestRunParentContextCancel(t *testing.T) {
	t.Parallel()

	input := urls(3)
	fetcher := &fakeFetcher{behaviors: map[string]behavior{input[0]: {blockOn: true}, input[1]: {blockOn: true}, input[2]: {blockOn: true}}}
	orch, _ := newTestOrchestrator(t, fetcher)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := orch.Run(ctx, input, crawler.DefaultExtractionConfig(), limits(2))
	require.NoError(t, err)
	require.Equal(t, 3, report.FailureCount)
}

func TestRunEmptyInput(t *testing.T) {
	t.Parallel()

	events := &recordingEmitter{}
	orch, _ := newTestOrchestrator(t, &fakeFetcher{}, WithEvents(events))

	run, err := orch.Start(context.Background(), nil, crawler.DefaultExtractionConfig(), limits(3))
	require.NoError(t, err)
	report, err := run.Wait(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.TotalCount)
	require.Empty(t, report.Blocks)
	require.True(t, run.Snapshot().Complete)
	require.False(t, run.Canceled())

	got := events.snapshot()
	require.Len(t, got, 2)
	require.Equal(t, progress.StageRunStart, got[0].Stage)
	require.Equal(t, progress.StageRunDone, got[1].Stage)
}

func TestStartRejectsInvalidConfiguration(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{}
	orch := New(runner)
	var cfgErr *crawler.ConfigurationError

	_, err := orch.Start(context.Background(), urls(2), crawler.DefaultExtractionConfig(), limits(0))
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "crawl.concurrency", cfgErr.Field)

	_, err = orch.Start(context.Background(), urls(2), crawler.DefaultExtractionConfig(), crawler.Limits{Concurrency: 1, InterTaskDelay: -time.Second})
	require.ErrorAs(t, err, &cfgErr)

	bad := crawler.DefaultExtractionConfig()
	bad.Filter.Threshold = 2
	_, err = orch.Run(context.Background(), urls(2), bad, limits(1))
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, crawler.KindConfiguration, crawler.KindOf(err))
	require.Zero(t, runner.max.Load())
}

type panickingRunner struct {
	inner TaskRunner
	index int
}

func (p panickingRunner) Run(ctx context.Context, job worker.Job, task *crawler.URLTask, notify func()) {
	if task.Index() == p.index {
		panic("runner exploded")
	}
	p.inner.Run(ctx, job, task, notify)
}

func TestRunIsolatesRunnerPanics(t *testing.T) {
	t.Parallel()

	w := worker.New(&fakeFetcher{}, echoTransformer{}, worker.WithPauser(&recordingPauser{}))
	orch := New(panickingRunner{inner: w, index: 1})

	report, err := orch.Run(context.Background(), urls(3), crawler.DefaultExtractionConfig(), limits(3))
	require.NoError(t, err)
	require.Equal(t, 2, report.SuccessCount)
	require.Equal(t, 1, report.FailureCount)
	require.Contains(t, report.Blocks[1].Text, "runner exploded")
}

func TestSubscribeEndsWithCompleteSnapshot(t *testing.T) {
	t.Parallel()

	input := urls(4)
	orch, _ := newTestOrchestrator(t, &fakeFetcher{}, WithIDGenerator(uuid.Static("018f2a5e-0000-7000-8000-000000000001")))

	run, err := orch.Start(context.Background(), input, crawler.DefaultExtractionConfig(), limits(2))
	require.NoError(t, err)
	require.Equal(t, "018f2a5e-0000-7000-8000-000000000001", run.ID())

	sub := run.Subscribe()
	var last crawler.ProgressSnapshot
	for snap := range sub.C() {
		require.Equal(t, run.ID(), snap.RunID)
		require.Equal(t, 4, snap.Total)
		require.Equal(t, snap.Total, snap.Pending+snap.InFlight+snap.Done())
		last = snap
	}
	require.True(t, last.Complete)
	require.Equal(t, 4, last.Succeeded)
	require.Empty(t, last.InFlightURL)
	require.NotEmpty(t, last.LastURL)
	require.Equal(t, "content of "+last.LastURL, last.LastPreview)

	report, ok := run.Report()
	require.True(t, ok)
	require.Equal(t, run.ID(), report.RunID)
}

func TestSubscribeSnapshotsNeverRegress(t *testing.T) {
	t.Parallel()

	orch := New(&countingRunner{})
	for range 20 {
		run, err := orch.Start(context.Background(), urls(20), crawler.DefaultExtractionConfig(), limits(8))
		require.NoError(t, err)

		sub := run.Subscribe()
		prev := crawler.ProgressSnapshot{Pending: 20}
		for snap := range sub.C() {
			require.GreaterOrEqual(t, snap.Done(), prev.Done())
			require.LessOrEqual(t, snap.Pending, prev.Pending)
			require.False(t, snap.Emitted.Before(prev.Emitted))
			prev = snap
		}
		require.True(t, prev.Complete)
		require.Equal(t, 20, prev.Succeeded)
	}
}

func TestInterTaskDelayAppliesBeyondFirstWave(t *testing.T) {
	t.Parallel()

	orch, pauser := newTestOrchestrator(t, &fakeFetcher{})
	_, err := orch.Run(context.Background(), urls(5), crawler.DefaultExtractionConfig(),
		crawler.Limits{Concurrency: 2, InterTaskDelay: time.Second})
	require.NoError(t, err)
	require.Equal(t, int32(3), pauser.count.Load())
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	input := urls(2)
	events := &recordingEmitter{}
	fetcher := &fakeFetcher{behaviors: map[string]behavior{input[1]: {err: errors.New("nope")}}}
	orch, _ := newTestOrchestrator(t, fetcher, WithEvents(events))

	_, err := orch.Run(context.Background(), input, crawler.DefaultExtractionConfig(), limits(1))
	require.NoError(t, err)

	got := events.snapshot()
	require.Equal(t, progress.StageRunStart, got[0].Stage)
	require.Equal(t, 2, got[0].Total)
	require.Equal(t, progress.StageRunDone, got[len(got)-1].Stage)
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()

	input := urls(1)
	fetcher := &fakeFetcher{behaviors: map[string]behavior{input[0]: {blockOn: true}}}
	orch, _ := newTestOrchestrator(t, fetcher)

	run, err := orch.Start(context.Background(), input, crawler.DefaultExtractionConfig(), limits(1))
	require.NoError(t, err)
	defer run.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = run.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := run.Report()
	require.False(t, ok)
}
