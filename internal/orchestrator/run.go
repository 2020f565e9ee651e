package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/progress"
	"github.com/JakeFAU/docucrawl/internal/report"
	"github.com/JakeFAU/docucrawl/internal/worker"
)

// ErrRunning is returned when a finished-run value is requested early.
var ErrRunning = errors.New("run still in progress")

// Run is the handle to one crawl.
type Run struct {
	id     string
	rawID  [16]byte
	orch   *Orchestrator
	cfg    crawler.ExtractionConfig
	limits crawler.Limits
	tasks  []*crawler.URLTask

	broadcaster *progress.Broadcaster
	cancel      context.CancelFunc
	done        chan struct{}
	started     time.Time
	logger      *zap.Logger

	mu        sync.Mutex
	lastIndex int
	complete  bool
	canceled  bool
	report    crawler.CrawlReport
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Cancel aborts the run. In-flight fetches stop through their context and
// unfinished tasks fail with a cancellation reason. Finished tasks keep their
// status. Cancel is safe to call more than once.
func (r *Run) Cancel() { r.cancel() }

// Done is closed once the report is ready and the final snapshot published.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (crawler.CrawlReport, error) {
	select {
	case <-r.done:
		report, _ := r.Report()
		return report, nil
	case <-ctx.Done():
		return crawler.CrawlReport{}, fmt.Errorf("wait for run %s: %w", r.id, ctx.Err())
	}
}

// Report returns the final report and true once the run has finished.
func (r *Run) Report() (crawler.CrawlReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report, r.complete
}

// Canceled reports whether the run was aborted before every task finished.
func (r *Run) Canceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

// Tasks returns a view of every task in input order.
func (r *Run) Tasks() []crawler.TaskView {
	views := make([]crawler.TaskView, len(r.tasks))
	for i, task := range r.tasks {
		views[i] = task.View()
	}
	return views
}

// Snapshot folds the current task set into a progress snapshot.
func (r *Run) Snapshot() crawler.ProgressSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// snapshotLocked builds a snapshot. Callers hold r.mu, which also orders
// publishes so subscribers never see counts go backwards.
func (r *Run) snapshotLocked() crawler.ProgressSnapshot {
	snap := crawler.ProgressSnapshot{
		RunID:       r.id,
		Total:       len(r.tasks),
		InFlightURL: []string{},
		Complete:    r.complete,
		Emitted:     r.orch.now(),
	}
	for _, task := range r.tasks {
		switch task.Status() {
		case crawler.StatusPending:
			snap.Pending++
		case crawler.StatusInFlight:
			snap.InFlight++
			snap.InFlightURL = append(snap.InFlightURL, task.URL())
		case crawler.StatusSucceeded:
			snap.Succeeded++
		case crawler.StatusFailed:
			snap.Failed++
		}
	}
	if r.lastIndex >= 0 {
		view := r.tasks[r.lastIndex].View()
		snap.LastURL = view.URL
		if view.Document != nil {
			snap.LastPreview = crawler.TruncateRunes(view.Document.Markdown, crawler.PreviewRunes)
		}
	}
	return snap
}

// Subscribe returns a latest-wins feed of snapshots. The channel closes after
// the final snapshot, which has Complete set.
func (r *Run) Subscribe() *progress.Subscription {
	return r.broadcaster.Subscribe()
}

func (r *Run) publish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster.Publish(r.snapshotLocked())
}

func (r *Run) notifier(task *crawler.URLTask) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if task.Status() == crawler.StatusSucceeded {
			r.lastIndex = task.Index()
		}
		r.broadcaster.Publish(r.snapshotLocked())
	}
}

func (r *Run) execute(ctx context.Context) {
	defer close(r.done)
	defer r.cancel()

	sem := semaphore.NewWeighted(int64(r.limits.Concurrency))
	var wg sync.WaitGroup
	for _, task := range r.tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		job := worker.Job{RunID: r.rawID, Extraction: r.cfg}
		if task.Index() >= r.limits.Concurrency {
			job.Delay = r.limits.InterTaskDelay
		}
		wg.Add(1)
		go func(task *crawler.URLTask) {
			defer wg.Done()
			defer sem.Release(1)
			r.runTask(ctx, job, task)
		}(task)
	}
	wg.Wait()

	canceled := r.failUnfinished(ctx.Err())
	r.finish(canceled)
}

func (r *Run) runTask(ctx context.Context, job worker.Job, task *crawler.URLTask) {
	notify := r.notifier(task)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task runner panic", zap.Int("index", task.Index()), zap.Any("panic", rec))
			if err := task.Fail(fmt.Errorf("task runner panic: %v", rec), r.orch.now()); err == nil {
				r.emitTaskError(task, crawler.KindInternal)
			}
			notify()
		}
	}()
	r.orch.runner.Run(ctx, job, task, notify)
}

// failUnfinished moves every non-terminal task to Failed and reports whether
// the run lost any task to cancellation.
func (r *Run) failUnfinished(cause error) bool {
	for _, task := range r.tasks {
		if task.Status().Terminal() {
			continue
		}
		reason := error(&crawler.CancellationError{Cause: cause})
		if cause == nil {
			reason = fmt.Errorf("task %d never reached a terminal status", task.Index())
		}
		if err := task.Fail(reason, r.orch.now()); err != nil {
			continue
		}
		r.emitTaskError(task, crawler.KindOf(reason))
	}
	for _, task := range r.tasks {
		if crawler.KindOf(task.View().Failure) == crawler.KindCancellation {
			return true
		}
	}
	return false
}

func (r *Run) finish(canceled bool) {
	generated := r.orch.now()
	built := report.Build(r.id, generated, r.orch.strategy, r.Tasks())

	r.mu.Lock()
	r.report = built
	r.complete = true
	r.canceled = canceled
	r.broadcaster.Publish(r.snapshotLocked())
	r.mu.Unlock()
	r.broadcaster.Close()

	elapsed := generated.Sub(r.started)
	if elapsed < 0 {
		elapsed = 0
	}
	evt := progress.Event{RunID: r.rawID, Stage: progress.StageRunDone, Total: built.TotalCount, Dur: elapsed}
	if canceled {
		evt.Stage = progress.StageRunError
		evt.Note = "canceled"
	}
	r.orch.events.Emit(evt)
	r.logger.Info("run finished",
		zap.Int("total", built.TotalCount),
		zap.Int("succeeded", built.SuccessCount),
		zap.Int("failed", built.FailureCount),
		zap.Bool("canceled", canceled),
		zap.Duration("duration", elapsed),
	)
}

func (r *Run) emitTaskError(task *crawler.URLTask, kind crawler.ErrorKind) {
	r.orch.events.Emit(progress.Event{
		RunID: r.rawID,
		Stage: progress.StageTaskError,
		Site:  crawler.HostOf(task.URL()),
		URL:   task.URL(),
		Index: task.Index(),
		Note:  string(kind),
	})
}
