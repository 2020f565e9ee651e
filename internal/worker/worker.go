// Package worker runs a single URL task to a terminal status: courtesy delay,
// strategy chain, transform pipeline, and result recording.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/clock/system"
	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/metrics"
	"github.com/JakeFAU/docucrawl/internal/progress"
)

// Fetcher retrieves a URL through the configured strategies, reporting every
// try to record.
type Fetcher interface {
	Fetch(ctx context.Context, url string, record func(crawler.Attempt)) (crawler.FetchOutcome, error)
}

// Transformer turns fetched HTML into a document.
type Transformer interface {
	Transform(outcome crawler.FetchOutcome, cfg crawler.ExtractionConfig) (crawler.Document, error)
}

// Job carries the per-task inputs decided by the orchestrator.
type Job struct {
	RunID      [16]byte
	Extraction crawler.ExtractionConfig
	// Delay is the courtesy pause taken after the slot is acquired.
	Delay time.Duration
}

// Worker executes tasks. One Worker is shared by every goroutine of a run.
type Worker struct {
	fetcher     Fetcher
	transformer Transformer
	clock       crawler.Clock
	pauser      crawler.Pauser
	events      progress.Emitter
	logger      *zap.Logger
}

// Option customizes a Worker.
type Option func(*Worker)

// WithClock overrides the wall clock used for task timestamps.
func WithClock(clock crawler.Clock) Option {
	return func(w *Worker) { w.clock = clock }
}

// WithPauser overrides how courtesy delays are taken.
func WithPauser(p crawler.Pauser) Option {
	return func(w *Worker) { w.pauser = p }
}

// WithEvents sends task milestones to an emitter.
func WithEvents(e progress.Emitter) Option {
	return func(w *Worker) { w.events = e }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New constructs a Worker.
func New(fetcher Fetcher, transformer Transformer, opts ...Option) *Worker {
	w := &Worker{
		fetcher:     fetcher,
		transformer: transformer,
		clock:       system.New(),
		pauser:      crawler.TimerPauser{},
		events:      progress.NopEmitter{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger = w.logger.Named("worker")
	return w
}

// Run drives task to a terminal status and never panics. notify is called
// after every status transition so the caller can publish a snapshot.
func (w *Worker) Run(ctx context.Context, job Job, task *crawler.URLTask, notify func()) {
	if notify == nil {
		notify = func() {}
	}
	started := w.clock.Now()
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("task runner panic",
				zap.Int("index", task.Index()),
				zap.String("url", task.URL()),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			w.fail(job, task, fmt.Errorf("task runner panic: %v", rec), started)
			notify()
		}
	}()

	if err := ctx.Err(); err != nil {
		w.fail(job, task, &crawler.CancellationError{Cause: err}, started)
		notify()
		return
	}
	if err := task.Start(started); err != nil {
		w.logger.Error("start task", zap.Int("index", task.Index()), zap.Error(err))
		return
	}
	metrics.IncInFlight()
	defer metrics.DecInFlight()
	w.emit(job, task, progress.Event{Stage: progress.StageTaskStart})
	notify()

	doc, err := w.execute(ctx, job, task)
	if err != nil {
		w.fail(job, task, err, started)
		notify()
		return
	}
	if err := task.Succeed(doc, w.clock.Now()); err != nil {
		w.logger.Error("record document", zap.Int("index", task.Index()), zap.Error(err))
		return
	}
	view := task.View()
	metrics.ObserveTask(crawler.HostOf(task.URL()), string(crawler.StatusSucceeded), view.Document.LengthChars)
	w.emit(job, task, progress.Event{
		Stage:    progress.StageTaskDone,
		Strategy: doc.Strategy,
		Bytes:    int64(view.Document.LengthChars),
		Dur:      w.clock.Now().Sub(started),
	})
	w.logger.Debug("task succeeded",
		zap.Int("index", task.Index()),
		zap.String("url", task.URL()),
		zap.String("strategy", doc.Strategy),
		zap.String("content_kind", string(doc.ContentKind)),
	)
	notify()
}

func (w *Worker) execute(ctx context.Context, job Job, task *crawler.URLTask) (crawler.Document, error) {
	if job.Delay > 0 {
		if err := w.pauser.Pause(ctx, job.Delay); err != nil {
			return crawler.Document{}, &crawler.CancellationError{Cause: err}
		}
	}
	record := func(a crawler.Attempt) {
		task.RecordAttempt(a)
		w.emit(job, task, progress.Event{
			Stage:    progress.StageAttemptDone,
			Strategy: a.Strategy,
			Outcome:  string(a.Outcome),
			Dur:      a.Duration,
			Note:     a.Err,
		})
	}
	outcome, err := w.fetcher.Fetch(ctx, task.URL(), record)
	if err != nil {
		return crawler.Document{}, err
	}
	doc, err := w.transformer.Transform(outcome, job.Extraction)
	if err != nil {
		var transformErr *crawler.TransformError
		if errors.As(err, &transformErr) {
			metrics.ObserveTransformFailure(transformErr.Stage)
		}
		return crawler.Document{}, err
	}
	return doc, nil
}

func (w *Worker) fail(job Job, task *crawler.URLTask, reason error, started time.Time) {
	if err := task.Fail(reason, w.clock.Now()); err != nil {
		// The task already reached a terminal status.
		w.logger.Debug("fail task", zap.Int("index", task.Index()), zap.Error(err))
		return
	}
	kind := crawler.KindOf(reason)
	metrics.ObserveTask(crawler.HostOf(task.URL()), string(crawler.StatusFailed), 0)
	w.emit(job, task, progress.Event{
		Stage: progress.StageTaskError,
		Dur:   w.clock.Now().Sub(started),
		Note:  string(kind),
	})
	level := w.logger.Warn
	if kind == crawler.KindCancellation {
		level = w.logger.Debug
	}
	level("task failed",
		zap.Int("index", task.Index()),
		zap.String("url", task.URL()),
		zap.String("kind", string(kind)),
		zap.Error(reason),
	)
}

func (w *Worker) emit(job Job, task *crawler.URLTask, evt progress.Event) {
	evt.RunID = job.RunID
	evt.URL = task.URL()
	evt.Index = task.Index()
	evt.Site = crawler.HostOf(task.URL())
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	w.events.Emit(evt)
}
