package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/clock/system"
	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/id/uuid"
	"github.com/JakeFAU/docucrawl/internal/progress"
	"github.com/JakeFAU/docucrawl/internal/worker"
)

// TaskRunner drives one task to a terminal status, calling notify after each
// transition. *worker.Worker satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, job worker.Job, task *crawler.URLTask, notify func())
}

// Orchestrator starts crawl runs. It holds no per-run state and may start
// several runs concurrently.
type Orchestrator struct {
	runner   TaskRunner
	strategy crawler.StrategyOrder
	ids      crawler.IDGenerator
	clock    crawler.Clock
	events   progress.Emitter
	logger   *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithStrategy records the fetch strategy order in reports.
func WithStrategy(order crawler.StrategyOrder) Option {
	return func(o *Orchestrator) { o.strategy = order }
}

// WithIDGenerator overrides run ID generation. IDs must be UUID strings.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = ids }
}

// WithClock overrides the clock used for snapshots and reports.
func WithClock(clock crawler.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithEvents sends run milestones to an emitter.
func WithEvents(events progress.Emitter) Option {
	return func(o *Orchestrator) { o.events = events }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New constructs an Orchestrator around runner.
func New(runner TaskRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:   runner,
		strategy: crawler.OrderHybrid,
		ids:      uuid.New(),
		clock:    system.New(),
		events:   progress.NopEmitter{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// Run crawls urls and blocks until the report is ready. Only configuration
// errors are returned; per-URL failures and cancellation are recorded in the
// report.
func (o *Orchestrator) Run(ctx context.Context, urls []string, cfg crawler.ExtractionConfig, limits crawler.Limits) (crawler.CrawlReport, error) {
	run, err := o.Start(ctx, urls, cfg, limits)
	if err != nil {
		return crawler.CrawlReport{}, err
	}
	<-run.Done()
	report, _ := run.Report()
	return report, nil
}

// Start validates the inputs, creates one task per URL, and begins crawling in
// the background. The returned Run is live until its Done channel closes.
func (o *Orchestrator) Start(ctx context.Context, urls []string, cfg crawler.ExtractionConfig, limits crawler.Limits) (*Run, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id, err := o.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	rawID, err := progress.ParseRunID(id)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		id:          id,
		rawID:       rawID,
		orch:        o,
		cfg:         cfg.Clone(),
		limits:      limits,
		tasks:       make([]*crawler.URLTask, len(urls)),
		lastIndex:   -1,
		broadcaster: progress.NewBroadcaster(),
		cancel:      cancel,
		done:        make(chan struct{}),
		started:     o.clock.Now(),
		logger:      o.logger.With(zap.String("run_id", id)),
	}
	for i, url := range urls {
		run.tasks[i] = crawler.NewURLTask(i, url)
	}
	run.publish()
	o.events.Emit(progress.Event{RunID: rawID, Stage: progress.StageRunStart, Total: len(urls)})
	run.logger.Info("run started",
		zap.Int("urls", len(urls)),
		zap.Int("concurrency", limits.Concurrency),
		zap.Duration("delay", limits.InterTaskDelay),
		zap.String("strategy", string(o.strategy)),
	)

	go run.execute(runCtx)
	return run, nil
}

func (o *Orchestrator) now() time.Time {
	return o.clock.Now()
}
