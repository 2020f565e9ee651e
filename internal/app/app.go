// Package app builds the long-lived services behind both the CLI and the HTTP
// server and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/docucrawl/internal/api"
	"github.com/JakeFAU/docucrawl/internal/clock/system"
	"github.com/JakeFAU/docucrawl/internal/config"
	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/extract"
	"github.com/JakeFAU/docucrawl/internal/fetcher/chain"
	collyfetcher "github.com/JakeFAU/docucrawl/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/docucrawl/internal/fetcher/headless"
	localfetcher "github.com/JakeFAU/docucrawl/internal/fetcher/local"
	"github.com/JakeFAU/docucrawl/internal/hash/sha256"
	"github.com/JakeFAU/docucrawl/internal/headless/detector"
	"github.com/JakeFAU/docucrawl/internal/id/uuid"
	"github.com/JakeFAU/docucrawl/internal/orchestrator"
	"github.com/JakeFAU/docucrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/docucrawl/internal/policy/simple"
	"github.com/JakeFAU/docucrawl/internal/progress"
	progresssinks "github.com/JakeFAU/docucrawl/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/docucrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/docucrawl/internal/report"
	gcsstorage "github.com/JakeFAU/docucrawl/internal/storage/gcs"
	localstorage "github.com/JakeFAU/docucrawl/internal/storage/local"
	memorystorage "github.com/JakeFAU/docucrawl/internal/storage/memory"
	pgstore "github.com/JakeFAU/docucrawl/internal/storage/postgres"
	"github.com/JakeFAU/docucrawl/internal/store"
	"github.com/JakeFAU/docucrawl/internal/worker"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// options carries the substitutable collaborators.
type options struct {
	registerer prometheus.Registerer
	blobs      crawler.BlobStore
	publisher  crawler.Publisher
	clock      crawler.Clock
	ids        crawler.IDGenerator
	fetchers   []crawler.Fetcher
}

// Option customizes Build.
type Option func(*options)

// WithRegisterer sets where the progress Prometheus sink registers its collectors.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithBlobStore overrides the configured storage backend.
func WithBlobStore(blobs crawler.BlobStore) Option {
	return func(o *options) { o.blobs = blobs }
}

// WithPublisher overrides the Pub/Sub publisher.
func WithPublisher(pub crawler.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

// WithClock overrides the wall clock.
func WithClock(clock crawler.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithIDGenerator overrides run and report ID generation.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// WithFetchers replaces the fetcher registry; chains resolve strategies by name against it.
func WithFetchers(fetchers ...crawler.Fetcher) Option {
	return func(o *options) { o.fetchers = fetchers }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock
	ids    crawler.IDGenerator

	browser  *headlessfetcher.Browser
	workers  map[crawler.StrategyOrder]*worker.Worker

	progressHub *progress.Hub
	events      progress.Emitter
	runRepo     store.RunRepository
	persister   *report.Persister

	pool         *pgxpool.Pool
	gcsStore     *gcsstorage.BlobStore
	pubsub       *gcppublisher.Publisher
	persistCtx   context.Context
	stopPersist  context.CancelFunc
	persistGroup sync.WaitGroup
}

// Build creates the application's dependencies. ctx bounds connection setup
// only; Close releases everything Build opened.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.ids == nil {
		o.ids = uuid.New()
	}

	app := &App{cfg: cfg, logger: logger, clock: o.clock, ids: o.ids, events: progress.NopEmitter{}}
	app.persistCtx, app.stopPersist = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
		}
	}()

	app.logger.Info("building application dependencies",
		zap.String("strategy", string(cfg.StrategyOrder())),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	blobs, err := app.setupStorage(ctx, o.blobs)
	if err != nil {
		return nil, err
	}
	index, err := app.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx, o.publisher)
	if err != nil {
		return nil, err
	}
	if err = app.setupProgress(o.registerer); err != nil {
		return nil, err
	}

	persistOpts := []report.PersisterOption{
		report.WithIndex(index),
		report.WithPersisterLogger(logger),
	}
	if publisher != nil {
		persistOpts = append(persistOpts, report.WithPublisher(publisher))
	}
	app.persister, err = report.NewPersister(blobs, sha256.New(), app.ids, report.PersistConfig{
		Prefix:   cfg.Storage.Prefix,
		Filename: cfg.Storage.Filename,
		Topic:    cfg.PubSub.TopicName,
	}, persistOpts...)
	if err != nil {
		return nil, fmt.Errorf("report persister init failed: %w", err)
	}

	fetchers := o.fetchers
	if fetchers == nil {
		fetchers = app.setupFetchers()
	}
	if err = app.setupWorkers(fetchers); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) setupStorage(ctx context.Context, override crawler.BlobStore) (crawler.BlobStore, error) {
	if override != nil {
		return override, nil
	}
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket, CacheControl: "no-cache"}, gcsstorage.DefaultClient, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcsStore = blobs
		return blobs, nil
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

// setupDatabase returns the report index. Without a DSN both the index and
// the run history live in memory.
func (a *App) setupDatabase(ctx context.Context) (crawler.ReportStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, keeping report index and run history in memory")
		a.runRepo = memorystorage.NewRunStore()
		return memorystorage.NewReportStore(), nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database pool init failed: %w", err)
	}
	a.pool = pool

	reports, err := pgstore.NewReportStore(pool, a.cfg.DB.Table)
	if err != nil {
		return nil, fmt.Errorf("report store init failed: %w", err)
	}
	if err := reports.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("report store schema failed: %w", err)
	}
	runs, err := pgstore.NewRunStore(pool)
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	if err := runs.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("run store schema failed: %w", err)
	}
	a.runRepo = runs
	a.logger.Info("report index initialized", zap.String("table", a.cfg.DB.Table))
	return reports, nil
}

func (a *App) setupPublisher(ctx context.Context, override crawler.Publisher) (crawler.Publisher, error) {
	if override != nil {
		return override, nil
	}
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, report notifications disabled")
		return nil, nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil
	}
	var sinkList []progress.Sink
	if a.runRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runRepo, a.logger.Named("progress_store")))
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if reg != nil {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return fmt.Errorf("progress metrics init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if len(sinkList) == 0 {
		a.logger.Warn("progress tracking enabled but no sinks configured")
		return nil
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    a.persistCtx,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.events = a.progressHub
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

// setupFetchers registers one fetcher per strategy name. Browser strategies
// fall back to stubs that fail every attempt when Chrome is unavailable.
func (a *App) setupFetchers() []crawler.Fetcher {
	fetchers := []crawler.Fetcher{
		localfetcher.New(),
		collyfetcher.New(collyfetcher.Config{
			UserAgents:    a.cfg.Crawl.UserAgents,
			RespectRobots: a.cfg.Crawl.RespectRobots,
			Timeout:       a.cfg.AttemptTimeout(),
			Logger:        a.logger,
		}),
	}
	fetchers = append(fetchers, a.browserFetchers()...)
	a.logger.Info("fetchers registered",
		zap.Bool("headless", a.cfg.Headless.Enabled),
		zap.Int("max_parallel", a.cfg.Headless.MaxParallel),
	)
	return fetchers
}

// browserFetchers returns the DOM and source strategies. Both share one
// Chrome; stubs stand in when headless browsing is off or fails to start.
func (a *App) browserFetchers() []crawler.Fetcher {
	stubs := []crawler.Fetcher{
		headlessfetcher.NewNoop(crawler.StrategyBrowserDOM),
		headlessfetcher.NewNoop(crawler.StrategyBrowserSource),
	}
	if !a.cfg.Headless.Enabled {
		return stubs
	}
	browser, err := headlessfetcher.NewBrowser(headlessfetcher.BrowserConfig{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgents:        a.cfg.Crawl.UserAgents,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		Settle:            time.Duration(a.cfg.Headless.SettleMs) * time.Millisecond,
	})
	if err != nil {
		a.logger.Warn("headless browser init failed", zap.Error(err))
		return stubs
	}
	fetchers := make([]crawler.Fetcher, 0, len(stubs))
	for _, mode := range []headlessfetcher.Mode{headlessfetcher.ModeDOM, headlessfetcher.ModeSource} {
		f, err := browser.Fetcher(mode)
		if err != nil {
			browser.Close()
			a.logger.Warn("headless fetcher init failed", zap.String("mode", string(mode)), zap.Error(err))
			return stubs
		}
		fetchers = append(fetchers, f)
	}
	a.browser = browser
	return fetchers
}

// setupWorkers builds one chain and worker per strategy order so runs can pick
// their order per request.
func (a *App) setupWorkers(fetchers []crawler.Fetcher) error {
	var policy crawler.Policy = simple.New()
	if a.cfg.RateLimit.Enabled {
		policy = ratelimit.New(a.cfg.RateLimiter())
		a.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", a.cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", a.cfg.RateLimit.DefaultBurst),
			zap.Int("domain_overrides", len(a.cfg.RateLimit.Domains)),
		)
	}
	detect := detector.NewHeuristic(a.cfg.Headless.PromotionThreshold)
	pipeline := extract.NewPipeline(a.logger)

	orders := []crawler.StrategyOrder{
		crawler.OrderHybrid,
		crawler.OrderDirectOnly,
		crawler.OrderBrowserHTTP,
		crawler.OrderBrowserRawHTML,
	}
	a.workers = make(map[crawler.StrategyOrder]*worker.Worker, len(orders))
	for _, order := range orders {
		c, err := chain.New(chain.Config{
			Order:          order,
			AttemptTimeout: a.cfg.AttemptTimeout(),
			Headers:        a.cfg.Headers(),
			Retry:          a.cfg.RetryPolicy(),
			Detector:       detect,
			Policy:         policy,
		}, fetchers, a.logger)
		if err != nil {
			return fmt.Errorf("strategy chain %s init failed: %w", order, err)
		}
		a.workers[order] = worker.New(c, pipeline,
			worker.WithClock(a.clock),
			worker.WithEvents(a.events),
			worker.WithLogger(a.logger),
		)
	}
	return nil
}

// Start begins a run without persisting its report.
func (a *App) Start(ctx context.Context, req api.LaunchRequest) (*orchestrator.Run, error) {
	order := req.Strategy
	if order == "" {
		order = a.cfg.StrategyOrder()
	}
	w, ok := a.workers[order]
	if !ok {
		return nil, &crawler.ConfigurationError{Field: "crawl.strategy", Reason: fmt.Sprintf("unknown strategy order %q", order)}
	}
	orch := orchestrator.New(w,
		orchestrator.WithStrategy(order),
		orchestrator.WithIDGenerator(a.ids),
		orchestrator.WithClock(a.clock),
		orchestrator.WithEvents(a.events),
		orchestrator.WithLogger(a.logger),
	)
	run, err := orch.Start(ctx, req.URLs, req.Extraction, req.Limits)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// Launch starts a run and persists its report once it finishes. It satisfies
// api.Launcher.
func (a *App) Launch(ctx context.Context, req api.LaunchRequest) (*orchestrator.Run, error) {
	run, err := a.Start(context.WithoutCancel(ctx), req)
	if err != nil {
		return nil, err
	}
	a.persistGroup.Add(1)
	go func() {
		defer a.persistGroup.Done()
		rep, err := run.Wait(a.persistCtx)
		if err != nil {
			a.logger.Warn("run abandoned before persistence", zap.String("run_id", run.ID()), zap.Error(err))
			return
		}
		if _, err := a.Persist(a.persistCtx, rep); err != nil {
			a.logger.Error("persist report failed", zap.String("run_id", run.ID()), zap.Error(err))
		}
	}()
	return run, nil
}

// Persist stores a finished report through the configured backends.
func (a *App) Persist(ctx context.Context, rep crawler.CrawlReport) (crawler.ReportRecord, error) {
	record, err := a.persister.Persist(ctx, rep)
	if err != nil {
		return record, fmt.Errorf("persist report: %w", err)
	}
	return record, nil
}

// RunRepository exposes run history for the API.
func (a *App) RunRepository() store.RunRepository {
	return a.runRepo
}

// Serve runs the HTTP API until ctx is canceled, then cancels in-flight runs,
// drains the server, and waits for pending reports to persist.
func (a *App) Serve(ctx context.Context) error {
	apiServer := api.NewServer(a, a.runRepo, a.cfg, a.logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		apiServer.CancelAll()
		if err := apiServer.WaitIdle(shutdownCtx); err != nil {
			a.logger.Warn("runs still active at shutdown", zap.Error(err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close waits for pending report writes, then releases connections.
func (a *App) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.persistGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("pending reports not persisted before shutdown", zap.Error(ctx.Err()))
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	a.stopPersist()
	if a.browser != nil {
		a.browser.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
