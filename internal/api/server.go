package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/config"
	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/metrics"
	"github.com/JakeFAU/docucrawl/internal/orchestrator"
	"github.com/JakeFAU/docucrawl/internal/report"
	"github.com/JakeFAU/docucrawl/internal/store"
)

const (
	requestTimeout = 60 * time.Second
	// streamHeartbeat keeps idle SSE connections open through proxies.
	streamHeartbeat = 15 * time.Second
)

// LaunchRequest describes a run requested over HTTP.
type LaunchRequest struct {
	URLs       []string
	Strategy   crawler.StrategyOrder
	Limits     crawler.Limits
	Extraction crawler.ExtractionConfig
}

// Launcher starts crawl runs. The run must outlive the request that started
// it, so implementations use ctx only for values, not cancellation.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (*orchestrator.Run, error)
}

// Server wires HTTP handlers to the launcher and run history.
type Server struct {
	router   chi.Router
	launcher Launcher
	runs     *runRegistry
	history  *ProgressHandler
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. repo may be nil,
// in which case the history endpoints answer 503.
func NewServer(launcher Launcher, repo store.RunRepository, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	s := &Server{
		launcher: launcher,
		runs:     newRunRegistry(defaultRetainedRuns),
		cfg:      cfg,
		logger:   logger,
	}
	s.history = NewProgressHandler(repo, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLog(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Streams are long-lived and bypass the request timeout.
		r.Get("/crawls/{run_id}/stream", s.streamCrawl)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Post("/crawls", s.startCrawl)
			r.Get("/crawls", s.listCrawls)
			r.Get("/crawls/{run_id}", s.getCrawl)
			r.Get("/crawls/{run_id}/report", s.getReport)
			r.Delete("/crawls/{run_id}", s.cancelCrawl)

			r.Get("/runs", s.history.ListRuns)
			r.Get("/runs/{run_id}", s.history.GetRun)
			r.Get("/runs/{run_id}/sites", s.history.ListRunSites)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// CancelAll cancels every run that is still going. It is used on shutdown.
func (s *Server) CancelAll() {
	for _, run := range s.runs.active() {
		run.Cancel()
	}
}

// WaitIdle blocks until every active run finishes or ctx ends.
func (s *Server) WaitIdle(ctx context.Context) error {
	for _, run := range s.runs.active() {
		if _, err := run.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.launcher == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startCrawlRequest struct {
	URLs         []string `json:"urls"`
	Strategy     *string  `json:"strategy"`
	Concurrency  *int     `json:"concurrency"`
	DelaySeconds *float64 `json:"delay_seconds"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	launch, err := s.toLaunchRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.launcher.Launch(r.Context(), launch)
	if err != nil {
		var cfgErr *crawler.ConfigurationError
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("launch run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	s.runs.add(run)
	w.Header().Set("Location", "/v1/crawls/"+run.ID())
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID()})
}

func (s *Server) toLaunchRequest(req startCrawlRequest) (LaunchRequest, error) {
	urls := make([]string, 0, len(req.URLs))
	for _, raw := range req.URLs {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		return LaunchRequest{}, errors.New("urls required")
	}
	launch := LaunchRequest{
		URLs:       urls,
		Strategy:   s.cfg.StrategyOrder(),
		Limits:     s.cfg.Limits(),
		Extraction: s.cfg.RunExtraction(),
	}
	if req.Strategy != nil {
		order, err := crawler.ParseStrategyOrder(*req.Strategy)
		if err != nil {
			return LaunchRequest{}, err
		}
		launch.Strategy = order
	}
	if req.Concurrency != nil {
		launch.Limits.Concurrency = *req.Concurrency
	}
	if req.DelaySeconds != nil {
		launch.Limits.InterTaskDelay = time.Duration(*req.DelaySeconds * float64(time.Second))
	}
	if err := launch.Limits.Validate(); err != nil {
		return LaunchRequest{}, err
	}
	return launch, nil
}

func (s *Server) listCrawls(w http.ResponseWriter, _ *http.Request) {
	active := s.runs.active()
	snaps := make([]crawler.ProgressSnapshot, 0, len(active))
	for _, run := range active {
		snaps = append(snaps, run.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawls": snaps})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*orchestrator.Run, bool) {
	run, ok := s.runs.get(chi.URLParam(r, "run_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return run, true
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	rep, done := run.Report()
	if !done {
		writeError(w, http.StatusConflict, "run still in progress")
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(report.Render(rep))); err != nil {
		s.logger.Warn("write report failed", zap.Error(err))
	}
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	status := "canceling"
	if _, done := run.Report(); done {
		status = "finished"
	} else {
		run.Cancel()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID(), "status": status})
}

// streamCrawl sends snapshots as server-sent events until the run completes
// or the client goes away.
func (s *Server) streamCrawl(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := run.Subscribe()
	defer sub.Unsubscribe()
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, open := <-sub.C():
			if !open {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				s.logger.Error("encode snapshot failed", zap.Error(err))
				return
			}
			event := "progress"
			if snap.Complete {
				event = "complete"
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
