package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/docucrawl/internal/progress"
)

// PrometheusSink exports run-level progress via Prometheus. It owns the
// collectors for runs started/completed/running and per-task latency.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	taskDuration  *prometheus.HistogramVec
	documentChars prometheus.Histogram
	shells        prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docucrawl",
			Subsystem: "progress",
			Name:      "runs_started_total",
			Help:      "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docucrawl",
			Subsystem: "progress",
			Name:      "runs_completed_total",
			Help:      "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docucrawl",
			Subsystem: "progress",
			Name:      "runs_running",
			Help:      "Current number of running crawl runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docucrawl",
			Subsystem: "progress",
			Name:      "run_runtime_seconds",
			Help:      "Wall time per completed run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docucrawl",
			Subsystem: "progress",
			Name:      "task_duration_seconds",
			Help:      "Fetch plus transform time per task partitioned by result.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"result"}),
		documentChars: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docucrawl",
			Subsystem: "progress",
			Name:      "document_chars",
			Help:      "Markdown length of successful documents.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
		shells: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docucrawl",
			Subsystem: "progress",
			Name:      "run_shell_attempts_total",
			Help:      "Direct attempts flagged as JavaScript shells.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.taskDuration,
		s.documentChars,
		s.shells,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageTaskDone:
		s.observeTask(evt, "success")
		if evt.Bytes > 0 {
			s.documentChars.Observe(float64(evt.Bytes))
		}
	case progress.StageTaskError:
		s.observeTask(evt, "failure")
	case progress.StageAttemptDone:
		if evt.Outcome == "shell" {
			s.shells.Inc()
		}
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("canceled").Inc()
		s.observeRuntime(evt, "canceled")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeTask(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.taskDuration.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
