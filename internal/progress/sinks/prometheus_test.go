package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docucrawl/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Total: 2},
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Total: 2},
		{
			RunID: runID, TS: now, Stage: progress.StageAttemptDone,
			URL: "https://example.com", Strategy: "direct-http", Outcome: "shell",
		},
		{
			RunID: runID, TS: now.Add(time.Second), Stage: progress.StageTaskDone,
			URL: "https://example.com", Site: "example.com", Bytes: 1024, Dur: 200 * time.Millisecond,
		},
		{
			RunID: runID, TS: now.Add(time.Second), Stage: progress.StageTaskError,
			URL: "https://example.org", Site: "example.org", Dur: time.Second,
		},
		{RunID: runID, TS: now.Add(2 * time.Second), Stage: progress.StageRunDone, Dur: 2 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("canceled")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.shells))
	require.Equal(t, 2, testutil.CollectAndCount(sink.taskDuration, "docucrawl_progress_task_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.documentChars, "docucrawl_progress_document_chars"))
}

// TestPrometheusSinkRunningGauge keeps a run counted until its terminal event.
func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	first := progress.UUIDToBytes(uuid.New())
	second := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: first, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: second, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: second, TS: time.Now(), Stage: progress.StageRunError, Note: "canceled"},
		{RunID: second, TS: time.Now(), Stage: progress.StageRunError, Note: "canceled"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("canceled")))
}

// TestNewPrometheusSinkDuplicateRegistration reports the registry conflict.
func TestNewPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}
