package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/progress"
)

// LogSink emits one structured log line per event. Attempt events are logged
// at debug level so a busy run does not drown the info stream.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", uuid.UUID(evt.RunID).String()),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.URL != "" {
			fields = append(fields,
				zap.Int("index", evt.Index),
				zap.String("site", evt.Site),
				zap.String("url", evt.URL),
			)
		}
		if evt.Strategy != "" {
			fields = append(fields, zap.String("strategy", evt.Strategy), zap.String("outcome", evt.Outcome))
		}
		if evt.Total > 0 {
			fields = append(fields, zap.Int("total", evt.Total))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageAttemptDone {
			s.logger.Debug("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
