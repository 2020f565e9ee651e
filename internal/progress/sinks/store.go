package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/progress"
	"github.com/JakeFAU/docucrawl/internal/store"
)

// StoreSink records run history in a store.RunRepository. Task outcomes in a
// batch are summed per (run, site) so each pair costs one write.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger.Named("store_sink")}
}

// Consume applies batch in order. Site counters gathered so far are written
// before any run transition, so a finished run never shows stale totals.
// The first repository error stops the batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	tally := newSiteTally()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageTaskDone, progress.StageTaskError:
			tally.add(evt)
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := tally.flush(ctx, s.repo); err != nil {
				return err
			}
			if err := s.applyRun(ctx, evt); err != nil {
				return err
			}
		}
	}
	return tally.flush(ctx, s.repo)
}

func (s *StoreSink) applyRun(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	if evt.Stage == progress.StageRunStart {
		if err := s.repo.UpsertRunStart(ctx, runID, evt.Total, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
		return nil
	}
	status, note := store.RunSuccess, (*string)(nil)
	if evt.Stage == progress.StageRunError {
		status = store.RunCanceled
		if evt.Note != "" {
			note = &evt.Note
		}
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements progress.Sink; the repository is owned by the caller.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type siteKey struct {
	run  uuid.UUID
	site string
}

type siteCount struct {
	delta store.SiteDelta
	last  time.Time
}

// siteTally sums task outcomes in first-seen order.
type siteTally struct {
	counts map[siteKey]*siteCount
	order  []siteKey
}

func newSiteTally() *siteTally {
	return &siteTally{counts: map[siteKey]*siteCount{}}
}

func (t *siteTally) add(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	key := siteKey{run: evt.RunUUID(), site: site}
	c, ok := t.counts[key]
	if !ok {
		c = &siteCount{}
		t.counts[key] = c
		t.order = append(t.order, key)
	}
	if evt.Stage == progress.StageTaskDone {
		c.delta.Succeeded++
		c.delta.Chars += evt.Bytes
	} else {
		c.delta.Failed++
	}
	if evt.TS.After(c.last) {
		c.last = evt.TS
	}
}

// flush writes and clears every pending count.
func (t *siteTally) flush(ctx context.Context, repo store.RunRepository) error {
	for _, key := range t.order {
		c := t.counts[key]
		if c.delta.IsZero() {
			continue
		}
		if err := repo.UpsertSiteStats(ctx, key.run, key.site, c.delta, c.last); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	clear(t.counts)
	t.order = t.order[:0]
	return nil
}
