package report

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

const markdownContentType = "text/markdown; charset=utf-8"

// PersistConfig controls where reports are written and announced.
type PersistConfig struct {
	// Prefix is prepended to the object path ("reports/<run>/<file>").
	Prefix   string
	Filename string
	// Topic is the Pub/Sub topic for report-ready notifications. Empty uses
	// the publisher's default.
	Topic string
}

// Persister writes rendered reports to a blob store, optionally indexes them,
// and optionally announces them.
type Persister struct {
	blobs     crawler.BlobStore
	hasher    crawler.Hasher
	ids       crawler.IDGenerator
	index     crawler.ReportStore
	publisher crawler.Publisher
	cfg       PersistConfig
	logger    *zap.Logger
}

// PersisterOption customizes a Persister.
type PersisterOption func(*Persister)

// WithIndex records report metadata in store.
func WithIndex(store crawler.ReportStore) PersisterOption {
	return func(p *Persister) { p.index = store }
}

// WithPublisher announces persisted reports.
func WithPublisher(pub crawler.Publisher) PersisterOption {
	return func(p *Persister) { p.publisher = pub }
}

// WithPersisterLogger sets the logger.
func WithPersisterLogger(logger *zap.Logger) PersisterOption {
	return func(p *Persister) { p.logger = logger }
}

// NewPersister wires the required collaborators.
func NewPersister(blobs crawler.BlobStore, hasher crawler.Hasher, ids crawler.IDGenerator, cfg PersistConfig, opts ...PersisterOption) (*Persister, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if strings.TrimSpace(cfg.Filename) == "" {
		cfg.Filename = DefaultFilename
	}
	p := &Persister{blobs: blobs, hasher: hasher, ids: ids, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("report")
	return p, nil
}

// ObjectPath returns where the report for runID is stored.
func (p *Persister) ObjectPath(runID string) string {
	return path.Join(strings.Trim(p.cfg.Prefix, "/"), runID, p.cfg.Filename)
}

// Persist renders and stores report, returning the index record.
func (p *Persister) Persist(ctx context.Context, report crawler.CrawlReport) (crawler.ReportRecord, error) {
	if report.RunID == "" {
		return crawler.ReportRecord{}, errors.New("persist report: run id is required")
	}
	text := Render(report)
	digest, err := p.hasher.Hash([]byte(text))
	if err != nil {
		return crawler.ReportRecord{}, fmt.Errorf("hash report: %w", err)
	}
	uri, err := p.blobs.PutObject(ctx, p.ObjectPath(report.RunID), markdownContentType, strings.NewReader(text))
	if err != nil {
		return crawler.ReportRecord{}, fmt.Errorf("store report: %w", err)
	}
	id, err := p.ids.NewID()
	if err != nil {
		return crawler.ReportRecord{}, fmt.Errorf("report id: %w", err)
	}
	record := crawler.ReportRecord{
		ID:           id,
		RunID:        report.RunID,
		GeneratedAt:  report.GeneratedAt,
		Strategy:     string(report.StrategyUsed),
		TotalCount:   report.TotalCount,
		SuccessCount: report.SuccessCount,
		FailureCount: report.FailureCount,
		BlobURI:      uri,
		ContentHash:  digest,
	}
	if p.index != nil {
		if err := p.index.StoreReport(ctx, record); err != nil {
			return record, fmt.Errorf("index report: %w", err)
		}
	}
	if p.publisher != nil {
		msgID, err := p.publisher.Publish(ctx, p.cfg.Topic, crawler.ReportNotification{
			RunID:        record.RunID,
			BlobURI:      record.BlobURI,
			ContentHash:  record.ContentHash,
			GeneratedAt:  record.GeneratedAt,
			TotalCount:   record.TotalCount,
			SuccessCount: record.SuccessCount,
			FailureCount: record.FailureCount,
		})
		if err != nil {
			return record, fmt.Errorf("publish report: %w", err)
		}
		p.logger.Debug("report announced", zap.String("run_id", record.RunID), zap.String("message_id", msgID))
	}
	p.logger.Info("report persisted",
		zap.String("run_id", record.RunID),
		zap.String("uri", record.BlobURI),
		zap.String("hash", record.ContentHash),
	)
	return record, nil
}
