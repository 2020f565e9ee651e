// Package extract turns fetched HTML into a crawler.Document by running the
// cleaner, the density filter, and the markdown generator in sequence.
package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/extract/cleaner"
	"github.com/JakeFAU/docucrawl/internal/extract/filter"
	"github.com/JakeFAU/docucrawl/internal/extract/markdown"
)

// Pipeline stages, reported in TransformError.Stage.
const (
	StageParse    = "parse"
	StageClean    = "clean"
	StageFilter   = "filter"
	StageMarkdown = "markdown"
)

var contentRoots = map[crawler.ContentTypeHint][]string{
	crawler.ContentArticle:       {"article", "main"},
	crawler.ContentDocumentation: {"main", `[role="main"]`, "article"},
}

// Pipeline is stateless apart from its logger and safe for concurrent use.
type Pipeline struct {
	cleaner   *cleaner.Cleaner
	generator *markdown.Generator
	logger    *zap.Logger
}

// NewPipeline wires the default cleaner and generator.
func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cleaner:   cleaner.New(),
		generator: markdown.New(),
		logger:    logger.Named("extract"),
	}
}

// Transform converts a fetch outcome to a Document. Panics in any stage are
// recovered into a *crawler.TransformError.
func (p *Pipeline) Transform(outcome crawler.FetchOutcome, cfg crawler.ExtractionConfig) (doc crawler.Document, err error) {
	stage := StageParse
	defer func() {
		if r := recover(); r != nil {
			err = &crawler.TransformError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	source, err := goquery.NewDocumentFromReader(strings.NewReader(outcome.HTML))
	if err != nil {
		return crawler.Document{}, &crawler.TransformError{Stage: stage, Err: err}
	}
	meta := ExtractMetadata(source, outcome.HTML, outcome.URL)

	stage = StageClean
	cleaned, err := p.cleaner.Clean(outcome.HTML)
	if err != nil {
		return crawler.Document{}, &crawler.TransformError{Stage: stage, Err: err}
	}
	root, err := contentRoot(cleaned, cfg)
	if err != nil {
		return crawler.Document{}, &crawler.TransformError{Stage: stage, Err: err}
	}

	stage = StageFilter
	strategy, err := filter.NewStrategy(cfg.Filter.Type, cfg.Filter.Threshold)
	if err != nil {
		return crawler.Document{}, err
	}
	filtered, err := filter.New(strategy, filter.Options{
		MinWords: cfg.Filter.MinWords,
		KeepCode: cfg.KeepsCode(),
	}).Filter(wrapBody(root))
	if err != nil {
		return crawler.Document{}, &crawler.TransformError{Stage: stage, Err: err}
	}

	stage = StageMarkdown
	result, err := p.generator.Generate(filtered, root, outcome.URL, cfg.Markdown)
	if err != nil {
		return crawler.Document{}, &crawler.TransformError{Stage: stage, Err: err}
	}
	text, kind := result.Preferred()
	if strings.TrimSpace(text) == "" {
		text, kind = markdown.Sanitize(root, false), crawler.ContentRawHTML
		p.logger.Debug("markdown empty, falling back to raw html", zap.String("url", outcome.URL))
	}

	title := meta.Title
	if title == "" {
		title = outcome.URL
	}
	return crawler.Document{
		URL:         outcome.URL,
		Title:       title,
		Description: meta.Description,
		ContentKind: kind,
		Markdown:    text,
		LengthChars: utf8.RuneCountInString(text),
		Strategy:    outcome.Strategy,
	}, nil
}

// contentRoot returns the inner HTML of the region that holds the main
// content. Configured selectors win over the content type hint; the whole
// body is used when nothing matches.
func contentRoot(cleanedHTML string, cfg crawler.ExtractionConfig) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cleanedHTML))
	if err != nil {
		return "", fmt.Errorf("parse cleaned html: %w", err)
	}
	selectors := cfg.Selectors
	if len(selectors) == 0 {
		selectors = contentRoots[cfg.ContentType]
	}
	for _, sel := range selectors {
		matches := doc.Find(sel)
		if matches.Length() == 0 {
			continue
		}
		var sb strings.Builder
		var renderErr error
		matches.Each(func(_ int, s *goquery.Selection) {
			if renderErr != nil {
				return
			}
			outer, err := goquery.OuterHtml(s)
			if err != nil {
				renderErr = err
				return
			}
			sb.WriteString(outer)
		})
		if renderErr != nil {
			return "", fmt.Errorf("render selection %q: %w", sel, renderErr)
		}
		return sb.String(), nil
	}
	body, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	return body, nil
}

func wrapBody(inner string) string {
	return "<html><body>" + inner + "</body></html>"
}
