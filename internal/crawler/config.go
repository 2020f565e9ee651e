package crawler

import (
	"fmt"
	"strings"
	"time"
)

// ContentTypeHint steers which part of a page is treated as the main content.
type ContentTypeHint string

// Supported content type hints.
const (
	ContentAuto          ContentTypeHint = "auto"
	ContentArticle       ContentTypeHint = "article"
	ContentDocumentation ContentTypeHint = "documentation"
	ContentCode          ContentTypeHint = "code"
)

// Filter strategy kinds.
const (
	FilterFixed   = "fixed"
	FilterDynamic = "dynamic"
)

// DefaultFilterThreshold is the pruning threshold used when none is configured.
const DefaultFilterThreshold = 0.2

// MarkdownOptions toggles markdown rendering behavior.
type MarkdownOptions struct {
	PreserveLinks     bool `mapstructure:"preserve_links" json:"preserve_links"`
	WrapLines         bool `mapstructure:"wrap_lines" json:"wrap_lines"`
	SkipInternalLinks bool `mapstructure:"skip_internal_links" json:"skip_internal_links"`
	PreserveSupSub    bool `mapstructure:"preserve_sup_sub" json:"preserve_sup_sub"`
	EscapeHTML        bool `mapstructure:"escape_html" json:"escape_html"`
	MarkCodeBlocks    bool `mapstructure:"mark_code_blocks" json:"mark_code_blocks"`
}

// FilterSettings selects the content-density pruning strategy.
type FilterSettings struct {
	Type      string  `mapstructure:"type" json:"type"`
	Threshold float64 `mapstructure:"threshold" json:"threshold"`
	MinWords  int     `mapstructure:"min_words" json:"min_words"`
}

// ExtractionConfig is shared read-only by every task of a run.
type ExtractionConfig struct {
	ContentType    ContentTypeHint `json:"content_type"`
	PrioritizeCode bool            `json:"prioritize_code"`
	Selectors      []string        `json:"selectors,omitempty"`
	Markdown       MarkdownOptions `json:"markdown"`
	Filter         FilterSettings  `json:"filter"`
}

// DefaultExtractionConfig mirrors the defaults of the config loader.
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		ContentType:    ContentAuto,
		PrioritizeCode: true,
		Markdown: MarkdownOptions{
			PreserveLinks:  true,
			EscapeHTML:     true,
			MarkCodeBlocks: true,
		},
		Filter: FilterSettings{Type: FilterFixed, Threshold: DefaultFilterThreshold},
	}
}

// Clone returns a deep copy so callers cannot mutate a running config.
func (c ExtractionConfig) Clone() ExtractionConfig {
	cp := c
	if c.Selectors != nil {
		cp.Selectors = append([]string(nil), c.Selectors...)
	}
	return cp
}

// KeepsCode reports whether code-bearing blocks bypass density pruning.
func (c ExtractionConfig) KeepsCode() bool {
	return c.PrioritizeCode || c.ContentType == ContentCode || c.ContentType == ContentDocumentation
}

// Validate rejects unknown hints, filter kinds, and thresholds.
func (c ExtractionConfig) Validate() error {
	switch c.ContentType {
	case "", ContentAuto, ContentArticle, ContentDocumentation, ContentCode:
	default:
		return &ConfigurationError{Field: "extraction.content_type", Reason: fmt.Sprintf("unknown hint %q", c.ContentType)}
	}
	switch c.Filter.Type {
	case "", FilterFixed, FilterDynamic:
	default:
		return &ConfigurationError{Field: "extraction.filter.type", Reason: fmt.Sprintf("unknown filter %q", c.Filter.Type)}
	}
	if c.Filter.Threshold < 0 || c.Filter.Threshold > 1 {
		return &ConfigurationError{Field: "extraction.filter.threshold", Reason: "must be within [0, 1]"}
	}
	if c.Filter.MinWords < 0 {
		return &ConfigurationError{Field: "extraction.filter.min_words", Reason: "must be >= 0"}
	}
	for _, sel := range c.Selectors {
		if strings.TrimSpace(sel) == "" {
			return &ConfigurationError{Field: "extraction.selectors", Reason: "empty selector"}
		}
	}
	return nil
}

// Limits bounds a single run.
type Limits struct {
	Concurrency    int
	InterTaskDelay time.Duration
}

// Validate enforces a positive concurrency and a non-negative delay.
func (l Limits) Validate() error {
	if l.Concurrency <= 0 {
		return &ConfigurationError{Field: "crawl.concurrency", Reason: "must be > 0"}
	}
	if l.InterTaskDelay < 0 {
		return &ConfigurationError{Field: "crawl.delay_seconds", Reason: "must be >= 0"}
	}
	return nil
}
