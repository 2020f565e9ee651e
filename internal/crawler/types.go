package crawler

import (
	"net/http"
	"time"
)

// StrategyOrder names the configured sequence of fetch strategies.
type StrategyOrder string

// Supported strategy orders.
const (
	OrderHybrid         StrategyOrder = "hybrid"
	OrderDirectOnly     StrategyOrder = "direct-only"
	OrderBrowserHTTP    StrategyOrder = "browser-http"
	OrderBrowserRawHTML StrategyOrder = "browser-raw-html"
)

// Strategy names recorded in attempt logs.
const (
	StrategyDirectHTTP    = "direct-http"
	StrategyBrowserDOM    = "browser-dom"
	StrategyBrowserSource = "browser-source"
	StrategyLocal         = "local"
)

// ParseStrategyOrder validates a configured order name.
func ParseStrategyOrder(raw string) (StrategyOrder, error) {
	switch order := StrategyOrder(raw); order {
	case OrderHybrid, OrderDirectOnly, OrderBrowserHTTP, OrderBrowserRawHTML:
		return order, nil
	default:
		return "", &ConfigurationError{Field: "crawl.strategy", Reason: "unknown strategy order " + raw}
	}
}

// Strategies returns the remote strategy names tried for the order, in order.
func (o StrategyOrder) Strategies() []string {
	switch o {
	case OrderHybrid:
		return []string{StrategyDirectHTTP, StrategyBrowserDOM}
	case OrderDirectOnly:
		return []string{StrategyDirectHTTP}
	case OrderBrowserHTTP:
		return []string{StrategyBrowserDOM}
	case OrderBrowserRawHTML:
		return []string{StrategyBrowserSource}
	default:
		return nil
	}
}

// NeedsBrowser reports whether any strategy in the order drives a browser.
func (o StrategyOrder) NeedsBrowser() bool {
	return o == OrderHybrid || o == OrderBrowserHTTP || o == OrderBrowserRawHTML
}

// FetchRequest captures everything a strategy needs to fetch a URL.
type FetchRequest struct {
	URL       string
	UserAgent string
	Headers   http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// FetchOutcome is the normalized result of a strategy chain.
type FetchOutcome struct {
	URL         string
	HTML        string
	Strategy    string
	StatusCode  int
	ContentType string
}

// AttemptOutcome classifies a single strategy try.
type AttemptOutcome string

// Attempt outcomes recorded in a task's attempt log.
const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeError   AttemptOutcome = "error"
	OutcomeTimeout AttemptOutcome = "timeout"
	OutcomeShell   AttemptOutcome = "shell"
)

// Attempt records one try of one strategy.
type Attempt struct {
	Strategy string         `json:"strategy"`
	Try      int            `json:"try"`
	Outcome  AttemptOutcome `json:"outcome"`
	Err      string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// ContentKind describes what a document's markdown was derived from.
type ContentKind string

// Content kinds, in order of preference.
const (
	ContentFitMarkdown ContentKind = "fit_markdown"
	ContentRawMarkdown ContentKind = "raw_markdown"
	ContentRawHTML     ContentKind = "raw_html"
)

// Document is the transformed, LLM-ready output for one URL.
type Document struct {
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	ContentKind ContentKind `json:"content_kind"`
	Markdown    string      `json:"markdown"`
	LengthChars int         `json:"length_chars"`
	Strategy    string      `json:"strategy"`
}

// FailureReport describes why a task failed.
type FailureReport struct {
	URL  string
	Kind ErrorKind
	Err  error
}

// Reason returns the failure message rendered into reports.
func (f FailureReport) Reason() string {
	if f.Err == nil {
		return "unknown failure"
	}
	return f.Err.Error()
}

// TaskResult is the terminal result of a task: either Document or FailureReport.
type TaskResult interface {
	isTaskResult()
}

func (Document) isTaskResult()      {}
func (FailureReport) isTaskResult() {}

// ReportBlock is one rendered per-task section of a report.
type ReportBlock struct {
	Index     int    `json:"index"`
	URL       string `json:"url"`
	Succeeded bool   `json:"succeeded"`
	Text      string `json:"text"`
}

// CrawlReport is the aggregated, immutable result of a run.
type CrawlReport struct {
	RunID        string        `json:"run_id"`
	GeneratedAt  time.Time     `json:"generated_at"`
	StrategyUsed StrategyOrder `json:"strategy_used"`
	TotalCount   int           `json:"total_count"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	Blocks       []ReportBlock `json:"blocks"`
}

// ProgressSnapshot is a read-only view over the live task set.
type ProgressSnapshot struct {
	RunID       string    `json:"run_id"`
	Total       int       `json:"total"`
	Pending     int       `json:"pending"`
	InFlight    int       `json:"in_flight"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	InFlightURL []string  `json:"in_flight_urls"`
	LastURL     string    `json:"last_url,omitempty"`
	LastPreview string    `json:"last_preview,omitempty"`
	Complete    bool      `json:"complete"`
	Emitted     time.Time `json:"emitted_at"`
}

// Done returns the number of tasks in a terminal status.
func (s ProgressSnapshot) Done() int {
	return s.Succeeded + s.Failed
}

// ReportRecord is the metadata row persisted for each stored report.
type ReportRecord struct {
	ID           string
	RunID        string
	GeneratedAt  time.Time
	Strategy     string
	TotalCount   int
	SuccessCount int
	FailureCount int
	BlobURI      string
	ContentHash  string
}

// ReportNotification is published once a report has been persisted.
type ReportNotification struct {
	RunID        string    `json:"run_id"`
	BlobURI      string    `json:"blob_uri"`
	ContentHash  string    `json:"content_hash"`
	GeneratedAt  time.Time `json:"generated_at"`
	TotalCount   int       `json:"total_count"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
}

// Attributes exposes routing attributes for message brokers.
func (n ReportNotification) Attributes() map[string]string {
	return map[string]string{
		"event":  "report_ready",
		"run_id": n.RunID,
	}
}

// PreviewRunes is the rune budget for previews and description excerpts.
const PreviewRunes = 150

// TruncateRunes cuts s to at most n runes without splitting a code point.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
