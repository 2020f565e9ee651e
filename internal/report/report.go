package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// DefaultFilename is the object name used for rendered reports.
const DefaultFilename = "crawl_output.md"

const noTitle = "No title"

// Build aggregates task views into a report. It is pure: the same views,
// timestamp, and strategy always produce the same report. Views that have
// not reached a terminal status are reported as internal failures so the
// report still lists every input URL.
func Build(runID string, generatedAt time.Time, strategy crawler.StrategyOrder, views []crawler.TaskView) crawler.CrawlReport {
	sorted := append([]crawler.TaskView(nil), views...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	report := crawler.CrawlReport{
		RunID:        runID,
		GeneratedAt:  generatedAt.UTC(),
		StrategyUsed: strategy,
		TotalCount:   len(sorted),
		Blocks:       make([]crawler.ReportBlock, 0, len(sorted)),
	}
	for _, view := range sorted {
		block := crawler.ReportBlock{Index: view.Index, URL: view.URL}
		switch result := view.Result().(type) {
		case crawler.Document:
			if result.URL == "" {
				result.URL = view.URL
			}
			block.Succeeded = true
			block.Text = renderDocument(result)
			report.SuccessCount++
		case crawler.FailureReport:
			block.Text = renderFailure(result)
			report.FailureCount++
		default:
			block.Text = renderFailure(crawler.FailureReport{
				URL:  view.URL,
				Kind: crawler.KindInternal,
				Err:  fmt.Errorf("task %d still %s at report time", view.Index, view.Status),
			})
			report.FailureCount++
		}
		report.Blocks = append(report.Blocks, block)
	}
	return report
}

// Render produces the markdown text of a report. Two reports that differ only
// in GeneratedAt render identically apart from the Generated line.
func Render(report crawler.CrawlReport) string {
	var b strings.Builder
	b.WriteString("# Crawl Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", report.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Strategy: %s\n", report.StrategyUsed)
	fmt.Fprintf(&b, "Total: %d | Succeeded: %d | Failed: %d\n",
		report.TotalCount, report.SuccessCount, report.FailureCount)
	for _, block := range report.Blocks {
		fmt.Fprintf(&b, "\n<!-- URL: %s -->\n\n", block.URL)
		b.WriteString(block.Text)
		if !strings.HasSuffix(block.Text, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Description trims a page description to the preview budget.
func Description(desc string) string {
	desc = strings.TrimSpace(desc)
	cut := crawler.TruncateRunes(desc, crawler.PreviewRunes)
	if cut == desc {
		return desc
	}
	return cut + "..."
}

func renderDocument(doc crawler.Document) string {
	var b strings.Builder
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = noTitle
	}
	fmt.Fprintf(&b, "## %s\n\n", title)
	fmt.Fprintf(&b, "- URL: %s\n", doc.URL)
	if desc := Description(doc.Description); desc != "" {
		fmt.Fprintf(&b, "- Description: %s\n", desc)
	}
	if doc.Strategy != "" {
		fmt.Fprintf(&b, "- Strategy: %s\n", doc.Strategy)
	}
	fmt.Fprintf(&b, "- %s (length: %d chars)\n\n", contentLabel(doc.ContentKind), doc.LengthChars)
	b.WriteString(doc.Markdown)
	return b.String()
}

func renderFailure(failure crawler.FailureReport) string {
	kind := failure.Kind
	if kind == "" {
		kind = crawler.KindInternal
	}
	return fmt.Sprintf("## Failed: %s\n\n- Error (%s): %s\n", failure.URL, kind, failure.Reason())
}

func contentLabel(kind crawler.ContentKind) string {
	switch kind {
	case crawler.ContentFitMarkdown:
		return "LLM-friendly Markdown"
	case crawler.ContentRawHTML:
		return "HTML content"
	default:
		return "Markdown"
	}
}
