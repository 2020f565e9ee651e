package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorDim     = color.New(color.Faint).SprintFunc()
	colorBold    = color.New(color.Bold).SprintFunc()
)

// printSummary writes the end-of-run counts and where the report went.
func printSummary(w io.Writer, rep crawler.CrawlReport, canceled bool, location string) {
	status := colorSuccess("complete")
	switch {
	case canceled:
		status = colorWarn("canceled")
	case rep.TotalCount > 0 && rep.SuccessCount == 0:
		status = colorError("failed")
	}
	fmt.Fprintf(w, "%s %s (%s)\n", colorBold("Crawl"), status, rep.StrategyUsed)
	fmt.Fprintf(w, "  total:     %d\n", rep.TotalCount)
	fmt.Fprintf(w, "  succeeded: %s\n", colorSuccess(rep.SuccessCount))
	if rep.FailureCount > 0 {
		fmt.Fprintf(w, "  failed:    %s\n", colorError(rep.FailureCount))
	} else {
		fmt.Fprintf(w, "  failed:    %d\n", rep.FailureCount)
	}
	if location != "" {
		fmt.Fprintf(w, "  report:    %s\n", colorDim(location))
	}
}
