// Package report aggregates finished URL tasks into a CrawlReport, renders it
// as a single markdown document, and hands the result to storage.
package report
