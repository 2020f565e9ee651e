// Command docucrawl crawls documentation sites into a single markdown report.
//
// Usage:
//
//	docucrawl crawl [flags] [url...]
//	docucrawl serve [flags]
//
// crawl runs one batch in the foreground, draws a progress bar on stderr, and
// writes the report to --output (crawl_output.md by default, "-" for stdout).
// URLs come from the arguments and from --urls-file, one per line, where blank
// lines and lines starting with # are skipped. Besides http(s) URLs, inputs
// may be file:// paths or inline HTML prefixed with raw:.
//
// serve exposes the same engine over HTTP:
//
//	POST   /v1/crawls                 start a run {"urls": [...], "strategy": "hybrid"}
//	GET    /v1/crawls                 snapshots of active runs
//	GET    /v1/crawls/{run_id}        progress snapshot
//	GET    /v1/crawls/{run_id}/stream server-sent snapshot events
//	GET    /v1/crawls/{run_id}/report markdown report (?format=json for JSON)
//	DELETE /v1/crawls/{run_id}        cancel a run
//	GET    /v1/runs                   run history
//
// Both commands read configuration from --config and CRAWLER_* environment
// variables; command-line flags take precedence.
package main
