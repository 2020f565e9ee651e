// Package progress carries crawl progress out of the orchestrator along two
// paths. Events (run, task, and attempt milestones) go through a non-blocking
// Hub that batches them on a background goroutine and fans them out to sinks
// such as logs, Prometheus, or run history in Postgres. Snapshots of the task
// set go through a Broadcaster, where every subscriber only ever sees the
// latest value.
package progress
