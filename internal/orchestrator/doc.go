// Package orchestrator runs one crawl: a task per input URL, a counting
// semaphore bounding how many are in flight, live snapshots for observers,
// and a report built after every task has finished.
package orchestrator
