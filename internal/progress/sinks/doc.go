// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, and run history kept through a store.RunRepository. Each sink
// satisfies progress.Sink and tolerates repeated Consume/Close cycles.
package sinks
