// Package progress carries observability events out of the orchestrator. The
// Hub batches events on a background goroutine and fans them out to sinks
// (structured logs, Prometheus, the in-memory run tracker) without ever
// blocking a harvesting stream.
package progress
