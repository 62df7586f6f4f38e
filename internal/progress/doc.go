// Package progress is the pipeline's observer boundary. Workers emit one
// event per issue state transition; a non-blocking hub batches them on a
// background goroutine and fans them out to pluggable sinks (structured
// logs, Prometheus collectors, the archive store). A slow sink can never
// stall the pipeline: when the buffer is full, new events are dropped and
// the drop count is logged at a bounded rate.
package progress
