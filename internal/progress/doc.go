// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the engine uses to report request progress. It batches
// events on a background goroutine and fans them out to pluggable sinks such
// as a structured diagnostic log or Prometheus metrics.
package progress
