// Package sinks implements concrete progress consumers: a structured zap log
// and Prometheus collectors. Each sink satisfies progress.Sink.
package sinks
