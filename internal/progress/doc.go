// Package progress provides the event primitives, non-blocking hub and emitter
// interface that pipeline stages use to report run progress. The hub batches
// events on a background goroutine and fans them out to pluggable sinks such
// as Prometheus metrics, the live status tracker or the run history store.
package progress
