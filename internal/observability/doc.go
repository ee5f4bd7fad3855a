// Package observability exports Prometheus metrics derived from the event
// bus and serves them, together with optional pprof handlers, over HTTP.
package observability
