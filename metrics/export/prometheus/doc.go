// Package prometheus provides Prometheus collectors for bidsession metrics.
//
// [NewPrometheusExporter] accepts a [bidsession.SessionManager] and exposes an
// [http.Handler] that renders all bidsession counters and histograms in
// Prometheus text exposition format. Counter names are prefixed
// bidsession_*_total; the single histogram is bidsession_poll_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate manager state.
package prometheus
