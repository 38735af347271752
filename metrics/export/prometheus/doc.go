// Package prometheus exposes goAbuse limiter counters through
// github.com/prometheus/client_golang.
//
// [PrometheusExporter] is a prometheus.Collector built on const metrics read
// from [goAbuse.Limiter.MetricsSnapshot] at scrape time. Counter names are
// goabuse_*_total; the single histogram is goabuse_check_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers use
//     Register with their own registry or mount Handler.
//   - Mutate limiter state.
package prometheus
