// Package otel publishes goAbuse limiter counters through OpenTelemetry
// metrics.
//
// [NewOTelExporter] registers an Int64ObservableCounter per limiter counter
// and an Int64ObservableGauge per latency bucket. One callback reads
// [goAbuse.Limiter.MetricsSnapshot] on each collection cycle; counters
// missing from the snapshot (metrics disabled) are not observed.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate limiter state.
package otel
