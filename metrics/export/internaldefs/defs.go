package internaldefs

import (
	goAbuse "github.com/MrEthical07/goAbuse"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goAbuse.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   goAbuse.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events dropped under backpressure.
const AuditDroppedName = "goabuse_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: goAbuse.MetricCheckAllowed, Name: "goabuse_check_allowed_total", Help: "Attempts allowed."},
	{ID: goAbuse.MetricCheckBlockedShort, Name: "goabuse_check_blocked_short_total", Help: "Attempts rejected by the short tier."},
	{ID: goAbuse.MetricCheckBlockedLong, Name: "goabuse_check_blocked_long_total", Help: "Attempts rejected by the long tier."},
	{ID: goAbuse.MetricStoreUnavailable, Name: "goabuse_store_unavailable_total", Help: "Checks that failed to reach the store."},
	{ID: goAbuse.MetricStoreTimeout, Name: "goabuse_store_timeout_total", Help: "Checks that exceeded their deadline."},
	{ID: goAbuse.MetricProtocolError, Name: "goabuse_protocol_error_total", Help: "Malformed store replies and script errors."},
	{ID: goAbuse.MetricConfigRejected, Name: "goabuse_config_rejected_total", Help: "Checks rejected for an invalid policy or scope."},
	{ID: goAbuse.MetricFailOpen, Name: "goabuse_fail_open_total", Help: "Store failures let through by fail-open gates."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goAbuse.MetricCheckLatency, Name: "goabuse_check_latency_seconds", Help: "Check store round-trip latency."},
}

// HistogramBounds are the bucket labels, +Inf last.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramUpperBounds are the finite bucket bounds in seconds.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix are instrument-name-safe forms of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed 8-bucket array, zero-filling
// missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
