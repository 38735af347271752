package otel

import (
	"context"
	"sync"
	"testing"

	goAbuse "github.com/MrEthical07/goAbuse"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goAbuse.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goAbuse.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goAbuse.MetricsSnapshot{
		Counters:   make(map[goAbuse.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goAbuse.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findSum(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0, false
			}
			return sum.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func findGauge(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			g, ok := m.Data.(metricdata.Gauge[int64])
			if !ok || len(g.DataPoints) == 0 {
				return 0, false
			}
			return g.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("goabuse-test")

	src := &fakeSource{
		snapshot: goAbuse.MetricsSnapshot{
			Counters: map[goAbuse.MetricID]uint64{
				goAbuse.MetricCheckAllowed:     3,
				goAbuse.MetricCheckBlockedLong: 2,
			},
			Histograms: map[goAbuse.MetricID][]uint64{
				goAbuse.MetricCheckLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if v, ok := findSum(rm, "goabuse_check_allowed_total"); !ok || v != 3 {
		t.Fatalf("expected allowed=3, got %d (found=%v)", v, ok)
	}
	if v, ok := findSum(rm, "goabuse_check_blocked_long_total"); !ok || v != 2 {
		t.Fatalf("expected blocked_long=2, got %d (found=%v)", v, ok)
	}
	if v, ok := findSum(rm, "goabuse_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("expected audit dropped=1, got %d (found=%v)", v, ok)
	}
	if v, ok := findGauge(rm, "goabuse_check_latency_seconds_bucket_le_0_025"); !ok || v != 3 {
		t.Fatalf("expected cumulative bucket 3, got %d (found=%v)", v, ok)
	}
	if v, ok := findGauge(rm, "goabuse_check_latency_seconds_count"); !ok || v != 8 {
		t.Fatalf("expected count 8, got %d (found=%v)", v, ok)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("goabuse-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil limiter, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterSkipsDisabledCounters(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("goabuse-test")

	src := &fakeSource{snapshot: goAbuse.MetricsSnapshot{
		Counters:   map[goAbuse.MetricID]uint64{},
		Histograms: map[goAbuse.MetricID][]uint64{},
	}}
	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if _, ok := findSum(rm, "goabuse_check_allowed_total"); ok {
		t.Fatal("disabled counters must not be observed")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("goabuse-test")

	src := &fakeSource{
		snapshot: goAbuse.MetricsSnapshot{
			Counters: map[goAbuse.MetricID]uint64{
				goAbuse.MetricCheckAllowed: 1,
			},
			Histograms: map[goAbuse.MetricID][]uint64{
				goAbuse.MetricCheckLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goAbuse.MetricCheckAllowed] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
