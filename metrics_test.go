package authgate

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsIncAndValue(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLogout)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := m.Value(MetricLogout); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := m.Value(MetricLoginFailure); got != 0 {
		t.Fatalf("expected untouched counter to read 0, got %d", got)
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricLoginSuccess)
	m.Observe(MetricCheckLatency, time.Millisecond)

	if m.Enabled() {
		t.Fatal("expected disabled registry")
	}
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled registry must not count, got %d", got)
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics

	m.Inc(MetricLoginSuccess)
	m.Observe(MetricCheckLatency, time.Millisecond)
	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("nil registry must read 0")
	}
	if m.Enabled() {
		t.Fatal("nil registry must report disabled")
	}
}

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers = 16
	const perWorker = 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricCheckAccepted)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricCheckAccepted); got != workers*perWorker {
		t.Fatalf("expected %d, got %d", workers*perWorker, got)
	}
}

func TestMetricsLatencyHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	m.Observe(MetricCheckLatency, 500*time.Microsecond) // bucket 0
	m.Observe(MetricCheckLatency, 3*time.Millisecond)   // bucket 1
	m.Observe(MetricCheckLatency, 80*time.Millisecond)  // bucket 3
	m.Observe(MetricCheckLatency, 10*time.Second)       // bucket 7

	snap := m.Snapshot()
	buckets, ok := snap.Histograms[MetricCheckLatency]
	if !ok {
		t.Fatal("expected check latency histogram in snapshot")
	}
	want := []uint64{1, 1, 0, 1, 0, 0, 0, 1}
	for i := range want {
		if buckets[i] != want[i] {
			t.Fatalf("bucket %d = %d, want %d (all: %v)", i, buckets[i], want[i], buckets)
		}
	}
}

func TestMetricsHistogramDisabledByDefault(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Observe(MetricCheckLatency, time.Millisecond)

	if _, ok := m.Snapshot().Histograms[MetricCheckLatency]; ok {
		t.Fatal("histogram must be opt-in")
	}
}

func TestMetricNamesCoverAllIDs(t *testing.T) {
	names := MetricNames()
	seen := make(map[string]MetricID, len(names))

	for id := MetricID(0); id < metricIDCount; id++ {
		name, ok := names[id]
		if !ok || name == "" {
			t.Fatalf("metric %d has no exposition name", id)
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("metrics %d and %d share the name %q", prev, id, name)
		}
		seen[name] = id
	}
}

func TestHistogramBoundsMatchBucketCount(t *testing.T) {
	// Bounds exclude the implicit +Inf bucket.
	if got := len(HistogramBounds()); got != histBucketCount-1 {
		t.Fatalf("expected %d bounds, got %d", histBucketCount-1, got)
	}
}
