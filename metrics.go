package authgate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricLoginSuccess counts accepted identifier/password submissions.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected identifier/password submissions.
	MetricLoginFailure
	// MetricOTPPending counts challenges parked awaiting a one-time code.
	MetricOTPPending
	// MetricOTPSuccess counts verified one-time codes.
	MetricOTPSuccess
	// MetricOTPFailure counts wrong one-time codes.
	MetricOTPFailure
	// MetricOTPExpired counts dead challenges: timed out or attempts spent.
	MetricOTPExpired
	// MetricRegisterSuccess counts accepted registrations.
	MetricRegisterSuccess
	// MetricRegisterFailure counts rejected registrations.
	MetricRegisterFailure
	// MetricCheckAccepted counts server-accepted session checks.
	MetricCheckAccepted
	// MetricCheckRejected counts server-rejected session checks.
	MetricCheckRejected
	// MetricCheckNetworkError counts session checks that failed to complete.
	MetricCheckNetworkError
	// MetricCheckShared counts callers that joined an in-flight or memoized
	// check instead of triggering a network call.
	MetricCheckShared
	// MetricCheckDiscarded counts check results dropped because logout
	// advanced the generation while they were in flight.
	MetricCheckDiscarded
	// MetricHydrateEmpty counts hydrations that found no stored session.
	MetricHydrateEmpty
	// MetricHydrateCached counts hydrations that found a cached session.
	MetricHydrateCached
	// MetricLogout counts logouts.
	MetricLogout
	// MetricRefreshSuccess counts silent refreshes that rescued a session.
	MetricRefreshSuccess
	// MetricRefreshFailure counts silent refreshes the server rejected.
	MetricRefreshFailure
	// MetricCheckLatency is the session-check latency histogram.
	MetricCheckLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the lock-free counter registry shared by one Provider.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a registry honoring the given config.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments the counter for id. Safe for concurrent use; a no-op when
// metrics are disabled.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency observation. Only MetricCheckLatency carries a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricCheckLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current counter value for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricCheckLatency].buckets[i])
		}
		s.Histograms[MetricCheckLatency] = buckets
	}

	return s
}

// bucketIndex maps a duration onto the fixed exposition bounds:
// 1ms, 5ms, 25ms, 100ms, 250ms, 1s, 5s, +Inf.
func bucketIndex(d time.Duration) int {
	switch {
	case d <= time.Millisecond:
		return 0
	case d <= 5*time.Millisecond:
		return 1
	case d <= 25*time.Millisecond:
		return 2
	case d <= 100*time.Millisecond:
		return 3
	case d <= 250*time.Millisecond:
		return 4
	case d <= time.Second:
		return 5
	case d <= 5*time.Second:
		return 6
	default:
		return 7
	}
}

// metricName returns the Prometheus exposition name for id.
func metricName(id MetricID) string {
	switch id {
	case MetricLoginSuccess:
		return "authgate_login_success_total"
	case MetricLoginFailure:
		return "authgate_login_failure_total"
	case MetricOTPPending:
		return "authgate_otp_pending_total"
	case MetricOTPSuccess:
		return "authgate_otp_success_total"
	case MetricOTPFailure:
		return "authgate_otp_failure_total"
	case MetricOTPExpired:
		return "authgate_otp_expired_total"
	case MetricRegisterSuccess:
		return "authgate_register_success_total"
	case MetricRegisterFailure:
		return "authgate_register_failure_total"
	case MetricCheckAccepted:
		return "authgate_check_accepted_total"
	case MetricCheckRejected:
		return "authgate_check_rejected_total"
	case MetricCheckNetworkError:
		return "authgate_check_network_error_total"
	case MetricCheckShared:
		return "authgate_check_shared_total"
	case MetricCheckDiscarded:
		return "authgate_check_discarded_total"
	case MetricHydrateEmpty:
		return "authgate_hydrate_empty_total"
	case MetricHydrateCached:
		return "authgate_hydrate_cached_total"
	case MetricLogout:
		return "authgate_logout_total"
	case MetricRefreshSuccess:
		return "authgate_refresh_success_total"
	case MetricRefreshFailure:
		return "authgate_refresh_failure_total"
	case MetricCheckLatency:
		return "authgate_check_latency_seconds"
	default:
		return ""
	}
}

// MetricNames returns the exposition name for every counter ID, in ID order.
// Used by the Prometheus exporter subpackage.
func MetricNames() map[MetricID]string {
	out := make(map[MetricID]string, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		out[id] = metricName(id)
	}
	return out
}

// HistogramBounds returns the upper bounds, in seconds, of the check-latency
// histogram buckets. The final bucket is +Inf.
func HistogramBounds() []float64 {
	return []float64{0.001, 0.005, 0.025, 0.1, 0.25, 1, 5}
}
