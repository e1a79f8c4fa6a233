package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authgate "github.com/hamgam-dev/authgate"
)

type metricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders authgate metrics for Prometheus scrapes.
type Exporter struct {
	source       metricsSource
	counterDescs map[authgate.MetricID]*prometheus.Desc
	latencyDesc  *prometheus.Desc
	droppedDesc  *prometheus.Desc
}

// NewExporter creates an exporter that reads from the given Provider.
func NewExporter(p *authgate.Provider) *Exporter {
	return NewExporterFromSource(p)
}

// NewExporterFromSource creates an exporter from a custom metrics source.
func NewExporterFromSource(source metricsSource) *Exporter {
	e := &Exporter{
		source:       source,
		counterDescs: make(map[authgate.MetricID]*prometheus.Desc),
		droppedDesc: prometheus.NewDesc(
			"authgate_audit_dropped_total",
			"Dropped audit events due to dispatcher backpressure.",
			nil, nil,
		),
	}

	for id, name := range authgate.MetricNames() {
		if name == "" {
			continue
		}
		if id == authgate.MetricCheckLatency {
			e.latencyDesc = prometheus.NewDesc(name, "Session check latency.", nil, nil)
			continue
		}
		e.counterDescs[id] = prometheus.NewDesc(name, "authgate counter.", nil, nil)
	}

	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range e.counterDescs {
		ch <- desc
	}
	if e.latencyDesc != nil {
		ch <- e.latencyDesc
	}
	ch <- e.droppedDesc
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e == nil || e.source == nil {
		return
	}

	snapshot := e.source.MetricsSnapshot()

	for id, desc := range e.counterDescs {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(snapshot.Counters[id]))
	}

	if buckets, ok := snapshot.Histograms[authgate.MetricCheckLatency]; ok && e.latencyDesc != nil {
		bounds := authgate.HistogramBounds()
		cumulative := make(map[float64]uint64, len(bounds))

		var count uint64
		for i, bound := range bounds {
			count += buckets[i]
			cumulative[bound] = count
		}
		// The +Inf bucket is implied by the total count.
		if len(buckets) > len(bounds) {
			count += buckets[len(bounds)]
		}

		// Core snapshots carry no sum; expose a stable zero.
		ch <- prometheus.MustNewConstHistogram(e.latencyDesc, count, 0, cumulative)
	}

	ch <- prometheus.MustNewConstMetric(e.droppedDesc, prometheus.CounterValue, float64(e.source.AuditDropped()))
}

// Handler returns an http.Handler serving the exporter on its own registry.
func (e *Exporter) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(e)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
