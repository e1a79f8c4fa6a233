// Package prometheus exposes authgate metrics as a prometheus.Collector.
//
// The exporter reads counter and histogram snapshots from a Provider and
// converts them to const metrics on every scrape; it holds no state of its
// own and never mutates the source.
package prometheus
