// Package metrics holds the Prometheus collectors for rebuild and harvest
// passes. Batch commands flush them to a node-exporter textfile; the server
// exposes the same registry over HTTP.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "armory"

// Metrics is one registry plus its collectors.
type Metrics struct {
	Registry *prometheus.Registry

	RebuildRuns           *prometheus.CounterVec
	RebuildDuration       prometheus.Histogram
	RowsFlattened         prometheus.Gauge
	DropGaps              prometheus.Gauge
	DualProvenance        prometheus.Gauge
	ConsistencyMismatches prometheus.Counter
	RecordsSkipped        prometheus.Counter

	HarvestFetched  prometheus.Counter
	HarvestRetries  prometheus.Counter
	HarvestFailures prometheus.Counter

	HTTPRequests *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		RebuildRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rebuild_runs_total",
			Help: "Rebuild passes by outcome.",
		}, []string{"status"}),
		RebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "rebuild_duration_seconds",
			Help:    "Wall time of a rebuild pass.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		RowsFlattened: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "fact_rows",
			Help: "Rows written to equipment_materials by the last rebuild.",
		}),
		DropGaps: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "drop_gaps",
			Help: "Fact rows whose material has no monster source.",
		}),
		DualProvenance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dual_provenance_materials",
			Help: "Materials dropped by both an invader and an uber invader.",
		}),
		ConsistencyMismatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "consistency_mismatches_total",
			Help: "Locales that disagreed with the reference locale.",
		}),
		RecordsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_skipped_total",
			Help: "Harvested records dropped as malformed.",
		}),
		HarvestFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "harvest_fetched_total",
			Help: "Records fetched successfully.",
		}),
		HarvestRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "harvest_retries_total",
			Help: "Fetch attempts retried after a transient error.",
		}),
		HarvestFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "harvest_failures_total",
			Help: "Records given up on after exhausting retries.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Report requests by route and status.",
		}, []string{"route", "status"}),
	}
}

// WithRuntime adds the Go runtime and process collectors, for long-running
// processes.
func (m *Metrics) WithRuntime() *Metrics {
	m.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// WriteTextfile writes the registry in the text exposition format. An empty
// path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
