package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry exposes the handful of gauges/counters a long-running srcupdate
// or regression pass wants scraped while it is executing. It is separate
// from the OTel Metrics above: OTel carries per-command traces and
// histograms to a collector, while Registry serves a local /metrics page
// for a human watching a multi-hour run.
type Registry struct {
	registry       *prometheus.Registry
	ScanTotal      *prometheus.CounterVec
	ScanErrorTotal *prometheus.CounterVec
	PoolInflight   prometheus.Gauge
	ChunkCommitted prometheus.Counter
}

// NewRegistry builds a fresh Registry with its own prometheus.Registry so
// that tests can create independent instances without colliding on the
// default global registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		ScanTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tlscanary_scan_total",
			Help: "Total number of hosts probed, by mode.",
		}, []string{"mode"}),
		ScanErrorTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tlscanary_scan_errors_total",
			Help: "Total number of probe failures, by reason.",
		}, []string{"reason"}),
		PoolInflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tlscanary_pool_inflight",
			Help: "Number of probe commands currently in flight across the worker pool.",
		}),
		ChunkCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tlscanary_chunks_committed_total",
			Help: "Total number of source chunks whose results have been committed to the run log.",
		}),
	}
}

// Handler returns the HTTP handler serving this registry's metrics in
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
