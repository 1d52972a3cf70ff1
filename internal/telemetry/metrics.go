// Package telemetry exposes Prometheus metrics for the engine. Collectors
// are registered on the default registry; Expose serves them on /metrics.
package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsProcessed counts records per flow and outcome
	// (ok | dropped | failed).
	RecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weft_records_processed_total",
		Help: "Records processed per flow and outcome.",
	}, []string{"flow", "outcome"})

	// ModuleCacheHits counts module cache lookups by result.
	ModuleCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weft_module_cache_lookups_total",
		Help: "Module cache lookups by result (hit | miss).",
	}, []string{"result"})

	// CompileDuration observes sandbox module compile latency.
	CompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weft_module_compile_seconds",
		Help:    "Module compile duration including code generation.",
		Buckets: prometheus.DefBuckets,
	})

	// ExecuteDuration observes per-record transform latency by path.
	ExecuteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weft_transform_execute_seconds",
		Help:    "Per-record transform execution duration by path.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"path"})

	// SandboxReclaims counts sandbox instances discarded after a timeout
	// or fault instead of being returned to the pool.
	SandboxReclaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weft_sandbox_reclaims_total",
		Help: "Sandbox instances force-reclaimed after timeout or fault.",
	})
)

// Expose serves the metrics endpoint in the background.
func Expose(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
