// Package metrics exports Prometheus counters and gauges for the
// ingestion pipeline, the distributed cache, and the hybrid store,
// grounded on ai/metrics/prometheus.go's namespace/subsystem/registry
// shape but scoped to this module's own components instead of the
// teacher's chat/tool/LLM surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this module exports, all registered
// against a single prometheus.Registry so Handler() serves them all
// from one /metrics endpoint.
type Registry struct {
	registry *prometheus.Registry

	ingestResourcesTotal  *prometheus.CounterVec
	ingestFragmentsTotal  *prometheus.CounterVec
	ingestFragmentsFailed *prometheus.CounterVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	storePointsByDimension *prometheus.GaugeVec
	storeSegments          prometheus.Gauge
}

// New builds and registers every metric.
func New() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,
		ingestResourcesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spacedb",
			Subsystem: "ingest",
			Name:      "resources_total",
			Help:      "Total number of resource points created by the ingestion pipeline.",
		}, []string{"status"}),
		ingestFragmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spacedb",
			Subsystem: "ingest",
			Name:      "fragments_total",
			Help:      "Total number of fragment points materialized by the ingestion pipeline.",
		}, []string{"parser"}),
		ingestFragmentsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spacedb",
			Subsystem: "ingest",
			Name:      "fragments_failed_total",
			Help:      "Total number of fragments that failed to materialize and were dropped.",
		}, []string{"parser"}),
		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spacedb",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache operations that were served without a fetch.",
		}, []string{"operation"}),
		cacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spacedb",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache operations that required a synchronous fetch.",
		}, []string{"operation"}),
		storePointsByDimension: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spacedb",
			Subsystem: "store",
			Name:      "points",
			Help:      "Current point count per dimension.",
		}, []string{"dimension"}),
		storeSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spacedb",
			Subsystem: "store",
			Name:      "segments",
			Help:      "Current segment count.",
		}),
	}

	registry.MustRegister(
		r.ingestResourcesTotal,
		r.ingestFragmentsTotal,
		r.ingestFragmentsFailed,
		r.cacheHitsTotal,
		r.cacheMissesTotal,
		r.storePointsByDimension,
		r.storeSegments,
	)

	return r
}

// RecordResourceIngested records a single ingest.Pipeline.Ingest call's
// outcome for the resource point it produced or failed to produce.
func (r *Registry) RecordResourceIngested(success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	r.ingestResourcesTotal.WithLabelValues(status).Inc()
}

// RecordFragmentMaterialized records one fragment Point creation attempt.
func (r *Registry) RecordFragmentMaterialized(parserType string, success bool) {
	if success {
		r.ingestFragmentsTotal.WithLabelValues(parserType).Inc()
		return
	}
	r.ingestFragmentsFailed.WithLabelValues(parserType).Inc()
}

// RecordCacheOp counts one cache operation as a hit or a miss, labeled by
// operation ("get" or "put").
func (r *Registry) RecordCacheOp(operation string, hit bool) {
	if hit {
		r.cacheHitsTotal.WithLabelValues(operation).Inc()
		return
	}
	r.cacheMissesTotal.WithLabelValues(operation).Inc()
}

// SetStorePointCounts overwrites the per-dimension point gauges and the
// segment gauge from a fresh hybridstore.Stats snapshot.
func (r *Registry) SetStorePointCounts(pointsByDimension map[int]int, segmentCount int) {
	for dimension, count := range pointsByDimension {
		r.storePointsByDimension.WithLabelValues(dimensionLabel(dimension)).Set(float64(count))
	}
	r.storeSegments.Set(float64(segmentCount))
}

func dimensionLabel(dimension int) string {
	switch dimension {
	case 0:
		return "resource"
	case 1:
		return "fragment"
	default:
		return "unknown"
	}
}

// Handler serves every registered metric in the Prometheus text
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
