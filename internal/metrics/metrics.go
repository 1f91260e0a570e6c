// Package metrics exposes the gateway's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contentscan"

// Metrics holds every collector the gateway records. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups   *prometheus.CounterVec
	coalesced      prometheus.Counter
	verdicts       *prometheus.CounterVec
	pipelineErrors *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	cacheCleared   prometheus.Counter
}

// New registers the gateway metrics on a fresh registry, alongside the
// standard Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome (hit, miss).",
		}, []string{"result"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_requests_total",
			Help:      "Requests that shared another request's in-flight pipeline.",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Verdicts produced by the pipeline.",
		}, []string{"result"}),
		pipelineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_errors_total",
			Help:      "Pipeline failures by error kind.",
		}, []string{"kind"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipelines_in_flight",
			Help:      "Pipelines currently running.",
		}),
		cacheCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_clears_total",
			Help:      "Administrative cache resets.",
		}),
	}

	registry.MustRegister(
		m.cacheLookups,
		m.coalesced,
		m.verdicts,
		m.pipelineErrors,
		m.stageDuration,
		m.inFlight,
		m.cacheCleared,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheLookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) Coalesced() {
	if m != nil {
		m.coalesced.Inc()
	}
}

func (m *Metrics) Verdict(clean bool) {
	if m == nil {
		return
	}
	result := "unclean"
	if clean {
		result = "clean"
	}
	m.verdicts.WithLabelValues(result).Inc()
}

func (m *Metrics) PipelineError(kind string) {
	if m != nil {
		m.pipelineErrors.WithLabelValues(kind).Inc()
	}
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m != nil {
		m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) PipelineStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) PipelineFinished() {
	if m != nil {
		m.inFlight.Dec()
	}
}

func (m *Metrics) CacheCleared() {
	if m != nil {
		m.cacheCleared.Inc()
	}
}
