package core

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "agentchat"

// Metrics exports turn and artifact counters. It satisfies runtime.Observer
// and artifact.CacheObserver.
type Metrics struct {
	gatherer    prometheus.Gatherer
	invocations *prometheus.CounterVec
	fallbacks   prometheus.Counter
	artifacts   *prometheus.CounterVec
}

// NewMetrics registers the counters with reg. A nil reg uses a fresh registry.
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_total",
			Help:      "Completed chat turns by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stream_fallbacks_total",
			Help:      "Turns whose streaming attempt failed and fell back to a one-shot reply.",
		}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "artifact_lookups_total",
			Help:      "Artifact cache lookups by result.",
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{m.invocations, m.fallbacks, m.artifacts} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveInvocation counts a finished turn.
func (m *Metrics) ObserveInvocation(outcome string) {
	m.invocations.WithLabelValues(outcome).Inc()
}

// ObserveFallback counts a streaming failure.
func (m *Metrics) ObserveFallback() {
	m.fallbacks.Inc()
}

// CacheHit counts a download served from memory.
func (m *Metrics) CacheHit() {
	m.artifacts.WithLabelValues("hit").Inc()
}

// CacheMiss counts a download from storage.
func (m *Metrics) CacheMiss() {
	m.artifacts.WithLabelValues("miss").Inc()
}

// DownloadFailed counts a failed download.
func (m *Metrics) DownloadFailed() {
	m.artifacts.WithLabelValues("error").Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
