// Package metrics exposes pipeline observability counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	FetchRetriesTotal *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kpipulse_runs_total",
			Help: "Pipeline runs by final status.",
		}, []string{"status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kpipulse_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		FetchRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kpipulse_fetch_retries_total",
			Help: "Retried fetch attempts by source.",
		}, []string{"source"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
