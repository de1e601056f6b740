package classifyd

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry    *prometheus.Registry
	predictions *prometheus.CounterVec
	latency     prometheus.Histogram
	jobs        *prometheus.CounterVec
	running     prometheus.Gauge
	units       *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "casewatch",
				Name:      "predictions_total",
				Help:      "Single-image prediction requests by result",
			},
			[]string{"result"},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "casewatch",
				Name:      "prediction_duration_seconds",
				Help:      "Time spent classifying one image",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "casewatch",
				Name:      "jobs_total",
				Help:      "Batch jobs by final status",
			},
			[]string{"status"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "casewatch",
				Name:      "jobs_running",
				Help:      "Batch jobs currently running",
			},
		),
		units: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "casewatch",
				Name:      "job_units_total",
				Help:      "Units processed by batch jobs by outcome",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(m.predictions, m.latency, m.jobs, m.running, m.units)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func outcomeLabel(failed bool) string {
	if failed {
		return "failure"
	}
	return "success"
}
