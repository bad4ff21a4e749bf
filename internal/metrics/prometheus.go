// Package metrics exports Prometheus metrics for the chat exchange pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "research_chat"

// Recorder is the narrow metrics surface used by the core services. A nil *Exporter
// is a valid Recorder that records nothing.
type Recorder interface {
	ObserveLLMCall(callType, outcome string, d time.Duration)
	IncCandidate(kind string)
	IncResolution(mode string)
	IncEvaluation(outcome string)
}

type Exporter struct {
	registry *prometheus.Registry

	llmLatency  *prometheus.HistogramVec
	candidates  *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	evaluations *prometheus.CounterVec
}

func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{
		registry: registry,
		llmLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "call_latency_seconds",
				Help:      "Aggregator call latency in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"type", "outcome"},
		),
		candidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "candidates_total",
				Help:      "Candidates produced, by kind",
			},
			[]string{"kind"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "resolutions_total",
				Help:      "Resolved exchanges, by selection mode",
			},
			[]string{"mode"},
		),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "evaluation",
				Name:      "records_total",
				Help:      "Evaluation records sent to the database server, by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(e.llmLatency, e.candidates, e.resolutions, e.evaluations)
	return e
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) ObserveLLMCall(callType, outcome string, d time.Duration) {
	if e == nil {
		return
	}
	e.llmLatency.WithLabelValues(callType, outcome).Observe(d.Seconds())
}

func (e *Exporter) IncCandidate(kind string) {
	if e == nil {
		return
	}
	e.candidates.WithLabelValues(kind).Inc()
}

func (e *Exporter) IncResolution(mode string) {
	if e == nil {
		return
	}
	e.resolutions.WithLabelValues(mode).Inc()
}

func (e *Exporter) IncEvaluation(outcome string) {
	if e == nil {
		return
	}
	e.evaluations.WithLabelValues(outcome).Inc()
}
