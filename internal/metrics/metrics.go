// Package metrics holds the Prometheus collectors of the service. They are
// registered on a private registry so tests and the /metrics endpoint see
// only crisis-engine series plus the Go runtime collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	registry = prometheus.NewRegistry()

	LLMRequests = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisis_llm_requests_total",
			Help: "LLM calls partitioned by provider, mode (chat or stream) and status.",
		},
		[]string{"provider", "mode", "status"},
	)
	LLMDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crisis_llm_request_duration_seconds",
			Help:    "Wall time of LLM calls, including the full stream.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider", "mode"},
	)
	Turns = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisis_turns_total",
			Help: "Simulated turns partitioned by kind (action or skip) and status.",
		},
		[]string{"kind", "status"},
	)
	Discoveries = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisis_discovery_total",
			Help: "Scenario discovery runs partitioned by status or failure code.",
		},
		[]string{"status"},
	)
	Autosaves = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisis_autosave_total",
			Help: "Autosave attempts partitioned by status.",
		},
		[]string{"status"},
	)
	SSEStreams = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisis_sse_streams_total",
			Help: "Server-sent event streams partitioned by terminal status.",
		},
		[]string{"status"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry exposes the gatherer for tests.
func Registry() prometheus.Gatherer {
	return registry
}

// ObserveLLM records one finished LLM call.
func ObserveLLM(provider, mode string, start time.Time, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	LLMRequests.WithLabelValues(provider, mode, status).Inc()
	LLMDuration.WithLabelValues(provider, mode).Observe(time.Since(start).Seconds())
}

// Status maps an error to the ok/error label.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
