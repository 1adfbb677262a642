package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querychat_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)
	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querychat_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
	)
	httpPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_http_panics_total",
			Help: "Handler panics recovered by route.",
		},
		[]string{"route"},
	)

	askRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_ask_requests_total",
			Help: "Total number of answered questions by outcome.",
		},
		[]string{"outcome"},
	)
	askDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querychat_ask_duration_seconds",
			Help:    "End-to-end latency of the question answering pipeline.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querychat_pipeline_stage_duration_seconds",
			Help:    "Latency of each pipeline stage.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage", "outcome"},
	)
	llmCompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_llm_completions_total",
			Help: "Total number of LLM completion calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	registryOpensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_registry_opens_total",
			Help: "Total number of database handle open attempts.",
		},
		[]string{"dialect", "outcome"},
	)
	registryEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_registry_evictions_total",
			Help: "Total number of database handles closed by the registry.",
		},
		[]string{"reason"},
	)
	registryCachedHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querychat_registry_cached_handles",
			Help: "Current number of cached database handles.",
		},
	)
	settingsSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_settings_saves_total",
			Help: "Total number of configuration saves by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpInFlight,
		httpPanicsTotal,
		askRequestsTotal,
		askDurationSeconds,
		pipelineStageDurationSeconds,
		llmCompletionsTotal,
		registryOpensTotal,
		registryEvictionsTotal,
		registryCachedHandles,
		settingsSavesTotal,
	)
}

func ObserveAsk(outcome string, elapsed time.Duration) {
	askRequestsTotal.WithLabelValues(outcome).Inc()
	askDurationSeconds.Observe(elapsed.Seconds())
}

func ObservePipelineStage(stage, outcome string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

func ObserveLLMCompletion(provider, outcome string) {
	llmCompletionsTotal.WithLabelValues(provider, outcome).Inc()
}

func ObserveRegistryOpen(dialect, outcome string) {
	registryOpensTotal.WithLabelValues(dialect, outcome).Inc()
}

func ObserveRegistryEviction(reason string) {
	registryEvictionsTotal.WithLabelValues(reason).Inc()
}

func SetRegistryCachedHandles(n int) {
	if n < 0 {
		n = 0
	}
	registryCachedHandles.Set(float64(n))
}

func ObserveSettingsSave(outcome string) {
	settingsSavesTotal.WithLabelValues(outcome).Inc()
}
