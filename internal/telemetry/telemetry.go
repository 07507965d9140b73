package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors exposed via /metrics. Stage labels use the registry keys
// (medical_analyst, general_physician, ...).
var (
	StageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medpilot_stage_runs_total",
		Help: "Stage executions by stage key and outcome (ok|skipped|error).",
	}, []string{"stage", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medpilot_stage_duration_seconds",
		Help:    "Wall time per stage execution, including the upstream call.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"stage"})

	CoerceRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medpilot_coerce_repairs_total",
		Help: "Times the regex JSON repair step produced the parsed object.",
	})

	CoerceFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medpilot_coerce_fallbacks_total",
		Help: "Times coercion gave up and returned the placeholder object.",
	})

	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medpilot_upstream_requests_total",
		Help: "Upstream model calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	SessionsNotDurable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medpilot_sessions_not_durable_total",
		Help: "Sessions that fell back to in-memory persistence.",
	})
)
