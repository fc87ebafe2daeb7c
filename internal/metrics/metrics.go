// Package metrics holds the Prometheus collectors shared by the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RemoteCalls counts request/reply calls by target, pattern and result.
	// result is one of "ok", "timeout", "rejection", "transport", "decode".
	RemoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upkeep_remote_calls_total",
		Help: "Request/reply calls to remote services",
	}, []string{"target", "pattern", "result"})

	RemoteCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upkeep_remote_call_duration_seconds",
		Help:    "Latency of request/reply calls to remote services",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"target", "pattern"})

	// Emits counts fire-and-forget events; result is "sent", "dropped" or "failed".
	Emits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upkeep_emits_total",
		Help: "Fire-and-forget events by pattern and result",
	}, []string{"pattern", "result"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upkeep_sweep_runs_total",
		Help: "Scheduler sweeps started",
	}, []string{"sweep"})

	// SweepUnits counts per-unit sweep outcomes (job, cycle or building).
	SweepUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upkeep_sweep_units_total",
		Help: "Units processed by sweeps by outcome",
	}, []string{"sweep", "outcome"})

	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upkeep_saga_outcomes_total",
		Help: "Provisioning and escalation saga outcomes",
	}, []string{"saga", "outcome"})

	JobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upkeep_jobs_created_total",
		Help: "Schedule jobs created by source (expansion or succession)",
	}, []string{"source"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
