// Package metrics exposes process-local Prometheus counters and gauges for
// the pipeline's phase outcomes and debate disagreement levels. It is
// ambient observability only — nothing in the pipeline reads these values
// back, and the engine runs identically with no scrape target attached.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PhaseOutcomesTotal counts phase completions by phase name and outcome
// (completed/failed/skipped).
var PhaseOutcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "convergence_phase_outcomes_total",
		Help: "Total pipeline phase executions, labelled by phase and outcome.",
	},
	[]string{"phase", "outcome"},
)

// IssuesCapturedTotal counts issues appended to the issues log versus
// deduplicated against an existing fingerprint.
var IssuesCapturedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "convergence_issues_captured_total",
		Help: "Total capture hook invocations, labelled by whether a new issue was appended or a duplicate was deduped.",
	},
	[]string{"outcome"},
)

// AgentInvocationDuration tracks wall-clock time spent in agent subprocess
// invocations, labelled by pipeline stage.
var AgentInvocationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "convergence_agent_invocation_duration_seconds",
		Help:    "Agent subprocess invocation duration in seconds, labelled by stage.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"},
)

// DebateSurvivalRate is the most recently computed challenge survival rate
// across all debates, as a gauge rather than a counter since it is a
// point-in-time ratio, not a cumulative total.
var DebateSurvivalRate = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "convergence_debate_challenge_survival_rate",
		Help: "Most recent debate's challenge survival rate (fraction of devil's-advocate challenges that survived).",
	},
)

// ConvergenceRunsTotal counts arbiter synthesis runs, labelled by whether
// the run produced output or was a no-op (below the minimum issue count).
var ConvergenceRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "convergence_runs_total",
		Help: "Total convergence synthesis invocations, labelled by outcome.",
	},
	[]string{"outcome"},
)

// RecordPhaseOutcome increments the phase-outcome counter for phase/outcome.
func RecordPhaseOutcome(phase, outcome string) {
	PhaseOutcomesTotal.WithLabelValues(phase, outcome).Inc()
}

// RecordIssueCaptured increments the capture counter for outcome
// ("appended" or "deduped").
func RecordIssueCaptured(outcome string) {
	IssuesCapturedTotal.WithLabelValues(outcome).Inc()
}

// RecordAgentInvocation observes duration against stage's histogram.
func RecordAgentInvocation(stage string, duration time.Duration) {
	AgentInvocationDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordDebateSurvivalRate sets the debate survival gauge to rate.
func RecordDebateSurvivalRate(rate float64) {
	DebateSurvivalRate.Set(rate)
}

// RecordConvergenceRun increments the convergence-run counter for outcome
// ("synthesized" or "skipped_below_minimum").
func RecordConvergenceRun(outcome string) {
	ConvergenceRunsTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the standard Prometheus scrape handler, for a caller
// (typically cmd/convergence) to mount on an optional /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
