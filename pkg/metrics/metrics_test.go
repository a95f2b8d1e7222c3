package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPhaseOutcomeIncrementsCounter(t *testing.T) {
	RecordPhaseOutcome("research", "completed")
	count := testutil.ToFloat64(PhaseOutcomesTotal.WithLabelValues("research", "completed"))
	assert.GreaterOrEqual(t, count, float64(1))
}

func TestRecordIssueCapturedIncrementsCounter(t *testing.T) {
	RecordIssueCaptured("appended")
	count := testutil.ToFloat64(IssuesCapturedTotal.WithLabelValues("appended"))
	assert.GreaterOrEqual(t, count, float64(1))
}

func TestRecordConvergenceRunIncrementsCounter(t *testing.T) {
	RecordConvergenceRun("synthesized")
	count := testutil.ToFloat64(ConvergenceRunsTotal.WithLabelValues("synthesized"))
	assert.GreaterOrEqual(t, count, float64(1))
}

func TestRecordDebateSurvivalRateSetsGauge(t *testing.T) {
	RecordDebateSurvivalRate(0.75)
	assert.InDelta(t, 0.75, testutil.ToFloat64(DebateSurvivalRate), 0.0001)
}

func TestRecordAgentInvocationObservesHistogram(t *testing.T) {
	RecordAgentInvocation("research", 250*time.Millisecond)
	count := testutil.CollectAndCount(AgentInvocationDuration)
	assert.GreaterOrEqual(t, count, 1)
}

func TestHandlerReturnsNonNil(t *testing.T) {
	assert.NotNil(t, Handler())
}
