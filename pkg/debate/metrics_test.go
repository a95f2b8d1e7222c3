package debate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergence-engine/convergence/pkg/issue"
)

func TestComputeChallengeSurvivalRate(t *testing.T) {
	assert.Nil(t, ComputeChallengeSurvivalRate(nil))

	rate := ComputeChallengeSurvivalRate([]issue.Challenge{
		{Survived: true}, {Survived: false}, {Survived: true}, {Survived: false},
	})
	require.NotNil(t, rate)
	assert.InDelta(t, 0.5, *rate, 0.0001)
}

func TestComputeSkepticSeverityScore(t *testing.T) {
	assert.Nil(t, ComputeSkepticSeverityScore(nil))

	score := ComputeSkepticSeverityScore([]issue.Concern{
		{Severity: "high"}, {Severity: "low"},
	})
	require.NotNil(t, score)
	// (1.0 + 0.25) / (2 * 1.0) = 0.625
	assert.InDelta(t, 0.625, *score, 0.0001)
}

func TestComputeSkepticSeverityScoreUnknownSeverityDefaultsLow(t *testing.T) {
	score := ComputeSkepticSeverityScore([]issue.Concern{{Severity: "unheard-of"}})
	require.NotNil(t, score)
	assert.InDelta(t, 0.25, *score, 0.0001)
}

func TestComputeConfidenceDelta(t *testing.T) {
	delta := ComputeConfidenceDelta(issue.ConfidenceLow, issue.ConfidenceHigh)
	require.NotNil(t, delta)
	assert.Equal(t, 2, *delta)

	negative := ComputeConfidenceDelta(issue.ConfidenceHigh, issue.ConfidenceLow)
	require.NotNil(t, negative)
	assert.Equal(t, -2, *negative)

	assert.Nil(t, ComputeConfidenceDelta("", issue.ConfidenceHigh))
	assert.Nil(t, ComputeConfidenceDelta(issue.ConfidenceHigh, "bogus"))
}

func TestComputeAgreementKappa(t *testing.T) {
	assert.Nil(t, ComputeAgreementKappa(0, 0, 0))

	kappa := ComputeAgreementKappa(3, 0, 0)
	require.NotNil(t, kappa)
	assert.Greater(t, *kappa, 0.0)

	kappa = ComputeAgreementKappa(1, 1, 1)
	require.NotNil(t, kappa)
	assert.InDelta(t, 0.0, *kappa, 0.0001)
}

func TestComputeMetricsDefaultsPreConfidenceToMedium(t *testing.T) {
	out := issue.DebateOutput{
		Agreements:            []string{"a"},
		ConfidenceAfterDebate: issue.ConfidenceHigh,
	}
	metrics := ComputeMetrics(out, "")
	assert.Equal(t, issue.ConfidenceMedium, metrics.ConfidenceBefore)
	require.NotNil(t, metrics.ConfidenceDelta)
	assert.Equal(t, 1, *metrics.ConfidenceDelta)
	assert.Equal(t, 1, metrics.FindingCounts.Agreements)
}

func TestComputeMetricsUsesSuppliedPreConfidence(t *testing.T) {
	out := issue.DebateOutput{ConfidenceAfterDebate: issue.ConfidenceHigh}
	metrics := ComputeMetrics(out, issue.ConfidenceLow)
	assert.Equal(t, issue.ConfidenceLow, metrics.ConfidenceBefore)
	require.NotNil(t, metrics.ConfidenceDelta)
	assert.Equal(t, 2, *metrics.ConfidenceDelta)
}
