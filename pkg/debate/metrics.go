// Package debate runs the adversarial cross-agent debate phase and computes
// its disagreement metrics (spec C7.4 / C8, §4.8).
package debate

import (
	"github.com/convergence-engine/convergence/pkg/issue"
)

// ComputeChallengeSurvivalRate returns the fraction of devil's-advocate
// challenges whose Survived flag is true, or nil if there were none.
func ComputeChallengeSurvivalRate(challenges []issue.Challenge) *float64 {
	if len(challenges) == 0 {
		return nil
	}
	survived := 0
	for _, c := range challenges {
		if c.Survived {
			survived++
		}
	}
	rate := float64(survived) / float64(len(challenges))
	return &rate
}

// ComputeSkepticSeverityScore returns the weighted-mean severity of skeptic
// concerns, normalised to [0, 1] (low=0.25, medium=0.5, high=1.0), or nil if
// there were none.
func ComputeSkepticSeverityScore(concerns []issue.Concern) *float64 {
	if len(concerns) == 0 {
		return nil
	}
	var total float64
	for _, c := range concerns {
		weight, ok := issue.SeverityWeight[c.Severity]
		if !ok {
			weight = 0.25
		}
		total += weight
	}
	maxWeight := float64(len(concerns)) * 1.0
	score := total / maxWeight
	return &score
}

// ComputeConfidenceDelta returns the ordinal difference between post-debate
// and pre-debate confidence (positive means the debate increased
// confidence), or nil if either confidence level is unrecognised or empty.
func ComputeConfidenceDelta(preConfidence, postConfidence string) *int {
	if preConfidence == "" || postConfidence == "" {
		return nil
	}
	pre, preOK := issue.ConfidenceOrdinal[preConfidence]
	post, postOK := issue.ConfidenceOrdinal[postConfidence]
	if !preOK || !postOK {
		return nil
	}
	delta := post - pre
	return &delta
}

// ComputeAgreementKappa returns a simplified chance-corrected agreement
// coefficient over the three debate finding categories, clamped to [-1, 1],
// or nil if there were no findings at all.
func ComputeAgreementKappa(agreements, contradictions, gaps int) *float64 {
	total := agreements + contradictions + gaps
	if total == 0 {
		return nil
	}

	expected := float64(total) / 3.0
	if float64(total) == expected {
		zero := 0.0
		return &zero
	}

	kappa := (float64(agreements) - expected) / (float64(total) - expected)
	if kappa < -1 {
		kappa = -1
	}
	if kappa > 1 {
		kappa = 1
	}
	return &kappa
}

// ComputeMetrics derives the full DebateMetrics summary from a debate
// output and the pre-debate confidence level sourced from the upstream
// root-cause artefact (falling back to "medium" when unavailable, per
// spec §4.8).
func ComputeMetrics(out issue.DebateOutput, preConfidence string) issue.DebateMetrics {
	if preConfidence == "" {
		preConfidence = issue.ConfidenceMedium
	}

	challenges := out.DevilAdvocateChallenges
	concerns := out.SkepticConcerns

	survivedCount := 0
	for _, c := range challenges {
		if c.Survived {
			survivedCount++
		}
	}

	return issue.DebateMetrics{
		ChallengeSurvivalRate: ComputeChallengeSurvivalRate(challenges),
		ChallengeCount:        len(challenges),
		ChallengesSurvived:    survivedCount,
		SkepticSeverityScore:  ComputeSkepticSeverityScore(concerns),
		SkepticConcernCount:   len(concerns),
		ConfidenceDelta:       ComputeConfidenceDelta(preConfidence, out.ConfidenceAfterDebate),
		ConfidenceBefore:      preConfidence,
		ConfidenceAfter:       out.ConfidenceAfterDebate,
		AgreementKappa:        ComputeAgreementKappa(len(out.Agreements), len(out.Contradictions), len(out.Gaps)),
		FindingCounts: issue.FindingCounts{
			Agreements:     len(out.Agreements),
			Contradictions: len(out.Contradictions),
			Gaps:           len(out.Gaps),
		},
		DissentNotes: out.DissentNotes,
	}
}
