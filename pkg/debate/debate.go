package debate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/agentinvoke"
	"github.com/convergence-engine/convergence/pkg/agentlog"
	"github.com/convergence-engine/convergence/pkg/issue"
	"github.com/convergence-engine/convergence/pkg/metrics"
	"github.com/convergence-engine/convergence/pkg/store"
)

// Debater runs the adversarial debate phase for a researched issue.
type Debater struct {
	cfg     *config.Convergence
	paths   config.Paths
	invoker *agentinvoke.Invoker
}

// New builds a Debater bound to cfg, paths, and invoker.
func New(cfg *config.Convergence, paths config.Paths, invoker *agentinvoke.Invoker) *Debater {
	return &Debater{cfg: cfg, paths: paths, invoker: invoker}
}

func readResearchFile(researchDir, filename string) string {
	path := filepath.Join(researchDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("[MISSING: %s was not produced by its agent]", filename)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return fmt.Sprintf("[EMPTY: %s was produced but contains no content]", filename)
	}
	return content
}

func hasRealContent(content string) bool {
	return !strings.HasPrefix(content, "[MISSING") && !strings.HasPrefix(content, "[EMPTY")
}

func loadPreDebateConfidence(researchDir string) string {
	path := filepath.Join(researchDir, "root_cause.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var rootCause issue.RootCauseOutput
	if err := json.Unmarshal(data, &rootCause); err != nil {
		return ""
	}
	return rootCause.Confidence
}

const round1Template = `You are a debate and critique agent. Three independent research agents investigated
a software development issue. Your job is to compare their findings, identify where they
agree, where they contradict, and what none of them considered.

## Issue Being Investigated

ID: %s
Description: %s

## Agent Findings

### ROOT CAUSE ANALYSIS (Researcher Agent)
%s

### SOLUTION RESEARCH (Solution Finder Agent)
%s

### IMPACT ASSESSMENT (Impact Assessor Agent)
%s

## Instructions

Critically analyze these three perspectives from three distinct stances:

1. As an analyst: where do all agents agree? Where do they contradict, and which
   position is better supported? What did no agent consider?
2. As a devil's advocate: pick the claims you find least convincing and challenge
   them directly. For each challenge, record whether the original claim survived it.
3. As a skeptic: raise concerns about the proposed fix and rate each concern's
   severity (low, medium, high).

Synthesize a unified, revised assessment that is stronger than any individual
agent's, and state your confidence in it after this review.

## Required Output Format

## Agreements
High-confidence findings supported by multiple agents.

## Contradictions
Where agents disagree, and which position the evidence better supports.

## Gaps
Critical considerations that no agent addressed.

## Devil's Advocate Challenges
For each challenge: the claim, the challenge, and whether it survived.

## Skeptic Concerns
For each concern: the concern and its severity.

## Revised Assessment
A unified position incorporating the strongest elements from all three analyses.
Include: root cause (revised), recommended fix (revised), priority (revised), and
your confidence in this revised position after debate.
`

const round2Template = `You previously produced the following debate assessment of a software development
issue. Revisit it: for every devil's-advocate challenge and every medium or high
severity skeptic concern, state how it is resolved (or why it stands).

## Prior Debate Output

%s

## Instructions

Produce a final, resolved assessment in the same required output format as before,
incorporating your resolutions. Keep your confidence_after_debate judgment, revised
only if the resolutions changed your position.
`

// Run executes the debate phase for issueID. It requires at least one
// research artefact to have real content. On success it writes debate.md,
// debate.log (an audit-trail duplicate), debate.json, and
// debate_metrics.json, and advances the issue's status to "debated". On
// failure the issue's status is reverted to "researched" so a retry is
// possible.
func (d *Debater) Run(ctx context.Context, issueID string) error {
	log := agentlog.New(issueID, "DEBATE", d.paths.DataDir())
	log.Section("Cross-Agent Debate")

	issuesPath := d.paths.IssuesPath()
	record, err := store.FindByID(issuesPath, issueID, "id")
	if err != nil {
		return fmt.Errorf("debate: read issue %s: %w", issueID, err)
	}
	if record == nil {
		log.Error("issue not found: "+issueID, nil)
		return fmt.Errorf("debate: issue %s not found", issueID)
	}

	researchDir := d.paths.ResearchDir(issueID)
	rootCause := readResearchFile(researchDir, "root_cause.md")
	solutions := readResearchFile(researchDir, "solutions.md")
	impact := readResearchFile(researchDir, "impact.md")

	if !hasRealContent(rootCause) && !hasRealContent(solutions) && !hasRealContent(impact) {
		log.Error("no research outputs found, run research first", nil)
		return fmt.Errorf("debate: no research outputs for issue %s", issueID)
	}

	if _, err := store.Update(issuesPath, issueID, "id", map[string]any{"status": string(issue.StatusDebating)}); err != nil {
		return fmt.Errorf("debate: mark debating: %w", err)
	}
	log.Info("research outputs loaded, constructing debate prompt", nil)

	description := fieldString(record, "description", "No description")
	if len(description) > 1000 {
		description = description[:1000]
	}

	prompt := fmt.Sprintf(round1Template, issueID, description, rootCause, solutions, impact)

	result := d.invoker.Invoke(ctx, prompt, "debate", issueID, log, "")
	if !result.Success {
		log.Error("debate agent failed: "+result.Error, nil)
		store.Update(issuesPath, issueID, "id", map[string]any{"status": string(issue.StatusResearched)})
		return fmt.Errorf("debate: round 1 failed: %s", result.Error)
	}

	finalOutput := result.Output
	finalStructured := result.StructuredOutput

	if d.cfg.Budget.DebateRounds >= 2 {
		round2Prompt := fmt.Sprintf(round2Template, result.Output)
		round2Result := d.invoker.Invoke(ctx, round2Prompt, "debate", issueID, log, "")
		if round2Result.Success {
			finalOutput = round2Result.Output
			finalStructured = round2Result.StructuredOutput
		} else {
			log.Warn("round 2 debate failed, promoting round 1 to final: "+round2Result.Error, nil)
		}
	}

	if err := agentinvoke.WriteResearchOutput(researchDir, "debate.md", finalOutput, log); err != nil {
		return err
	}
	if err := agentinvoke.WriteResearchOutput(researchDir, "debate.log", finalOutput, log); err != nil {
		return err
	}

	var debateOutput issue.DebateOutput
	if obj, ok := finalStructured.(map[string]any); ok {
		if err := agentinvoke.WriteResearchJSON(researchDir, "debate.json", obj, "debater", log); err != nil {
			return err
		}
		if b, err := json.Marshal(obj); err == nil {
			json.Unmarshal(b, &debateOutput)
		}
	}

	preConfidence := loadPreDebateConfidence(researchDir)
	debateMetrics := ComputeMetrics(debateOutput, preConfidence)
	if err := writeMetrics(researchDir, debateMetrics); err != nil {
		return err
	}
	if debateMetrics.ChallengeSurvivalRate != nil {
		metrics.RecordDebateSurvivalRate(*debateMetrics.ChallengeSurvivalRate)
	}

	if _, err := store.Update(issuesPath, issueID, "id", map[string]any{"status": string(issue.StatusDebated)}); err != nil {
		return fmt.Errorf("debate: mark debated: %w", err)
	}
	log.Info("debate complete", nil)
	return nil
}

func writeMetrics(researchDir string, metrics issue.DebateMetrics) error {
	path := filepath.Join(researchDir, "debate_metrics.json")
	b, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return fmt.Errorf("debate: marshal metrics: %w", err)
	}
	if err := os.MkdirAll(researchDir, 0o755); err != nil {
		return fmt.Errorf("debate: create research dir: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("debate: write metrics: %w", err)
	}
	return nil
}

func fieldString(record map[string]any, field, fallback string) string {
	if v, ok := record[field].(string); ok && v != "" {
		return v
	}
	return fallback
}
