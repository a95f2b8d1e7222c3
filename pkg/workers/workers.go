// Package workers implements the three research-phase workers (root-cause,
// solution-finder, impact-assessor) as a single tagged-variant skeleton:
// each is a pure function of (issue, prior-phase artefacts) -> new
// artefacts, routed through the shared agent invoker (spec C7 / §4.7).
package workers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/agentinvoke"
	"github.com/convergence-engine/convergence/pkg/agentlog"
	"github.com/convergence-engine/convergence/pkg/issue"
	"github.com/convergence-engine/convergence/pkg/store"
)

// Kind tags which of the three research variants a worker invocation is.
// Debate is a fourth variant but lives in pkg/debate since it is also a
// metrics producer, not just a research worker.
type Kind string

const (
	RootCause Kind = "root_cause"
	Solutions Kind = "solutions"
	Impact    Kind = "impact"
)

// spec binds one Kind to its stage name, prompt builder, output filenames,
// structured-output schema name, and the issue status it leaves behind —
// the tagged-variant's per-case data, dispatched from a single Run skeleton
// instead of one struct per worker.
type spec struct {
	stage        string
	agentName    string
	mdFilename   string
	jsonFilename string
	nextStatus   issue.Status
	buildPrompt  func(w *Workers, iss map[string]any) (string, error)
}

var specs = map[Kind]spec{
	RootCause: {
		stage: "research", agentName: "researcher",
		mdFilename: "root_cause.md", jsonFilename: "root_cause.json",
		nextStatus: issue.StatusResearched, buildPrompt: buildRootCausePrompt,
	},
	Solutions: {
		stage: "research", agentName: "solution_finder",
		mdFilename: "solutions.md", jsonFilename: "solutions.json",
		nextStatus: issue.StatusResearched, buildPrompt: buildSolutionsPrompt,
	},
	Impact: {
		stage: "research", agentName: "impact_assessor",
		mdFilename: "impact.md", jsonFilename: "impact.json",
		nextStatus: issue.StatusResearched, buildPrompt: buildImpactPrompt,
	},
}

// Workers runs the three research-phase workers against a shared invoker
// and path layout.
type Workers struct {
	paths   config.Paths
	invoker *agentinvoke.Invoker
}

// New builds a Workers bound to paths and invoker.
func New(paths config.Paths, invoker *agentinvoke.Invoker) *Workers {
	return &Workers{paths: paths, invoker: invoker}
}

// Run executes kind's worker for issueID: load the issue, build the prompt,
// invoke the agent, and (on success) persist the markdown and structured
// outputs and advance the issue's status. A validation warning on the
// structured output never blocks the write — downstream stages should have
// something to read even from a malformed upstream artefact.
func (w *Workers) Run(ctx context.Context, kind Kind, issueID string) error {
	s, ok := specs[kind]
	if !ok {
		return fmt.Errorf("workers: unknown kind %q", kind)
	}

	log := agentlog.New(issueID, strings.ToUpper(string(kind)), w.paths.DataDir())
	log.Section(string(kind))

	record, err := store.FindByID(w.paths.IssuesPath(), issueID, "id")
	if err != nil {
		return fmt.Errorf("workers: read issue %s: %w", issueID, err)
	}
	if record == nil {
		log.Error("issue not found: "+issueID, nil)
		return fmt.Errorf("workers: issue %s not found", issueID)
	}

	log.Info("issue loaded, constructing prompt", nil)
	prompt, err := s.buildPrompt(w, record)
	if err != nil {
		return fmt.Errorf("workers: build prompt for %s: %w", kind, err)
	}

	result := w.invoker.Invoke(ctx, prompt, s.stage, issueID, log, "")
	if !result.Success {
		log.Error(fmt.Sprintf("%s agent failed: %s", kind, result.Error), nil)
		return fmt.Errorf("workers: %s agent failed: %s", kind, result.Error)
	}

	researchDir := w.paths.ResearchDir(issueID)
	if err := agentinvoke.WriteResearchOutput(researchDir, s.mdFilename, result.Output, log); err != nil {
		return err
	}
	if result.StructuredOutput != nil {
		if err := agentinvoke.WriteResearchJSON(researchDir, s.jsonFilename, result.StructuredOutput, s.agentName, log); err != nil {
			return err
		}
	}

	if _, err := store.Update(w.paths.IssuesPath(), issueID, "id", map[string]any{
		"status": string(s.nextStatus),
	}); err != nil {
		return fmt.Errorf("workers: update issue status: %w", err)
	}

	log.Info(fmt.Sprintf("%s complete", kind), nil)
	return nil
}

func fieldString(record map[string]any, field, fallback string) string {
	if v, ok := record[field].(string); ok && v != "" {
		return v
	}
	return fallback
}

func recentFilesList(record map[string]any) string {
	files, _ := record["recent_files"].([]any)
	if len(files) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(files))
	for _, f := range files {
		if s, ok := f.(string); ok {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func buildRootCausePrompt(w *Workers, record map[string]any) (string, error) {
	return fmt.Sprintf(rootCauseTemplate,
		fieldString(record, "tool_name", "unknown"),
		fieldString(record, "description", "No description"),
		fieldString(record, "working_directory", "unknown"),
		fieldString(record, "git_branch", "unknown"),
		recentFilesList(record),
	), nil
}

const rootCauseTemplate = `You are a root cause analysis agent. Your job is to investigate an error
that occurred during software development and determine WHY it happened.

## Error Context

Tool: %s
Error: %s
Working Directory: %s
Git Branch: %s
Recently Changed Files: %s

## Instructions

Analyze this error carefully. Consider:
- What the tool was trying to do
- Why it failed based on the error message
- What conditions or prior changes could have caused this
- Whether this is a symptom of a deeper issue

## Required Output Format

Structure your response EXACTLY as follows:

## Hypothesis
State your primary hypothesis for the root cause. Be specific.

## Evidence
List the evidence from the error context that supports your hypothesis.

## Confidence
State: high, medium, or low -- with a brief justification.

## Related Patterns
Note any patterns this error shares with common development issues
(dependency problems, state management bugs, configuration drift, etc.)
`

func loadRootCauseSection(w *Workers, issueID string) string {
	path := filepath.Join(w.paths.ResearchDir(issueID), "root_cause.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return ""
	}
	return "## Root Cause Analysis (from prior research)\n\n" + content
}

func buildSolutionsPrompt(w *Workers, record map[string]any) (string, error) {
	issueID := fieldString(record, "id", "")
	rootCauseSection := loadRootCauseSection(w, issueID)
	return fmt.Sprintf(solutionsTemplate,
		fieldString(record, "tool_name", "unknown"),
		fieldString(record, "description", "No description"),
		fieldString(record, "git_branch", "unknown"),
		recentFilesList(record),
		rootCauseSection,
	), nil
}

const solutionsTemplate = `You are a solution research agent. Your job is to find practical fixes
for a software development error.

## Error Context

Tool: %s
Error: %s
Git Branch: %s
Recently Changed Files: %s

%s

## Instructions

Research solutions for this error. Consider:
- Quick fixes that resolve the immediate problem
- Longer-term fixes that prevent recurrence
- Tradeoffs of each approach (risk, complexity, side effects)
- Implementation steps that are specific and actionable

## Required Output Format

Structure your response EXACTLY as follows:

## Solution 1
Describe the first solution approach.
**Tradeoffs:** Risk, complexity, side effects.

## Solution 2
Describe an alternative approach.
**Tradeoffs:** Risk, complexity, side effects.

## Recommended Approach
Which solution you recommend and why.

## Implementation Steps
Numbered, specific steps to implement the recommended fix.
`

func summarizeRecentIssues(w *Workers, currentIssueID string) string {
	records, err := store.ReadAll(w.paths.IssuesPath())
	if err != nil {
		return "No prior issues recorded."
	}

	var others []map[string]any
	for _, r := range records {
		if fieldString(r, "id", "") != currentIssueID {
			others = append(others, r)
		}
	}
	if len(others) > 10 {
		others = others[len(others)-10:]
	}
	if len(others) == 0 {
		return "No prior issues recorded."
	}

	var lines []string
	for _, r := range others {
		desc := fieldString(r, "description", "")
		if len(desc) > 150 {
			desc = desc[:150]
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s | %s | %s",
			fieldString(r, "id", "?"), fieldString(r, "type", "?"),
			fieldString(r, "tool_name", "?"), desc))
	}
	return strings.Join(lines, "\n")
}

func buildImpactPrompt(w *Workers, record map[string]any) (string, error) {
	issueID := fieldString(record, "id", "")
	return fmt.Sprintf(impactTemplate,
		fieldString(record, "tool_name", "unknown"),
		fieldString(record, "description", "No description"),
		fieldString(record, "git_branch", "unknown"),
		recentFilesList(record),
		summarizeRecentIssues(w, issueID),
	), nil
}

const impactTemplate = `You are an impact assessment agent. Your job is to evaluate the severity
and priority of a software development error.

## Error Context

Tool: %s
Error: %s
Git Branch: %s
Recently Changed Files: %s

## Historical Context

Recent issues in this project (last 10):
%s

## Instructions

Assess this error for:
- How severe is it? (Does it block work? Corrupt data? Just annoying?)
- How wide is its scope? (One file? One module? System-wide?)
- How often does it recur? (Check against historical issues for patterns)
- What priority should it receive for fixing?

## Required Output Format

Structure your response EXACTLY as follows:

## Severity
P0 (critical), P1 (high), P2 (medium), or P3 (low).
Justify your rating in 1-2 sentences.

## Scope
isolated (one file/function), module (one feature area), or system (cross-cutting).
Explain what is affected.

## Frequency
First occurrence, recurring (N times in history), or escalating.
Reference specific historical issues if similar ones exist.

## Priority Recommendation
Combine severity, scope, and frequency into a priority recommendation.
State whether this should be fixed now, soon, or later, and why.
`
