// Package arbiter is the convergence synthesiser: the final pipeline stage
// that reads every debated (or researched) issue and produces a combined
// report plus a prioritised task list (spec C10 / §4.10).
package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/agentinvoke"
	"github.com/convergence-engine/convergence/pkg/agentlog"
	"github.com/convergence-engine/convergence/pkg/issue"
	"github.com/convergence-engine/convergence/pkg/metrics"
	"github.com/convergence-engine/convergence/pkg/store"
)

const convergenceReportMarker = "===CONVERGENCE_REPORT==="
const tasksJSONMarker = "===TASKS_JSON==="

const convergencePromptTemplate = `You are the convergence arbiter. Multiple issues have been researched and debated
by independent agents. Your job is to synthesize everything into a single, actionable
convergence report and generate specific tasks.

## Issues to Converge

%s

## Instructions

Produce a convergence report that:
1. Summarizes each issue with its root cause, recommended fix, and priority
2. Identifies cross-issue patterns (are multiple issues related? same root cause?)
3. Generates a prioritized list of concrete tasks
4. Recommends an action order (what to fix first and why)

Each task must include:
- A clear title (imperative verb, e.g., "Fix authentication timeout")
- Specific description of what to do
- Priority (P0-P3)
- Complexity estimate (low/medium/high)
- Which files are likely affected
- A suggested approach

## Required Output Format

Produce your output in TWO CLEARLY SEPARATED SECTIONS using these exact delimiters:

===CONVERGENCE_REPORT===

# Convergence Report -- %s

## Session Summary
Issues analyzed: N | Resolved: M | Pending: K

(For each issue:)
### Issue: [title]
- **Root Cause:** ...
- **Confidence:** high/medium/low
- **Recommended Fix:** ...
- **Priority:** P0-P3
- **Tasks Generated:** N

## Cross-Issue Patterns
- (any observations about related issues)

## Recommended Action Order
1. (highest priority task first)
2. ...

===TASKS_JSON===

[
  {
    "title": "...",
    "description": "...",
    "issue_id": "...",
    "priority": "P1",
    "complexity": "low",
    "files_likely_affected": ["..."],
    "suggested_approach": "..."
  }
]
`

// KnowledgeBridge refreshes the user-owned knowledge document once
// convergence completes. It is a narrow interface so the arbiter does not
// depend on the concrete bridge implementation's other methods.
type KnowledgeBridge interface {
	Refresh(ctx context.Context) error
}

// Arbiter synthesises convergence reports and tasks from debated issues.
type Arbiter struct {
	cfg     *config.Convergence
	paths   config.Paths
	invoker *agentinvoke.Invoker
	bridge  KnowledgeBridge
}

// New builds an Arbiter. bridge may be nil if no knowledge document refresh
// is configured.
func New(cfg *config.Convergence, paths config.Paths, invoker *agentinvoke.Invoker, bridge KnowledgeBridge) *Arbiter {
	return &Arbiter{cfg: cfg, paths: paths, invoker: invoker, bridge: bridge}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (a *Arbiter) buildIssuesBlock(issues []map[string]any) string {
	var blocks []string
	for _, rec := range issues {
		id := fieldString(rec, "id", "unknown")
		researchDir := a.paths.ResearchDir(id)

		var b strings.Builder
		fmt.Fprintf(&b, "### Issue: %s\n", id)
		fmt.Fprintf(&b, "**Type:** %s\n", fieldString(rec, "type", "unknown"))
		fmt.Fprintf(&b, "**Tool:** %s\n", fieldString(rec, "tool_name", "unknown"))
		fmt.Fprintf(&b, "**Description:** %s\n\n", truncate(fieldString(rec, "description", "N/A"), 500))

		debatePath := filepath.Join(researchDir, "debate.md")
		if data, err := os.ReadFile(debatePath); err == nil {
			fmt.Fprintf(&b, "**Debate Synthesis:**\n%s\n\n", string(data))
		} else {
			for _, filename := range []string{"root_cause.md", "solutions.md", "impact.md"} {
				data, err := os.ReadFile(filepath.Join(researchDir, filename))
				if err != nil {
					continue
				}
				label := titleCase(strings.ReplaceAll(strings.TrimSuffix(filename, ".md"), "_", " "))
				fmt.Fprintf(&b, "**%s:**\n%s\n\n", label, string(data))
			}
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n---\n\n")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func fieldString(record map[string]any, field, fallback string) string {
	if v, ok := record[field].(string); ok && v != "" {
		return v
	}
	return fallback
}

// archivePrevious moves any existing convergence.md/tasks.json into the
// archive directory with a UTC timestamp suffix, so a new run never
// silently clobbers the prior output.
func (a *Arbiter) archivePrevious() error {
	convergenceDir := a.paths.ConvergenceDir()
	archiveDir := a.paths.ArchiveDir()
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("arbiter: create archive dir: %w", err)
	}

	timestamp := time.Now().UTC().Format("20060102_150405")
	for _, filename := range []string{"convergence.md", "tasks.json"} {
		src := filepath.Join(convergenceDir, filename)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		ext := filepath.Ext(filename)
		name := strings.TrimSuffix(filename, ext)
		dst := filepath.Join(archiveDir, fmt.Sprintf("%s_%s%s", name, timestamp, ext))
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("arbiter: archive %s: %w", filename, err)
		}
	}
	return nil
}

// parseConvergenceOutput splits raw agent output into the report markdown
// and the parsed task list. A parse failure of the JSON section is
// non-fatal: the report is still returned, with the raw tail appended as a
// note. Tasks are assigned synthetic sequential ids and a default "pending"
// status.
func parseConvergenceOutput(rawOutput string) (string, []map[string]any) {
	if !strings.Contains(rawOutput, convergenceReportMarker) || !strings.Contains(rawOutput, tasksJSONMarker) {
		return rawOutput, nil
	}

	parts := strings.SplitN(rawOutput, tasksJSONMarker, 2)
	report := strings.TrimSpace(strings.ReplaceAll(parts[0], convergenceReportMarker, ""))
	tasksPart := "[]"
	if len(parts) > 1 {
		tasksPart = strings.TrimSpace(parts[1])
	}

	var tasks []map[string]any
	start := strings.Index(tasksPart, "[")
	end := strings.LastIndex(tasksPart, "]")
	parsed := false
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(tasksPart[start:end+1]), &tasks); err == nil {
			parsed = true
		}
	}
	if !parsed {
		report += fmt.Sprintf("\n\n---\n\n**Note:** Task extraction failed. Raw output:\n%s", tasksPart)
	}

	for i, t := range tasks {
		t["id"] = fmt.Sprintf("task_%03d", i+1)
		t["status"] = "pending"
	}
	return report, tasks
}

// Synthesize runs the arbiter over issueFilter (a single issue id) or, if
// empty, every eligible issue (debated preferred, falling back to
// researched when none are debated). Below the configured minimum eligible
// count the run is a no-op. Returns false without error when there was
// nothing to converge.
func (a *Arbiter) Synthesize(ctx context.Context, issueFilter string) (bool, error) {
	log := agentlog.NewPipeline("CONVERGE", a.paths.DataDir())
	log.Section("Convergence Synthesis")

	issuesPath := a.paths.IssuesPath()
	allIssues, err := store.ReadAll(issuesPath)
	if err != nil {
		return false, fmt.Errorf("arbiter: read issues: %w", err)
	}

	var eligible []map[string]any
	if issueFilter != "" {
		for _, r := range allIssues {
			if fieldString(r, "id", "") == issueFilter {
				eligible = append(eligible, r)
			}
		}
	} else {
		for _, r := range allIssues {
			if fieldString(r, "status", "") == string(issue.StatusDebated) {
				eligible = append(eligible, r)
			}
		}
		if len(eligible) == 0 {
			for _, r := range allIssues {
				if fieldString(r, "status", "") == string(issue.StatusResearched) {
					eligible = append(eligible, r)
				}
			}
		}
	}

	if len(eligible) < a.cfg.MinIssuesForConvergence {
		log.Info(fmt.Sprintf("not enough eligible issues (%d) for convergence (minimum: %d)",
			len(eligible), a.cfg.MinIssuesForConvergence), nil)
		metrics.RecordConvergenceRun("skipped_below_minimum")
		return false, nil
	}

	log.Info(fmt.Sprintf("converging %d issues", len(eligible)), nil)

	if err := a.archivePrevious(); err != nil {
		return false, err
	}

	issuesBlock := a.buildIssuesBlock(eligible)
	dateStr := time.Now().UTC().Format("2006-01-02 15:04 UTC")
	prompt := fmt.Sprintf(convergencePromptTemplate, issuesBlock, dateStr)

	result := a.invoker.Invoke(ctx, prompt, "converge", "CONVERGENCE", log, "")
	if !result.Success {
		log.Error("arbiter failed: "+result.Error, nil)
		return false, fmt.Errorf("arbiter: synthesis failed: %s", result.Error)
	}

	report, tasks := parseConvergenceOutput(result.Output)

	if err := a.paths.EnsureDataDirs(); err != nil {
		return false, fmt.Errorf("arbiter: ensure dirs: %w", err)
	}

	reportPath := a.paths.ConvergenceReportPath()
	if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
		log.Error(fmt.Sprintf("failed to write convergence report: %v", err), nil)
		return false, fmt.Errorf("arbiter: write report: %w", err)
	}
	log.Info("convergence report written: "+reportPath, nil)

	tasksPath := a.paths.TasksPath()
	tasksJSON, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return false, fmt.Errorf("arbiter: marshal tasks: %w", err)
	}
	if err := os.WriteFile(tasksPath, tasksJSON, 0o644); err != nil {
		log.Error(fmt.Sprintf("failed to write tasks: %v", err), nil)
		return false, fmt.Errorf("arbiter: write tasks: %w", err)
	}
	log.Info(fmt.Sprintf("tasks written: %d tasks to %s", len(tasks), tasksPath), nil)

	for _, rec := range eligible {
		id := fieldString(rec, "id", "")
		if id == "" {
			continue
		}
		if _, err := store.Update(issuesPath, id, "id", map[string]any{"status": string(issue.StatusConverged)}); err != nil {
			log.Error(fmt.Sprintf("failed to update issue status for %s: %v", id, err), nil)
		}
	}

	log.Info(fmt.Sprintf("convergence complete: %d issues, %d tasks", len(eligible), len(tasks)), nil)
	metrics.RecordConvergenceRun("synthesized")

	if a.bridge != nil {
		if err := a.bridge.Refresh(ctx); err != nil {
			log.Error("knowledge bridge refresh failed: "+err.Error(), nil)
		}
	}

	return true, nil
}
