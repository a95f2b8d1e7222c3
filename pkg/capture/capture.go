// Package capture implements the host-invoked failure capture hook: the
// sole entry point that turns a tool-execution failure into a persisted
// issue record (spec C11 / §4.11).
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/fingerprint"
	"github.com/convergence-engine/convergence/pkg/issue"
	"github.com/convergence-engine/convergence/pkg/metrics"
	"github.com/convergence-engine/convergence/pkg/sanitize"
	"github.com/convergence-engine/convergence/pkg/schema"
	"github.com/convergence-engine/convergence/pkg/store"
)

// Envelope is the hook payload read from standard input.
type Envelope struct {
	ToolName  string `json:"tool_name"`
	ToolInput any    `json:"tool_input"`
	Error     string `json:"error"`
}

// Hook captures tool failures as issues. It never blocks the host tool
// call — every code path that can fail logs and still allows.
type Hook struct {
	cfg       *config.Convergence
	paths     config.Paths
	sanitiser *sanitize.Sanitiser
	log       func(level, message string, fields map[string]any)
}

// New builds a Hook bound to cfg and paths. logFn may be nil, in which case
// captured diagnostics are discarded (the hook's own stdout contract is
// unaffected either way).
func New(cfg *config.Convergence, paths config.Paths, logFn func(level, message string, fields map[string]any)) *Hook {
	if logFn == nil {
		logFn = func(string, string, map[string]any) {}
	}
	return &Hook{cfg: cfg, paths: paths, sanitiser: sanitize.New(cfg.Sanitizer), log: logFn}
}

// Result is what Capture found worth reporting to the host-visible error
// stream (empty Hint means nothing to surface).
type Result struct {
	Hint string
}

// Capture runs the full capture pipeline over env and returns a Result
// whose Hint (if non-empty) should be written to the host's error stream.
// Capture itself never returns an error the caller must act on: every
// failure mode degrades to "allow, nothing captured", matching the hook's
// always-allow contract.
func (h *Hook) Capture(ctx context.Context, env Envelope) Result {
	if !h.cfg.Enabled {
		return Result{}
	}

	now := issue.NowISO()
	id := schema.MakeIssueID()

	inputSummary := summariseToolInput(env.ToolInput)
	description := fmt.Sprintf("Tool '%s' failed: %s", env.ToolName, env.Error)
	if inputSummary != "" {
		description += "\n\nTool input: " + inputSummary
	}

	rawError := env.Error
	if len(rawError) > 2000 {
		rawError = rawError[:2000]
	}

	rec := issue.Issue{
		ID:               id,
		Type:             classifyErrorType(env.ToolName, env.Error),
		Timestamp:        now,
		Description:      description,
		Status:           issue.StatusCaptured,
		Source:           "hook:PostToolUseFailure",
		ToolName:         env.ToolName,
		GitBranch:        gitBranch(h.paths.ProjectRoot),
		RecentFiles:      recentChangedFiles(h.paths.ProjectRoot),
		WorkingDirectory: workingDirectory(),
		RawError:         rawError,
		OccurrenceCount:  1,
		FirstSeen:        now,
		LastSeen:         now,
	}
	rec.Fingerprint = fingerprint.Compute(&rec)

	recordMap, err := toMap(rec)
	if err != nil {
		h.log("error", "failed to marshal issue record", map[string]any{"error": err.Error()})
		return Result{}
	}

	if ok, errs := schema.ValidateIssue(recordMap); !ok {
		h.log("error", "issue validation failed", map[string]any{"errors": errs})
		return Result{}
	}

	sanitized, _ := h.sanitiser.SanitiseRecord(recordMap).(map[string]any)
	if sanitized == nil {
		sanitized = recordMap
	}

	issuesPath := h.paths.IssuesPath()
	if err := os.MkdirAll(h.paths.DataDir(), 0o755); err != nil {
		h.log("error", "failed to create data dir", map[string]any{"error": err.Error()})
		return Result{}
	}

	// Migrate, search, and append-or-update happen inside one lock span so
	// two concurrent hook invocations with the same fingerprint cannot both
	// read "no duplicate" before either writes (spec §4.11 step 7, §5).
	var dupID, dupStatus, outcome string
	var newCount int
	var duplicate map[string]any
	lockErr := store.WithLock(issuesPath, func() error {
		existing, err := store.ReadAll(issuesPath)
		if err != nil {
			return fmt.Errorf("read issues log: %w", err)
		}
		for _, e := range existing {
			schema.MigrateIssue(e)
		}

		duplicate = findDuplicateRecord(sanitized["fingerprint"].(string), existing)
		if duplicate == nil {
			if err := store.AppendUnlocked(issuesPath, sanitized); err != nil {
				return fmt.Errorf("append issue: %w", err)
			}
			outcome = "appended"
			return nil
		}

		dupID = fieldString(duplicate, "id", "")
		newCount = 1
		if c, ok := duplicate["occurrence_count"].(float64); ok {
			newCount = int(c) + 1
		}
		if _, err := store.UpdateUnlocked(issuesPath, dupID, "id", map[string]any{
			"occurrence_count": newCount,
			"last_seen":        now,
		}); err != nil {
			return fmt.Errorf("update duplicate issue: %w", err)
		}
		dupStatus = fieldString(duplicate, "status", "")
		outcome = "deduped"
		return nil
	})
	if lockErr != nil {
		h.log("error", "dedup-and-write failed", map[string]any{"error": lockErr.Error()})
		return Result{}
	}

	if outcome == "appended" {
		metrics.RecordIssueCaptured("appended")
		h.log("info", "issue captured: "+env.ToolName+" failure", map[string]any{"tool": env.ToolName})
		return Result{}
	}

	metrics.RecordIssueCaptured("deduped")
	if dupStatus == string(issue.StatusConverged) && newCount > 1 {
		h.log("info", fmt.Sprintf("known resolution: %s (status=converged, count=%d), skipping re-research", dupID, newCount),
			map[string]any{"tool": env.ToolName})
		return Result{Hint: h.cachedResolutionHint(duplicate, newCount)}
	}

	h.log("info", fmt.Sprintf("dedup: matched existing %s (count=%d)", dupID, newCount), map[string]any{"tool": env.ToolName})
	return Result{}
}

func (h *Hook) cachedResolutionHint(duplicate map[string]any, count int) string {
	id := fieldString(duplicate, "id", "")
	solutionPath := filepath.Join(h.paths.ResearchDir(id), "solutions.md")
	hint := ""
	if data, err := os.ReadFile(solutionPath); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "---") {
				continue
			}
			if len(line) > 300 {
				line = line[:300]
			}
			hint = line
			break
		}
	}
	if hint != "" {
		return fmt.Sprintf("[convergence-engine] Known error (seen %dx). Cached fix: %s", count, hint)
	}
	return fmt.Sprintf("[convergence-engine] Known error (seen %dx). Check convergence report for resolution.", count)
}

func findDuplicateRecord(fp string, existing []map[string]any) map[string]any {
	if fp == "" {
		return nil
	}
	for _, e := range existing {
		if other, _ := e["fingerprint"].(string); fingerprint.Match(fp, other) {
			return e
		}
	}
	return nil
}

func toMap(rec issue.Issue) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func summariseToolInput(toolInput any) string {
	if toolInput == nil {
		return ""
	}
	if s, ok := toolInput.(string); ok {
		if len(s) > 500 {
			s = s[:500]
		}
		return s
	}
	b, err := json.Marshal(toolInput)
	if err != nil {
		return ""
	}
	s := string(b)
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

// classifyErrorType assigns a coarse category from keyword heuristics on
// the error text and tool name (spec §9 open question (a): coarse by
// design — no attempt at precise classification).
func classifyErrorType(toolName, errorText string) issue.Type {
	lower := strings.ToLower(errorText)

	switch {
	case strings.Contains(lower, "permission") || strings.Contains(lower, "access denied"):
		return issue.TypeError
	case strings.Contains(lower, "timeout"):
		return issue.TypePerformance
	case strings.Contains(lower, "not found") || strings.Contains(lower, "no such file"):
		return issue.TypeError
	case strings.Contains(lower, "syntax") || strings.Contains(lower, "unexpected token"):
		return issue.TypeError
	case strings.Contains(lower, "deprecated"):
		return issue.TypeWarning
	case toolName == "Bash" || toolName == "Execute":
		return issue.TypeFailure
	default:
		return issue.TypeError
	}
}

func gitBranch(projectRoot string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = projectRoot
	out, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

func recentChangedFiles(projectRoot string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", "HEAD~3")
	cmd.Dir = projectRoot
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	var files []string
	for _, f := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		f = strings.TrimSpace(f)
		if f != "" {
			files = append(files, f)
		}
	}
	if len(files) > 20 {
		files = files[:20]
	}
	return files
}

func workingDirectory() string {
	wd, err := os.Getwd()
	if err != nil {
		return "unknown"
	}
	return wd
}

func fieldString(record map[string]any, field, fallback string) string {
	if v, ok := record[field].(string); ok && v != "" {
		return v
	}
	return fallback
}
