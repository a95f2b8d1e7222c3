// Package knowledge maintains the auto-generated convergence section inside
// the user's knowledge document (CLAUDE.md by default) and matches upcoming
// tool invocations against it (spec C12 / §4.12).
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/issue"
	"github.com/convergence-engine/convergence/pkg/store"
)

const (
	startMarker = "<!-- convergence-engine:start -->"
	endMarker   = "<!-- convergence-engine:end -->"
	lockTimeout = 10 * time.Second
)

// Bridge renders the convergence knowledge section and writes it into the
// project's knowledge document under a file lock.
type Bridge struct {
	cfg   *config.Convergence
	paths config.Paths
}

// New builds a Bridge bound to cfg and paths.
func New(cfg *config.Convergence, paths config.Paths) *Bridge {
	return &Bridge{cfg: cfg, paths: paths}
}

func (b *Bridge) docPath() string {
	return b.paths.KnowledgeDocumentPath(b.cfg.KnowledgeDocument)
}

func (b *Bridge) lockPath() string {
	return filepath.Join(b.paths.BaseDir, "knowledge_document.lock")
}

// Refresh rebuilds the knowledge section from the current converged issues
// and pending tasks, and writes it into the knowledge document. It
// implements arbiter.KnowledgeBridge.
func (b *Bridge) Refresh(ctx context.Context) error {
	issuesPath := b.paths.IssuesPath()
	records, err := store.ReadAll(issuesPath)
	if err != nil {
		return fmt.Errorf("knowledge: read issues: %w", err)
	}

	var converged []map[string]any
	for _, r := range records {
		if fieldString(r, "status", "") == string(issue.StatusConverged) {
			converged = append(converged, r)
		}
	}

	var tasks []map[string]any
	if data, err := os.ReadFile(b.paths.TasksPath()); err == nil {
		json.Unmarshal(data, &tasks)
	}

	section := b.buildSection(converged, tasks)
	return b.write(section)
}

func (b *Bridge) buildSection(issues, tasks []map[string]any) string {
	now := time.Now().UTC().Format("2006-01-02 15:04 UTC")

	var parts []string
	parts = append(parts, startMarker, "", "## Convergence Knowledge (auto-generated)",
		fmt.Sprintf("_Last updated: %s_", now), "")

	table := b.buildKnowledgeTable(issues)
	tasksSummary := buildTasksSummary(tasks)

	if table != "" {
		parts = append(parts, table, "")
	}
	if tasksSummary != "" {
		parts = append(parts, tasksSummary, "")
	}
	if table == "" && tasksSummary == "" {
		parts = append(parts, "_No convergence knowledge yet._", "")
	}
	parts = append(parts, endMarker)

	return strings.Join(parts, "\n")
}

func (b *Bridge) buildKnowledgeTable(issues []map[string]any) string {
	if len(issues) == 0 {
		return ""
	}

	header := "| Fingerprint | Error Pattern | Root Cause | Fix | Applies When | Seen |"
	separator := "|---|---|---|---|---|---|"
	rows := []string{header, separator}

	for _, rec := range issues {
		fp := fieldString(rec, "fingerprint", "")
		if len(fp) > 12 {
			fp = fp[:12]
		}
		errorPattern := extractErrorPattern(rec)
		id := fieldString(rec, "id", "")
		researchDir := b.paths.ResearchDir(id)
		rootCause := extractRootCause(researchDir)
		fix := extractFix(researchDir)
		appliesWhen := extractApplicability(rec)
		count := 1
		if c, ok := rec["occurrence_count"].(float64); ok {
			count = int(c)
		}

		rows = append(rows, fmt.Sprintf("| `%s` | %s | %s | %s | %s | %d |",
			fp, errorPattern, rootCause, fix, appliesWhen, count))
	}

	return strings.Join(rows, "\n")
}

func extractErrorPattern(rec map[string]any) string {
	desc := fieldString(rec, "description", "")
	firstLine := strings.SplitN(desc, "\n", 2)[0]
	if idx := strings.Index(firstLine, "failed:"); idx >= 0 {
		firstLine = strings.TrimSpace(firstLine[idx+len("failed:"):])
	}
	if len(firstLine) > 80 {
		firstLine = firstLine[:77] + "..."
	}
	return strings.ReplaceAll(firstLine, "|", "\\|")
}

func firstSubstantiveLine(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "---") {
			continue
		}
		if len(line) > 60 {
			line = line[:57] + "..."
		}
		return strings.ReplaceAll(line, "|", "\\|"), true
	}
	return "", false
}

func extractRootCause(researchDir string) string {
	for _, filename := range []string{"debate.md", "root_cause.md"} {
		if line, ok := firstSubstantiveLine(filepath.Join(researchDir, filename)); ok {
			return line
		}
	}
	return "See convergence report"
}

func extractFix(researchDir string) string {
	if line, ok := firstSubstantiveLine(filepath.Join(researchDir, "solutions.md")); ok {
		return line
	}
	return "See convergence report"
}

func extractApplicability(rec map[string]any) string {
	var parts []string
	if tool := fieldString(rec, "tool_name", ""); tool != "" {
		parts = append(parts, fmt.Sprintf("`%s`", tool))
	}
	if branch := fieldString(rec, "git_branch", ""); branch != "" && branch != "unknown" {
		parts = append(parts, "branch:"+branch)
	}
	if files, ok := rec["recent_files"].([]any); ok && len(files) > 0 {
		if f, ok := files[0].(string); ok {
			parts = append(parts, strings.ReplaceAll(f, "|", "\\|"))
		}
	}
	if len(parts) == 0 {
		return "any context"
	}
	return strings.Join(parts, ", ")
}

func buildTasksSummary(tasks []map[string]any) string {
	var active []map[string]any
	for _, t := range tasks {
		priority := fieldString(t, "priority", "")
		status := fieldString(t, "status", "")
		if (priority == "P0" || priority == "P1") && status == "pending" {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return ""
	}
	if len(active) > 10 {
		active = active[:10]
	}

	lines := []string{"### Active Tasks (P0/P1)"}
	for _, t := range active {
		lines = append(lines, fmt.Sprintf("- **[%s]** %s",
			fieldString(t, "priority", "P?"), fieldString(t, "title", "Untitled")))
	}
	return strings.Join(lines, "\n")
}

// write strips any existing auto-generated section from the knowledge
// document, appends section, and atomically replaces the file under a
// dedicated lock — tolerant of a corrupt document with only one marker
// present.
func (b *Bridge) write(section string) error {
	docPath := b.docPath()
	if err := os.MkdirAll(filepath.Dir(b.lockPath()), 0o755); err != nil {
		return fmt.Errorf("knowledge: create lock dir: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	lock := flock.New(b.lockPath())
	locked, err := lock.TryLockContext(lockCtx, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("knowledge: acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("knowledge: could not acquire lock on %s", docPath)
	}
	defer lock.Unlock()

	existing := ""
	if data, err := os.ReadFile(docPath); err == nil {
		existing = string(data)
	}

	newContent := stripSection(existing)
	if newContent != "" && !strings.HasSuffix(newContent, "\n\n") {
		if !strings.HasSuffix(newContent, "\n") {
			newContent += "\n"
		}
		newContent += "\n"
	}
	newContent += section + "\n"

	dir := filepath.Dir(docPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("knowledge: create doc dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".CLAUDE.md.*.tmp")
	if err != nil {
		return fmt.Errorf("knowledge: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(newContent); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("knowledge: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("knowledge: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, docPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("knowledge: replace %s: %w", docPath, err)
	}
	return nil
}

// stripSection removes the convergence section from content, tolerating a
// corrupt document that carries only one of the two markers.
func stripSection(content string) string {
	hasStart := strings.Contains(content, startMarker)
	hasEnd := strings.Contains(content, endMarker)

	switch {
	case hasStart && hasEnd:
		startIdx := strings.Index(content, startMarker)
		endIdx := strings.Index(content, endMarker) + len(endMarker)
		if endIdx < len(content) && content[endIdx] == '\n' {
			endIdx++
		}
		return strings.TrimRight(content[:startIdx], "\n") + content[endIdx:]
	case hasStart:
		startIdx := strings.Index(content, startMarker)
		return strings.TrimRight(content[:startIdx], "\n")
	case hasEnd:
		endIdx := strings.Index(content, endMarker) + len(endMarker)
		if endIdx < len(content) && content[endIdx] == '\n' {
			endIdx++
		}
		return strings.TrimLeft(content[endIdx:], "\n")
	default:
		return content
	}
}

// KnowledgeEntry is one parsed row of the rendered knowledge table.
type KnowledgeEntry struct {
	FingerprintShort string
	ErrorPattern     string
	RootCause        string
	Fix              string
	AppliesWhen      string
	SeenCount        int
}

// ReadTable parses the convergence knowledge table out of the knowledge
// document, returning nil if the document or section is absent.
func (b *Bridge) ReadTable() []KnowledgeEntry {
	data, err := os.ReadFile(b.docPath())
	if err != nil {
		return nil
	}
	content := string(data)
	if !strings.Contains(content, startMarker) || !strings.Contains(content, endMarker) {
		return nil
	}

	start := strings.Index(content, startMarker) + len(startMarker)
	end := strings.Index(content, endMarker)
	section := content[start:end]

	var entries []KnowledgeEntry
	inTable := false
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "| Fingerprint"):
			inTable = true
		case strings.HasPrefix(line, "|---"):
			continue
		case inTable && strings.HasPrefix(line, "|"):
			cells := splitTableRow(line)
			if len(cells) >= 6 {
				seen := 1
				fmt.Sscanf(cells[5], "%d", &seen)
				entries = append(entries, KnowledgeEntry{
					FingerprintShort: strings.Trim(cells[0], "`"),
					ErrorPattern:     cells[1],
					RootCause:        cells[2],
					Fix:              cells[3],
					AppliesWhen:      cells[4],
					SeenCount:        seen,
				})
			}
		case inTable && !strings.HasPrefix(line, "|"):
			inTable = false
		}
	}
	return entries
}

func splitTableRow(line string) []string {
	parts := strings.Split(line, "|")
	if len(parts) < 2 {
		return nil
	}
	inner := parts[1 : len(parts)-1]
	cells := make([]string, len(inner))
	for i, c := range inner {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}

func fieldString(record map[string]any, field, fallback string) string {
	if v, ok := record[field].(string); ok && v != "" {
		return v
	}
	return fallback
}
