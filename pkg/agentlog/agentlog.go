// Package agentlog provides the per-issue activity log every pipeline stage
// writes to: a human-readable line log plus a machine-parseable JSONL twin,
// layered on top of the ambient log/slog output rather than replacing it
// (spec §3 supplemented feature: agent activity log).
package agentlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/convergence-engine/convergence/pkg/issue"
)

// Level is a log severity, ordered DEBUG < INFO < WARN < ERROR.
type Level string

const (
	Debug Level = "DEBUG"
	Info  Level = "INFO"
	Warn  Level = "WARN"
	Error Level = "ERROR"
)

var levelPriority = map[Level]int{Debug: 0, Info: 1, Warn: 2, Error: 3}

// pipelineIssueID is the correlation id used for pipeline-level events that
// are not tied to any specific issue.
const pipelineIssueID = "PIPELINE"

// Logger writes dual human/JSONL records scoped to one issue and pipeline
// stage, and mirrors WARN/ERROR records to the ambient slog logger so they
// surface in whatever the process's normal log sink is, in addition to the
// dedicated activity log files.
type Logger struct {
	issueID       string
	stage         string
	minLevel      Level
	humanLogPath  string
	jsonlLogPath  string
}

// New builds a Logger for issueID at stage, writing under logDir.
func New(issueID, stage, logDir string) *Logger {
	return &Logger{
		issueID:      issueID,
		stage:        strings.ToUpper(stage),
		minLevel:     Info,
		humanLogPath: filepath.Join(logDir, "agent_activity.log"),
		jsonlLogPath: filepath.Join(logDir, "agent_activity.jsonl"),
	}
}

// NewPipeline builds a Logger for pipeline-level events not tied to a
// specific issue, using "PIPELINE" as the correlation id.
func NewPipeline(stage, logDir string) *Logger {
	return New(pipelineIssueID, stage, logDir)
}

// WithMinLevel returns a copy of l with its minimum emitted level set to
// level.
func (l *Logger) WithMinLevel(level Level) *Logger {
	clone := *l
	clone.minLevel = level
	return &clone
}

func (l *Logger) Debug(message string, extra map[string]any) { l.log(Debug, message, extra) }
func (l *Logger) Info(message string, extra map[string]any)  { l.log(Info, message, extra) }
func (l *Logger) Warn(message string, extra map[string]any)  { l.log(Warn, message, extra) }
func (l *Logger) Error(message string, extra map[string]any) { l.log(Error, message, extra) }

func (l *Logger) log(level Level, message string, extra map[string]any) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := issue.NowISO()

	humanLine := fmt.Sprintf("[%s] [%s] [%s] [%s] %s", timestamp, l.issueID, l.stage, level, message)
	if len(extra) > 0 {
		humanLine += " | " + formatExtra(extra)
	}

	record := map[string]any{
		"timestamp": timestamp,
		"issue_id":  l.issueID,
		"stage":     l.stage,
		"level":     level,
		"message":   message,
	}
	if len(extra) > 0 {
		record["extra"] = extra
	}

	if err := appendLine(l.humanLogPath, humanLine); err != nil {
		slog.Error("agentlog: could not write human log", "path", l.humanLogPath, "error", err)
	}
	if b, err := json.Marshal(record); err != nil {
		slog.Error("agentlog: could not marshal jsonl record", "error", err)
	} else if err := appendLine(l.jsonlLogPath, string(b)); err != nil {
		slog.Error("agentlog: could not write jsonl log", "path", l.jsonlLogPath, "error", err)
	}

	if level == Warn || level == Error {
		scoped := slog.With("issue_id", l.issueID, "stage", l.stage)
		if level == Warn {
			scoped.Warn(message, extraArgs(extra)...)
		} else {
			scoped.Error(message, extraArgs(extra)...)
		}
	}
}

// Section writes a visual separator into the human log only, for
// readability between major phases of a run.
func (l *Logger) Section(title string) {
	separator := fmt.Sprintf("\n%s\n  [%s] %s: %s\n%s", strings.Repeat("=", 60), l.issueID, l.stage, title, strings.Repeat("=", 60))
	if err := appendLine(l.humanLogPath, separator); err != nil {
		slog.Error("agentlog: could not write section separator", "path", l.humanLogPath, "error", err)
	}
}

func formatExtra(extra map[string]any) string {
	parts := make([]string, 0, len(extra))
	for k, v := range extra {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " | ")
}

func extraArgs(extra map[string]any) []any {
	args := make([]any, 0, len(extra)*2)
	for k, v := range extra {
		args = append(args, k, v)
	}
	return args
}

func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}
