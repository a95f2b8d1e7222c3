package config

import (
	"os"
	"path/filepath"
)

// projectRootEnvVar is the environment variable child processes and hooks
// use to resolve the project root without depending on the current working
// directory, per spec §6 ("Environment propagates a project-root variable
// for child path resolution").
const projectRootEnvVar = "CONVERGENCE_PROJECT_ROOT"

// baseDirName is the subdirectory under the project root that holds all
// persisted convergence state, per spec §6.
const baseDirName = ".claude/convergence"

// Paths resolves the on-disk layout described in spec §6. It is built once
// per process alongside the Convergence configuration and threaded through
// explicitly, never held as a package-level singleton (per spec §9 "Global
// state").
type Paths struct {
	ProjectRoot string
	BaseDir     string
}

// ResolvePaths determines the project root per spec §9 open question (c):
// the environment variable wins; failing that, the current working
// directory is used as a compatibility fallback (a warning is the caller's
// responsibility to log, since Paths itself has no logger).
func ResolvePaths() (Paths, bool) {
	usedFallback := false
	root := os.Getenv(projectRootEnvVar)
	if root == "" {
		usedFallback = true
		if cwd, err := os.Getwd(); err == nil {
			root = cwd
		} else {
			root = "."
		}
	}
	return Paths{
		ProjectRoot: root,
		BaseDir:     filepath.Join(root, baseDirName),
	}, usedFallback
}

// DataDir is where issues.jsonl, quarantine.jsonl, research artefacts, and
// the agent activity logs live.
func (p Paths) DataDir() string { return filepath.Join(p.BaseDir, "data") }

// IssuesPath is the path to the active issues log.
func (p Paths) IssuesPath() string { return filepath.Join(p.DataDir(), "issues.jsonl") }

// QuarantinePath is the path to the quarantine log for invalid records.
func (p Paths) QuarantinePath() string { return filepath.Join(p.DataDir(), "quarantine.jsonl") }

// ResearchDir is the per-issue research artefact directory.
func (p Paths) ResearchDir(issueID string) string {
	return filepath.Join(p.DataDir(), "research", issueID)
}

// AgentActivityLog is the human-readable dual-log path.
func (p Paths) AgentActivityLog() string { return filepath.Join(p.DataDir(), "agent_activity.log") }

// AgentActivityJSONL is the machine-parseable twin of AgentActivityLog.
func (p Paths) AgentActivityJSONL() string {
	return filepath.Join(p.DataDir(), "agent_activity.jsonl")
}

// ConvergenceDir holds the latest convergence.md and tasks.json.
func (p Paths) ConvergenceDir() string { return filepath.Join(p.BaseDir, "output") }

// ArchiveDir holds timestamped prior convergence artefacts.
func (p Paths) ArchiveDir() string { return filepath.Join(p.ConvergenceDir(), "archive") }

// ConvergenceReportPath is the latest human-readable convergence report.
func (p Paths) ConvergenceReportPath() string {
	return filepath.Join(p.ConvergenceDir(), "convergence.md")
}

// TasksPath is the latest machine-readable task list.
func (p Paths) TasksPath() string { return filepath.Join(p.ConvergenceDir(), "tasks.json") }

// KnowledgeDocumentPath resolves the user-owned knowledge document the
// bridge writes into, relative to the project root.
func (p Paths) KnowledgeDocumentPath(relName string) string {
	if relName == "" {
		relName = "CLAUDE.md"
	}
	if filepath.IsAbs(relName) {
		return relName
	}
	return filepath.Join(p.ProjectRoot, relName)
}

// EnsureDataDirs creates the directories the engine writes under. Safe to
// call repeatedly.
func (p Paths) EnsureDataDirs() error {
	for _, dir := range []string{p.DataDir(), p.ConvergenceDir(), p.ArchiveDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
