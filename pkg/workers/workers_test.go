package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/agentinvoke"
	"github.com/convergence-engine/convergence/pkg/issue"
	"github.com/convergence-engine/convergence/pkg/store"
)

func testWorkers(t *testing.T) (*Workers, config.Paths) {
	root := t.TempDir()
	paths := config.Paths{ProjectRoot: root, BaseDir: filepath.Join(root, ".claude", "convergence")}
	require.NoError(t, paths.EnsureDataDirs())

	cfg := &config.Convergence{
		SandboxMode: true,
		Budget: config.Budget{
			MaxParallelAgents: 2,
			MaxTokensPerAgent: 1000,
			MaxResearchRounds: 1,
			TimeoutSeconds:    5,
			DebateRounds:      1,
		},
	}
	invoker := agentinvoke.New(cfg, paths)
	return New(paths, invoker), paths
}

func seedIssue(t *testing.T, paths config.Paths, id string) {
	t.Helper()
	require.NoError(t, store.Append(paths.IssuesPath(), map[string]any{
		"id":          id,
		"type":        "error",
		"timestamp":   issue.NowISO(),
		"description": "Bash failed: permission denied",
		"status":      string(issue.StatusCaptured),
		"tool_name":   "Bash",
	}))
}

func TestRunRootCauseWritesArtefactsAndAdvancesStatus(t *testing.T) {
	w, paths := testWorkers(t)
	seedIssue(t, paths, "issue_1")

	err := w.Run(context.Background(), RootCause, "issue_1")
	require.NoError(t, err)

	md := filepath.Join(paths.ResearchDir("issue_1"), "root_cause.md")
	content, err := os.ReadFile(md)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Mock response")

	record, err := store.FindByID(paths.IssuesPath(), "issue_1", "id")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, string(issue.StatusResearched), record["status"])
}

func TestRunSolutionsWritesArtefact(t *testing.T) {
	w, paths := testWorkers(t)
	seedIssue(t, paths, "issue_1")

	require.NoError(t, w.Run(context.Background(), Solutions, "issue_1"))

	_, err := os.Stat(filepath.Join(paths.ResearchDir("issue_1"), "solutions.md"))
	assert.NoError(t, err)
}

func TestRunImpactWritesArtefact(t *testing.T) {
	w, paths := testWorkers(t)
	seedIssue(t, paths, "issue_1")

	require.NoError(t, w.Run(context.Background(), Impact, "issue_1"))

	_, err := os.Stat(filepath.Join(paths.ResearchDir("issue_1"), "impact.md"))
	assert.NoError(t, err)
}

func TestRunUnknownKindErrors(t *testing.T) {
	w, paths := testWorkers(t)
	seedIssue(t, paths, "issue_1")

	err := w.Run(context.Background(), Kind("bogus"), "issue_1")
	assert.Error(t, err)
}

func TestRunMissingIssueErrors(t *testing.T) {
	w, _ := testWorkers(t)
	err := w.Run(context.Background(), RootCause, "does-not-exist")
	assert.Error(t, err)
}
