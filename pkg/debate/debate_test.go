package debate

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

func testDebater(t *testing.T, rounds int) (*Debater, config.Paths) {
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
			DebateRounds:      rounds,
		},
	}
	invoker := agentinvoke.New(cfg, paths)
	return New(cfg, paths, invoker), paths
}

func seedResearchedIssue(t *testing.T, paths config.Paths, id string) {
	t.Helper()
	require.NoError(t, store.Append(paths.IssuesPath(), map[string]any{
		"id":          id,
		"type":        "error",
		"timestamp":   issue.NowISO(),
		"description": "Bash failed: permission denied",
		"status":      string(issue.StatusResearched),
		"tool_name":   "Bash",
	}))

	researchDir := paths.ResearchDir(id)
	require.NoError(t, os.MkdirAll(researchDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(researchDir, "root_cause.md"), []byte("missing file permission"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(researchDir, "solutions.md"), []byte("chmod the file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(researchDir, "impact.md"), []byte("low impact"), 0o644))
}

func TestRunWritesArtefactsAndAdvancesStatus(t *testing.T) {
	d, paths := testDebater(t, 1)
	seedResearchedIssue(t, paths, "issue_1")

	err := d.Run(context.Background(), "issue_1")
	require.NoError(t, err)

	researchDir := paths.ResearchDir("issue_1")
	for _, f := range []string{"debate.md", "debate.log", "debate_metrics.json"} {
		_, statErr := os.Stat(filepath.Join(researchDir, f))
		assert.NoError(t, statErr, f)
	}

	record, err := store.FindByID(paths.IssuesPath(), "issue_1", "id")
	require.NoError(t, err)
	assert.Equal(t, string(issue.StatusDebated), record["status"])
}

func TestRunWithTwoRoundsStillSucceeds(t *testing.T) {
	d, paths := testDebater(t, 2)
	seedResearchedIssue(t, paths, "issue_1")

	err := d.Run(context.Background(), "issue_1")
	require.NoError(t, err)

	record, err := store.FindByID(paths.IssuesPath(), "issue_1", "id")
	require.NoError(t, err)
	assert.Equal(t, string(issue.StatusDebated), record["status"])
}

func TestRunErrorsWhenNoResearchOutputsExist(t *testing.T) {
	d, paths := testDebater(t, 1)
	require.NoError(t, store.Append(paths.IssuesPath(), map[string]any{
		"id":          "issue_2",
		"type":        "error",
		"timestamp":   issue.NowISO(),
		"description": "no research done yet",
		"status":      string(issue.StatusCaptured),
	}))

	err := d.Run(context.Background(), "issue_2")
	assert.Error(t, err)
}

func TestRunErrorsWhenIssueMissing(t *testing.T) {
	d, _ := testDebater(t, 1)
	err := d.Run(context.Background(), "does-not-exist")
	assert.Error(t, err)
}
