package agentinvoke

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/agentlog"
)

func testInvoker(t *testing.T) (*Invoker, config.Paths) {
	root := t.TempDir()
	paths := config.Paths{ProjectRoot: root, BaseDir: filepath.Join(root, ".claude", "convergence")}
	require.NoError(t, paths.EnsureDataDirs())

	cfg := &config.Convergence{
		SandboxMode: true,
		Budget: config.Budget{
			MaxParallelAgents: 1,
			MaxTokensPerAgent: 1000,
			MaxResearchRounds: 1,
			TimeoutSeconds:    5,
			DebateRounds:      1,
		},
	}
	return New(cfg, paths), paths
}

func testLogger(t *testing.T, paths config.Paths) *agentlog.Logger {
	t.Helper()
	return agentlog.New("issue_1", "TEST", paths.DataDir())
}

func TestInvokeSandboxModeReturnsMockResponse(t *testing.T) {
	inv, paths := testInvoker(t)
	log := testLogger(t, paths)

	result := inv.Invoke(context.Background(), "do the thing", "research", "issue_1", log, "")
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "research")
}

func TestInvokeSandboxModeHonoursSuppliedMock(t *testing.T) {
	inv, paths := testInvoker(t)
	log := testLogger(t, paths)

	result := inv.Invoke(context.Background(), "prompt", "debate", "issue_1", log, "## Agreements\nfoo")
	assert.True(t, result.Success)
	assert.Equal(t, "## Agreements\nfoo", result.Output)
}

func TestMarkdownOutputStripsJSONDelimiter(t *testing.T) {
	result := Result{Output: "# summary\n\n===JSON_OUTPUT===\n{\"a\":1}\n===JSON_OUTPUT_END==="}
	assert.Equal(t, "# summary", result.MarkdownOutput())
}

func TestWriteResearchOutputCreatesFile(t *testing.T) {
	dir := t.TempDir()
	log := agentlog.New("issue_1", "TEST", dir)

	err := WriteResearchOutput(filepath.Join(dir, "issue_1"), "root_cause.md", "# root cause", log)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "issue_1", "root_cause.md"))
	require.NoError(t, err)
	assert.Equal(t, "# root cause", string(content))
}

func TestWriteResearchJSONWritesEvenOnValidationFailure(t *testing.T) {
	dir := t.TempDir()
	log := agentlog.New("issue_1", "TEST", dir)

	data := map[string]any{"unexpected_field": "value"}
	err := WriteResearchJSON(filepath.Join(dir, "issue_1"), "root_cause.json", data, "researcher", log)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "issue_1", "root_cause.json"))
	assert.NoError(t, statErr)
}
