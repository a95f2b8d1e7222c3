package agentlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWritesHumanAndJSONLLines(t *testing.T) {
	dir := t.TempDir()
	log := New("issue_1", "research", dir)

	log.Info("starting research", map[string]any{"tool": "Bash"})

	human, err := os.ReadFile(filepath.Join(dir, "agent_activity.log"))
	require.NoError(t, err)
	assert.Contains(t, string(human), "issue_1")
	assert.Contains(t, string(human), "RESEARCH")
	assert.Contains(t, string(human), "starting research")

	jsonl, err := os.ReadFile(filepath.Join(dir, "agent_activity.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(jsonl)), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "issue_1", record["issue_id"])
	assert.Equal(t, "RESEARCH", record["stage"])
	assert.Equal(t, "INFO", record["level"])
}

func TestWithMinLevelSuppressesLowerSeverity(t *testing.T) {
	dir := t.TempDir()
	log := New("issue_1", "research", dir).WithMinLevel(Warn)

	log.Info("should not appear", nil)
	log.Warn("should appear", nil)

	jsonl, err := os.ReadFile(filepath.Join(dir, "agent_activity.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(jsonl)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "should appear")
}

func TestNewPipelineUsesPipelineCorrelationID(t *testing.T) {
	dir := t.TempDir()
	log := NewPipeline("converge", dir)
	log.Info("converging", nil)

	jsonl, err := os.ReadFile(filepath.Join(dir, "agent_activity.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(jsonl), `"issue_id":"PIPELINE"`)
}

func TestSectionWritesOnlyToHumanLog(t *testing.T) {
	dir := t.TempDir()
	log := New("issue_1", "research", dir)
	log.Section("Phase Start")

	human, err := os.ReadFile(filepath.Join(dir, "agent_activity.log"))
	require.NoError(t, err)
	assert.Contains(t, string(human), "Phase Start")

	_, err = os.Stat(filepath.Join(dir, "agent_activity.jsonl"))
	assert.True(t, os.IsNotExist(err))
}
