package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePathsUsesEnvVarWhenSet(t *testing.T) {
	t.Setenv("CONVERGENCE_PROJECT_ROOT", "/srv/project")
	paths, usedFallback := ResolvePaths()
	assert.False(t, usedFallback)
	assert.Equal(t, "/srv/project", paths.ProjectRoot)
	assert.Equal(t, filepath.Join("/srv/project", ".claude", "convergence"), paths.BaseDir)
}

func TestResolvePathsFallsBackToCWD(t *testing.T) {
	t.Setenv("CONVERGENCE_PROJECT_ROOT", "")
	paths, usedFallback := ResolvePaths()
	assert.True(t, usedFallback)
	assert.NotEmpty(t, paths.ProjectRoot)
}

func TestPathLayout(t *testing.T) {
	paths := Paths{ProjectRoot: "/root", BaseDir: "/root/.claude/convergence"}

	assert.Equal(t, "/root/.claude/convergence/data", paths.DataDir())
	assert.Equal(t, "/root/.claude/convergence/data/issues.jsonl", paths.IssuesPath())
	assert.Equal(t, "/root/.claude/convergence/data/quarantine.jsonl", paths.QuarantinePath())
	assert.Equal(t, "/root/.claude/convergence/data/research/issue_1", paths.ResearchDir("issue_1"))
	assert.Equal(t, "/root/.claude/convergence/output", paths.ConvergenceDir())
	assert.Equal(t, "/root/.claude/convergence/output/archive", paths.ArchiveDir())
	assert.Equal(t, "/root/.claude/convergence/output/convergence.md", paths.ConvergenceReportPath())
	assert.Equal(t, "/root/.claude/convergence/output/tasks.json", paths.TasksPath())
}

func TestKnowledgeDocumentPathDefaultsToClaudeMD(t *testing.T) {
	paths := Paths{ProjectRoot: "/root"}
	assert.Equal(t, "/root/CLAUDE.md", paths.KnowledgeDocumentPath(""))
}

func TestKnowledgeDocumentPathHonoursAbsolutePath(t *testing.T) {
	paths := Paths{ProjectRoot: "/root"}
	assert.Equal(t, "/other/NOTES.md", paths.KnowledgeDocumentPath("/other/NOTES.md"))
}

func TestEnsureDataDirsCreatesEveryDir(t *testing.T) {
	root := t.TempDir()
	paths := Paths{ProjectRoot: root, BaseDir: filepath.Join(root, ".claude", "convergence")}
	require.NoError(t, paths.EnsureDataDirs())

	for _, dir := range []string{paths.DataDir(), paths.ConvergenceDir(), paths.ArchiveDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
