package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergence-engine/convergence/pkg/issue"
)

func newManager(t *testing.T) (*Manager, string) {
	base := t.TempDir()
	researchDir := func(issueID string) string {
		return filepath.Join(base, issueID)
	}
	return New(researchDir), base
}

func TestSaveAndLoadRoundTrips(t *testing.T) {
	m, _ := newManager(t)

	require.NoError(t, m.Save("issue_1", issue.PhaseResearch, issue.PhaseCompleted, map[string]any{"ok": true}))

	cp := m.Load("issue_1")
	rec, ok := cp.Phases[issue.PhaseResearch]
	require.True(t, ok)
	assert.Equal(t, issue.PhaseCompleted, rec.Status)
	assert.Len(t, cp.Trajectory, 1)
}

func TestSaveRejectsUnknownPhase(t *testing.T) {
	m, _ := newManager(t)
	err := m.Save("issue_1", issue.Phase("not-a-phase"), issue.PhaseCompleted, nil)
	assert.Error(t, err)
}

func TestGetResumePhaseAdvancesThroughCompletedPhases(t *testing.T) {
	m, _ := newManager(t)
	assert.Equal(t, issue.PhaseResearch, m.GetResumePhase("issue_1"))

	require.NoError(t, m.Save("issue_1", issue.PhaseResearch, issue.PhaseCompleted, nil))
	assert.Equal(t, issue.PhaseDebate, m.GetResumePhase("issue_1"))

	require.NoError(t, m.Save("issue_1", issue.PhaseDebate, issue.PhaseCompleted, nil))
	assert.Equal(t, issue.PhaseConvergence, m.GetResumePhase("issue_1"))

	require.NoError(t, m.Save("issue_1", issue.PhaseConvergence, issue.PhaseCompleted, nil))
	assert.Equal(t, issue.Phase(""), m.GetResumePhase("issue_1"))
}

func TestCanSkipPhaseRequiresArtefactOnDisk(t *testing.T) {
	m, base := newManager(t)
	require.NoError(t, m.Save("issue_1", issue.PhaseResearch, issue.PhaseCompleted, nil))

	// Checkpoint says completed, but no artefact file exists yet.
	assert.False(t, m.CanSkipPhase("issue_1", issue.PhaseResearch))

	require.NoError(t, os.MkdirAll(filepath.Join(base, "issue_1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "issue_1", "root_cause.md"), []byte("# root cause"), 0o644))

	assert.True(t, m.CanSkipPhase("issue_1", issue.PhaseResearch))
}

func TestCanSkipPhaseConvergenceNeverSkippable(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Save("issue_1", issue.PhaseConvergence, issue.PhaseCompleted, nil))
	assert.False(t, m.CanSkipPhase("issue_1", issue.PhaseConvergence))
}

func TestClearFromPhaseIsInclusiveOfDownstreamPhases(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Save("issue_1", issue.PhaseResearch, issue.PhaseCompleted, nil))
	require.NoError(t, m.Save("issue_1", issue.PhaseDebate, issue.PhaseCompleted, nil))
	require.NoError(t, m.Save("issue_1", issue.PhaseConvergence, issue.PhaseCompleted, nil))

	require.NoError(t, m.Clear("issue_1", issue.PhaseDebate))

	assert.True(t, m.IsPhaseCompleted("issue_1", issue.PhaseResearch))
	assert.False(t, m.IsPhaseCompleted("issue_1", issue.PhaseDebate))
	assert.False(t, m.IsPhaseCompleted("issue_1", issue.PhaseConvergence))
}

func TestClearAllWipesEverything(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Save("issue_1", issue.PhaseResearch, issue.PhaseCompleted, nil))
	require.NoError(t, m.Clear("issue_1", ""))
	assert.Empty(t, m.GetCompletedPhases("issue_1"))
}
