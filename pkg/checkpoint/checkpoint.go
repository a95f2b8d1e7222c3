// Package checkpoint tracks per-issue pipeline phase progress so an
// interrupted run can resume without re-doing completed work, and so the
// arbiter can read back a trajectory of how each issue moved through the
// pipeline (spec C5 / §4.5).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/convergence-engine/convergence/pkg/issue"
)

// Manager loads and saves checkpoints under a fixed research-directory
// resolver, mirroring the teacher's pattern of threading resolved paths
// through a small struct rather than relying on package-level globals.
type Manager struct {
	researchDir func(issueID string) string
}

// New builds a Manager that stores checkpoints at researchDir(issueID)/checkpoint.json.
func New(researchDir func(issueID string) string) *Manager {
	return &Manager{researchDir: researchDir}
}

func (m *Manager) path(issueID string) string {
	return filepath.Join(m.researchDir(issueID), "checkpoint.json")
}

// Load reads the checkpoint for issueID, returning a freshly initialised
// empty checkpoint if none exists or the file on disk is corrupt.
func (m *Manager) Load(issueID string) issue.Checkpoint {
	path := m.path(issueID)
	data, err := os.ReadFile(path)
	if err != nil {
		return issue.Empty(issueID)
	}

	var cp issue.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return issue.Empty(issueID)
	}
	if cp.IssueID == "" {
		cp.IssueID = issueID
	}
	if cp.Phases == nil {
		cp.Phases = map[issue.Phase]issue.PhaseRecord{}
	}
	return cp
}

func (m *Manager) write(issueID string, cp issue.Checkpoint) error {
	path := m.path(issueID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: create dir: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", path, err)
	}
	return nil
}

// Save records phase's status (and optional details) for issueID and
// appends a matching entry to the trajectory log. It rejects unknown phase
// names outright rather than silently recording garbage.
func (m *Manager) Save(issueID string, phase issue.Phase, status issue.PhaseStatus, details map[string]any) error {
	if !isKnownPhase(phase) {
		return fmt.Errorf("checkpoint: unknown phase %q", phase)
	}

	now := issue.NowISO()
	cp := m.Load(issueID)

	cp.Phases[phase] = issue.PhaseRecord{
		Status:    status,
		Timestamp: now,
		Details:   details,
	}
	cp.LastUpdated = now
	cp.Trajectory = append(cp.Trajectory, issue.TrajectoryEntry{
		Phase:     string(phase),
		Status:    string(status),
		Timestamp: now,
		Details:   details,
	})

	return m.write(issueID, cp)
}

func isKnownPhase(phase issue.Phase) bool {
	for _, p := range issue.Phases {
		if p == phase {
			return true
		}
	}
	return false
}

// GetCompletedPhases returns the completed phases for issueID, in pipeline
// order.
func (m *Manager) GetCompletedPhases(issueID string) []issue.Phase {
	cp := m.Load(issueID)
	var completed []issue.Phase
	for _, p := range issue.Phases {
		if rec, ok := cp.Phases[p]; ok && rec.Status == issue.PhaseCompleted {
			completed = append(completed, p)
		}
	}
	return completed
}

// IsPhaseCompleted reports whether phase is recorded complete for issueID.
func (m *Manager) IsPhaseCompleted(issueID string, phase issue.Phase) bool {
	cp := m.Load(issueID)
	rec, ok := cp.Phases[phase]
	return ok && rec.Status == issue.PhaseCompleted
}

// CanSkipPhase reports whether phase can be safely skipped for issueID:
// the checkpoint must mark it completed AND its expected output artefacts
// must still exist on disk, so a manually-deleted output forces a re-run
// instead of silently skipping. Convergence is never skippable — it
// aggregates every issue each time it runs, so a stale checkpoint entry
// for it never licenses a skip.
func (m *Manager) CanSkipPhase(issueID string, phase issue.Phase) bool {
	if !m.IsPhaseCompleted(issueID, phase) {
		return false
	}

	dir := m.researchDir(issueID)
	switch phase {
	case issue.PhaseResearch:
		for _, f := range []string{"root_cause.md", "solutions.md", "impact.md"} {
			if fileExists(filepath.Join(dir, f)) {
				return true
			}
		}
		return false
	case issue.PhaseDebate:
		return fileExists(filepath.Join(dir, "debate.md"))
	case issue.PhaseConvergence:
		return false
	default:
		return false
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Clear wipes checkpoint state for issueID. If fromPhase is empty, the
// entire checkpoint is cleared; otherwise fromPhase and every downstream
// phase are cleared (clearing "debate" also clears "convergence", so both
// re-run). Either way a clearing event is appended to the trajectory so the
// history shows the checkpoint was deliberately reset, not silently lost.
func (m *Manager) Clear(issueID string, fromPhase issue.Phase) error {
	cp := m.Load(issueID)
	now := issue.NowISO()

	if fromPhase == "" {
		cp.Phases = map[issue.Phase]issue.PhaseRecord{}
		cp.LastUpdated = now
		cp.Trajectory = append(cp.Trajectory, issue.TrajectoryEntry{
			Phase: "all", Status: "cleared", Timestamp: now, Details: nil,
		})
		return m.write(issueID, cp)
	}

	idx := phaseIndex(fromPhase)
	if idx == -1 {
		return fmt.Errorf("checkpoint: unknown phase %q", fromPhase)
	}

	cleared := make([]string, 0, len(issue.Phases)-idx)
	for _, p := range issue.Phases[idx:] {
		delete(cp.Phases, p)
		cleared = append(cleared, string(p))
	}
	cp.LastUpdated = now
	cp.Trajectory = append(cp.Trajectory, issue.TrajectoryEntry{
		Phase: string(fromPhase), Status: "cleared_from", Timestamp: now,
		Details: map[string]any{"cleared_phases": cleared},
	})
	return m.write(issueID, cp)
}

func phaseIndex(phase issue.Phase) int {
	for i, p := range issue.Phases {
		if p == phase {
			return i
		}
	}
	return -1
}

// GetTrajectory returns the full append-only phase-transition history for
// issueID.
func (m *Manager) GetTrajectory(issueID string) []issue.TrajectoryEntry {
	return m.Load(issueID).Trajectory
}

// GetResumePhase returns the first non-completed phase in pipeline order
// for issueID, or "" if every phase is complete.
func (m *Manager) GetResumePhase(issueID string) issue.Phase {
	completed := map[issue.Phase]bool{}
	for _, p := range m.GetCompletedPhases(issueID) {
		completed[p] = true
	}
	for _, p := range issue.Phases {
		if !completed[p] {
			return p
		}
	}
	return ""
}
