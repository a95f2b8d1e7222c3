// Package sessionend implements the optional session-end auto-convergence
// hook: a thin wrapper the host may invoke when a development session ends,
// chaining research-then-convergence over whatever issues accumulated
// during the session (spec §3 supplement, referencing the
// auto_converge_on_session_end config flag named in §6 but never given an
// operation there).
package sessionend

import (
	"context"
	"fmt"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/arbiter"
	"github.com/convergence-engine/convergence/pkg/orchestrator"
)

// Outcome reports what MaybeConverge actually did.
type Outcome struct {
	Skipped    bool
	SkipReason string
	Researched int
	Converged  bool
}

// MaybeConverge researches every captured issue then attempts convergence,
// gated on cfg.AutoConvergeOnSessionEnd. It never fails the host session:
// errors from either stage are folded into Outcome rather than propagated,
// since a session-end hook's job is to make a best effort, not to block
// the session from ending.
func MaybeConverge(ctx context.Context, cfg *config.Convergence, orch *orchestrator.Orchestrator, arb *arbiter.Arbiter) Outcome {
	if !cfg.AutoConvergeOnSessionEnd {
		return Outcome{Skipped: true, SkipReason: "auto_converge_on_session_end is disabled"}
	}

	results, err := orch.ResearchAllCaptured(ctx)
	if err != nil {
		return Outcome{Skipped: true, SkipReason: fmt.Sprintf("research failed: %v", err)}
	}

	converged, err := arb.Synthesize(ctx, "")
	if err != nil {
		return Outcome{Researched: len(results), SkipReason: fmt.Sprintf("convergence failed: %v", err)}
	}

	return Outcome{Researched: len(results), Converged: converged}
}
