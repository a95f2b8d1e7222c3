// Package orchestrator coordinates the full per-issue pipeline — research,
// debate, convergence — respecting budget controls and checkpointed resume
// state (spec C9 / §4.9).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/checkpoint"
	"github.com/convergence-engine/convergence/pkg/debate"
	"github.com/convergence-engine/convergence/pkg/issue"
	"github.com/convergence-engine/convergence/pkg/metrics"
	"github.com/convergence-engine/convergence/pkg/schema"
	"github.com/convergence-engine/convergence/pkg/store"
	"github.com/convergence-engine/convergence/pkg/workers"
)

// ResearchResult reports which research sub-workers succeeded for one
// issue, mirroring the reference pipeline's per-agent result dict.
type ResearchResult struct {
	Researcher      bool
	SolutionFinder  bool
	ImpactAssessor  bool
}

func (r ResearchResult) anySucceeded() bool {
	return r.Researcher || r.SolutionFinder || r.ImpactAssessor
}

// PhaseOutcome records whether a single phase of run_full completed,
// failed, or was skipped, for the caller to inspect.
type PhaseOutcome struct {
	Phase  issue.Phase
	Status issue.PhaseStatus
	Err    error
}

// StatusSummary is the pipeline-wide status() result: total issue count and
// a breakdown by status.
type StatusSummary struct {
	Total    int
	ByStatus map[string]int
}

// Orchestrator drives the pipeline for one convergence-engine instance.
type Orchestrator struct {
	cfg         *config.Convergence
	paths       config.Paths
	checkpoints *checkpoint.Manager
	workers     *workers.Workers
	debater     *debate.Debater
}

// New builds an Orchestrator wired to cfg, paths, the research workers, and
// the debater.
func New(cfg *config.Convergence, paths config.Paths, w *workers.Workers, d *debate.Debater) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		paths:       paths,
		checkpoints: checkpoint.New(paths.ResearchDir),
		workers:     w,
		debater:     d,
	}
}

// ResearchOne runs the research phase for issueID: root-cause and
// solution-finder fan out in parallel, bounded by
// Budget.MaxParallelAgents (capped at 2, since a third concurrent slot has
// nothing useful to do until one of those two artefacts exists) — when
// the limit is 1 they run sequentially instead, then impact-assessor runs
// sequentially since it may reference either's output. The phase is
// considered complete if any of the three sub-workers succeeded — partial
// success is permitted; downstream stages degrade gracefully on missing
// artefacts. If force is true, any existing research checkpoint is
// cleared first.
func (o *Orchestrator) ResearchOne(ctx context.Context, issueID string, force bool) (ResearchResult, error) {
	if force {
		if err := o.checkpoints.Clear(issueID, issue.PhaseResearch); err != nil {
			return ResearchResult{}, fmt.Errorf("orchestrator: clear checkpoint: %w", err)
		}
	}

	issuesPath := o.paths.IssuesPath()
	record, err := store.FindByID(issuesPath, issueID, "id")
	if err != nil {
		return ResearchResult{}, fmt.Errorf("orchestrator: read issue %s: %w", issueID, err)
	}
	if record == nil {
		return ResearchResult{}, fmt.Errorf("orchestrator: issue %s not found", issueID)
	}

	if !force && o.checkpoints.CanSkipPhase(issueID, issue.PhaseResearch) {
		slog.Info("research phase already complete, skipping", "issue_id", issueID)
		return ResearchResult{Researcher: true, SolutionFinder: true, ImpactAssessor: true}, nil
	}

	o.checkpoints.Save(issueID, issue.PhaseResearch, issue.PhaseInProgress, nil)

	store.Update(issuesPath, issueID, "id", map[string]any{"status": string(issue.StatusResearching)})
	slog.Info("starting research pipeline", "issue_id", issueID)

	result := o.fanOutResearch(ctx, issueID)

	newStatus := issue.StatusResearched
	if !result.anySucceeded() {
		newStatus = issue.StatusCaptured
	}
	store.Update(issuesPath, issueID, "id", map[string]any{"status": string(newStatus)})

	if result.anySucceeded() {
		o.checkpoints.Save(issueID, issue.PhaseResearch, issue.PhaseCompleted, map[string]any{
			"researcher": result.Researcher, "solution_finder": result.SolutionFinder, "impact_assessor": result.ImpactAssessor,
		})
	} else {
		o.checkpoints.Save(issueID, issue.PhaseResearch, issue.PhaseFailed, nil)
	}

	slog.Info("research pipeline complete", "issue_id", issueID, "status", newStatus)
	return result, nil
}

// researchFanOutLimit caps how many of root-cause/solution-finder run
// concurrently. A third concurrent slot has nothing useful to do until one
// of those two artefacts exists, so the limit is never raised past 2
// regardless of how high Budget.MaxParallelAgents is configured.
const researchFanOutLimit = 2

func (o *Orchestrator) fanOutResearch(ctx context.Context, issueID string) ResearchResult {
	var result ResearchResult

	runRootCause := func() {
		if err := o.workers.Run(ctx, workers.RootCause, issueID); err != nil {
			slog.Error("root-cause worker failed", "issue_id", issueID, "error", err)
			return
		}
		result.Researcher = true
	}
	runSolutions := func() {
		if err := o.workers.Run(ctx, workers.Solutions, issueID); err != nil {
			slog.Error("solution-finder worker failed", "issue_id", issueID, "error", err)
			return
		}
		result.SolutionFinder = true
	}

	if o.cfg.Budget.MaxParallelAgents < researchFanOutLimit {
		slog.Info("research fan-out serialised by max_parallel_agents",
			"issue_id", issueID, "max_parallel_agents", o.cfg.Budget.MaxParallelAgents)
		runRootCause()
		runSolutions()
	} else {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			runRootCause()
		}()
		go func() {
			defer wg.Done()
			runSolutions()
		}()
		wg.Wait()
	}

	if err := o.workers.Run(ctx, workers.Impact, issueID); err != nil {
		slog.Error("impact-assessor worker failed", "issue_id", issueID, "error", err)
	} else {
		result.ImpactAssessor = true
	}

	return result
}

// ResearchAllCaptured validates and migrates the issues log, then runs
// ResearchOne for every issue currently in "captured" status.
func (o *Orchestrator) ResearchAllCaptured(ctx context.Context) (map[string]ResearchResult, error) {
	issuesPath := o.paths.IssuesPath()
	quarantinePath := o.paths.QuarantinePath()

	validation, err := schema.ValidateAllIssues(issuesPath, quarantinePath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: validate issues: %w", err)
	}
	if validation.Quarantined > 0 {
		slog.Warn("quarantined corrupt issue records", "count", validation.Quarantined)
	}
	if _, err := schema.MigrateIssuesFile(issuesPath); err != nil {
		return nil, fmt.Errorf("orchestrator: migrate issues: %w", err)
	}

	records, err := store.ReadAll(issuesPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read issues: %w", err)
	}

	results := map[string]ResearchResult{}
	for _, r := range records {
		status, _ := r["status"].(string)
		if status != string(issue.StatusCaptured) {
			continue
		}
		id, _ := r["id"].(string)
		if id == "" {
			continue
		}
		res, err := o.ResearchOne(ctx, id, false)
		if err != nil {
			slog.Error("research failed for issue", "issue_id", id, "error", err)
			continue
		}
		results[id] = res
	}

	if len(results) == 0 {
		slog.Info("no unresearched issues found")
	} else {
		slog.Info("researched captured issues", "count", len(results))
	}
	return results, nil
}

// RunFull drives issueID through every pipeline phase in order, starting
// from fromPhase (or the checkpoint's resume phase if fromPhase is empty),
// honouring per-phase skip eligibility unless force is set.
func (o *Orchestrator) RunFull(ctx context.Context, issueID string, fromPhase issue.Phase, force bool) ([]PhaseOutcome, error) {
	if force {
		if err := o.checkpoints.Clear(issueID, ""); err != nil {
			return nil, fmt.Errorf("orchestrator: clear checkpoint: %w", err)
		}
	} else if fromPhase != "" {
		if err := o.checkpoints.Clear(issueID, fromPhase); err != nil {
			return nil, fmt.Errorf("orchestrator: clear checkpoint from %s: %w", fromPhase, err)
		}
	}

	startPhase := fromPhase
	if startPhase == "" {
		startPhase = o.checkpoints.GetResumePhase(issueID)
		if startPhase == "" {
			startPhase = issue.PhaseResearch
		}
	}

	startIdx := 0
	for i, p := range issue.Phases {
		if p == startPhase {
			startIdx = i
			break
		}
	}

	var outcomes []PhaseOutcome
	for _, phase := range issue.Phases[startIdx:] {
		if !force && o.checkpoints.CanSkipPhase(issueID, phase) {
			outcomes = append(outcomes, PhaseOutcome{Phase: phase, Status: issue.PhaseSkipped})
			metrics.RecordPhaseOutcome(string(phase), string(issue.PhaseSkipped))
			continue
		}

		o.checkpoints.Save(issueID, phase, issue.PhaseInProgress, nil)

		var runErr error
		switch phase {
		case issue.PhaseResearch:
			result, err := o.ResearchOne(ctx, issueID, force)
			if err != nil {
				runErr = err
			} else if !result.anySucceeded() {
				runErr = fmt.Errorf("all research sub-workers failed")
			}
		case issue.PhaseDebate:
			runErr = o.debater.Run(ctx, issueID)
		case issue.PhaseConvergence:
			// Convergence always re-runs elsewhere (pkg/arbiter); run_full
			// only marks it reached here, since it aggregates every issue
			// rather than operating on one.
			runErr = nil
		}

		status := issue.PhaseCompleted
		if runErr != nil {
			status = issue.PhaseFailed
			slog.Error("phase failed", "issue_id", issueID, "phase", phase, "error", runErr)
		}
		o.checkpoints.Save(issueID, phase, status, nil)
		outcomes = append(outcomes, PhaseOutcome{Phase: phase, Status: status, Err: runErr})
		metrics.RecordPhaseOutcome(string(phase), string(status))
		// Phase failures are reported, never fatal: the pipeline advances
		// as far as the data permits.
	}

	return outcomes, nil
}

// Status summarises the pipeline: total issue count and a breakdown by
// status.
func (o *Orchestrator) Status() (StatusSummary, error) {
	records, err := store.ReadAll(o.paths.IssuesPath())
	if err != nil {
		return StatusSummary{}, fmt.Errorf("orchestrator: read issues: %w", err)
	}

	byStatus := map[string]int{}
	for _, r := range records {
		status, _ := r["status"].(string)
		if status == "" {
			status = "unknown"
		}
		byStatus[status]++
	}
	return StatusSummary{Total: len(records), ByStatus: byStatus}, nil
}

// List returns every issue, optionally filtered to statusFilter.
func (o *Orchestrator) List(statusFilter issue.Status) ([]map[string]any, error) {
	records, err := store.ReadAll(o.paths.IssuesPath())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read issues: %w", err)
	}
	if statusFilter == "" {
		return records, nil
	}

	var filtered []map[string]any
	for _, r := range records {
		if s, _ := r["status"].(string); s == string(statusFilter) {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}
