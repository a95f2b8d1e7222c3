// Package config loads and validates the convergence engine's configuration
// and resolves the on-disk layout it persists state under.
package config

import "time"

// Budget controls how much the pipeline is allowed to spend per agent
// invocation and per research fan-out.
type Budget struct {
	MaxParallelAgents int               `json:"max_parallel_agents" validate:"min=1"`
	MaxTokensPerAgent int               `json:"max_tokens_per_agent" validate:"min=1"`
	MaxResearchRounds int               `json:"max_research_rounds" validate:"min=1"`
	TimeoutSeconds    int               `json:"timeout_seconds" validate:"min=1"`
	DebateRounds      int               `json:"debate_rounds" validate:"oneof=1 2"`
	ModelMap          map[string]string `json:"model_map"`
	FallbackModel     string            `json:"fallback_model"`
}

// Timeout returns the per-invocation wall-clock timeout as a duration.
func (b Budget) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// ModelFor returns the configured model for a pipeline stage, or "default".
func (b Budget) ModelFor(stage string) string {
	if m, ok := b.ModelMap[stage]; ok && m != "" {
		return m
	}
	return "default"
}

// SanitizerConfig toggles the sanitiser's rule groups.
type SanitizerConfig struct {
	Enabled        bool `json:"enabled"`
	StripPaths     bool `json:"strip_paths"`
	StripTokens    bool `json:"strip_tokens"`
	StripUsernames bool `json:"strip_usernames"`
}

// Convergence is the `convergence` section of the configuration file; this
// is the process-wide, loaded-once configuration value threaded explicitly
// through the orchestrator and its collaborators rather than held as a
// module-level singleton.
type Convergence struct {
	Enabled                    bool            `json:"enabled"`
	AutoResearch               bool            `json:"auto_research"`
	AutoConvergeOnSessionEnd   bool            `json:"auto_converge_on_session_end"`
	MinIssuesForConvergence    int             `json:"min_issues_for_convergence" validate:"min=0"`
	SandboxMode                bool            `json:"sandbox_mode"`
	Budget                     Budget          `json:"budget" validate:"required"`
	Sanitizer                  SanitizerConfig `json:"sanitizer"`
	LLMBinary                  string          `json:"llm_binary,omitempty"`
	KnowledgeDocument          string          `json:"knowledge_document,omitempty"`
}

// File is the top-level shape of the JSON configuration file: a single
// `convergence` section, per spec §6.
type File struct {
	Convergence Convergence `json:"convergence"`
}
