package config

// Defaults returns the built-in convergence configuration used to fill in
// any field omitted from the user's config.json, mirroring the teacher's
// layered defaults → overrides approach.
func Defaults() Convergence {
	return Convergence{
		Enabled:                  true,
		AutoResearch:             true,
		AutoConvergeOnSessionEnd: true,
		MinIssuesForConvergence:  1,
		SandboxMode:              false,
		Budget: Budget{
			MaxParallelAgents: 2,
			MaxTokensPerAgent: 4000,
			MaxResearchRounds: 3,
			TimeoutSeconds:    60,
			DebateRounds:      1,
			ModelMap: map[string]string{
				"research": "default",
				"debate":   "default",
				"converge": "default",
			},
			FallbackModel: "haiku",
		},
		Sanitizer: SanitizerConfig{
			Enabled:        true,
			StripPaths:     true,
			StripTokens:    true,
			StripUsernames: true,
		},
		KnowledgeDocument: "CLAUDE.md",
	}
}

// deepMerge recursively merges override into base, preferring override's
// values, exactly the shape of the reference implementation's deep_merge
// over untyped JSON maps — this is done before unmarshalling into the typed
// Convergence struct so that a user omitting a field (rather than setting a
// JSON `false`) is indistinguishable from "use the default", which a
// struct-level zero-value merge cannot express for booleans.
func deepMerge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if baseChild, ok := result[k].(map[string]any); ok {
			if overrideChild, ok := v.(map[string]any); ok {
				result[k] = deepMerge(baseChild, overrideChild)
				continue
			}
		}
		result[k] = v
	}
	return result
}
