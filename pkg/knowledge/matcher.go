package knowledge

import (
	"encoding/json"
	"strings"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/issue"
	"github.com/convergence-engine/convergence/pkg/store"
)

// stopWords are excluded from the significant-word overlap computation —
// common enough that matching on them alone would produce false positives.
var stopWords = map[string]bool{
	"tool": true, "failed": true, "error": true, "the": true,
	"with": true, "from": true, "that": true,
}

// Pattern is one known error pattern a pre-tool invocation can be matched
// against, sourced from either the knowledge table or the raw issues log.
type Pattern struct {
	Source       string
	Fingerprint  string
	ErrorPattern string
	Fix          string
	RootCause    string
	AppliesWhen  string
	ToolName     string
}

// Matcher loads known converged patterns and checks upcoming tool
// invocations against them (spec C12's pre-tool matcher).
type Matcher struct {
	bridge *Bridge
	paths  config.Paths
}

// NewMatcher builds a Matcher bound to cfg and paths.
func NewMatcher(cfg *config.Convergence, paths config.Paths) *Matcher {
	return &Matcher{bridge: New(cfg, paths), paths: paths}
}

// LoadKnownPatterns loads patterns preferring the compact knowledge table,
// falling back to the converged issues log when the table is absent or
// empty.
func (m *Matcher) LoadKnownPatterns() []Pattern {
	var patterns []Pattern

	if entries := m.bridge.ReadTable(); len(entries) > 0 {
		for _, e := range entries {
			patterns = append(patterns, Pattern{
				Source:       "claude_md",
				Fingerprint:  e.FingerprintShort,
				ErrorPattern: e.ErrorPattern,
				Fix:          e.Fix,
				RootCause:    e.RootCause,
				AppliesWhen:  e.AppliesWhen,
			})
		}
		return patterns
	}

	records, err := store.ReadAll(m.paths.IssuesPath())
	if err != nil {
		return nil
	}
	for _, r := range records {
		if fieldString(r, "status", "") != string(issue.StatusConverged) {
			continue
		}
		desc := fieldString(r, "description", "")
		if len(desc) > 100 {
			desc = desc[:100]
		}
		patterns = append(patterns, Pattern{
			Source:       "issues_jsonl",
			Fingerprint:  fieldString(r, "fingerprint", ""),
			ErrorPattern: desc,
			ToolName:     fieldString(r, "tool_name", ""),
		})
	}
	return patterns
}

// CheckMatches returns the subset of patterns whose significant words
// overlap sufficiently with toolInput's searchable text: at least a third
// of the error pattern's significant words (minimum one) must appear in the
// input text.
func CheckMatches(toolInput any, patterns []Pattern) []Pattern {
	inputText := strings.ToLower(searchableText(toolInput))

	var matches []Pattern
	for _, p := range patterns {
		words := significantWords(p.ErrorPattern)
		if len(words) == 0 {
			continue
		}
		overlap := 0
		for w := range words {
			if strings.Contains(inputText, w) {
				overlap++
			}
		}
		threshold := len(words) / 3
		if threshold < 1 {
			threshold = 1
		}
		if overlap >= threshold {
			matches = append(matches, p)
		}
	}
	return matches
}

func searchableText(toolInput any) string {
	switch v := toolInput.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func significantWords(errorPattern string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(errorPattern)) {
		if len(w) > 3 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}
