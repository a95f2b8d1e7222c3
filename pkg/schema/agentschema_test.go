package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateResearcherOutputAccepts(t *testing.T) {
	ok, errs := ValidateResearcherOutput(map[string]any{
		"hypothesis":           "missing permission bit",
		"evidence":             []any{"stack trace line 1"},
		"confidence":           "high",
		"confidence_reasoning": "clear error message",
	})
	assert.True(t, ok)
	assert.Empty(t, errs)
}

func TestValidateResearcherOutputRejectsBadConfidence(t *testing.T) {
	ok, errs := ValidateResearcherOutput(map[string]any{
		"hypothesis":           "x",
		"evidence":             []any{},
		"confidence":           "maybe",
		"confidence_reasoning": "y",
	})
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
}

func TestValidateSolutionOutputValidatesNestedItems(t *testing.T) {
	ok, errs := ValidateSolutionOutput(map[string]any{
		"solutions": []any{
			map[string]any{"title": "chmod the file", "description": "grant permission"},
		},
		"recommended_index":        float64(0),
		"recommendation_reasoning": "simplest fix",
		"implementation_steps":     []any{"run chmod"},
	})
	assert.True(t, ok)
	assert.Empty(t, errs)
}

func TestValidateSolutionOutputRejectsOutOfRangeIndex(t *testing.T) {
	ok, errs := ValidateSolutionOutput(map[string]any{
		"solutions": []any{
			map[string]any{"title": "a", "description": "b"},
		},
		"recommended_index":        float64(5),
		"recommendation_reasoning": "x",
		"implementation_steps":     []any{},
	})
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
}

func TestValidateImpactOutputRejectsInvalidEnums(t *testing.T) {
	ok, errs := ValidateImpactOutput(map[string]any{
		"severity":           "catastrophic",
		"severity_reasoning": "x",
		"scope":              "isolated",
		"scope_detail":       "x",
		"frequency":          "first",
		"priority":           "now",
		"priority_reasoning": "x",
	})
	assert.False(t, ok)
	assert.Contains(t, errs[0], "invalid severity")
}

func TestValidateDebateOutputAccepts(t *testing.T) {
	ok, errs := ValidateDebateOutput(map[string]any{
		"agreements":         []any{"a"},
		"contradictions":     []any{},
		"gaps":               []any{},
		"revised_root_cause": "x",
		"revised_fix":        "y",
		"revised_priority":   "P1",
	})
	assert.True(t, ok)
	assert.Empty(t, errs)
}

func TestValidateTaskRejectsBadComplexity(t *testing.T) {
	ok, errs := ValidateTask(map[string]any{
		"title":       "Fix it",
		"description": "do the thing",
		"issue_id":    "issue_1",
		"priority":    "P1",
		"complexity":  "extreme",
	})
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
}

func TestValidateAgentOutputDispatchesByName(t *testing.T) {
	ok, _ := ValidateAgentOutput("unknown-agent", map[string]any{})
	assert.False(t, ok)

	ok, _ = ValidateAgentOutput("impact_assessor", map[string]any{
		"severity": "high", "severity_reasoning": "x", "scope": "module",
		"scope_detail": "x", "frequency": "recurring", "priority": "soon", "priority_reasoning": "x",
	})
	assert.True(t, ok)
}
