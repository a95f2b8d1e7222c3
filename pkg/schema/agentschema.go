package schema

import "fmt"

// Valid enum values shared by the agent output schemas (spec §4.6-4.8).
var (
	ValidConfidence   = map[string]bool{"high": true, "medium": true, "low": true}
	ValidSeverity     = map[string]bool{"P0": true, "P1": true, "P2": true, "P3": true}
	ValidScope        = map[string]bool{"isolated": true, "module": true, "system": true}
	ValidFrequency    = map[string]bool{"first": true, "recurring": true, "escalating": true}
	ValidActionPriority = map[string]bool{"now": true, "soon": true, "later": true}
	ValidComplexity   = map[string]bool{"low": true, "medium": true, "high": true}
)

// fieldSpec is one entry of a schema: the Go type a field must hold and
// whether the field is required.
type fieldSpec struct {
	kind     fieldKind
	required bool
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindList
	kindDict
	kindInt
)

var (
	researcherSchema = map[string]fieldSpec{
		"hypothesis":           {kindString, true},
		"evidence":             {kindList, true},
		"confidence":           {kindString, true},
		"confidence_reasoning": {kindString, true},
		"related_patterns":     {kindList, false},
	}
	solutionSchema = map[string]fieldSpec{
		"solutions":                 {kindList, true},
		"recommended_index":         {kindInt, true},
		"recommendation_reasoning":  {kindString, true},
		"implementation_steps":      {kindList, true},
	}
	solutionItemSchema = map[string]fieldSpec{
		"title":       {kindString, true},
		"description": {kindString, true},
		"tradeoffs":   {kindDict, false},
	}
	impactSchema = map[string]fieldSpec{
		"severity":           {kindString, true},
		"severity_reasoning": {kindString, true},
		"scope":              {kindString, true},
		"scope_detail":       {kindString, true},
		"frequency":          {kindString, true},
		"frequency_detail":   {kindString, false},
		"priority":           {kindString, true},
		"priority_reasoning": {kindString, true},
	}
	debateSchema = map[string]fieldSpec{
		"agreements":        {kindList, true},
		"contradictions":    {kindList, true},
		"gaps":              {kindList, true},
		"revised_root_cause": {kindString, true},
		"revised_fix":        {kindString, true},
		"revised_priority":   {kindString, true},
	}
	taskSchema = map[string]fieldSpec{
		"title":                 {kindString, true},
		"description":           {kindString, true},
		"issue_id":              {kindString, true},
		"priority":              {kindString, true},
		"complexity":            {kindString, true},
		"files_likely_affected": {kindList, false},
		"suggested_approach":    {kindString, false},
	}
)

func matchesKind(v any, kind fieldKind) bool {
	switch kind {
	case kindString:
		_, ok := v.(string)
		return ok
	case kindList:
		_, ok := v.([]any)
		return ok
	case kindDict:
		_, ok := v.(map[string]any)
		return ok
	case kindInt:
		switch n := v.(type) {
		case float64:
			return n == float64(int64(n))
		case int:
			return true
		}
		return false
	}
	return false
}

func kindName(kind fieldKind) string {
	switch kind {
	case kindString:
		return "string"
	case kindList:
		return "list"
	case kindDict:
		return "dict"
	case kindInt:
		return "int"
	}
	return "unknown"
}

// validateAgainstSchema checks data's fields against schema, returning every
// violation. Unknown extra fields are ignored — schemas describe a floor,
// not an exhaustive allow-list.
func validateAgainstSchema(data map[string]any, sch map[string]fieldSpec, name string) (bool, []string) {
	var errs []string
	prefix := ""
	if name != "" {
		prefix = "[" + name + "] "
	}

	for field, spec := range sch {
		v, ok := data[field]
		if !ok {
			if spec.required {
				errs = append(errs, fmt.Sprintf("%smissing required field: %q", prefix, field))
			}
			continue
		}
		if !matchesKind(v, spec.kind) {
			errs = append(errs, fmt.Sprintf("%sfield %q expected %s, got %T", prefix, field, kindName(spec.kind), v))
		}
	}
	return len(errs) == 0, errs
}

func asStringList(v any) []any {
	list, _ := v.([]any)
	return list
}

// ValidateResearcherOutput validates a researcher agent's structured output.
func ValidateResearcherOutput(data map[string]any) (bool, []string) {
	ok, errs := validateAgainstSchema(data, researcherSchema, "researcher")

	if confidence, present := data["confidence"].(string); present && confidence != "" && !ValidConfidence[confidence] {
		errs = append(errs, fmt.Sprintf("[researcher] invalid confidence: %q", confidence))
		ok = false
	}
	for i, item := range asStringList(data["evidence"]) {
		if _, isStr := item.(string); !isStr {
			errs = append(errs, fmt.Sprintf("[researcher] evidence[%d] must be string", i))
			ok = false
		}
	}
	return ok, errs
}

// ValidateSolutionOutput validates a solution-finder agent's structured output.
func ValidateSolutionOutput(data map[string]any) (bool, []string) {
	ok, errs := validateAgainstSchema(data, solutionSchema, "solution_finder")

	solutions := asStringList(data["solutions"])
	for i, sol := range solutions {
		solMap, isMap := sol.(map[string]any)
		if !isMap {
			errs = append(errs, fmt.Sprintf("[solution_finder] solutions[%d] must be dict", i))
			ok = false
			continue
		}
		solOK, solErrs := validateAgainstSchema(solMap, solutionItemSchema, fmt.Sprintf("solution_finder.solutions[%d]", i))
		if !solOK {
			errs = append(errs, solErrs...)
			ok = false
		}
	}

	if recIdx, present := data["recommended_index"].(float64); present && len(solutions) > 0 {
		idx := int(recIdx)
		if idx < 0 || idx >= len(solutions) {
			errs = append(errs, fmt.Sprintf("[solution_finder] recommended_index %d out of range (0-%d)", idx, len(solutions)-1))
			ok = false
		}
	}

	for i, step := range asStringList(data["implementation_steps"]) {
		if _, isStr := step.(string); !isStr {
			errs = append(errs, fmt.Sprintf("[solution_finder] implementation_steps[%d] must be string", i))
			ok = false
		}
	}

	return ok, errs
}

// ValidateImpactOutput validates an impact-assessor agent's structured output.
func ValidateImpactOutput(data map[string]any) (bool, []string) {
	ok, errs := validateAgainstSchema(data, impactSchema, "impact_assessor")

	checks := []struct {
		field string
		valid map[string]bool
	}{
		{"severity", ValidSeverity},
		{"scope", ValidScope},
		{"frequency", ValidFrequency},
		{"priority", ValidActionPriority},
	}
	for _, c := range checks {
		if v, present := data[c.field].(string); present && v != "" && !c.valid[v] {
			errs = append(errs, fmt.Sprintf("[impact_assessor] invalid %s: %q", c.field, v))
			ok = false
		}
	}
	return ok, errs
}

// ValidateDebateOutput validates a debater agent's structured output.
func ValidateDebateOutput(data map[string]any) (bool, []string) {
	ok, errs := validateAgainstSchema(data, debateSchema, "debater")

	if priority, present := data["revised_priority"].(string); present && priority != "" && !ValidSeverity[priority] {
		errs = append(errs, fmt.Sprintf("[debater] invalid revised_priority: %q", priority))
		ok = false
	}
	return ok, errs
}

// ValidateTask validates a single synthesized task object.
func ValidateTask(data map[string]any) (bool, []string) {
	ok, errs := validateAgainstSchema(data, taskSchema, "task")

	if priority, present := data["priority"].(string); present && priority != "" && !ValidSeverity[priority] {
		errs = append(errs, fmt.Sprintf("[task] invalid priority: %q", priority))
		ok = false
	}
	if complexity, present := data["complexity"].(string); present && complexity != "" && !ValidComplexity[complexity] {
		errs = append(errs, fmt.Sprintf("[task] invalid complexity: %q", complexity))
		ok = false
	}
	return ok, errs
}

// ValidateAgentOutput validates data against the schema named by agentName.
func ValidateAgentOutput(agentName string, data map[string]any) (bool, []string) {
	switch agentName {
	case "researcher":
		return ValidateResearcherOutput(data)
	case "solution_finder":
		return ValidateSolutionOutput(data)
	case "impact_assessor":
		return ValidateImpactOutput(data)
	case "debater":
		return ValidateDebateOutput(data)
	case "task":
		return ValidateTask(data)
	default:
		return false, []string{fmt.Sprintf("unknown agent name: %q", agentName)}
	}
}
