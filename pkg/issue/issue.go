// Package issue holds the convergence engine's central data types: the
// Issue record, its checkpoint/trajectory companion, and the structured
// artefacts produced by each phase worker.
package issue

import "time"

// Type classifies an observed failure. The heuristic classifier in pkg/capture
// assigns one of these from keyword matching on the error text and tool
// name (spec §9 open question (a): coarse by design).
type Type string

const (
	TypeError       Type = "error"
	TypeWarning     Type = "warning"
	TypeFailure     Type = "failure"
	TypeRegression  Type = "regression"
	TypePerformance Type = "performance"
	TypeDesign      Type = "design"
	TypeManual      Type = "manual"
	TypeUnknown     Type = "unknown"
)

// ValidTypes is the enumeration of types §3 the schema validator accepts.
var ValidTypes = map[Type]bool{
	TypeError: true, TypeWarning: true, TypeFailure: true, TypeRegression: true,
	TypePerformance: true, TypeDesign: true, TypeManual: true, TypeUnknown: true,
}

// Status is the issue's position in the pipeline state machine (spec §4.13).
type Status string

const (
	StatusCaptured    Status = "captured"
	StatusResearching Status = "researching"
	StatusResearched  Status = "researched"
	StatusDebating    Status = "debating"
	StatusDebated     Status = "debated"
	StatusConverging  Status = "converging"
	StatusConverged   Status = "converged"
	StatusResolved    Status = "resolved"
	StatusQuarantined Status = "quarantined"
)

// ValidStatuses is the enumeration of statuses the schema validator accepts.
var ValidStatuses = map[Status]bool{
	StatusCaptured: true, StatusResearching: true, StatusResearched: true,
	StatusDebating: true, StatusDebated: true, StatusConverging: true,
	StatusConverged: true, StatusResolved: true, StatusQuarantined: true,
}

// Issue is the central entity of the system (spec §3). Field names and JSON
// tags match the persisted-state wire format exactly, since issues.jsonl
// is read and written by external tooling too (the pre-tool matcher's
// fallback path, the knowledge bridge).
type Issue struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	Timestamp       string    `json:"timestamp"`
	Description     string    `json:"description"`
	RawError        string    `json:"raw_error"`
	Status          Status    `json:"status"`
	Source          string    `json:"source"`
	ToolName        string    `json:"tool_name"`
	GitBranch       string    `json:"git_branch"`
	RecentFiles     []string  `json:"recent_files"`
	WorkingDirectory string   `json:"working_directory"`
	Fingerprint     string    `json:"fingerprint,omitempty"`
	OccurrenceCount int       `json:"occurrence_count,omitempty"`
	FirstSeen       string    `json:"first_seen,omitempty"`
	LastSeen        string    `json:"last_seen,omitempty"`

	// QuarantineReason and QuarantinedAt are only populated on records
	// written to the quarantine log (spec §4.4).
	QuarantineReason []string `json:"_quarantine_reason,omitempty"`
	QuarantinedAt    string   `json:"_quarantined_at,omitempty"`
}

// NowISO returns the current UTC instant formatted as spec §3 requires:
// ISO-8601 with a literal "Z" suffix.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
