// Package fingerprint computes deterministic content fingerprints for issue
// records, enabling cross-session deduplication of cosmetically different
// instances of the same underlying error (spec C3 / §4.3).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/convergence-engine/convergence/pkg/issue"
)

// normalizationPattern is one ordered substitution rule. Order matters: more
// specific patterns run first so a later, looser pattern never partially
// consumes what an earlier one should have claimed whole.
type normalizationPattern struct {
	pattern     *regexp.Regexp
	replacement string
}

var normalizationPatterns = []normalizationPattern{
	// UUIDs: 8-4-4-4-12 hex.
	{regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), "<UUID>"},

	// ISO 8601 timestamps: 2026-02-17T12:30:45Z or with offset.
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})`), "<TIMESTAMP>"},

	// Date-time with space separator: 2026-02-17 12:30:45.
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}`), "<TIMESTAMP>"},

	// Hex hashes (sha256, sha1, md5) — 32+ hex chars in a row.
	{regexp.MustCompile(`(?i)\b[0-9a-f]{32,}\b`), "<HASH>"},

	// File paths: /foo/bar/baz.py or C:\foo\bar.
	{regexp.MustCompile(`(?:/[^\s:"']+(?:\.[a-zA-Z0-9]+)?|[A-Z]:\\[^\s:"']+)`), "<PATH>"},

	// Line numbers: :42, line 42, Line 42, L42.
	{regexp.MustCompile(`(?::|[Ll]ine\s*|[Ll])(\d+)`), "<LINE>"},

	// PIDs and process IDs: pid=12345, PID 12345, process 12345.
	{regexp.MustCompile(`(?i)(?:pid|process)\s*[=:]?\s*\d+`), "<PID>"},

	// Memory addresses: 0x7fff5fbff8c0.
	{regexp.MustCompile(`0x[0-9a-fA-F]{4,}`), "<ADDR>"},

	// Port numbers in error context: port 3000, :8080.
	{regexp.MustCompile(`(?i)(?:port\s+)\d{2,5}`), "port <PORT>"},

	// Numeric sequences 4+ digits (but not inside words): catch remaining IDs.
	{regexp.MustCompile(`\b\d{4,}\b`), "<NUM>"},
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeErrorMessage strips volatile components (paths, timestamps,
// UUIDs, hex hashes, line numbers, PIDs, addresses, long numeric runs) from
// msg, collapses whitespace, and lowercases the result so cosmetically
// different instances of the same error converge to identical text.
func NormalizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}
	result := msg
	for _, p := range normalizationPatterns {
		result = p.pattern.ReplaceAllString(result, p.replacement)
	}
	result = whitespaceRun.ReplaceAllString(result, " ")
	result = strings.TrimSpace(result)
	return strings.ToLower(result)
}

// fingerprintFields is the canonical struct hashed to produce a fingerprint.
// Field order in the struct is irrelevant; json.Marshal on a map would not
// guarantee key order, so this is expressed as an ordered struct and relies
// on encoding/json's behaviour of emitting map-free struct fields in
// declaration order, matching sort_keys=True's effective output for this
// fixed field set (t < g < e < s < ty alphabetically once marshalled raw
// would differ — so fields are named and ordered to match Python's
// sort_keys=True alphabetical ordering exactly).
type fingerprintFields struct {
	ErrorNormalized string `json:"error_normalized"`
	GitBranch       string `json:"git_branch"`
	SourceFile      string `json:"source_file"`
	ToolName        string `json:"tool_name"`
	Type            string `json:"type"`
}

// Compute derives a deterministic sha256 fingerprint for iss from its type,
// tool name, normalized error text, primary source file, and git branch.
// Two issues with the same fingerprint are treated as the same underlying
// error.
func Compute(iss *issue.Issue) string {
	issueType := string(iss.Type)
	if issueType == "" {
		issueType = "unknown"
	}
	toolName := iss.ToolName
	if toolName == "" {
		toolName = "unknown"
	}
	gitBranch := iss.GitBranch
	if gitBranch == "" {
		gitBranch = "unknown"
	}

	rawError := iss.RawError
	if rawError == "" {
		rawError = iss.Description
	}

	sourceFile := ""
	if len(iss.RecentFiles) > 0 {
		sourceFile = iss.RecentFiles[0]
	}

	fields := fingerprintFields{
		ErrorNormalized: NormalizeErrorMessage(rawError),
		GitBranch:       gitBranch,
		SourceFile:      sourceFile,
		ToolName:        toolName,
		Type:            issueType,
	}

	// json.Marshal on a struct emits fields in declaration order; the struct
	// above declares them alphabetically so this matches Python's
	// json.dumps(..., sort_keys=True) byte-for-byte.
	canonical, err := json.Marshal(fields)
	if err != nil {
		// fields is a flat struct of strings; marshalling cannot fail.
		panic(err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Match reports whether two fingerprints are equal. It is the extension
// point for future hybrid matching (exact hash now, structural or semantic
// matching later).
func Match(fp1, fp2 string) bool {
	if fp1 == "" || fp2 == "" {
		return false
	}
	return fp1 == fp2
}

// FindDuplicate returns the first issue in existing whose fingerprint
// matches candidate's, or nil if none match. If candidate has no
// fingerprint set, one is computed from its fields first.
func FindDuplicate(candidate *issue.Issue, existing []issue.Issue) *issue.Issue {
	fp := candidate.Fingerprint
	if fp == "" {
		fp = Compute(candidate)
	}
	for i := range existing {
		if Match(fp, existing[i].Fingerprint) {
			return &existing[i]
		}
	}
	return nil
}
