// Package schema validates issue records and agent-produced research
// artefacts, quarantining anything malformed instead of letting it stop the
// pipeline (spec C4 / §4.4).
package schema

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/convergence-engine/convergence/pkg/fingerprint"
	"github.com/convergence-engine/convergence/pkg/issue"
	"github.com/convergence-engine/convergence/pkg/store"
)

// Reason is a taxonomy tag describing why a record was quarantined, so
// downstream tooling can group quarantine entries without re-parsing the
// free-text error list (supplemental to the reference implementation, which
// only stored free text).
type Reason string

const (
	ReasonCorruptJSON    Reason = "corrupt_json"
	ReasonMissingField   Reason = "missing_field"
	ReasonWrongType      Reason = "wrong_type"
	ReasonInvalidEnum    Reason = "invalid_enum"
	ReasonEmptyID        Reason = "empty_id"
	ReasonBadTimestamp   Reason = "bad_timestamp"
)

// phase2Fields lists the fields migrate adds when missing.
var phase2Fields = []string{"fingerprint", "occurrence_count", "first_seen", "last_seen"}

// ValidateIssue checks record's required fields, enum values, and id/timestamp
// shape, returning every violation found (not just the first).
func ValidateIssue(record map[string]any) (bool, []string) {
	var errs []string

	for _, field := range []string{"id", "type", "timestamp", "description", "status"} {
		v, ok := record[field]
		if !ok {
			errs = append(errs, fmt.Sprintf("missing required field: %q", field))
			continue
		}
		if _, ok := v.(string); !ok {
			errs = append(errs, fmt.Sprintf("field %q expected string, got %T", field, v))
		}
	}

	if status, ok := record["status"].(string); ok && status != "" {
		if !issue.ValidStatuses[issue.Status(status)] {
			errs = append(errs, fmt.Sprintf("invalid status: %q", status))
		}
	}

	if typ, ok := record["type"].(string); ok && typ != "" {
		if !issue.ValidTypes[issue.Type(typ)] {
			errs = append(errs, fmt.Sprintf("invalid type: %q", typ))
		}
	}

	if id, ok := record["id"].(string); ok && trimSpace(id) == "" {
		errs = append(errs, "field 'id' cannot be empty")
	}

	if ts, ok := record["timestamp"].(string); ok && ts != "" {
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			errs = append(errs, fmt.Sprintf("field 'timestamp' is not valid ISO 8601: %q", ts))
		}
	}

	return len(errs) == 0, errs
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n') {
		end--
	}
	return s[start:end]
}

// QuarantineSummary reports the outcome of a ValidateAllIssues sweep.
type QuarantineSummary struct {
	Valid       int
	Quarantined int
	Errors      []string
}

// ValidateAllIssues scans issuesPath, separates valid from invalid records,
// appends invalid ones (tagged with their violations) to quarantinePath, and
// rewrites issuesPath to contain only the valid records if any were removed.
// It never aborts on a bad record — classify and continue, same as the
// Sanitiser's fail-open-on-text policy.
func ValidateAllIssues(issuesPath, quarantinePath string) (QuarantineSummary, error) {
	summary := QuarantineSummary{}

	if _, err := os.Stat(issuesPath); os.IsNotExist(err) {
		return summary, nil
	}

	records, err := store.ReadAll(issuesPath)
	if err != nil {
		return summary, fmt.Errorf("schema: read issues: %w", err)
	}

	var valid []map[string]any
	for i, record := range records {
		ok, errs := ValidateIssue(record)
		if ok {
			valid = append(valid, record)
			summary.Valid++
			continue
		}
		summary.Errors = append(summary.Errors, fmt.Sprintf(
			"record %d (id=%v): %v", i, record["id"], errs))
		record["_quarantine_reason"] = errs
		record["_quarantined_at"] = issue.NowISO()
		if err := store.Append(quarantinePath, record); err != nil {
			return summary, fmt.Errorf("schema: append quarantine: %w", err)
		}
		summary.Quarantined++
	}

	if summary.Quarantined > 0 {
		if err := rewriteJSONL(issuesPath, valid); err != nil {
			return summary, fmt.Errorf("schema: rewrite issues after quarantine: %w", err)
		}
	}

	return summary, nil
}

func rewriteJSONL(path string, records []map[string]any) error {
	tmpPath := path + ".validated.tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return err
		}
		if _, err := f.Write(append(b, '\n')); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// MigrateIssue non-destructively adds the occurrence-tracking fields
// (fingerprint, occurrence_count, first_seen, last_seen) to record if they
// are missing, computing the fingerprint from the record's current content.
// It only ever adds fields, never removes or overwrites existing ones.
func MigrateIssue(record map[string]any) (map[string]any, bool) {
	migrated := false

	if _, ok := record["fingerprint"]; !ok {
		record["fingerprint"] = fingerprint.Compute(recordToIssue(record))
		migrated = true
	}
	if _, ok := record["occurrence_count"]; !ok {
		record["occurrence_count"] = 1
		migrated = true
	}

	timestamp, _ := record["timestamp"].(string)
	if timestamp == "" {
		timestamp = issue.NowISO()
	}
	if _, ok := record["first_seen"]; !ok {
		record["first_seen"] = timestamp
		migrated = true
	}
	if _, ok := record["last_seen"]; !ok {
		record["last_seen"] = timestamp
		migrated = true
	}

	return record, migrated
}

func recordToIssue(record map[string]any) *issue.Issue {
	iss := &issue.Issue{}
	if v, ok := record["type"].(string); ok {
		iss.Type = issue.Type(v)
	}
	if v, ok := record["tool_name"].(string); ok {
		iss.ToolName = v
	}
	if v, ok := record["git_branch"].(string); ok {
		iss.GitBranch = v
	}
	if v, ok := record["raw_error"].(string); ok {
		iss.RawError = v
	}
	if v, ok := record["description"].(string); ok {
		iss.Description = v
	}
	if v, ok := record["recent_files"].([]any); ok {
		for _, f := range v {
			if s, ok := f.(string); ok {
				iss.RecentFiles = append(iss.RecentFiles, s)
			}
		}
	}
	return iss
}

// MigrateSummary reports the outcome of a MigrateIssuesFile pass.
type MigrateSummary struct {
	Total         int
	Migrated      int
	AlreadyCurrent int
}

// MigrateIssuesFile migrates every record in path in place, adding any
// missing occurrence-tracking fields, and rewrites the file atomically only
// if at least one record needed migration.
func MigrateIssuesFile(path string) (MigrateSummary, error) {
	summary := MigrateSummary{}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return summary, nil
	}

	records, err := store.ReadAll(path)
	if err != nil {
		return summary, fmt.Errorf("schema: read issues for migration: %w", err)
	}

	for _, r := range records {
		summary.Total++
		needsMigration := false
		for _, f := range phase2Fields {
			if _, ok := r[f]; !ok {
				needsMigration = true
				break
			}
		}
		MigrateIssue(r)
		if needsMigration {
			summary.Migrated++
		} else {
			summary.AlreadyCurrent++
		}
	}

	if summary.Migrated > 0 {
		if err := rewriteJSONL(path, records); err != nil {
			return summary, fmt.Errorf("schema: rewrite issues after migration: %w", err)
		}
	}

	return summary, nil
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// MakeIssueID generates a unique issue id of the form
// issue_{YYYYMMDD}_{HHMMSS}_{rand4}.
func MakeIssueID() string {
	now := time.Now().UTC()
	datePart := now.Format("20060102_150405")
	randPart := make([]byte, 4)
	for i := range randPart {
		randPart[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("issue_%s_%s", datePart, string(randPart))
}
