package schema

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergence-engine/convergence/pkg/store"
)

func validIssueRecord() map[string]any {
	return map[string]any{
		"id":          "issue_20260730_120000_ab12",
		"type":        "error",
		"timestamp":   "2026-07-30T12:00:00Z",
		"description": "Bash failed: permission denied",
		"status":      "captured",
	}
}

func TestValidateIssueAccepts(t *testing.T) {
	ok, errs := ValidateIssue(validIssueRecord())
	assert.True(t, ok)
	assert.Empty(t, errs)
}

func TestValidateIssueRejectsMissingField(t *testing.T) {
	record := validIssueRecord()
	delete(record, "description")
	ok, errs := ValidateIssue(record)
	assert.False(t, ok)
	assert.Contains(t, errs[0], "description")
}

func TestValidateIssueRejectsInvalidEnum(t *testing.T) {
	record := validIssueRecord()
	record["status"] = "nonsense"
	ok, errs := ValidateIssue(record)
	assert.False(t, ok)
	found := false
	for _, e := range errs {
		if e == `invalid status: "nonsense"` {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateIssueRejectsEmptyID(t *testing.T) {
	record := validIssueRecord()
	record["id"] = "   "
	ok, _ := ValidateIssue(record)
	assert.False(t, ok)
}

func TestValidateIssueRejectsBadTimestamp(t *testing.T) {
	record := validIssueRecord()
	record["timestamp"] = "not-a-date"
	ok, _ := ValidateIssue(record)
	assert.False(t, ok)
}

func TestValidateAllIssuesQuarantinesBadRecords(t *testing.T) {
	dir := t.TempDir()
	issuesPath := filepath.Join(dir, "issues.jsonl")
	quarantinePath := filepath.Join(dir, "quarantine.jsonl")

	good := validIssueRecord()
	bad := validIssueRecord()
	bad["id"] = "issue_2"
	bad["status"] = "bogus"

	require.NoError(t, store.Append(issuesPath, good))
	require.NoError(t, store.Append(issuesPath, bad))

	summary, err := ValidateAllIssues(issuesPath, quarantinePath)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Valid)
	assert.Equal(t, 1, summary.Quarantined)

	remaining, err := store.ReadAll(issuesPath)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, good["id"], remaining[0]["id"])

	quarantined, err := store.ReadAll(quarantinePath)
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	assert.NotEmpty(t, quarantined[0]["_quarantine_reason"])
}

func TestMigrateIssueAddsMissingFieldsOnly(t *testing.T) {
	record := validIssueRecord()
	record["tool_name"] = "Bash"

	migrated, changed := MigrateIssue(record)
	assert.True(t, changed)
	assert.NotEmpty(t, migrated["fingerprint"])
	assert.Equal(t, 1, migrated["occurrence_count"])
	assert.Equal(t, record["timestamp"], migrated["first_seen"])
	assert.Equal(t, record["timestamp"], migrated["last_seen"])

	// Existing values must never be overwritten by a second pass.
	migrated["occurrence_count"] = 5
	again, changedAgain := MigrateIssue(migrated)
	assert.False(t, changedAgain)
	assert.Equal(t, 5, again["occurrence_count"])
}

func TestMigrateIssuesFileRewritesOnlyWhenNeeded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")

	record := validIssueRecord()
	require.NoError(t, store.Append(path, record))

	summary, err := MigrateIssuesFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Migrated)

	records, err := store.ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0]["fingerprint"])

	summary2, err := MigrateIssuesFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, summary2.AlreadyCurrent)
	assert.Equal(t, 0, summary2.Migrated)
}

func TestMakeIssueIDFormat(t *testing.T) {
	id := MakeIssueID()
	assert.Regexp(t, `^issue_\d{8}_\d{6}_[a-z0-9]{4}$`, id)
	assert.NotEqual(t, id, MakeIssueID())
}
