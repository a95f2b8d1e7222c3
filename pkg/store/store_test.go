package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.jsonl")

	require.NoError(t, Append(path, map[string]any{"id": "a", "value": 1.0}))
	require.NoError(t, Append(path, map[string]any{"id": "b", "value": 2.0}))

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0]["id"])
	assert.Equal(t, "b", records[1]["id"])
}

func TestReadAllMissingFileReturnsEmpty(t *testing.T) {
	records, err := ReadAll(filepath.Join(t.TempDir(), "does-not-exist.jsonl"))
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestReadAllSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.jsonl")
	require.NoError(t, Append(path, map[string]any{"id": "a"}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, Append(path, map[string]any{"id": "b"}))

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestFindByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.jsonl")
	require.NoError(t, Append(path, map[string]any{"id": "a"}))
	require.NoError(t, Append(path, map[string]any{"id": "b"}))

	found, err := FindByID(path, "b", "id")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "b", found["id"])

	missing, err := FindByID(path, "z", "id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateAppliesPatchAndPreservesOtherRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.jsonl")
	require.NoError(t, Append(path, map[string]any{"id": "a", "status": "captured"}))
	require.NoError(t, Append(path, map[string]any{"id": "b", "status": "captured"}))

	found, err := Update(path, "a", "id", map[string]any{"status": "converged"})
	require.NoError(t, err)
	assert.True(t, found)

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "converged", records[0]["status"])
	assert.Equal(t, "captured", records[1]["status"])
}

func TestUpdateReturnsFalseWhenIDNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.jsonl")
	require.NoError(t, Append(path, map[string]any{"id": "a"}))

	found, err := Update(path, "missing", "id", map[string]any{"status": "converged"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWithLockSpansReadDecideWriteAsOneUnit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.jsonl")
	require.NoError(t, Append(path, map[string]any{"id": "a", "occurrence_count": 1.0}))

	err := WithLock(path, func() error {
		records, err := ReadAll(path)
		if err != nil {
			return err
		}
		require.Len(t, records, 1)
		_, err = UpdateUnlocked(path, "a", "id", map[string]any{"occurrence_count": 2.0})
		return err
	})
	require.NoError(t, err)

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2.0, records[0]["occurrence_count"])
}

func TestWithLockAppendUnlockedAddsNewRecordWhenNoneMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.jsonl")
	require.NoError(t, Append(path, map[string]any{"id": "a"}))

	err := WithLock(path, func() error {
		records, err := ReadAll(path)
		if err != nil {
			return err
		}
		for _, r := range records {
			if r["id"] == "b" {
				t.Fatal("unexpected existing record")
			}
		}
		return AppendUnlocked(path, map[string]any{"id": "b"})
	})
	require.NoError(t, err)

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestWithLockSerialisesConcurrentReadDecideWriteCallers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.jsonl")
	require.NoError(t, Append(path, map[string]any{"id": "a", "occurrence_count": 0.0}))

	const n = 25
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- WithLock(path, func() error {
				records, err := ReadAll(path)
				if err != nil {
					return err
				}
				count := records[0]["occurrence_count"].(float64)
				_, err = UpdateUnlocked(path, "a", "id", map[string]any{"occurrence_count": count + 1})
				return err
			})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, float64(n), records[0]["occurrence_count"])
}
