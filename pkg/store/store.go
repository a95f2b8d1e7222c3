// Package store provides concurrency-safe append, id-lookup, and in-place
// update over append-only JSON-line files, guarded by a cross-process
// advisory lock on a sibling .lock file (spec C2 / §4.2).
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Sentinel errors for store operations, mirroring the teacher's
// pkg/queue/types.go sentinel-error idiom.
var (
	// ErrLockTimeout indicates the exclusive lock could not be acquired
	// after the bounded number of exponential-backoff retries.
	ErrLockTimeout = errors.New("store: could not acquire file lock after retries")

	// ErrNotSerializable indicates a record could not be marshalled to JSON.
	ErrNotSerializable = errors.New("store: record is not JSON-serialisable")
)

const (
	maxRetries      = 10
	initialDelay    = 100 * time.Millisecond
	maxRetryDelay   = 5 * time.Second
)

// WithLock acquires an exclusive advisory lock on path+".lock" using
// bounded exponential backoff, runs fn while holding it, then releases it.
// Callers that need to read, decide, and write as one atomic unit (for
// example: search for a duplicate record, then either append a new one or
// update the existing one) must do so inside a single WithLock call using
// the Unlocked variants below — calling ReadAll/Append/Update separately
// leaves a window between the read and the write where another process
// holding no lock of its own can interleave (spec §4.11 step 7, §5's
// linearization guarantee for duplicate detection and occurrence counts).
func WithLock(path string, fn func() error) error {
	return withLock(path, fn)
}

// withLock is the unexported implementation shared by WithLock and every
// single-call helper below.
func withLock(path string, fn func() error) error {
	lockPath := path + ".lock"
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create parent dir: %w", err)
		}
	}

	lock := flock.New(lockPath)
	delay := initialDelay
	for attempt := 0; attempt < maxRetries; attempt++ {
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("store: lock %s: %w", lockPath, err)
		}
		if locked {
			defer lock.Unlock()
			return fn()
		}
		if attempt < maxRetries-1 {
			time.Sleep(delay)
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
}

// Append atomically appends record as one JSON line to path, serialising
// concurrent writers from distinct processes through a sibling lock file.
// A successful append never produces a torn line: the record is marshalled
// in full before any I/O, then written with a single buffered Write call
// followed by Sync.
func Append(path string, record any) error {
	return withLock(path, func() error {
		return AppendUnlocked(path, record)
	})
}

// AppendUnlocked performs the same write as Append but without acquiring
// path's lock itself — the caller must already hold it via WithLock. Use
// this when an append must be atomic with a preceding read/decision, e.g.
// "search for a duplicate, append only if none exists" (spec §4.11 step 7).
func AppendUnlocked(path string, record any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open %s for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return f.Sync()
}

// ReadAll streams every line of path, parsing each as a JSON object. A line
// that fails to parse is logged and skipped, not fatal — the standard
// classify-and-continue policy for corrupt on-disk state (spec §7). A
// missing file returns an empty slice, not an error.
func ReadAll(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			slog.Warn("corrupt JSONL line, skipping", "path", path, "line", lineNum, "error", err)
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("store: scan %s: %w", path, err)
	}
	return records, nil
}

// FindByID performs a linear scan of path for the first record whose
// idField equals id, returning nil if none match.
func FindByID(path, id, idField string) (map[string]any, error) {
	records, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if v, ok := r[idField]; ok {
			if s, ok := v.(string); ok && s == id {
				return r, nil
			}
		}
	}
	return nil, nil
}

// Update applies a shallow patch to the first record in path whose idField
// equals id, under the same lock Append uses. It reads all records
// (preserving unparsable lines as position markers so the line count is
// never silently altered), applies the patch, then writes the entire file
// to a temporary sibling and renames it into place — so an update either
// commits the full new file or leaves the original intact; there is no
// partially-written intermediate state visible to other readers.
func Update(path, id, idField string, patch map[string]any) (bool, error) {
	var found bool
	err := withLock(path, func() error {
		var err error
		found, err = UpdateUnlocked(path, id, idField, patch)
		return err
	})
	return found, err
}

// UpdateUnlocked performs the same patch-and-rewrite as Update but without
// acquiring path's lock itself — the caller must already hold it via
// WithLock. Use this when an update must be atomic with a preceding
// read/decision, e.g. "search for a duplicate, update it if found" (spec
// §4.11 step 7).
func UpdateUnlocked(path, id, idField string, patch map[string]any) (bool, error) {
	found := false
	err := func() error {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("store: open %s: %w", path, err)
		}

		type line struct {
			raw    map[string]any
			parsed bool
		}
		var lines []line

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			text := bytesTrimSpace(scanner.Bytes())
			if len(text) == 0 {
				continue
			}
			var record map[string]any
			if err := json.Unmarshal(text, &record); err != nil {
				lines = append(lines, line{parsed: false})
				continue
			}
			if v, ok := record[idField]; ok {
				if s, ok := v.(string); ok && s == id {
					for k, v := range patch {
						record[k] = v
					}
					found = true
				}
			}
			lines = append(lines, line{raw: record, parsed: true})
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return fmt.Errorf("store: scan %s: %w", path, scanErr)
		}
		if !found {
			return nil
		}

		dir := filepath.Dir(path)
		tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
		if err != nil {
			return fmt.Errorf("store: create temp file: %w", err)
		}
		tmpPath := tmp.Name()

		writeErr := func() error {
			defer tmp.Close()
			w := bufio.NewWriter(tmp)
			for _, l := range lines {
				if !l.parsed {
					continue
				}
				b, err := json.Marshal(l.raw)
				if err != nil {
					return fmt.Errorf("store: marshal updated record: %w", err)
				}
				if _, err := w.Write(append(b, '\n')); err != nil {
					return err
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return tmp.Sync()
		}()
		if writeErr != nil {
			os.Remove(tmpPath)
			return writeErr
		}

		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("store: rename %s to %s: %w", tmpPath, path, err)
		}
		return nil
	}()
	if err != nil {
		return false, err
	}
	return found, nil
}

func bytesTrimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
