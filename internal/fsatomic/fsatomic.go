// Package fsatomic provides the atomic file primitives every writer in this
// module goes through: temp-file-and-rename writes, advisory-locked appends,
// and read-modify-write sections guarded by a dedicated lock file.
//
// Multiple hook processes can run concurrently on the same project, so a
// reader must only ever observe the old content or the new content of a
// file, never a torn state.
package fsatomic

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// WriteFile writes data to path via a temp file in the same directory
// followed by an atomic rename. On failure the temp file is removed and the
// previous content of path is untouched.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// AppendWithLock appends data to path while holding an exclusive advisory
// lock on the file itself. Concurrent appenders serialize; a reader without
// the lock may see the file mid-growth but never interleaved writes.
func AppendWithLock(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	lock := flock.New(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer func() {
		_ = lock.Unlock() //nolint:errcheck // unlock best-effort
	}()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // sync already called, close best-effort
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return f.Sync()
}

// WithExclusiveLock runs fn while holding an exclusive lock on a dedicated
// lock file (dataPath + ".lock"). The data file itself is free to be
// replaced atomically inside fn, so read-modify-write sequences never
// observe a torn state even if a process dies mid-write.
//
// If the lock cannot be acquired the error is returned without running fn;
// callers are expected to fall back to a less destructive path (typically a
// plain locked append).
func WithExclusiveLock(dataPath string, fn func() error) error {
	lockPath := dataPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return err
	}

	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = lock.Unlock() //nolint:errcheck // unlock best-effort
	}()

	return fn()
}

// ReadInt reads a single ASCII decimal integer from path. Missing files and
// unparseable content read as 0.
func ReadInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return n
}

// WriteInt atomically writes a single ASCII decimal integer to path.
func WriteInt(path string, n int) error {
	return WriteFile(path, []byte(strconv.Itoa(n)))
}
