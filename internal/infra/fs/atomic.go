// Package fs provides small filesystem primitives shared by the
// persistence layer: atomic writes and a simple advisory lock.
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// AtomicWriteFile writes data to path atomically using temp file + rename.
// The file is either fully written or not written at all; a reader never
// observes a partial document.
func AtomicWriteFile(fsys afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Create the temp file in the same directory so the rename stays atomic
	tmpFile, err := afero.TempFile(fsys, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer fsys.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := fsys.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	return nil
}

// AtomicWriteJSON marshals v with indentation and writes it atomically.
func AtomicWriteJSON(fsys afero.Fs, path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return AtomicWriteFile(fsys, path, append(b, '\n'))
}

// LockInfo is the content of a lock file: enough to tell a live holder
// from the leftovers of a crashed one.
type LockInfo struct {
	PID        int    `json:"pid"`
	AcquiredAt string `json:"acquired_at"` // UTC RFC3339
	ExpiresAt  string `json:"expires_at"`  // UTC RFC3339
	Hostname   string `json:"hostname"`
}

// AcquireLock creates lockPath exclusively and returns a release function.
// A second acquire of the same path fails until the first is released, which
// keeps two live invocations from mutating the same state file. A lock whose
// holder is gone or whose TTL has elapsed is stale: it is removed and
// re-acquired, so a crashed invocation never wedges the next one.
func AcquireLock(fsys afero.Fs, lockPath string, ttl time.Duration) (release func() error, err error) {
	if err := fsys.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	if existing, err := readLockFile(fsys, lockPath); err == nil {
		if !lockExpired(existing) {
			return nil, fmt.Errorf("another invocation holds the lock (pid %d since %s): %s",
				existing.PID, existing.AcquiredAt, lockPath)
		}
		// Stale lock from a crashed run; remove it so O_EXCL can succeed.
		_ = fsys.Remove(lockPath)
	} else if !os.IsNotExist(err) {
		// Unreadable lock content protects nothing; treat it as stale.
		_ = fsys.Remove(lockPath)
	}

	hostname, _ := os.Hostname()
	now := time.Now().UTC()
	info := LockInfo{
		PID:        os.Getpid(),
		AcquiredAt: now.Format(time.RFC3339),
		ExpiresAt:  now.Add(ttl).Format(time.RFC3339),
		Hostname:   hostname,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("serialize lock info: %w", err)
	}

	f, err := fsys.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("another invocation holds the lock: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fsys.Remove(lockPath)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(lockPath)
		return nil, fmt.Errorf("close lock file: %w", err)
	}

	return func() error {
		err := fsys.Remove(lockPath)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}, nil
}

func readLockFile(fsys afero.Fs, lockPath string) (*LockInfo, error) {
	b, err := afero.ReadFile(fsys, lockPath)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// lockExpired reports whether a lock no longer protects anything: its
// holder process is gone, its TTL has elapsed, or its content is unreadable.
func lockExpired(info *LockInfo) bool {
	expires, err := time.Parse(time.RFC3339, info.ExpiresAt)
	if err != nil {
		return true
	}
	if !processRunning(info.PID) {
		return true
	}
	return time.Now().UTC().After(expires)
}

// processRunning checks the holder with signal 0. EPERM still means the
// process exists, just under another user.
func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
