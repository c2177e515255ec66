package fs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteJSON(t *testing.T) {
	fsys := afero.NewMemMapFs()
	path := filepath.Join("state", "run-abc.json")

	err := AtomicWriteJSON(fsys, path, map[string]any{"run_id": "abc"})
	require.NoError(t, err)

	b, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "abc", decoded["run_id"])

	// No temp files left behind
	entries, err := afero.ReadDir(fsys, "state")
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestAtomicWriteFileOverwrites(t *testing.T) {
	fsys := afero.NewMemMapFs()
	path := "state/out.json"

	require.NoError(t, AtomicWriteFile(fsys, path, []byte("first")))
	require.NoError(t, AtomicWriteFile(fsys, path, []byte("second")))

	b, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))
}

func TestAcquireLock(t *testing.T) {
	fsys := afero.NewMemMapFs()
	lockPath := "state/run-abc.lock"

	release, err := AcquireLock(fsys, lockPath, time.Minute)
	require.NoError(t, err)

	_, err = AcquireLock(fsys, lockPath, time.Minute)
	assert.Error(t, err, "second acquire must fail while the lock is held")

	require.NoError(t, release())

	release2, err := AcquireLock(fsys, lockPath, time.Minute)
	require.NoError(t, err, "lock is reusable after release")
	require.NoError(t, release2())
}

func TestAcquireLockWritesHolderInfo(t *testing.T) {
	fsys := afero.NewMemMapFs()
	lockPath := "state/run-abc.lock"

	release, err := AcquireLock(fsys, lockPath, time.Minute)
	require.NoError(t, err)
	defer release()

	b, err := afero.ReadFile(fsys, lockPath)
	require.NoError(t, err)

	var info LockInfo
	require.NoError(t, json.Unmarshal(b, &info))
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.AcquiredAt)
	assert.NotEmpty(t, info.ExpiresAt)
}

func TestAcquireLockTakesOverStaleLocks(t *testing.T) {
	// A pid far beyond pid_max never exists, so signal 0 reports the
	// holder gone regardless of the expiry timestamp.
	deadHolder := LockInfo{
		PID:        1 << 30,
		AcquiredAt: time.Now().UTC().Format(time.RFC3339),
		ExpiresAt:  time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
		Hostname:   "elsewhere",
	}
	expiredHolder := LockInfo{
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339),
		ExpiresAt:  time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
		Hostname:   "here",
	}

	tests := []struct {
		name string
		info LockInfo
	}{
		{"holder process gone", deadHolder},
		{"ttl elapsed", expiredHolder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			lockPath := "state/run-abc.lock"

			b, err := json.Marshal(tt.info)
			require.NoError(t, err)
			require.NoError(t, fsys.MkdirAll("state", 0o755))
			require.NoError(t, afero.WriteFile(fsys, lockPath, b, 0o644))

			release, err := AcquireLock(fsys, lockPath, time.Minute)
			require.NoError(t, err, "stale lock must be taken over, not block")
			require.NoError(t, release())
		})
	}
}

func TestAcquireLockUnreadableLockIsStale(t *testing.T) {
	fsys := afero.NewMemMapFs()
	lockPath := "state/run-abc.lock"
	require.NoError(t, fsys.MkdirAll("state", 0o755))
	require.NoError(t, afero.WriteFile(fsys, lockPath, []byte("not json"), 0o644))

	release, err := AcquireLock(fsys, lockPath, time.Minute)
	require.NoError(t, err)
	require.NoError(t, release())
}
