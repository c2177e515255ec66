// Package statestore persists per-run dispatch state as one JSON document
// per run identifier under a caller-supplied root directory.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/runchain/runchain/internal/domain/run"
	"github.com/runchain/runchain/internal/infra/fs"
)

// CorruptError is returned when a persisted state document exists but is
// structurally invalid. History is never silently discarded; the caller
// decides whether to reset by removing the file.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store reads and writes run state. The root directory is supplied by the
// caller; the store only decides layout and access.
type Store struct {
	fsys afero.Fs
	root string
}

// New creates a Store rooted at the given directory.
func New(fsys afero.Fs, root string) *Store {
	return &Store{fsys: fsys, root: root}
}

// Root returns the state root directory.
func (s *Store) Root() string { return s.root }

// Path returns the state file location for a run identifier.
func (s *Store) Path(runID string) string {
	return filepath.Join(s.root, "run-"+runID+".json")
}

// Load reads the state for runID, returning a fresh all-Pending state when
// no file exists yet. The loaded state is reconciled against the spec's
// command list. Unknown JSON fields are ignored for forward compatibility;
// a structurally invalid document yields a *CorruptError.
func (s *Store) Load(runID string, commands []string) (*run.State, error) {
	path := s.Path(runID)
	b, err := afero.ReadFile(s.fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return run.NewState(runID, commands), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var st run.State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	if err := st.Validate(); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}

	st.Reconcile(commands)
	return &st, nil
}

// Save persists the state atomically (write-to-temp-then-rename).
func (s *Store) Save(runID string, st *run.State) error {
	st.Meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return fs.AtomicWriteJSON(s.fsys, s.Path(runID), st)
}

// lockTTL bounds how long a lock file left behind by a crashed invocation
// can block a rerun of the same run identifier.
const lockTTL = 10 * time.Minute

// Lock acquires the advisory lock for a run so two live invocations of the
// same run identifier fail fast instead of interleaving writes. A lock left
// by a dead or expired holder is treated as stale and taken over.
func (s *Store) Lock(runID string) (release func() error, err error) {
	return fs.AcquireLock(s.fsys, filepath.Join(s.root, "run-"+runID+".lock"), lockTTL)
}
