// Package run holds the core data model for a single run: the immutable
// run spec, the derived run identifier, and the persisted dispatch state.
package run

import (
	"path/filepath"
	"strings"
)

// RepoSpec describes a git repository to clone and install before any
// command is dispatched. Treated as a single atomic prerequisite.
type RepoSpec struct {
	URL     string
	Branch  string
	Commit  string
	Install string
	Path    string
}

// Name returns the repository basename without a trailing .git suffix.
func (r RepoSpec) Name() string {
	name := strings.TrimRight(r.URL, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".git")
}

// ClonePath resolves the on-disk clone location under workDir,
// unless an explicit path was configured.
func (r RepoSpec) ClonePath(workDir string) string {
	if r.Path != "" {
		return r.Path
	}
	return filepath.Join(workDir, r.Name())
}

// Spec is the immutable description of a run: an ordered command sequence,
// an optional repository prerequisite, and an optional identifier override.
// Command order is significant; commands are never reordered.
type Spec struct {
	Commands     []string
	Repo         *RepoSpec
	HashOverride string
}
