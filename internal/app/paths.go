package app

import (
	"os"
	"path/filepath"
)

// Paths holds all resolved paths for the runchain home directory
type Paths struct {
	Home     string // .runchain directory
	StateDir string // .runchain/state — persisted run state
	ReposDir string // .runchain/repos — bootstrapped clones
}

// ResolvePaths returns all paths based on the RUNCHAIN_HOME environment variable.
// Callers pass the resolved values into constructors explicitly; nothing in the
// lower layers consults the environment.
func ResolvePaths() Paths {
	home := os.Getenv("RUNCHAIN_HOME")
	if home == "" {
		home = ".runchain"
	}

	return Paths{
		Home:     home,
		StateDir: filepath.Join(home, "state"),
		ReposDir: filepath.Join(home, "repos"),
	}
}
