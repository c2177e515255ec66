// Package gitops prepares the execution environment for a run: clone the
// configured repository and run its install command, once, before any
// command is dispatched.
package gitops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/runchain/runchain/internal/app"
	"github.com/runchain/runchain/internal/domain/run"
)

// BootstrapError reports a failed clone, checkout, or install step.
// It is fatal to the whole run: no commands are dispatched after it.
type BootstrapError struct {
	Stage  string // "clone", "checkout", "install"
	Output string // captured combined output of the failing command
	Err    error
}

func (e *BootstrapError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("bootstrap %s: %v\n%s", e.Stage, e.Err, strings.TrimSpace(e.Output))
	}
	return fmt.Sprintf("bootstrap %s: %v", e.Stage, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// CommandRunner executes one external command in a directory and returns
// its combined output. Swappable for a recording double in tests.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Result describes what the bootstrapper did (or would do, in dry-run).
type Result struct {
	Path      string   // clone location; empty when no repo is configured
	Steps     []string // human-readable description of the executed steps
	Simulated bool     // true when dry-run skipped execution
}

// Bootstrapper clones and installs a repository under WorkDir.
type Bootstrapper struct {
	WorkDir string
	Runner  CommandRunner
	Log     app.Logger
}

// New creates a Bootstrapper using the real command runner.
func New(workDir string, log app.Logger) *Bootstrapper {
	return &Bootstrapper{WorkDir: workDir, Runner: execRunner{}, Log: log}
}

// Bootstrap performs the clone + install prerequisite. A nil repo is a
// no-op success. In dry-run the planned steps are described but nothing
// executes. Any failure is returned as a *BootstrapError.
func (b *Bootstrapper) Bootstrap(ctx context.Context, repo *run.RepoSpec, dryRun bool) (*Result, error) {
	if repo == nil {
		return &Result{}, nil
	}

	path := repo.ClonePath(b.WorkDir)
	res := &Result{Path: path, Simulated: dryRun}
	res.Steps = planSteps(repo, path)

	if dryRun {
		for _, step := range res.Steps {
			b.Log.Info("dry run — would run: %s", step)
		}
		return res, nil
	}

	fresh := !cloneExists(path)
	if fresh {
		b.Log.Info("cloning %s into %s", repo.URL, path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &BootstrapError{Stage: "clone", Err: err}
		}
		if out, err := b.Runner.Run(ctx, "", "git", "clone", repo.URL, path); err != nil {
			return nil, &BootstrapError{Stage: "clone", Output: out, Err: err}
		}
	} else {
		b.Log.Info("reusing existing clone at %s", path)
	}

	if err := b.checkout(ctx, repo, path, fresh); err != nil {
		return nil, err
	}

	if repo.Install != "" {
		b.Log.Info("installing %s: %s", repo.Name(), repo.Install)
		if out, err := b.Runner.Run(ctx, path, "sh", "-c", repo.Install); err != nil {
			return nil, &BootstrapError{Stage: "install", Output: out, Err: err}
		}
	}

	return res, nil
}

func (b *Bootstrapper) checkout(ctx context.Context, repo *run.RepoSpec, path string, fresh bool) error {
	switch {
	case repo.Commit != "":
		if out, err := b.Runner.Run(ctx, path, "git", "checkout", repo.Commit); err != nil {
			return &BootstrapError{Stage: "checkout", Output: out, Err: err}
		}
	case repo.Branch != "":
		if !fresh {
			if out, err := b.Runner.Run(ctx, path, "git", "fetch", "origin", repo.Branch); err != nil {
				return &BootstrapError{Stage: "checkout", Output: out, Err: err}
			}
		}
		if out, err := b.Runner.Run(ctx, path, "git", "checkout", repo.Branch); err != nil {
			return &BootstrapError{Stage: "checkout", Output: out, Err: err}
		}
		if !fresh {
			if out, err := b.Runner.Run(ctx, path, "git", "pull", "--ff-only"); err != nil {
				return &BootstrapError{Stage: "checkout", Output: out, Err: err}
			}
		}
	}
	return nil
}

func planSteps(repo *run.RepoSpec, path string) []string {
	steps := []string{fmt.Sprintf("git clone %s %s", repo.URL, path)}
	if repo.Commit != "" {
		steps = append(steps, fmt.Sprintf("git checkout %s", repo.Commit))
	} else if repo.Branch != "" {
		steps = append(steps, fmt.Sprintf("git checkout %s", repo.Branch))
	}
	if repo.Install != "" {
		steps = append(steps, fmt.Sprintf("sh -c %q (in %s)", repo.Install, path))
	}
	return steps
}

func cloneExists(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}
