package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runchain/runchain/internal/app"
	"github.com/runchain/runchain/internal/domain/run"
	"github.com/runchain/runchain/internal/infra/backend"
	fsfile "github.com/runchain/runchain/internal/infra/fs"
	"github.com/runchain/runchain/internal/infra/gitops"
	"github.com/runchain/runchain/internal/infra/statestore"
)

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	return "", nil
}

type failingRunner struct{}

func (failingRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	return "fatal: could not read from remote repository", fmt.Errorf("exit status 128")
}

func newEngine(t *testing.T, fsys afero.Fs, be backend.Backend, runner gitops.CommandRunner) *Engine {
	t.Helper()
	if runner == nil {
		runner = noopRunner{}
	}
	return &Engine{
		Store:     statestore.New(fsys, "state"),
		Backend:   be,
		Bootstrap: &gitops.Bootstrapper{WorkDir: t.TempDir(), Runner: runner, Log: app.NopLogger{}},
		Log:       app.NopLogger{},
	}
}

func defaultOpts() Options {
	return Options{RetryFailed: true, JobPrefix: "runchain"}
}

func TestRunScenarioA_FreshStateCompletesAll(t *testing.T) {
	fsys := afero.NewMemMapFs()
	be := backend.NewRecording()
	e := newEngine(t, fsys, be, nil)
	spec := run.Spec{Commands: []string{"echo A", "echo B"}}

	report, err := e.Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)

	require.Len(t, report.Tasks, 2)
	assert.Equal(t, run.StatusCompleted, report.Tasks[0].Status)
	assert.Equal(t, run.StatusCompleted, report.Tasks[1].Status)
	assert.Equal(t, 2, report.Completed())
	assert.Equal(t, 0, report.Failed())
	assert.Len(t, be.Submits(), 2)

	// Persisted state reflects both completions.
	st, err := e.Store.Load(report.RunID, spec.Commands)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, st.Commands[0].Status)
	assert.Equal(t, run.StatusCompleted, st.Commands[1].Status)
}

func TestRunScenarioB_SingleFailureDoesNotStopSiblings(t *testing.T) {
	fsys := afero.NewMemMapFs()
	be := backend.NewRecording()
	be.Outcome = func(req backend.SubmitRequest) error {
		if req.Command == "echo A" {
			return errors.New("forced failure")
		}
		return nil
	}
	e := newEngine(t, fsys, be, nil)
	spec := run.Spec{Commands: []string{"echo A", "echo B"}}

	report, err := e.Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, run.StatusFailed, report.Tasks[0].Status)
	assert.NotEmpty(t, report.Tasks[0].Error)
	assert.Equal(t, run.StatusCompleted, report.Tasks[1].Status)
	assert.Equal(t, 1, report.Failed())
	assert.Len(t, be.Submits(), 2, "the failure is local; the sibling still dispatched")
}

func TestRunScenarioC_RerunIsIdempotent(t *testing.T) {
	fsys := afero.NewMemMapFs()
	spec := run.Spec{Commands: []string{"echo A", "echo B"}}

	first := backend.NewRecording()
	_, err := newEngine(t, fsys, first, nil).Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)
	require.Len(t, first.Submits(), 2)

	// Second invocation against the same state location.
	second := backend.NewRecording()
	report, err := newEngine(t, fsys, second, nil).Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)

	assert.Empty(t, second.Submits(), "completed commands must not be re-submitted")
	for _, task := range report.Tasks {
		assert.Equal(t, run.StatusCompleted, task.Status)
		assert.True(t, task.Skipped)
	}
}

func TestRunScenarioD_BootstrapFailureIsFatal(t *testing.T) {
	fsys := afero.NewMemMapFs()
	be := backend.NewRecording()
	e := newEngine(t, fsys, be, failingRunner{})
	spec := run.Spec{
		Commands: []string{"echo A"},
		Repo:     &run.RepoSpec{URL: "https://invalid.example/repo.git", Branch: "main"},
	}

	_, err := e.Run(context.Background(), spec, defaultOpts())

	var berr *gitops.BootstrapError
	require.True(t, errors.As(err, &berr))
	assert.Empty(t, be.Submits(), "no commands dispatched after bootstrap failure")

	// State is unchanged from prior (no file written).
	runID := run.Identify(spec)
	exists, statErr := afero.Exists(fsys, e.Store.Path(runID))
	require.NoError(t, statErr)
	assert.False(t, exists)
}

func TestRunDryRunPurity(t *testing.T) {
	fsys := afero.NewMemMapFs()
	spec := run.Spec{Commands: []string{"echo A", "echo B"}}

	// Seed real state first so purity means byte-identical, not just absent.
	seed := backend.NewRecording()
	seed.Outcome = func(req backend.SubmitRequest) error {
		if req.Command == "echo B" {
			return errors.New("boom")
		}
		return nil
	}
	report, err := newEngine(t, fsys, seed, nil).Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)

	statePath := statestore.New(fsys, "state").Path(report.RunID)
	before, err := afero.ReadFile(fsys, statePath)
	require.NoError(t, err)

	dry := backend.NewRecording()
	opts := defaultOpts()
	opts.DryRun = true
	dryReport, err := newEngine(t, fsys, dry, nil).Run(context.Background(), spec, opts)
	require.NoError(t, err)

	assert.True(t, dryReport.Simulated)
	assert.Equal(t, run.StatusCompleted, dryReport.Tasks[0].Status, "skip decision is simulated identically")
	assert.Equal(t, run.StatusCompleted, dryReport.Tasks[1].Status, "retry decision is simulated")

	after, err := afero.ReadFile(fsys, statePath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "dry run must leave persisted state byte-identical")
}

func TestRunDryRunFreshStateWritesNothing(t *testing.T) {
	fsys := afero.NewMemMapFs()
	spec := run.Spec{Commands: []string{"echo A"}}

	opts := defaultOpts()
	opts.DryRun = true
	report, err := newEngine(t, fsys, backend.NewRecording(), nil).Run(context.Background(), spec, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed())

	exists, err := afero.DirExists(fsys, "state")
	require.NoError(t, err)
	assert.False(t, exists, "dry run must not create the state location")
}

func TestRunCrashConsistencyResume(t *testing.T) {
	fsys := afero.NewMemMapFs()
	spec := run.Spec{Commands: []string{"echo A", "echo B", "echo C"}}
	runID := run.Identify(spec)

	// Simulate an invocation interrupted after command 0 was persisted:
	// persist Completed for index 0 only.
	store := statestore.New(fsys, "state")
	st, err := store.Load(runID, spec.Commands)
	require.NoError(t, err)
	st.MarkCompleted(0, time.Now())
	require.NoError(t, store.Save(runID, st))

	be := backend.NewRecording()
	report, err := newEngine(t, fsys, be, nil).Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)

	require.Len(t, be.Submits(), 2, "exactly the unfinished commands are dispatched")
	assert.Equal(t, "echo B", be.Submits()[0].Command)
	assert.Equal(t, "echo C", be.Submits()[1].Command)
	assert.True(t, report.Tasks[0].Skipped)
}

func TestRunStopOnFailure(t *testing.T) {
	fsys := afero.NewMemMapFs()
	be := backend.NewRecording()
	be.Outcome = func(req backend.SubmitRequest) error {
		if req.Command == "echo A" {
			return errors.New("forced failure")
		}
		return nil
	}
	e := newEngine(t, fsys, be, nil)
	spec := run.Spec{Commands: []string{"echo A", "echo B"}}

	opts := defaultOpts()
	opts.StopOnFailure = true
	report, err := e.Run(context.Background(), spec, opts)
	require.NoError(t, err)

	assert.Equal(t, run.StatusFailed, report.Tasks[0].Status)
	assert.Equal(t, run.StatusPending, report.Tasks[1].Status)
	assert.Len(t, be.Submits(), 1, "no dispatch after the halt")

	st, err := e.Store.Load(report.RunID, spec.Commands)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPending, st.Commands[1].Status)
}

func TestRunNoRetryFailed(t *testing.T) {
	fsys := afero.NewMemMapFs()
	spec := run.Spec{Commands: []string{"echo A"}}

	fail := backend.NewRecording()
	fail.Outcome = func(backend.SubmitRequest) error { return errors.New("boom") }
	_, err := newEngine(t, fsys, fail, nil).Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)

	// Re-invocation with retry disabled: Failed stays terminal.
	second := backend.NewRecording()
	opts := defaultOpts()
	opts.RetryFailed = false
	report, err := newEngine(t, fsys, second, nil).Run(context.Background(), spec, opts)
	require.NoError(t, err)

	assert.Empty(t, second.Submits())
	assert.Equal(t, run.StatusFailed, report.Tasks[0].Status)

	// And with retry enabled (the default policy) it is re-attempted.
	third := backend.NewRecording()
	report, err = newEngine(t, fsys, third, nil).Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)
	assert.Len(t, third.Submits(), 1)
	assert.Equal(t, run.StatusCompleted, report.Tasks[0].Status)
}

func TestRunReattachesToSubmittedJob(t *testing.T) {
	fsys := afero.NewMemMapFs()
	spec := run.Spec{Commands: []string{"echo A"}}
	runID := run.Identify(spec)

	be := backend.NewRecording()
	be.SetStatus("job-previous", backend.JobCompleted)

	store := statestore.New(fsys, "state")
	st, err := store.Load(runID, spec.Commands)
	require.NoError(t, err)
	st.MarkSubmitted(0, "job-previous", "", time.Now())
	require.NoError(t, store.Save(runID, st))

	report, err := newEngine(t, fsys, be, nil).Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)

	assert.Empty(t, be.Submits(), "re-attach must not re-submit")
	require.Len(t, be.Waits(), 1)
	assert.Equal(t, "job-previous", be.Waits()[0].ID)
	assert.Equal(t, run.StatusCompleted, report.Tasks[0].Status)
}

func TestRunReattachFallsBackToResubmit(t *testing.T) {
	fsys := afero.NewMemMapFs()
	spec := run.Spec{Commands: []string{"echo A"}}
	runID := run.Identify(spec)

	// The backend does not know "job-lost", so Wait errors and the engine
	// falls back to a fresh submit.
	be := backend.NewRecording()

	store := statestore.New(fsys, "state")
	st, err := store.Load(runID, spec.Commands)
	require.NoError(t, err)
	st.MarkSubmitted(0, "job-lost", "", time.Now())
	require.NoError(t, store.Save(runID, st))

	report, err := newEngine(t, fsys, be, nil).Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)

	assert.Len(t, be.Submits(), 1)
	assert.Equal(t, run.StatusCompleted, report.Tasks[0].Status)
}

func TestRunSubmitErrorRecordedAsFailed(t *testing.T) {
	fsys := afero.NewMemMapFs()
	be := backend.NewRecording()
	be.SubmitErr = func(req backend.SubmitRequest) error {
		return errors.New("connection refused")
	}
	e := newEngine(t, fsys, be, nil)
	spec := run.Spec{Commands: []string{"echo A"}}

	report, err := e.Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, run.StatusFailed, report.Tasks[0].Status)
	assert.Contains(t, report.Tasks[0].Error, "connection refused")

	st, err := e.Store.Load(report.RunID, spec.Commands)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, st.Commands[0].Status)
}

func TestRunCorruptStateIsFatal(t *testing.T) {
	fsys := afero.NewMemMapFs()
	spec := run.Spec{Commands: []string{"echo A"}}
	runID := run.Identify(spec)

	store := statestore.New(fsys, "state")
	require.NoError(t, afero.WriteFile(fsys, store.Path(runID), []byte("{{{"), 0o644))

	be := backend.NewRecording()
	_, err := newEngine(t, fsys, be, nil).Run(context.Background(), spec, defaultOpts())

	var corrupt *statestore.CorruptError
	require.True(t, errors.As(err, &corrupt))
	assert.Empty(t, be.Submits(), "no dispatch on corrupt state")
}

func TestRunLockContention(t *testing.T) {
	fsys := afero.NewMemMapFs()
	spec := run.Spec{Commands: []string{"echo A"}}
	runID := run.Identify(spec)

	store := statestore.New(fsys, "state")
	release, err := store.Lock(runID)
	require.NoError(t, err)
	defer release()

	_, err = newEngine(t, fsys, backend.NewRecording(), nil).Run(context.Background(), spec, defaultOpts())
	assert.Error(t, err, "a concurrent invocation of the same run must fail fast")
}

// stickyLockFs refuses to remove lock files, simulating a filesystem
// where the release-time cleanup fails.
type stickyLockFs struct {
	afero.Fs
}

func (f *stickyLockFs) Remove(name string) error {
	if strings.HasSuffix(name, ".lock") {
		return errors.New("remove blocked")
	}
	return f.Fs.Remove(name)
}

func TestRunWarnsWhenLockReleaseFails(t *testing.T) {
	fsys := &stickyLockFs{Fs: afero.NewMemMapFs()}
	spec := run.Spec{Commands: []string{"echo A"}}

	var logs bytes.Buffer
	e := newEngine(t, fsys, backend.NewRecording(), nil)
	e.Log = app.NewLogger(&logs, false)

	report, err := e.Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err, "a failed lock cleanup must not fail the run")
	assert.Equal(t, run.StatusCompleted, report.Tasks[0].Status)
	assert.Contains(t, logs.String(), "could not remove lock file",
		"the leftover lock must be visible in the log")
}

func TestRunResumesPastStaleLock(t *testing.T) {
	fsys := afero.NewMemMapFs()
	spec := run.Spec{Commands: []string{"echo A", "echo B"}}
	runID := run.Identify(spec)

	// A killed process never releases its lock: command 0 finished, the
	// lock file survived, command 1 is still pending.
	store := statestore.New(fsys, "state")
	st, err := store.Load(runID, spec.Commands)
	require.NoError(t, err)
	st.MarkCompleted(0, time.Now())
	require.NoError(t, store.Save(runID, st))

	deadHolder, err := json.Marshal(fsfile.LockInfo{
		PID:        1 << 30,
		AcquiredAt: time.Now().UTC().Format(time.RFC3339),
		ExpiresAt:  time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, "state/run-"+runID+".lock", deadHolder, 0o644))

	be := backend.NewRecording()
	report, err := newEngine(t, fsys, be, nil).Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err, "a lock from a dead process must not block the rerun")

	require.Len(t, be.Submits(), 1)
	assert.Equal(t, "echo B", be.Submits()[0].Command)
	assert.True(t, report.Tasks[0].Skipped)
	assert.Equal(t, run.StatusCompleted, report.Tasks[1].Status)
}

func TestRunEmptyCommandsBootstrapOnly(t *testing.T) {
	fsys := afero.NewMemMapFs()
	be := backend.NewRecording()
	runner := &countingRunner{}
	e := newEngine(t, fsys, be, runner)
	spec := run.Spec{
		Repo: &run.RepoSpec{URL: "https://example.com/r.git", Branch: "main", Install: "make"},
	}

	report, err := e.Run(context.Background(), spec, defaultOpts())
	require.NoError(t, err)

	assert.Empty(t, report.Tasks)
	assert.Empty(t, be.Submits())
	assert.Greater(t, runner.calls, 0, "bootstrap still runs with no commands")
}

type countingRunner struct{ calls int }

func (c *countingRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	c.calls++
	return "", nil
}
