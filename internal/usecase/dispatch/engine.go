// Package dispatch orchestrates a run: identify it, load its state,
// bootstrap the environment, and submit each command in order exactly once.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/runchain/runchain/internal/app"
	"github.com/runchain/runchain/internal/domain/run"
	"github.com/runchain/runchain/internal/infra/backend"
	"github.com/runchain/runchain/internal/infra/gitops"
	"github.com/runchain/runchain/internal/infra/statestore"
)

// Options controls a single invocation of the engine.
type Options struct {
	// DryRun simulates every dispatch decision without persisting state
	// or touching the backend for real.
	DryRun bool

	// StopOnFailure halts dispatch on the first Failed transition;
	// remaining commands stay Pending.
	StopOnFailure bool

	// RetryFailed resets previously Failed commands to Pending at load
	// time (retry-by-rerun). When false, Failed stays terminal.
	RetryFailed bool

	// JobPrefix names backend jobs: "<prefix>-<taskhash>".
	JobPrefix string
}

// Engine sequences bootstrap and per-command dispatch for one run.
// Commands are dispatched strictly in order, one at a time, and every
// status transition is persisted before the next command is considered.
type Engine struct {
	Store     *statestore.Store
	Backend   backend.Backend
	Bootstrap *gitops.Bootstrapper
	Log       app.Logger
	Now       func() time.Time // defaults to time.Now
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Run executes the full flow for a spec and returns the per-command report.
// The returned error is non-nil only for run-fatal conditions (corrupt
// state, bootstrap failure, lock contention, a failed state write);
// per-command failures are recorded in the report and in persisted state.
func (e *Engine) Run(ctx context.Context, spec run.Spec, opts Options) (*Report, error) {
	runID := run.Identify(spec)
	e.Log.Info("run %s: %d command(s)", runID, len(spec.Commands))
	if opts.DryRun {
		e.Log.Info("dry run — no jobs will be submitted and no state will be written")
	}

	st, err := e.Store.Load(runID, spec.Commands)
	if err != nil {
		return nil, err
	}
	if opts.RetryFailed {
		st.ResetFailed()
	}

	if !opts.DryRun {
		release, err := e.Store.Lock(runID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if rerr := release(); rerr != nil {
				e.Log.Warn("run %s: could not remove lock file: %v", runID, rerr)
			}
		}()
	}

	if _, err := e.Bootstrap.Bootstrap(ctx, spec.Repo, opts.DryRun); err != nil {
		return nil, err
	}

	report := &Report{RunID: runID, Simulated: opts.DryRun}
	halted := false

	for i := 0; i < len(spec.Commands); i++ {
		cs := &st.Commands[i]
		task := TaskReport{
			Index:    i,
			Command:  cs.Command,
			TaskHash: run.TaskHash(cs.Command, runID),
		}

		switch {
		case halted:
			task.Status = cs.Status

		case cs.Status == run.StatusCompleted:
			e.Log.Info("task %d/%d already completed — skipping", i+1, len(spec.Commands))
			task.Status = run.StatusCompleted
			task.Skipped = true
			task.JobRef = cs.JobRef

		case cs.Status == run.StatusFailed && !opts.RetryFailed:
			e.Log.Warn("task %d/%d previously failed and retry is disabled — skipping", i+1, len(spec.Commands))
			task.Status = run.StatusFailed
			task.Error = cs.Error
			task.Skipped = true
			task.JobRef = cs.JobRef

		default:
			if err := e.dispatchOne(ctx, runID, st, i, opts, &task); err != nil {
				return nil, err
			}
		}

		report.Tasks = append(report.Tasks, task)

		if task.Status == run.StatusFailed && opts.StopOnFailure && !halted {
			e.Log.Warn("stopping on first failure; remaining commands stay pending")
			halted = true
		}
	}

	e.Log.Info("run %s finished: %d/%d completed", runID, report.Completed(), len(report.Tasks))
	return report, nil
}

// dispatchOne drives a single command index to a terminal status, persisting
// each transition immediately so an interruption never loses progress.
func (e *Engine) dispatchOne(ctx context.Context, runID string, st *run.State, i int, opts Options, task *TaskReport) error {
	cs := &st.Commands[i]

	// A previously submitted job may still be running; re-attach to it
	// instead of double-submitting. If the backend no longer knows the
	// reference, fall through to a fresh submit.
	if cs.Status == run.StatusSubmitted && cs.JobRef != "" {
		e.Log.Info("task %d: re-attaching to job %s", i+1, cs.JobRef)
		status, err := e.Backend.Wait(ctx, backend.JobRef{ID: cs.JobRef, URL: cs.JobURL})
		if err == nil {
			task.JobRef = cs.JobRef
			return e.finish(runID, st, i, status, opts, task)
		}
		e.Log.Warn("task %d: could not check previous job: %v — re-submitting", i+1, err)
	}

	req := backend.SubmitRequest{
		Name:        opts.JobPrefix + "-" + task.TaskHash,
		Command:     cs.Command,
		TaskHash:    task.TaskHash,
		Description: fmt.Sprintf("(runchain:%s)", task.TaskHash),
	}

	ref, err := e.Backend.Submit(ctx, req)
	if err != nil {
		serr := &backend.SubmitError{Command: cs.Command, Err: err}
		e.Log.Error("task %d: %v", i+1, serr)
		st.MarkFailed(i, serr.Error(), e.now())
		task.Status = run.StatusFailed
		task.Error = serr.Error()
		return e.persist(runID, st, opts)
	}

	e.Log.Info("task %d: submitted as %s (job %s)", i+1, req.Name, ref.ID)
	st.MarkSubmitted(i, ref.ID, ref.URL, e.now())
	if err := e.persist(runID, st, opts); err != nil {
		return err
	}
	task.JobRef = ref.ID

	status, err := e.Backend.Wait(ctx, ref)
	if err != nil {
		st.MarkFailed(i, fmt.Sprintf("wait for job %s: %v", ref.ID, err), e.now())
		task.Status = run.StatusFailed
		task.Error = st.Commands[i].Error
		return e.persist(runID, st, opts)
	}

	return e.finish(runID, st, i, status, opts, task)
}

func (e *Engine) finish(runID string, st *run.State, i int, status backend.JobStatus, opts Options, task *TaskReport) error {
	if status == backend.JobCompleted {
		e.Log.Info("task %d: completed", i+1)
		st.MarkCompleted(i, e.now())
		task.Status = run.StatusCompleted
		return e.persist(runID, st, opts)
	}

	reason := fmt.Sprintf("job ended with status %s", status)
	e.Log.Error("task %d: %s", i+1, reason)
	st.MarkFailed(i, reason, e.now())
	task.Status = run.StatusFailed
	task.Error = reason
	return e.persist(runID, st, opts)
}

// persist writes the state after a transition. Dry-run never writes.
// A failed write is run-fatal: continuing would silently break the
// crash-consistency guarantee.
func (e *Engine) persist(runID string, st *run.State, opts Options) error {
	if opts.DryRun {
		return nil
	}
	if err := e.Store.Save(runID, st); err != nil {
		return fmt.Errorf("persist state for run %s: %w", runID, err)
	}
	return nil
}
