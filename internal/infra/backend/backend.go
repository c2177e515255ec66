// Package backend is the narrow integration point with the external
// batch-compute platform: submit a unit of work, wait for it to finish.
// The dispatch engine depends only on the Backend interface so the real
// client can be swapped for a recording double in dry-run and tests.
package backend

import (
	"context"
	"fmt"
)

// JobStatus is the backend-reported status of a submitted job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCanceled
}

// JobRef identifies a submitted job on the backend.
type JobRef struct {
	ID  string
	URL string
}

// SubmitRequest describes one unit of work to submit.
type SubmitRequest struct {
	Name        string // backend job name, e.g. "runchain-<taskhash>"
	Command     string
	TaskHash    string
	Description string
}

// SubmitError records a failure to submit a single command, or a
// backend-reported failure of the submitted job. It is local to that
// command: sibling commands keep dispatching unless stop-on-failure is set.
type SubmitError struct {
	Command string
	Err     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit %q: %v", e.Command, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Backend submits work to the external compute platform. Polling policy
// (interval, timeout) belongs to the implementation; Wait must surface a
// clear failure rather than hang indefinitely when the context is canceled.
type Backend interface {
	Submit(ctx context.Context, req SubmitRequest) (JobRef, error)
	Wait(ctx context.Context, ref JobRef) (JobStatus, error)
}
