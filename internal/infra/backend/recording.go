package backend

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Recording is a Backend that records calls instead of performing them.
// It serves dry-run (no side effects on any remote system) and the test
// suite (assert on exactly which commands were submitted).
type Recording struct {
	// Outcome, when set, decides the final status of a submitted command.
	// A nil return means the job completes; an error marks it failed with
	// that reason. Unset, every job completes.
	Outcome func(req SubmitRequest) error

	// SubmitErr, when set, makes Submit itself fail for matching requests.
	SubmitErr func(req SubmitRequest) error

	mu       sync.Mutex
	entropy  *ulid.MonotonicEntropy
	submits  []SubmitRequest
	waits    []JobRef
	statuses map[string]JobStatus
}

// NewRecording creates a recording backend where every job completes.
func NewRecording() *Recording {
	return &Recording{
		entropy:  ulid.Monotonic(rand.Reader, 0),
		statuses: make(map[string]JobStatus),
	}
}

// Submit records the request and assigns a ULID job reference.
func (r *Recording) Submit(ctx context.Context, req SubmitRequest) (JobRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.SubmitErr != nil {
		if err := r.SubmitErr(req); err != nil {
			return JobRef{}, err
		}
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
	status := JobCompleted
	if r.Outcome != nil {
		if err := r.Outcome(req); err != nil {
			status = JobFailed
		}
	}

	r.submits = append(r.submits, req)
	r.statuses[id] = status
	return JobRef{ID: id}, nil
}

// Wait returns the recorded outcome for a previously submitted job.
func (r *Recording) Wait(ctx context.Context, ref JobRef) (JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.waits = append(r.waits, ref)
	status, ok := r.statuses[ref.ID]
	if !ok {
		return "", fmt.Errorf("unknown job %q", ref.ID)
	}
	return status, nil
}

// SetStatus pre-seeds a job reference with a status, for re-attach tests.
func (r *Recording) SetStatus(id string, status JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
}

// Submits returns a copy of every recorded submit request.
func (r *Recording) Submits() []SubmitRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SubmitRequest, len(r.submits))
	copy(out, r.submits)
	return out
}

// Waits returns a copy of every recorded wait call.
func (r *Recording) Waits() []JobRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobRef, len(r.waits))
	copy(out, r.waits)
	return out
}
