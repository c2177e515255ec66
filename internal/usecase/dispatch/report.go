package dispatch

import "github.com/runchain/runchain/internal/domain/run"

// TaskReport is the final outcome of one command in this invocation.
type TaskReport struct {
	Index    int
	Command  string
	TaskHash string
	Status   run.Status
	JobRef   string
	Error    string
	Skipped  bool // true when a prior invocation already completed it
}

// Report summarizes one invocation of the dispatch engine.
type Report struct {
	RunID     string
	Simulated bool
	Tasks     []TaskReport
}

// Completed returns the number of commands that ended Completed.
func (r *Report) Completed() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Status == run.StatusCompleted {
			n++
		}
	}
	return n
}

// Failed returns the number of commands that ended Failed.
func (r *Report) Failed() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Status == run.StatusFailed {
			n++
		}
	}
	return n
}
