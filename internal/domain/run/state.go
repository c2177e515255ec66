package run

import (
	"fmt"
	"time"
)

// Status is the dispatch status of a single command.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status for a command index.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CommandState is the persisted record for one command index.
type CommandState struct {
	Command     string `json:"command"`
	Status      Status `json:"status"`
	JobRef      string `json:"job_ref,omitempty"`
	JobURL      string `json:"job_url,omitempty"`
	Error       string `json:"error,omitempty"`
	SubmittedAt string `json:"submitted_at,omitempty"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

// State is the persisted dispatch state of a run, keyed by run identifier.
// Unknown fields in a persisted document are ignored on load so future
// versions can add fields without breaking older binaries.
type State struct {
	RunID    string         `json:"run_id"`
	Commands []CommandState `json:"commands"`
	Meta     struct {
		UpdatedAt string `json:"updated_at"`
	} `json:"meta"`
}

// NewState returns a fresh all-Pending state for the given commands.
func NewState(runID string, commands []string) *State {
	st := &State{RunID: runID}
	st.Commands = make([]CommandState, len(commands))
	for i, cmd := range commands {
		st.Commands[i] = CommandState{Command: cmd, Status: StatusPending}
	}
	return st
}

// Validate checks structural integrity of a loaded state document.
func (st *State) Validate() error {
	if st.RunID == "" {
		return fmt.Errorf("missing run_id")
	}
	for i, cs := range st.Commands {
		if cs.Command == "" {
			return fmt.Errorf("commands[%d]: missing command", i)
		}
		if !cs.Status.Valid() {
			return fmt.Errorf("commands[%d]: unknown status %q", i, cs.Status)
		}
	}
	return nil
}

// Reconcile aligns the state with the spec's command list. Entries whose
// command text no longer matches are reset to Pending (the recorded history
// belongs to a different command); missing entries are appended as Pending.
// Extra persisted entries beyond the spec are kept but never dispatched.
func (st *State) Reconcile(commands []string) {
	for i, cmd := range commands {
		if i < len(st.Commands) {
			if st.Commands[i].Command != cmd {
				st.Commands[i] = CommandState{Command: cmd, Status: StatusPending}
			}
			continue
		}
		st.Commands = append(st.Commands, CommandState{Command: cmd, Status: StatusPending})
	}
}

// ResetFailed moves every Failed command back to Pending (retry-by-rerun).
func (st *State) ResetFailed() {
	for i := range st.Commands {
		if st.Commands[i].Status == StatusFailed {
			st.Commands[i] = CommandState{
				Command: st.Commands[i].Command,
				Status:  StatusPending,
			}
		}
	}
}

// MarkSubmitted records a successful submission with its backend job reference.
func (st *State) MarkSubmitted(i int, jobRef, jobURL string, now time.Time) {
	cs := &st.Commands[i]
	cs.Status = StatusSubmitted
	cs.JobRef = jobRef
	cs.JobURL = jobURL
	cs.Error = ""
	cs.SubmittedAt = now.UTC().Format(time.RFC3339)
	cs.FinishedAt = ""
}

// MarkCompleted records successful completion of a command.
func (st *State) MarkCompleted(i int, now time.Time) {
	cs := &st.Commands[i]
	cs.Status = StatusCompleted
	cs.Error = ""
	cs.FinishedAt = now.UTC().Format(time.RFC3339)
}

// MarkFailed records a failed submission or a backend-reported job failure.
func (st *State) MarkFailed(i int, reason string, now time.Time) {
	cs := &st.Commands[i]
	cs.Status = StatusFailed
	cs.Error = reason
	cs.FinishedAt = now.UTC().Format(time.RFC3339)
}

// Counts returns the number of commands per status.
func (st *State) Counts() (pending, submitted, completed, failed int) {
	for _, cs := range st.Commands {
		switch cs.Status {
		case StatusPending:
			pending++
		case StatusSubmitted:
			submitted++
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	return
}
