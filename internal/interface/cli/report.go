package cli

import (
	"fmt"
	"io"

	"github.com/runchain/runchain/internal/domain/run"
	"github.com/runchain/runchain/internal/usecase/dispatch"
)

// printReport writes the per-command summary table for one invocation.
func printReport(w io.Writer, report *dispatch.Report) {
	header := fmt.Sprintf("Run %s", report.RunID)
	if report.Simulated {
		header += " (dry run)"
	}
	fmt.Fprintln(w, header)

	fmt.Fprintf(w, "  %-4s %-14s %-10s %s\n", "#", "HASH", "STATUS", "COMMAND")
	for _, task := range report.Tasks {
		status := string(task.Status)
		if task.Skipped {
			status += " *"
		}
		fmt.Fprintf(w, "  %-4d %-14s %-10s %s\n",
			task.Index+1, task.TaskHash, status, truncate(task.Command, 80))
		if task.Error != "" {
			fmt.Fprintf(w, "       error: %s\n", task.Error)
		}
	}

	fmt.Fprintf(w, "SUMMARY: commands=%d completed=%d failed=%d\n",
		len(report.Tasks), report.Completed(), report.Failed())
}

// printState writes the persisted status table without dispatching.
func printState(w io.Writer, st *run.State) {
	fmt.Fprintf(w, "Run %s\n", st.RunID)
	fmt.Fprintf(w, "  %-4s %-10s %-28s %s\n", "#", "STATUS", "JOB", "COMMAND")
	for i, cs := range st.Commands {
		job := cs.JobRef
		if job == "" {
			job = "-"
		}
		fmt.Fprintf(w, "  %-4d %-10s %-28s %s\n", i+1, cs.Status, job, truncate(cs.Command, 80))
		if cs.Error != "" {
			fmt.Fprintf(w, "       error: %s\n", cs.Error)
		}
	}
	pending, submitted, completed, failed := st.Counts()
	fmt.Fprintf(w, "SUMMARY: pending=%d submitted=%d completed=%d failed=%d\n",
		pending, submitted, completed, failed)
}

// truncate shortens s to at most max characters, never splitting a
// multi-byte rune.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
