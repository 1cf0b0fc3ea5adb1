package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// commandContext returns the command's context, or a background context
// when the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func recordEvent(eventType string, data map[string]any) {
	if Events == nil {
		return
	}
	_ = Events.LogEvent(eventType, data)
}

// statusLine renders a one-line job status such as "running (40%)".
func statusLine(job models.Job) string {
	switch job.Status {
	case models.JobQueued, models.JobRunning:
		return fmt.Sprintf("%s (%.0f%%)", job.Status, job.Progress)
	case models.JobError:
		if job.Error != "" {
			return fmt.Sprintf("%s: %s", job.Status, job.Error)
		}
	}
	return string(job.Status)
}

func printJob(job models.Job) {
	fmt.Printf("  %-10s %s\n", "Job:", job.JobID)
	fmt.Printf("  %-10s %s\n", "Status:", statusLine(job))
	if len(job.Speakers) > 0 {
		fmt.Printf("  %-10s %s\n", "Speakers:", strings.Join(job.Speakers, ", "))
	}
	if job.SelectedSpeaker != "" {
		fmt.Printf("  %-10s %s\n", "Speaker:", job.SelectedSpeaker)
	}
	if job.Report != nil && job.Report.Summary != "" {
		fmt.Printf("  %-10s %s\n", "Summary:", job.Report.Summary)
	}
}

// nextStepHint suggests the command that continues from a terminal job.
func nextStepHint(job models.Job) string {
	switch job.Status {
	case models.JobAwaitingSelection:
		return fmt.Sprintf("Pick a speaker with: mtalk select %s", job.JobID)
	case models.JobDone:
		return fmt.Sprintf("Review the persona with: mtalk review %s", job.JobID)
	}
	return ""
}
