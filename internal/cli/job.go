package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

var (
	jobStatusJSON bool
	jobWatchForce bool
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect analysis jobs",
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Fetch the current state of a job",
	Long: `Fetch one snapshot of a job. Malformed backend responses are normalized, and
a job that cannot be fetched is reported with status error.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Poller == nil {
			return fmt.Errorf("job poller not initialized")
		}

		job, err := Poller.Poll(commandContext(cmd), args[0])
		if err != nil {
			return fmt.Errorf("fetching job %s: %w", args[0], err)
		}

		if jobStatusJSON {
			data, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting job as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		printJob(job)
		if hint := nextStepHint(job); hint != "" {
			fmt.Printf("\n%s\n", hint)
		}
		return nil
	},
}

var jobWatchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Poll a job until it needs input or finishes",
	Long: `Poll a job until it reaches a terminal state, printing every status change.

A job waiting for speaker selection ends the watch unless --force is given, in
which case polling continues until the job is done or fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchJob(commandContext(cmd), args[0], jobWatchForce)
	},
}

func watchJob(ctx context.Context, jobID string, force bool) error {
	if Poller == nil {
		return fmt.Errorf("job poller not initialized")
	}
	Poller.SetForcePolling(force)
	defer Poller.SetForcePolling(false)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var (
		last models.Job
		seen bool
	)
	err := Poller.Run(ctx, jobID, func(job models.Job) {
		if !seen || job.Status != last.Status || job.Progress != last.Progress {
			fmt.Printf("  %s  %s\n", time.Now().Format("15:04:05"), statusLine(job))
		}
		last, seen = job, true
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("watching job %s: %w", jobID, err)
	}
	if !seen {
		return nil
	}

	fmt.Println()
	printJob(last)
	if hint := nextStepHint(last); hint != "" {
		fmt.Printf("\n%s\n", hint)
	}
	if last.Status == models.JobError {
		return fmt.Errorf("job %s failed: %s", jobID, last.Error)
	}
	return nil
}

func init() {
	jobStatusCmd.Flags().BoolVar(&jobStatusJSON, "json", false, "Output the job as JSON")
	jobWatchCmd.Flags().BoolVar(&jobWatchForce, "force", false, "Keep polling while the job awaits speaker selection")
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobWatchCmd)
	rootCmd.AddCommand(jobCmd)
}
