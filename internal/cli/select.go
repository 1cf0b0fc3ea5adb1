package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

var selectWatch bool

var selectCmd = &cobra.Command{
	Use:   "select <job-id> [speaker]",
	Short: "Choose the speaker whose persona is extracted",
	Long: `Start persona extraction for one speaker of a job that awaits selection.

Without a speaker argument the job's speakers are listed and you pick one;
the first speaker is preselected. After the request is accepted the job is
watched until it finishes (disable with --watch=false).`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Backend == nil || Poller == nil {
			return fmt.Errorf("backend client not initialized")
		}

		ctx := commandContext(cmd)
		jobID := args[0]

		var speaker string
		if len(args) == 2 {
			speaker = strings.TrimSpace(args[1])
		} else {
			job, err := Poller.Poll(ctx, jobID)
			if err != nil {
				return fmt.Errorf("fetching job %s: %w", jobID, err)
			}
			if job.Status != models.JobAwaitingSelection {
				return fmt.Errorf("job %s is %s, not awaiting speaker selection", jobID, statusLine(job))
			}
			speaker, err = pickSpeaker(job.Speakers)
			if err != nil {
				return err
			}
		}
		if speaker == "" {
			return core.ErrNoSpeaker
		}

		if err := Backend.AnalyzeJob(ctx, jobID, speaker); err != nil {
			return fmt.Errorf("analyzing %s: %w", speaker, err)
		}
		recordEvent(core.EventJobAnalyzeRequest, map[string]any{"job_id": jobID, "speaker": speaker})
		Poller.Invalidate(jobID)

		fmt.Printf("Analyzing speaker %q for job %s\n", speaker, jobID)
		if !selectWatch {
			return nil
		}
		fmt.Println()
		return watchJob(ctx, jobID, true)
	},
}

func init() {
	selectCmd.Flags().BoolVar(&selectWatch, "watch", true, "Follow the job until the persona is ready")
	rootCmd.AddCommand(selectCmd)
}
