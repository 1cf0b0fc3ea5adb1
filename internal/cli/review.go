package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/internal/storage"
	"github.com/valter-silva-au/memory-talk/pkg/models"
	"gopkg.in/yaml.v3"
)

var reviewEdit bool

var reviewCmd = &cobra.Command{
	Use:   "review <job-id>",
	Short: "Review the extracted persona profile",
	Long: `Show the persona profile of a finished job. The profile is copied into a local
draft (drafts/<job-id>.yaml) on first review; later reviews and 'mtalk confirm'
use the draft, so edits survive until the persona is confirmed.

Pass --edit to open the draft in $VISUAL or $EDITOR.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Drafts == nil {
			return fmt.Errorf("draft store not initialized")
		}
		jobID := args[0]

		draft, err := loadOrCreateDraft(commandContext(cmd), jobID)
		if err != nil {
			return err
		}

		if reviewEdit {
			if err := openEditor(Drafts.DraftPath(jobID)); err != nil {
				return err
			}
			draft, err = Drafts.LoadDraft(jobID)
			if err != nil {
				return err
			}
			if err := core.ValidateProfile(draft.Profile); err != nil {
				return fmt.Errorf("edited draft %s: %w", Drafts.DraftPath(jobID), err)
			}
			draft.Updated = time.Now().UTC()
			if err := Drafts.SaveDraft(*draft); err != nil {
				return err
			}
		}

		if err := printDraft(draft); err != nil {
			return err
		}
		fmt.Printf("\nDraft:        %s\n", Drafts.DraftPath(jobID))
		fmt.Printf("Confirm with: mtalk confirm %s\n", jobID)
		return nil
	},
}

// loadOrCreateDraft returns the saved draft of a job, creating it from the
// job's report when none exists yet.
func loadOrCreateDraft(ctx context.Context, jobID string) (*models.ProfileDraft, error) {
	draft, err := Drafts.LoadDraft(jobID)
	if err == nil {
		return draft, nil
	}
	if !errors.Is(err, storage.ErrDraftNotFound) {
		return nil, err
	}
	if Poller == nil {
		return nil, fmt.Errorf("job poller not initialized")
	}

	job, err := Poller.Poll(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetching job %s: %w", jobID, err)
	}
	if job.Status != models.JobDone {
		return nil, fmt.Errorf("job %s is %s; the persona is not ready", jobID, statusLine(job))
	}
	if job.Report == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrMissingReport)
	}

	draft = &models.ProfileDraft{
		JobID:           jobID,
		SelectedSpeaker: job.SelectedSpeaker,
		Summary:         job.Report.Summary,
		Profile:         job.Report.Profile,
		Updated:         time.Now().UTC(),
	}
	if err := Drafts.SaveDraft(*draft); err != nil {
		return nil, err
	}
	return draft, nil
}

func printDraft(draft *models.ProfileDraft) error {
	data, err := yaml.Marshal(draft.Profile)
	if err != nil {
		return fmt.Errorf("formatting profile: %w", err)
	}

	speaker := draft.SelectedSpeaker
	if speaker == "" {
		speaker = core.DefaultPersonaName
	}
	fmt.Printf("Persona: %s (job %s)\n", speaker, draft.JobID)
	if draft.Summary != "" {
		fmt.Printf("\n%s\n", draft.Summary)
	}
	fmt.Printf("\n%s", data)
	return nil
}

// editorCommand builds the command that opens path in the user's editor.
func editorCommand(path string) *exec.Cmd {
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	return exec.Command(parts[0], append(parts[1:], path)...)
}

// openEditor runs the user's editor on path and waits for it to exit.
func openEditor(path string) error {
	c := editorCommand(path)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("running editor %s: %w", c.Path, err)
	}
	return nil
}

func init() {
	reviewCmd.Flags().BoolVar(&reviewEdit, "edit", false, "Open the draft in your editor")
	rootCmd.AddCommand(reviewCmd)
}
