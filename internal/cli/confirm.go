package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/internal/core"
)

var confirmChat bool

var confirmCmd = &cobra.Command{
	Use:   "confirm <job-id>",
	Short: "Confirm the reviewed persona profile",
	Long: `Send the reviewed profile of a job to the backend. The local draft is used
when one exists, otherwise the profile from the job report. On success the draft
is deleted and the persona is ready to chat.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Backend == nil || Drafts == nil {
			return fmt.Errorf("backend client not initialized")
		}
		ctx := commandContext(cmd)
		jobID := args[0]

		draft, err := loadOrCreateDraft(ctx, jobID)
		if err != nil {
			return err
		}
		if err := Backend.ConfirmPersona(ctx, jobID, draft.Profile); err != nil {
			return fmt.Errorf("confirming persona: %w", err)
		}
		if err := Drafts.DeleteDraft(jobID); err != nil {
			fmt.Printf("Warning: could not delete draft: %v\n", err)
		}
		if Poller != nil {
			Poller.Invalidate(jobID)
		}
		recordEvent(core.EventPersonaConfirmed, map[string]any{"job_id": jobID, "speaker": draft.SelectedSpeaker})

		personaName := draft.SelectedSpeaker
		if personaName == "" {
			personaName = core.DefaultPersonaName
		}
		fmt.Printf("Persona %q confirmed for job %s\n", personaName, jobID)

		if confirmChat {
			return runChat(jobID, personaName)
		}
		fmt.Printf("\nStart chatting with: mtalk chat %s\n", jobID)
		return nil
	},
}

func init() {
	confirmCmd.Flags().BoolVar(&confirmChat, "chat", false, "Open the chat right after confirming")
	rootCmd.AddCommand(confirmCmd)
}
