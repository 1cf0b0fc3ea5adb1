package cli

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/internal/core"
)

var uploadWatch bool

var uploadCmd = &cobra.Command{
	Use:   "upload <chat-log.txt>",
	Short: "Upload a chat log and start an analysis job",
	Long: `Upload a plain-text chat log to the backend. The backend answers with a job id
that identifies the analysis; follow it with 'mtalk job watch <id>', or pass
--watch to follow it right away.

Only .txt chat logs are accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Backend == nil {
			return fmt.Errorf("backend client not initialized")
		}

		path := args[0]
		name := filepath.Base(path)
		if !core.IsChatLogFile(name, mime.TypeByExtension(filepath.Ext(name))) {
			return fmt.Errorf("uploading %s: %w", path, core.ErrUnsupportedFile)
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening chat log: %w", err)
		}
		defer f.Close()

		ctx := commandContext(cmd)
		jobID, err := Backend.Upload(ctx, name, f)
		if err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
		recordEvent(core.EventJobUploaded, map[string]any{"job_id": jobID, "file": name})

		fmt.Printf("Uploaded %s\n", name)
		fmt.Printf("  Job: %s\n", jobID)

		if uploadWatch {
			fmt.Println()
			return watchJob(ctx, jobID, false)
		}
		fmt.Printf("\nFollow the analysis with: mtalk job watch %s\n", jobID)
		return nil
	},
}

func init() {
	uploadCmd.Flags().BoolVarP(&uploadWatch, "watch", "w", false, "Follow the job until it needs input or finishes")
	rootCmd.AddCommand(uploadCmd)
}
