package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	mtalkmcp "github.com/valter-silva-au/memory-talk/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the mtalk MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mtalk MCP server on stdio",
	Long: `Start the mtalk MCP server on stdio transport.

The server exposes memory-talk as MCP tools that AI assistants can call:
upload_chat_log, get_job, analyze_job, confirm_persona, chat, get_settings,
update_settings, health, get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Backend == nil {
			return fmt.Errorf("backend client not initialized")
		}

		srv := mtalkmcp.NewServer(mtalkmcp.Deps{
			Backend:  Backend,
			Poller:   Poller,
			Settings: Settings,
			NewChat:  NewChat,
			Health:   Backend,
			Metrics:  MetricsCalc,
			Alerts:   AlertEngine,
		}, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
