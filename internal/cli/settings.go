package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change backend settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the backend settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Settings == nil {
			return fmt.Errorf("settings service not initialized")
		}
		s, err := Settings.Get(commandContext(cmd))
		if err != nil {
			return err
		}
		printSettings(s)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a backend setting",
	Long: `Change a backend setting. Supported keys:

  agent_enabled   true or false; lets the persona send messages on its own`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Settings == nil {
			return fmt.Errorf("settings service not initialized")
		}
		if args[0] != "agent_enabled" {
			return fmt.Errorf("unknown setting %q (supported: agent_enabled)", args[0])
		}
		enabled, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("agent_enabled must be true or false, got %q", args[1])
		}

		s, err := Settings.Update(commandContext(cmd), models.Settings{AgentEnabled: enabled})
		if err != nil {
			return err
		}
		fmt.Println("Settings updated.")
		printSettings(s)
		return nil
	},
}

func printSettings(s models.Settings) {
	fmt.Printf("  %-16s %t\n", "agent_enabled:", s.AgentEnabled)
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
