package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend is reachable and healthy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Backend == nil {
			return fmt.Errorf("backend client not initialized")
		}

		ok, err := Backend.Health(commandContext(cmd))
		if err != nil {
			return fmt.Errorf("checking %s: %w", Backend.BaseURL(), err)
		}
		if !ok {
			return fmt.Errorf("backend at %s reports unhealthy", Backend.BaseURL())
		}
		fmt.Printf("Backend at %s is healthy.\n", Backend.BaseURL())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
