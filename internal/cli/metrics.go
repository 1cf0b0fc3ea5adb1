package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	mtalkmcp "github.com/valter-silva-au/memory-talk/internal/mcp"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display job and chat metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include uploaded jobs, status transitions, confirmed personas, chat
sessions, stream outcomes and proactive agent messages.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Metrics (since %s)\n\n", sinceTime.Format("2006-01-02 15:04"))
		fmt.Printf("  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Printf("  %-24s %d\n", "Jobs uploaded:", metrics.JobsUploaded)
		fmt.Printf("  %-24s %d\n", "Analyses requested:", metrics.AnalysesRequested)
		fmt.Printf("  %-24s %d\n", "Personas confirmed:", metrics.PersonasConfirmed)
		fmt.Printf("  %-24s %d\n", "Chat sessions:", metrics.ChatSessions)
		fmt.Printf("  %-24s %d completed, %d failed, %d stopped\n", "Replies streamed:",
			metrics.StreamsCompleted, metrics.StreamsFailed, metrics.StreamsStopped)
		fmt.Printf("  %-24s %d\n", "Chunks received:", metrics.ChunksReceived)
		fmt.Printf("  %-24s %dms\n", "Average reply time:", metrics.AvgStreamMillis)
		fmt.Printf("  %-24s %d\n", "Agent messages:", metrics.AgentMessages)

		if len(metrics.JobsByStatus) > 0 {
			statuses := make([]string, 0, len(metrics.JobsByStatus))
			for status := range metrics.JobsByStatus {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)
			fmt.Println("\n  Status transitions:")
			for _, status := range statuses {
				fmt.Printf("    %-20s %d\n", status+":", metrics.JobsByStatus[status])
			}
		}

		if metrics.OldestEvent != nil {
			fmt.Printf("\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Printf("  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past. Empty means 7d.
func parseSinceDuration(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = "7d"
	}
	return mtalkmcp.ParseSince(s, time.Now().UTC())
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
