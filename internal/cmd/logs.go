package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom-sub010/internal/events"
)

var logsCount int

var logsCmd = &cobra.Command{
	Use:     "logs",
	GroupID: GroupDiag,
	Short:   "Show recent fleet events",
	Long: `Print the tail of the fleet event log.

Events cover daemon lifecycle, spawns, reclaims, outcomes, breaker
activity, and operator actions. For the raw stream, read
.shepherd/events.jsonl directly or subscribe to the NATS mirror.`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&logsCount, "lines", "n", 20, "Number of events to show")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	evs, err := events.Tail(fleetRoot, logsCount)
	if err != nil {
		return fmt.Errorf("reading event log: %w", err)
	}
	if len(evs) == 0 {
		fmt.Println("No events recorded yet")
		return nil
	}
	for _, e := range evs {
		fmt.Println(events.FormatLine(e))
	}
	return nil
}
