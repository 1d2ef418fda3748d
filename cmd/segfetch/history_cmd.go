package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justchokingaround/segfetch/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the download history ledger",
}

var (
	historyStatus string
	historyLimit  int
)

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded download outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := histSvc.List(history.FilterOptions{
			Status: historyStatus,
			Limit:  historyLimit,
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No history recorded.")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %-10s  %-6s  %8d bytes  %s\n", r.DownloadID, r.Status, r.MediaType, r.DownloadedBytes, r.URL)
		}
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the history ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := histSvc.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("total: %d  completed: %d  failed: %d  canceled: %d\n",
			stats.Total, stats.Completed, stats.Failed, stats.Canceled)
		return nil
	},
}

var historyCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete every non-completed history record",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := histSvc.Cleanup()
		if err != nil {
			return err
		}
		fmt.Printf("removed %d record(s)\n", n)
		return nil
	},
}

func init() {
	historyListCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (e.g. COMPLETED, FAILED)")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum records to print")
	historyCmd.AddCommand(historyListCmd, historyStatsCmd, historyCleanupCmd)
}
