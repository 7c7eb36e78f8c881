package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskwire/taskwire/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse the tool invocation journal",
	Long: `List recent MCP tool invocations recorded by 'taskwire serve'.

Example:
  taskwire history                      # 20 most recent invocations
  taskwire history -n 100               # more of them
  taskwire history --tool taskwire_update_task
  taskwire history stats                # per-tool call/error counts
  taskwire history prune --older-than 720h`,
	RunE: runHistoryList,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Per-tool call and error counts",
	RunE:  runHistoryStats,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journal entries older than a cutoff",
	RunE:  runHistoryPrune,
}

var (
	historyLimit     int
	historyTool      string
	historyOlderThan time.Duration
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyPruneCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of invocations to show")
	historyCmd.Flags().StringVar(&historyTool, "tool", "", "only show invocations of this tool")
	historyPruneCmd.Flags().DurationVar(&historyOlderThan, "older-than", 30*24*time.Hour,
		"delete entries older than this")
}

func openHistoryRepo() (*history.Repository, func(), error) {
	if cfg.History.Path == "" {
		return nil, nil, fmt.Errorf("no history database configured (history.path)")
	}
	if _, err := os.Stat(cfg.History.Path); err != nil {
		return nil, nil, fmt.Errorf("no history database at %s; run 'taskwire serve' first", cfg.History.Path)
	}

	db, err := history.NewDB(cfg.History.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening history database: %w", err)
	}
	return history.NewRepository(db), func() { _ = db.Close() }, nil
}

func runHistoryList(_ *cobra.Command, _ []string) error {
	repo, closeDB, err := openHistoryRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	var records []history.Record
	if historyTool != "" {
		records, err = repo.ByName(historyTool, historyLimit)
	} else {
		records, err = repo.Recent(historyLimit)
	}
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No invocations recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tKIND\tNAME\tDURATION\tOUTCOME")
	for _, rec := range records {
		outcome := "ok"
		if rec.IsError {
			outcome = "error: " + rec.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.InvokedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Kind,
			rec.Name,
			rec.Duration.Round(time.Millisecond),
			outcome)
	}
	return w.Flush()
}

func runHistoryStats(_ *cobra.Command, _ []string) error {
	repo, closeDB, err := openHistoryRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	stats, err := repo.Stats()
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if len(stats) == 0 {
		fmt.Println("No invocations recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCALLS\tERRORS")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s.Name, s.Calls, s.Errors)
	}
	return w.Flush()
}

func runHistoryPrune(_ *cobra.Command, _ []string) error {
	repo, closeDB, err := openHistoryRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	deleted, err := repo.PruneBefore(time.Now().Add(-historyOlderThan))
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	fmt.Printf("Deleted %d invocation(s).\n", deleted)
	return nil
}
