package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/taskwire/taskwire/internal/backend"
	"github.com/taskwire/taskwire/internal/integration"
	"github.com/taskwire/taskwire/internal/mcpconfig"
	"github.com/taskwire/taskwire/internal/session"
	"github.com/taskwire/taskwire/internal/syncer"
	"github.com/taskwire/taskwire/internal/ui/statusview"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show integration health",
	Long: `Report the state of the taskwire integration: project binding,
credential validity, sync freshness, task counts, IDE MCP config, and
backend latency.

Example:
  taskwire status          # one-shot report
  taskwire status --json   # machine-readable
  taskwire status --watch  # live dashboard`,
	RunE: runStatus,
}

var (
	statusJSON  bool
	statusWatch bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit the report as JSON")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "render a live-updating dashboard")
}

func runStatus(_ *cobra.Command, _ []string) error {
	cleanup, err := initLogging("status")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := requireSession(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if statusWatch {
		return runStatusWatch(ctx)
	}

	store, client, svc := newSessionStack()
	defer store.Close()

	// One shot: fetch the plan once so the report reflects live backend
	// state, but still print what we know when the backend is down.
	fetchCtx, fetchCancel := context.WithTimeout(ctx, cfg.Sync.RequestTimeout)
	defer fetchCancel()
	if snap, err := client.FetchPlanState(fetchCtx, cfg.ProjectID, cfg.PlanID); err == nil {
		if store.BeginRefresh() {
			store.Publish(&snap)
			store.EndRefresh(nil)
		}
	} else {
		fmt.Fprintf(os.Stderr, "warning: backend unreachable: %v\n", err)
	}

	st := svc.Status()
	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Print(st.Summary())
	return nil
}

// runStatusWatch drives the live dashboard. The IDE config line comes from
// the fsnotify watcher, not from re-reading mcp.json on every repaint.
func runStatusWatch(ctx context.Context) error {
	store := session.NewStore(session.ProjectSession{
		ProjectID: cfg.ProjectID,
		PlanID:    cfg.PlanID,
		BaseURL:   cfg.BaseURL,
		AgentName: cfg.AgentName,
	})
	defer store.Close()

	client := backend.NewClient(cfg, store)
	svc := integration.New(store, cfg, client, nil)

	sync := syncer.New(store, client, cfg.Sync)
	go sync.Run(ctx)

	var opts []statusview.Option
	checker := ideChecker()
	if watcher, err := mcpconfig.NewWatcher(checker, mcpconfig.DefaultDebounce); err == nil {
		if ch, startErr := watcher.Start(); startErr == nil {
			defer func() { _ = watcher.Stop() }()
			opts = append(opts, statusview.WithIDEWatch(checker.Path(), checker.Check(), ch))
		} else {
			_ = watcher.Stop()
		}
	}

	model := statusview.New(ctx, svc, store, opts...)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("running status view: %w", err)
	}
	return nil
}
