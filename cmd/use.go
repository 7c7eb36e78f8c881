package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskwire/taskwire/internal/backend"
	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/session"
)

var useCmd = &cobra.Command{
	Use:   "use <project-id> <plan-id>",
	Short: "Bind this workspace to a project and plan",
	Long: `Validate the given project and plan against the backend, then record
the selection in the config file. Subsequent 'taskwire serve' runs use it.

Discover IDs with the taskwire_list_projects and taskwire_list_plans MCP
tools, or run 'taskwire use --list' to print them here.

Example:
  taskwire use --list
  taskwire use PROJ-7 PLAN-31`,
	RunE: runUse,
}

var useList bool

func init() {
	rootCmd.AddCommand(useCmd)

	useCmd.Flags().BoolVar(&useList, "list", false, "list available projects and plans instead of binding")
}

func runUse(_ *cobra.Command, args []string) error {
	cleanup, err := initLogging("use")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.APIToken == "" {
		return fmt.Errorf("no API token configured: set TASKWIRE_API_TOKEN or api_token in %s", configFilePath())
	}

	// The gateway needs a store for its auth gate even before a project is
	// bound; an empty session works for discovery calls.
	store := session.NewStore(session.ProjectSession{BaseURL: cfg.BaseURL, AgentName: cfg.AgentName})
	defer store.Close()
	client := backend.NewClient(cfg, store)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.RequestTimeout)
	defer cancel()

	if useList {
		return listProjectsAndPlans(ctx, client)
	}

	if len(args) != 2 {
		return fmt.Errorf("expected <project-id> <plan-id> (or --list)")
	}
	projectID, planID := args[0], args[1]

	plans, err := client.ListPlans(ctx, projectID)
	if err != nil {
		return fmt.Errorf("validating project %s: %w", projectID, err)
	}
	found := false
	for _, p := range plans {
		if p.PlanID == planID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("plan %s not found in project %s ('taskwire use --list' shows available plans)", planID, projectID)
	}

	path := configFilePath()
	if err := config.SaveSelection(path, projectID, planID); err != nil {
		return fmt.Errorf("saving selection: %w", err)
	}
	fmt.Printf("Bound %s / %s in %s\n", projectID, planID, path)
	return nil
}

func listProjectsAndPlans(ctx context.Context, client *backend.Client) error {
	projects, err := client.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}
	if len(projects) == 0 {
		fmt.Println("No projects available to this token.")
		return nil
	}

	for _, proj := range projects {
		fmt.Printf("%s  %s\n", proj.ProjectID, proj.Name)
		plans, err := client.ListPlans(ctx, proj.ProjectID)
		if err != nil {
			fmt.Printf("  (plans unavailable: %v)\n", err)
			continue
		}
		for _, plan := range plans {
			fmt.Printf("  %s  %s\n", plan.PlanID, plan.Name)
		}
	}
	return nil
}
