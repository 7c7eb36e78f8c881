package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/taskwire/taskwire/internal/session"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the plan's tasks",
	Long: `Fetch the bound plan from the backend and print its task tree.

Example:
  taskwire tasks                  # full tree
  taskwire tasks --status pending # only pending tasks
  taskwire tasks show T-12        # one task, rendered in full`,
	RunE: runTasksList,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <designator>",
	Short: "Show one task in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksShow,
}

var tasksStatusFilter string

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksShowCmd)

	tasksCmd.Flags().StringVar(&tasksStatusFilter, "status", "",
		"only show tasks with this status (pending, in_progress, blocked, done)")
}

var taskStatusStyles = map[session.TaskStatus]lipgloss.Style{
	session.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
	session.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	session.StatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	session.StatusDone:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
}

func fetchSnapshot(ctx context.Context) (*session.TaskSnapshot, error) {
	if err := requireSession(); err != nil {
		return nil, err
	}

	store, client, _ := newSessionStack()
	defer store.Close()

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.Sync.RequestTimeout)
	defer cancel()

	snap, err := client.FetchPlanState(fetchCtx, cfg.ProjectID, cfg.PlanID)
	if err != nil {
		return nil, fmt.Errorf("fetching plan: %w", err)
	}
	return &snap, nil
}

func runTasksList(_ *cobra.Command, _ []string) error {
	cleanup, err := initLogging("tasks")
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := fetchSnapshot(context.Background())
	if err != nil {
		return err
	}

	var filter session.TaskStatus
	if tasksStatusFilter != "" {
		filter, err = session.ParseTaskStatus(tasksStatusFilter)
		if err != nil {
			return err
		}
	}

	if len(snap.Tasks) == 0 {
		fmt.Println("Plan has no tasks.")
		return nil
	}

	var b strings.Builder
	if filter != "" {
		for _, t := range snap.Tasks {
			if t.Status == filter {
				writeTaskLine(&b, t, 0)
			}
		}
	} else {
		printTree(&b, snap, "", 0)
	}

	if b.Len() == 0 {
		fmt.Printf("No tasks with status %s.\n", filter)
		return nil
	}
	fmt.Print(b.String())
	return nil
}

func printTree(b *strings.Builder, snap *session.TaskSnapshot, parent string, depth int) {
	for _, t := range snap.Children(parent) {
		writeTaskLine(b, t, depth)
		printTree(b, snap, t.Designator, depth+1)
	}
}

func writeTaskLine(b *strings.Builder, t session.Task, depth int) {
	style, ok := taskStatusStyles[t.Status]
	if !ok {
		style = lipgloss.NewStyle()
	}
	fmt.Fprintf(b, "%s%s  %s  %s\n",
		strings.Repeat("  ", depth),
		style.Render(fmt.Sprintf("[%s]", t.Status)),
		t.Designator,
		t.Name)
}

func runTasksShow(_ *cobra.Command, args []string) error {
	cleanup, err := initLogging("tasks")
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := fetchSnapshot(context.Background())
	if err != nil {
		return err
	}

	task, ok := snap.Task(args[0])
	if !ok {
		return fmt.Errorf("task %s not found in plan %s", args[0], cfg.PlanID)
	}

	fmt.Printf("%s  %s\n", task.Designator, task.Name)
	fmt.Printf("Status: %s", task.Status)
	if task.Parent != "" {
		fmt.Printf("  Parent: %s", task.Parent)
	}
	fmt.Println()
	if len(task.Requirements) > 0 {
		fmt.Printf("Requirements: %s\n", strings.Join(task.Requirements, ", "))
	}

	if task.Description != "" {
		out, err := renderMarkdown(task.Description)
		if err != nil {
			// Fall back to the raw text rather than failing the command.
			out = task.Description + "\n"
		}
		fmt.Println()
		fmt.Print(out)
	}

	if len(task.Notes) > 0 {
		fmt.Println("\nNotes:")
		for _, note := range task.Notes {
			fmt.Printf("  - %s\n", note)
		}
	}
	return nil
}

func renderMarkdown(text string) (string, error) {
	width := 100
	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		// Piped output: skip styling entirely.
		return text + "\n", nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(text)
}
