package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskwire/taskwire/internal/config"
)

func TestRequireSessionRejectsIncompleteConfig(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = config.Defaults()
	err := requireSession()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no project session configured")

	cfg.APIToken = "tok"
	cfg.ProjectID = "PROJ-1"
	require.Error(t, requireSession(), "plan_id still missing")

	cfg.PlanID = "PLAN-1"
	require.NoError(t, requireSession())
}

func TestRequireSessionRejectsInvalidBaseURL(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = config.Defaults()
	cfg.APIToken = "tok"
	cfg.ProjectID = "PROJ-1"
	cfg.PlanID = "PLAN-1"
	cfg.BaseURL = "not a url"

	require.Error(t, requireSession())
}

func TestSubcommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "status", "tasks", "history", "use"} {
		require.True(t, names[want], "missing subcommand %s", want)
	}
}
