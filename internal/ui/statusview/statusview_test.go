package statusview

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/integration"
	"github.com/taskwire/taskwire/internal/mcpconfig"
	"github.com/taskwire/taskwire/internal/pubsub"
	"github.com/taskwire/taskwire/internal/session"
)

func newTestModel(t *testing.T) (Model, *session.Store) {
	t.Helper()

	store := session.NewStore(session.ProjectSession{
		ProjectID: "PRJ-1",
		PlanID:    "PLAN-1",
		BaseURL:   "https://api.taskwire.dev",
	})
	svc := integration.New(store, config.Defaults(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return New(ctx, svc, store), store
}

func TestViewBeforeFirstSync(t *testing.T) {
	m, _ := newTestModel(t)

	out := m.View()
	require.Contains(t, out, "PRJ-1 / PLAN-1")
	require.Contains(t, out, "https://api.taskwire.dev")
	require.Contains(t, out, "never succeeded")
	require.Contains(t, out, "valid")
	require.Contains(t, out, "0 total")
}

func TestViewAfterSync(t *testing.T) {
	m, store := newTestModel(t)

	require.True(t, store.BeginRefresh())
	store.Publish(&session.TaskSnapshot{
		ProjectID: "PRJ-1",
		PlanID:    "PLAN-1",
		Tasks: []session.Task{
			{Designator: "T-1", Status: session.StatusDone},
			{Designator: "T-2", Status: session.StatusPending},
		},
		FetchedAt: time.Now(),
	})
	store.EndRefresh(nil)

	updated, _ := m.Update(pubsub.Event[session.Update]{
		Type:      pubsub.UpdatedEvent,
		Timestamp: time.Now(),
	})
	m = updated.(Model)

	out := m.View()
	require.Contains(t, out, "2 total")
	require.Contains(t, out, "done=1")
	require.Contains(t, out, "pending=1")
	require.Contains(t, out, "fresh")
	require.NotContains(t, out, "never succeeded")
}

func TestViewShowsAuthInvalid(t *testing.T) {
	m, store := newTestModel(t)

	store.MarkAuthInvalid()
	updated, _ := m.Update(tickMsg(time.Now()))
	m = updated.(Model)

	require.Contains(t, m.View(), "INVALID - restart with a fresh token")
}

func TestUpdateEventRearmsListener(t *testing.T) {
	m, _ := newTestModel(t)

	_, cmd := m.Update(pubsub.Event[session.Update]{Type: pubsub.UpdatedEvent})
	require.NotNil(t, cmd, "listener must be re-armed after each event")
}

func TestTickRefreshesAndReschedules(t *testing.T) {
	m, store := newTestModel(t)

	require.True(t, store.BeginRefresh())
	store.EndRefresh(context.DeadlineExceeded)

	updated, cmd := m.Update(tickMsg(time.Now()))
	m = updated.(Model)

	require.NotNil(t, cmd)
	require.Contains(t, m.View(), "1 consecutive")
}

func TestIDEWatchUpdatesStatusLine(t *testing.T) {
	store := session.NewStore(session.ProjectSession{ProjectID: "PRJ-1", PlanID: "PLAN-1"})
	svc := integration.New(store, config.Defaults(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch := make(chan mcpconfig.Status, 1)
	m := New(ctx, svc, store, WithIDEWatch(".cursor/mcp.json", mcpconfig.StatusOK, ch))

	require.Contains(t, m.View(), "OK (.cursor/mcp.json)")

	ch <- mcpconfig.StatusMisconfigured
	msg := m.watchIDE()()
	require.Equal(t, ideStatusMsg(mcpconfig.StatusMisconfigured), msg)

	updated, cmd := m.Update(msg)
	m = updated.(Model)
	require.NotNil(t, cmd, "watcher must be re-armed after each event")
	require.Contains(t, m.View(), "MISCONFIGURED (.cursor/mcp.json)")
}

func TestIDEWatchStopsOnCancel(t *testing.T) {
	store := session.NewStore(session.ProjectSession{})
	svc := integration.New(store, config.Defaults(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan mcpconfig.Status)
	m := New(ctx, svc, store, WithIDEWatch(".cursor/mcp.json", mcpconfig.StatusNotFound, ch))

	cancel()
	require.Nil(t, m.watchIDE()())
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "esc", "ctrl+c"} {
		m, _ := newTestModel(t)

		msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		switch key {
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "ctrl+c":
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		}

		updated, cmd := m.Update(msg)
		m = updated.(Model)

		require.NotNil(t, cmd, "key %q should quit", key)
		require.Empty(t, m.View())
	}
}
