// Package statusview renders a live integration status dashboard in the
// terminal for `taskwire status --watch`. It repaints on every sync outcome
// published by the session store and once a second for the age readouts.
package statusview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskwire/taskwire/internal/integration"
	"github.com/taskwire/taskwire/internal/mcpconfig"
	"github.com/taskwire/taskwire/internal/pubsub"
	"github.com/taskwire/taskwire/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// tickMsg drives the once-a-second age repaint.
type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// ideStatusMsg carries a re-checked IDE config status from the watcher.
type ideStatusMsg mcpconfig.Status

// Model is the watch dashboard.
type Model struct {
	ctx     context.Context
	svc     *integration.Service
	updates <-chan pubsub.Event[session.Update]

	idePath   string
	ideStatus mcpconfig.Status
	ideCh     <-chan mcpconfig.Status

	spinner  spinner.Model
	status   integration.Status
	quitting bool
}

// Option configures the dashboard.
type Option func(*Model)

// WithIDEWatch renders the IDE config line from a watcher's event stream
// instead of polling the file. initial seeds the line until the first event.
func WithIDEWatch(path string, initial mcpconfig.Status, updates <-chan mcpconfig.Status) Option {
	return func(m *Model) {
		m.idePath = path
		m.ideStatus = initial
		m.ideCh = updates
	}
}

// New builds the dashboard over the status service and the store's update
// stream. ctx cancellation releases the subscription.
func New(ctx context.Context, svc *integration.Service, store *session.Store, opts ...Option) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := Model{
		ctx:     ctx,
		svc:     svc,
		updates: store.Subscribe(ctx),
		spinner: sp,
		status:  svc.Status(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, pubsub.ListenCmd(m.ctx, m.updates), tickCmd()}
	if m.ideCh != nil {
		cmds = append(cmds, m.watchIDE())
	}
	return tea.Batch(cmds...)
}

// watchIDE waits for the next status from the mcp.json watcher.
func (m Model) watchIDE() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case st, ok := <-m.ideCh:
			if !ok {
				return nil
			}
			return ideStatusMsg(st)
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case pubsub.Event[session.Update]:
		m.status = m.svc.Status()
		return m, pubsub.ListenCmd(m.ctx, m.updates)

	case ideStatusMsg:
		m.ideStatus = mcpconfig.Status(msg)
		return m, m.watchIDE()

	case tickMsg:
		m.status = m.svc.Status()
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	st := m.status
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), titleStyle.Render("taskwire"))

	fmt.Fprintf(&b, "%s %s / %s\n", labelStyle.Render("session"), st.ProjectID, st.PlanID)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("backend"), st.BaseURL)

	if st.AuthValid {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("auth   "), okStyle.Render("valid"))
	} else {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("auth   "), errStyle.Render("INVALID - restart with a fresh token"))
	}

	b.WriteString(labelStyle.Render("sync   "))
	b.WriteByte(' ')
	switch {
	case st.Freshness.IsZero():
		b.WriteString(warnStyle.Render("never succeeded"))
	case st.Stale:
		b.WriteString(warnStyle.Render(fmt.Sprintf("stale, last success %s ago", age(st.Freshness))))
	default:
		b.WriteString(okStyle.Render(fmt.Sprintf("fresh, %s ago", age(st.Freshness))))
	}
	b.WriteByte('\n')
	if st.ConsecutiveFailures > 0 {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("errors "),
			errStyle.Render(fmt.Sprintf("%d consecutive (%s)", st.ConsecutiveFailures, st.LastError)))
	}

	fmt.Fprintf(&b, "%s %d total", labelStyle.Render("tasks  "), st.TotalTasks)
	for _, status := range session.AllTaskStatuses() {
		fmt.Fprintf(&b, "  %s=%d", status, st.TaskCounts[status])
	}
	b.WriteByte('\n')

	switch {
	case m.ideStatus != "":
		fmt.Fprintf(&b, "%s %s (%s)\n", labelStyle.Render("ide    "), string(m.ideStatus), m.idePath)
	case st.IDEConfig != "":
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("ide    "), string(st.IDEConfig))
	}
	if st.APILatencyLast > 0 {
		fmt.Fprintf(&b, "%s last %s, max %s\n", labelStyle.Render("latency"),
			st.APILatencyLast.Round(time.Millisecond), st.APILatencyMax.Round(time.Millisecond))
	}

	b.WriteString(dimStyle.Render("\nq to quit"))
	b.WriteByte('\n')

	return b.String()
}

func age(t time.Time) string {
	return time.Since(t).Round(time.Second).String()
}
