// Package integration aggregates everything an operator or agent needs to
// judge whether the bridge is healthy: session binding, credential state,
// sync freshness, task counts, and the IDE's MCP config status.
package integration

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/mcpconfig"
	"github.com/taskwire/taskwire/internal/session"
)

// LatencySource reports observed backend round-trip times.
type LatencySource interface {
	APILatency() (last, max time.Duration)
}

// IDEChecker reports whether the agent IDE is pointed at this bridge.
type IDEChecker interface {
	Check() mcpconfig.Status
	Path() string
}

// Service composes per-subsystem state into one Status report.
type Service struct {
	store   *session.Store
	cfg     config.Config
	latency LatencySource
	ide     IDEChecker
}

// New builds the status service. latency and ide may be nil; the
// corresponding fields go unreported.
func New(store *session.Store, cfg config.Config, latency LatencySource, ide IDEChecker) *Service {
	return &Service{store: store, cfg: cfg, latency: latency, ide: ide}
}

// Status is the point-in-time health report.
type Status struct {
	ProjectID string `json:"project_id"`
	PlanID    string `json:"plan_id"`
	BaseURL   string `json:"base_url"`
	AgentName string `json:"agent_name,omitempty"`

	AuthValid           bool      `json:"auth_valid"`
	Freshness           time.Time `json:"freshness,omitzero"`
	Stale               bool      `json:"stale"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`

	TotalTasks int                        `json:"total_tasks"`
	TaskCounts map[session.TaskStatus]int `json:"task_counts"`

	IDEConfig     mcpconfig.Status `json:"ide_config,omitempty"`
	IDEConfigPath string           `json:"ide_config_path,omitempty"`

	APILatencyLast time.Duration `json:"api_latency_last_ns,omitempty"`
	APILatencyMax  time.Duration `json:"api_latency_max_ns,omitempty"`
}

// Status assembles the current report.
func (s *Service) Status() Status {
	sess := s.store.Session()
	snap := s.store.Snapshot()
	sync := s.store.SyncState()

	st := Status{
		ProjectID:           sess.ProjectID,
		PlanID:              sess.PlanID,
		BaseURL:             sess.BaseURL,
		AgentName:           sess.AgentName,
		AuthValid:           s.store.AuthValid(),
		Freshness:           sync.Freshness,
		Stale:               sync.Stale(time.Now(), s.cfg.Sync.StalenessThreshold),
		ConsecutiveFailures: sync.ConsecutiveFailures,
		TotalTasks:          len(snap.Tasks),
		TaskCounts:          snap.CountsByStatus(),
	}
	st.LastError = sync.LastError
	if s.latency != nil {
		st.APILatencyLast, st.APILatencyMax = s.latency.APILatency()
	}
	if s.ide != nil {
		st.IDEConfig = s.ide.Check()
		st.IDEConfigPath = s.ide.Path()
	}
	return st
}

// Summary renders the status as operator-readable text, the form the status
// tool and CLI both emit.
func (st Status) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Project: %s  Plan: %s\n", orDash(st.ProjectID), orDash(st.PlanID))
	fmt.Fprintf(&b, "Backend: %s\n", st.BaseURL)

	if st.AuthValid {
		b.WriteString("Auth: valid\n")
	} else {
		b.WriteString("Auth: INVALID - restart with a fresh token\n")
	}

	if st.Freshness.IsZero() {
		b.WriteString("Sync: never succeeded\n")
	} else {
		fmt.Fprintf(&b, "Sync: last success %s ago", time.Since(st.Freshness).Round(time.Second))
		if st.Stale {
			b.WriteString(" (STALE)")
		}
		b.WriteByte('\n')
	}
	if st.ConsecutiveFailures > 0 {
		fmt.Fprintf(&b, "Sync failures: %d (last: %s)\n", st.ConsecutiveFailures, st.LastError)
	}

	fmt.Fprintf(&b, "Tasks: %d total", st.TotalTasks)
	statuses := make([]session.TaskStatus, 0, len(st.TaskCounts))
	for status := range st.TaskCounts {
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	for _, status := range statuses {
		fmt.Fprintf(&b, "  %s=%d", status, st.TaskCounts[status])
	}
	b.WriteByte('\n')

	if st.IDEConfig != "" {
		fmt.Fprintf(&b, "IDE config (%s): %s\n", st.IDEConfigPath, st.IDEConfig)
	}
	if st.APILatencyLast > 0 {
		fmt.Fprintf(&b, "API latency: last %s, max %s\n", st.APILatencyLast.Round(time.Millisecond), st.APILatencyMax.Round(time.Millisecond))
	}

	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
