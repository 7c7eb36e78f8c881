package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taskwire/taskwire/internal/mcp"
	"github.com/taskwire/taskwire/internal/session"
)

// snapshotPayload is the structured body read tools and the tasks resource
// share: the snapshot plus enough metadata for the agent to judge it.
type snapshotPayload struct {
	ProjectID string         `json:"project_id"`
	PlanID    string         `json:"plan_id"`
	FetchedAt time.Time      `json:"fetched_at,omitzero"`
	Stale     bool           `json:"stale"`
	Tasks     []session.Task `json:"tasks"`
}

// staleSnapshot reads the current snapshot and its staleness without side
// effects. Resources use this directly: they never start backend traffic.
func (b *Bridge) staleSnapshot() (*session.TaskSnapshot, bool) {
	snap := b.store.Snapshot()
	stale := b.store.SyncState().Stale(time.Now(), b.cfg.Sync.StalenessThreshold)
	return snap, stale
}

// snapshotView is the read-tool path: a stale read also kicks the sync loop
// so the next call is likely fresh, without making this call wait on the
// network.
func (b *Bridge) snapshotView() (*session.TaskSnapshot, bool) {
	snap, stale := b.staleSnapshot()
	if stale {
		b.triggerRefresh()
	}
	return snap, stale
}

func (b *Bridge) handleStatus(_ context.Context, _ json.RawMessage) (*mcp.ToolCallResult, error) {
	st := b.status.Status()
	return mcp.StructuredResult(st.Summary(), st), nil
}

func (b *Bridge) handleNextTask(ctx context.Context, _ json.RawMessage) (*mcp.ToolCallResult, error) {
	sess := b.store.Session()
	task, err := b.backend.NextTask(ctx, sess.ProjectID, sess.PlanID)
	if err != nil {
		return nil, toolErr(err)
	}
	if task == nil {
		return mcp.SuccessResult("No actionable task: everything in the plan is done or blocked."), nil
	}
	return mcp.StructuredResult(formatTask(*task), task), nil
}

func (b *Bridge) handleListTasks(_ context.Context, args json.RawMessage) (*mcp.ToolCallResult, error) {
	var p struct {
		Status string `json:"status"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, validationErr("parsing arguments: %v", err)
		}
	}

	var filter session.TaskStatus
	if p.Status != "" {
		parsed, err := session.ParseTaskStatus(p.Status)
		if err != nil {
			return nil, validationErr("unknown status %q, expected one of %s", p.Status, strings.Join(taskStatusStrings(), ", "))
		}
		filter = parsed
	}

	snap, stale := b.snapshotView()

	tasks := snap.Tasks
	if filter != "" {
		tasks = nil
		for _, t := range snap.Tasks {
			if t.Status == filter {
				tasks = append(tasks, t)
			}
		}
	}

	payload := snapshotPayload{
		ProjectID: snap.ProjectID,
		PlanID:    snap.PlanID,
		FetchedAt: snap.FetchedAt,
		Stale:     stale,
		Tasks:     tasks,
	}

	var text strings.Builder
	if len(tasks) == 0 {
		text.WriteString("No tasks")
		if filter != "" {
			fmt.Fprintf(&text, " with status %s", filter)
		}
		text.WriteString(" in the snapshot.\n")
	} else {
		if filter != "" {
			writeTaskLines(&text, tasks)
		} else {
			writeTaskTree(&text, snap, "", 0)
		}
	}
	if stale {
		text.WriteString("\nNote: snapshot is stale; a background refresh has been requested.")
	}

	return mcp.StructuredResult(text.String(), payload), nil
}

func (b *Bridge) handleTaskInfo(ctx context.Context, args json.RawMessage) (*mcp.ToolCallResult, error) {
	var p struct {
		Designators []string `json:"task_designators"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, validationErr("parsing arguments: %v", err)
	}
	if err := checkDesignators(p.Designators, "task_designators"); err != nil {
		return nil, err
	}

	tasks, err := b.taskCache.Get(ctx, p.Designators)
	if err != nil {
		return nil, toolErr(err)
	}

	var text strings.Builder
	found := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if i > 0 {
			text.WriteString("\n")
		}
		text.WriteString(formatTask(t))
		found[t.Designator] = true
	}
	for _, d := range p.Designators {
		if !found[d] {
			fmt.Fprintf(&text, "\n%s: not found\n", d)
		}
	}

	return mcp.StructuredResult(text.String(), map[string]any{"tasks": tasks}), nil
}

func (b *Bridge) handleRequirementInfo(ctx context.Context, args json.RawMessage) (*mcp.ToolCallResult, error) {
	var p struct {
		Designators []string `json:"requirement_designators"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, validationErr("parsing arguments: %v", err)
	}
	if err := checkDesignators(p.Designators, "requirement_designators"); err != nil {
		return nil, err
	}

	reqs, err := b.reqCache.Get(ctx, p.Designators)
	if err != nil {
		return nil, toolErr(err)
	}

	var text strings.Builder
	found := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		fmt.Fprintf(&text, "%s: %s [%s]\n", r.Designator, r.Title, r.Status)
		if r.Content != "" {
			fmt.Fprintf(&text, "  %s\n", strings.ReplaceAll(r.Content, "\n", "\n  "))
		}
		for _, note := range r.Notes {
			fmt.Fprintf(&text, "  note: %s\n", note)
		}
		found[r.Designator] = true
	}
	for _, d := range p.Designators {
		if !found[d] {
			fmt.Fprintf(&text, "%s: not found\n", d)
		}
	}

	return mcp.StructuredResult(text.String(), map[string]any{"requirements": reqs}), nil
}

func (b *Bridge) handleVerifyToken(ctx context.Context, args json.RawMessage) (*mcp.ToolCallResult, error) {
	var p struct {
		Token string `json:"token"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, validationErr("parsing arguments: %v", err)
		}
	}

	info, err := b.backend.VerifyToken(ctx, p.Token)
	if err != nil {
		return nil, toolErr(err)
	}

	text := fmt.Sprintf("Token is valid for %s (API version %s).", info.ProfileEmail, info.APIVersion)
	return mcp.StructuredResult(text, info), nil
}

func (b *Bridge) handleListProjects(ctx context.Context, _ json.RawMessage) (*mcp.ToolCallResult, error) {
	projects, err := b.backend.ListProjects(ctx)
	if err != nil {
		return nil, toolErr(err)
	}

	var text strings.Builder
	if len(projects) == 0 {
		text.WriteString("No projects visible to this token.")
	}
	for _, p := range projects {
		fmt.Fprintf(&text, "%s: %s\n", p.ProjectID, p.Name)
	}

	return mcp.StructuredResult(text.String(), map[string]any{"projects": projects}), nil
}

func (b *Bridge) handleListPlans(ctx context.Context, args json.RawMessage) (*mcp.ToolCallResult, error) {
	var p struct {
		ProjectID string `json:"project_id"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, validationErr("parsing arguments: %v", err)
		}
	}
	projectID := p.ProjectID
	if projectID == "" {
		projectID = b.store.Session().ProjectID
	}
	if projectID == "" {
		return nil, validationErr("no project bound and no project_id given")
	}

	plans, err := b.backend.ListPlans(ctx, projectID)
	if err != nil {
		return nil, toolErr(err)
	}

	var text strings.Builder
	if len(plans) == 0 {
		fmt.Fprintf(&text, "Project %s has no plans.", projectID)
	}
	for _, pl := range plans {
		fmt.Fprintf(&text, "%s: %s\n", pl.PlanID, pl.Name)
	}

	return mcp.StructuredResult(text.String(), map[string]any{"plans": plans}), nil
}

func checkDesignators(designators []string, field string) error {
	if len(designators) == 0 {
		return validationErr("%s must not be empty", field)
	}
	for _, d := range designators {
		if strings.TrimSpace(d) == "" {
			return validationErr("%s contains an empty designator", field)
		}
	}
	return nil
}

// formatTask renders one task for the agent.
func formatTask(t session.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s [%s]\n", t.Designator, t.Name, t.Status)
	if t.Description != "" {
		fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(t.Description, "\n", "\n  "))
	}
	if len(t.Requirements) > 0 {
		fmt.Fprintf(&b, "  requirements: %s\n", strings.Join(t.Requirements, ", "))
	}
	for _, note := range t.Notes {
		fmt.Fprintf(&b, "  note: %s\n", note)
	}
	return b.String()
}

func writeTaskLines(w *strings.Builder, tasks []session.Task) {
	for _, t := range tasks {
		fmt.Fprintf(w, "%s: %s [%s]\n", t.Designator, t.Name, t.Status)
	}
}

// writeTaskTree renders tasks indented under their parents.
func writeTaskTree(w *strings.Builder, snap *session.TaskSnapshot, parent string, depth int) {
	for _, t := range snap.Children(parent) {
		fmt.Fprintf(w, "%s%s: %s [%s]\n", strings.Repeat("  ", depth), t.Designator, t.Name, t.Status)
		writeTaskTree(w, snap, t.Designator, depth+1)
	}
}
