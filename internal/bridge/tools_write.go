package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taskwire/taskwire/internal/log"
	"github.com/taskwire/taskwire/internal/mcp"
	"github.com/taskwire/taskwire/internal/session"
)

const (
	actionUpdateStatus = "update_status"
	actionAddNote      = "add_note"
)

func (b *Bridge) handleUpdateTask(ctx context.Context, args json.RawMessage) (*mcp.ToolCallResult, error) {
	var p struct {
		Designator string `json:"task_designator"`
		Action     string `json:"action"`
		Status     string `json:"status"`
		Note       string `json:"note"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, validationErr("parsing arguments: %v", err)
	}
	if strings.TrimSpace(p.Designator) == "" {
		return nil, validationErr("task_designator is required")
	}

	// All argument checking happens before any backend traffic.
	switch p.Action {
	case actionUpdateStatus:
		status, err := session.ParseTaskStatus(p.Status)
		if err != nil {
			return nil, validationErr("unknown status %q, expected one of %s", p.Status, strings.Join(taskStatusStrings(), ", "))
		}
		return b.updateStatus(ctx, p.Designator, status)
	case actionAddNote:
		if strings.TrimSpace(p.Note) == "" {
			return nil, validationErr("note is required for add_note")
		}
		return b.addTaskNote(ctx, p.Designator, p.Note)
	default:
		return nil, validationErr("unknown action %q, expected %s or %s", p.Action, actionUpdateStatus, actionAddNote)
	}
}

func (b *Bridge) updateStatus(ctx context.Context, designator string, status session.TaskStatus) (*mcp.ToolCallResult, error) {
	lock := b.writeLocks.get(designator)
	lock.Lock()
	defer lock.Unlock()

	sess := b.store.Session()
	updated, err := b.backend.UpdateTaskStatus(ctx, sess.ProjectID, sess.PlanID, designator, status)
	if err != nil {
		return nil, toolErr(err)
	}

	b.reconcileTask(updated)

	text := fmt.Sprintf("%s is now %s.", updated.Designator, updated.Status)
	return mcp.StructuredResult(text, updated), nil
}

func (b *Bridge) addTaskNote(ctx context.Context, designator, note string) (*mcp.ToolCallResult, error) {
	lock := b.writeLocks.get(designator)
	lock.Lock()
	defer lock.Unlock()

	sess := b.store.Session()
	receipt, err := b.backend.AddTaskNote(ctx, sess.ProjectID, sess.PlanID, designator, note)
	if err != nil {
		return nil, toolErr(err)
	}

	// The note lives on the backend; drop the cached detail and let the
	// next read pick it up.
	b.taskCache.Invalidate(designator)
	b.triggerRefresh()

	text := fmt.Sprintf("Note added to %s.", designator)
	return mcp.StructuredResult(text, receipt), nil
}

func (b *Bridge) handleRequirementAddNote(ctx context.Context, args json.RawMessage) (*mcp.ToolCallResult, error) {
	var p struct {
		Designator string `json:"requirement_designator"`
		Note       string `json:"note"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, validationErr("parsing arguments: %v", err)
	}
	if strings.TrimSpace(p.Designator) == "" {
		return nil, validationErr("requirement_designator is required")
	}
	if strings.TrimSpace(p.Note) == "" {
		return nil, validationErr("note is required")
	}

	receipt, err := b.backend.AddRequirementNote(ctx, b.store.Session().ProjectID, p.Designator, p.Note)
	if err != nil {
		return nil, toolErr(err)
	}

	b.reqCache.Invalidate(p.Designator)

	text := fmt.Sprintf("Note added to %s.", p.Designator)
	return mcp.StructuredResult(text, receipt), nil
}

// reconcileTask folds the backend's authoritative version of one task into
// the published snapshot so the agent reads its own write immediately. The
// patched snapshot carries a new fetch time; the triggered full refresh
// brings everything else up to date right after.
func (b *Bridge) reconcileTask(updated session.Task) {
	current := b.store.Snapshot()

	tasks := make([]session.Task, 0, len(current.Tasks)+1)
	replaced := false
	for _, t := range current.Tasks {
		if t.Designator == updated.Designator {
			tasks = append(tasks, updated)
			replaced = true
		} else {
			tasks = append(tasks, t)
		}
	}
	if !replaced {
		tasks = append(tasks, updated)
	}

	b.store.Publish(&session.TaskSnapshot{
		ProjectID: current.ProjectID,
		PlanID:    current.PlanID,
		Tasks:     tasks,
		FetchedAt: time.Now(),
	})

	b.taskCache.Invalidate(updated.Designator)
	b.triggerRefresh()

	log.Debug(log.CatMCP, "Reconciled task after write", "designator", updated.Designator, "status", updated.Status)
}
