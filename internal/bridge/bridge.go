// Package bridge wires the session store, backend gateway, and sync loop
// into the MCP tool surface the coding agent calls. Read tools answer from
// the in-memory snapshot and flag staleness; write tools go straight to the
// backend and reconcile the snapshot with what it returns.
package bridge

import (
	"context"
	"sync"

	"github.com/taskwire/taskwire/internal/backend"
	"github.com/taskwire/taskwire/internal/cache"
	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/integration"
	"github.com/taskwire/taskwire/internal/mcp"
	"github.com/taskwire/taskwire/internal/session"
)

// Instructions is the workflow guidance handed to the agent during the MCP
// initialize handshake.
const Instructions = `Taskwire bridges this session to the team's hosted project plan.

Workflow:
1. Call taskwire_next_task to get the next actionable task.
2. Set it to in_progress with taskwire_update_task before starting work.
3. Read linked requirements with taskwire_requirement_info before coding.
4. Record findings as you go with taskwire_update_task action=add_note.
5. Mark the task done (or blocked, with a note explaining why) when finished.

Read tools answer from a locally synced snapshot and may report stale=true;
treat stale data as advisory and re-read before acting on it. On a conflict
error, re-read the task with taskwire_task_info and retry with the current
state.`

// Backend is the slice of the gateway client the tools need.
type Backend interface {
	VerifyToken(ctx context.Context, token string) (backend.AccountInfo, error)
	ListProjects(ctx context.Context) ([]backend.Project, error)
	ListPlans(ctx context.Context, projectID string) ([]backend.Plan, error)
	NextTask(ctx context.Context, projectID, planID string) (*session.Task, error)
	TaskInfo(ctx context.Context, projectID, planID string, designators []string) ([]session.Task, error)
	UpdateTaskStatus(ctx context.Context, projectID, planID, designator string, status session.TaskStatus) (session.Task, error)
	AddTaskNote(ctx context.Context, projectID, planID, designator, content string) (backend.NoteReceipt, error)
	RequirementInfo(ctx context.Context, projectID string, designators []string) ([]backend.Requirement, error)
	AddRequirementNote(ctx context.Context, projectID, designator, content string) (backend.NoteReceipt, error)
}

// Refresher requests an on-demand snapshot refresh.
type Refresher interface {
	TriggerRefresh()
}

// Bridge owns the tool and resource handlers.
type Bridge struct {
	store     *session.Store
	backend   Backend
	refresher Refresher
	status    *integration.Service
	cfg       config.Config

	taskCache *cache.ReadThrough[session.Task]
	reqCache  *cache.ReadThrough[backend.Requirement]

	// writeLocks serializes writes per task designator so two agent calls
	// cannot interleave status transitions on the same task.
	writeLocks keyedMutex
}

// New builds the bridge. refresher may be nil when no sync loop is running
// (one-shot CLI contexts).
func New(store *session.Store, be Backend, refresher Refresher, status *integration.Service, cfg config.Config) *Bridge {
	b := &Bridge{
		store:     store,
		backend:   be,
		refresher: refresher,
		status:    status,
		cfg:       cfg,
	}

	taskStore := cache.NewStore[session.Task]("task-info", cache.DefaultExpiration, cache.DefaultCleanupInterval)
	b.taskCache = cache.NewReadThrough(taskStore,
		func(ctx context.Context, designators []string) ([]session.Task, error) {
			sess := store.Session()
			return be.TaskInfo(ctx, sess.ProjectID, sess.PlanID, designators)
		},
		func(t session.Task) string { return t.Designator },
		false)

	reqStore := cache.NewStore[backend.Requirement]("requirement-info", cache.DefaultExpiration, cache.DefaultCleanupInterval)
	b.reqCache = cache.NewReadThrough(reqStore,
		func(ctx context.Context, designators []string) ([]backend.Requirement, error) {
			return be.RequirementInfo(ctx, store.Session().ProjectID, designators)
		},
		func(r backend.Requirement) string { return r.Designator },
		false)

	return b
}

// Register installs every tool and resource on the MCP server.
func (b *Bridge) Register(s *mcp.Server) {
	s.RegisterTool(statusTool(), b.handleStatus)
	s.RegisterTool(nextTaskTool(), b.handleNextTask)
	s.RegisterTool(listTasksTool(), b.handleListTasks)
	s.RegisterTool(taskInfoTool(), b.handleTaskInfo)
	s.RegisterTool(requirementInfoTool(), b.handleRequirementInfo)
	s.RegisterTool(updateTaskTool(), b.handleUpdateTask)
	s.RegisterTool(requirementAddNoteTool(), b.handleRequirementAddNote)
	s.RegisterTool(verifyTokenTool(), b.handleVerifyToken)
	s.RegisterTool(listProjectsTool(), b.handleListProjects)
	s.RegisterTool(listPlansTool(), b.handleListPlans)

	b.registerResources(s)
}

// triggerRefresh is a nil-safe wrapper around the refresher.
func (b *Bridge) triggerRefresh() {
	if b.refresher != nil {
		b.refresher.TriggerRefresh()
	}
}

// keyedMutex hands out one mutex per key, created on first use. Keys are
// task designators; the map stays small for any real plan.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
