package bridge

import (
	"github.com/taskwire/taskwire/internal/mcp"
	"github.com/taskwire/taskwire/internal/session"
)

func noArgsSchema() *mcp.InputSchema {
	return &mcp.InputSchema{
		Type:       "object",
		Properties: map[string]*mcp.PropertySchema{},
	}
}

func statusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "taskwire_status",
		Description: "Get the integration status of the taskwire bridge: session binding, credential state, sync freshness, task counts, and IDE configuration. Call this first when something seems off.",
		InputSchema: noArgsSchema(),
	}
}

func nextTaskTool() mcp.Tool {
	return mcp.Tool{
		Name:        "taskwire_next_task",
		Description: "Ask the backend for the recommended next task to work on in the current plan. Returns nothing when every task is done or blocked.",
		InputSchema: noArgsSchema(),
	}
}

func listTasksTool() mcp.Tool {
	return mcp.Tool{
		Name:        "taskwire_list_tasks",
		Description: "List the plan's task tree from the local snapshot. Fast and offline-safe; the response carries a 'stale' flag when the snapshot has outlived the freshness threshold. Optionally filter by status.",
		InputSchema: &mcp.InputSchema{
			Type: "object",
			Properties: map[string]*mcp.PropertySchema{
				"status": {
					Type:        "string",
					Description: "Only return tasks with this status",
					Enum:        taskStatusStrings(),
				},
			},
		},
	}
}

func taskInfoTool() mcp.Tool {
	return mcp.Tool{
		Name:        "taskwire_task_info",
		Description: "Fetch full detail (description, requirements, notes) for one or more tasks by designator, e.g. 'T-3'.",
		InputSchema: &mcp.InputSchema{
			Type: "object",
			Properties: map[string]*mcp.PropertySchema{
				"task_designators": {
					Type:        "array",
					Description: "Task designators to look up",
					Items:       &mcp.PropertySchema{Type: "string"},
				},
			},
			Required: []string{"task_designators"},
		},
	}
}

func requirementInfoTool() mcp.Tool {
	return mcp.Tool{
		Name:        "taskwire_requirement_info",
		Description: "Fetch full detail for one or more requirements by designator, e.g. 'REQ-12'.",
		InputSchema: &mcp.InputSchema{
			Type: "object",
			Properties: map[string]*mcp.PropertySchema{
				"requirement_designators": {
					Type:        "array",
					Description: "Requirement designators to look up",
					Items:       &mcp.PropertySchema{Type: "string"},
				},
			},
			Required: []string{"requirement_designators"},
		},
	}
}

func updateTaskTool() mcp.Tool {
	return mcp.Tool{
		Name:        "taskwire_update_task",
		Description: "Apply a change to a task: transition its status or append a progress note. Writes go straight to the backend; a conflict with newer backend state is reported back instead of being overwritten.",
		InputSchema: &mcp.InputSchema{
			Type: "object",
			Properties: map[string]*mcp.PropertySchema{
				"task_designator": {
					Type:        "string",
					Description: "Designator of the task to change, e.g. 'T-3'",
				},
				"action": {
					Type:        "string",
					Description: "What to do",
					Enum:        []string{actionUpdateStatus, actionAddNote},
				},
				"status": {
					Type:        "string",
					Description: "New status, required for update_status",
					Enum:        taskStatusStrings(),
				},
				"note": {
					Type:        "string",
					Description: "Note text, required for add_note",
				},
			},
			Required: []string{"task_designator", "action"},
		},
	}
}

func requirementAddNoteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "taskwire_requirement_add_note",
		Description: "Append a note to a requirement, e.g. to record an implementation decision or an ambiguity found while coding.",
		InputSchema: &mcp.InputSchema{
			Type: "object",
			Properties: map[string]*mcp.PropertySchema{
				"requirement_designator": {
					Type:        "string",
					Description: "Designator of the requirement, e.g. 'REQ-12'",
				},
				"note": {
					Type:        "string",
					Description: "Note text",
				},
			},
			Required: []string{"requirement_designator", "note"},
		},
	}
}

func verifyTokenTool() mcp.Tool {
	return mcp.Tool{
		Name:        "taskwire_verify_token",
		Description: "Verify an API token against the backend and return the account it belongs to. Omit the token to verify the configured one.",
		InputSchema: &mcp.InputSchema{
			Type: "object",
			Properties: map[string]*mcp.PropertySchema{
				"token": {
					Type:        "string",
					Description: "Token to verify; defaults to the configured token",
				},
			},
		},
	}
}

func listProjectsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "taskwire_list_projects",
		Description: "List the projects visible to the configured token.",
		InputSchema: noArgsSchema(),
	}
}

func listPlansTool() mcp.Tool {
	return mcp.Tool{
		Name:        "taskwire_list_plans",
		Description: "List the implementation plans of a project. Defaults to the session's project.",
		InputSchema: &mcp.InputSchema{
			Type: "object",
			Properties: map[string]*mcp.PropertySchema{
				"project_id": {
					Type:        "string",
					Description: "Project to list plans for; defaults to the bound project",
				},
			},
		},
	}
}

func taskStatusStrings() []string {
	statuses := session.AllTaskStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
