package bridge

import (
	"context"
	"encoding/json"

	"github.com/taskwire/taskwire/internal/mcp"
)

// Resource URIs served by the bridge.
const (
	ResourceProjectStatus = "taskwire://project/status"
	ResourceTasks         = "taskwire://tasks"
)

func (b *Bridge) registerResources(s *mcp.Server) {
	s.RegisterResource(mcp.Resource{
		URI:         ResourceProjectStatus,
		Name:        "Project status",
		Description: "Session binding, credential state, sync freshness, and task counts",
		MimeType:    "application/json",
	}, b.readProjectStatus)

	s.RegisterResource(mcp.Resource{
		URI:         ResourceTasks,
		Name:        "Task tree",
		Description: "The plan's task tree from the local snapshot, with a staleness flag",
		MimeType:    "application/json",
	}, b.readTasks)
}

func (b *Bridge) readProjectStatus(_ context.Context) (mcp.ResourceContents, error) {
	st := b.status.Status()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return mcp.ResourceContents{}, err
	}
	return mcp.ResourceContents{
		URI:      ResourceProjectStatus,
		MimeType: "application/json",
		Text:     string(data),
	}, nil
}

func (b *Bridge) readTasks(_ context.Context) (mcp.ResourceContents, error) {
	snap, stale := b.staleSnapshot()
	payload := snapshotPayload{
		ProjectID: snap.ProjectID,
		PlanID:    snap.PlanID,
		FetchedAt: snap.FetchedAt,
		Stale:     stale,
		Tasks:     snap.Tasks,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.ResourceContents{}, err
	}
	return mcp.ResourceContents{
		URI:      ResourceTasks,
		MimeType: "application/json",
		Text:     string(data),
	}, nil
}
