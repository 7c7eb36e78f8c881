// Package session owns the process-wide project session state: the active
// project identity, the last published task snapshot, and sync bookkeeping.
// All mutation funnels through the Store; every other component only ever
// holds transient values obtained from it.
package session

import (
	"fmt"
	"time"
)

// TaskStatus enumerates valid task states.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusDone       TaskStatus = "done"
)

// AllTaskStatuses lists every valid status, in workflow order.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{StatusPending, StatusInProgress, StatusBlocked, StatusDone}
}

// ParseTaskStatus validates a wire/tool-supplied status string.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case StatusPending, StatusInProgress, StatusBlocked, StatusDone:
		return TaskStatus(s), nil
	default:
		return "", fmt.Errorf("invalid task status %q (valid: pending, in_progress, blocked, done)", s)
	}
}

// Task is a single task as observed from the backend.
type Task struct {
	Designator   string     `json:"task_designator"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Parent       string     `json:"parent,omitempty"`
	Requirements []string   `json:"requirements,omitempty"`
	Notes        []string   `json:"notes,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TaskSnapshot is an immutable point-in-time copy of the plan's task list.
// Snapshots are replaced wholesale on each successful sync, never mutated,
// so readers can hold one without locking.
type TaskSnapshot struct {
	ProjectID string    `json:"project_id"`
	PlanID    string    `json:"plan_id"`
	Tasks     []Task    `json:"tasks"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Task looks up a task by designator.
func (s *TaskSnapshot) Task(designator string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.Designator == designator {
			return t, true
		}
	}
	return Task{}, false
}

// Children returns tasks whose parent is the given designator.
// An empty designator returns root tasks.
func (s *TaskSnapshot) Children(designator string) []Task {
	var out []Task
	for _, t := range s.Tasks {
		if t.Parent == designator {
			out = append(out, t)
		}
	}
	return out
}

// CountsByStatus tallies tasks per status. Every status appears in the
// result, so consumers render stable rows even when counts are zero.
func (s *TaskSnapshot) CountsByStatus() map[TaskStatus]int {
	counts := make(map[TaskStatus]int, 4)
	for _, st := range AllTaskStatuses() {
		counts[st] = 0
	}
	for _, t := range s.Tasks {
		counts[t.Status]++
	}
	return counts
}

// Age returns the elapsed time since the snapshot was fetched.
func (s *TaskSnapshot) Age(now time.Time) time.Duration {
	if s.FetchedAt.IsZero() {
		return time.Duration(1<<63 - 1) // never fetched
	}
	return now.Sub(s.FetchedAt)
}

// ProjectSession identifies the active project. One instance per running
// server; created at startup from configuration.
type ProjectSession struct {
	ProjectID string
	PlanID    string
	BaseURL   string
	AgentName string
}

// SyncState is a value copy of the synchronizer's bookkeeping.
type SyncState struct {
	// Freshness is the time of the last successful snapshot publish.
	// Zero before the first sync completes.
	Freshness time.Time

	// ConsecutiveFailures counts refresh failures since the last success.
	ConsecutiveFailures int

	// LastError holds the most recent refresh error message, cleared on
	// success.
	LastError string

	// InFlight reports whether a refresh is currently running.
	InFlight bool
}

// Stale reports whether the snapshot age exceeds the given threshold.
func (s SyncState) Stale(now time.Time, threshold time.Duration) bool {
	if s.Freshness.IsZero() {
		return true
	}
	return now.Sub(s.Freshness) > threshold
}

// Update is the event payload the store publishes after every refresh
// outcome, consumed by the status view and other observers.
type Update struct {
	State  SyncState
	Counts map[TaskStatus]int
}
