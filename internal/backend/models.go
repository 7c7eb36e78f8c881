package backend

import "time"

// Project is a backend project the agent can bind the session to.
type Project struct {
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Plan is an implementation plan within a project.
type Plan struct {
	PlanID      string `json:"plan_id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Requirement is a specification item tasks link to by designator.
type Requirement struct {
	Designator  string   `json:"requirement_designator"`
	Title       string   `json:"title"`
	Content     string   `json:"content,omitempty"`
	Status      string   `json:"status,omitempty"`
	Notes       []string `json:"notes,omitempty"`
}

// AccountInfo is the payload returned by token verification.
type AccountInfo struct {
	ProfileEmail string `json:"profile_email"`
	APIVersion   string `json:"api_version"`
}

// NoteReceipt acknowledges a stored note.
type NoteReceipt struct {
	NoteID    string    `json:"note_id"`
	Timestamp time.Time `json:"timestamp"`
}
