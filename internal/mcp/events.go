package mcp

import (
	"encoding/json"
	"time"
)

// InvocationKind distinguishes what the agent invoked.
type InvocationKind string

const (
	InvocationToolCall     InvocationKind = "tool_call"
	InvocationResourceRead InvocationKind = "resource_read"
)

// Invocation is published on the server's broker for every tool call and
// resource read, so observers (the invocation journal, the status view) can
// record agent activity without hooking the dispatch path.
type Invocation struct {
	Timestamp    time.Time
	Kind         InvocationKind
	Name         string // tool name or resource URI
	RequestJSON  json.RawMessage
	ResponseJSON json.RawMessage
	Duration     time.Duration
	IsError      bool
	Error        string
}
