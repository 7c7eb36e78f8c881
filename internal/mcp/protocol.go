// Package mcp implements the Model Context Protocol server the coding agent
// connects to.
//
// MCP is a standard protocol for AI systems to communicate with external
// tools. This implementation speaks JSON-RPC 2.0 over newline-delimited
// stdio, with an optional HTTP POST transport, and exposes the task-bridge
// tools and read-only project resources.
package mcp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP protocol version this implementation supports.
const ProtocolVersion = "2024-11-05"

// JSON-RPC 2.0 version string.
const JSONRPCVersion = "2.0"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"` // Can be string, number, or null
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCP-specific error codes (reserved range: -32000 to -32099).
const (
	ErrCodeToolNotFound     = -32001
	ErrCodeToolExecFailed   = -32002
	ErrCodeResourceNotFound = -32003
)

// NewParseError creates a parse error response.
func NewParseError(data any) *RPCError {
	return &RPCError{Code: ErrCodeParseError, Message: "Parse error", Data: data}
}

// NewMethodNotFound creates a method not found error.
func NewMethodNotFound(method string) *RPCError {
	return &RPCError{Code: ErrCodeMethodNotFound, Message: "Method not found", Data: method}
}

// NewInvalidParams creates an invalid params error.
func NewInvalidParams(data any) *RPCError {
	return &RPCError{Code: ErrCodeInvalidParams, Message: "Invalid params", Data: data}
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *RPCError {
	return &RPCError{Code: ErrCodeInternalError, Message: message}
}

// NewToolNotFound creates a tool not found error.
func NewToolNotFound(toolName string) *RPCError {
	return &RPCError{Code: ErrCodeToolNotFound, Message: fmt.Sprintf("Unknown tool: %s", toolName), Data: toolName}
}

// NewResourceNotFound creates a resource not found error.
func NewResourceNotFound(uri string) *RPCError {
	return &RPCError{Code: ErrCodeResourceNotFound, Message: fmt.Sprintf("Unknown resource: %s", uri), Data: uri}
}

// InitializeParams contains the client's initialization parameters.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapability   `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult contains the server's initialization response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapability   `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ClientCapability describes what a client supports. Only presence matters
// to this server.
type ClientCapability struct {
	Roots    json.RawMessage `json:"roots,omitempty"`
	Sampling json.RawMessage `json:"sampling,omitempty"`
}

// ServerCapability describes what a server supports.
type ServerCapability struct {
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Tools     *ToolsCapability     `json:"tools,omitempty"`
}

// ResourcesCapability indicates readable resource support.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsCapability indicates callable tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ImplementationInfo identifies an MCP implementation.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// Tool defines an MCP tool that can be called.
type Tool struct {
	Name        string       `json:"name"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description"`
	InputSchema *InputSchema `json:"inputSchema"`
}

// InputSchema defines the JSON Schema for tool input.
type InputSchema struct {
	Type       string                     `json:"type"`
	Properties map[string]*PropertySchema `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
}

// PropertySchema defines a single property in a schema.
type PropertySchema struct {
	Type        string                     `json:"type"`
	Description string                     `json:"description,omitempty"`
	Enum        []string                   `json:"enum,omitempty"`
	Properties  map[string]*PropertySchema `json:"properties,omitempty"` // For nested objects
	Items       *PropertySchema            `json:"items,omitempty"`      // For array items
	Required    []string                   `json:"required,omitempty"`   // For object types
}

// ToolsListResult is the response for tools/list.
type ToolsListResult struct {
	Tools      []Tool  `json:"tools"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// ToolCallParams contains the parameters for a tools/call request.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult is the response for tools/call.
type ToolCallResult struct {
	Content           []ContentItem `json:"content"`
	IsError           bool          `json:"isError,omitempty"`
	StructuredContent any           `json:"structuredContent,omitempty"`
}

// ContentItem represents a single content item in a tool result.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent creates a text content item.
func TextContent(text string) ContentItem {
	return ContentItem{Type: "text", Text: text}
}

// SuccessResult creates a successful tool result with text content.
func SuccessResult(text string) *ToolCallResult {
	return &ToolCallResult{
		Content: []ContentItem{TextContent(text)},
		IsError: false,
	}
}

// ErrorResult creates an error tool result with text content.
func ErrorResult(text string) *ToolCallResult {
	return &ToolCallResult{
		Content: []ContentItem{TextContent(text)},
		IsError: true,
	}
}

// StructuredResult creates a successful tool result with both text content
// and structured content.
func StructuredResult(textContent string, structured any) *ToolCallResult {
	return &ToolCallResult{
		Content:           []ContentItem{TextContent(textContent)},
		IsError:           false,
		StructuredContent: structured,
	}
}

// Resource describes a readable resource exposed by the server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents is one block of a resources/read response.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ResourcesListResult is the response for resources/list.
type ResourcesListResult struct {
	Resources []Resource `json:"resources"`
}

// ResourceReadParams contains the parameters for a resources/read request.
type ResourceReadParams struct {
	URI string `json:"uri"`
}

// ResourceReadResult is the response for resources/read.
type ResourceReadResult struct {
	Contents []ResourceContents `json:"contents"`
}

// NewResponse creates a success response with the given result.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id json.RawMessage, err *RPCError) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
}
