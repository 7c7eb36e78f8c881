package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/taskwire/taskwire/internal/log"
	"github.com/taskwire/taskwire/internal/pubsub"
)

// ToolHandler is a function that handles a tool call.
// It receives the parsed arguments and returns a result or error.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*ToolCallResult, error)

// ResourceHandler produces the current contents of a registered resource.
type ResourceHandler func(ctx context.Context) (ResourceContents, error)

// Server implements an MCP server over stdio, with an optional HTTP POST
// transport for local debugging.
type Server struct {
	info         ImplementationInfo
	instructions string

	toolOrder     []string
	tools         map[string]Tool
	handlers      map[string]ToolHandler
	resourceOrder []string
	resources     map[string]Resource
	readers       map[string]ResourceHandler

	reader io.Reader
	writer io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex

	initialized bool

	// broker fans out Invocation events to the journal and status view
	broker *pubsub.Broker[Invocation]
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithInstructions sets the server instructions sent during initialization.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// NewServer creates a new MCP server.
func NewServer(name, version string, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		info: ImplementationInfo{
			Name:    name,
			Version: version,
		},
		tools:     make(map[string]Tool),
		handlers:  make(map[string]ToolHandler),
		resources: make(map[string]Resource),
		readers:   make(map[string]ResourceHandler),
		ctx:       ctx,
		cancel:    cancel,
		broker:    pubsub.NewBrokerWithBuffer[Invocation](128),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RegisterTool registers a tool with its handler. Registration order is the
// order tools/list reports.
func (s *Server) RegisterTool(tool Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name]; !exists {
		s.toolOrder = append(s.toolOrder, tool.Name)
	}
	s.tools[tool.Name] = tool
	s.handlers[tool.Name] = handler
	log.Debug(log.CatMCP, "Registered tool", "name", tool.Name)
}

// RegisterResource registers a readable resource with its handler.
func (s *Server) RegisterResource(resource Resource, handler ResourceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.resources[resource.URI]; !exists {
		s.resourceOrder = append(s.resourceOrder, resource.URI)
	}
	s.resources[resource.URI] = resource
	s.readers[resource.URI] = handler
	log.Debug(log.CatMCP, "Registered resource", "uri", resource.URI)
}

// Broker returns the invocation event broker.
func (s *Server) Broker() *pubsub.Broker[Invocation] {
	return s.broker
}

// Serve starts the server, reading from stdin and writing to stdout.
func (s *Server) Serve(stdin io.Reader, stdout io.Writer) error {
	s.mu.Lock()
	s.reader = stdin
	s.writer = stdout
	s.mu.Unlock()

	return s.run()
}

// ServeHTTP returns an HTTP handler speaking the same JSON-RPC surface, one
// request per POST body.
func (s *Server) ServeHTTP() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}

		response := s.handleRequestBytes(body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(response); err != nil {
			log.Debug(log.CatMCP, "Failed to write response", "error", err)
		}
	})
}

// handleRequestBytes processes a single JSON-RPC request and returns the
// response bytes. Used by the HTTP transport.
func (s *Server) handleRequestBytes(body []byte) []byte {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		errResp := NewErrorResponse(nil, NewParseError(err.Error()))
		data, _ := json.Marshal(errResp)
		return data
	}

	if len(req.ID) > 0 && string(req.ID) != "null" {
		result, rpcErr := s.dispatch(&req)

		var resp *Response
		if rpcErr != nil {
			resp = NewErrorResponse(req.ID, rpcErr)
		} else {
			resp = NewResponse(req.ID, result)
		}

		data, _ := json.Marshal(resp)
		return data
	}

	s.handleNotification(&req)
	return []byte("{}")
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	s.cancel()
	s.broker.Close()
}

// run is the main stdio loop, one JSON-RPC message per line.
func (s *Server) run() error {
	scanner := bufio.NewScanner(s.reader)
	// Increase buffer for large messages
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		log.Debug(log.CatMCP, "Received message", "raw", string(line))

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.sendError(nil, NewParseError(err.Error()))
			continue
		}

		// json.RawMessage is []byte, so length distinguishes requests
		// from notifications
		if len(req.ID) > 0 && string(req.ID) != "null" {
			s.handleRequest(&req)
		} else {
			s.handleNotification(&req)
		}

		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		log.Debug(log.CatMCP, "Scanner error", "error", err)
		return fmt.Errorf("reading input: %w", err)
	}

	return nil
}

// dispatch routes a request to its method handler.
func (s *Server) dispatch(req *Request) (any, *RPCError) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "tools/list":
		return s.handleToolsList(req.Params)
	case "tools/call":
		return s.handleToolsCall(req.Params)
	case "resources/list":
		return s.handleResourcesList(req.Params)
	case "resources/read":
		return s.handleResourcesRead(req.Params)
	case "ping":
		return struct{}{}, nil
	default:
		return nil, NewMethodNotFound(req.Method)
	}
}

// handleRequest processes a JSON-RPC request and sends a response.
func (s *Server) handleRequest(req *Request) {
	log.Debug(log.CatMCP, "Handling request", "method", req.Method)

	result, rpcErr := s.dispatch(req)
	if rpcErr != nil {
		s.sendError(req.ID, rpcErr)
	} else {
		s.sendResult(req.ID, result)
	}
}

// handleNotification processes a JSON-RPC notification (no response needed).
func (s *Server) handleNotification(req *Request) {
	log.Debug(log.CatMCP, "Handling notification", "method", req.Method)

	switch req.Method {
	case "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		log.Debug(log.CatMCP, "Client initialized")

	case "notifications/cancelled":
		log.Debug(log.CatMCP, "Request cancelled")

	default:
		// Unknown notifications are ignored per spec
		log.Debug(log.CatMCP, "Unknown notification", "method", req.Method)
	}
}

// handleInitialize processes the initialize request.
func (s *Server) handleInitialize(params json.RawMessage) (any, *RPCError) {
	var p InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, NewInvalidParams(err.Error())
		}
	}

	log.Debug(log.CatMCP, "Initialize request",
		"clientVersion", p.ProtocolVersion,
		"clientName", p.ClientInfo.Name)

	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapability{
			Tools:     &ToolsCapability{ListChanged: false},
			Resources: &ResourcesCapability{},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}

	return result, nil
}

// handleToolsList returns the tools in registration order.
func (s *Server) handleToolsList(_ json.RawMessage) (any, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		tools = append(tools, s.tools[name])
	}

	return ToolsListResult{Tools: tools}, nil
}

// handleToolsCall invokes a tool and returns its result.
func (s *Server) handleToolsCall(params json.RawMessage) (any, *RPCError) {
	var p ToolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewInvalidParams(err.Error())
	}

	s.mu.RLock()
	handler, ok := s.handlers[p.Name]
	s.mu.RUnlock()

	if !ok {
		return nil, NewToolNotFound(p.Name)
	}

	log.Debug(log.CatMCP, "Calling tool", "name", p.Name)

	startTime := time.Now()
	result, err := handler(s.ctx, p.Arguments)
	duration := time.Since(startTime)

	s.publishInvocation(InvocationToolCall, p.Name, params, result, err, duration)

	if err != nil {
		log.Debug(log.CatMCP, "Tool execution failed", "name", p.Name, "error", err)
		// Handler failures become tool results, not RPC errors, so the
		// agent sees them inline
		return ErrorResult(err.Error()), nil
	}

	return result, nil
}

// handleResourcesList returns the resources in registration order.
func (s *Server) handleResourcesList(_ json.RawMessage) (any, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]Resource, 0, len(s.resourceOrder))
	for _, uri := range s.resourceOrder {
		resources = append(resources, s.resources[uri])
	}

	return ResourcesListResult{Resources: resources}, nil
}

// handleResourcesRead reads a single resource.
func (s *Server) handleResourcesRead(params json.RawMessage) (any, *RPCError) {
	var p ResourceReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewInvalidParams(err.Error())
	}

	s.mu.RLock()
	reader, ok := s.readers[p.URI]
	s.mu.RUnlock()

	if !ok {
		return nil, NewResourceNotFound(p.URI)
	}

	startTime := time.Now()
	contents, err := reader(s.ctx)
	duration := time.Since(startTime)

	s.publishInvocation(InvocationResourceRead, p.URI, params, contents, err, duration)

	if err != nil {
		log.Debug(log.CatMCP, "Resource read failed", "uri", p.URI, "error", err)
		return nil, NewInternalError(err.Error())
	}

	return ResourceReadResult{Contents: []ResourceContents{contents}}, nil
}

// publishInvocation publishes an Invocation for observers.
func (s *Server) publishInvocation(kind InvocationKind, name string, requestParams json.RawMessage, result any, err error, duration time.Duration) {
	if s.broker == nil {
		return
	}

	evt := Invocation{
		Timestamp:   time.Now(),
		Kind:        kind,
		Name:        name,
		RequestJSON: requestParams,
		Duration:    duration,
	}

	if result != nil {
		if respJSON, marshalErr := json.Marshal(result); marshalErr == nil {
			evt.ResponseJSON = respJSON
		}
	}

	if err != nil {
		evt.IsError = true
		evt.Error = err.Error()
	}

	s.broker.Publish(pubsub.CreatedEvent, evt)
}

// sendResult sends a success response.
func (s *Server) sendResult(id json.RawMessage, result any) {
	resp := NewResponse(id, result)
	s.send(resp)
}

// sendError sends an error response.
func (s *Server) sendError(id json.RawMessage, err *RPCError) {
	resp := NewErrorResponse(id, err)
	s.send(resp)
}

// send marshals and writes a response to stdout.
func (s *Server) send(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Debug(log.CatMCP, "Failed to marshal response", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return
	}

	// MCP uses newline-delimited JSON
	data = append(data, '\n')
	if _, err := s.writer.Write(data); err != nil {
		log.Debug(log.CatMCP, "Failed to write response", "error", err)
	}

	log.Debug(log.CatMCP, "Sent response", "raw", string(data[:len(data)-1]))
}
