package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")
	require.NotNil(t, s, "NewServer returned nil")
	require.Equal(t, "taskwire", s.info.Name, "info.Name mismatch")
	require.Equal(t, "1.0.0", s.info.Version, "info.Version mismatch")
}

func TestNewServerWithInstructions(t *testing.T) {
	s := NewServer("taskwire", "1.0.0", WithInstructions("Use these tools"))
	require.Equal(t, "Use these tools", s.instructions, "instructions mismatch")
}

func TestRegisterTool(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")

	tool := Tool{
		Name:        "test_tool",
		Description: "A test tool",
		InputSchema: &InputSchema{Type: "object"},
	}

	handler := func(_ context.Context, _ json.RawMessage) (*ToolCallResult, error) {
		return SuccessResult("ok"), nil
	}

	s.RegisterTool(tool, handler)

	_, toolOk := s.tools["test_tool"]
	require.True(t, toolOk, "Tool was not registered")
	_, handlerOk := s.handlers["test_tool"]
	require.True(t, handlerOk, "Handler was not registered")
}

// roundTrip feeds newline-delimited requests through Serve and returns the
// decoded responses in order.
func roundTrip(t *testing.T, s *Server, requests ...Request) []Response {
	t.Helper()

	var input bytes.Buffer
	for _, req := range requests {
		data, err := json.Marshal(req)
		require.NoError(t, err)
		input.Write(data)
		input.WriteByte('\n')
	}

	output := &bytes.Buffer{}
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(&input, output)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not drain input")
	}

	var responses []Response
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "bad response line: %s", line)
		responses = append(responses, resp)
	}
	return responses
}

func TestServerInitialize(t *testing.T) {
	s := NewServer("taskwire", "2.0.0", WithInstructions("Bridge instructions"))

	responses := roundTrip(t, s, Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
		Params: json.RawMessage(`{
			"protocolVersion": "2024-11-05",
			"capabilities": {},
			"clientInfo": {"name": "test-client", "version": "1.0.0"}
		}`),
	})

	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error, "Unexpected error: %v", responses[0].Error)

	resultData, _ := json.Marshal(responses[0].Result)
	var initResult InitializeResult
	require.NoError(t, json.Unmarshal(resultData, &initResult), "Failed to parse InitializeResult")

	require.Equal(t, ProtocolVersion, initResult.ProtocolVersion, "ProtocolVersion mismatch")
	require.Equal(t, "taskwire", initResult.ServerInfo.Name, "ServerInfo.Name mismatch")
	require.Equal(t, "Bridge instructions", initResult.Instructions, "Instructions mismatch")
	require.NotNil(t, initResult.Capabilities.Tools, "Tools capability missing")
	require.NotNil(t, initResult.Capabilities.Resources, "Resources capability missing")
}

func TestServerToolsListPreservesRegistrationOrder(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")
	for _, name := range []string{"tool_c", "tool_a", "tool_b"} {
		s.RegisterTool(Tool{
			Name:        name,
			Description: name,
			InputSchema: &InputSchema{Type: "object"},
		}, func(_ context.Context, _ json.RawMessage) (*ToolCallResult, error) {
			return SuccessResult("ok"), nil
		})
	}

	responses := roundTrip(t, s, Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(`1`),
		Method:  "tools/list",
	})

	resultData, _ := json.Marshal(responses[0].Result)
	var list ToolsListResult
	require.NoError(t, json.Unmarshal(resultData, &list))
	require.Len(t, list.Tools, 3)
	require.Equal(t, "tool_c", list.Tools[0].Name)
	require.Equal(t, "tool_a", list.Tools[1].Name)
	require.Equal(t, "tool_b", list.Tools[2].Name)
}

func TestServerToolsCall(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")
	s.RegisterTool(Tool{
		Name:        "echo",
		Description: "Echoes input",
		InputSchema: &InputSchema{Type: "object"},
	}, func(_ context.Context, args json.RawMessage) (*ToolCallResult, error) {
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
		return SuccessResult(p.Message), nil
	})

	responses := roundTrip(t, s, Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(`42`),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"echo","arguments":{"message":"hello"}}`),
	})

	require.Nil(t, responses[0].Error)
	resultData, _ := json.Marshal(responses[0].Result)
	var result ToolCallResult
	require.NoError(t, json.Unmarshal(resultData, &result))
	require.False(t, result.IsError)
	require.Equal(t, "hello", result.Content[0].Text)
}

func TestServerToolsCallUnknownTool(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")

	responses := roundTrip(t, s, Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"nope"}`),
	})

	require.NotNil(t, responses[0].Error, "expected RPC error")
	require.Equal(t, ErrCodeToolNotFound, responses[0].Error.Code)
}

func TestServerToolsCallHandlerErrorBecomesToolResult(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")
	s.RegisterTool(Tool{
		Name:        "broken",
		Description: "Always fails",
		InputSchema: &InputSchema{Type: "object"},
	}, func(_ context.Context, _ json.RawMessage) (*ToolCallResult, error) {
		return nil, errors.New("backend unreachable")
	})

	responses := roundTrip(t, s, Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"broken","arguments":{}}`),
	})

	require.Nil(t, responses[0].Error, "handler errors must not become RPC errors")
	resultData, _ := json.Marshal(responses[0].Result)
	var result ToolCallResult
	require.NoError(t, json.Unmarshal(resultData, &result))
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "backend unreachable")
}

func TestServerResourcesListAndRead(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")
	s.RegisterResource(Resource{
		URI:      "taskwire://tasks",
		Name:     "Task tree",
		MimeType: "application/json",
	}, func(_ context.Context) (ResourceContents, error) {
		return ResourceContents{URI: "taskwire://tasks", MimeType: "application/json", Text: `{"tasks":[]}`}, nil
	})

	responses := roundTrip(t, s,
		Request{JSONRPC: JSONRPCVersion, ID: json.RawMessage(`1`), Method: "resources/list"},
		Request{JSONRPC: JSONRPCVersion, ID: json.RawMessage(`2`), Method: "resources/read", Params: json.RawMessage(`{"uri":"taskwire://tasks"}`)},
	)
	require.Len(t, responses, 2)

	listData, _ := json.Marshal(responses[0].Result)
	var list ResourcesListResult
	require.NoError(t, json.Unmarshal(listData, &list))
	require.Len(t, list.Resources, 1)
	require.Equal(t, "taskwire://tasks", list.Resources[0].URI)

	readData, _ := json.Marshal(responses[1].Result)
	var read ResourceReadResult
	require.NoError(t, json.Unmarshal(readData, &read))
	require.Len(t, read.Contents, 1)
	require.Equal(t, `{"tasks":[]}`, read.Contents[0].Text)
}

func TestServerResourcesReadUnknownURI(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")

	responses := roundTrip(t, s, Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(`1`),
		Method:  "resources/read",
		Params:  json.RawMessage(`{"uri":"taskwire://nope"}`),
	})

	require.NotNil(t, responses[0].Error)
	require.Equal(t, ErrCodeResourceNotFound, responses[0].Error.Code)
}

func TestServerUnknownMethod(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")

	responses := roundTrip(t, s, Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(`1`),
		Method:  "prompts/list",
	})

	require.NotNil(t, responses[0].Error)
	require.Equal(t, ErrCodeMethodNotFound, responses[0].Error.Code)
}

func TestServerPing(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")

	responses := roundTrip(t, s, Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(`7`),
		Method:  "ping",
	})

	require.Nil(t, responses[0].Error)
	require.Equal(t, "7", string(responses[0].ID))
}

func TestServerNotificationGetsNoResponse(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")

	responses := roundTrip(t, s, Request{
		JSONRPC: JSONRPCVersion,
		Method:  "notifications/initialized",
	})

	require.Empty(t, responses, "notifications must not produce responses")
	require.True(t, s.initialized)
}

func TestServerParseError(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")

	input := strings.NewReader("{not json}\n")
	output := &bytes.Buffer{}
	require.NoError(t, s.Serve(input, output))

	var resp Response
	require.NoError(t, json.Unmarshal(output.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestServerHTTPTransport(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")
	s.RegisterTool(Tool{
		Name:        "echo",
		Description: "Echoes input",
		InputSchema: &InputSchema{Type: "object"},
	}, func(_ context.Context, _ json.RawMessage) (*ToolCallResult, error) {
		return SuccessResult("over http"), nil
	})

	srv := httptest.NewServer(s.ServeHTTP())
	defer srv.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{}}}`
	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rpcResp Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.Nil(t, rpcResp.Error)
}

func TestServerHTTPRejectsGet(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")
	srv := httptest.NewServer(s.ServeHTTP())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerPublishesInvocations(t *testing.T) {
	s := NewServer("taskwire", "1.0.0")
	s.RegisterTool(Tool{
		Name:        "echo",
		Description: "Echoes input",
		InputSchema: &InputSchema{Type: "object"},
	}, func(_ context.Context, _ json.RawMessage) (*ToolCallResult, error) {
		return SuccessResult("ok"), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := s.Broker().Subscribe(ctx)

	roundTrip(t, s, Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"echo","arguments":{}}`),
	})

	select {
	case evt := <-events:
		require.Equal(t, InvocationToolCall, evt.Payload.Kind)
		require.Equal(t, "echo", evt.Payload.Name)
		require.False(t, evt.Payload.IsError)
		require.NotZero(t, evt.Payload.Duration)
	case <-time.After(time.Second):
		t.Fatal("no invocation event published")
	}
}
