package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/log"
	"github.com/taskwire/taskwire/internal/session"
)

// AuthState is the slice of the session store the client needs for
// credential fail-fast: once the backend rejects the token, every later
// call short-circuits locally until the process is restarted with a new
// token.
type AuthState interface {
	AuthValid() bool
	MarkAuthInvalid()
}

// Client talks to the taskwire backend API. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	agentName  string
	httpClient *http.Client
	retryMax   int
	backoff    time.Duration
	backoffCap time.Duration
	auth       AuthState
	tracer     oteltrace.Tracer

	mu          sync.Mutex
	lastLatency time.Duration
	maxLatency  time.Duration
}

// NewClient builds a client from the resolved config. auth may be nil in
// short-lived CLI contexts where there is no session store.
func NewClient(cfg config.Config, auth AuthState) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		agentName:  cfg.AgentName,
		httpClient: &http.Client{Timeout: cfg.Sync.RequestTimeout},
		retryMax:   cfg.Sync.RetryMax,
		backoff:    cfg.Sync.BackoffBase,
		backoffCap: cfg.Sync.BackoffCap,
		auth:       auth,
		tracer:     otel.Tracer("taskwire/backend"),
	}
}

// APILatency returns the duration of the most recent completed request and
// the maximum observed so far.
func (c *Client) APILatency() (last, max time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLatency, c.maxLatency
}

type callOpts struct {
	// write requests carry an idempotency key so a retried attempt cannot
	// apply twice on the backend.
	write bool
	// token verification is the one call allowed through after the session
	// credential has been invalidated.
	skipAuthGate bool
	// overrides c.token when non-empty (verify_token with explicit token).
	token string
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, opts callOpts) error {
	if !opts.skipAuthGate && c.auth != nil && !c.auth.AuthValid() {
		return &AuthError{Message: "session credential was rejected by the backend; restart with a valid token"}
	}

	token := c.token
	if opts.token != "" {
		token = opts.token
	}
	if token == "" {
		return &AuthError{Message: "no API token configured"}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	ctx, span := c.tracer.Start(ctx, method+" "+path,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("url.path", path),
		))
	defer span.End()

	idempotencyKey := ""
	if opts.write {
		idempotencyKey = uuid.NewString()
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, c.backoff, c.backoffCap)
			log.Debug(log.CatAPI, "Retrying request", "method", method, "path", path, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				span.SetStatus(codes.Error, ctx.Err().Error())
				return &NetworkError{Err: ctx.Err()}
			}
		}

		err := c.attempt(ctx, method, path, token, idempotencyKey, payload, out)
		if err == nil {
			span.SetAttributes(attribute.Int("http.retries", attempt))
			return nil
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, ctx.Err().Error())
			return &NetworkError{Err: ctx.Err()}
		}
		if !IsTransient(err) {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		lastErr = err
	}

	span.SetStatus(codes.Error, lastErr.Error())
	log.ErrorErr(log.CatAPI, "Request failed after retries", lastErr, "method", method, "path", path, "attempts", c.retryMax+1)
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, path, token, idempotencyKey string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &BackendError{Status: 0, Body: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.agentName != "" {
		req.Header.Set("X-Agent-Name", c.agentName)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	c.recordLatency(time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &NetworkError{Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return &BackendError{Status: resp.StatusCode, Body: "invalid JSON response: " + err.Error()}
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if c.auth != nil {
			c.auth.MarkAuthInvalid()
		}
		return &AuthError{Status: resp.StatusCode, Message: errBody(raw)}
	case resp.StatusCode == http.StatusConflict:
		return &ConflictError{Body: errBody(raw)}
	default:
		return &BackendError{Status: resp.StatusCode, Body: errBody(raw)}
	}
}

func (c *Client) recordLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLatency = d
	if d > c.maxLatency {
		c.maxLatency = d
	}
}

// errBody extracts a human-readable message from an error response,
// preferring a JSON {"detail": ...} or {"error": ...} field.
func errBody(raw []byte) string {
	var envelope struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if envelope.Detail != "" {
			return envelope.Detail
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		s = s[:512]
	}
	if s == "" {
		s = "no response body"
	}
	return s
}

// backoffDelay returns base*2^attempt with full positive jitter on the upper
// half, capped at cap.
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt && d < cap; i++ {
		d *= 2
	}
	if d > cap {
		d = cap
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

// VerifyToken checks a credential against the backend account endpoint.
// Passing an empty token verifies the configured one. This call bypasses the
// local fail-fast gate: it is the probe an operator uses after rotating the
// token.
func (c *Client) VerifyToken(ctx context.Context, token string) (AccountInfo, error) {
	var info AccountInfo
	err := c.do(ctx, http.MethodGet, "/v1/account", nil, &info, callOpts{skipAuthGate: true, token: token})
	return info, err
}

// ListProjects returns projects visible to the token.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/projects", nil, &resp, callOpts{})
	return resp.Projects, err
}

// ListPlans returns implementation plans for a project.
func (c *Client) ListPlans(ctx context.Context, projectID string) ([]Plan, error) {
	var resp struct {
		Plans []Plan `json:"plans"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(projectID)+"/plans", nil, &resp, callOpts{})
	return resp.Plans, err
}

// FetchPlanState retrieves the full task tree for the session's plan and
// stamps the snapshot with the local fetch time.
func (c *Client) FetchPlanState(ctx context.Context, projectID, planID string) (session.TaskSnapshot, error) {
	var resp struct {
		Tasks []session.Task `json:"tasks"`
	}
	path := c.planPath(projectID, planID) + "/state"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, callOpts{}); err != nil {
		return session.TaskSnapshot{}, err
	}
	return session.TaskSnapshot{
		ProjectID: projectID,
		PlanID:    planID,
		Tasks:     resp.Tasks,
		FetchedAt: time.Now(),
	}, nil
}

// NextTask asks the backend for the recommended next task. Returns nil when
// the plan has no actionable task.
func (c *Client) NextTask(ctx context.Context, projectID, planID string) (*session.Task, error) {
	var resp struct {
		Task *session.Task `json:"task"`
	}
	path := c.planPath(projectID, planID) + "/tasks/next"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, callOpts{}); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// TaskInfo fetches full detail for a batch of task designators.
func (c *Client) TaskInfo(ctx context.Context, projectID, planID string, designators []string) ([]session.Task, error) {
	req := struct {
		Designators []string `json:"task_designators"`
	}{Designators: designators}
	var resp struct {
		Tasks []session.Task `json:"tasks"`
	}
	path := c.planPath(projectID, planID) + "/tasks/info"
	err := c.do(ctx, http.MethodPost, path, req, &resp, callOpts{})
	return resp.Tasks, err
}

// UpdateTaskStatus transitions a task and returns the backend's
// authoritative view of it. A 409 surfaces as ConflictError with the
// designator filled in.
func (c *Client) UpdateTaskStatus(ctx context.Context, projectID, planID, designator string, status session.TaskStatus) (session.Task, error) {
	req := struct {
		Status session.TaskStatus `json:"status"`
	}{Status: status}
	var resp struct {
		Task session.Task `json:"task"`
	}
	path := c.planPath(projectID, planID) + "/tasks/" + url.PathEscape(designator) + "/status"
	err := c.do(ctx, http.MethodPut, path, req, &resp, callOpts{write: true})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			conflict.Designator = designator
		}
		return session.Task{}, err
	}
	return resp.Task, nil
}

// AddTaskNote appends a note to a task.
func (c *Client) AddTaskNote(ctx context.Context, projectID, planID, designator, content string) (NoteReceipt, error) {
	req := struct {
		Content string `json:"content"`
	}{Content: content}
	var receipt NoteReceipt
	path := c.planPath(projectID, planID) + "/tasks/" + url.PathEscape(designator) + "/notes"
	err := c.do(ctx, http.MethodPost, path, req, &receipt, callOpts{write: true})
	return receipt, err
}

// RequirementInfo fetches full detail for a batch of requirement designators.
func (c *Client) RequirementInfo(ctx context.Context, projectID string, designators []string) ([]Requirement, error) {
	req := struct {
		Designators []string `json:"requirement_designators"`
	}{Designators: designators}
	var resp struct {
		Requirements []Requirement `json:"requirements"`
	}
	path := "/v1/projects/" + url.PathEscape(projectID) + "/requirements/info"
	err := c.do(ctx, http.MethodPost, path, req, &resp, callOpts{})
	return resp.Requirements, err
}

// AddRequirementNote appends a note to a requirement.
func (c *Client) AddRequirementNote(ctx context.Context, projectID, designator, content string) (NoteReceipt, error) {
	req := struct {
		Content string `json:"content"`
	}{Content: content}
	var receipt NoteReceipt
	path := "/v1/projects/" + url.PathEscape(projectID) + "/requirements/" + url.PathEscape(designator) + "/notes"
	err := c.do(ctx, http.MethodPost, path, req, &receipt, callOpts{write: true})
	return receipt, err
}

func (c *Client) planPath(projectID, planID string) string {
	return "/v1/projects/" + url.PathEscape(projectID) + "/plans/" + url.PathEscape(planID)
}
