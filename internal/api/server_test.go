package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/config"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/events"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/gateway"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/orchestrator"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/relay"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/scheduler"
)

type memScheduleStore struct {
	mu      sync.Mutex
	byAgent map[string]*core.Schedule
}

func (m *memScheduleStore) Create(_ context.Context, s *core.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byAgent[s.AgentID]; ok {
		return core.ErrConflict(core.CodeScheduleExists, "duplicate")
	}
	cp := *s
	m.byAgent[s.AgentID] = &cp
	return nil
}

func (m *memScheduleStore) Update(_ context.Context, s *core.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.byAgent[s.AgentID] = &cp
	return nil
}

func (m *memScheduleStore) Delete(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byAgent, agentID)
	return nil
}

func (m *memScheduleStore) GetByAgentID(_ context.Context, agentID string) (*core.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byAgent[agentID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memScheduleStore) ListAll(_ context.Context) ([]*core.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Schedule, 0, len(m.byAgent))
	for _, s := range m.byAgent {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memScheduleStore) CountTriggeredSince(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

type stubAgentSvc struct {
	agents map[string]*core.Agent
}

func (s *stubAgentSvc) GetAgent(_ context.Context, agentID, userID string) (*core.Agent, error) {
	a, ok := s.agents[agentID]
	if !ok || a.UserID != userID {
		return nil, core.ErrNotFound(core.CodeAgentNotFound, "agent", agentID)
	}
	return a, nil
}

type stubRunner struct{}

func (stubRunner) Run(context.Context, orchestrator.RunRequest, relay.Sink) (string, error) {
	return "exec-1", nil
}

type memExecStore struct {
	byID map[string]*core.Execution
}

func (m *memExecStore) Create(_ context.Context, e *core.Execution) error {
	m.byID[e.ID] = e
	return nil
}

func (m *memExecStore) Complete(context.Context, string, core.ExecutionStatus, map[string]any, map[string]core.BlockState, string, time.Time) error {
	return nil
}

func (m *memExecStore) Get(_ context.Context, id string) (*core.Execution, error) {
	e, ok := m.byID[id]
	if !ok {
		return nil, core.ErrNotFound(core.CodeExecutionNotFound, "execution", id)
	}
	return e, nil
}

func (m *memExecStore) CountCreatedSince(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

type fixedQuota struct{}

func (fixedQuota) GetRemainingExecutions(context.Context, string) (int, error) { return 10, nil }

func workflowAgent(id, userID string, fileInput bool) *core.Agent {
	inputType := "text"
	if fileInput {
		inputType = core.InputTypeFile
	}
	return &core.Agent{
		ID:     id,
		UserID: userID,
		Workflow: &core.Workflow{Blocks: []core.Block{
			{ID: "in", Type: core.BlockTypeInput, InputType: inputType},
		}},
	}
}

func newTestServer(t *testing.T) (*Server, *events.Bus, *memExecStore) {
	t.Helper()

	agents := &stubAgentSvc{agents: map[string]*core.Agent{
		"a1": workflowAgent("a1", "u1", false),
		"f1": workflowAgent("f1", "u1", true),
	}}
	bus := events.New(16)
	t.Cleanup(bus.Close)

	schedules := scheduler.New(&memScheduleStore{byAgent: make(map[string]*core.Schedule)},
		agents, stubRunner{}, fixedQuota{}, bus, logging.NewNop())
	execs := &memExecStore{byID: make(map[string]*core.Execution)}
	gw := gateway.New(stubRunner{}, agents, gateway.DefaultConfig(), logging.NewNop())

	authCfg := config.AuthConfig{
		Tokens:  map[string]string{"tok-u1": "u1", "tok-u2": "u2"},
		DevUser: true,
	}
	return NewServer(schedules, execs, gw, bus, authCfg), bus, execs
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/schedules/usage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/schedules/usage", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/schedules/usage", "tok-u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDevUserHeader(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules/usage", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScheduleLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/agents/a1/schedule", "tok-u1",
		scheduleRequest{CronExpr: "0 9 * * *", Timezone: "UTC"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created core.Schedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "a1", created.AgentID)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/agents/a1/schedule", "tok-u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPut, "/api/v1/agents/a1/schedule", "tok-u1",
		scheduleRequest{CronExpr: "*/10 * * * *"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/agents/a1/schedule", "tok-u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/agents/a1/schedule", "tok-u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDuplicateScheduleIsConflict(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/agents/a1/schedule", "tok-u1",
		scheduleRequest{CronExpr: "0 9 * * *"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/agents/a1/schedule", "tok-u1",
		scheduleRequest{CronExpr: "0 18 * * *"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScheduleValidationErrorsMapTo400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/agents/a1/schedule", "tok-u1",
		scheduleRequest{CronExpr: "not a cron"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/agents/f1/schedule", "tok-u1",
		scheduleRequest{CronExpr: "0 9 * * *"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "30 minutes")
}

func TestUnknownAgentIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/agents/nope/schedule", "tok-u1",
		scheduleRequest{CronExpr: "0 9 * * *"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A foreign user's agent reads the same as a missing one.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/agents/a1/schedule", "tok-u2",
		scheduleRequest{CronExpr: "0 9 * * *"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunScheduleNow(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/agents/a1/schedule", "tok-u1",
		scheduleRequest{CronExpr: "0 9 * * *"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/agents/a1/schedule/run", "tok-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "exec-1")
}

type deadlineRunner struct {
	mu          sync.Mutex
	hasDeadline bool
}

func (r *deadlineRunner) Run(ctx context.Context, _ orchestrator.RunRequest, _ relay.Sink) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.hasDeadline = ctx.Deadline()
	return "exec-1", nil
}

func TestRunScheduleNotBoundByRequestTimeout(t *testing.T) {
	agents := &stubAgentSvc{agents: map[string]*core.Agent{
		"a1": workflowAgent("a1", "u1", false),
	}}
	bus := events.New(16)
	t.Cleanup(bus.Close)

	runner := &deadlineRunner{}
	schedules := scheduler.New(&memScheduleStore{byAgent: make(map[string]*core.Schedule)},
		agents, runner, fixedQuota{}, bus, logging.NewNop())
	gw := gateway.New(stubRunner{}, agents, gateway.DefaultConfig(), logging.NewNop())
	srv := NewServer(schedules, &memExecStore{byID: make(map[string]*core.Execution)}, gw, bus,
		config.AuthConfig{Tokens: map[string]string{"tok-u1": "u1"}})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/agents/a1/schedule", "tok-u1",
		scheduleRequest{CronExpr: "0 9 * * *"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/agents/a1/schedule/run", "tok-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.False(t, runner.hasDeadline,
		"a triggered run must not inherit a request deadline")
}

func TestGetExecutionScopedToOwner(t *testing.T) {
	srv, _, execs := newTestServer(t)
	execs.byID["e1"] = &core.Execution{ID: "e1", AgentID: "a1", UserID: "u1", Status: core.ExecutionStatusCompleted}

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/executions/e1", "tok-u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/executions/e1", "tok-u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/executions/missing", "tok-u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = doJSON(t, srv, http.MethodGet, "/health/system", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cpu_cores")
}

func TestSSEStreamsBusEvents(t *testing.T) {
	srv, bus, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok-u1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Handler().ServeHTTP(rec, req)
	}()

	// Give the handler time to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(events.NewExecutionStartedEvent("e1", "a1", "u1", core.TriggerManual))
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SSE handler did not exit after context cancel")
	}

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: connected"), body)
	assert.Contains(t, body, "event: execution_started")
	assert.Contains(t, body, `"execution_id":"e1"`)
}
