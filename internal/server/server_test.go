package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Weaver/internal/server"
	"github.com/wehubfusion/Weaver/pkg/archive"
	"github.com/wehubfusion/Weaver/pkg/concurrency"
	"github.com/wehubfusion/Weaver/pkg/events"
	"github.com/wehubfusion/Weaver/pkg/executor"
	"github.com/wehubfusion/Weaver/pkg/runner"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type failingStore struct {
	archive.Store
}

func (failingStore) Save(context.Context, *workflow.WorkflowExecution) error {
	return errors.New("storage account unreachable")
}

type memoryJS struct {
	mu       sync.Mutex
	subjects []string
}

func (m *memoryJS) Publish(subj string, _ []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subj)
	return &nats.PubAck{Stream: events.DefaultStream}, nil
}

func (m *memoryJS) StreamInfo(string) (*nats.StreamInfo, error) {
	return nil, nats.ErrStreamNotFound
}

func (m *memoryJS) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	return &nats.StreamInfo{Config: *cfg}, nil
}

func newTestServer(t *testing.T, store archive.Store, limiter *concurrency.Limiter, opts ...server.Option) *server.Server {
	t.Helper()
	if store == nil {
		store = archive.NewMemoryStore()
	}
	opts = append([]server.Option{server.WithExecutorOptions(executor.WithNodeDelay(0))}, opts...)
	return server.NewServer(store, limiter, opts...)
}

func codeCanvas(code string) workflow.CanvasData {
	return workflow.CanvasData{
		Nodes: []workflow.Node{
			{ID: "t", Type: workflow.NodeTypeManualTrigger, Config: workflow.NodeConfig{}},
			{ID: "c", Type: workflow.NodeTypeCode, Config: workflow.NodeConfig{"code": code}},
		},
		Connections: []workflow.Connection{{ID: "e1", SourceID: "t", TargetID: "c"}},
	}
}

func failingCanvas() workflow.CanvasData {
	return workflow.CanvasData{
		Nodes: []workflow.Node{
			{ID: "t", Type: workflow.NodeTypeManualTrigger},
			{ID: "h", Type: workflow.NodeTypeHTTPRequest, Config: workflow.NodeConfig{"method": "GET"}},
		},
		Connections: []workflow.Connection{{ID: "e1", SourceID: "t", TargetID: "h"}},
	}
}

func do(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeRecord(t *testing.T, w *httptest.ResponseRecorder) workflow.WorkflowExecution {
	t.Helper()
	var rec workflow.WorkflowExecution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestServer(t, nil, concurrency.NewLimiter(3)).SetupRoutes()

	w := do(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["capacity"])
	assert.Equal(t, "closed", body["circuit"])
}

func TestMetricsEndpoint(t *testing.T) {
	collector := executor.NewMetricsCollector()
	router := newTestServer(t, nil, nil, server.WithMetrics(collector)).SetupRoutes()

	do(t, router, http.MethodPost, "/workflows/wf/executions", codeCanvas("return 1"))
	do(t, router, http.MethodPost, "/workflows/wf/executions", failingCanvas())

	w := do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Executor executor.Metrics `json:"executor"`
		Limiter  struct {
			Acquired int64 `json:"acquired"`
		} `json:"limiter"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Executor.RunsCompleted)
	assert.Equal(t, int64(1), body.Executor.RunsFailed)
	assert.Equal(t, int64(3), body.Executor.NodesExecuted)
	assert.Equal(t, int64(1), body.Executor.NodeErrors)
	assert.Equal(t, int64(2), body.Limiter.Acquired)
}

func TestCatalogEndpoints(t *testing.T) {
	router := newTestServer(t, nil, nil).SetupRoutes()

	w := do(t, router, http.MethodGet, "/catalog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 5, list.Count)

	w = do(t, router, http.MethodGet, "/catalog?category=trigger", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = do(t, router, http.MethodGet, "/catalog/action-http", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"label":"HTTP Request"`)

	w = do(t, router, http.MethodGet, "/catalog/action-email", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown node type")
}

func TestRunWorkflowArchivesRecord(t *testing.T) {
	store := archive.NewMemoryStore()
	router := newTestServer(t, store, nil).SetupRoutes()

	w := do(t, router, http.MethodPost, "/workflows/wf-1/executions", codeCanvas("return { ok: input.triggered }"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	rec := decodeRecord(t, w)
	assert.Equal(t, "wf-1", rec.WorkflowID)
	assert.Equal(t, workflow.ExecutionStatusCompleted, rec.Status)
	require.Len(t, rec.ExecutionData.Results, 2)
	assert.Equal(t, map[string]interface{}{"ok": true}, rec.ExecutionData.Results[1].Output)

	w = do(t, router, http.MethodGet, "/workflows/wf-1/executions/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rec.ID, decodeRecord(t, w).ID)

	w = do(t, router, http.MethodGet, "/workflows/wf-1/executions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = do(t, router, http.MethodGet, "/workflows/wf-1/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunWorkflowFailureReturnsRecord(t *testing.T) {
	store := archive.NewMemoryStore()
	router := newTestServer(t, store, nil).SetupRoutes()

	w := do(t, router, http.MethodPost, "/workflows/wf-2/executions", failingCanvas())
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	rec := decodeRecord(t, w)
	assert.Equal(t, workflow.ExecutionStatusFailed, rec.Status)
	assert.Equal(t, "URL is required", rec.ErrorMessage)
	assert.Equal(t, "h", rec.ExecutionData.CurrentNodeID)
	require.Len(t, rec.ExecutionData.Results, 2)
	assert.Nil(t, rec.ExecutionData.Results[1].Output)

	saved, err := store.Get(context.Background(), "wf-2", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionStatusFailed, saved.Status)
}

func TestRunWorkflowWithoutTrigger(t *testing.T) {
	router := newTestServer(t, nil, nil).SetupRoutes()
	canvas := workflow.CanvasData{Nodes: []workflow.Node{{ID: "c", Type: workflow.NodeTypeCode}}}

	w := do(t, router, http.MethodPost, "/workflows/wf/executions", canvas)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	rec := decodeRecord(t, w)
	assert.Equal(t, "No trigger node found in workflow", rec.ErrorMessage)
	assert.Empty(t, rec.ExecutionData.Results)
}

func TestRunWorkflowInvalidJSON(t *testing.T) {
	router := newTestServer(t, nil, nil).SetupRoutes()
	req := httptest.NewRequest(http.MethodPost, "/workflows/wf/executions", strings.NewReader("{nodes"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunWorkflowQueueFull(t *testing.T) {
	limiter := concurrency.NewLimiter(1)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	router := newTestServer(t, nil, limiter, server.WithRunQueueTimeout(10*time.Millisecond)).SetupRoutes()
	w := do(t, router, http.MethodPost, "/workflows/wf/executions", codeCanvas("return 1"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "too many runs in flight")
}

func TestArchiveFailuresSuspendRuns(t *testing.T) {
	limiter := concurrency.NewLimiterWithCircuitBreaker(2, concurrency.NewCircuitBreaker(1, time.Hour))
	router := newTestServer(t, failingStore{}, limiter).SetupRoutes()

	w := do(t, router, http.MethodPost, "/workflows/wf/executions", codeCanvas("return 1"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to save execution")

	w = do(t, router, http.MethodPost, "/workflows/wf/executions", codeCanvas("return 1"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRunFailuresDoNotSuspendRuns(t *testing.T) {
	limiter := concurrency.NewLimiterWithCircuitBreaker(1, concurrency.NewCircuitBreaker(1, time.Hour))
	router := newTestServer(t, nil, limiter).SetupRoutes()

	for i := 0; i < 3; i++ {
		w := do(t, router, http.MethodPost, "/workflows/wf/executions", failingCanvas())
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	}
	assert.Equal(t, concurrency.StateClosed, limiter.CircuitBreakerState())
}

func TestClientDisconnectsDoNotSuspendRuns(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := archive.NewRedisStore(client)

	limiter := concurrency.NewLimiterWithCircuitBreaker(2, concurrency.NewCircuitBreaker(1, time.Hour))
	router := newTestServer(t, store, limiter,
		server.WithExecutorOptions(executor.WithNodeDelay(100*time.Millisecond))).SetupRoutes()

	body, err := json.Marshal(codeCanvas("return 1"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		req := httptest.NewRequest(http.MethodPost, "/workflows/wf/executions", bytes.NewReader(body)).WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		cancel()

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	}
	assert.Equal(t, concurrency.StateClosed, limiter.CircuitBreakerState())

	records, err := store.List(context.Background(), "wf")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, workflow.ExecutionStatusFailed, rec.Status)
	}

	w := do(t, router, http.MethodPost, "/workflows/wf/executions", codeCanvas("return 1"))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRunPublishesLifecycle(t *testing.T) {
	js := &memoryJS{}
	pub, err := events.NewPublisher(js, events.Config{}, nil)
	require.NoError(t, err)

	router := newTestServer(t, nil, nil, server.WithPublisher(pub)).SetupRoutes()
	w := do(t, router, http.MethodPost, "/workflows/wf/executions", codeCanvas("return 1"))
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decodeRecord(t, w)

	prefix := events.DefaultSubjectPrefix + "." + rec.ID + "."
	assert.Equal(t, []string{
		prefix + "node.started",
		prefix + "node.completed",
		prefix + "node.started",
		prefix + "node.completed",
		prefix + "run.completed",
	}, js.subjects)
}

func TestWebSocketStreamsRunEvents(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	ts := httptest.NewServer(srv.SetupRoutes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?workflow_id=wf-ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	other, err := http.Post(ts.URL+"/workflows/other/executions", "application/json", mustJSON(t, codeCanvas("return 0")))
	require.NoError(t, err)
	_ = other.Body.Close()

	resp, err := http.Post(ts.URL+"/workflows/wf-ws/executions", "application/json", mustJSON(t, codeCanvas("return 2")))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var kinds []events.Kind
	for len(kinds) < 5 {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "wf-ws", ev.WorkflowID)
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []events.Kind{
		events.KindNodeStarted, events.KindNodeCompleted,
		events.KindNodeStarted, events.KindNodeCompleted,
		events.KindRunCompleted,
	}, kinds)

	srv.Hub().CloseAll()
	assert.Eventually(t, func() bool { return srv.Hub().ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWebSocketSubscribe(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	ts := httptest.NewServer(srv.SetupRoutes())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(server.SubscribeRequest{
		Type: "subscribe",
		Data: server.Subscription{RunID: "run-x"},
	}))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var ack map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack["type"])

	obs := srv.Hub().Observer("wf", "run-y")
	obs.NodeStarted("ignored")
	obs = srv.Hub().Observer("wf", "run-x")
	obs.NodeStarted("n1")

	var ev events.Event
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "run-x", ev.RunID)
	assert.Equal(t, "n1", ev.NodeID)
}

func mustJSON(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(context.Context, runner.Request) error {
	return errors.New("no responders")
}

func TestQueueWorkflow(t *testing.T) {
	js := &memoryJS{}
	router := newTestServer(t, nil, nil, server.WithQueue(runner.NewQueue(js, "jobs.runs"))).SetupRoutes()

	w := do(t, router, http.MethodPost, "/workflows/wf/queue", codeCanvas("return 1;"))
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "wf", body["workflow_id"])
	assert.Equal(t, "queued", body["status"])
	assert.NotEmpty(t, body["execution_id"])
	assert.Equal(t, []string{"jobs.runs"}, js.subjects)
}

func TestQueueWorkflowErrors(t *testing.T) {
	disabled := newTestServer(t, nil, nil).SetupRoutes()
	w := do(t, disabled, http.MethodPost, "/workflows/wf/queue", codeCanvas("return 1;"))
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	broken := newTestServer(t, nil, nil, server.WithQueue(brokenQueue{})).SetupRoutes()
	w = do(t, broken, http.MethodPost, "/workflows/wf/queue", codeCanvas("return 1;"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "no responders")
}
