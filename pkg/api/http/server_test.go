package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/application/orchestrator"
	"github.com/aescanero/canvas/internal/application/workers"
	brokermem "github.com/aescanero/canvas/pkg/adapters/broker/memory"
	promcollector "github.com/aescanero/canvas/pkg/adapters/metrics/prometheus"
	storemem "github.com/aescanero/canvas/pkg/adapters/storage/memory"
	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/task"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	reg := task.NewRegistry()
	reg.MustRegister("add", func(_ *task.Context, args []any, kwargs map[string]any) (any, error) {
		xy, err := task.Floats(args, kwargs, "x", "y")
		if err != nil {
			return nil, err
		}
		return xy[0] + xy[1], nil
	})
	reg.MustRegister("sleep", func(tc *task.Context, _ []any, _ map[string]any) (any, error) {
		select {
		case <-time.After(time.Second):
		case <-tc.Done():
		}
		return nil, nil
	})

	promReg := prometheus.NewRegistry()
	metrics := promcollector.NewCollector(promReg)

	broker := brokermem.NewBroker(zap.NewNop())
	store := storemem.NewResultStore()
	exec := workers.NewExecutor(reg, store, broker, metrics, zap.NewNop(), workers.ExecutorConfig{})
	pool := workers.NewPool(2, nil, broker, exec, metrics, zap.NewNop(), 0)
	require.NoError(t, pool.Start())

	manager := orchestrator.NewManager(broker, store, metrics, orchestrator.NewValidator(reg), zap.NewNop(), "", 10*time.Millisecond)
	srv := NewServer(&Config{
		Port:          0,
		Orchestrator:  manager,
		Pool:          pool,
		Gatherer:      promReg,
		ResultTimeout: 5 * time.Second,
		Logger:        zap.NewNop(),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
		broker.Close()
	})
	return ts
}

func submit(t *testing.T, ts *httptest.Server, graph string) (*http.Response, TaskSubmitResponse) {
	t.Helper()
	body := `{"graph": ` + graph + `}`
	resp, err := http.Post(ts.URL+"/api/v1/tasks", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out TaskSubmitResponse
	if resp.StatusCode == http.StatusCreated {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestSubmitAndResult(t *testing.T) {
	ts := newTestServer(t)

	resp, sub := submit(t, ts, `{"type":"chain","tasks":[
		{"type":"single","task":"add","args":[1,2]},
		{"type":"single","task":"add","args":[10]}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, sub.TaskID)
	assert.Equal(t, "PENDING", sub.State)

	var result ResultResponse
	status := getJSON(t, ts.URL+"/api/v1/tasks/"+sub.TaskID+"/result?timeout=5s", &result)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SUCCESS", result.State)
	assert.Equal(t, 13.0, result.Result)
	assert.Nil(t, result.Error)

	var st StatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/tasks/"+sub.TaskID+"/status", &st))
	assert.Equal(t, "SUCCESS", st.State)
	assert.True(t, st.Ready)

	var rec map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/tasks/"+sub.TaskID, &rec))
	assert.Equal(t, sub.TaskID, rec["id"])
}

func TestResultNotReady(t *testing.T) {
	ts := newTestServer(t)

	resp, sub := submit(t, ts, `{"type":"single","task":"sleep"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var e ErrorResponse
	status := getJSON(t, ts.URL+"/api/v1/tasks/"+sub.TaskID+"/result?timeout=50ms", &e)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "NOT_COMPLETED", e.Error.Code)

	status = getJSON(t, ts.URL+"/api/v1/tasks/"+sub.TaskID+"/result?timeout=soon", &e)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSubmitErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := submit(t, ts, `{"type":"single","task":"missing"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = submit(t, ts, `{"type":"triangle"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, err := http.Post(ts.URL+"/api/v1/tasks", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t)

	var e ErrorResponse
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/tasks/nope/status", &e))
	assert.Equal(t, "NOT_FOUND", e.Error.Code)
}

func TestHealthAndWorkers(t *testing.T) {
	ts := newTestServer(t)

	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &health))
	assert.Equal(t, "healthy", health["status"])

	var list struct {
		Data []WorkerResponse `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/workers", &list))
	require.Len(t, list.Data, 2)
	assert.Equal(t, "worker-0", list.Data[0].ID)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := submit(t, ts, `{"type":"single","task":"add","args":[1,1]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	r, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "canvas_graphs_submitted_total")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/tasks", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestClient(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.URL, nil)
	ctx := context.Background()

	id, err := c.Submit(ctx, canvas.Sig("add", 20, 22))
	require.NoError(t, err)

	var rec *domain.Record
	require.Eventually(t, func() bool {
		rec, err = c.Record(ctx, id)
		return err == nil && rec.Ready()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 42.0, rec.Result)

	_, err = c.Submit(ctx, canvas.Sig("missing"))
	assert.ErrorIs(t, err, domain.ErrUnknownTask)

	_, err = c.Record(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestMiddleware_RequestIDAndCORS(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	req, err = http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/tasks", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestMiddleware_RestrictedOrigins(t *testing.T) {
	srv := NewServer(&Config{AllowedOrigins: []string{"https://ui.example"}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for origin, want := range map[string]string{
		"https://ui.example":   "https://ui.example",
		"https://evil.example": "",
	} {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/tasks", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.Header.Get("Access-Control-Allow-Origin"), origin)
	}
}
