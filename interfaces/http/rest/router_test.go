package rest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"canvaschat/application/ports"
	"canvaschat/application/services"
	messaging "canvaschat/infrastructure/messaging/memory"
	"canvaschat/pkg/observability"
)

// scriptedClient streams a fixed answer.
type scriptedClient struct {
	chunks []string
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Stream(ctx context.Context, _ ports.CompletionRequest, onChunk ports.ChunkHandler) error {
	for _, ch := range c.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(ch); err != nil {
			return err
		}
	}
	return nil
}

type fixture struct {
	server   *httptest.Server
	manager  *services.SessionManager
	metrics  *observability.Collector
	bus      *messaging.EventBus
	readyErr error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		metrics: observability.NewCollector("test"),
		bus:     messaging.NewEventBus(64, logger),
	}
	f.manager = services.NewSessionManager(services.ManagerOptions{
		Client:  &scriptedClient{chunks: []string{"ans", "wer"}},
		Bus:     f.bus,
		Metrics: f.metrics,
		Logger:  logger,
	})
	router := NewRouter(f.manager, f.bus, RouterOptions{
		MaxBodyBytes: 4096,
		Metrics:      f.metrics,
		Ready: map[string]ReadinessCheck{
			"store": func(context.Context) error { return f.readyErr },
		},
	}, logger)
	f.server = httptest.NewServer(router.Setup())
	t.Cleanup(func() {
		f.server.Close()
		_ = f.manager.Close(context.Background())
		f.bus.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"name": "test"})
	require.Equal(t, http.StatusCreated, status)
	return body["id"].(string)
}

func (f *fixture) createNode(t *testing.T, sid string, body map[string]interface{}) string {
	t.Helper()
	status, out := f.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/nodes", body)
	require.Equal(t, http.StatusCreated, status, "%v", out)
	return out["id"].(string)
}

func TestRouter_HealthAndReady(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	status, body = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	f.readyErr = errors.New("table missing")
	status, body = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "table missing", body["checks"].(map[string]interface{})["store"])
}

func TestRouter_NodeAndEdgeLifecycle(t *testing.T) {
	f := newFixture(t)
	sid := f.createSession(t)
	base := "/api/v1/sessions/" + sid

	root := f.createNode(t, sid, map[string]interface{}{"type": "human-message", "content": "hello", "x": 0, "y": 0})
	note := f.createNode(t, sid, map[string]interface{}{"type": "note", "content": "aside"})

	status, edge := f.do(t, http.MethodPost, base+"/edges", map[string]string{"source": root, "target": note, "type": "reference"})
	require.Equal(t, http.StatusCreated, status)

	status, updated := f.do(t, http.MethodPatch, base+"/nodes/"+note, map[string]interface{}{"title": "Side", "x": 500, "y": 40})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Side", updated["title"])
	assert.Equal(t, 500.0, updated["x"])

	status, graph := f.do(t, http.MethodGet, base+"/graph", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, graph["nodes"], 2)
	assert.Len(t, graph["edges"], 1)

	status, _ = f.do(t, http.MethodDelete, base+"/edges/"+edge["id"].(string), nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodDelete, base+"/nodes/"+note, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, body := f.do(t, http.MethodDelete, base+"/nodes/"+note, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["type"])
}

func TestRouter_Validation(t *testing.T) {
	f := newFixture(t)
	sid := f.createSession(t)
	base := "/api/v1/sessions/" + sid

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown node type", http.MethodPost, base + "/nodes", map[string]string{"type": "poem"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, base + "/nodes", map[string]string{"type": "note", "colour": "red"}, http.StatusBadRequest},
		{"half a position", http.MethodPost, base + "/nodes", map[string]interface{}{"type": "note", "x": 1}, http.StatusBadRequest},
		{"unknown edge type", http.MethodPost, base + "/edges", map[string]string{"source": "a", "target": "b", "type": "likes"}, http.StatusBadRequest},
		{"empty selection", http.MethodPost, base + "/context", map[string]interface{}{"node_ids": []string{}}, http.StatusBadRequest},
		{"bad strategy", http.MethodPost, base + "/layout", map[string]string{"strategy": "spiral"}, http.StatusBadRequest},
		{"bad row index", http.MethodDelete, base + "/matrices/m1/rows/minus", nil, http.StatusBadRequest},
		{"oversized body", http.MethodPost, base + "/nodes", map[string]string{"type": "note", "content": strings.Repeat("x", 5000)}, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/api/v1/sessions/nope/graph", nil, http.StatusNotFound},
		{"missing edge endpoint", http.MethodPost, base + "/edges", map[string]string{"source": "a", "target": "b", "type": "reply"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status, "%v", body)
			assert.Equal(t, true, body["error"])
		})
	}
}

func TestRouter_ContextLayoutAndReply(t *testing.T) {
	f := newFixture(t)
	sid := f.createSession(t)
	base := "/api/v1/sessions/" + sid

	q := f.createNode(t, sid, map[string]interface{}{"type": "human-message", "content": "why is the sky blue?"})

	status, ctxBody := f.do(t, http.MethodPost, base+"/context", map[string]interface{}{"node_ids": []string{q}})
	require.Equal(t, http.StatusOK, status)
	msgs := ctxBody["messages"].([]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]interface{})["role"])

	status, tokens := f.do(t, http.MethodPost, base+"/context/tokens", map[string]interface{}{"node_ids": []string{q}})
	require.Equal(t, http.StatusOK, status)
	assert.Greater(t, tokens["tokens"], 0.0)

	status, reply := f.do(t, http.MethodPost, base+"/replies", map[string]interface{}{"parent_ids": []string{q}})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "ai-message", reply["type"])

	svc, err := f.manager.Get(sid)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))

	status, node := f.do(t, http.MethodGet, base+"/nodes/"+reply["id"].(string), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "answer", node["content"])

	status, current := f.do(t, http.MethodGet, base+"/current", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, reply["id"], current["id"])

	status, laid := f.do(t, http.MethodPost, base+"/layout", map[string]interface{}{"strategy": "hierarchical"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hierarchical", laid["strategy"])
	assert.Len(t, laid["positions"], 2)
}

func TestRouter_MatrixFillAndHistory(t *testing.T) {
	f := newFixture(t)
	sid := f.createSession(t)
	base := "/api/v1/sessions/" + sid

	topic := f.createNode(t, sid, map[string]interface{}{"type": "human-message", "content": "databases"})
	status, m := f.do(t, http.MethodPost, base+"/matrices", map[string]interface{}{
		"question":   "compare",
		"rows":       []string{"postgres", "sqlite"},
		"columns":    []string{"speed"},
		"parent_ids": []string{topic},
	})
	require.Equal(t, http.StatusCreated, status, "%v", m)
	mid := m["id"].(string)

	status, key := f.do(t, http.MethodPost, fmt.Sprintf("%s/matrices/%s/cells/0/0/fill", base, mid), nil)
	require.Equal(t, http.StatusAccepted, status, "%v", key)
	assert.Equal(t, mid, key["entity_id"])
	assert.Equal(t, "0-0", key["sub_key"])

	svc, err := f.manager.Get(sid)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))

	status, hist := f.do(t, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, hist["can_undo"])

	status, step := f.do(t, http.MethodPost, base+"/history/undo", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, step["skipped"])
	assert.Equal(t, true, step["state"].(map[string]interface{})["can_redo"])

	status, body := f.do(t, http.MethodPost, base+"/history/undo", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "HISTORY_START", body["code"])

	status, idx := f.do(t, http.MethodPost, fmt.Sprintf("%s/matrices/%s/rows", base, mid), map[string]string{"label": "duckdb"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 2.0, idx["index"])

	status, stopped := f.do(t, http.MethodPost, fmt.Sprintf("%s/operations/%s/stop-all", base, mid), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0.0, stopped["stopped"])
}

func TestRouter_SessionsWithoutStore(t *testing.T) {
	f := newFixture(t)
	sid := f.createSession(t)

	status, list := f.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{sid}, list["live"])
	assert.NotContains(t, list, "stored")

	status, body := f.do(t, http.MethodPut, "/api/v1/sessions/"+sid+"/save", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "UNAVAILABLE", body["type"])

	status, _ = f.do(t, http.MethodDelete, "/api/v1/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodGet, "/api/v1/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouter_EventStream(t *testing.T) {
	f := newFixture(t)
	sid := f.createSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/v1/sessions/"+sid+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	id := f.createNode(t, sid, map[string]interface{}{"type": "note", "content": "hi", "x": 0, "y": 0})

	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, "node.added", event)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	assert.Equal(t, id, payload["node_id"])
	assert.Equal(t, sid, payload["aggregate_id"])
}

func TestRouter_Metrics(t *testing.T) {
	f := newFixture(t)
	f.createSession(t)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `test_http_requests_total{method="POST",route="/api/v1/sessions`)
	assert.Contains(t, buf.String(), `status="201"} 1`)
}
