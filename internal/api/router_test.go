package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentoven/agentoven/context-plane/internal/api"
	"github.com/agentoven/agentoven/context-plane/internal/api/handlers"
	"github.com/agentoven/agentoven/context-plane/internal/config"
	"github.com/agentoven/agentoven/context-plane/internal/metrics"
	"github.com/agentoven/agentoven/context-plane/internal/orchestrator"
	"github.com/agentoven/agentoven/context-plane/internal/store"
	"github.com/agentoven/agentoven/context-plane/internal/tools"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *httptest.Server {
	t.Helper()

	m := metrics.New()
	s := store.New(store.NewMemoryBackend(""), store.WithMetrics(m))
	t.Cleanup(func() { s.Close() })

	reg := tools.NewRegistry()
	reg.RegisterFunc("echo", func(_ context.Context, _ models.Tool, params map[string]interface{}) (interface{}, error) {
		return params, nil
	})
	reg.RegisterFunc("read_file", func(_ context.Context, _ models.Tool, _ map[string]interface{}) (interface{}, error) {
		return nil, tools.NewToolError("read_file", "ENOENT: no such file or directory")
	})

	cfg := config.Defaults()
	for _, fn := range mutate {
		fn(cfg)
	}
	h := handlers.New(s, orchestrator.New(s, reg, orchestrator.WithMetrics(m)))
	srv := httptest.NewServer(api.NewRouter(cfg, h, m))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[map[string]string](t, body)["status"])

	resp, body = do(t, http.MethodGet, srv.URL+"/version", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "contextd", decode[map[string]string](t, body)["service"])
}

func TestContextLifecycle(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/api/v1/contexts"

	resp, body := do(t, http.MethodPost, base, map[string]interface{}{
		"modelId":      "m1",
		"initialState": map[string]interface{}{"a": 1},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	created := decode[models.Context](t, body)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, "m1", created.ModelID)

	resp, body = do(t, http.MethodGet, base+"/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[models.Context](t, body).ID)

	resp, body = do(t, http.MethodPut, base+"/"+created.ID, map[string]interface{}{
		"state":   map[string]interface{}{"b": 2},
		"version": 1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	updated := decode[models.Context](t, body)
	assert.Equal(t, int64(2), updated.Version)
	assert.JSONEq(t, `1`, string(updated.State["a"]))
	assert.JSONEq(t, `2`, string(updated.State["b"]))

	// Stale version.
	resp, body = do(t, http.MethodPut, base+"/"+created.ID, map[string]interface{}{
		"state":   map[string]interface{}{"c": 3},
		"version": 1,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, body)["error"], "expected 1, current 2")

	resp, body = do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.Context](t, body), 1)

	resp, body = do(t, http.MethodDelete, base+"/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]bool](t, body)["success"])

	resp, _ = do(t, http.MethodDelete, base+"/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, base+"/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateContext_BadBody(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/contexts", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAgentFlow(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/api/v1/llm/agents"

	resp, body := do(t, http.MethodPost, base, map[string]interface{}{
		"modelId": "gpt",
		"agent": map[string]interface{}{
			"name":  "helper",
			"model": "gpt-4",
			"tools": []map[string]interface{}{
				{"name": "echo", "description": "echo", "parameters": map[string]interface{}{"type": "object"}},
				{"name": "read_file", "description": "read", "parameters": map[string]interface{}{"type": "object"}},
			},
		},
		"systemPrompt": "be nice",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	out := decode[struct {
		Agent     models.Agent `json:"agent"`
		ContextID string       `json:"contextId"`
	}](t, body)
	require.NotEmpty(t, out.ContextID)
	assert.True(t, strings.HasPrefix(out.Agent.ID, "agent-"))
	ctxURL := base + "/" + out.ContextID

	resp, body = do(t, http.MethodPost, ctxURL+"/messages", map[string]string{"role": "user", "content": "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, _ = do(t, http.MethodPost, ctxURL+"/messages", map[string]string{"role": "system", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ctxURL+"/conversation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decode[[]models.Message](t, body)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Content)

	resp, body = do(t, http.MethodPost, ctxURL+"/tools/echo", map[string]interface{}{"x": 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	exec := decode[models.ToolExecution](t, body)
	assert.Equal(t, "echo", exec.Tool)
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, exec.Result)

	resp, _ = do(t, http.MethodPost, ctxURL+"/tools/missing", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ctxURL+"/tools/read_file", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ctxURL+"/tools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.ToolExecution](t, body), 1)

	resp, _ = do(t, http.MethodGet, base+"/nope/conversation", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteTool_NoAgent(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/contexts", map[string]interface{}{"modelId": "m"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decode[models.Context](t, body)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/llm/agents/"+c.ID+"/tools/echo", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no agent found in context", decode[map[string]string](t, body)["error"])
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.RateLimit.RPS = 0.001
		c.RateLimit.Burst = 1
	})

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/contexts", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/contexts", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Health stays outside the limiter.
	resp, _ = do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	do(t, http.MethodPost, srv.URL+"/api/v1/contexts", map[string]interface{}{"modelId": "m"})

	resp, body := do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "contextd_store_operations_total")
}

func TestStreamEvents(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	r, b := do(t, http.MethodPost, srv.URL+"/api/v1/contexts", map[string]interface{}{"modelId": "sse"})
	require.Equal(t, http.StatusCreated, r.StatusCode)
	created := decode[models.Context](t, b)

	ev := readSSEEvent(t, reader)
	assert.Equal(t, models.EventCreated, ev.Type)
	assert.Equal(t, created.ID, ev.ContextID)
}

func readSSEEvent(t *testing.T, r *bufio.Reader) models.ContextEvent {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			var ev models.ContextEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
			return ev
		}
	}
}

func TestEventSocket(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"event": "subscribe"}))
	var ack map[string]string
	require.NoError(t, wsjson.Read(ctx, conn, &ack))
	assert.Equal(t, "subscribed", ack["status"])

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/contexts", map[string]interface{}{"modelId": "ws"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Context](t, body)

	var frame struct {
		Event string              `json:"event"`
		Data  models.ContextEvent `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	assert.Equal(t, "contextEvent", frame.Event)
	assert.Equal(t, models.EventCreated, frame.Data.Type)
	assert.Equal(t, created.ID, frame.Data.ContextID)

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestEventSocket_ContextFilter(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/contexts", map[string]interface{}{"modelId": "a"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	target := decode[models.Context](t, body)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{
		"event": "subscribe",
		"data":  map[string]string{"contextId": target.ID},
	}))
	var ack map[string]string
	require.NoError(t, wsjson.Read(ctx, conn, &ack))

	// An unrelated context, then an update to the watched one.
	do(t, http.MethodPost, srv.URL+"/api/v1/contexts", map[string]interface{}{"modelId": "b"})
	resp, _ = do(t, http.MethodPut, fmt.Sprintf("%s/api/v1/contexts/%s", srv.URL, target.ID), map[string]interface{}{
		"state":   map[string]interface{}{"k": "v"},
		"version": 1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var frame struct {
		Event string              `json:"event"`
		Data  models.ContextEvent `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	assert.Equal(t, models.EventUpdated, frame.Data.Type)
	assert.Equal(t, target.ID, frame.Data.ContextID)
}
