package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentoven/agentoven/context-plane/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_Disabled(t *testing.T) {
	handler := middleware.RateLimit(0, 0)(okHandler())

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/contexts", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimit_Burst(t *testing.T) {
	handler := middleware.RateLimit(0.01, 3)(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("burst request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("over burst: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on rejected request")
	}
}

func TestLogger_PreservesFlusher(t *testing.T) {
	var flushed bool
	handler := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("Expected wrapped writer to implement http.Flusher")
		}
		w.Write([]byte("data: x\n\n"))
		f.Flush()
		flushed = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))

	if !flushed || !w.Flushed {
		t.Error("Expected flush to reach the underlying recorder")
	}
}

func TestLogger_PreservesHijacker(t *testing.T) {
	handler := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Hijacker); !ok {
			t.Error("Expected wrapped writer to implement http.Hijacker")
		}
		// httptest.ResponseRecorder cannot hijack; the wrapper must report
		// that instead of panicking.
		if _, _, err := w.(http.Hijacker).Hijack(); err == nil {
			t.Error("Expected error hijacking a recorder")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
}

func TestTelemetry_PassesThrough(t *testing.T) {
	handler := middleware.Telemetry(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTeapot)
	}
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTelemetry_SpanCarriesRouteAndContext(t *testing.T) {
	rec := recordSpans(t)

	r := chi.NewRouter()
	r.Use(middleware.Telemetry)
	r.Post("/api/v1/llm/agents/{contextId}/tools/{tool}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/llm/agents/ctx-1/tools/echo", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if want := "POST /api/v1/llm/agents/{contextId}/tools/{tool}"; span.Name() != want {
		t.Errorf("span name = %q, want %q", span.Name(), want)
	}
	attrs := spanAttrs(span)
	if got := attrs[middleware.AttrContextID].AsString(); got != "ctx-1" {
		t.Errorf("context.id = %q, want ctx-1", got)
	}
	if got := attrs[middleware.AttrToolName].AsString(); got != "echo" {
		t.Errorf("tool.name = %q, want echo", got)
	}
	if got := attrs["http.response.status_code"].AsInt64(); got != http.StatusCreated {
		t.Errorf("status attribute = %d, want %d", got, http.StatusCreated)
	}
}

func TestTelemetry_ConflictRecordsEvent(t *testing.T) {
	rec := recordSpans(t)

	r := chi.NewRouter()
	r.Use(middleware.Telemetry)
	r.Put("/api/v1/contexts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/v1/contexts/abc", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if got := spanAttrs(spans[0])[middleware.AttrContextID].AsString(); got != "abc" {
		t.Errorf("context.id = %q, want abc", got)
	}
	events := spans[0].Events()
	if len(events) != 1 || events[0].Name != "version conflict" {
		t.Errorf("span events = %+v, want one version conflict", events)
	}
}
