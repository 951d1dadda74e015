package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes describing which context a request touched.
const (
	AttrContextID   = attribute.Key("context.id")
	AttrToolName    = attribute.Key("tool.name")
	AttrEventFilter = attribute.Key("contextd.events.filter")
)

// Telemetry opens a server span per request. The span is renamed to the
// matched chi route once routing is done, and carries the context id and
// tool name taken from the route parameters.
func Telemetry(next http.Handler) http.Handler {
	tracer := otel.Tracer("contextd/http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.request_id", chimw.GetReqID(r.Context())),
			),
		)
		defer span.End()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r.WithContext(ctx))

		span.SetAttributes(routeAttributes(r)...)
		if rctx := chi.RouteContext(ctx); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(attribute.String("http.route", pattern))
			}
		}
		span.SetAttributes(attribute.Int("http.response.status_code", rw.statusCode))

		switch {
		case rw.statusCode >= 500:
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		case rw.statusCode == http.StatusConflict:
			span.AddEvent("version conflict")
		}
	})
}

// routeAttributes reads the route parameters chi resolved for r.
func routeAttributes(r *http.Request) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	rctx := chi.RouteContext(r.Context())
	if rctx != nil {
		for _, key := range []string{"id", "contextId"} {
			if v := rctx.URLParam(key); v != "" {
				attrs = append(attrs, AttrContextID.String(v))
				break
			}
		}
		if tool := rctx.URLParam("tool"); tool != "" {
			attrs = append(attrs, AttrToolName.String(tool))
		}
	}
	if filter := r.URL.Query().Get("contextId"); filter != "" {
		attrs = append(attrs, AttrEventFilter.String(filter))
	}
	return attrs
}
