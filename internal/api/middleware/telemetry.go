package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentoven/huddle/internal/telemetry"
)

var tracer = otel.Tracer("huddle/api")

// Telemetry opens a server span per request. The span is renamed to the
// matched chi route once routing is done and carries the session id of
// session routes, so a chat request and the pass it runs share a trace.
func Telemetry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				telemetry.AttrRequestID.String(chimw.GetReqID(r.Context())),
				telemetry.AttrStreaming.Bool(isStreaming(r)),
			),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			w.Header().Set("X-Trace-Id", sc.TraceID().String())
		}

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r.WithContext(ctx))

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(attribute.String("http.route", pattern))
			}
			if id := rctx.URLParam("id"); id != "" {
				span.SetAttributes(telemetry.AttrSessionID.String(id))
			}
		}
		span.SetAttributes(attribute.Int("http.response.status_code", rw.statusCode))
	})
}

// isStreaming reports whether the request opens a long-lived event stream.
func isStreaming(r *http.Request) bool {
	return strings.HasSuffix(r.URL.Path, "/chat") || strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
