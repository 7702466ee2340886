package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return rec
}

func tracedRouter(validate TokenValidator) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Tracing("mockapi"))
	r.Use(OptionalAuth(validate))
	r.Get("/api/core/posts/{id}/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/boom/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	return r
}

func attrValue(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_NamesSpanAfterRoute(t *testing.T) {
	spans := installRecorder(t)
	r := tracedRouter(staticValidator("tok", &Claims{UserID: "7"}))

	req := httptest.NewRequest(http.MethodGet, "/api/core/posts/42/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set(CorrelationHeader, "corr-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, "GET /api/core/posts/{id}", span.Name())

	route, ok := attrValue(span, "http.route")
	require.True(t, ok)
	assert.Equal(t, "/api/core/posts/{id}", route.AsString())
	user, ok := attrValue(span, "enduser.id")
	require.True(t, ok)
	assert.Equal(t, "7", user.AsString())
	corr, ok := attrValue(span, "correlation_id")
	require.True(t, ok)
	assert.Equal(t, "corr-1", corr.AsString())
	assert.Equal(t, codes.Unset, span.Status().Code)
}

func TestTracing_ServerErrorMarksSpan(t *testing.T) {
	spans := installRecorder(t)
	tracedRouter(staticValidator("tok", nil)).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/api/boom/", nil))

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestTracing_RejectedTokenAddsEvent(t *testing.T) {
	spans := installRecorder(t)
	req := httptest.NewRequest(http.MethodGet, "/api/core/posts/1/", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := httptest.NewRecorder()
	tracedRouter(staticValidator("tok", &Claims{UserID: "1"})).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	events := ended[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "access token rejected", events[0].Name)
}

func TestTracing_ContinuesClientTrace(t *testing.T) {
	spans := installRecorder(t)
	const traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	req := httptest.NewRequest(http.MethodGet, "/api/core/posts/1/", nil)
	req.Header.Set("traceparent", traceparent)
	rec := httptest.NewRecorder()
	tracedRouter(staticValidator("tok", nil)).ServeHTTP(rec, req)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", ended[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", ended[0].Parent().SpanID().String())
	assert.Contains(t, rec.Header().Get("traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")
}
