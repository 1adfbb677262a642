package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/querychat/querychat/internal/config"
)

func TestTraceMiddlewarePreservesIncomingTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := TraceIDFromContext(r.Context()); got != "trace-1" {
			t.Fatalf("TraceIDFromContext() = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(traceHeader); got != "trace-1" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareGeneratesTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TraceIDFromContext(r.Context()) == "" {
			t.Fatal("expected generated trace id")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Header().Get(traceHeader) == "" {
		t.Fatal("expected X-Trace-ID header")
	}
}

func TestTraceIDContextHelpers(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "abc123")
	if got := TraceIDFromContext(ctx); got != "abc123" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
}

func TestTraceMiddlewareFallsBackToRequestID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(requestHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "req-42" {
		t.Fatalf("trace id = %q, want req-42", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "has space")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "has space" || len(seen) != 32 {
		t.Fatalf("trace id = %q, want a generated id", seen)
	}
}

func TestLoggingMiddlewareLevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{status: http.StatusAccepted, level: `"level":"INFO"`},
		{status: http.StatusBadRequest, level: `"level":"WARN"`},
		{status: http.StatusBadGateway, level: `"level":"ERROR"`},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
		if !strings.Contains(buf.String(), tc.level) {
			t.Fatalf("status %d log = %q, want %s", tc.status, buf.String(), tc.level)
		}
	}
}

func TestRecoverMiddlewareWritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := TraceMiddleware(RecoverMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/ask", nil)
	req.Header.Set(traceHeader, "trace-9")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error_code"] != "INTERNAL" || body["trace_id"] != "trace-9" {
		t.Fatalf("body = %v", body)
	}
	if !strings.Contains(buf.String(), "handler panic") || !strings.Contains(buf.String(), "boom") {
		t.Fatalf("log = %q", buf.String())
	}
}

func TestRecoverMiddlewareKeepsWrittenResponse(t *testing.T) {
	h := RecoverMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rr.Code != http.StatusAccepted || rr.Body.Len() != 0 {
		t.Fatalf("response = %d %q", rr.Code, rr.Body.String())
	}
}

func TestMetricsMiddlewareUsesMatchedPattern(t *testing.T) {
	mux := http.NewServeMux()
	var seen string
	mux.HandleFunc("DELETE /connections/{database}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		seen = routeLabel(r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/connections/AppDB", nil))
	if seen != "DELETE /connections/{database}" {
		t.Fatalf("routeLabel() = %q", seen)
	}
}

func TestRouteLabelUnmatched(t *testing.T) {
	if got := routeLabel(httptest.NewRequest(http.MethodGet, "/nope", nil)); got != "unmatched" {
		t.Fatalf("routeLabel() = %q", got)
	}
}

func TestNewLoggerSelectsHandler(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Profile: config.ProfileProd, Service: config.ServiceConfig{Name: "querychat-api"}}
	cfg.Observability.LogJSON = true
	cfg.Observability.LogLevel = slog.LevelInfo
	NewLogger(cfg, &buf).Info("hello", slog.String("database", "AppDB"))
	if !strings.Contains(buf.String(), `"service":"querychat-api"`) || !strings.Contains(buf.String(), `"database":"AppDB"`) {
		t.Fatalf("json log = %q", buf.String())
	}

	buf.Reset()
	cfg.Observability.LogJSON = false
	NewLogger(cfg, &buf).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug log should be filtered at info level: %q", buf.String())
	}
	NewLogger(cfg, &buf).Info("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("text log = %q", buf.String())
	}
}

func TestNewLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Service: config.ServiceConfig{Name: "querychat-api"}}
	cfg.Observability.LogJSON = true
	NewLogger(cfg, &buf).Info("saved",
		slog.String("password", "hunter2"),
		slog.String("gpt_api_key", "sk-live"),
		slog.String("db_password", "pw"),
		slog.String("host", "db.local"),
	)
	out := buf.String()
	for _, secret := range []string{"hunter2", "sk-live", `"pw"`} {
		if strings.Contains(out, secret) {
			t.Fatalf("log leaked %s: %q", secret, out)
		}
	}
	if !strings.Contains(out, `"host":"db.local"`) || !strings.Contains(out, redacted) {
		t.Fatalf("log = %q", out)
	}
}
