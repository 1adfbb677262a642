package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querychat/querychat/internal/catalog"
	"github.com/querychat/querychat/internal/config"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/pipeline"
	"github.com/querychat/querychat/internal/registry"
	"github.com/querychat/querychat/internal/settings"
)

// maxChatHistory matches the chat client, which keeps the last 20 turns.
const maxChatHistory = 20

type ReadinessCheck func(ctx context.Context) error

type Asker interface {
	Answer(ctx context.Context, req pipeline.QueryRequest) (pipeline.QueryResult, error)
}

type SettingsManager interface {
	Current() settings.Configuration
	Save(ctx context.Context, cfg settings.Configuration) error
}

type Lister interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, database string) ([]catalog.Table, error)
}

type ConnectionManager interface {
	Handles() []registry.HandleInfo
	Invalidate(database string) int
	Purge() int
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Settings          SettingsManager
	Pipeline          Asker
	Catalog           Lister
	Connections       ConnectionManager
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	mux.HandleFunc("POST /convert-nl-to-sql-and-execute-with-validation/", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})

	mux.HandleFunc("POST /save-config-details", func(w http.ResponseWriter, r *http.Request) {
		handleSaveConfig(deps, w, r)
	})
	mux.HandleFunc("GET /config-details", func(w http.ResponseWriter, r *http.Request) {
		handleGetConfig(deps, w, r)
	})

	mux.HandleFunc("GET /list-databases", func(w http.ResponseWriter, r *http.Request) {
		handleListDatabases(deps, w, r)
	})
	mux.HandleFunc("GET /list-tables/", func(w http.ResponseWriter, r *http.Request) {
		handleListTables(deps, w, r)
	})
	mux.HandleFunc("GET /list-tables", func(w http.ResponseWriter, r *http.Request) {
		handleListTables(deps, w, r)
	})

	mux.HandleFunc("GET /connections", func(w http.ResponseWriter, r *http.Request) {
		handleListConnections(deps, w, r)
	})
	mux.HandleFunc("DELETE /connections", func(w http.ResponseWriter, r *http.Request) {
		handlePurgeConnections(deps, w, r)
	})
	mux.HandleFunc("DELETE /connections/{database}", func(w http.ResponseWriter, r *http.Request) {
		handleInvalidateConnection(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, observability.RecoverMiddleware(deps.Logger))
	if len(cfg.HTTP.AllowedOrigins) > 0 {
		middlewares = append(middlewares, cors.Handler(cors.Options{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Trace-ID"},
			ExposedHeaders: []string{"X-Trace-ID"},
			MaxAge:         300,
		}))
	}
	return chain(mux, middlewares...)
}

// SettingsReady fails until database credentials have been saved.
func SettingsReady(source registry.ConfigSource) ReadinessCheck {
	return func(_ context.Context) error {
		_, err := source.Require()
		return err
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError also sets "detail", which is where the chat clients look for
// the failure reason.
func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"detail":     message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("request body must contain a single JSON document")
	}
	return nil
}
