package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/querychat/querychat/internal/nl2sql"
	"github.com/querychat/querychat/internal/pipeline"
	"github.com/querychat/querychat/internal/registry"
	"github.com/querychat/querychat/internal/settings"
)

// writeFailure maps domain errors onto the error envelope.
func writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		validationErr *settings.ValidationError
		connErr       *registry.ConnectionError
		genErr        *pipeline.GenerationError
		execErr       *pipeline.ExecutionError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_CONFIGURATION", err.Error(), false, map[string]any{"field": validationErr.Field})
	case errors.Is(err, pipeline.ErrQuestionRequired):
		writeError(ctx, w, http.StatusBadRequest, "QUERY_REQUIRED", err.Error(), false, nil)
	case errors.Is(err, registry.ErrDatabaseRequired):
		writeError(ctx, w, http.StatusBadRequest, "DATABASE_REQUIRED", "Database name is required.", false, nil)
	case errors.Is(err, settings.ErrConfigurationMissing):
		writeError(ctx, w, http.StatusPreconditionFailed, "CONFIGURATION_MISSING", err.Error(), false, nil)
	case errors.As(err, &connErr):
		writeError(ctx, w, http.StatusBadGateway, "CONNECTION_FAILED", err.Error(), true, map[string]any{"key": connErr.Key.String()})
	case errors.As(err, &genErr):
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", err.Error(), true, map[string]any{"provider": genErr.Provider, "model": genErr.Model})
	case errors.Is(err, nl2sql.ErrGenerationFailed):
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", err.Error(), true, nil)
	case errors.Is(err, nl2sql.ErrExtractionFailed):
		writeError(ctx, w, http.StatusUnprocessableEntity, "EXTRACTION_FAILED", err.Error(), false, nil)
	case errors.As(err, &execErr):
		writeError(ctx, w, http.StatusBadRequest, "EXECUTION_FAILED", err.Error(), false, map[string]any{"statement": execErr.Statement})
	case errors.Is(err, registry.ErrClosed):
		writeError(ctx, w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error(), true, nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "TIMEOUT", err.Error(), true, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", err.Error(), true, nil)
	}
}
