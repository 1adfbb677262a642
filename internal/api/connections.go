package api

import (
	"net/http"
	"strings"
)

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection registry is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": deps.Connections.Handles()})
}

func handlePurgeConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection registry is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evicted": deps.Connections.Purge()})
}

func handleInvalidateConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection registry is not configured", false, nil)
		return
	}
	database := strings.TrimSpace(r.PathValue("database"))
	if database == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_REQUIRED", "Database name is required.", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database": database,
		"evicted":  deps.Connections.Invalidate(database),
	})
}
