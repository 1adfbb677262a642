package api

import (
	"net/http"
	"strings"
)

func handleListDatabases(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "catalog is not configured", false, nil)
		return
	}
	databases, err := deps.Catalog.ListDatabases(r.Context())
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": databases})
}

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "catalog is not configured", false, nil)
		return
	}
	database := strings.TrimSpace(r.URL.Query().Get("database"))
	if database == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_REQUIRED", "Database name is required.", false, nil)
		return
	}
	tables, err := deps.Catalog.ListTables(r.Context(), database)
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}
