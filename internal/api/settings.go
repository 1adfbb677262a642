package api

import (
	"errors"
	"net/http"

	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/settings"
)

const configSavedMessage = "Database and GPT details saved successfully!"

func handleSaveConfig(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Settings == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SETTINGS_NOT_CONFIGURED", "settings store is not configured", false, nil)
		return
	}

	var cfg settings.Configuration
	if err := decodeJSON(w, r, &cfg); err != nil {
		observability.ObserveSettingsSave("invalid")
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid configuration body", false, map[string]any{"details": err.Error()})
		return
	}

	if err := deps.Settings.Save(r.Context(), cfg); err != nil {
		var validationErr *settings.ValidationError
		if errors.As(err, &validationErr) {
			observability.ObserveSettingsSave("invalid")
			writeFailure(r.Context(), w, err)
			return
		}
		observability.ObserveSettingsSave("error")
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "save configuration failed", "error", err)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SETTINGS_SAVE_FAILED", "Error saving config details: "+err.Error(), true, nil)
		return
	}

	observability.ObserveSettingsSave("ok")
	if deps.Logger != nil {
		deps.Logger.InfoContext(r.Context(), "configuration saved",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port.String(),
			"model", cfg.GPT.Model,
		)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": configSavedMessage})
}

// handleGetConfig returns the active configuration with secrets masked.
func handleGetConfig(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Settings == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SETTINGS_NOT_CONFIGURED", "settings store is not configured", false, nil)
		return
	}
	current := deps.Settings.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"configured": current.Complete(),
		"config":     current.Redacted(),
	})
}
