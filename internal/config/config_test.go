package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("querychat-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8000" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 || cfg.HTTP.AllowedOrigins[0] != "http://localhost:8501" {
		t.Fatalf("HTTP.AllowedOrigins = %#v", cfg.HTTP.AllowedOrigins)
	}
	if cfg.Settings.Backend != SettingsBackendFile {
		t.Fatalf("Settings.Backend = %q", cfg.Settings.Backend)
	}
	if cfg.Settings.FilePath != "config/config.json" {
		t.Fatalf("Settings.FilePath = %q", cfg.Settings.FilePath)
	}
	if cfg.Database.Dialect != "sqlserver" {
		t.Fatalf("Database.Dialect = %q", cfg.Database.Dialect)
	}
	if cfg.Database.HandleIdleTTL != 30*time.Minute {
		t.Fatalf("Database.HandleIdleTTL = %s", cfg.Database.HandleIdleTTL)
	}
	if cfg.Pipeline.HistoryTurns != 20 {
		t.Fatalf("Pipeline.HistoryTurns = %d", cfg.Pipeline.HistoryTurns)
	}
	if !cfg.Pipeline.RephraseEnabled {
		t.Fatal("Pipeline.RephraseEnabled should default to true")
	}
	if cfg.Pipeline.AskTimeout != 150*time.Second {
		t.Fatalf("Pipeline.AskTimeout = %s", cfg.Pipeline.AskTimeout)
	}
	if cfg.HTTP.WriteTimeout <= cfg.Pipeline.AskTimeout {
		t.Fatalf("HTTP.WriteTimeout = %s, want more than ask timeout %s", cfg.HTTP.WriteTimeout, cfg.Pipeline.AskTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("querychat-api", mapLookup(map[string]string{"QUERYCHAT_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.LogJSON {
		t.Fatal("LogJSON should default to true in prod")
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadTestProfileNeverExpiresHandles(t *testing.T) {
	cfg, err := Load("querychat-api", mapLookup(map[string]string{"QUERYCHAT_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.HandleIdleTTL != 0 {
		t.Fatalf("Database.HandleIdleTTL = %s", cfg.Database.HandleIdleTTL)
	}
	if cfg.HTTP.Address != ":18000" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	cfg, err := Load("querychat-api", mapLookup(map[string]string{
		"QUERYCHAT_SERVICE_NAME":                "querychat-custom",
		"QUERYCHAT_HTTP_ADDR":                   ":9999",
		"QUERYCHAT_HTTP_READ_TIMEOUT":           "2s",
		"QUERYCHAT_HTTP_ALLOWED_ORIGINS":        "http://a.example, ,http://b.example",
		"QUERYCHAT_SETTINGS_BACKEND":            "s3",
		"QUERYCHAT_SETTINGS_OBJECT_KEY":         "settings/querychat.json",
		"QUERYCHAT_OBJECTSTORE_ENDPOINT":        "s3.example.com",
		"QUERYCHAT_OBJECTSTORE_BUCKET":          "querychat",
		"QUERYCHAT_OBJECTSTORE_USE_SSL":         "true",
		"QUERYCHAT_DB_DIALECT":                  "postgres",
		"QUERYCHAT_DB_MAX_OPEN_CONNS":           "42",
		"QUERYCHAT_DB_OPEN_TIMEOUT":             "3s",
		"QUERYCHAT_DB_HANDLE_IDLE_TTL":          "0s",
		"QUERYCHAT_AI_BASE_URL":                 "https://llm.example.com",
		"QUERYCHAT_AI_DEFAULT_MODEL":            "gemini-1.5-flash",
		"QUERYCHAT_AI_TIMEOUT":                  "21s",
		"QUERYCHAT_AI_MAX_TOKENS":               "512",
		"QUERYCHAT_PIPELINE_EXECUTION_TIMEOUT":  "7s",
		"QUERYCHAT_PIPELINE_ROW_LIMIT":          "50",
		"QUERYCHAT_PIPELINE_SCHEMA_SAMPLE_ROWS": "0",
		"QUERYCHAT_PIPELINE_HISTORY_TURNS":      "4",
		"QUERYCHAT_PIPELINE_REPHRASE_ENABLED":   "false",
		"QUERYCHAT_LOG_LEVEL":                   "error",
		"QUERYCHAT_LOG_JSON":                    "true",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "querychat-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "http://b.example" {
		t.Fatalf("HTTP.AllowedOrigins = %#v", cfg.HTTP.AllowedOrigins)
	}
	if cfg.Settings.Backend != SettingsBackendS3 {
		t.Fatalf("Settings.Backend = %q", cfg.Settings.Backend)
	}
	if cfg.Settings.ObjectKey != "settings/querychat.json" {
		t.Fatalf("Settings.ObjectKey = %q", cfg.Settings.ObjectKey)
	}
	if cfg.Database.Dialect != "postgres" {
		t.Fatalf("Database.Dialect = %q", cfg.Database.Dialect)
	}
	if cfg.Database.MaxOpenConns != 42 {
		t.Fatalf("Database.MaxOpenConns = %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.OpenTimeout != 3*time.Second {
		t.Fatalf("Database.OpenTimeout = %s", cfg.Database.OpenTimeout)
	}
	if cfg.Database.HandleIdleTTL != 0 {
		t.Fatalf("Database.HandleIdleTTL = %s", cfg.Database.HandleIdleTTL)
	}
	if cfg.AI.BaseURL != "https://llm.example.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.DefaultModel != "gemini-1.5-flash" {
		t.Fatalf("AI.DefaultModel = %q", cfg.AI.DefaultModel)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxTokens != 512 {
		t.Fatalf("AI.MaxTokens = %d", cfg.AI.MaxTokens)
	}
	if cfg.Pipeline.ExecutionTimeout != 7*time.Second {
		t.Fatalf("Pipeline.ExecutionTimeout = %s", cfg.Pipeline.ExecutionTimeout)
	}
	if cfg.Pipeline.RowLimit != 50 {
		t.Fatalf("Pipeline.RowLimit = %d", cfg.Pipeline.RowLimit)
	}
	if cfg.Pipeline.SchemaSampleRows != 0 {
		t.Fatalf("Pipeline.SchemaSampleRows = %d", cfg.Pipeline.SchemaSampleRows)
	}
	if cfg.Pipeline.HistoryTurns != 4 {
		t.Fatalf("Pipeline.HistoryTurns = %d", cfg.Pipeline.HistoryTurns)
	}
	if cfg.Pipeline.RephraseEnabled {
		t.Fatal("Pipeline.RephraseEnabled = true, want false")
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"QUERYCHAT_PROFILE": "oops"},
		{"QUERYCHAT_HTTP_READ_TIMEOUT": "NaN"},
		{"QUERYCHAT_DB_MAX_OPEN_CONNS": "oops"},
		{"QUERYCHAT_DB_DIALECT": ""},
		{"QUERYCHAT_DB_HANDLE_IDLE_TTL": "-1m"},
		{"QUERYCHAT_SETTINGS_BACKEND": "ftp"},
		{"QUERYCHAT_SETTINGS_BACKEND": "s3"},
		{"QUERYCHAT_SETTINGS_FILE": ""},
		{"QUERYCHAT_PIPELINE_ROW_LIMIT": "-5"},
		{"QUERYCHAT_PIPELINE_ASK_TIMEOUT": "0s"},
		{"QUERYCHAT_HTTP_WRITE_TIMEOUT": "60s"},
		{"QUERYCHAT_HTTP_WRITE_TIMEOUT": "200s", "QUERYCHAT_PIPELINE_ASK_TIMEOUT": "200s"},
		{"QUERYCHAT_PIPELINE_REPHRASE_ENABLED": "not-bool"},
		{"QUERYCHAT_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("querychat-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadAllowsDisabledWriteTimeout(t *testing.T) {
	cfg, err := Load("querychat-api", mapLookup(map[string]string{
		"QUERYCHAT_HTTP_WRITE_TIMEOUT":   "0s",
		"QUERYCHAT_PIPELINE_ASK_TIMEOUT": "10m",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.WriteTimeout != 0 || cfg.Pipeline.AskTimeout != 10*time.Minute {
		t.Fatalf("WriteTimeout/AskTimeout = %s/%s", cfg.HTTP.WriteTimeout, cfg.Pipeline.AskTimeout)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
