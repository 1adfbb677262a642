package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type SettingsBackend string

const (
	SettingsBackendFile SettingsBackend = "file"
	SettingsBackendS3   SettingsBackend = "s3"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Settings      SettingsConfig
	ObjectStore   ObjectStoreConfig
	Database      DatabaseConfig
	AI            AIConfig
	Pipeline      PipelineConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

// SettingsConfig selects where the operator-managed credentials and LLM
// settings are persisted.
type SettingsConfig struct {
	Backend   SettingsBackend
	FilePath  string
	ObjectKey string
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type DatabaseConfig struct {
	Dialect         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	OpenTimeout     time.Duration
	HandleIdleTTL   time.Duration
}

type AIConfig struct {
	BaseURL          string
	AnthropicBaseURL string
	GeminiBaseURL    string
	DefaultModel     string
	Timeout          time.Duration
	MaxTokens        int
}

type PipelineConfig struct {
	ExecutionTimeout time.Duration
	AskTimeout       time.Duration
	RowLimit         int
	SchemaSampleRows int
	SchemaWorkers    int
	HistoryTurns     int
	RephraseEnabled  bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYCHAT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYCHAT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []func() error{
		func() error { return applyString(lookup, "QUERYCHAT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "QUERYCHAT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "QUERYCHAT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "QUERYCHAT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "QUERYCHAT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyList(lookup, "QUERYCHAT_HTTP_ALLOWED_ORIGINS", &cfg.HTTP.AllowedOrigins) },
		func() error { return applySettingsBackend(lookup, "QUERYCHAT_SETTINGS_BACKEND", &cfg.Settings.Backend) },
		func() error { return applyString(lookup, "QUERYCHAT_SETTINGS_FILE", &cfg.Settings.FilePath) },
		func() error { return applyString(lookup, "QUERYCHAT_SETTINGS_OBJECT_KEY", &cfg.Settings.ObjectKey) },
		func() error { return applyString(lookup, "QUERYCHAT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "QUERYCHAT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "QUERYCHAT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "QUERYCHAT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "QUERYCHAT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "QUERYCHAT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "QUERYCHAT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "QUERYCHAT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyString(lookup, "QUERYCHAT_DB_DIALECT", &cfg.Database.Dialect) },
		func() error { return applyInt(lookup, "QUERYCHAT_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "QUERYCHAT_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error { return applyDuration(lookup, "QUERYCHAT_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime) },
		func() error { return applyDuration(lookup, "QUERYCHAT_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime) },
		func() error { return applyDuration(lookup, "QUERYCHAT_DB_OPEN_TIMEOUT", &cfg.Database.OpenTimeout) },
		func() error { return applyDuration(lookup, "QUERYCHAT_DB_HANDLE_IDLE_TTL", &cfg.Database.HandleIdleTTL) },
		func() error { return applyString(lookup, "QUERYCHAT_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "QUERYCHAT_AI_ANTHROPIC_BASE_URL", &cfg.AI.AnthropicBaseURL) },
		func() error { return applyString(lookup, "QUERYCHAT_AI_GEMINI_BASE_URL", &cfg.AI.GeminiBaseURL) },
		func() error { return applyString(lookup, "QUERYCHAT_AI_DEFAULT_MODEL", &cfg.AI.DefaultModel) },
		func() error { return applyDuration(lookup, "QUERYCHAT_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "QUERYCHAT_AI_MAX_TOKENS", &cfg.AI.MaxTokens) },
		func() error {
			return applyDuration(lookup, "QUERYCHAT_PIPELINE_EXECUTION_TIMEOUT", &cfg.Pipeline.ExecutionTimeout)
		},
		func() error { return applyDuration(lookup, "QUERYCHAT_PIPELINE_ASK_TIMEOUT", &cfg.Pipeline.AskTimeout) },
		func() error { return applyInt(lookup, "QUERYCHAT_PIPELINE_ROW_LIMIT", &cfg.Pipeline.RowLimit) },
		func() error { return applyInt(lookup, "QUERYCHAT_PIPELINE_SCHEMA_SAMPLE_ROWS", &cfg.Pipeline.SchemaSampleRows) },
		func() error { return applyInt(lookup, "QUERYCHAT_PIPELINE_SCHEMA_WORKERS", &cfg.Pipeline.SchemaWorkers) },
		func() error { return applyInt(lookup, "QUERYCHAT_PIPELINE_HISTORY_TURNS", &cfg.Pipeline.HistoryTurns) },
		func() error { return applyBool(lookup, "QUERYCHAT_PIPELINE_REPHRASE_ENABLED", &cfg.Pipeline.RephraseEnabled) },
		func() error { return applyBool(lookup, "QUERYCHAT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "QUERYCHAT_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Database.Dialect == "" {
		return Config{}, fmt.Errorf("database dialect is required")
	}
	switch cfg.Settings.Backend {
	case SettingsBackendFile:
		if cfg.Settings.FilePath == "" {
			return Config{}, fmt.Errorf("settings file path is required")
		}
	case SettingsBackendS3:
		if cfg.Settings.ObjectKey == "" {
			return Config{}, fmt.Errorf("settings object key is required")
		}
		if cfg.ObjectStore.Endpoint == "" || cfg.ObjectStore.Bucket == "" {
			return Config{}, fmt.Errorf("object store endpoint and bucket are required for s3 settings")
		}
	}
	if cfg.Pipeline.RowLimit < 0 {
		return Config{}, fmt.Errorf("pipeline row limit must be >= 0")
	}
	if cfg.Database.HandleIdleTTL < 0 {
		return Config{}, fmt.Errorf("handle idle ttl must be >= 0")
	}
	if cfg.Pipeline.AskTimeout <= 0 {
		return Config{}, fmt.Errorf("pipeline ask timeout must be > 0")
	}
	// A zero write timeout disables it in net/http.
	if cfg.HTTP.WriteTimeout > 0 && cfg.HTTP.WriteTimeout <= cfg.Pipeline.AskTimeout {
		return Config{}, fmt.Errorf("http write timeout %s must exceed pipeline ask timeout %s", cfg.HTTP.WriteTimeout, cfg.Pipeline.AskTimeout)
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querychat-api"},
		HTTP: HTTPConfig{
			Address:        ":8000",
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   180 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"http://localhost:8501"},
		},
		Settings: SettingsConfig{
			Backend:   SettingsBackendFile,
			FilePath:  "config/config.json",
			ObjectKey: "config/config.json",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "",
			Region:           "us-east-1",
			Bucket:           "",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		Database: DatabaseConfig{
			Dialect:         "sqlserver",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			OpenTimeout:     10 * time.Second,
			HandleIdleTTL:   30 * time.Minute,
		},
		AI: AIConfig{
			BaseURL:      "https://api.openai.com",
			DefaultModel: "gpt-4o-mini",
			Timeout:      60 * time.Second,
			MaxTokens:    2048,
		},
		Pipeline: PipelineConfig{
			ExecutionTimeout: 30 * time.Second,
			AskTimeout:       150 * time.Second,
			RowLimit:         1000,
			SchemaSampleRows: 3,
			SchemaWorkers:    4,
			HistoryTurns:     20,
			RephraseEnabled:  true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18000"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Database.HandleIdleTTL = 0
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	values := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		values = append(values, part)
	}
	*dst = values
	return nil
}

func applySettingsBackend(lookup LookupFunc, key string, dst *SettingsBackend) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	backend := SettingsBackend(strings.ToLower(strings.TrimSpace(raw)))
	switch backend {
	case SettingsBackendFile, SettingsBackendS3:
		*dst = backend
		return nil
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
