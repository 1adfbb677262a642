package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/querychat/querychat/internal/api"
	"github.com/querychat/querychat/internal/catalog"
	"github.com/querychat/querychat/internal/config"
	"github.com/querychat/querychat/internal/dialect"
	"github.com/querychat/querychat/internal/nl2sql"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/pipeline"
	"github.com/querychat/querychat/internal/query/sqlexec"
	"github.com/querychat/querychat/internal/registry"
	"github.com/querychat/querychat/internal/settings"
	s3store "github.com/querychat/querychat/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("querychat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	store, err := newSettingsStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize settings store", slog.Any("error", err))
		os.Exit(1)
	}
	manager, err := settings.NewManager(store)
	if err != nil {
		logger.Error("failed to initialize settings", slog.Any("error", err))
		os.Exit(1)
	}
	if err := manager.Load(context.Background()); err != nil {
		logger.Error("failed to load saved configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if !manager.Current().Complete() {
		logger.Warn("database details not configured yet; POST /save-config-details to set them")
	}

	sqlDialect, err := dialect.Lookup(cfg.Database.Dialect)
	if err != nil {
		logger.Error("unsupported database dialect", slog.Any("error", err))
		os.Exit(1)
	}
	handles, err := registry.New(registry.Config{
		Logger:          logger,
		Settings:        manager,
		Dialect:         sqlDialect,
		IdleTTL:         cfg.Database.HandleIdleTTL,
		OpenTimeout:     cfg.Database.OpenTimeout,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to initialize connection registry", slog.Any("error", err))
		os.Exit(1)
	}
	defer handles.Close()
	// Handles opened with the previous credentials must not outlive a save.
	manager.OnChange(func(settings.Configuration) { handles.Purge() })

	engine := sqlexec.NewEngine()
	catalogService, err := catalog.NewService(catalog.Config{
		Logger:        logger,
		Registry:      handles,
		Settings:      manager,
		Engine:        engine,
		SampleWorkers: cfg.Pipeline.SchemaWorkers,
	})
	if err != nil {
		logger.Error("failed to initialize catalog", slog.Any("error", err))
		os.Exit(1)
	}
	defer catalogService.Close()

	providers := nl2sql.ProviderConfig{
		OpenAIBaseURL:    cfg.AI.BaseURL,
		AnthropicBaseURL: cfg.AI.AnthropicBaseURL,
		GeminiBaseURL:    cfg.AI.GeminiBaseURL,
		DefaultModel:     cfg.AI.DefaultModel,
		MaxTokens:        cfg.AI.MaxTokens,
		Timeout:          cfg.AI.Timeout,
	}
	answerer, err := pipeline.New(pipeline.Config{
		Logger:   logger,
		Settings: manager,
		Registry: handles,
		Engine:   engine,
		Schema:   catalogService,
		Completers: func(ctx context.Context, gpt settings.GPT) (nl2sql.Completer, error) {
			return nl2sql.NewCompleter(ctx, providers, gpt)
		},
		GenerationTimeout: cfg.AI.Timeout,
		ExecutionTimeout:  cfg.Pipeline.ExecutionTimeout,
		AskTimeout:        cfg.Pipeline.AskTimeout,
		RowLimit:          cfg.Pipeline.RowLimit,
		SchemaSampleRows:  cfg.Pipeline.SchemaSampleRows,
		HistoryTurns:      cfg.Pipeline.HistoryTurns,
		RephraseEnabled:   cfg.Pipeline.RephraseEnabled,
	})
	if err != nil {
		logger.Error("failed to initialize query pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Readiness:         api.SettingsReady(manager),
		DependencyTimeout: time.Second,
		Settings:          manager,
		Pipeline:          answerer,
		Catalog:           catalogService,
		Connections:       handles,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dialect", sqlDialect.Name()),
			slog.String("settings_backend", string(cfg.Settings.Backend)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
}

func newSettingsStore(ctx context.Context, cfg config.Config) (settings.Store, error) {
	if cfg.Settings.Backend != config.SettingsBackendS3 {
		return settings.NewFileStore(cfg.Settings.FilePath)
	}
	objects, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return nil, err
	}
	return settings.NewObjectStore(objects, cfg.Settings.ObjectKey)
}
