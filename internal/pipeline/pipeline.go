// Package pipeline answers a natural-language question against one
// database: generate SQL, pull the statement out, run it, and describe the
// result in prose.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/querychat/querychat/internal/nl2sql"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/query"
	"github.com/querychat/querychat/internal/registry"
	"github.com/querychat/querychat/internal/settings"
)

const (
	defaultGenerationTimeout = 60 * time.Second
	defaultExecutionTimeout  = 30 * time.Second
	defaultAskTimeout        = 150 * time.Second
)

var (
	ErrQuestionRequired = errors.New("question is required")
	ErrExecutionFailed  = errors.New("sql execution failed")
)

// GenerationError reports a failed model call. It unwraps to
// nl2sql.ErrGenerationFailed.
type GenerationError struct {
	Provider string
	Model    string
	Err      error
}

func (e *GenerationError) Error() string {
	return e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ExecutionError carries the statement the database rejected.
type ExecutionError struct {
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", ErrExecutionFailed, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecutionFailed }

type Resolver interface {
	Resolve(ctx context.Context, database string) (*registry.Handle, error)
}

// SchemaLoader describes the tables of a handle's database.
type SchemaLoader interface {
	TableContexts(ctx context.Context, h *registry.Handle, sampleRows int) ([]nl2sql.TableContext, error)
}

// CompleterFactory builds a model client from the saved gpt settings.
type CompleterFactory func(ctx context.Context, gpt settings.GPT) (nl2sql.Completer, error)

type Config struct {
	Logger     *slog.Logger
	Settings   registry.ConfigSource
	Registry   Resolver
	Engine     query.Engine
	Completers CompleterFactory

	// Optional.
	Schema            SchemaLoader
	Clock             clockwork.Clock
	GenerationTimeout time.Duration
	ExecutionTimeout  time.Duration
	AskTimeout        time.Duration
	RowLimit          int
	SchemaSampleRows  int
	HistoryTurns      int
	RephraseEnabled   bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Settings == nil {
		return errors.New("settings source is required")
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Engine == nil {
		return errors.New("query engine is required")
	}
	if c.Completers == nil {
		return errors.New("completer factory is required")
	}
	if c.RowLimit < 0 {
		return errors.New("row limit must be >= 0")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = defaultGenerationTimeout
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = defaultExecutionTimeout
	}
	if c.AskTimeout <= 0 {
		c.AskTimeout = defaultAskTimeout
	}
	if c.HistoryTurns < 0 {
		c.HistoryTurns = 0
	}
	return nil
}

type QueryRequest struct {
	Question string
	Database string
	History  []nl2sql.Message
}

type QueryResult struct {
	Question   string
	Database   string
	SQL        string
	Result     query.Result
	ResultText string
	// Answer is the rephrased prose, or ResultText when rephrasing is off
	// or failed.
	Answer        string
	RephraseError string
	Duration      time.Duration
}

type Pipeline struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger.With("component", "pipeline")}, nil
}

// Answer runs one question end to end under AskTimeout. Generation,
// extraction and execution failures are terminal and nothing is retried; a
// failed rephrase still returns the statement and its result. Schema loading
// is bounded by ExecutionTimeout.
func (p *Pipeline) Answer(ctx context.Context, req QueryRequest) (QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AskTimeout)
	defer cancel()

	start := p.cfg.Clock.Now()
	res, err := p.answer(ctx, req)
	res.Duration = p.cfg.Clock.Since(start)

	outcome := outcomeFor(err)
	if err == nil && res.RephraseError != "" {
		outcome = "partial"
	}
	observability.ObserveAsk(outcome, res.Duration)
	if err != nil {
		p.log.Warn("question failed", "database", req.Database, "outcome", outcome, "statement", res.SQL, "error", err)
		return res, err
	}
	p.log.Info("question answered",
		"database", res.Database,
		"statement", res.SQL,
		"rows", len(res.Result.Rows),
		"is_write", res.Result.IsWrite,
		"outcome", outcome,
		"duration", res.Duration.String(),
	)
	return res, nil
}

func (p *Pipeline) answer(ctx context.Context, req QueryRequest) (QueryResult, error) {
	res := QueryResult{
		Question: strings.TrimSpace(req.Question),
		Database: strings.TrimSpace(req.Database),
	}
	if res.Question == "" {
		return res, ErrQuestionRequired
	}
	if res.Database == "" {
		return res, registry.ErrDatabaseRequired
	}

	cfg, err := p.cfg.Settings.Require()
	if err != nil {
		return res, err
	}
	if strings.TrimSpace(cfg.GPT.APIKey) == "" {
		return res, fmt.Errorf("%w: gpt api key is not set", settings.ErrConfigurationMissing)
	}

	var h *registry.Handle
	if err := p.stage("resolve", func() error {
		var err error
		h, err = p.cfg.Registry.Resolve(ctx, res.Database)
		return err
	}); err != nil {
		return res, err
	}
	defer h.Release()

	var tables []nl2sql.TableContext
	if p.cfg.Schema != nil {
		_ = p.stage("schema", func() error {
			schemaCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecutionTimeout)
			defer cancel()
			var err error
			tables, err = p.cfg.Schema.TableContexts(schemaCtx, h, p.cfg.SchemaSampleRows)
			if err != nil {
				p.log.Warn("table context unavailable", "database", res.Database, "error", err)
			}
			return err
		})
	}

	completer, err := p.cfg.Completers(ctx, cfg.GPT)
	if err != nil {
		return res, &GenerationError{Model: cfg.GPT.Model, Err: fmt.Errorf("%w: %w", nl2sql.ErrGenerationFailed, err)}
	}

	var text string
	if err := p.stage("generate", func() error {
		generator, err := nl2sql.NewGenerator(completer, p.cfg.HistoryTurns)
		if err != nil {
			return err
		}
		genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerationTimeout)
		defer cancel()
		text, err = generator.Generate(genCtx, nl2sql.GenerateRequest{
			Question: res.Question,
			Dialect:  h.Dialect.Name(),
			Tables:   tables,
			History:  req.History,
		})
		observability.ObserveLLMCompletion(completer.Provider(), outcomeFor(err))
		return err
	}); err != nil {
		return res, &GenerationError{Provider: completer.Provider(), Model: completer.Model(), Err: err}
	}

	if err := p.stage("extract", func() error {
		var err error
		res.SQL, err = nl2sql.ExtractStatement(text)
		if err != nil {
			p.log.Debug("model output without statement", "output", text)
		}
		return err
	}); err != nil {
		return res, err
	}

	if err := p.stage("execute", func() error {
		execCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecutionTimeout)
		defer cancel()
		var err error
		res.Result, err = p.cfg.Engine.Execute(execCtx, query.Request{DB: h.DB, SQL: res.SQL, RowLimit: p.cfg.RowLimit})
		return err
	}); err != nil {
		return res, &ExecutionError{Statement: res.SQL, Err: err}
	}
	res.ResultText = res.Result.Text()
	res.Answer = res.ResultText

	if !p.cfg.RephraseEnabled {
		return res, nil
	}
	_ = p.stage("rephrase", func() error {
		rephraser, err := nl2sql.NewRephraser(completer)
		if err != nil {
			return err
		}
		answer, err := rephraser.Rephrase(ctx, res.Question, res.SQL, res.ResultText)
		observability.ObserveLLMCompletion(completer.Provider(), outcomeFor(err))
		if err != nil {
			res.RephraseError = err.Error()
			p.log.Warn("rephrase failed, returning raw result", "database", res.Database, "error", err)
			return err
		}
		res.Answer = answer
		return nil
	})
	return res, nil
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := p.cfg.Clock.Now()
	err := fn()
	observability.ObservePipelineStage(name, outcomeFor(err), p.cfg.Clock.Since(start))
	return err
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, settings.ErrConfigurationMissing):
		return "config_missing"
	case errors.Is(err, registry.ErrConnectionFailed):
		return "connection_failed"
	case errors.Is(err, nl2sql.ErrGenerationFailed):
		return "generation_failed"
	case errors.Is(err, nl2sql.ErrExtractionFailed):
		return "extraction_failed"
	case errors.Is(err, ErrExecutionFailed):
		return "execution_failed"
	case errors.Is(err, nl2sql.ErrRephrasingFailed):
		return "rephrase_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
