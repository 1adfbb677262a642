// Package catalog lists databases and tables on the configured server and
// gathers the table context handed to the SQL generator.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alitto/pond/v2"

	"github.com/querychat/querychat/internal/dialect"
	"github.com/querychat/querychat/internal/nl2sql"
	"github.com/querychat/querychat/internal/query"
	"github.com/querychat/querychat/internal/registry"
)

const (
	defaultSampleWorkers = 4
	defaultMaxTables     = 100
)

type Table struct {
	Schema    string `json:"schema"`
	TableName string `json:"table_name"`
}

func (t Table) QualifiedName() string {
	if t.Schema == "" {
		return t.TableName
	}
	return t.Schema + "." + t.TableName
}

// Resolver hands out cached database handles.
type Resolver interface {
	Resolve(ctx context.Context, database string) (*registry.Handle, error)
	Dialect() dialect.Dialect
}

type Config struct {
	Logger   *slog.Logger
	Registry Resolver
	Settings registry.ConfigSource
	Engine   query.Engine

	SampleWorkers int
	// MaxTables caps how many tables are described to the generator.
	MaxTables int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Settings == nil {
		return errors.New("settings source is required")
	}
	if c.Engine == nil {
		return errors.New("query engine is required")
	}
	if c.SampleWorkers <= 0 {
		c.SampleWorkers = defaultSampleWorkers
	}
	if c.MaxTables <= 0 {
		c.MaxTables = defaultMaxTables
	}
	return nil
}

type Service struct {
	cfg  Config
	log  *slog.Logger
	pool pond.ResultPool[nl2sql.TableContext]
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:  cfg,
		log:  cfg.Logger.With("component", "catalog"),
		pool: pond.NewResultPool[nl2sql.TableContext](cfg.SampleWorkers),
	}, nil
}

// Close waits for in-flight sampling to finish.
func (s *Service) Close() {
	s.pool.StopAndWait()
}

// ListDatabases returns the user databases on the configured server.
func (s *Service) ListDatabases(ctx context.Context) ([]string, error) {
	d := s.cfg.Registry.Dialect()
	if lister, ok := d.(dialect.DatabaseLister); ok {
		cfg, err := s.cfg.Settings.Require()
		if err != nil {
			return nil, err
		}
		return lister.ListDatabases(ctx, cfg.Database)
	}

	h, err := s.cfg.Registry.Resolve(ctx, d.DefaultDatabase())
	if err != nil {
		return nil, err
	}
	defer h.Release()
	rows, err := h.DB.QueryContext(ctx, d.ListDatabasesQuery())
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	databases := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database name: %w", err)
		}
		databases = append(databases, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate databases: %w", err)
	}
	return databases, nil
}

// ListTables returns the base tables of database.
func (s *Service) ListTables(ctx context.Context, database string) ([]Table, error) {
	if strings.TrimSpace(database) == "" {
		return nil, registry.ErrDatabaseRequired
	}
	h, err := s.cfg.Registry.Resolve(ctx, database)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return listTables(ctx, h)
}

func listTables(ctx context.Context, h *registry.Handle) ([]Table, error) {
	rows, err := h.DB.QueryContext(ctx, h.Dialect.ListTablesQuery())
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]Table, 0)
	for rows.Next() {
		var table Table
		if err := rows.Scan(&table.Schema, &table.TableName); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// TableContexts describes every base table of the handle's database with
// its columns and up to sampleRows rows. Tables whose sample query fails
// are described without rows.
func (s *Service) TableContexts(ctx context.Context, h *registry.Handle, sampleRows int) ([]nl2sql.TableContext, error) {
	tables, err := listTables(ctx, h)
	if err != nil {
		return nil, err
	}
	if len(tables) > s.cfg.MaxTables {
		s.log.Warn("table context truncated", "database", h.Key.Database, "tables", len(tables), "max", s.cfg.MaxTables)
		tables = tables[:s.cfg.MaxTables]
	}
	columns, err := s.columns(ctx, h)
	if err != nil {
		return nil, err
	}

	contexts := make([]nl2sql.TableContext, 0, len(tables))
	for _, table := range tables {
		contexts = append(contexts, nl2sql.TableContext{
			Schema:    table.Schema,
			TableName: table.TableName,
			Columns:   columns[table],
		})
	}
	if sampleRows <= 0 || len(contexts) == 0 {
		return contexts, nil
	}

	group := s.pool.NewGroupContext(ctx)
	for _, tc := range contexts {
		group.SubmitErr(func() (nl2sql.TableContext, error) {
			statement := h.Dialect.SampleRowsQuery(tc.Schema, tc.TableName, sampleRows)
			result, err := s.cfg.Engine.Execute(ctx, query.Request{DB: h.DB, SQL: statement, RowLimit: sampleRows})
			if err != nil {
				s.log.Debug("sample rows skipped", "table", tc.QualifiedName(), "error", err)
				return tc, nil
			}
			tc.SampleRows = result.Rows
			return tc, nil
		})
	}
	sampled, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("sample tables: %w", err)
	}
	return sampled, nil
}

func (s *Service) columns(ctx context.Context, h *registry.Handle) (map[Table][]nl2sql.Column, error) {
	rows, err := h.DB.QueryContext(ctx, h.Dialect.ColumnsQuery())
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make(map[Table][]nl2sql.Column)
	for rows.Next() {
		var (
			table  Table
			column nl2sql.Column
		)
		if err := rows.Scan(&table.Schema, &table.TableName, &column.Name, &column.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns[table] = append(columns[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}
