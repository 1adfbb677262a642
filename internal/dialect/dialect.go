// Package dialect describes how to reach and introspect each supported SQL
// engine: driver, connection string, and the catalog queries used for
// listing databases, tables and columns.
package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/querychat/querychat/internal/settings"
)

var ErrUnknownDialect = errors.New("unknown sql dialect")

type Dialect interface {
	Name() string
	DriverName() string
	DSN(creds settings.Database, database string) (string, error)
	// Open returns a handle that has not been pinged yet.
	Open(creds settings.Database, database string) (*sql.DB, error)
	// DefaultDatabase is the database connected to for server-level queries.
	DefaultDatabase() string
	ListDatabasesQuery() string
	// ListTablesQuery returns (schema, table_name) rows for base tables.
	ListTablesQuery() string
	// ColumnsQuery returns (schema, table_name, column_name, data_type) rows.
	ColumnsQuery() string
	SampleRowsQuery(schema, table string, limit int) string
	QuoteIdent(name string) string
}

// DatabaseLister is implemented by dialects whose databases are not
// discoverable through SQL.
type DatabaseLister interface {
	ListDatabases(ctx context.Context, creds settings.Database) ([]string, error)
}

var registry = map[string]Dialect{}

func register(d Dialect) {
	registry[d.Name()] = d
}

func init() {
	register(SQLServer{})
	register(Postgres{})
	register(MySQL{})
	register(ClickHouse{})
	register(DuckDB{})
}

// Lookup returns the dialect registered under name (case-insensitive).
func Lookup(name string) (Dialect, error) {
	d, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownDialect, name, strings.Join(Names(), ", "))
	}
	return d, nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func openSQL(d Dialect, creds settings.Database, database string) (*sql.DB, error) {
	dsn, err := d.DSN(creds, database)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}
	return db, nil
}

func quoteWith(left, right, name string) string {
	return left + strings.ReplaceAll(name, right, right+right) + right
}

func qualified(d Dialect, schema, table string) string {
	if strings.TrimSpace(schema) == "" {
		return d.QuoteIdent(table)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 1
	}
	return limit
}
