package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querychat/querychat/internal/settings"
)

// MemoryDatabase selects an in-process DuckDB database with no backing file.
const MemoryDatabase = ":memory:"

const duckdbExt = ".duckdb"

// DuckDB treats the configured host as a directory; every <name>.duckdb
// file inside it is one database.
type DuckDB struct{}

func (DuckDB) Name() string       { return "duckdb" }
func (DuckDB) DriverName() string { return "duckdb" }

func (DuckDB) DSN(creds settings.Database, database string) (string, error) {
	database = strings.TrimSpace(database)
	if database == "" || database == MemoryDatabase {
		return "", nil
	}
	if strings.ContainsAny(database, `/\`) || database == "." || database == ".." {
		return "", fmt.Errorf("invalid duckdb database name %q", database)
	}
	return filepath.Join(creds.Host, database+duckdbExt), nil
}

// Open refuses to create new database files; a missing file is reported
// like an unknown database on a server engine.
func (d DuckDB) Open(creds settings.Database, database string) (*sql.DB, error) {
	dsn, err := d.DSN(creds, database)
	if err != nil {
		return nil, err
	}
	if dsn != "" {
		if _, err := os.Stat(dsn); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("duckdb database %q does not exist", database)
			}
			return nil, fmt.Errorf("stat duckdb database %q: %w", database, err)
		}
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return db, nil
}

func (DuckDB) DefaultDatabase() string { return MemoryDatabase }

func (DuckDB) ListDatabasesQuery() string {
	return "SELECT database_name FROM duckdb_databases() WHERE NOT internal ORDER BY database_name"
}

func (DuckDB) ListDatabases(_ context.Context, creds settings.Database) ([]string, error) {
	dir := strings.TrimSpace(creds.Host)
	if dir == "" {
		return nil, fmt.Errorf("duckdb directory is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read duckdb directory %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), duckdbExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), duckdbExt))
	}
	sort.Strings(names)
	return names, nil
}

func (DuckDB) ListTablesQuery() string {
	return "SELECT table_schema, table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE' ORDER BY table_schema, table_name"
}

func (DuckDB) ColumnsQuery() string {
	return "SELECT table_schema, table_name, column_name, data_type FROM information_schema.columns ORDER BY table_schema, table_name, ordinal_position"
}

func (d DuckDB) SampleRowsQuery(schema, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualified(d, schema, table), normalizeLimit(limit))
}

func (DuckDB) QuoteIdent(name string) string { return quoteWith(`"`, `"`, name) }
