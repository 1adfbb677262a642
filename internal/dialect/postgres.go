package dialect

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/querychat/querychat/internal/settings"
)

type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "pgx" }

func (Postgres) DSN(creds settings.Database, database string) (string, error) {
	if creds.Host == "" {
		return "", fmt.Errorf("postgres host is required")
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.User, creds.Password),
		Host:   hostPort(creds.Host, creds.Port.String()),
		Path:   "/" + database,
	}
	u.RawQuery = url.Values{"application_name": {"querychat"}}.Encode()
	return u.String(), nil
}

func (d Postgres) Open(creds settings.Database, database string) (*sql.DB, error) {
	return openSQL(d, creds, database)
}

func (Postgres) DefaultDatabase() string { return "postgres" }

func (Postgres) ListDatabasesQuery() string {
	return "SELECT datname FROM pg_database WHERE datallowconn AND NOT datistemplate AND datname <> 'postgres' ORDER BY datname"
}

func (Postgres) ListTablesQuery() string {
	return "SELECT table_schema, table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE' AND table_schema NOT IN ('pg_catalog', 'information_schema') ORDER BY table_schema, table_name"
}

func (Postgres) ColumnsQuery() string {
	return "SELECT table_schema, table_name, column_name, data_type FROM information_schema.columns WHERE table_schema NOT IN ('pg_catalog', 'information_schema') ORDER BY table_schema, table_name, ordinal_position"
}

func (d Postgres) SampleRowsQuery(schema, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualified(d, schema, table), normalizeLimit(limit))
}

func (Postgres) QuoteIdent(name string) string { return quoteWith(`"`, `"`, name) }
