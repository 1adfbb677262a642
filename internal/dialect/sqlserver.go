package dialect

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/querychat/querychat/internal/settings"
)

// SQLServer targets Microsoft SQL Server. Databases with id 1-4 are the
// system databases (master, tempdb, model, msdb).
type SQLServer struct{}

func (SQLServer) Name() string       { return "sqlserver" }
func (SQLServer) DriverName() string { return "sqlserver" }

func (SQLServer) DSN(creds settings.Database, database string) (string, error) {
	if creds.Host == "" {
		return "", fmt.Errorf("sqlserver host is required")
	}
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(creds.User, creds.Password),
		Host:   hostPort(creds.Host, creds.Port.String()),
	}
	query := url.Values{}
	if database != "" {
		query.Set("database", database)
	}
	query.Set("app name", "querychat")
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (d SQLServer) Open(creds settings.Database, database string) (*sql.DB, error) {
	return openSQL(d, creds, database)
}

func (SQLServer) DefaultDatabase() string { return "master" }

func (SQLServer) ListDatabasesQuery() string {
	return "SELECT name FROM sys.databases WHERE state_desc = 'ONLINE' AND database_id > 4 ORDER BY name"
}

func (SQLServer) ListTablesQuery() string {
	return "SELECT table_schema, table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE' ORDER BY table_schema, table_name"
}

func (SQLServer) ColumnsQuery() string {
	return "SELECT table_schema, table_name, column_name, data_type FROM information_schema.columns ORDER BY table_schema, table_name, ordinal_position"
}

func (d SQLServer) SampleRowsQuery(schema, table string, limit int) string {
	return fmt.Sprintf("SELECT TOP %d * FROM %s", normalizeLimit(limit), qualified(d, schema, table))
}

func (SQLServer) QuoteIdent(name string) string { return quoteWith("[", "]", name) }

func hostPort(host, port string) string {
	if port == "" {
		return host
	}
	return net.JoinHostPort(host, port)
}
