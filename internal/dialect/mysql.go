package dialect

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/querychat/querychat/internal/settings"
)

type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

func (MySQL) DSN(creds settings.Database, database string) (string, error) {
	if creds.Host == "" {
		return "", fmt.Errorf("mysql host is required")
	}
	cfg := mysql.NewConfig()
	cfg.User = creds.User
	cfg.Passwd = creds.Password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(creds.Host, creds.Port.String())
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func (d MySQL) Open(creds settings.Database, database string) (*sql.DB, error) {
	return openSQL(d, creds, database)
}

func (MySQL) DefaultDatabase() string { return "information_schema" }

func (MySQL) ListDatabasesQuery() string {
	return "SELECT schema_name FROM information_schema.schemata WHERE schema_name NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys') ORDER BY schema_name"
}

func (MySQL) ListTablesQuery() string {
	return "SELECT table_schema, table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE' AND table_schema = DATABASE() ORDER BY table_name"
}

func (MySQL) ColumnsQuery() string {
	return "SELECT table_schema, table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = DATABASE() ORDER BY table_name, ordinal_position"
}

func (d MySQL) SampleRowsQuery(schema, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualified(d, schema, table), normalizeLimit(limit))
}

func (MySQL) QuoteIdent(name string) string { return quoteWith("`", "`", name) }
