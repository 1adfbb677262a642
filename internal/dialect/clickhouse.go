package dialect

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/querychat/querychat/internal/settings"
)

const clickhouseDialTimeout = 5 * time.Second

type ClickHouse struct{}

func (ClickHouse) Name() string       { return "clickhouse" }
func (ClickHouse) DriverName() string { return "clickhouse" }

func (ClickHouse) DSN(creds settings.Database, database string) (string, error) {
	if creds.Host == "" {
		return "", fmt.Errorf("clickhouse host is required")
	}
	u := &url.URL{
		Scheme: "clickhouse",
		User:   url.UserPassword(creds.User, creds.Password),
		Host:   hostPort(creds.Host, creds.Port.String()),
		Path:   "/" + database,
	}
	return u.String(), nil
}

func (ClickHouse) Open(creds settings.Database, database string) (*sql.DB, error) {
	if creds.Host == "" {
		return nil, fmt.Errorf("clickhouse host is required")
	}
	opts := &clickhouse.Options{
		Addr: []string{hostPort(creds.Host, creds.Port.String())},
		Auth: clickhouse.Auth{
			Database: database,
			Username: creds.User,
			Password: creds.Password,
		},
		DialTimeout: clickhouseDialTimeout,
	}
	return clickhouse.OpenDB(opts), nil
}

func (ClickHouse) DefaultDatabase() string { return "default" }

func (ClickHouse) ListDatabasesQuery() string {
	return "SELECT name FROM system.databases WHERE name NOT IN ('system', 'INFORMATION_SCHEMA', 'information_schema', 'default') ORDER BY name"
}

func (ClickHouse) ListTablesQuery() string {
	return "SELECT database, name FROM system.tables WHERE database = currentDatabase() AND NOT is_temporary ORDER BY name"
}

func (ClickHouse) ColumnsQuery() string {
	return "SELECT database, table, name, type FROM system.columns WHERE database = currentDatabase() ORDER BY table, position"
}

func (d ClickHouse) SampleRowsQuery(schema, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualified(d, schema, table), normalizeLimit(limit))
}

func (ClickHouse) QuoteIdent(name string) string { return quoteWith("`", "`", name) }
