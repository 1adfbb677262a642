package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DB is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Request struct {
	DB  DB
	SQL string
	// RowLimit caps the rows read back from a query; zero means unlimited.
	RowLimit int
}

type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	IsWrite      bool
	Truncated    bool
	Duration     time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// Text renders the result as a pipe-separated table for prompts and
// terminal output.
func (r Result) Text() string {
	if r.IsWrite {
		return fmt.Sprintf("%d row(s) affected", r.RowsAffected)
	}
	if len(r.Columns) == 0 {
		return "(no result set)"
	}
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	b.WriteByte('\n')
	for _, row := range r.Rows {
		for i, value := range row {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(FormatValue(value))
		}
		b.WriteByte('\n')
	}
	switch {
	case len(r.Rows) == 0:
		b.WriteString("(0 rows)")
	case r.Truncated:
		fmt.Fprintf(&b, "(first %d rows shown)", len(r.Rows))
	default:
		fmt.Fprintf(&b, "(%d rows)", len(r.Rows))
	}
	return b.String()
}

func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(typed)
	}
}
