// Package sqlexec runs a single statement through database/sql and
// collects the outcome as a query.Result.
package sqlexec

import (
	"context"
	"fmt"
	"time"

	"github.com/querychat/querychat/internal/query"
)

type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if request.DB == nil {
		return query.Result{}, fmt.Errorf("database handle is required")
	}
	sqlText := query.StripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit < 0 {
		return query.Result{}, fmt.Errorf("row limit must be >= 0")
	}

	start := e.now()
	var (
		result query.Result
		err    error
	)
	if query.IsWrite(sqlText) {
		result, err = e.write(ctx, request.DB, sqlText)
	} else {
		result, err = e.read(ctx, request.DB, sqlText, request.RowLimit)
	}
	if err != nil {
		return query.Result{}, err
	}
	result.Duration = e.now().Sub(start)
	return result, nil
}

func (e *Engine) read(ctx context.Context, db query.DB, sqlText string, limit int) (query.Result, error) {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}
	if len(columns) == 0 {
		// Statements such as SET or EXEC without a result set.
		if err := rows.Err(); err != nil {
			return query.Result{}, fmt.Errorf("iterate rows: %w", err)
		}
		return query.Result{
			Columns: []string{},
			Rows:    [][]any{},
			IsWrite: true,
		}, nil
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if limit > 0 && len(resultRows) == limit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Columns:   columns,
		Rows:      resultRows,
		Truncated: truncated,
	}, nil
}

func (e *Engine) write(ctx context.Context, db query.DB, sqlText string) (query.Result, error) {
	res, err := db.ExecContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for DDL.
		affected = 0
	}
	return query.Result{
		Columns:      []string{},
		Rows:         [][]any{},
		RowsAffected: affected,
		IsWrite:      true,
	}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
