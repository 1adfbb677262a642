package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querychat/querychat/internal/query"
)

func TestExecuteReadReturnsRows(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT TOP 2 TileID, TileName FROM dbo.Tile")).
		WillReturnRows(sqlmock.NewRows([]string{"TileID", "TileName"}).
			AddRow(int64(1), []byte("North")).
			AddRow(int64(2), "South"))

	result, err := NewEngine().Execute(context.Background(), query.Request{
		DB:  db,
		SQL: "SELECT TOP 2 TileID, TileName FROM dbo.Tile;",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsWrite {
		t.Fatal("IsWrite = true for SELECT")
	}
	if len(result.Columns) != 2 || result.Columns[1] != "TileName" {
		t.Fatalf("Columns = %#v", result.Columns)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[0][1] != "North" {
		t.Fatalf("[]byte not normalized: %#v", result.Rows[0][1])
	}
	if result.Truncated {
		t.Fatal("Truncated = true")
	}
	assertSQLMock(t, mock)
}

func TestExecuteReadStopsAtRowLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	rows := sqlmock.NewRows([]string{"n"})
	for i := 0; i < 5; i++ {
		rows.AddRow(int64(i))
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT n FROM numbers")).WillReturnRows(rows)

	result, err := NewEngine().Execute(context.Background(), query.Request{DB: db, SQL: "SELECT n FROM numbers", RowLimit: 3})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(result.Rows))
	}
	if !result.Truncated {
		t.Fatal("Truncated = false")
	}
}

func TestExecuteWriteUsesExec(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE dbo.Tile SET TileName = 'x' WHERE TileID = 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := NewEngine().Execute(context.Background(), query.Request{
		DB:  db,
		SQL: "UPDATE dbo.Tile SET TileName = 'x' WHERE TileID = 1",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsWrite || result.RowsAffected != 1 {
		t.Fatalf("IsWrite/RowsAffected = %v/%d", result.IsWrite, result.RowsAffected)
	}
	if result.Text() != "1 row(s) affected" {
		t.Fatalf("Text() = %q", result.Text())
	}
	assertSQLMock(t, mock)
}

func TestExecuteSurfacesEngineError(t *testing.T) {
	db, mock := newSQLMock(t)
	cause := errors.New("Invalid object name 'dbo.Missing'")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM dbo.Missing")).WillReturnError(cause)

	_, err := NewEngine().Execute(context.Background(), query.Request{DB: db, SQL: "SELECT * FROM dbo.Missing"})
	if !errors.Is(err, cause) {
		t.Fatalf("Execute() error = %v, want wrapped cause", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteValidatesRequest(t *testing.T) {
	db, _ := newSQLMock(t)
	engine := NewEngine()
	if _, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT 1"}); err == nil {
		t.Fatal("expected error for missing db")
	}
	if _, err := engine.Execute(context.Background(), query.Request{DB: db, SQL: " ; "}); err == nil {
		t.Fatal("expected error for empty sql")
	}
	if _, err := engine.Execute(context.Background(), query.Request{DB: db, SQL: "SELECT 1", RowLimit: -1}); err == nil {
		t.Fatal("expected error for negative row limit")
	}
}

func TestExecuteAgainstDuckDB(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer db.Close()
	engine := NewEngine()
	ctx := context.Background()

	for _, stmt := range []string{
		"CREATE TABLE tile (tile_id INTEGER, tile_name VARCHAR)",
		"INSERT INTO tile VALUES (1, 'a'), (2, 'b'), (3, 'c')",
	} {
		if _, err := engine.Execute(ctx, query.Request{DB: db, SQL: stmt}); err != nil {
			t.Fatalf("Execute(%q) error = %v", stmt, err)
		}
	}

	result, err := engine.Execute(ctx, query.Request{
		DB:       db,
		SQL:      "-- newest first\nSELECT tile_id, tile_name FROM tile ORDER BY tile_id DESC;",
		RowLimit: 2,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("rows/truncated = %d/%v", len(result.Rows), result.Truncated)
	}
	if result.Rows[0][0] != int32(3) || result.Rows[0][1] != "c" {
		t.Fatalf("first row = %#v", result.Rows[0])
	}

	for _, stmt := range []string{
		"SET threads = 2; SELECT 42 AS answer",
		"FROM (SELECT 42 AS answer)",
	} {
		result, err := engine.Execute(ctx, query.Request{DB: db, SQL: stmt})
		if err != nil {
			t.Fatalf("Execute(%q) error = %v", stmt, err)
		}
		if result.IsWrite || len(result.Columns) != 1 || result.Columns[0] != "answer" {
			t.Fatalf("Execute(%q) columns/isWrite = %v/%v", stmt, result.Columns, result.IsWrite)
		}
		if len(result.Rows) != 1 || result.Rows[0][0] != int32(42) {
			t.Fatalf("Execute(%q) rows = %#v", stmt, result.Rows)
		}
	}
}

func TestExecuteStatementWithoutResultSet(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SET NOCOUNT ON")).WillReturnRows(sqlmock.NewRows(nil))

	result, err := NewEngine().Execute(context.Background(), query.Request{DB: db, SQL: "SET NOCOUNT ON"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsWrite || len(result.Columns) != 0 || len(result.Rows) != 0 {
		t.Fatalf("result = %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteDeclareThenSelectReturnsRows(t *testing.T) {
	db, mock := newSQLMock(t)
	sqlText := "DECLARE @n int = 5; SELECT TOP (@n) TileID FROM dbo.Tile"
	mock.ExpectQuery(regexp.QuoteMeta(sqlText)).
		WillReturnRows(sqlmock.NewRows([]string{"TileID"}).AddRow(1).AddRow(2))

	result, err := NewEngine().Execute(context.Background(), query.Request{DB: db, SQL: sqlText})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsWrite || len(result.Rows) != 2 {
		t.Fatalf("IsWrite/rows = %v/%d", result.IsWrite, len(result.Rows))
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations were not met: %v", err)
	}
}
