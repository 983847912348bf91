package exec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestExecuteReturnsRows(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, time.Second, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL search_path TO "ns"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT brand, price FROM products`)).
		WillReturnRows(sqlmock.NewRows([]string{"brand", "price"}).
			AddRow("Nike", 130.0).
			AddRow("Adidas", 90.0))
	mock.ExpectCommit()

	result, err := executor.Execute(context.Background(), "ns", "SELECT brand, price FROM products")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 {
		t.Fatalf("RowCount = %d", result.RowCount)
	}
	if result.Rows[0]["brand"] != "Nike" {
		t.Fatalf("first brand = %v", result.Rows[0]["brand"])
	}
	if result.Empty() {
		t.Fatal("result with rows reported empty")
	}
	assertSQLMock(t, mock)
}

func TestExecuteEmptyResultIsNotAnError(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, time.Second, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL search_path TO "ns"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT brand FROM products`)).
		WillReturnRows(sqlmock.NewRows([]string{"brand"}))
	mock.ExpectCommit()

	result, err := executor.Execute(context.Background(), "ns", "SELECT brand FROM products")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Empty() {
		t.Fatal("zero-row result should report empty")
	}
	assertSQLMock(t, mock)
}

func TestExecuteSanitizesDriverError(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, time.Second, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL search_path TO "ns"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT nope FROM products`)).
		WillReturnError(errors.New(`pq: column "nope" does not exist at host 10.0.0.3`))
	mock.ExpectRollback()

	_, err := executor.Execute(context.Background(), "ns", "SELECT nope FROM products")
	if err == nil {
		t.Fatal("expected error")
	}
	var execErr *Error
	if !errors.As(err, &execErr) {
		t.Fatalf("error type = %T", err)
	}
	if strings.Contains(execErr.Error(), "10.0.0.3") {
		t.Fatalf("sanitized message leaked driver detail: %q", execErr.Error())
	}
	assertSQLMock(t, mock)
}

func TestExecuteRefusesForeignNamespace(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, time.Second, nil)

	_, err := executor.Execute(context.Background(), "ns", "SELECT * FROM other_ns.t")
	if err == nil {
		t.Fatal("expected refusal for foreign namespace")
	}
	assertSQLMock(t, mock)
}

// The executor shares its pool with the control-plane queries (history,
// workspace registry), which rely on the default search_path. A session
// driver that persists SET across statements verifies the workspace scoping
// cannot survive past Execute and bleed into a later statement on the same
// connection.
func TestExecuteLeavesPooledSessionSearchPathClean(t *testing.T) {
	recorder := &searchPathRecorder{}
	sql.Register("session_sim", &sessionDriver{recorder: recorder})

	db, err := sql.Open("session_sim", "")
	if err != nil {
		t.Fatalf("open session_sim: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	executor := New(db, time.Second, nil)
	if _, err := executor.Execute(context.Background(), "proj_alice_sales", "SELECT brand FROM products"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if _, err := db.ExecContext(context.Background(), "INSERT INTO conversation_turn (namespace, role, content) VALUES ('proj_alice_sales', 'user', 'q')"); err != nil {
		t.Fatalf("control-plane insert error = %v", err)
	}
	if recorder.last != defaultSearchPath {
		t.Fatalf("control-plane insert ran with search_path=%q leaked from the executor", recorder.last)
	}
}

const defaultSearchPath = `"$user", public`

type searchPathRecorder struct {
	last string
}

// sessionDriver hands out connections whose search_path persists across
// statements the way a real Postgres session does: plain SET sticks until the
// session ends, SET LOCAL reverts when its transaction finishes.
type sessionDriver struct {
	recorder *searchPathRecorder
}

func (d *sessionDriver) Open(string) (driver.Conn, error) {
	return &sessionConn{recorder: d.recorder, searchPath: defaultSearchPath}, nil
}

type sessionConn struct {
	recorder   *searchPathRecorder
	searchPath string
	inTx       bool
	savedPath  string
}

func (c *sessionConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare is not supported")
}

func (c *sessionConn) Close() error { return nil }

func (c *sessionConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *sessionConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	c.inTx = true
	c.savedPath = c.searchPath
	return &sessionTx{conn: c}, nil
}

func (c *sessionConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	trimmed := strings.TrimSpace(query)
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "SET LOCAL SEARCH_PATH TO "):
		if !c.inTx {
			return nil, errors.New("SET LOCAL outside a transaction")
		}
		c.searchPath = strings.TrimSpace(trimmed[len("SET LOCAL search_path TO "):])
	case strings.HasPrefix(upper, "SET SEARCH_PATH TO "):
		c.searchPath = strings.TrimSpace(trimmed[len("SET search_path TO "):])
	case strings.HasPrefix(upper, "INSERT INTO CONVERSATION_TURN"):
		c.recorder.last = c.searchPath
	}
	return driver.RowsAffected(1), nil
}

func (c *sessionConn) QueryContext(_ context.Context, _ string, _ []driver.NamedValue) (driver.Rows, error) {
	return &emptyRows{columns: []string{"brand"}}, nil
}

type sessionTx struct {
	conn *sessionConn
}

func (t *sessionTx) Commit() error   { return t.finish() }
func (t *sessionTx) Rollback() error { return t.finish() }

func (t *sessionTx) finish() error {
	t.conn.searchPath = t.conn.savedPath
	t.conn.inTx = false
	return nil
}

type emptyRows struct {
	columns []string
}

func (r *emptyRows) Columns() []string { return r.columns }
func (r *emptyRows) Close() error      { return nil }
func (r *emptyRows) Next([]driver.Value) error {
	return io.EOF
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, m, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	return raw, m
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
