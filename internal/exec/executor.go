// Package exec runs validated statements against a namespace. The statement
// is executed exactly as given; scoping comes from the session search_path
// plus a namespace cross-check on explicit qualifiers.
package exec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/sqlcheck"
)

// Error carries a user-safe message; the driver-level cause is retained for
// wrapping but never rendered to callers through Error().
type Error struct {
	Sanitized string
	cause     error
}

func (e *Error) Error() string { return e.Sanitized }

func (e *Error) Unwrap() error { return e.cause }

type Result struct {
	Columns  []string
	Rows     []map[string]any
	RowCount int
	Duration time.Duration
}

// Empty reports the zero-row success outcome that drives the correction
// retry. It is not a failure.
func (r Result) Empty() bool { return r.RowCount == 0 }

type Executor struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

func New(db *sql.DB, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{db: db, timeout: timeout, logger: logger}
}

// Execute runs sqlText inside a read-only transaction whose search_path is
// set to the namespace with SET LOCAL, so the scoping dies with the
// transaction and the pooled connection is returned with clean session state.
func (e *Executor) Execute(ctx context.Context, namespace, sqlText string) (Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return Result{}, &Error{Sanitized: "no statement to execute"}
	}
	if sqlcheck.ReferencesForeignNamespace(sqlText, namespace) {
		return Result{}, &Error{Sanitized: "statement is not scoped to your own data"}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return Result{}, e.failure(ctx, namespace, "could not reach the database", err)
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Result{}, e.failure(ctx, namespace, "could not scope the query to your data", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s", quoteIdent(namespace))); err != nil {
		return Result{}, e.failure(ctx, namespace, "could not scope the query to your data", err)
	}

	start := time.Now()
	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, e.failure(ctx, namespace, "the query could not be executed", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, e.failure(ctx, namespace, "the query could not be executed", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, e.failure(ctx, namespace, "the query results could not be read", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, e.failure(ctx, namespace, "the query results could not be read", err)
	}
	_ = rows.Close()
	if err := tx.Commit(); err != nil {
		return Result{}, e.failure(ctx, namespace, "the query could not be executed", err)
	}

	return Result{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
		Duration: time.Since(start),
	}, nil
}

func (e *Executor) failure(ctx context.Context, namespace, sanitized string, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		sanitized = "the query timed out"
	}
	e.logger.WarnContext(ctx, "query execution failed",
		slog.String("namespace", namespace),
		slog.Any("error", cause),
	)
	return &Error{Sanitized: sanitized, cause: cause}
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return value
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
