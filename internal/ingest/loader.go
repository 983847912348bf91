package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const insertBatchSize = 500

type loader struct {
	db *sql.DB
}

func (l *loader) createTable(ctx context.Context, namespace, table string, columns []Column) error {
	defs := make([]string, 0, len(columns))
	for _, column := range columns {
		defs = append(defs, quoteIdent(column.Name)+" "+column.PostgresType)
	}
	query := fmt.Sprintf("CREATE TABLE %s.%s (%s)",
		quoteIdent(namespace), quoteIdent(table), strings.Join(defs, ", "))
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s.%s: %w", namespace, table, err)
	}
	return nil
}

// insertBatch writes one multi-row VALUES statement. rows is row-major.
func (l *loader) insertBatch(ctx context.Context, namespace, table string, columns []Column, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	names := make([]string, 0, len(columns))
	for _, column := range columns {
		names = append(names, quoteIdent(column.Name))
	}

	placeholders := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	arg := 1
	for _, row := range rows {
		slots := make([]string, 0, len(columns))
		for _, value := range row {
			slots = append(slots, fmt.Sprintf("$%d", arg))
			args = append(args, value)
			arg++
		}
		placeholders = append(placeholders, "("+strings.Join(slots, ", ")+")")
	}

	query := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES %s",
		quoteIdent(namespace), quoteIdent(table),
		strings.Join(names, ", "), strings.Join(placeholders, ", "))
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert batch into %s.%s: %w", namespace, table, err)
	}
	return nil
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
