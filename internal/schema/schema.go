// Package schema builds the enriched description of a namespace that grounds
// SQL generation: table and column metadata from information_schema plus, for
// low-cardinality text columns, the full set of distinct values.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

type Column struct {
	Name     string
	DataType string
	Nullable bool
	// PossibleValues is populated only for textual columns whose distinct
	// non-null value count is within the configured cap. Sorted.
	PossibleValues []string
}

type Table struct {
	Name    string
	Columns []Column
}

// Descriptor is an immutable per-request snapshot of one namespace.
type Descriptor struct {
	Namespace string
	Tables    []Table
}

// Render produces the text block embedded verbatim into generation prompts.
// Identical namespace state renders byte-identical text.
func (d Descriptor) Render() string {
	var b strings.Builder
	b.WriteString("DATABASE SCHEMA (namespace ")
	b.WriteString(d.Namespace)
	b.WriteString("):\n")
	for _, table := range d.Tables {
		b.WriteString("Table: ")
		b.WriteString(table.Name)
		b.WriteByte('\n')
		for _, column := range table.Columns {
			b.WriteString("  - ")
			b.WriteString(column.Name)
			b.WriteString(" (")
			b.WriteString(column.DataType)
			b.WriteString(")")
			if column.Nullable {
				b.WriteString(" NULL")
			} else {
				b.WriteString(" NOT NULL")
			}
			if len(column.PossibleValues) > 0 {
				b.WriteString(" possible values: [")
				b.WriteString(strings.Join(column.PossibleValues, ", "))
				b.WriteString("]")
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Table returns the named table descriptor, if present.
func (d Descriptor) Table(name string) (Table, bool) {
	for _, table := range d.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

// ConstrainedColumns returns every column in the descriptor that carries an
// enumerated value set, keyed by column name. Used to build correction hints.
func (d Descriptor) ConstrainedColumns() map[string][]string {
	constrained := map[string][]string{}
	for _, table := range d.Tables {
		for _, column := range table.Columns {
			if len(column.PossibleValues) > 0 {
				constrained[column.Name] = column.PossibleValues
			}
		}
	}
	return constrained
}

type Inspector struct {
	db              *sql.DB
	maxUniqueValues int
	logger          *slog.Logger
}

func NewInspector(db *sql.DB, maxUniqueValues int, logger *slog.Logger) *Inspector {
	if maxUniqueValues <= 0 {
		maxUniqueValues = 20
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Inspector{db: db, maxUniqueValues: maxUniqueValues, logger: logger}
}

// Describe assembles the descriptor for one namespace. A failed value
// enumeration degrades that column to unconstrained; it never fails the build.
func (i *Inspector) Describe(ctx context.Context, namespace string) (Descriptor, error) {
	tableNames, err := i.listTables(ctx, namespace)
	if err != nil {
		return Descriptor{}, fmt.Errorf("list tables for %q: %w", namespace, err)
	}

	descriptor := Descriptor{Namespace: namespace, Tables: make([]Table, 0, len(tableNames))}
	for _, tableName := range tableNames {
		columns, err := i.listColumns(ctx, namespace, tableName)
		if err != nil {
			return Descriptor{}, fmt.Errorf("list columns for %q.%q: %w", namespace, tableName, err)
		}
		for idx := range columns {
			if !isTextual(columns[idx].DataType) {
				continue
			}
			values, err := i.enumerateValues(ctx, namespace, tableName, columns[idx].Name)
			if err != nil {
				i.logger.WarnContext(ctx, "value enumeration failed, treating column as unconstrained",
					slog.String("namespace", namespace),
					slog.String("table", tableName),
					slog.String("column", columns[idx].Name),
					slog.Any("error", err),
				)
				continue
			}
			columns[idx].PossibleValues = values
		}
		descriptor.Tables = append(descriptor.Tables, Table{Name: tableName, Columns: columns})
	}
	return descriptor, nil
}

func (i *Inspector) listTables(ctx context.Context, namespace string) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`, namespace)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (i *Inspector) listColumns(ctx context.Context, namespace, tableName string) ([]Column, error) {
	rows, err := i.db.QueryContext(ctx, `
SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`, namespace, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var column Column
		var nullable string
		if err := rows.Scan(&column.Name, &column.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		column.Nullable = nullable == "YES"
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

// enumerateValues is the value catalog builder: one read-only DISTINCT query
// per candidate column, capped at maxUniqueValues+1 so an over-cap column can
// be detected and treated as not enumerable.
func (i *Inspector) enumerateValues(ctx context.Context, namespace, tableName, columnName string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s.%s WHERE %s IS NOT NULL ORDER BY 1 LIMIT %d`,
		quoteIdent(columnName), quoteIdent(namespace), quoteIdent(tableName), quoteIdent(columnName), i.maxUniqueValues+1)

	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	values := make([]string, 0, i.maxUniqueValues)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan distinct value: %w", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(values) > i.maxUniqueValues {
		// High cardinality: not enumerable, column stays unconstrained.
		return nil, nil
	}
	sort.Strings(values)
	return values, nil
}

func isTextual(dataType string) bool {
	switch strings.ToLower(dataType) {
	case "text", "character varying", "character", "varchar", "citext":
		return true
	default:
		return false
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
