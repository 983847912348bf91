package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// Column pairs the inferred DuckDB type with the Postgres type the target
// table will use.
type Column struct {
	Name         string
	DuckDBType   string
	PostgresType string
}

// sniffFunc returns the DuckDB reader expression for a staged file.
func sniffFunc(format Format, path string) (string, error) {
	quoted := "'" + strings.ReplaceAll(path, "'", "''") + "'"
	switch format {
	case FormatCSV:
		return "read_csv_auto(" + quoted + ", header=true)", nil
	case FormatJSON:
		return "read_json_auto(" + quoted + ")", nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

// inferSchema opens an in-process DuckDB instance, lets its readers sniff the
// staged file, and reports every column with a mapped Postgres type.
func inferSchema(ctx context.Context, format Format, path string) ([]Column, error) {
	reader, err := sniffFunc(format, path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+reader)
	if err != nil {
		return nil, fmt.Errorf("describe staged file: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var name, duckType string
		var null, key, dflt, extra sql.NullString
		if err := rows.Scan(&name, &duckType, &null, &key, &dflt, &extra); err != nil {
			return nil, fmt.Errorf("scan column description: %w", err)
		}
		columns = append(columns, Column{
			Name:         name,
			DuckDBType:   duckType,
			PostgresType: postgresTypeFor(duckType),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column descriptions: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns detected in staged file")
	}
	return columns, nil
}

// readRows streams the staged file's values through DuckDB's typed readers.
func readRows(ctx context.Context, format Format, path string, columnCount int, emit func(values []any) error) (int, error) {
	reader, err := sniffFunc(format, path)
	if err != nil {
		return 0, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return 0, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+reader)
	if err != nil {
		return 0, fmt.Errorf("read staged file: %w", err)
	}
	defer func() { _ = rows.Close() }()

	count := 0
	for rows.Next() {
		values := make([]any, columnCount)
		targets := make([]any, columnCount)
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return count, fmt.Errorf("scan staged row: %w", err)
		}
		for i, value := range values {
			if b, ok := value.([]byte); ok {
				values[i] = string(b)
			}
		}
		if err := emit(values); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("iterate staged rows: %w", err)
	}
	return count, nil
}

func postgresTypeFor(duckType string) string {
	upper := strings.ToUpper(duckType)
	switch {
	case strings.HasPrefix(upper, "DECIMAL"), upper == "HUGEINT":
		return "numeric"
	case upper == "TINYINT", upper == "SMALLINT", upper == "INTEGER", upper == "BIGINT",
		upper == "UTINYINT", upper == "USMALLINT", upper == "UINTEGER", upper == "UBIGINT":
		return "bigint"
	case upper == "FLOAT", upper == "DOUBLE", upper == "REAL":
		return "double precision"
	case upper == "BOOLEAN":
		return "boolean"
	case upper == "DATE":
		return "date"
	case strings.HasPrefix(upper, "TIMESTAMP"):
		return "timestamptz"
	case upper == "TIME":
		return "time"
	case upper == "UUID":
		return "uuid"
	case upper == "BLOB":
		return "bytea"
	default:
		return "text"
	}
}
