package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFormatForFilename(t *testing.T) {
	cases := []struct {
		filename string
		want     Format
		wantErr  bool
	}{
		{filename: "products.csv", want: FormatCSV},
		{filename: "Products.CSV", want: FormatCSV},
		{filename: "orders.json", want: FormatJSON},
		{filename: "orders.ndjson", want: FormatJSON},
		{filename: "report.xlsx", wantErr: true},
		{filename: "noext", wantErr: true},
	}
	for _, tc := range cases {
		got, err := FormatForFilename(tc.filename)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.filename)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.filename, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %q want %q", tc.filename, got, tc.want)
		}
	}
}

func TestPostgresTypeFor(t *testing.T) {
	cases := map[string]string{
		"VARCHAR":         "text",
		"BIGINT":          "bigint",
		"INTEGER":         "bigint",
		"DOUBLE":          "double precision",
		"DECIMAL(10,2)":   "numeric",
		"BOOLEAN":         "boolean",
		"DATE":            "date",
		"TIMESTAMP":       "timestamptz",
		"TIMESTAMP WITH TIME ZONE": "timestamptz",
		"UUID":            "uuid",
		"STRUCT(a INT)":   "text",
	}
	for duckType, want := range cases {
		if got := postgresTypeFor(duckType); got != want {
			t.Fatalf("%q: got %q want %q", duckType, got, want)
		}
	}
}

func TestInferSchemaFromCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.csv")
	content := "name,price,in_stock\nAir Max,130.5,true\nSamba,95.0,false\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	columns, err := inferSchema(context.Background(), FormatCSV, path)
	if err != nil {
		t.Fatalf("inferSchema: %v", err)
	}
	if len(columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(columns))
	}
	if columns[0].Name != "name" || columns[0].PostgresType != "text" {
		t.Fatalf("unexpected first column: %+v", columns[0])
	}
	if columns[1].Name != "price" || columns[1].PostgresType != "double precision" {
		t.Fatalf("unexpected second column: %+v", columns[1])
	}
	if columns[2].Name != "in_stock" || columns[2].PostgresType != "boolean" {
		t.Fatalf("unexpected third column: %+v", columns[2])
	}
}

func TestReadRowsFromCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.csv")
	content := "name,price\nAir Max,130.5\nSamba,95.0\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	var rows [][]any
	count, err := readRows(context.Background(), FormatCSV, path, 2, func(values []any) error {
		copied := make([]any, len(values))
		copy(copied, values)
		rows = append(rows, copied)
		return nil
	})
	if err != nil {
		t.Fatalf("readRows: %v", err)
	}
	if count != 2 || len(rows) != 2 {
		t.Fatalf("expected 2 rows, got count=%d len=%d", count, len(rows))
	}
	if rows[0][0] != "Air Max" {
		t.Fatalf("unexpected first value: %v", rows[0][0])
	}
}
