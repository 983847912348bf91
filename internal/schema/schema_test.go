package schema

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

var (
	tablesQuery = regexp.QuoteMeta(`
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`)
	columnsQuery = regexp.QuoteMeta(`
SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`)
	valuesQuery = regexp.QuoteMeta(`SELECT DISTINCT "brand" FROM "ns"."products" WHERE "brand" IS NOT NULL ORDER BY 1 LIMIT 4`)
)

func expectProductsSchema(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(tablesQuery).
		WithArgs("ns").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("products"))
	mock.ExpectQuery(columnsQuery).
		WithArgs("ns", "products").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("brand", "text", "YES").
			AddRow("price", "numeric", "NO"))
}

func TestDescribeEnumeratesLowCardinalityTextColumns(t *testing.T) {
	db, mock := newSQLMock(t)
	inspector := NewInspector(db, 3, nil)

	expectProductsSchema(mock)
	mock.ExpectQuery(valuesQuery).
		WillReturnRows(sqlmock.NewRows([]string{"brand"}).AddRow("Nike").AddRow("Adidas"))

	descriptor, err := inspector.Describe(context.Background(), "ns")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	table, ok := descriptor.Table("products")
	if !ok {
		t.Fatal("products table missing")
	}
	brand := table.Columns[0]
	if len(brand.PossibleValues) != 2 || brand.PossibleValues[0] != "Adidas" || brand.PossibleValues[1] != "Nike" {
		t.Fatalf("PossibleValues = %v, want sorted [Adidas Nike]", brand.PossibleValues)
	}
	if table.Columns[1].PossibleValues != nil {
		t.Fatalf("numeric column should have no values, got %v", table.Columns[1].PossibleValues)
	}
	assertSQLMock(t, mock)
}

func TestDescribeSkipsHighCardinalityColumns(t *testing.T) {
	db, mock := newSQLMock(t)
	inspector := NewInspector(db, 3, nil)

	expectProductsSchema(mock)
	mock.ExpectQuery(valuesQuery).
		WillReturnRows(sqlmock.NewRows([]string{"brand"}).
			AddRow("a").AddRow("b").AddRow("c").AddRow("d"))

	descriptor, err := inspector.Describe(context.Background(), "ns")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	table, _ := descriptor.Table("products")
	if table.Columns[0].PossibleValues != nil {
		t.Fatalf("over-cap column should be unconstrained, got %v", table.Columns[0].PossibleValues)
	}
	assertSQLMock(t, mock)
}

func TestDescribeToleratesEnumerationFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	inspector := NewInspector(db, 3, nil)

	expectProductsSchema(mock)
	mock.ExpectQuery(valuesQuery).WillReturnError(errors.New("permission denied"))

	descriptor, err := inspector.Describe(context.Background(), "ns")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	table, _ := descriptor.Table("products")
	if table.Columns[0].PossibleValues != nil {
		t.Fatal("failed enumeration should leave column unconstrained")
	}
	assertSQLMock(t, mock)
}

func TestRenderIsDeterministic(t *testing.T) {
	descriptor := Descriptor{
		Namespace: "ns",
		Tables: []Table{{
			Name: "products",
			Columns: []Column{
				{Name: "brand", DataType: "text", Nullable: true, PossibleValues: []string{"Adidas", "Nike"}},
				{Name: "price", DataType: "numeric", Nullable: false},
			},
		}},
	}

	want := "DATABASE SCHEMA (namespace ns):\n" +
		"Table: products\n" +
		"  - brand (text) NULL possible values: [Adidas, Nike]\n" +
		"  - price (numeric) NOT NULL\n"
	first := descriptor.Render()
	if first != want {
		t.Fatalf("Render() = %q, want %q", first, want)
	}
	if second := descriptor.Render(); second != first {
		t.Fatal("Render() is not deterministic")
	}
}

func TestConstrainedColumns(t *testing.T) {
	descriptor := Descriptor{
		Tables: []Table{{
			Name: "products",
			Columns: []Column{
				{Name: "brand", PossibleValues: []string{"Adidas", "Nike"}},
				{Name: "price"},
			},
		}},
	}
	constrained := descriptor.ConstrainedColumns()
	if len(constrained) != 1 {
		t.Fatalf("constrained count = %d", len(constrained))
	}
	if values := constrained["brand"]; len(values) != 2 {
		t.Fatalf("brand values = %v", values)
	}
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
