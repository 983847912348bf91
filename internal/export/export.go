// Package export writes query results as downloadable CSV or parquet files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/tablechat/tablechat/internal/exec"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "csv", "":
		return FormatCSV, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

func ContentType(format Format) string {
	if format == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv"
}

// Write renders the result in the requested format.
func Write(w io.Writer, format Format, result exec.Result) error {
	if format == FormatParquet {
		return writeParquet(w, result)
	}
	return writeCSV(w, result)
}

func writeCSV(w io.Writer, result exec.Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(result.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i, column := range result.Columns {
			record[i] = formatValue(row[column])
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeParquet(w io.Writer, result exec.Result) error {
	schema, err := resultSchema(result)
	if err != nil {
		return err
	}

	writer := parquet.NewGenericWriter[map[string]any](w, schema)
	for _, row := range result.Rows {
		if _, err := writer.Write([]map[string]any{row}); err != nil {
			return fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// resultSchema derives a parquet schema from the first non-nil value seen per
// column. Columns that are null throughout come out as optional strings.
func resultSchema(result exec.Result) (*parquet.Schema, error) {
	if len(result.Columns) == 0 {
		return nil, fmt.Errorf("result has no columns")
	}

	group := parquet.Group{}
	for _, column := range result.Columns {
		group[column] = parquet.Optional(nodeFor(sampleValue(result, column)))
	}
	return parquet.NewSchema("result", group), nil
}

func sampleValue(result exec.Result, column string) any {
	for _, row := range result.Rows {
		if value := row[column]; value != nil {
			return value
		}
	}
	return nil
}

func nodeFor(value any) parquet.Node {
	switch value.(type) {
	case int64, int32, int:
		return parquet.Int(64)
	case float64, float32:
		return parquet.Leaf(parquet.DoubleType)
	case bool:
		return parquet.Leaf(parquet.BooleanType)
	case time.Time:
		return parquet.Timestamp(parquet.Millisecond)
	default:
		return parquet.String()
	}
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
