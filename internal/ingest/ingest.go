// Package ingest loads uploaded CSV and JSON files into namespace tables.
// The staged file goes to the archive first, DuckDB's readers sniff the
// column types, then rows are batch-inserted into a freshly created table.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tablechat/tablechat/internal/archive"
	"github.com/tablechat/tablechat/internal/workspace"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// FormatForFilename derives the ingestion format from the file extension.
func FormatForFilename(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported file type %q: only CSV and JSON uploads are accepted", filepath.Ext(filename))
	}
}

type Report struct {
	Table        string   `json:"table"`
	Columns      []Column `json:"columns"`
	RowsInserted int      `json:"rows_inserted"`
	ArchiveKey   string   `json:"archive_key,omitempty"`
}

type Service struct {
	db       *sql.DB
	archiver *archive.Archiver
	logger   *slog.Logger
}

// NewService builds the ingestion service. archiver may be nil, in which case
// uploads are not retained.
func NewService(db *sql.DB, archiver *archive.Archiver, logger *slog.Logger) *Service {
	return &Service{db: db, archiver: archiver, logger: logger}
}

// Ingest stages the upload, archives it, infers the schema, creates the
// table, and batch-inserts every row. The table name is sanitized the same
// way workspace names are.
func (s *Service) Ingest(ctx context.Context, namespace, table, filename string, body io.Reader) (Report, error) {
	safeTable, err := workspace.SanitizeName(table)
	if err != nil {
		return Report{}, fmt.Errorf("table name: %w", err)
	}
	format, err := FormatForFilename(filename)
	if err != nil {
		return Report{}, err
	}

	stagedPath, size, err := stage(filename, body)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = os.Remove(stagedPath) }()

	report := Report{Table: safeTable}

	if s.archiver != nil {
		staged, err := os.Open(stagedPath)
		if err != nil {
			return Report{}, fmt.Errorf("reopen staged file: %w", err)
		}
		key, err := s.archiver.SaveUpload(ctx, namespace, safeTable, filename, staged, size, contentTypeFor(format))
		_ = staged.Close()
		if err != nil {
			// Retention is best effort; the load still proceeds.
			s.logger.WarnContext(ctx, "upload archive failed",
				slog.String("namespace", namespace),
				slog.String("error", err.Error()))
		} else {
			report.ArchiveKey = key
		}
	}

	columns, err := inferSchema(ctx, format, stagedPath)
	if err != nil {
		return Report{}, err
	}
	for i := range columns {
		safe, err := workspace.SanitizeName(columns[i].Name)
		if err != nil {
			return Report{}, fmt.Errorf("column %q: %w", columns[i].Name, err)
		}
		columns[i].Name = safe
	}
	report.Columns = columns

	ld := &loader{db: s.db}
	if err := ld.createTable(ctx, namespace, safeTable, columns); err != nil {
		return Report{}, err
	}

	batch := make([][]any, 0, insertBatchSize)
	flush := func() error {
		if err := ld.insertBatch(ctx, namespace, safeTable, columns, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	inserted, err := readRows(ctx, format, stagedPath, len(columns), func(values []any) error {
		batch = append(batch, values)
		if len(batch) >= insertBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	if err := flush(); err != nil {
		return Report{}, err
	}
	report.RowsInserted = inserted

	s.logger.InfoContext(ctx, "file ingested",
		slog.String("namespace", namespace),
		slog.String("table", safeTable),
		slog.Int("rows", inserted))
	return report, nil
}

// stage copies the upload to a local temp file so DuckDB can scan it twice.
func stage(filename string, body io.Reader) (string, int64, error) {
	staged, err := os.CreateTemp("", "tablechat-upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", 0, fmt.Errorf("stage upload: %w", err)
	}
	size, err := io.Copy(staged, body)
	if closeErr := staged.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(staged.Name())
		return "", 0, fmt.Errorf("stage upload: %w", err)
	}
	return staged.Name(), size, nil
}

func contentTypeFor(format Format) string {
	if format == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}
