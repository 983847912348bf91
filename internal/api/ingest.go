package api

import (
	"net/http"
	"strings"

	"github.com/tablechat/tablechat/internal/auth"
)

// handleIngest accepts a multipart upload and loads it into a fresh table in
// the caller's workspace.
func handleIngest(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Ingestor == nil || deps.Workspaces == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INGEST_NOT_CONFIGURED", "ingest dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleIngestWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	table := strings.TrimSpace(r.PathValue("table"))
	if table == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "table path parameter is required", false, nil)
		return
	}

	namespace, ok := resolveNamespace(deps, r, w, r.URL.Query().Get("project"))
	if !ok {
		return
	}

	if deps.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field 'file' is required", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = file.Close() }()

	report, err := deps.Ingestor.Ingest(r.Context(), namespace, table, header.Filename, file)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INGEST_FAILED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}
