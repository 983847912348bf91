package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/export"
	"github.com/tablechat/tablechat/internal/sqlcheck"
)

type exportRequest struct {
	Project string `json:"project"`
	SQL     string `json:"sql"`
	Format  string `json:"format"`
}

// handleExport runs a read-only statement through the same validator the
// pipeline uses and streams the rows back as CSV or parquet.
func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Executor == nil || deps.Workspaces == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request exportRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	format, err := export.ParseFormat(request.Format)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FORMAT", err.Error(), false, nil)
		return
	}

	namespace, ok := resolveNamespace(deps, r, w, request.Project)
	if !ok {
		return
	}

	validated, err := sqlcheck.Validate(request.SQL, namespace)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only read-only SELECT statements scoped to your workspace are allowed", false, nil)
		return
	}

	result, err := deps.Executor.Execute(r.Context(), namespace, validated)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "EXPORT_EXECUTION_FAILED", err.Error(), false, nil)
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "result."+string(format)))
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, format, result); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "export stream failed", "error", err.Error())
	}
}
