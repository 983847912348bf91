package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/schema"
)

type schemaResponse struct {
	Namespace string         `json:"namespace"`
	Tables    []schema.Table `json:"tables"`
	Rendered  string         `json:"rendered"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schemas == nil || deps.Workspaces == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	namespace, ok := resolveNamespace(deps, r, w, r.URL.Query().Get("project"))
	if !ok {
		return
	}

	descriptor, err := deps.Schemas.Describe(r.Context(), namespace)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_BUILD_FAILED", "failed to describe the workspace schema", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{
		Namespace: descriptor.Namespace,
		Tables:    descriptor.Tables,
		Rendered:  descriptor.Render(),
	})
}

type historyTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type historyResponse struct {
	Namespace string        `json:"namespace"`
	Turns     []historyTurn `json:"turns"`
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Turns == nil || deps.Workspaces == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "history dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	namespace, ok := resolveNamespace(deps, r, w, r.URL.Query().Get("project"))
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", false, nil)
			return
		}
		limit = parsed
	}

	turns, err := deps.Turns.Recent(r.Context(), namespace, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_LOAD_FAILED", "failed to load the conversation", true, nil)
		return
	}
	payload := historyResponse{Namespace: namespace, Turns: make([]historyTurn, 0, len(turns))}
	for _, turn := range turns {
		payload.Turns = append(payload.Turns, historyTurn{Role: turn.Role, Content: turn.Content, CreatedAt: turn.CreatedAt})
	}
	writeJSON(w, http.StatusOK, payload)
}
