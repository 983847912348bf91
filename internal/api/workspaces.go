package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/workspace"
)

type createWorkspaceRequest struct {
	Project string `json:"project"`
}

func handleCreateWorkspace(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Workspaces == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "WORKSPACES_NOT_CONFIGURED", "workspace dependencies are not configured", false, nil)
		return
	}
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "OWNER_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleWorkspaceAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request createWorkspaceRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid workspace request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Project) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROJECT_REQUIRED", "project is required", false, nil)
		return
	}

	created, err := deps.Workspaces.Create(r.Context(), owner, request.Project)
	if err != nil {
		if errors.Is(err, workspace.ErrInvalidName) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_NAME", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "WORKSPACE_CREATE_FAILED", "failed to create the workspace", true, nil)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func handleListWorkspaces(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Workspaces == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "WORKSPACES_NOT_CONFIGURED", "workspace dependencies are not configured", false, nil)
		return
	}
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "OWNER_REQUIRED", err.Error(), false, nil)
		return
	}

	workspaces, err := deps.Workspaces.List(r.Context(), owner)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "WORKSPACE_LIST_FAILED", "failed to list workspaces", true, nil)
		return
	}
	if workspaces == nil {
		workspaces = []workspace.Workspace{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": workspaces})
}

func handleDeleteWorkspace(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Workspaces == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "WORKSPACES_NOT_CONFIGURED", "workspace dependencies are not configured", false, nil)
		return
	}
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "OWNER_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleWorkspaceAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	project := strings.TrimSpace(r.PathValue("project"))
	if project == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROJECT_REQUIRED", "project path parameter is required", false, nil)
		return
	}

	if err := deps.Workspaces.Delete(r.Context(), owner, project); err != nil {
		switch {
		case errors.Is(err, workspace.ErrNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "WORKSPACE_NOT_FOUND", "workspace is not registered", false, map[string]any{"project": project})
		case errors.Is(err, workspace.ErrInvalidName):
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_NAME", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "WORKSPACE_DELETE_FAILED", "failed to delete the workspace", true, nil)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "project": project})
}
