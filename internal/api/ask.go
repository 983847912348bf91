package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/pipeline"
)

type askRequest struct {
	Project string `json:"project"`
	Input   string `json:"input"`
}

type askResponse struct {
	Namespace string            `json:"namespace"`
	Answers   []pipeline.Answer `json:"answers"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil || deps.Workspaces == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Input) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INPUT_REQUIRED", "input is required", false, nil)
		return
	}

	namespace, ok := resolveNamespace(deps, r, w, request.Project)
	if !ok {
		return
	}

	answers, err := deps.Pipeline.Ask(r.Context(), namespace, request.Input)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "ASK_FAILED", "failed to process the question", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Namespace: namespace, Answers: answers})
}
