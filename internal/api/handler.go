// Package api is the HTTP surface: health, metrics, and the protected ask,
// schema, history, workspace, ingest, and export endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/exec"
	"github.com/tablechat/tablechat/internal/history"
	"github.com/tablechat/tablechat/internal/ingest"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/schema"
	"github.com/tablechat/tablechat/internal/workspace"
)

type ReadinessCheck func(ctx context.Context) error

type AskService interface {
	Ask(ctx context.Context, namespace, input string) ([]pipeline.Answer, error)
}

type SchemaSource interface {
	Describe(ctx context.Context, namespace string) (schema.Descriptor, error)
}

type WorkspaceManager interface {
	Create(ctx context.Context, owner, project string) (workspace.Workspace, error)
	List(ctx context.Context, owner string) ([]workspace.Workspace, error)
	Delete(ctx context.Context, owner, project string) error
	Resolve(ctx context.Context, owner, project string) (string, error)
}

type ConversationLog interface {
	Recent(ctx context.Context, namespace string, limit int) ([]history.Turn, error)
}

type Ingestor interface {
	Ingest(ctx context.Context, namespace, table, filename string, body io.Reader) (ingest.Report, error)
}

type QueryRunner interface {
	Execute(ctx context.Context, namespace, sqlText string) (exec.Result, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          AskService
	Schemas           SchemaSource
	Workspaces        WorkspaceManager
	Turns             ConversationLog
	Ingestor          Ingestor
	Executor          QueryRunner
	MaxUploadBytes    int64
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	protected.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	protected.HandleFunc("GET /v1/history", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})
	protected.HandleFunc("POST /v1/workspaces", func(w http.ResponseWriter, r *http.Request) {
		handleCreateWorkspace(deps, w, r)
	})
	protected.HandleFunc("GET /v1/workspaces", func(w http.ResponseWriter, r *http.Request) {
		handleListWorkspaces(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/workspaces/{project}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteWorkspace(deps, w, r)
	})
	protected.HandleFunc("POST /v1/ingest/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleIngest(deps, w, r)
	})
	protected.HandleFunc("POST /v1/export", func(w http.ResponseWriter, r *http.Request) {
		handleExport(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/ask", protectedHandler)
	mux.Handle("GET /v1/schema", protectedHandler)
	mux.Handle("GET /v1/history", protectedHandler)
	mux.Handle("POST /v1/workspaces", protectedHandler)
	mux.Handle("GET /v1/workspaces", protectedHandler)
	mux.Handle("DELETE /v1/workspaces/{project}", protectedHandler)
	mux.Handle("POST /v1/ingest/{table}", protectedHandler)
	mux.Handle("POST /v1/export", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckDatabaseDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Database.DSN == "" {
			return errors.New("database dsn is not configured")
		}
		return nil
	}
}

func CheckAIConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.AI.APIKey == "" {
			return errors.New("ai api key is not configured")
		}
		if cfg.AI.Model == "" {
			return errors.New("ai model is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// ownerFromRequest resolves the acting owner: the authenticated identity, or
// the X-Owner-ID header when auth is disabled.
func ownerFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.OwnerID) != "" {
			return identity.OwnerID, nil
		}
	}
	owner := strings.TrimSpace(r.Header.Get("X-Owner-ID"))
	if owner == "" {
		return "", fmt.Errorf("owner context is required")
	}
	return owner, nil
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

// resolveNamespace maps the project query/body value to the caller's
// registered namespace.
func resolveNamespace(deps Dependencies, r *http.Request, w http.ResponseWriter, project string) (string, bool) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "OWNER_REQUIRED", err.Error(), false, nil)
		return "", false
	}
	if strings.TrimSpace(project) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROJECT_REQUIRED", "project is required", false, nil)
		return "", false
	}
	namespace, err := deps.Workspaces.Resolve(r.Context(), owner, project)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "WORKSPACE_NOT_FOUND", "workspace is not registered", false, map[string]any{"project": project})
			return "", false
		}
		if errors.Is(err, workspace.ErrInvalidName) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_NAME", err.Error(), false, nil)
			return "", false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "WORKSPACE_ERROR", "failed to resolve workspace", true, nil)
		return "", false
	}
	return namespace, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
