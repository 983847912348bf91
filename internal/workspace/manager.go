// Package workspace manages the per-user project namespaces. Every project
// lives in its own Postgres schema named proj_{owner}_{project}; the registry
// table is the source of truth and the schema is created and dropped with it.
package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const NamespacePrefix = "proj_"

// Postgres identifier limit.
const maxNamespaceLen = 63

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var protectedSchemas = map[string]struct{}{
	"public":             {},
	"information_schema": {},
	"pg_catalog":         {},
	"pg_toast":           {},
}

var (
	ErrInvalidName = errors.New("invalid workspace name")
	ErrNotFound    = errors.New("workspace not found")
)

type Workspace struct {
	Namespace  string    `json:"namespace"`
	OwnerID    string    `json:"owner_id"`
	Project    string    `json:"project"`
	CreatedAt  time.Time `json:"created_at"`
	TableCount int       `json:"table_count"`
	TotalRows  int64     `json:"total_rows"`
}

// SanitizeName normalizes a user-provided name into a Postgres identifier
// fragment: lowercase, spaces to underscores, everything else stripped. The
// result must start with a letter.
func SanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ToLower(name)

	var b strings.Builder
	for _, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	name = b.String()
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q must start with a letter and contain only letters, digits, and underscores", ErrInvalidName, name)
	}
	return name, nil
}

// NamespaceFor builds the deterministic schema name for an owner/project pair.
func NamespaceFor(owner, project string) (string, error) {
	safeOwner, err := SanitizeName(owner)
	if err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	safeProject, err := SanitizeName(project)
	if err != nil {
		return "", fmt.Errorf("project: %w", err)
	}
	namespace := NamespacePrefix + safeOwner + "_" + safeProject
	if len(namespace) > maxNamespaceLen {
		return "", fmt.Errorf("%w: namespace %q exceeds %d characters", ErrInvalidName, namespace, maxNamespaceLen)
	}
	return namespace, nil
}

type Manager struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewManager(db *sql.DB, logger *slog.Logger) *Manager {
	return &Manager{db: db, logger: logger}
}

// Create registers the workspace and creates its schema in one transaction.
func (m *Manager) Create(ctx context.Context, owner, project string) (Workspace, error) {
	namespace, err := NamespaceFor(owner, project)
	if err != nil {
		return Workspace{}, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Workspace{}, fmt.Errorf("begin create workspace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
INSERT INTO workspace (owner_id, project, namespace)
VALUES ($1, $2, $3)
RETURNING created_at`, owner, project, namespace).Scan(&createdAt)
	if err != nil {
		return Workspace{}, fmt.Errorf("register workspace %s: %w", namespace, err)
	}

	if _, err := tx.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(namespace)); err != nil {
		return Workspace{}, fmt.Errorf("create schema %s: %w", namespace, err)
	}
	if err := tx.Commit(); err != nil {
		return Workspace{}, fmt.Errorf("commit create workspace: %w", err)
	}

	m.logger.InfoContext(ctx, "workspace created",
		slog.String("namespace", namespace),
		slog.String("owner_id", owner))
	return Workspace{Namespace: namespace, OwnerID: owner, Project: project, CreatedAt: createdAt}, nil
}

// List returns the owner's workspaces with table and row counts attached.
// Metadata failures degrade to zero counts.
func (m *Manager) List(ctx context.Context, owner string) ([]Workspace, error) {
	rows, err := m.db.QueryContext(ctx, `
SELECT owner_id, project, namespace, created_at
FROM workspace
WHERE owner_id = $1
ORDER BY namespace`, owner)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var workspaces []Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.OwnerID, &ws.Project, &ws.Namespace, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}

	for i := range workspaces {
		tableCount, totalRows, err := m.metadata(ctx, workspaces[i].Namespace)
		if err != nil {
			m.logger.WarnContext(ctx, "workspace metadata unavailable",
				slog.String("namespace", workspaces[i].Namespace),
				slog.String("error", err.Error()))
			continue
		}
		workspaces[i].TableCount = tableCount
		workspaces[i].TotalRows = totalRows
	}
	return workspaces, nil
}

// Resolve maps an owner/project pair to its registered namespace.
func (m *Manager) Resolve(ctx context.Context, owner, project string) (string, error) {
	namespace, err := NamespaceFor(owner, project)
	if err != nil {
		return "", err
	}
	var found string
	err = m.db.QueryRowContext(ctx, `
SELECT namespace FROM workspace WHERE namespace = $1`, namespace).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, namespace)
	}
	if err != nil {
		return "", fmt.Errorf("resolve workspace %s: %w", namespace, err)
	}
	return found, nil
}

// Delete drops the schema and its registry row. Only managed namespaces can
// be dropped; system schemas are refused outright.
func (m *Manager) Delete(ctx context.Context, owner, project string) error {
	namespace, err := NamespaceFor(owner, project)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(namespace, NamespacePrefix) {
		return fmt.Errorf("%w: only %s schemas can be deleted", ErrInvalidName, NamespacePrefix)
	}
	if _, protected := protectedSchemas[namespace]; protected {
		return fmt.Errorf("%w: schema %s is protected", ErrInvalidName, namespace)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete workspace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
DELETE FROM workspace WHERE owner_id = $1 AND namespace = $2`, owner, namespace)
	if err != nil {
		return fmt.Errorf("unregister workspace %s: %w", namespace, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unregister workspace %s: %w", namespace, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, namespace)
	}

	// The conversation log lives in the control schema, so the schema drop
	// below cannot reach it. A recreated workspace must start with no history.
	if _, err := tx.ExecContext(ctx, `
DELETE FROM conversation_turn WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("clear conversation log %s: %w", namespace, err)
	}

	if _, err := tx.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+quoteIdent(namespace)+" CASCADE"); err != nil {
		return fmt.Errorf("drop schema %s: %w", namespace, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete workspace: %w", err)
	}

	m.logger.InfoContext(ctx, "workspace deleted",
		slog.String("namespace", namespace),
		slog.String("owner_id", owner))
	return nil
}

func (m *Manager) metadata(ctx context.Context, namespace string) (int, int64, error) {
	var tableCount int
	err := m.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1`, namespace).Scan(&tableCount)
	if err != nil {
		return 0, 0, fmt.Errorf("count tables: %w", err)
	}

	var totalRows int64
	err = m.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(n_live_tup), 0) FROM pg_stat_user_tables WHERE schemaname = $1`, namespace).Scan(&totalRows)
	if err != nil {
		return 0, 0, fmt.Errorf("sum rows: %w", err)
	}
	return tableCount, totalRows, nil
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
