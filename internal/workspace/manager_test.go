package workspace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Sales Data", want: "sales_data"},
		{in: "alice", want: "alice"},
		{in: "My-Project!2024", want: "myproject2024"},
		{in: "  trimmed  ", want: "trimmed"},
		{in: "", wantErr: true},
		{in: "123start", wantErr: true},
		{in: "!!!", wantErr: true},
	}
	for _, tc := range cases {
		got, err := SanitizeName(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidName) {
				t.Fatalf("%q: expected ErrInvalidName, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestNamespaceFor(t *testing.T) {
	got, err := NamespaceFor("Alice", "Sales Data")
	if err != nil {
		t.Fatalf("NamespaceFor: %v", err)
	}
	if got != "proj_alice_sales_data" {
		t.Fatalf("got %q", got)
	}
}

func TestNamespaceForEnforcesLengthLimit(t *testing.T) {
	long := strings.Repeat("a", 40)
	if _, err := NamespaceFor(long, long); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected length rejection, got %v", err)
	}
}

func TestCreateRegistersAndCreatesSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	created := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO workspace (owner_id, project, namespace)
VALUES ($1, $2, $3)
RETURNING created_at`)).
		WithArgs("alice", "sales", "proj_alice_sales").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "proj_alice_sales"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	manager := NewManager(db, testLogger())
	ws, err := manager.Create(context.Background(), "alice", "sales")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ws.Namespace != "proj_alice_sales" {
		t.Fatalf("unexpected namespace: %q", ws.Namespace)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateRollsBackOnSchemaFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO workspace").
		WithArgs("alice", "sales", "proj_alice_sales").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS").
		WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	manager := NewManager(db, testLogger())
	if _, err := manager.Create(context.Background(), "alice", "sales"); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteDropsSchemaAndRegistryRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM workspace WHERE owner_id = $1 AND namespace = $2`)).
		WithArgs("alice", "proj_alice_sales").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM conversation_turn WHERE namespace = $1`)).
		WithArgs("proj_alice_sales").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta(`DROP SCHEMA IF EXISTS "proj_alice_sales" CASCADE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	manager := NewManager(db, testLogger())
	if err := manager.Delete(context.Background(), "alice", "sales"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// Deleting a workspace must clear its conversation log in the same
// transaction; a recreated workspace with the same name starts with no
// history.
func TestDeleteRollsBackWhenConversationLogSurvives(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM workspace WHERE owner_id = $1 AND namespace = $2`)).
		WithArgs("alice", "proj_alice_sales").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM conversation_turn WHERE namespace = $1`)).
		WithArgs("proj_alice_sales").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	manager := NewManager(db, testLogger())
	if err := manager.Delete(context.Background(), "alice", "sales"); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteUnknownWorkspace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM workspace").
		WithArgs("alice", "proj_alice_ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	manager := NewManager(db, testLogger())
	if err := manager.Delete(context.Background(), "alice", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRefusesInvalidNames(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	manager := NewManager(db, testLogger())
	// A name that sanitizes to nothing can never address a system schema.
	if err := manager.Delete(context.Background(), "alice", "!!"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT namespace FROM workspace").
		WithArgs("proj_alice_sales").
		WillReturnRows(sqlmock.NewRows([]string{"namespace"}).AddRow("proj_alice_sales"))

	manager := NewManager(db, testLogger())
	namespace, err := manager.Resolve(context.Background(), "alice", "sales")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if namespace != "proj_alice_sales" {
		t.Fatalf("got %q", namespace)
	}
}

func TestListAttachesMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT owner_id, project, namespace, created_at").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "project", "namespace", "created_at"}).
			AddRow("alice", "sales", "proj_alice_sales", time.Now()))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("proj_alice_sales").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(n_live_tup), 0)")).
		WithArgs("proj_alice_sales").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(120))

	manager := NewManager(db, testLogger())
	workspaces, err := manager.List(context.Background(), "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(workspaces) != 1 {
		t.Fatalf("expected 1 workspace, got %d", len(workspaces))
	}
	if workspaces[0].TableCount != 3 || workspaces[0].TotalRows != 120 {
		t.Fatalf("unexpected metadata: %+v", workspaces[0])
	}
}
