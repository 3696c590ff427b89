package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"payrollx/internal/platform/db"
	"payrollx/internal/storage/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "payrollx.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.MigrateSQLite(ctx, conn, db.SQLiteMigrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.MigrateSQLite(ctx, conn, db.SQLiteMigrations()); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	return New(conn)
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, openTestStore(t))
}

func TestJobRecorder(t *testing.T) {
	store := openTestStore(t)
	rec := JobRecorder{DB: store.DB}
	ctx := context.Background()

	id, err := rec.Begin(ctx, "payroll_run_trigger")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := rec.Finish(ctx, id, "completed", []byte(`{"considered":1}`)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	var status, details string
	if err := store.DB.QueryRowContext(ctx, `SELECT status, details_json FROM job_runs WHERE id = ?`, id).Scan(&status, &details); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "completed" || details != `{"considered":1}` {
		t.Fatalf("unexpected row %s %s", status, details)
	}
}
