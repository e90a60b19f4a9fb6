package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a migrated store in a temporary directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func strPtr(s string) *string { return &s }

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check must fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// A second migration is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestRunCRUD tests creating and reading runs
func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:       "run-1",
		Template: "/p/report.tt",
		Output:   "/p/report.txt",
		State:    RunStateFailed,
		ExitCode: 1,
		Warnings: 2,
		Errors:   1,
		Duration: 1500 * time.Millisecond,
		Message:  strPtr("Compile error in /p/report.tt(5,10): undefined: x"),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if run.CreatedAt.IsZero() {
		t.Error("CreatedAt was not defaulted")
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Template != run.Template || got.Output != run.Output || got.State != run.State {
		t.Errorf("run mismatch: got %+v, want %+v", got, run)
	}
	if got.ExitCode != 1 || got.Warnings != 2 || got.Errors != 1 {
		t.Errorf("counters mismatch: %+v", got)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %s, want 1.5s", got.Duration)
	}
	if got.Message == nil || *got.Message != *run.Message {
		t.Errorf("Message = %v, want %q", got.Message, *run.Message)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("CreatedAt = %s, want %s", got.CreatedAt, run.CreatedAt)
	}

	if err := store.CreateRun(ctx, run); err == nil {
		t.Error("expected error for duplicate ID")
	}

	_, err = store.GetRun(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestListRuns tests ordering, pagination and filtering
func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	runs := []*Run{
		{ID: "a", Template: "/p/one.tt", State: RunStateSucceeded, CreatedAt: base},
		{ID: "b", Template: "/p/two.tt", State: RunStateTimedOut, ExitCode: -1, CreatedAt: base.Add(time.Minute)},
		{ID: "c", Template: "/p/one.tt", State: RunStateCrashed, ExitCode: 2, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, run := range runs {
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run %s: %v", run.ID, err)
		}
	}

	all, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if ids := runIDs(all); ids != "c,b,a" {
		t.Errorf("ListRuns order = %s, want c,b,a", ids)
	}

	page, err := store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if ids := runIDs(page); ids != "b" {
		t.Errorf("second page = %s, want b", ids)
	}

	one, err := store.ListRunsByTemplate(ctx, "/p/one.tt", 10)
	if err != nil {
		t.Fatalf("failed to list runs by template: %v", err)
	}
	if ids := runIDs(one); ids != "c,a" {
		t.Errorf("ListRunsByTemplate = %s, want c,a", ids)
	}

	empty, err := store.ListRunsByTemplate(ctx, "/p/none.tt", 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected no runs, got %v (err %v)", empty, err)
	}
}

// TestPruneRuns tests deleting old runs
func TestPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old1", "old2", "new"} {
		run := &Run{ID: id, Template: "/p/t.tt", State: RunStateSucceeded, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	n, err := store.PruneRuns(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("failed to prune runs: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d runs, want 2", n)
	}

	left, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if ids := runIDs(left); ids != "new" {
		t.Errorf("remaining runs = %s, want new", ids)
	}
}

func runIDs(runs []*Run) string {
	var ids string
	for i, r := range runs {
		if i > 0 {
			ids += ","
		}
		ids += r.ID
	}
	return ids
}
