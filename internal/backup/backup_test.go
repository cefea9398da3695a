package backup

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE scan_results (id INTEGER PRIMARY KEY, file_path TEXT)"); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO scan_results (file_path) VALUES ('/media/a.mkv')"); err != nil {
		t.Fatalf("inserting row: %v", err)
	}
	return db
}

// steppedClock returns a clock that advances one second per call.
func steppedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestCreate(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, filepath.Join(t.TempDir(), "backups"), 7, testLogger())

	snap, err := svc.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !ValidName(snap.Name) {
		t.Errorf("name %q does not match the snapshot pattern", snap.Name)
	}
	if snap.Size == 0 || snap.SizeHuman == "" {
		t.Errorf("snapshot = %+v, want a size", snap)
	}

	copyDB, err := sql.Open("sqlite", filepath.Join(svc.Dir(), snap.Name))
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer copyDB.Close()

	var path string
	if err := copyDB.QueryRowContext(context.Background(), "SELECT file_path FROM scan_results WHERE id = 1").Scan(&path); err != nil {
		t.Fatalf("querying snapshot: %v", err)
	}
	if path != "/media/a.mkv" {
		t.Errorf("file_path = %q", path)
	}

	if _, err := os.Stat(filepath.Join(svc.Dir(), snap.Name+".partial")); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestListNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, filepath.Join(t.TempDir(), "backups"), 0, testLogger())
	svc.now = steppedClock()

	var names []string
	for range 3 {
		snap, err := svc.Create(context.Background())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		names = append(names, snap.Name)
	}
	if err := os.WriteFile(filepath.Join(svc.Dir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	snaps, err := svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snaps))
	}
	if snaps[0].Name != names[2] || snaps[2].Name != names[0] {
		t.Errorf("order = %v, want newest first", []string{snaps[0].Name, snaps[1].Name, snaps[2].Name})
	}
	if !snaps[0].CreatedAt.After(snaps[1].CreatedAt) {
		t.Errorf("CreatedAt not parsed from name: %v vs %v", snaps[0].CreatedAt, snaps[1].CreatedAt)
	}
}

func TestListMissingDir(t *testing.T) {
	svc := NewService(nil, filepath.Join(t.TempDir(), "nope"), 3, testLogger())
	snaps, err := svc.List()
	if err != nil || snaps != nil {
		t.Errorf("List = %v, %v; want nil, nil", snaps, err)
	}
}

func TestPrune(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, filepath.Join(t.TempDir(), "backups"), 2, testLogger())
	svc.now = steppedClock()

	var last string
	for range 4 {
		snap, err := svc.Create(context.Background())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		last = snap.Name
	}

	removed, err := svc.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	snaps, _ := svc.List()
	if len(snaps) != 2 || snaps[0].Name != last {
		t.Errorf("remaining = %+v", snaps)
	}
}

func TestCreateAndPrune(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, filepath.Join(t.TempDir(), "backups"), 1, testLogger())
	svc.now = steppedClock()

	for range 3 {
		if _, err := svc.CreateAndPrune(context.Background()); err != nil {
			t.Fatalf("CreateAndPrune: %v", err)
		}
	}
	snaps, _ := svc.List()
	if len(snaps) != 1 {
		t.Errorf("got %d snapshots, want 1", len(snaps))
	}
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, filepath.Join(t.TempDir(), "backups"), 0, testLogger())

	snap, err := svc.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(snap.Name); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete("../wardarr.db"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Delete traversal = %v, want ErrInvalidName", err)
	}
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"wardarr-20260301-120000-042.db", true},
		{"wardarr-20260301-120000.db", false},
		{"wardarr-20260301-120000-042.db.partial", false},
		{"../wardarr-20260301-120000-042.db", false},
		{"other.db", false},
	}
	for _, tt := range tests {
		if got := ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStartSchedulerDisabled(t *testing.T) {
	svc := NewService(nil, t.TempDir(), 1, testLogger())
	done := make(chan struct{})
	go func() {
		svc.StartScheduler(context.Background(), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler with zero interval did not return")
	}
}
