package maintenance

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/database"
)

func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db, dbPath
}

func TestStatus(t *testing.T) {
	db, dbPath := setupTestDB(t)
	svc := NewService(db, dbPath, 24, slog.Default())

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}

	if st.SchemaVersion != 1 {
		t.Errorf("SchemaVersion = %d, want 1", st.SchemaVersion)
	}
	if st.DBFileSize <= 0 {
		t.Error("expected positive DB file size")
	}
	if st.DBFileSizeHuman == "" {
		t.Error("expected human-readable DB size")
	}
	if st.PageSize <= 0 || st.PageCount <= 0 {
		t.Errorf("page stats = %d x %d, want positive", st.PageCount, st.PageSize)
	}
	if st.LastOptimizeAt != "" {
		t.Error("expected empty last optimize time initially")
	}
	if !st.ScheduleEnabled || st.ScheduleInterval != 24 {
		t.Errorf("schedule = %v/%d, want enabled/24", st.ScheduleEnabled, st.ScheduleInterval)
	}
}

func TestStatus_ScheduleDisabled(t *testing.T) {
	db, dbPath := setupTestDB(t)
	svc := NewService(db, dbPath, 0, slog.Default())

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.ScheduleEnabled {
		t.Error("expected schedule disabled")
	}

	done := make(chan struct{})
	go func() {
		svc.StartScheduler(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled scheduler should return immediately")
	}
}

func TestOptimize(t *testing.T) {
	db, dbPath := setupTestDB(t)
	svc := NewService(db, dbPath, 24, slog.Default())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	if err := svc.Optimize(context.Background()); err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.LastOptimizeAt != "2026-03-01T12:00:00Z" {
		t.Errorf("LastOptimizeAt = %q", st.LastOptimizeAt)
	}
}

func TestVacuum(t *testing.T) {
	db, dbPath := setupTestDB(t)
	svc := NewService(db, dbPath, 24, slog.Default())

	for i := range 100 {
		if _, err := db.Exec("INSERT INTO settings (key, value) VALUES (?, ?)",
			"vacuum_test_"+string(rune('A'+i%26))+string(rune('0'+i/26)), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Exec("DELETE FROM settings WHERE key LIKE 'vacuum_test_%'"); err != nil {
		t.Fatal(err)
	}

	if err := svc.Vacuum(context.Background()); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
}

func TestScheduler_RunsOptimize(t *testing.T) {
	db, dbPath := setupTestDB(t)
	svc := NewService(db, dbPath, 24, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.runScheduler(ctx, 20*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v, err := svc.setting(context.Background(), lastOptimizeKey)
		if err == nil && v != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	v, _ := svc.setting(context.Background(), lastOptimizeKey)
	if v == "" {
		t.Error("expected scheduler to record an optimize run")
	}
}
