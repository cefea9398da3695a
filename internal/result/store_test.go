package result

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func TestInsertGetUpdate(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	got, err := store.GetByPath(ctx, "/m/a.mp4")
	if err != nil || got != nil {
		t.Fatalf("GetByPath(missing) = %v, %v", got, err)
	}

	rec := &Record{
		LibraryID:        "lib-1",
		FilePath:         "/m/a.mp4",
		FileModifiedTime: 1000,
		LastScannedTime:  2000,
		MatchScore:       0.42,
		IsVerified:       true,
		EpisodeInfo:      strPtr("E1"),
	}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected ID after Insert")
	}

	got, err = store.GetByPath(ctx, "/m/a.mp4")
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if got.MatchScore != 0.42 || !got.IsVerified || *got.EpisodeInfo != "E1" {
		t.Errorf("got %+v", got)
	}
	if got.VerificationImagePath != nil {
		t.Errorf("VerificationImagePath = %q, want nil", *got.VerificationImagePath)
	}

	rec.IsVerified = false
	rec.EpisodeInfo = strPtr(ErrorLabelPrefix + "boom")
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = store.GetByPath(ctx, "/m/a.mp4")
	if got.IsVerified || !got.Failed() {
		t.Errorf("after update got %+v", got)
	}

	if err := store.Update(ctx, &Record{FilePath: "/nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) err = %v, want ErrNotFound", err)
	}
}

func TestUpsert_OneRowPerPath(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	first := &Record{FilePath: "/m/a.mp4", FileModifiedTime: 1, LastScannedTime: 10}
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second := &Record{FilePath: "/m/a.mp4", FileModifiedTime: 2, LastScannedTime: 20, VerificationImagePath: strPtr("/verification/x.jpg")}
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Upsert ID = %d, want existing %d", second.ID, first.ID)
	}

	recs, err := store.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("List returned %d records, want 1", len(recs))
	}
	if recs[0].FileModifiedTime != 2 || *recs[0].VerificationImagePath != "/verification/x.jpg" {
		t.Errorf("record not updated: %+v", recs[0])
	}
}

func TestUpsert_NonFiniteScoreStoredAsNull(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	if err := store.Upsert(ctx, &Record{FilePath: "/m/nan.mp4", MatchScore: math.NaN()}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	var score sql.NullFloat64
	if err := db.QueryRow(`SELECT match_score FROM scan_results WHERE file_path = '/m/nan.mp4'`).Scan(&score); err != nil {
		t.Fatal(err)
	}
	if score.Valid {
		t.Errorf("match_score = %v, want NULL", score.Float64)
	}
	got, _ := store.GetByPath(ctx, "/m/nan.mp4")
	if got.MatchScore != 0 {
		t.Errorf("MatchScore = %v, want 0 for NULL", got.MatchScore)
	}
}

func TestLatestListDelete(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	latest, err := store.Latest(ctx)
	if err != nil || latest != nil {
		t.Fatalf("Latest(empty) = %v, %v", latest, err)
	}

	for i, p := range []string{"/a.mp4", "/b.mp4", "/c.mp4"} {
		rec := &Record{FilePath: p, LastScannedTime: int64(100 - i*10), IsVerified: i == 0}
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	latest, err = store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.FilePath != "/a.mp4" {
		t.Errorf("Latest = %s, want /a.mp4", latest.FilePath)
	}

	recs, err := store.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[1].FilePath != "/b.mp4" {
		t.Errorf("List(2) = %+v", recs)
	}

	counts, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Total != 3 || counts.Verified != 1 {
		t.Errorf("Count = %+v", counts)
	}

	if err := store.Delete(ctx, recs[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, recs[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}

	n, err := store.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteAll removed %d, want 2", n)
	}
}

func TestSanitizeValue(t *testing.T) {
	var nilStr *string
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"true", true, 1},
		{"false", false, 0},
		{"nan", math.NaN(), nil},
		{"inf", math.Inf(1), nil},
		{"neg inf", math.Inf(-1), nil},
		{"finite", 0.5, 0.5},
		{"string", "x", "x"},
		{"int64", int64(7), int64(7)},
		{"nil pointer", nilStr, nil},
		{"pointer", strPtr("E1"), "E1"},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
		{"slice", []int{1, 2}, "[1,2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeValue(tt.in); got != tt.want {
				t.Errorf("SanitizeValue(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}
