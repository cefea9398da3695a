package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/backup"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/database"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/library"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/logging"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/maintenance"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/result"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/scanner"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/settings"
)

// stubScanner mimics the orchestrator's single-flight rules.
type stubScanner struct {
	mu    sync.Mutex
	state scanner.State
}

func (s *stubScanner) Start(context.Context) (scanner.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsScanning {
		return s.state, scanner.ErrScanInProgress
	}
	now := time.Now().UTC()
	s.state = scanner.State{ScanID: "scan-1", IsScanning: true, StartTime: &now, Errors: []string{}}
	return s.state, nil
}

func (s *stubScanner) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsScanning {
		return scanner.ErrNoScanRunning
	}
	if s.state.StopRequested {
		return scanner.ErrStopAlreadyRequested
	}
	s.state.StopRequested = true
	return nil
}

func (s *stubScanner) Status(context.Context) scanner.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type testEnv struct {
	db        *sql.DB
	handler   http.Handler
	scanner   *stubScanner
	results   *result.Store
	libraries *library.Service
	logs      *logging.Manager
	artifacts string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "wardarr.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	logs, _ := logging.NewManager(logging.Config{Level: "error", Format: "json"})
	t.Cleanup(func() { logs.Close() })

	env := &testEnv{
		db:        db,
		scanner:   &stubScanner{state: scanner.State{Errors: []string{}}},
		results:   result.NewStore(db),
		libraries: library.NewService(db),
		logs:      logs,
		artifacts: t.TempDir(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := NewRouter(ctx, RouterDeps{
		Scanner:        env.scanner,
		Libraries:      env.libraries,
		Results:        env.results,
		LogManager:     logs,
		LogSettings:    settings.NewStore(db),
		Maintenance:    maintenance.NewService(db, dbPath, 24, testLogger()),
		Backups:        backup.NewService(db, filepath.Join(filepath.Dir(dbPath), "backups"), 2, testLogger()),
		Logger:         testLogger(),
		ArtifactDir:    env.artifacts,
		ArtifactPrefix: "/verification",
		ScanRateEvery:  time.Hour,
		ScanRateBurst:  3,
	})
	env.handler = r.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "203.0.113.9:4000"
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[map[string]string](t, w)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestScanStartAndConflict(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/scan/start", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("first start status = %d, want 202", w.Code)
	}
	first := decode[struct {
		Accepted bool          `json:"accepted"`
		State    scanner.State `json:"state"`
	}](t, w)
	if !first.Accepted || !first.State.IsScanning {
		t.Errorf("first start = %+v", first)
	}

	w = env.do(t, http.MethodPost, "/api/v1/scan/start", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", w.Code)
	}
	second := decode[struct {
		Error string        `json:"error"`
		State scanner.State `json:"state"`
	}](t, w)
	if second.Error == "" || second.State.ScanID != "scan-1" {
		t.Errorf("conflict body = %+v", second)
	}
}

func TestScanStop(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/scan/stop", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("stop while idle = %d, want 400", w.Code)
	}

	env.do(t, http.MethodPost, "/api/v1/scan/start", "")
	w = env.do(t, http.MethodPost, "/api/v1/scan/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stop = %d, want 200", w.Code)
	}
	if body := decode[map[string]bool](t, w); !body["accepted"] {
		t.Errorf("body = %v", body)
	}

	// Scan control is limited to a burst of 3 per client in this setup.
	w = env.do(t, http.MethodPost, "/api/v1/scan/stop", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("fourth control call = %d, want 429", w.Code)
	}
}

func TestScanStopTwiceRejected(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/scan/start", "")
	env.do(t, http.MethodPost, "/api/v1/scan/stop", "")
	w := env.do(t, http.MethodPost, "/api/v1/scan/stop", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("second stop = %d, want 400", w.Code)
	}
}

func TestScanStatus_NoCache(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/scan/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Cache-Control = %q", cc)
	}
	st := decode[scanner.State](t, w)
	if st.IsScanning {
		t.Error("expected idle state")
	}
}

func TestResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	label := "S01E01"
	for i, p := range []string{"/tv/a.mkv", "/tv/b.mkv"} {
		rec := &result.Record{FilePath: p, LastScannedTime: int64(1000 + i), MatchScore: 0.9, IsVerified: true, EpisodeInfo: &label}
		if err := env.results.Upsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/results", "")
	recs := decode[[]result.Record](t, w)
	if len(recs) != 2 || recs[0].FilePath != "/tv/b.mkv" {
		t.Fatalf("results = %+v, want newest first", recs)
	}

	w = env.do(t, http.MethodGet, "/api/v1/results?limit=1", "")
	if recs := decode[[]result.Record](t, w); len(recs) != 1 {
		t.Errorf("limited results = %d, want 1", len(recs))
	}

	if w := env.do(t, http.MethodGet, "/api/v1/results?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/results/summary", "")
	if c := decode[result.Counts](t, w); c.Total != 2 || c.Verified != 2 {
		t.Errorf("summary = %+v", c)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/results/"+strconv.FormatInt(recs[0].ID, 10), "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete one = %d", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/api/v1/results/"+strconv.FormatInt(recs[0].ID, 10), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("delete missing = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/results", "")
	if body := decode[map[string]int64](t, w); body["deleted"] != 1 {
		t.Errorf("delete all = %v", body)
	}

	w = env.do(t, http.MethodGet, "/api/v1/results", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty listing = %q, want []", w.Body.String())
	}
}

func TestLibrariesCRUD(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/libraries", `{"name":"Shows","path":"/media/tv","type":"tv"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body)
	}
	lib := decode[library.Library](t, w)
	if lib.ID == "" || !lib.Enabled || lib.Type != library.TypeTV {
		t.Errorf("created = %+v", lib)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/libraries", `{"path":"/media/tv"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/libraries", `{"path":"/x","type":"music"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid create = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/libraries", `{"bogus":1}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown field create = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPut, "/api/v1/libraries/"+lib.ID, `{"enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d: %s", w.Code, w.Body)
	}
	if got := decode[library.Library](t, w); got.Enabled || got.Path != "/media/tv" {
		t.Errorf("updated = %+v", got)
	}

	w = env.do(t, http.MethodGet, "/api/v1/libraries", "")
	if libs := decode[[]library.Library](t, w); len(libs) != 1 {
		t.Errorf("list = %+v", libs)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/libraries/"+lib.ID, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/libraries/"+lib.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/v1/libraries/missing", `{"name":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

func TestLoggingSettings(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/settings/logging", "")
	if cfg := decode[logging.Config](t, w); cfg.Level != "error" {
		t.Errorf("initial level = %q", cfg.Level)
	}

	w = env.do(t, http.MethodPut, "/api/v1/settings/logging", `{"level":"debug"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d: %s", w.Code, w.Body)
	}
	if env.logs.Config().Level != "debug" {
		t.Errorf("manager level = %q, want debug", env.logs.Config().Level)
	}
	if env.logs.Config().Format != "json" {
		t.Errorf("format changed to %q", env.logs.Config().Format)
	}

	saved, err := settings.NewStore(env.db).LoadLogging(context.Background(), logging.DefaultConfig())
	if err != nil || saved.Level != "debug" {
		t.Errorf("persisted = %+v err %v", saved, err)
	}

	if w := env.do(t, http.MethodPut, "/api/v1/settings/logging", `{"level":"loud"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid level = %d, want 400", w.Code)
	}
}

func TestMaintenance(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/maintenance/optimize", "")
	if w.Code != http.StatusOK {
		t.Fatalf("optimize = %d: %s", w.Code, w.Body)
	}
	w = env.do(t, http.MethodGet, "/api/v1/maintenance/status", "")
	st := decode[maintenance.Status](t, w)
	if st.LastOptimizeAt == "" || st.SchemaVersion != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestBackups(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/maintenance/backups", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty list = %d %s", w.Code, w.Body)
	}

	w = env.do(t, http.MethodPost, "/api/v1/maintenance/backups", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body)
	}
	snap := decode[backup.Snapshot](t, w)
	if !backup.ValidName(snap.Name) || snap.Size == 0 {
		t.Errorf("snapshot = %+v", snap)
	}

	w = env.do(t, http.MethodGet, "/api/v1/maintenance/backups", "")
	if list := decode[[]backup.Snapshot](t, w); len(list) != 1 {
		t.Errorf("list = %+v", list)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/maintenance/backups/"+snap.Name, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/maintenance/backups/"+snap.Name, ""); w.Code != http.StatusNotFound {
		t.Errorf("delete missing = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/maintenance/backups/latest.db", ""); w.Code != http.StatusBadRequest {
		t.Errorf("delete bad name = %d, want 400", w.Code)
	}
}

func TestArtifactFiles(t *testing.T) {
	env := newTestEnv(t)
	data := []byte("\xff\xd8\xff\xe0jpeg")
	if err := os.WriteFile(filepath.Join(env.artifacts, "1_ep.jpg"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/verification/1_ep.jpg", "")
	if w.Code != http.StatusOK {
		t.Fatalf("artifact = %d", w.Code)
	}
	if !bytes.Equal(w.Body.Bytes(), data) {
		t.Error("artifact body mismatch")
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Errorf("Cache-Control = %q", cc)
	}

	if w := env.do(t, http.MethodGet, "/verification/", ""); w.Code != http.StatusNotFound {
		t.Errorf("directory listing = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/verification/missing.jpg", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing artifact = %d, want 404", w.Code)
	}
}

func TestNilServices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewRouter(ctx, RouterDeps{Logger: testLogger()}).Handler()

	for _, path := range []string{"/api/v1/scan/status", "/api/v1/results", "/api/v1/libraries", "/api/v1/maintenance/status", "/api/v1/maintenance/backups"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s = %d, want 503", path, w.Code)
		}
	}
}

func TestBasePath(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewRouter(ctx, RouterDeps{Logger: testLogger(), BasePath: "/wardarr"}).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wardarr/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("prefixed health = %d", w.Code)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unprefixed health = %d, want 404", w.Code)
	}
}
