package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDispatcher_GenericWebhook(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&received) //nolint:errcheck
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]Webhook{{Name: "test", URL: srv.URL, Events: []string{"scan.completed"}}}, srv.Client(), testLogger())
	d.HandleEvent(event.Event{
		Type:      event.ScanCompleted,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"processed_files": 3, "total_files": 5, "errors": 0},
	})
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("expected to receive webhook payload")
	}
	if received["event"] != "scan.completed" {
		t.Errorf("event = %v, want scan.completed", received["event"])
	}
	data, _ := received["data"].(map[string]any)
	if data["processed_files"] != float64(3) {
		t.Errorf("data = %v", data)
	}
}

func TestDispatcher_FiltersEvents(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher([]Webhook{
		{Name: "only-failures", URL: srv.URL, Events: []string{"file.failed"}},
		{Name: "everything", URL: srv.URL},
	}, srv.Client(), testLogger())

	d.HandleEvent(event.Event{Type: event.FileVerified})
	d.Wait()
	if got := hits.Load(); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
}

func TestDispatcher_DiscordFormat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
	}))
	defer srv.Close()

	d := NewDispatcher([]Webhook{{Name: "discord", URL: srv.URL, Type: TypeDiscord}}, srv.Client(), testLogger())
	d.HandleEvent(event.Event{
		Type:      event.FileFailed,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"file_path": "/tv/ep1.mkv", "error": "Verification failed: ValueError: x"},
	})
	d.Wait()

	embeds, ok := body["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("body = %v", body)
	}
	embed := embeds[0].(map[string]any)
	desc, _ := embed["description"].(string)
	if !strings.Contains(desc, "ep1.mkv") || !strings.Contains(desc, "ValueError") {
		t.Errorf("description = %q", desc)
	}
	if embed["color"] != float64(colorFailure) {
		t.Errorf("color = %v, want failure color", embed["color"])
	}
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher([]Webhook{{Name: "flaky", URL: srv.URL}}, srv.Client(), testLogger())
	d.backoff = time.Millisecond
	d.HandleEvent(event.Event{Type: event.ScanStarted})
	d.Wait()

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestNewDispatcher_DropsInvalid(t *testing.T) {
	d := NewDispatcher([]Webhook{
		{Name: "no-url"},
		{Name: "bad-type", URL: "http://x", Type: "pager"},
		{Name: "ok", URL: "http://x", Type: TypeSlack},
	}, nil, testLogger())
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1", d.Len())
	}
}
