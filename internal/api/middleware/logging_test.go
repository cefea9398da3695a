package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestScrubQuery(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"limit=10", "limit=10"},
		{"limit=10&api_key=abc", "limit=10&api_key=REDACTED"},
		{"Token=xyz&flag", "Token=REDACTED&flag"},
	}
	for _, tt := range tests {
		if got := scrubQuery(tt.raw); got != tt.want {
			t.Errorf("scrubQuery(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestLogging_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan/start?password=hunter2", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, "status=409") {
		t.Errorf("log missing status: %s", out)
	}
	if strings.Contains(out, "hunter2") {
		t.Errorf("log leaked secret: %s", out)
	}
}
