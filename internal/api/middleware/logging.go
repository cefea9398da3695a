package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// scrubPatterns are substrings that indicate sensitive values in log output.
var scrubPatterns = []string{"apikey", "api_key", "password", "secret", "token", "authorization"}

// Logging returns middleware that logs each HTTP request with structured
// fields. GET requests that succeed are logged at debug so status polling
// does not flood the log; client errors log at warn and server errors at
// error.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.LogAttrs(r.Context(), requestLevel(r.Method, sw.status), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", scrubQuery(r.URL.RawQuery)),
				slog.Int("status", sw.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		})
	}
}

func requestLevel(method string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case method == http.MethodGet || method == http.MethodHead:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// scrubQuery redacts sensitive query parameter values.
func scrubQuery(raw string) string {
	if raw == "" {
		return ""
	}

	parts := strings.Split(raw, "&")
	for i, part := range parts {
		key, _, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		lower := strings.ToLower(key)
		for _, pattern := range scrubPatterns {
			if strings.Contains(lower, pattern) {
				parts[i] = key + "=REDACTED"
				break
			}
		}
	}
	return strings.Join(parts, "&")
}
